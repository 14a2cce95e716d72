package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"autoflow-cli/internal/app"
	"autoflow-cli/internal/tui"
)

const version = "1.0.0"

var (
	flagBaseURL string
	flagDebug   bool
)

func main() {
	root := &cobra.Command{
		Use:     "autoflow",
		Short:   "AutoFlow - terminal client for the AutoFlow coding agent",
		Long:    "AutoFlow is a terminal client for the AutoFlow autonomous coding agent.\n\nRun without arguments for the interactive TUI; use subcommands for one-shot operations.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, client, cfg, cleanup, err := buildCoordinator()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := coord.Hydrate(cfg.Theme); err != nil {
				return fmt.Errorf("loading local state: %w", err)
			}
			defer coord.Close()

			p := tea.NewProgram(tui.New(coord, client), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}

	root.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "backend base URL (overrides config)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	listCmd := &cobra.Command{
		Use:   "conversations",
		Short: "List your conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, client, cfg, cleanup, err := buildCoordinator()
			if err != nil {
				return err
			}
			defer cleanup()
			if err := coord.Hydrate(cfg.Theme); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			list, err := client.ListConversations(ctx, coord.UserID())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No conversations.")
				return nil
			}
			for _, s := range list {
				name := s.RepoName
				if name == "" {
					name = s.RepoURL
				}
				fmt.Printf("%s  %-9s  %-30s  %d messages  %s\n",
					s.ID, s.Status, name, s.MessageCount, s.LastActivity.Format(time.RFC3339))
			}
			return nil
		},
	}
	root.AddCommand(listCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, _, cleanup, err := buildCoordinator()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := client.DeleteConversation(ctx, args[0]); err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}
			fmt.Println("Deleted.")
			return nil
		},
	}
	root.AddCommand(deleteCmd)

	metricsCmd := &cobra.Command{
		Use:   "metrics [conversation-id]",
		Short: "Print dashboard metrics, or metrics for one conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, _, cleanup, err := buildCoordinator()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if len(args) == 1 {
				cm, fallback := client.ConversationMetrics(ctx, args[0])
				if fallback {
					fmt.Println("(backend unreachable; showing placeholder data)")
				}
				fmt.Printf("Conversation:  %s\n", cm.ConversationID)
				fmt.Printf("Calls:         %d\n", cm.Calls)
				fmt.Printf("Tool calls:    %d\n", cm.ToolCalls)
				fmt.Printf("Retries:       %d\n", cm.Retries)
				fmt.Printf("Duration:      %.1fs\n", cm.DurationSeconds)
				return nil
			}

			d, fallback := client.DashboardMetrics(ctx)
			if fallback {
				fmt.Println("(backend unreachable; showing placeholder data)")
			}
			fmt.Printf("Conversations:  %d (%d active)\n", d.TotalConversations, d.ActiveConversations)
			fmt.Printf("Completed runs: %d\n", d.CompletedRuns)
			fmt.Printf("Failed runs:    %d\n", d.FailedRuns)
			fmt.Printf("Total calls:    %d\n", d.TotalCalls)
			fmt.Printf("Failure rate:   %.1f%%\n", d.FailureRate*100)
			return nil
		},
	}
	root.AddCommand(metricsCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildCoordinator wires config, logging, store, client and coordinator.
// cleanup closes the log file.
func buildCoordinator() (*app.Coordinator, *app.Client, app.Config, func(), error) {
	cfg, err := app.LoadConfig(app.DefaultConfigPath())
	if err != nil {
		return nil, nil, cfg, nil, err
	}
	if flagBaseURL != "" {
		cfg.BaseURL = flagBaseURL
	}
	if flagDebug {
		cfg.Debug = true
	}

	logFile, err := app.OpenLogFile(cfg.LogFile)
	if err != nil {
		return nil, nil, cfg, nil, err
	}
	logger := app.NewLogger(logFile, cfg.Debug)

	store := app.NewStore(afero.NewOsFs(), app.DefaultStoreDir(), logger)
	client := app.NewClient(cfg.BaseURL, time.Duration(cfg.RequestTimeoutSeconds)*time.Second, logger)
	coord := app.NewCoordinator(client, store, logger)

	cleanup := func() { _ = logFile.Close() }
	return coord, client, cfg, cleanup, nil
}
