package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"autoflow-cli/internal/app"
)

// MetricsProvider is the read-only telemetry slice of the backend client.
// Every fetch substitutes placeholder data on failure, so the overlay
// never shows a hard error.
type MetricsProvider interface {
	DashboardMetrics(ctx context.Context) (app.DashboardMetrics, bool)
	FailedCalls(ctx context.Context) ([]app.FailedCall, bool)
	ProblematicCalls(ctx context.Context, retryThreshold int) ([]app.ProblematicCall, bool)
}

type metricsTab int

const (
	tabDashboard metricsTab = iota
	tabFailures
	tabProblematic
)

var metricsTabNames = []string{"Dashboard", "Failures", "Problematic"}

const problematicRetryThreshold = 3

type metricsLoadedMsg struct {
	tab       metricsTab
	dashboard app.DashboardMetrics
	failures  []app.FailedCall
	retries   []app.ProblematicCall
	fallback  bool
}

// metricsModel is the metrics overlay. Each tab fetches independently when
// activated; data is marked when it came from the local fallback.
type metricsModel struct {
	theme    Theme
	provider MetricsProvider

	tab      metricsTab
	loading  bool
	fallback bool

	dashboard app.DashboardMetrics
	failures  []app.FailedCall
	retries   []app.ProblematicCall

	width  int
	height int
}

func newMetricsModel(theme Theme, provider MetricsProvider) metricsModel {
	return metricsModel{theme: theme, provider: provider, width: 60, height: 20}
}

func (m *metricsModel) SetTheme(theme Theme) { m.theme = theme }

func (m *metricsModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// Activate selects a tab and returns the command that loads it.
func (m *metricsModel) Activate(tab metricsTab) tea.Cmd {
	m.tab = tab
	m.loading = true
	provider := m.provider
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		switch tab {
		case tabFailures:
			calls, fb := provider.FailedCalls(ctx)
			return metricsLoadedMsg{tab: tab, failures: calls, fallback: fb}
		case tabProblematic:
			calls, fb := provider.ProblematicCalls(ctx, problematicRetryThreshold)
			return metricsLoadedMsg{tab: tab, retries: calls, fallback: fb}
		default:
			d, fb := provider.DashboardMetrics(ctx)
			return metricsLoadedMsg{tab: tab, dashboard: d, fallback: fb}
		}
	}
}

func (m *metricsModel) NextTab() tea.Cmd {
	return m.Activate((m.tab + 1) % metricsTab(len(metricsTabNames)))
}

func (m *metricsModel) Apply(msg metricsLoadedMsg) {
	if msg.tab != m.tab {
		return
	}
	m.loading = false
	m.fallback = msg.fallback
	switch msg.tab {
	case tabFailures:
		m.failures = msg.failures
	case tabProblematic:
		m.retries = msg.retries
	default:
		m.dashboard = msg.dashboard
	}
}

func (m *metricsModel) View() string {
	var tabs []string
	for i, name := range metricsTabNames {
		if metricsTab(i) == m.tab {
			tabs = append(tabs, m.theme.MetricsSel.Render(name))
		} else {
			tabs = append(tabs, m.theme.MetricsTab.Render(name))
		}
	}
	head := strings.Join(tabs, " ")
	if m.fallback {
		head += "  " + m.theme.Attachment.Render("[offline data]")
	}

	var body string
	switch {
	case m.loading:
		body = m.theme.Hint.Render("Loading…")
	case m.tab == tabFailures:
		body = m.renderFailures()
	case m.tab == tabProblematic:
		body = m.renderProblematic()
	default:
		body = m.renderDashboard()
	}

	hint := m.theme.Hint.Render("tab switch  esc close")
	return m.theme.PaneBox.Width(m.width).Height(m.height).Render(head + "\n\n" + body + "\n\n" + hint)
}

func (m *metricsModel) renderDashboard() string {
	d := m.dashboard
	rows := []string{
		fmt.Sprintf("Conversations   %d (%d active)", d.TotalConversations, d.ActiveConversations),
		fmt.Sprintf("Completed runs  %d", d.CompletedRuns),
		fmt.Sprintf("Failed runs     %d", d.FailedRuns),
		fmt.Sprintf("Total calls     %d", d.TotalCalls),
		fmt.Sprintf("Failure rate    %.1f%%", d.FailureRate*100),
		fmt.Sprintf("Avg duration    %.1fs", d.AvgDurationSeconds),
	}
	return strings.Join(rows, "\n")
}

func (m *metricsModel) renderFailures() string {
	if len(m.failures) == 0 {
		return m.theme.Hint.Render("No failed calls.")
	}
	var b strings.Builder
	for i, f := range m.failures {
		line := fmt.Sprintf("%s %s: %s", f.Timestamp.Format("15:04"), f.Agent, f.Error)
		b.WriteString(truncateRunes(line, max(12, m.width-6)))
		if i != len(m.failures)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m *metricsModel) renderProblematic() string {
	if len(m.retries) == 0 {
		return m.theme.Hint.Render("No problematic calls.")
	}
	var b strings.Builder
	for i, p := range m.retries {
		line := fmt.Sprintf("%s retries=%d %s", p.Agent, p.Retries, p.LastError)
		b.WriteString(truncateRunes(line, max(12, m.width-6)))
		if i != len(m.retries)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
