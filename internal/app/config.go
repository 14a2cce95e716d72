package app

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BaseURL               string `yaml:"base_url"`
	Theme                 string `yaml:"theme"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	LogFile               string `yaml:"log_file"`
	Debug                 bool   `yaml:"debug"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:               "http://localhost:8080/api",
		Theme:                 "dark",
		RequestTimeoutSeconds: 60,
		LogFile:               filepath.Join(defaultStateDir(), "autoflow.log"),
	}
}

func DefaultConfigPath() string {
	if base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); base != "" {
		return filepath.Join(base, "autoflow", "config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".config", "autoflow", "config.yaml")
	}
	return filepath.Join(os.TempDir(), "autoflow", "config.yaml")
}

func defaultStateDir() string {
	if base := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); base != "" {
		return filepath.Join(base, "autoflow")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "state", "autoflow")
	}
	return filepath.Join(os.TempDir(), "autoflow")
}

// DefaultStoreDir is where the persistent key-value store lives.
func DefaultStoreDir() string {
	return filepath.Join(defaultStateDir(), "store")
}

// LoadConfig reads path, falling back to defaults when the file is absent.
// Environment variables AUTOFLOW_BASE_URL, AUTOFLOW_THEME and AUTOFLOW_DEBUG
// override whatever the file said.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return cfg, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if v := strings.TrimSpace(os.Getenv("AUTOFLOW_BASE_URL")); v != "" {
		cfg.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("AUTOFLOW_THEME")); v != "" {
		cfg.Theme = v
	}
	if v := strings.TrimSpace(os.Getenv("AUTOFLOW_DEBUG")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080/api"
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = 60
	}
	if cfg.Theme == "" {
		cfg.Theme = "dark"
	}
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		return errors.New("no path provided for config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
