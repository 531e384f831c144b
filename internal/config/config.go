package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Reclaim       ReclaimConfig       `toml:"reclaim"`
	Notifications NotificationsConfig `toml:"notifications"`
	Mirror        MirrorConfig        `toml:"mirror"`
	Web           WebConfig           `toml:"web"`
	Workers       WorkersConfig       `toml:"workers"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath        string `toml:"database_path"`
	WebhookBaseURL      string `toml:"webhook_base_url"`
	SystemPromptVersion string `toml:"system_prompt_version"`
}

// ReclaimConfig controls the zombie reclaimer
type ReclaimConfig struct {
	// Cron is a standard 5-field cron expression for reclaimer runs
	Cron string `toml:"cron"`
	// ThresholdMinutes is how long an active task may go without an
	// update before it is presumed abandoned
	ThresholdMinutes int `toml:"threshold_minutes"`
}

// Threshold returns the staleness window as a duration
func (r ReclaimConfig) Threshold() time.Duration {
	return time.Duration(r.ThresholdMinutes) * time.Minute
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	SlackWebhook string `toml:"slack_webhook"`
}

// MirrorConfig points at the upstream action-tracking service
type MirrorConfig struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
}

// WebConfig holds HTTP API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// WorkersConfig holds the worker pool definition. Pool uses the same
// location:url:priority format as the DISPATCH_WORKER_POOL environment
// variable; Strict makes malformed entries fail startup instead of being
// skipped.
type WorkersConfig struct {
	Pool   string `toml:"pool"`
	Strict bool   `toml:"strict"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath:        filepath.Join(home, ".code-dispatch", "dispatch.db"),
			SystemPromptVersion: "v1",
		},
		Reclaim: ReclaimConfig{
			Cron:             "*/5 * * * *",
			ThresholdMinutes: 30,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults.
// Environment variables override file values for the worker pool and the
// database path so deployments can stay file-free.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if pool := os.Getenv("DISPATCH_WORKER_POOL"); pool != "" {
		cfg.Workers.Pool = pool
	}
	if db := os.Getenv("DISPATCH_DATABASE_PATH"); db != "" {
		cfg.General.DatabasePath = db
	}
	if hook := os.Getenv("DISPATCH_WEBHOOK_BASE_URL"); hook != "" {
		cfg.General.WebhookBaseURL = hook
	}
	if slack := os.Getenv("DISPATCH_SLACK_WEBHOOK"); slack != "" {
		cfg.Notifications.SlackWebhook = slack
	}

	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)

	return cfg, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "code-dispatch", "config.toml")
}
