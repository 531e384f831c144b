package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Reclaim.ThresholdMinutes != 30 {
		t.Errorf("ThresholdMinutes = %d, want 30", cfg.Reclaim.ThresholdMinutes)
	}
	if cfg.Reclaim.Threshold() != 30*time.Minute {
		t.Errorf("Threshold() = %v, want 30m", cfg.Reclaim.Threshold())
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Web.Port)
	}
	if cfg.General.SystemPromptVersion == "" {
		t.Error("SystemPromptVersion should have a default")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", cfg.Web.Port)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[general]
database_path = "/tmp/test-dispatch.db"
webhook_base_url = "https://hooks.example.com"

[reclaim]
cron = "*/2 * * * *"
threshold_minutes = 45

[workers]
pool = "us:https://us.example.com:1"
strict = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.DatabasePath != "/tmp/test-dispatch.db" {
		t.Errorf("DatabasePath = %q", cfg.General.DatabasePath)
	}
	if cfg.Reclaim.ThresholdMinutes != 45 {
		t.Errorf("ThresholdMinutes = %d, want 45", cfg.Reclaim.ThresholdMinutes)
	}
	if !cfg.Workers.Strict {
		t.Error("Strict should be true")
	}
	if cfg.Workers.Pool != "us:https://us.example.com:1" {
		t.Errorf("Pool = %q", cfg.Workers.Pool)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("DISPATCH_WORKER_POOL", "eu:https://eu.example.com:1")
	t.Setenv("DISPATCH_WEBHOOK_BASE_URL", "https://env.example.com")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Workers.Pool != "eu:https://eu.example.com:1" {
		t.Errorf("Pool = %q, want env value", cfg.Workers.Pool)
	}
	if cfg.General.WebhookBaseURL != "https://env.example.com" {
		t.Errorf("WebhookBaseURL = %q, want env value", cfg.General.WebhookBaseURL)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	got := ExpandPath("~/data/dispatch.db")
	want := filepath.Join(home, "data", "dispatch.db")
	if got != want {
		t.Errorf("ExpandPath = %q, want %q", got, want)
	}

	if got := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("absolute path should pass through, got %q", got)
	}
}
