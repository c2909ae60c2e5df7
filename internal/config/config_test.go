package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected default address: %s", cfg.Server.Address)
	}
	if cfg.Detection.RecentWindow != 5*time.Minute {
		t.Fatalf("unexpected recent window: %v", cfg.Detection.RecentWindow)
	}
	if cfg.Detection.MinErrorCount != 3 {
		t.Fatalf("unexpected min error count: %d", cfg.Detection.MinErrorCount)
	}
	if cfg.Detection.Interval != 0 {
		t.Fatalf("detection interval should default to disabled, got %v", cfg.Detection.Interval)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("server:\n  address: \":9090\"\ndetection:\n  minErrorCount: 5\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("TRIAGE_SERVER_ADDRESS", ":7070")
	t.Setenv("TRIAGE_NOTIFIER_URL", "http://broker.local/incidents")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":7070" {
		t.Fatalf("env override should win, got %s", cfg.Server.Address)
	}
	if cfg.Detection.MinErrorCount != 5 {
		t.Fatalf("file override lost, got %d", cfg.Detection.MinErrorCount)
	}
	if cfg.Notifier.URL != "http://broker.local/incidents" {
		t.Fatalf("notifier URL override lost, got %s", cfg.Notifier.URL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
