package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("first-run load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" {
		t.Errorf("unexpected default listen: %s", cfg.Listen)
	}
	if cfg.ProductID == "" || cfg.RefreshCron == "" {
		t.Errorf("defaults not filled: %+v", cfg)
	}

	// The default file was written with restrictive permissions.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat created config: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected 0600 permissions, got %o", perm)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Listen = "0.0.0.0:9090"
	cfg.ProductID = "-//Example//Feed//EN"
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "secret"}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Listen != "0.0.0.0:9090" || got.ProductID != "-//Example//Feed//EN" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.BasicAuth == nil || got.BasicAuth.Username != "admin" {
		t.Errorf("basic auth lost in round trip: %+v", got.BasicAuth)
	}
}

func TestNormalizeFillsZeroValues(t *testing.T) {
	var cfg Config
	cfg.Normalize()

	if cfg.Listen == "" || cfg.Timezone == "" || cfg.ProductID == "" ||
		cfg.CalendarName == "" || cfg.DataPath == "" || cfg.RefreshCron == "" {
		t.Errorf("Normalize left zero values: %+v", cfg)
	}
}
