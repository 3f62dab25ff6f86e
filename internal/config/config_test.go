package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Ledger.CacheTTL != 30*time.Second {
		t.Fatalf("expected cache TTL 30s, got %s", cfg.Ledger.CacheTTL)
	}
	if cfg.Ledger.RetentionYears != 7 {
		t.Fatalf("expected retention 7 years, got %d", cfg.Ledger.RetentionYears)
	}
	if cfg.Idempotency.TTL != 24*time.Hour {
		t.Fatalf("expected idempotency TTL 24h, got %s", cfg.Idempotency.TTL)
	}
	if cfg.Redis.Enabled() {
		t.Fatal("redis should be disabled by default")
	}
	if cfg.Kafka.Enabled() {
		t.Fatal("kafka should be disabled by default")
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	contents := []byte("server:\n  port: \"9090\"\nredis:\n  addr: localhost:6379\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), contents, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port 9090 from file, got %s", cfg.Server.Port)
	}
	if !cfg.Redis.Enabled() {
		t.Fatal("expected redis enabled with addr set")
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Path: "ledger.db"}
	want := "file:ledger.db?_txlock=immediate&_busy_timeout=5000"
	if got := d.DSN(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
