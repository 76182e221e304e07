// Copyright 2025 James Ross
package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("SCHEDULER_GRACE_WINDOW")
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scheduler.GraceWindow != 30*time.Second {
		t.Fatalf("expected default grace window 30s, got %v", cfg.Scheduler.GraceWindow)
	}
	if cfg.Postgres.DSN == "" {
		t.Fatalf("expected default postgres dsn")
	}
	if cfg.Redis.Addr == "" {
		t.Fatalf("expected default redis addr")
	}
}

func TestValidateFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.Postgres.DSN = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for empty postgres.dsn")
	}
	cfg = defaultConfig()
	cfg.Scheduler.GraceWindow = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for grace_window <= 0")
	}
	cfg = defaultConfig()
	cfg.Queue.HeartbeatTimeout = 3 * time.Second
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for heartbeat_timeout < 5s")
	}
	cfg = defaultConfig()
	cfg.Observability.MetricsPort = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for invalid metrics_port")
	}
}
