package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != DefaultAddr {
		t.Fatalf("unexpected address %q", cfg.Address)
	}
	if cfg.TickHz != DefaultTickHz {
		t.Fatalf("unexpected tick rate %v", cfg.TickHz)
	}
	if cfg.ReclaimGrace != DefaultReclaimGrace {
		t.Fatalf("unexpected reclaim grace %v", cfg.ReclaimGrace)
	}
	if cfg.Logging.Level != DefaultLogLevel || cfg.Logging.Path != DefaultLogPath {
		t.Fatalf("unexpected logging defaults %+v", cfg.Logging)
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	t.Setenv("ARENA_ADDR", ":9001")
	t.Setenv("ARENA_TICK_HZ", "30")
	t.Setenv("ARENA_RECLAIM_GRACE", "45s")
	t.Setenv("ARENA_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("ARENA_MAX_CLIENTS", "64")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != ":9001" || cfg.TickHz != 30 || cfg.MaxClients != 64 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.ReclaimGrace != 45*time.Second {
		t.Fatalf("unexpected grace %v", cfg.ReclaimGrace)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadAccumulatesProblems(t *testing.T) {
	t.Setenv("ARENA_TICK_HZ", "nope")
	t.Setenv("ARENA_MAX_CLIENTS", "-4")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	message := err.Error()
	if !strings.Contains(message, "ARENA_TICK_HZ") || !strings.Contains(message, "ARENA_MAX_CLIENTS") {
		t.Fatalf("expected both problems reported, got %q", message)
	}
}

func TestLoadRejectsTokenWithoutURL(t *testing.T) {
	t.Setenv("ARENA_IDENTITY_TOKEN", "secret")

	if _, err := Load(); err == nil {
		t.Fatalf("expected identity token without URL to fail")
	}
}
