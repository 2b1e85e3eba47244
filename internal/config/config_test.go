package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.ServerPort != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.ServerPort)
	}
	if cfg.NATSURL != "nats://localhost:4222" {
		t.Errorf("unexpected NATS url: %s", cfg.NATSURL)
	}
	if cfg.MatchWindow != 5*time.Second {
		t.Errorf("unexpected match window: %s", cfg.MatchWindow)
	}
	if !cfg.RetentionEnabled || cfg.RetentionCron != "0 2 * * *" {
		t.Errorf("unexpected retention defaults: %+v", cfg)
	}
	if cfg.EditRecordMaxAge != 90*24*time.Hour {
		t.Errorf("unexpected edit record max age: %s", cfg.EditRecordMaxAge)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RECONCILE_MATCH_WINDOW", "10s")
	t.Setenv("RETENTION_ENABLED", "false")
	t.Setenv("RATE_LIMIT_REQUESTS", "5")

	cfg := Load()
	if cfg.ServerPort != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.ServerPort)
	}
	if cfg.MatchWindow != 10*time.Second {
		t.Errorf("expected 10s match window, got %s", cfg.MatchWindow)
	}
	if cfg.RetentionEnabled {
		t.Error("expected retention disabled")
	}
	if cfg.RateLimitRequests != 5 {
		t.Errorf("expected 5 requests, got %d", cfg.RateLimitRequests)
	}
}

func TestMalformedEnvValuesFallBack(t *testing.T) {
	t.Setenv("RECONCILE_MATCH_WINDOW", "soon")
	t.Setenv("RATE_LIMIT_REQUESTS", "lots")
	t.Setenv("RETENTION_ENABLED", "maybe")

	cfg := Load()
	if cfg.MatchWindow != 5*time.Second {
		t.Errorf("expected default match window, got %s", cfg.MatchWindow)
	}
	if cfg.RateLimitRequests != 60 {
		t.Errorf("expected default rate limit, got %d", cfg.RateLimitRequests)
	}
	if !cfg.RetentionEnabled {
		t.Error("expected default retention enabled")
	}
}
