package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MetricsAddr != ":9090" || cfg.RedisKeyPrefix != "chess" || !cfg.MigrateOnStart {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.TickInterval != time.Second || cfg.PairingInterval != 2*time.Second || cfg.SweepInterval != time.Minute {
		t.Fatalf("scheduler defaults: %v %v %v", cfg.TickInterval, cfg.PairingInterval, cfg.SweepInterval)
	}
	if cfg.EngineMoveTime != time.Second || cfg.InvitationTTL != 10*time.Minute {
		t.Fatalf("engine/invite defaults: %v %v", cfg.EngineMoveTime, cfg.InvitationTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", " redis://localhost:6379/1 ")
	t.Setenv("WEBHOOK_URL", "https://events.example.com/")
	t.Setenv("TICK_INTERVAL", "500ms")
	t.Setenv("DATABASE_MIGRATE", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RedisURL != "redis://localhost:6379/1" {
		t.Fatalf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.WebhookURL != "https://events.example.com" {
		t.Fatalf("WebhookURL = %q", cfg.WebhookURL)
	}
	if cfg.TickInterval != 500*time.Millisecond || cfg.MigrateOnStart {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"non-positive buffer": {"BROADCAST_BUFFER", "0"},
		"relative webhook":    {"WEBHOOK_URL", "events/move"},
		"zero tick":           {"TICK_INTERVAL", "0s"},
		"bad duration":        {"SWEEP_INTERVAL", "soon"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", kv[0], kv[1])
			}
		})
	}
}

func TestParseErrorIsWrapped(t *testing.T) {
	t.Setenv("ENGINE_THREADS", "many")
	_, err := Load()
	if err == nil || !strings.HasPrefix(err.Error(), "parse env:") {
		t.Fatalf("err = %v", err)
	}
}
