package config

import (
	"testing"
	"time"
)

func TestLoadRequiresRedis(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without REDIS_URL")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	for _, k := range []string{"HTTP_ADDR", "APP_ENV", "CHAT_HISTORY_LIMIT", "POLL_INTERVAL", "MAX_UPDATE_RETRIES", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":3001" || cfg.ChatHistoryLimit != 50 || cfg.PollInterval != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxUpdateRetries != 5 || cfg.RateLimitBurst != 40 || cfg.Dev() {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("HTTP_ADDR", ":8080")
	t.Setenv("APP_ENV", "DEV")
	t.Setenv("CHAT_HISTORY_LIMIT", "20")
	t.Setenv("POLL_INTERVAL", "1500")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("MAX_UPDATE_RETRIES", "-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || !cfg.Dev() || cfg.ChatHistoryLimit != 20 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.PollInterval != 1500*time.Millisecond {
		t.Fatalf("poll interval = %v", cfg.PollInterval)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("rps = %v", cfg.RateLimitRPS)
	}
	if cfg.MaxUpdateRetries != 5 {
		t.Fatalf("negative retries must keep default, got %d", cfg.MaxUpdateRetries)
	}
}
