package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	HTTPAddr string
	AppEnv   string

	RedisURL    string
	DatabaseURL string

	ChatHistoryLimit int
	PollInterval     time.Duration
	MaxUpdateRetries int

	RateLimitRPS   float64
	RateLimitBurst int

	MessagesDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:         ":3001",
		AppEnv:           "prod",
		ChatHistoryLimit: 50,
		PollInterval:     2 * time.Second,
		MaxUpdateRetries: 5,
		RateLimitRPS:     20,
		RateLimitBurst:   40,
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("APP_ENV")); v != "" {
		cfg.AppEnv = strings.ToLower(v)
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("CHAT_HISTORY_LIMIT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ChatHistoryLimit = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("POLL_INTERVAL")); v != "" { // duration ("2s") or milliseconds
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.PollInterval = d
		} else if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_UPDATE_RETRIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxUpdateRetries = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateLimitRPS = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitBurst = n
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	return cfg, nil
}

// Dev reports whether permissive development behaviour (open CORS) is enabled.
func (c *AppConfig) Dev() bool { return c != nil && c.AppEnv == "dev" }
