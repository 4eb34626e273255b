package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type AppConfig struct {
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	RedisURL       string `env:"REDIS_URL"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"chess"`
	DatabaseURL    string `env:"DATABASE_URL"`
	MigrateOnStart bool   `env:"DATABASE_MIGRATE" envDefault:"true"`

	StockfishPath  string        `env:"STOCKFISH_PATH"`
	EngineThreads  int           `env:"ENGINE_THREADS" envDefault:"1"`
	EnginePoolSize int           `env:"ENGINE_POOL_SIZE" envDefault:"2"`
	EngineMoveTime time.Duration `env:"ENGINE_MOVE_TIME" envDefault:"1s"`

	TimeControlDir string `env:"TIME_CONTROL_DIR"`

	TickInterval     time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`
	PairingInterval  time.Duration `env:"PAIRING_INTERVAL" envDefault:"2s"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"60s"`
	SessionRetention time.Duration `env:"SESSION_RETENTION" envDefault:"30m"`

	BroadcastBuffer int           `env:"BROADCAST_BUFFER" envDefault:"1024"`
	WebhookURL      string        `env:"WEBHOOK_URL"`
	WebhookToken    string        `env:"WEBHOOK_TOKEN"`
	WebhookTimeout  time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"3s"`

	InvitationTTL time.Duration `env:"INVITATION_TTL" envDefault:"10m"`
}

// Load reads the environment and validates the result.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.StockfishPath = strings.TrimSpace(cfg.StockfishPath)
	cfg.WebhookURL = strings.TrimRight(strings.TrimSpace(cfg.WebhookURL), "/")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.MetricsAddr) == "" {
		return errors.New("METRICS_ADDR is required")
	}
	if c.TickInterval <= 0 || c.PairingInterval <= 0 || c.SweepInterval <= 0 {
		return errors.New("TICK_INTERVAL, PAIRING_INTERVAL and SWEEP_INTERVAL must be positive")
	}
	if c.SessionRetention <= 0 {
		return errors.New("SESSION_RETENTION must be positive")
	}
	if c.BroadcastBuffer <= 0 {
		return errors.New("BROADCAST_BUFFER must be positive")
	}
	if c.EngineThreads <= 0 || c.EnginePoolSize <= 0 {
		return errors.New("ENGINE_THREADS and ENGINE_POOL_SIZE must be positive")
	}
	if c.EngineMoveTime <= 0 {
		return errors.New("ENGINE_MOVE_TIME must be positive")
	}
	if c.InvitationTTL <= 0 {
		return errors.New("INVITATION_TTL must be positive")
	}
	if c.WebhookURL != "" {
		u, err := url.Parse(c.WebhookURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("WEBHOOK_URL is not an absolute URL: %q", c.WebhookURL)
		}
	}
	return nil
}
