package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ----------------------------
	// Email delivery
	// ----------------------------
	Email EmailSettings `envconfig:"EMAIL"`

	// ----------------------------
	// Queue / pacing
	// ----------------------------
	WorkerCount   int           `envconfig:"WORKER_COUNT" default:"2"`
	TaskQueueSize int           `envconfig:"TASK_QUEUE_SIZE" default:"100"`
	SendInterval  time.Duration `envconfig:"SEND_INTERVAL" default:"5m"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1h"`
	RetryAfter    time.Duration `envconfig:"RETRY_AFTER" default:"24h"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort    string `envconfig:"API_PORT" default:"8080"`
	AdminToken string `envconfig:"ADMIN_TOKEN" default:""`
	SiteName   string `envconfig:"SITE_NAME" default:"LeadPulse"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Storage
	// ----------------------------
	StoreDriver    string `envconfig:"STORE_DRIVER" default:"postgres"`
	DatabaseURL    string `envconfig:"DATABASE_URL" default:""`
	SubscribersCSV string `envconfig:"SUBSCRIBERS_CSV" default:""`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case "memory":
	default:
		return errors.New("STORE_DRIVER must be postgres or memory")
	}
	if c.WorkerCount <= 0 {
		return errors.New("WORKER_COUNT must be positive")
	}
	if c.SendInterval < 0 || c.RetryAfter <= 0 {
		return errors.New("SEND_INTERVAL must not be negative and RETRY_AFTER must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}
	return nil
}
