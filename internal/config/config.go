package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// Gate modes: local keeps the quota in-process, redis shares it across relay
// instances.
const (
	GateModeLocal = "local"
	GateModeRedis = "redis"
)

type Config struct {
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL       string `env:"RABBITMQ_URL,required=true"`
	RedisURL          string `env:"REDIS_URL"`
	RegistryBaseURL   string `env:"REGISTRY_BASE_URL"`
	RequestLimit      int    `env:"REQUEST_LIMIT,default=15"`
	RateWindow        string `env:"RATE_WINDOW,default=1m"`
	GateMode          string `env:"GATE_MODE,default=local"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=8"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Window parses the configured rate window.
func (c *Config) Window() (time.Duration, error) {
	window, err := time.ParseDuration(strings.TrimSpace(c.RateWindow))
	if err != nil {
		return 0, fmt.Errorf("invalid RATE_WINDOW %q: %w", c.RateWindow, err)
	}
	if window <= 0 {
		return 0, fmt.Errorf("RATE_WINDOW must be positive (got %s)", window)
	}
	return window, nil
}

func (c *Config) validate() error {
	if c.RequestLimit <= 0 {
		return fmt.Errorf("REQUEST_LIMIT must be positive (got %d)", c.RequestLimit)
	}
	if _, err := c.Window(); err != nil {
		return err
	}

	c.GateMode = strings.ToLower(strings.TrimSpace(c.GateMode))
	switch c.GateMode {
	case GateModeLocal:
	case GateModeRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required when GATE_MODE=redis")
		}
	default:
		return fmt.Errorf("invalid GATE_MODE %q, expected %q or %q", c.GateMode, GateModeLocal, GateModeRedis)
	}

	return nil
}
