// internal/config/config.go
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the service configuration, loaded from the environment.
// DatabaseURL selects the postgres store when set; the service falls back
// to the in-memory store otherwise. OTELEndpoint enables trace export
// when non-empty.
type Config struct {
	Port            string  `env:"PORT" envDefault:"8084"`
	DatabaseURL     string  `env:"DATABASE_URL"`
	OTELEndpoint    string  `env:"OTEL_ENDPOINT"`
	Workers         int     `env:"CONSUMER_WORKERS" envDefault:"4"`
	EventsPerSecond float64 `env:"CONSUMER_RATE_LIMIT" envDefault:"0"`
	QueueSize       int     `env:"CONSUMER_QUEUE_SIZE" envDefault:"256"`
}

// Load parses the configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
