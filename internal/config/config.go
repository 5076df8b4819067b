package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8723"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/smokelock.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	CounterBaseURL   string `env:"COUNTER_BASE_URL" envDefault:"https://letscountapi.com"`
	CounterNamespace string `env:"COUNTER_NAMESPACE" envDefault:"smokelock"`

	// Coordinate used when a lock request carries none. Unset means
	// "no fix": such locks resolve to the default place.
	DefaultLat *float64 `env:"DEFAULT_LAT"`
	DefaultLon *float64 `env:"DEFAULT_LON"`

	SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"60s"`

	// Bcrypt hash of the bearer token required on mutating endpoints.
	// Empty disables auth, for a loopback-only deployment.
	APITokenHash string `env:"API_TOKEN_HASH"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}
