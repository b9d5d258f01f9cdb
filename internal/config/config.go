// Package config reads merlin's process configuration from the environment.
// Command-line flags override every value here.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config is the environment configuration of the merlin CLI.
type Config struct {
	// DB is the results database path.
	DB string `env:"MERLIN_DB" envDefault:"merlin.db"`

	// Workers bounds parallel task execution. 0 uses GOMAXPROCS.
	Workers int `env:"MERLIN_WORKERS" envDefault:"0"`

	// MaxAttempts bounds executions per task. 0 uses the engine default.
	MaxAttempts int `env:"MERLIN_MAX_ATTEMPTS" envDefault:"0"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"MERLIN_LOG_LEVEL" envDefault:"info"`

	// Horizon overrides every plan's horizon when positive.
	Horizon time.Duration `env:"MERLIN_HORIZON"`

	// OTelEnabled exports tracing spans to stderr.
	OTelEnabled bool `env:"MERLIN_OTEL_ENABLED" envDefault:"false"`
}

// Load parses and validates the environment configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the CLI cannot use.
func (c Config) Validate() error {
	if c.DB == "" {
		return fmt.Errorf("MERLIN_DB must not be empty")
	}
	if c.Workers < 0 {
		return fmt.Errorf("MERLIN_WORKERS must not be negative, got %d", c.Workers)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("MERLIN_MAX_ATTEMPTS must not be negative, got %d", c.MaxAttempts)
	}
	if c.Horizon < 0 {
		return fmt.Errorf("MERLIN_HORIZON must not be negative, got %s", c.Horizon)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("MERLIN_LOG_LEVEL: %w", err)
	}
	return level, nil
}
