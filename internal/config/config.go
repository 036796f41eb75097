// Package config provides configuration management for the keygate
// service: typed settings, YAML loading with environment variable
// substitution, validation, and file watching for hot reload.
package config

import (
	"fmt"
	"time"

	"github.com/orblabs/keygate/internal/audit"
)

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Audit     audit.Config    `yaml:"audit"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`

	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`

	// ShutdownTimeout bounds the graceful drain on termination.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// ClientRPS and ClientBurst bound per-client-IP request rates at
	// the transport, before any key is even looked up.
	ClientRPS   float64 `yaml:"clientRps"`
	ClientBurst int     `yaml:"clientBurst"`
}

// RedisConfig holds the shared Redis backend settings. When disabled,
// all stores run in memory (single-process deployments and tests).
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// RateLimitConfig holds the default per-key limits and the counter
// store circuit breaker settings. Per-application overrides live in
// the settings store, not here.
type RateLimitConfig struct {
	PerMinute int `yaml:"perMinute"`
	PerDay    int `yaml:"perDay"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker settings for the counter store.
type BreakerConfig struct {
	Threshold int           `yaml:"threshold"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			ClientRPS:       100,
			ClientBurst:     200,
		},
		Redis: RedisConfig{
			Enabled:   false,
			Addr:      "localhost:6379",
			KeyPrefix: "keygate:",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Audit: *audit.DefaultConfig(),
		RateLimit: RateLimitConfig{
			PerMinute: 60,
			PerDay:    10000,
			Breaker: BreakerConfig{
				Threshold: 5,
				Timeout:   30 * time.Second,
			},
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdownTimeout must not be negative")
	}
	if c.Server.ClientRPS < 0 {
		return fmt.Errorf("server.clientRps must not be negative")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must not be empty when redis is enabled")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	if err := c.Audit.Validate(); err != nil {
		return err
	}

	if c.RateLimit.PerMinute < 0 || c.RateLimit.PerDay < 0 {
		return fmt.Errorf("rateLimit limits must not be negative")
	}

	return nil
}

// ValidateConfig validates the config, tolerating nil.
func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	return c.Validate()
}
