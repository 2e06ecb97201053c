// Package config loads server configuration from defaults, an optional
// YAML file, and environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config holds the runtime configuration for the marketplace server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string   `yaml:"addr" env:"SERVER_ADDR"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	RatePerSecond   int      `yaml:"rate_per_second" env:"SERVER_RATE_PER_SECOND"`
	RateBurst       int      `yaml:"rate_burst" env:"SERVER_RATE_BURST"`
	ShutdownTimeout int      `yaml:"shutdown_timeout_seconds" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// StoreConfig selects and configures the backing store.
type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `yaml:"driver" env:"STORE_DRIVER"`
	DSN    string `yaml:"dsn" env:"STORE_DSN"`
}

// ReconcileConfig tunes the ledger sweeper.
type ReconcileConfig struct {
	Schedule string `yaml:"schedule" env:"RECONCILE_SCHEDULE"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			RatePerSecond:   50,
			RateBurst:       100,
			ShutdownTimeout: 10,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Reconcile: ReconcileConfig{
			Schedule: "@every 1m",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. A missing file is not an error; the
// defaults plus environment overrides apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Fall through to env overrides.
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return Config{}, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultPath is where Load looks when no path is given on the command
// line.
func DefaultPath() string {
	return filepath.Join("config", "server.yaml")
}

func (c Config) validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store driver postgres requires a dsn")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr must not be empty")
	}
	if c.Server.RatePerSecond <= 0 || c.Server.RateBurst <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}
