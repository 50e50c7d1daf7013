// Package config loads process configuration from the environment.
package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"

	"github.com/relves/tokenclaim/pkg/claims"
)

// Config is the tokenclaim process configuration.
type Config struct {
	DataPath   string `env:"DATA_PATH" envDefault:"./data"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	Port       string `env:"PORT"      envDefault:"8080"`
	PrivateKey string `env:"TOKENCLAIM_PRIVATE_KEY"`
	// ProgramSeed scopes every derived address of this deployment.
	ProgramSeed      string `env:"TOKENCLAIM_PROGRAM_SEED" envDefault:"tokenclaim"`
	BitmapSize       int    `env:"BITMAP_SIZE"             envDefault:"1024"`
	AddressCacheSize int    `env:"ADDRESS_CACHE_SIZE"      envDefault:"4096"`
	// SuspendedOperators lists operator DIDs whose invocations are refused.
	SuspendedOperators []string `env:"TOKENCLAIM_SUSPENDED_OPERATORS" envSeparator:","`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the configuration.
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

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("DATA_PATH is required")
	}
	if c.ProgramSeed == "" {
		return fmt.Errorf("TOKENCLAIM_PROGRAM_SEED is required")
	}
	if c.BitmapSize != claims.SmallBitmapSize && c.BitmapSize != claims.DefaultBitmapSize {
		return fmt.Errorf("BITMAP_SIZE must be %d or %d, got %d",
			claims.SmallBitmapSize, claims.DefaultBitmapSize, c.BitmapSize)
	}
	if c.AddressCacheSize <= 0 {
		return fmt.Errorf("ADDRESS_CACHE_SIZE must be positive, got %d", c.AddressCacheSize)
	}
	return nil
}

// SlogLevel returns the configured log level, falling back to info.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Ephemeral reports whether no private key is configured.
func (c Config) Ephemeral() bool {
	return c.PrivateKey == ""
}

// LoadPrivateKey decodes TOKENCLAIM_PRIVATE_KEY, or generates an ephemeral
// key when it is unset.
func (c Config) LoadPrivateKey() (ed25519.PrivateKey, error) {
	if c.Ephemeral() {
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, err
		}
		return priv, nil
	}

	priv, err := base64.StdEncoding.DecodeString(c.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode TOKENCLAIM_PRIVATE_KEY: %w", err)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("TOKENCLAIM_PRIVATE_KEY must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	return ed25519.PrivateKey(priv), nil
}
