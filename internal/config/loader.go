package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix   = "RALLY_"
	envConfig   = "RALLY_CONFIG"
	envDotfile  = "RALLY_ENV_FILE"
	defaultDotf = ".env"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if RALLY_CONFIG is set
//  3. env (prefix RALLY_), after a dotenv file seeds unset variables
func Load(_ context.Context) (*Config, error) {
	base := New()

	if err := loadDotenv(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	k := koanf.New(".")

	if path := os.Getenv(envConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// RALLY_QUEUE_SIZE -> queue_size. Underscores are kept to match the
	// flat koanf tags.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotenv seeds the environment from RALLY_ENV_FILE, or .env when present.
// Variables already set are not overridden.
func loadDotenv() error {
	path := os.Getenv(envDotfile)
	explicit := path != ""
	if !explicit {
		path = defaultDotf
	}
	err := godotenv.Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.Alpha <= 0:
		return invalid("alpha must be positive, got %v", c.Alpha)
	case c.Beta < 0:
		return invalid("beta must not be negative, got %v", c.Beta)
	case c.CacheTTLSeconds <= 0:
		return invalid("cache_ttl_seconds must be positive")
	case c.MaxAttempts < 1:
		return invalid("max_attempts must be at least 1")
	case c.NewMemberWindowHours < 0:
		return invalid("new_member_window_hours must not be negative")
	}

	switch c.Storage {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseDSN == "" {
			return invalid("database_dsn is required for postgres storage")
		}
	default:
		return invalid("unknown storage %q", c.Storage)
	}

	switch c.CacheBackend {
	case BackendMemory, BackendRedis, BackendMemcached:
	default:
		return invalid("unknown cache_backend %q", c.CacheBackend)
	}

	switch c.QueueBackend {
	case BackendMemory, BackendRedis:
	default:
		return invalid("unknown queue_backend %q", c.QueueBackend)
	}
	return nil
}
