// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Durations are configured as integer seconds or hours and exposed as
//   time.Duration through accessor methods.
// - New returns defaults; Load layers a YAML file and environment on top.
package config

import (
	"runtime"
	"time"
)

// Backend names accepted by the storage, cache and queue settings.
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
	BackendMemcached = "memcached"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Storage selects the durable store: memory or postgres.
	Storage     string `koanf:"storage"`
	DatabaseDSN string `koanf:"database_dsn"`

	// CacheBackend selects the score cache: memory, redis or memcached.
	CacheBackend  string `koanf:"cache_backend"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	MemcachedAddr string `koanf:"memcached_addr"`

	// QueueBackend selects where tasks and their status live: memory or redis.
	QueueBackend string `koanf:"queue_backend"`
	// QueueSize bounds the pending task queue.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of task workers.
	WorkerCount int `koanf:"worker_count"`

	// Alpha damps the check-in weight by time spread. Must be positive.
	Alpha float64 `koanf:"alpha"`
	// Beta is the bonus per new member.
	Beta float64 `koanf:"beta"`
	// NewMemberWindowHours is the lookback before a team's first check-in
	// within which a member's account counts as new.
	NewMemberWindowHours int `koanf:"new_member_window_hours"`

	CacheTTLSeconds          int `koanf:"cache_ttl_seconds"`
	MaxAttempts              int `koanf:"max_attempts"`
	RetryDelaySeconds        int `koanf:"retry_delay_seconds"`
	WriteRetryDelaySeconds   int `koanf:"write_retry_delay_seconds"`
	MaxRetryDelaySeconds     int `koanf:"max_retry_delay_seconds"`
	TaskTimeoutSeconds       int `koanf:"task_timeout_seconds"`
	TaskResultTTLSeconds     int `koanf:"task_result_ttl_seconds"`
	DedupeWindowSeconds      int `koanf:"dedupe_window_seconds"`
	ShutdownTimeoutSeconds   int `koanf:"shutdown_timeout_seconds"`
	SystemMetricsIntervalSec int `koanf:"system_metrics_interval_seconds"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                 "info",
		LogFormat:                "text",
		Addr:                     ":9080",
		Storage:                  BackendMemory,
		CacheBackend:             BackendMemory,
		RedisAddr:                "localhost:6379",
		MemcachedAddr:            "localhost:11211",
		QueueBackend:             BackendMemory,
		QueueSize:                10_000,
		WorkerCount:              runtime.NumCPU() * 2,
		Alpha:                    0.02,
		Beta:                     20,
		NewMemberWindowHours:     7 * 24,
		CacheTTLSeconds:          3600,
		MaxAttempts:              3,
		RetryDelaySeconds:        10,
		WriteRetryDelaySeconds:   60,
		MaxRetryDelaySeconds:     600,
		TaskTimeoutSeconds:       30,
		TaskResultTTLSeconds:     24 * 3600,
		DedupeWindowSeconds:      24 * 3600,
		ShutdownTimeoutSeconds:   10,
		SystemMetricsIntervalSec: 10,
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (c *Config) CacheTTL() time.Duration        { return seconds(c.CacheTTLSeconds) }
func (c *Config) RetryDelay() time.Duration      { return seconds(c.RetryDelaySeconds) }
func (c *Config) WriteRetryDelay() time.Duration { return seconds(c.WriteRetryDelaySeconds) }
func (c *Config) MaxRetryDelay() time.Duration   { return seconds(c.MaxRetryDelaySeconds) }
func (c *Config) TaskTimeout() time.Duration     { return seconds(c.TaskTimeoutSeconds) }
func (c *Config) TaskResultTTL() time.Duration   { return seconds(c.TaskResultTTLSeconds) }
func (c *Config) DedupeWindow() time.Duration    { return seconds(c.DedupeWindowSeconds) }
func (c *Config) ShutdownTimeout() time.Duration { return seconds(c.ShutdownTimeoutSeconds) }

func (c *Config) SystemMetricsInterval() time.Duration {
	return seconds(c.SystemMetricsIntervalSec)
}

func (c *Config) NewMemberWindow() time.Duration {
	return time.Duration(c.NewMemberWindowHours) * time.Hour
}
