// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Defaults live in New; Load layers a YAML file and env vars on top.
// - Durations are expressed in milliseconds and exposed via accessor methods.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/engage/internal/domain/model"
)

// Supported store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the backing store for events, leads and jobs.
	StoreDriver string `koanf:"store_driver"`
	// DatabaseURL is the Postgres DSN used when StoreDriver is postgres.
	DatabaseURL         string `koanf:"database_url"`
	DBMaxOpenConns      int    `koanf:"db_max_open_conns"`
	DBMaxIdleConns      int    `koanf:"db_max_idle_conns"`
	DBConnMaxLifetimeMS int    `koanf:"db_conn_max_lifetime_ms"`

	// WorkerCount sets the number of scoring workers.
	WorkerCount int `koanf:"worker_count"`

	// Queue retry policy.
	QueueMaxAttempts    int `koanf:"queue_max_attempts"`
	RetryBackoffMS      int `koanf:"retry_backoff_ms"`
	RetryBackoffMaxMS   int `koanf:"retry_backoff_max_ms"`
	LeaseTimeoutMS      int `koanf:"lease_timeout_ms"`
	QueuePollIntervalMS int `koanf:"queue_poll_interval_ms"`

	// JobTimeoutMS bounds one scoring attempt. It must stay below the lease
	// so a running job is not redelivered.
	JobTimeoutMS int `koanf:"job_timeout_ms"`

	// Retention of finished jobs.
	KeepCompleted int `koanf:"keep_completed"`
	KeepFailed    int `koanf:"keep_failed"`

	// DedupeSize bounds the cache of known event ids in front of the event store.
	DedupeSize int `koanf:"dedupe_size"`

	// DefaultMaxScore is the ceiling given to implicitly created leads.
	DefaultMaxScore int `koanf:"default_max_score"`

	// RuleRefreshIntervalMS controls how often the rule cache reloads from the store.
	RuleRefreshIntervalMS int `koanf:"rule_refresh_interval_ms"`

	// ScoringRules are the points seeded per event type on first start.
	ScoringRules map[string]int `koanf:"scoring_rules"`

	// MaxBatchSize caps POST /events/batch.
	MaxBatchSize int `koanf:"max_batch_size"`
	// MaxPageLimit caps page sizes of list endpoints.
	MaxPageLimit int `koanf:"max_page_limit"`

	// NotifyBuffer is the per-subscriber buffer of the notification bus.
	NotifyBuffer int `koanf:"notify_buffer"`
	// WSEnabled mounts the WebSocket listener endpoint.
	WSEnabled bool `koanf:"ws_enabled"`
}

// New creates a Config populated with defaults. Context is accepted first to
// satisfy the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		StoreDriver:           DriverMemory,
		DBMaxOpenConns:        25,
		DBMaxIdleConns:        25,
		DBConnMaxLifetimeMS:   5 * 60 * 1000,
		WorkerCount:           5,
		QueueMaxAttempts:      3,
		RetryBackoffMS:        2000,
		RetryBackoffMaxMS:     5 * 60 * 1000,
		LeaseTimeoutMS:        30_000,
		JobTimeoutMS:          20_000,
		QueuePollIntervalMS:   500,
		KeepCompleted:         100,
		KeepFailed:            50,
		DedupeSize:            100_000,
		DefaultMaxScore:       1000,
		RuleRefreshIntervalMS: 30_000,
		ScoringRules:          model.DefaultPoints(),
		MaxBatchSize:          1000,
		MaxPageLimit:          100,
		NotifyBuffer:          256,
		WSEnabled:             true,
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StoreDriver != DriverMemory && c.StoreDriver != DriverPostgres:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	case c.StoreDriver == DriverPostgres && strings.TrimSpace(c.DatabaseURL) == "":
		return fmt.Errorf("%w: database_url is required for the postgres driver", ErrInvalidConfig)
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.QueueMaxAttempts < 1:
		return fmt.Errorf("%w: queue_max_attempts must be positive", ErrInvalidConfig)
	case c.RetryBackoffMS < 1 || c.RetryBackoffMaxMS < c.RetryBackoffMS:
		return fmt.Errorf("%w: retry backoff must satisfy 0 < retry_backoff_ms <= retry_backoff_max_ms", ErrInvalidConfig)
	case c.LeaseTimeoutMS < 1:
		return fmt.Errorf("%w: lease_timeout_ms must be positive", ErrInvalidConfig)
	case c.JobTimeoutMS < 1 || c.JobTimeoutMS >= c.LeaseTimeoutMS:
		return fmt.Errorf("%w: job_timeout_ms must satisfy 0 < job_timeout_ms < lease_timeout_ms", ErrInvalidConfig)
	case c.DefaultMaxScore < 1:
		return fmt.Errorf("%w: default_max_score must be positive", ErrInvalidConfig)
	case c.MaxBatchSize < 1 || c.MaxPageLimit < 1:
		return fmt.Errorf("%w: max_batch_size and max_page_limit must be positive", ErrInvalidConfig)
	}
	for eventType, points := range c.ScoringRules {
		if points < 0 {
			return fmt.Errorf("%w: scoring_rules.%s must not be negative", ErrInvalidConfig, eventType)
		}
	}
	return nil
}

// RetryBackoff is the base delay between job attempts.
func (c *Config) RetryBackoff() time.Duration { return ms(c.RetryBackoffMS) }

// RetryBackoffMax caps the exponential backoff.
func (c *Config) RetryBackoffMax() time.Duration { return ms(c.RetryBackoffMaxMS) }

// LeaseTimeout is the visibility timeout of a reserved job.
func (c *Config) LeaseTimeout() time.Duration { return ms(c.LeaseTimeoutMS) }

// JobTimeout bounds a single scoring attempt.
func (c *Config) JobTimeout() time.Duration { return ms(c.JobTimeoutMS) }

// QueuePollInterval is how often the postgres queue polls for due jobs.
func (c *Config) QueuePollInterval() time.Duration { return ms(c.QueuePollIntervalMS) }

// RuleRefreshInterval is how often the rule cache reloads.
func (c *Config) RuleRefreshInterval() time.Duration { return ms(c.RuleRefreshIntervalMS) }

// DBConnMaxLifetime bounds the lifetime of pooled connections.
func (c *Config) DBConnMaxLifetime() time.Duration { return ms(c.DBConnMaxLifetimeMS) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
