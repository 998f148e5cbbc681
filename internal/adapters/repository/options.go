package repository

import (
	"time"

	"github.com/okian/engage/pkg/logger"
)

// Option applies a configuration option to a store.
type Option func(*storeOptions)

type storeOptions struct {
	now             func() time.Time
	newID           func() string
	log             logger.Logger
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
}

func defaultStoreOptions() storeOptions {
	return storeOptions{
		now:             func() time.Time { return time.Now().UTC() },
		newID:           newUUID,
		log:             logger.Get().Named("repository"),
		maxOpenConns:    25,
		maxIdleConns:    25,
		connMaxLifetime: 5 * time.Minute,
	}
}

// WithClock overrides the time source used for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides row id generation.
func WithIDGenerator(gen func() string) Option {
	return func(o *storeOptions) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(o *storeOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// WithPool sets the database/sql pool limits. Ignored by the memory store.
func WithPool(maxOpen, maxIdle int, maxLifetime time.Duration) Option {
	return func(o *storeOptions) {
		if maxOpen > 0 {
			o.maxOpenConns = maxOpen
		}
		if maxIdle > 0 {
			o.maxIdleConns = maxIdle
		}
		if maxLifetime > 0 {
			o.connMaxLifetime = maxLifetime
		}
	}
}
