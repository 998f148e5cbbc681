package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/okian/engage/pkg/logger"
)

// Default queue configuration constants.
const (
	defaultMaxAttempts   = 3
	defaultBackoffBase   = 2 * time.Second
	defaultBackoffMax    = 5 * time.Minute
	defaultLeaseTimeout  = 30 * time.Second
	defaultPollInterval  = 500 * time.Millisecond
	defaultKeepCompleted = 100
	defaultKeepFailed    = 50
)

type settings struct {
	maxAttempts   int
	backoffBase   time.Duration
	backoffMax    time.Duration
	leaseTimeout  time.Duration
	pollInterval  time.Duration
	keepCompleted int
	keepFailed    int
	now           func() time.Time
	newID         func() string
	log           logger.Logger
}

func newSettings(opts []Option) settings {
	s := settings{
		maxAttempts:   defaultMaxAttempts,
		backoffBase:   defaultBackoffBase,
		backoffMax:    defaultBackoffMax,
		leaseTimeout:  defaultLeaseTimeout,
		pollInterval:  defaultPollInterval,
		keepCompleted: defaultKeepCompleted,
		keepFailed:    defaultKeepFailed,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
		log:           logger.Get().Named("queue"),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option applies a configuration option to a queue.
type Option func(*settings)

// WithMaxAttempts sets how many deliveries a job gets before it is failed.
func WithMaxAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackoff sets the first retry delay and the ceiling of the doubling.
func WithBackoff(base, ceiling time.Duration) Option {
	return func(s *settings) {
		if base > 0 {
			s.backoffBase = base
		}
		if ceiling >= base && ceiling > 0 {
			s.backoffMax = ceiling
		}
	}
}

// WithLeaseTimeout sets how long a reserved job may stay unacknowledged
// before it is redelivered.
func WithLeaseTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.leaseTimeout = d
		}
	}
}

// WithPollInterval bounds how long Reserve sleeps between checks.
func WithPollInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithRetention sets how many completed and failed jobs are kept.
func WithRetention(completed, failed int) Option {
	return func(s *settings) {
		if completed >= 0 {
			s.keepCompleted = completed
		}
		if failed >= 0 {
			s.keepFailed = failed
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the queue logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}
