package service

import (
	"time"

	"github.com/okian/engage/internal/adapters/mq/queue"
	"github.com/okian/engage/internal/adapters/pubsub"
	"github.com/okian/engage/internal/adapters/repository"
	"github.com/okian/engage/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the persistence backend. Defaults to a MemoryStore.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithQueue sets the work queue. Defaults to an InMemoryQueue.
func WithQueue(q queue.Queue) Option {
	return func(s *Service) {
		if q != nil {
			s.queue = q
		}
	}
}

// WithBus sets the notification bus. Defaults to a new Bus.
func WithBus(bus *pubsub.Bus) Option {
	return func(s *Service) {
		if bus != nil {
			s.bus = bus
		}
	}
}

// WithWorkerCount sets the number of scoring workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithJobTimeout bounds the time a worker spends on one job.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// WithDedupeSize sets the size of the known event id cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithDefaultMaxScore sets the cap given to leads created on first event.
func WithDefaultMaxScore(maxScore int) Option {
	return func(s *Service) {
		if maxScore > 0 {
			s.defaultMaxScore = maxScore
		}
	}
}

// WithSeedRules sets the points table seeded into the rule store on start.
func WithSeedRules(points map[string]int) Option {
	return func(s *Service) {
		if len(points) > 0 {
			s.seedRules = points
		}
	}
}

// WithRuleRefreshInterval sets how long cached rules are served.
func WithRuleRefreshInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ruleRefresh = d
		}
	}
}

// WithMaxPageLimit bounds the page size of list reads.
func WithMaxPageLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.maxPageLimit = limit
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
