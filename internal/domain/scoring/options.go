package scoring

import (
	"time"

	"github.com/okian/engage/pkg/logger"
)

// Option applies a configuration option to the RuleTable.
type Option func(*RuleTable)

// WithRefreshInterval sets how long a loaded rule set is served before the
// table reloads it from its source.
func WithRefreshInterval(d time.Duration) Option {
	return func(t *RuleTable) {
		if d > 0 {
			t.refreshInterval = d
		}
	}
}

// WithLogger sets the logger used for refresh failures.
func WithLogger(l logger.Logger) Option {
	return func(t *RuleTable) {
		if l != nil {
			t.log = l
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *RuleTable) {
		if now != nil {
			t.now = now
		}
	}
}
