// Package scoring resolves event types to points and computes capped scores.
package scoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/engage/internal/domain/model"
	"github.com/okian/engage/pkg/logger"
)

const defaultRefreshInterval = 30 * time.Second

// RuleSource is the persistent home of scoring rules.
type RuleSource interface {
	ListRules(ctx context.Context) ([]model.ScoringRule, error)
	UpsertRule(ctx context.Context, rule model.ScoringRule) (model.ScoringRule, error)
}

// Resolution is the outcome of looking up the rule for an event type.
type Resolution struct {
	EventType model.EventType
	// Points is zero when the rule is missing or disabled.
	Points int
	Reason string
}

// Scorer resolves the points an event type is worth.
type Scorer interface {
	Resolve(ctx context.Context, t model.EventType) (Resolution, error)
}

// RuleTable is a cached view of the rule source. Reads are served from memory
// and reloaded once the cache is older than the refresh interval. Writes go to
// the source first and then replace the cached entry, so an edit is visible to
// the next lookup.
type RuleTable struct {
	source          RuleSource
	refreshInterval time.Duration
	log             logger.Logger
	now             func() time.Time

	mu       sync.RWMutex
	rules    map[model.EventType]model.ScoringRule
	loadedAt time.Time
	// version counts committed UpdateRule calls. A load that overlaps one
	// is discarded since its read may predate the write.
	version uint64
}

const maxLoadAttempts = 3

// NewRuleTable creates a rule table over source.
func NewRuleTable(source RuleSource, opts ...Option) *RuleTable {
	t := &RuleTable{
		source:          source,
		refreshInterval: defaultRefreshInterval,
		log:             logger.Get().Named("rules"),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Load replaces the cache with the source's current rules.
func (t *RuleTable) Load(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		t.mu.RLock()
		seen := t.version
		t.mu.RUnlock()

		list, err := t.source.ListRules(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRulesLoad, err)
		}
		rules := make(map[model.EventType]model.ScoringRule, len(list))
		for _, r := range list {
			rules[r.EventType] = r
		}

		t.mu.Lock()
		switch {
		case t.version == seen, t.rules == nil && attempt >= maxLoadAttempts:
			t.rules = rules
			t.loadedAt = t.now()
			t.mu.Unlock()
			return nil
		case t.rules != nil:
			// The cache already holds the newer edit; keep it and let the
			// next refresh reload.
			t.mu.Unlock()
			t.log.Debug(ctx, "discarding rule reload that raced an update")
			return nil
		}
		t.mu.Unlock()
	}
}

// snapshot returns the cached rules, reloading them when stale. A failed
// reload keeps serving the previous set.
func (t *RuleTable) snapshot(ctx context.Context) (map[model.EventType]model.ScoringRule, error) {
	t.mu.RLock()
	rules, loadedAt := t.rules, t.loadedAt
	t.mu.RUnlock()

	if rules != nil && t.now().Sub(loadedAt) < t.refreshInterval {
		return rules, nil
	}
	if err := t.Load(ctx); err != nil {
		if rules == nil {
			return nil, err
		}
		t.log.Warn(ctx, "serving stale scoring rules", logger.Error(err))
		return rules, nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rules, nil
}

// Resolve returns the points for t. Missing and disabled rules resolve to
// zero points rather than an error.
func (t *RuleTable) Resolve(ctx context.Context, et model.EventType) (Resolution, error) {
	rules, err := t.snapshot(ctx)
	if err != nil {
		return Resolution{}, err
	}
	res := Resolution{EventType: et}
	if r, ok := rules[et]; ok && r.Enabled {
		res.Points = r.Points
	}
	res.Reason = Reason(res.Points, et)
	return res, nil
}

// Rules returns the current rule set in enum order.
func (t *RuleTable) Rules(ctx context.Context) ([]model.ScoringRule, error) {
	rules, err := t.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.ScoringRule, 0, len(rules))
	for _, et := range model.EventTypes {
		if r, ok := rules[et]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// UpdateRule writes rule through to the source and refreshes the cached entry.
func (t *RuleTable) UpdateRule(ctx context.Context, rule model.ScoringRule) (model.ScoringRule, error) {
	if !rule.EventType.Valid() {
		return model.ScoringRule{}, fmt.Errorf("%w: %w: %q", ErrInvalidRule, model.ErrUnknownEventType, rule.EventType)
	}
	if rule.Points < 0 {
		return model.ScoringRule{}, fmt.Errorf("%w: points must be >= 0", ErrInvalidRule)
	}
	if rule.Description == "" {
		rule.Description = model.DefaultRuleDescription(rule.EventType)
	}

	saved, err := t.source.UpsertRule(ctx, rule)
	if err != nil {
		return model.ScoringRule{}, fmt.Errorf("upsert rule %s: %w", rule.EventType, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.version++
	if t.rules == nil {
		// Force a full load on the next read.
		return saved, nil
	}
	next := make(map[model.EventType]model.ScoringRule, len(t.rules)+1)
	for k, v := range t.rules {
		next[k] = v
	}
	next[saved.EventType] = saved
	t.rules = next
	return saved, nil
}

// Reason is the audit text recorded with a score change.
func Reason(points int, t model.EventType) string {
	return fmt.Sprintf("+%d points for %s", points, t)
}

// CappedScore adds points to current without exceeding maxScore. A score that
// already sits above the cap is never lowered.
func CappedScore(current, points, maxScore int) int {
	next := current + points
	if next > maxScore {
		next = maxScore
	}
	if next < current {
		return current
	}
	return next
}
