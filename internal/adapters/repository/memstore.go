package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/okian/engage/internal/domain/model"
	"github.com/okian/engage/internal/domain/scoring"
)

func newUUID() string { return uuid.NewString() }

// MemoryStore is a single-process Store. A store-wide mutex makes every
// ApplyScore call atomic with respect to reads and other writes.
type MemoryStore struct {
	opts storeOptions

	mu         sync.RWMutex
	events     map[string]*model.Event // by caller event id
	leadEvents map[string][]string     // lead id -> event ids
	leads      map[string]*model.Lead
	emails     map[string]string // email -> lead id
	history    map[string][]model.ScoreHistory
	rules      map[model.EventType]model.ScoringRule
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{
		opts:       o,
		events:     make(map[string]*model.Event),
		leadEvents: make(map[string][]string),
		leads:      make(map[string]*model.Lead),
		emails:     make(map[string]string),
		history:    make(map[string][]model.ScoreHistory),
		rules:      make(map[model.EventType]model.ScoringRule),
	}
}

func cloneEvent(e *model.Event) model.Event {
	out := *e
	out.Metadata = maps.Clone(e.Metadata)
	return out
}

func cloneLead(l *model.Lead) model.Lead {
	out := *l
	if l.LastProcessedEventTime != nil {
		ts := *l.LastProcessedEventTime
		out.LastProcessedEventTime = &ts
	}
	return out
}

func (s *MemoryStore) InsertEvent(_ context.Context, e model.Event) (model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.EventID]; ok {
		return model.Event{}, fmt.Errorf("%w: %s", ErrDuplicateEvent, e.EventID)
	}
	if e.ID == "" {
		e.ID = s.opts.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.opts.now()
	}
	e.Processed = false
	e.Metadata = maps.Clone(e.Metadata)

	s.events[e.EventID] = &e
	s.leadEvents[e.LeadID] = append(s.leadEvents[e.LeadID], e.EventID)
	return cloneEvent(&e), nil
}

func (s *MemoryStore) GetEvent(_ context.Context, eventID string) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[eventID]
	if !ok {
		return model.Event{}, fmt.Errorf("%w: %s", ErrNotFound, eventID)
	}
	return cloneEvent(e), nil
}

func (s *MemoryStore) DeleteEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok || e.Processed {
		return fmt.Errorf("%w: %s", ErrNotFound, eventID)
	}
	delete(s.events, eventID)
	s.leadEvents[e.LeadID] = slices.DeleteFunc(s.leadEvents[e.LeadID], func(id string) bool { return id == eventID })
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, leadID string, offset, limit int) ([]model.Event, int, error) {
	if limit <= 0 || offset < 0 {
		return nil, 0, ErrInvalidLimit
	}
	s.mu.RLock()
	ids := s.leadEvents[leadID]
	all := make([]model.Event, 0, len(ids))
	for _, id := range ids {
		all = append(all, cloneEvent(s.events[id]))
	}
	s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.After(all[j].Timestamp)
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return window(all, offset, limit), len(all), nil
}

func window[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := min(offset+limit, len(all))
	return all[offset:end]
}

func (s *MemoryStore) GetLead(_ context.Context, id string) (model.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[id]
	if !ok {
		return model.Lead{}, fmt.Errorf("%w: %s", ErrLeadNotFound, id)
	}
	return cloneLead(l), nil
}

func (s *MemoryStore) GetLeadByIdentifier(_ context.Context, identifier string) (model.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.leads[identifier]; ok {
		return cloneLead(l), nil
	}
	if id, ok := s.emails[identifier]; ok {
		return cloneLead(s.leads[id]), nil
	}
	return model.Lead{}, fmt.Errorf("%w: %s", ErrLeadNotFound, identifier)
}

func (s *MemoryStore) CreateLead(_ context.Context, l model.Lead) (model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.leads[l.ID]; ok {
		return model.Lead{}, fmt.Errorf("%w: %s", ErrLeadExists, l.ID)
	}
	if _, ok := s.emails[l.Email]; ok {
		return model.Lead{}, fmt.Errorf("%w: email %s", ErrLeadExists, l.Email)
	}
	now := s.opts.now()
	l.CreatedAt, l.UpdatedAt = now, now
	s.leads[l.ID] = &l
	s.emails[l.Email] = l.ID
	return cloneLead(&l), nil
}

func (s *MemoryStore) SeedRules(_ context.Context, rules []model.ScoringRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rules {
		if _, ok := s.rules[r.EventType]; !ok {
			s.rules[r.EventType] = r
		}
	}
	return nil
}

func (s *MemoryStore) ListRules(_ context.Context) ([]model.ScoringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ScoringRule, 0, len(s.rules))
	for _, t := range model.EventTypes {
		if r, ok := s.rules[t]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertRule(_ context.Context, r model.ScoringRule) (model.ScoringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.EventType] = r
	return r, nil
}

func (s *MemoryStore) ApplyScore(_ context.Context, c ScoreChange) (ScoreOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[c.LeadID]
	if !ok {
		return ScoreOutcome{}, fmt.Errorf("%w: %s", ErrLeadNotFound, c.LeadID)
	}
	ev, ok := s.events[c.EventID]
	if !ok {
		return ScoreOutcome{}, fmt.Errorf("%w: %s", ErrNotFound, c.EventID)
	}
	if ev.Processed {
		return ScoreOutcome{}, fmt.Errorf("%w: %s", ErrAlreadyProcessed, c.EventID)
	}
	if !lead.Accepts(c.Timestamp) {
		return ScoreOutcome{}, fmt.Errorf("%w: %s at %s", ErrStaleEvent, c.EventID, c.Timestamp)
	}

	now := s.opts.now()
	prev := lead.CurrentScore
	ts := c.Timestamp
	lead.CurrentScore = scoring.CappedScore(prev, c.Points, lead.MaxScore)
	lead.LastProcessedEventTime = &ts
	lead.UpdatedAt = now

	h := model.ScoreHistory{
		ID:            s.opts.newID(),
		LeadID:        lead.ID,
		PreviousScore: prev,
		NewScore:      lead.CurrentScore,
		EventID:       c.EventID,
		EventType:     c.EventType,
		Reason:        c.Reason,
		Timestamp:     now,
	}
	s.history[lead.ID] = append(s.history[lead.ID], h)
	ev.Processed = true

	return ScoreOutcome{Lead: cloneLead(lead), History: h}, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, eventID)
	}
	ev.Processed = true
	return nil
}

func (s *MemoryStore) TopLeads(_ context.Context, n int) ([]model.Lead, error) {
	if n <= 0 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	all := make([]model.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		all = append(all, cloneLead(l))
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CurrentScore != all[j].CurrentScore {
			return all[i].CurrentScore > all[j].CurrentScore
		}
		return all[i].ID < all[j].ID
	})
	return window(all, 0, n), nil
}

func (s *MemoryStore) History(_ context.Context, leadID string, offset, limit int) ([]model.ScoreHistory, int, error) {
	if limit <= 0 || offset < 0 {
		return nil, 0, ErrInvalidLimit
	}
	s.mu.RLock()
	rows := s.history[leadID]
	all := make([]model.ScoreHistory, len(rows))
	// appended in commit order; reverse for newest first
	for i, h := range rows {
		all[len(rows)-1-i] = h
	}
	s.mu.RUnlock()
	return window(all, offset, limit), len(all), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
