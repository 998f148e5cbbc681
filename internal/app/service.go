// Package service wires intake, the work queue, the scoring workers and the
// notification bus into the operations the adapters expose.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okian/engage/internal/adapters/mq/queue"
	"github.com/okian/engage/internal/adapters/mq/worker"
	"github.com/okian/engage/internal/adapters/pubsub"
	"github.com/okian/engage/internal/adapters/repository"
	"github.com/okian/engage/internal/domain/dedupe"
	"github.com/okian/engage/internal/domain/model"
	"github.com/okian/engage/internal/domain/scoring"
	"github.com/okian/engage/internal/domain/types"
	"github.com/okian/engage/pkg/logger"
	"github.com/okian/engage/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultWorkerCount     = 5
	defaultDedupeSize      = 100_000
	defaultMaxScore        = 1000
	defaultMaxPageLimit    = 100
	defaultRuleRefresh     = 30 * time.Second
	defaultJobTimeout      = 20 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// Service implements event intake and the read operations around it.
type Service struct {
	mu sync.RWMutex

	// Core components
	store  repository.Store
	queue  queue.Queue
	bus    *pubsub.Bus
	known  dedupe.Cache
	rules  *scoring.RuleTable
	ownBus bool
	pool   *worker.Pool

	// Configuration
	workerCount     int
	jobTimeout      time.Duration
	dedupeSize      int
	defaultMaxScore int
	seedRules       map[string]int
	ruleRefresh     time.Duration
	maxPageLimit    int

	// State
	started bool
	stopped bool

	logger logger.Logger
}

// New constructs a Service. Components not supplied through options are
// created in memory.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:     defaultWorkerCount,
		jobTimeout:      defaultJobTimeout,
		dedupeSize:      defaultDedupeSize,
		defaultMaxScore: defaultMaxScore,
		seedRules:       model.DefaultPoints(),
		ruleRefresh:     defaultRuleRefresh,
		maxPageLimit:    defaultMaxPageLimit,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	if s.queue == nil {
		s.queue = queue.NewInMemoryQueue()
	}
	if s.bus == nil {
		s.bus = pubsub.NewBus()
		s.ownBus = true
	}
	s.known = dedupe.NewInMemoryCache(dedupe.WithMaxSize(s.dedupeSize))
	s.rules = scoring.NewRuleTable(s.store,
		scoring.WithRefreshInterval(s.ruleRefresh),
		scoring.WithLogger(s.logger.Named("rules")),
	)
	s.pool = worker.NewPool(s.workerCount, s.queue, s.store, s.rules, s.bus,
		worker.WithJobTimeout(s.jobTimeout),
	)
	return s
}

// Start seeds the default rules and starts the workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting scoring service...")

	if err := s.store.SeedRules(ctx, model.DefaultRules(s.seedRules)); err != nil {
		return fmt.Errorf("seed rules: %w", err)
	}
	if err := s.rules.Load(ctx); err != nil {
		return err
	}
	s.pool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "scoring service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("defaultMaxScore", s.defaultMaxScore),
	)
	return nil
}

// Stop drains the workers and releases the queue, bus and store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	s.logger.Info(ctx, "stopping scoring service...")

	if s.started {
		if err := s.pool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
		}
	}
	if err := s.queue.Close(); err != nil {
		s.logger.Error(ctx, "error closing queue", logger.Error(err))
	}
	if s.ownBus {
		s.bus.Close()
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "error closing store", logger.Error(err))
	}

	s.started = false
	s.stopped = true
	s.logger.Info(ctx, "scoring service stopped")
}

// Bus returns the notification bus that workers publish to.
func (s *Service) Bus() *pubsub.Bus { return s.bus }

// SubmitEvent accepts one event: it resolves or creates the lead, stores the
// event once per event id and enqueues exactly one scoring job. It returns
// without waiting for scoring. A duplicate is reported, not an error.
func (s *Service) SubmitEvent(ctx context.Context, in model.EventInput) (types.SubmitResult, error) {
	et, ts, err := in.Validate()
	if err != nil {
		metrics.RecordEventRejected("invalid")
		return types.SubmitResult{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	if s.known.Seen(ctx, in.EventID) {
		return s.duplicate(ctx, in.EventID), nil
	}

	lead, err := s.resolveLead(ctx, in.LeadID)
	if err != nil {
		metrics.RecordEventRejected("lead")
		return types.SubmitResult{}, err
	}

	ev, err := s.store.InsertEvent(ctx, model.Event{
		EventID:   in.EventID,
		LeadID:    lead.ID,
		Type:      et,
		Timestamp: ts,
		Metadata:  in.Metadata,
	})
	if errors.Is(err, repository.ErrDuplicateEvent) {
		s.known.Record(ctx, in.EventID)
		return s.duplicate(ctx, in.EventID), nil
	}
	if err != nil {
		metrics.RecordEventRejected("store")
		return types.SubmitResult{}, fmt.Errorf("store event %s: %w", in.EventID, err)
	}

	if _, err := s.queue.Enqueue(ctx, model.JobFor(ev)); err != nil {
		metrics.RecordEventRejected("enqueue")
		s.logger.Error(ctx, "enqueue failed after event was stored",
			logger.String("event_id", ev.EventID),
			logger.String("lead_id", ev.LeadID),
			logger.Error(err),
		)
		// Undo the insert so a retry is accepted instead of reported duplicate.
		if derr := s.store.DeleteEvent(context.WithoutCancel(ctx), ev.EventID); derr != nil {
			s.logger.Error(ctx, "could not remove event without job",
				logger.String("event_id", ev.EventID),
				logger.Error(derr),
			)
		}
		return types.SubmitResult{}, fmt.Errorf("%w: %w", ErrEnqueue, err)
	}
	s.known.Record(ctx, in.EventID)
	metrics.RecordEventAccepted()

	s.logger.Debug(ctx, "event accepted",
		logger.String("event_id", ev.EventID),
		logger.String("lead_id", ev.LeadID),
		logger.String("event_type", string(ev.Type)),
	)
	return types.SubmitResult{Accepted: true, Event: &ev}, nil
}

func (s *Service) duplicate(ctx context.Context, eventID string) types.SubmitResult {
	metrics.RecordEventDuplicate()
	s.logger.Debug(ctx, "duplicate event", logger.String("event_id", eventID))
	return types.SubmitResult{Duplicate: true}
}

// resolveLead finds the lead by id or email, creating it on first sight.
func (s *Service) resolveLead(ctx context.Context, identifier string) (model.Lead, error) {
	lead, err := s.store.GetLeadByIdentifier(ctx, identifier)
	if err == nil {
		return lead, nil
	}
	if !errors.Is(err, repository.ErrLeadNotFound) {
		return model.Lead{}, fmt.Errorf("resolve lead %s: %w", identifier, err)
	}

	lead, err = s.store.CreateLead(ctx, model.Lead{
		ID:       identifier,
		Email:    identifier,
		MaxScore: s.defaultMaxScore,
	})
	if errors.Is(err, repository.ErrLeadExists) {
		// Lost a creation race; the winner's row is the lead.
		return s.store.GetLeadByIdentifier(ctx, identifier)
	}
	if err != nil {
		return model.Lead{}, fmt.Errorf("create lead %s: %w", identifier, err)
	}
	metrics.RecordLeadCreated()
	s.logger.Info(ctx, "lead created", logger.String("lead_id", lead.ID))
	return lead, nil
}

// SubmitEventBatch submits each input in order. One item's failure does not
// affect the others; the batch itself never fails.
func (s *Service) SubmitEventBatch(ctx context.Context, inputs []model.EventInput) types.BatchResult {
	res := types.BatchResult{
		Results:      make([]types.SubmitResult, 0, len(inputs)),
		ErrorDetails: []types.BatchItemError{},
	}
	for i, in := range inputs {
		r, err := s.SubmitEvent(ctx, in)
		if err != nil {
			res.Errors++
			res.ErrorDetails = append(res.ErrorDetails, types.BatchItemError{
				Index:   i,
				EventID: in.EventID,
				Error:   err.Error(),
			})
			continue
		}
		res.Processed++
		if r.Duplicate {
			res.Duplicates++
		} else {
			res.Accepted++
		}
		res.Results = append(res.Results, r)
	}
	res.Success = res.Errors == 0
	return res
}

func (s *Service) checkPage(page, limit int) error {
	if page < 1 || limit < 1 || limit > s.maxPageLimit {
		return fmt.Errorf("%w: page must be >= 1 and limit within 1..%d", ErrInvalidPagination, s.maxPageLimit)
	}
	return nil
}

// leadIDFor maps an identifier to a lead id. Unknown identifiers map to
// themselves so reads return empty pages.
func (s *Service) leadIDFor(ctx context.Context, identifier string) (string, error) {
	lead, err := s.store.GetLeadByIdentifier(ctx, identifier)
	if errors.Is(err, repository.ErrLeadNotFound) {
		return identifier, nil
	}
	if err != nil {
		return "", err
	}
	return lead.ID, nil
}

// CreateLead registers a lead ahead of its first event. Email doubles as the
// id when none is given; a zero MaxScore takes the configured default.
func (s *Service) CreateLead(ctx context.Context, lead model.Lead) (model.Lead, error) {
	if strings.TrimSpace(lead.Email) == "" {
		return model.Lead{}, fmt.Errorf("%w: email is required", ErrInvalidLead)
	}
	if lead.ID == "" {
		lead.ID = lead.Email
	}
	if lead.MaxScore < 0 {
		return model.Lead{}, fmt.Errorf("%w: max_score must not be negative", ErrInvalidLead)
	}
	if lead.MaxScore == 0 {
		lead.MaxScore = s.defaultMaxScore
	}
	lead.CurrentScore = 0
	lead.LastProcessedEventTime = nil

	created, err := s.store.CreateLead(ctx, lead)
	if err != nil {
		return model.Lead{}, err
	}
	metrics.RecordLeadCreated()
	return created, nil
}

// Lead returns the lead matching identifier by id or email.
func (s *Service) Lead(ctx context.Context, identifier string) (model.Lead, error) {
	return s.store.GetLeadByIdentifier(ctx, identifier)
}

// ListEvents returns a lead's events newest first by event timestamp.
func (s *Service) ListEvents(ctx context.Context, leadID string, page, limit int) (types.EventPage, error) {
	if err := s.checkPage(page, limit); err != nil {
		return types.EventPage{}, err
	}
	id, err := s.leadIDFor(ctx, leadID)
	if err != nil {
		return types.EventPage{}, err
	}
	events, total, err := s.store.ListEvents(ctx, id, types.Offset(page, limit), limit)
	if err != nil {
		return types.EventPage{}, err
	}
	return types.EventPage{Events: events, Pagination: types.NewPagination(page, limit, total)}, nil
}

// ScoreHistory returns a lead's score changes newest first.
func (s *Service) ScoreHistory(ctx context.Context, leadID string, page, limit int) (types.HistoryPage, error) {
	if err := s.checkPage(page, limit); err != nil {
		return types.HistoryPage{}, err
	}
	id, err := s.leadIDFor(ctx, leadID)
	if err != nil {
		return types.HistoryPage{}, err
	}
	rows, total, err := s.store.History(ctx, id, types.Offset(page, limit), limit)
	if err != nil {
		return types.HistoryPage{}, err
	}
	return types.HistoryPage{History: rows, Pagination: types.NewPagination(page, limit, total)}, nil
}

// Leaderboard returns the top n leads by score.
func (s *Service) Leaderboard(ctx context.Context, n int) ([]types.Entry, error) {
	if n < 1 || n > s.maxPageLimit {
		return nil, fmt.Errorf("%w: n must be within 1..%d", ErrInvalidPagination, s.maxPageLimit)
	}
	leads, err := s.store.TopLeads(ctx, n)
	if err != nil {
		return nil, err
	}
	out := make([]types.Entry, len(leads))
	for i, l := range leads {
		out[i] = types.Entry{
			Rank:     i + 1,
			LeadID:   l.ID,
			Email:    l.Email,
			Company:  l.Company,
			Score:    l.CurrentScore,
			MaxScore: l.MaxScore,
		}
	}
	return out, nil
}

// FailedJobs returns dead jobs for inspection, most recent first.
func (s *Service) FailedJobs(ctx context.Context, limit int) ([]model.Job, error) {
	return s.queue.Failed(ctx, limit)
}

// Rules returns the current scoring rules.
func (s *Service) Rules(ctx context.Context) ([]model.ScoringRule, error) {
	return s.rules.Rules(ctx)
}

// UpdateRule changes a rule. The next job resolved sees the change.
func (s *Service) UpdateRule(ctx context.Context, rule model.ScoringRule) (model.ScoringRule, error) {
	saved, err := s.rules.UpdateRule(ctx, rule)
	if err != nil {
		return model.ScoringRule{}, err
	}
	s.logger.Info(ctx, "scoring rule updated",
		logger.String("event_type", string(saved.EventType)),
		logger.Int("points", saved.Points),
		logger.Bool("enabled", saved.Enabled),
	)
	return saved, nil
}

// Ready reports whether the store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	return map[string]any{
		"started":     started,
		"workerCount": s.pool.Size(),
		"knownEvents": s.known.Size(),
		"jobs":        s.queue.Stats(ctx),
		"subscribers": s.bus.Subscribers(),
	}
}
