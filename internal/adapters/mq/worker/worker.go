// Package worker runs scoring jobs pulled from the work queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/engage/internal/adapters/mq/queue"
	"github.com/okian/engage/internal/adapters/pubsub"
	"github.com/okian/engage/internal/adapters/repository"
	"github.com/okian/engage/internal/domain/model"
	"github.com/okian/engage/internal/domain/scoring"
	"github.com/okian/engage/pkg/logger"
	"github.com/okian/engage/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount = 5
	defaultJobTimeout  = 20 * time.Second
	defaultRetryDelay  = time.Second
)

// Queue is the part of the work queue a worker consumes.
type Queue interface {
	Reserve(ctx context.Context) (model.Job, error)
	Ack(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string, cause error) (model.Job, error)
}

// Store is the persistence a worker reads and mutates.
type Store interface {
	GetEvent(ctx context.Context, eventID string) (model.Event, error)
	GetLead(ctx context.Context, id string) (model.Lead, error)
	ApplyScore(ctx context.Context, c repository.ScoreChange) (repository.ScoreOutcome, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

// Worker takes one job at a time through
// received -> ordering checked -> rule resolved -> score applied -> acknowledged.
// Jobs that can never succeed are acknowledged as ignored; anything else that
// goes wrong is reported to the queue for retry.
type Worker struct {
	queue     Queue
	store     Store
	scorer    scoring.Scorer
	publisher pubsub.Publisher

	name       string
	jobTimeout time.Duration
	retryDelay time.Duration
	logger     logger.Logger
}

// New creates a worker.
func New(q Queue, store Store, scorer scoring.Scorer, publisher pubsub.Publisher, opts ...Option) *Worker {
	w := &Worker{
		queue:      q,
		store:      store,
		scorer:     scorer,
		publisher:  publisher,
		name:       "worker",
		jobTimeout: defaultJobTimeout,
		retryDelay: defaultRetryDelay,
		logger:     logger.Get(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run reserves and processes jobs until ctx ends or the queue closes.
// A job already reserved is finished even if ctx ends meanwhile.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Reserve(ctx)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrClosed), ctx.Err() != nil:
			return
		default:
			w.logger.Error(ctx, "reserve failed", logger.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.retryDelay):
			}
			continue
		}

		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
		_, _ = w.Process(jobCtx, job)
		cancel()
	}
}

// outcome is how a job attempt ended before it is reported to the queue.
type outcome struct {
	state   model.JobState
	metric  string
	err     error
	applied *repository.ScoreOutcome
}

// Process runs one reserved job to a terminal state and reports it to the
// queue. Panics are recovered and reported as failures.
func (w *Worker) Process(ctx context.Context, job model.Job) (model.JobState, error) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	out := w.run(ctx, job)
	if out.state == model.StateFailed {
		return w.fail(ctx, job, out.err)
	}

	if err := w.queue.Ack(ctx, job.ID); err != nil {
		// The effects are committed; a redelivery short-circuits on the
		// processed flag.
		w.logger.Error(ctx, "ack failed", logger.String("job_id", job.ID), logger.Error(err))
	}
	metrics.RecordJobOutcome(out.metric)

	if out.applied != nil {
		for _, n := range pubsub.ScoreNotifications(out.applied.Lead, job.EventType, out.applied.History.Timestamp) {
			w.publisher.Publish(ctx, n)
		}
	}
	return out.state, out.err
}

func (w *Worker) run(ctx context.Context, job model.Job) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{state: model.StateFailed, err: fmt.Errorf("panic processing job %s: %v", job.ID, r)}
		}
	}()

	log := []logger.Field{
		logger.String("job_id", job.ID),
		logger.String("event_id", job.EventID),
		logger.String("lead_id", job.LeadID),
		logger.Int("attempt", job.Attempts),
	}
	ignore := func(metric, reason string) outcome {
		w.logger.Info(ctx, "job ignored", append(log, logger.String("reason", reason))...)
		return outcome{state: model.StateIgnored, metric: metric}
	}
	failed := func(err error) outcome {
		return outcome{state: model.StateFailed, err: err}
	}

	// received
	ev, err := w.store.GetEvent(ctx, job.EventID)
	if errors.Is(err, repository.ErrNotFound) {
		return ignore(metrics.OutcomeIgnored, "event row missing")
	}
	if err != nil {
		return failed(fmt.Errorf("load event: %w", err))
	}
	if ev.Processed {
		return ignore(metrics.OutcomeSkipped, "event already processed")
	}

	lead, err := w.store.GetLead(ctx, job.LeadID)
	if errors.Is(err, repository.ErrLeadNotFound) {
		return ignore(metrics.OutcomeIgnored, "lead not found")
	}
	if err != nil {
		return failed(fmt.Errorf("load lead: %w", err))
	}
	if !lead.Accepts(job.Timestamp) {
		return ignore(metrics.OutcomeIgnored, "event older than last processed event")
	}

	// ordering checked
	res, err := w.scorer.Resolve(ctx, job.EventType)
	if err != nil {
		return failed(fmt.Errorf("resolve rule: %w", err))
	}

	// rule resolved
	if res.Points == 0 {
		if err := w.store.MarkProcessed(ctx, job.EventID); err != nil {
			return failed(fmt.Errorf("mark processed: %w", err))
		}
		w.logger.Debug(ctx, "no points for event", append(log, logger.String("event_type", string(job.EventType)))...)
		return outcome{state: model.StateAcknowledged, metric: metrics.OutcomeNoPoints}
	}

	applyStart := time.Now()
	applied, err := w.store.ApplyScore(ctx, repository.ScoreChange{
		LeadID:    job.LeadID,
		EventID:   job.EventID,
		EventType: job.EventType,
		Timestamp: job.Timestamp,
		Points:    res.Points,
		Reason:    res.Reason,
	})
	metrics.RecordScoreApplyLatency(float64(time.Since(applyStart).Milliseconds()))
	switch {
	case errors.Is(err, repository.ErrStaleEvent):
		return ignore(metrics.OutcomeIgnored, "event older than last processed event")
	case errors.Is(err, repository.ErrAlreadyProcessed):
		return ignore(metrics.OutcomeSkipped, "event already processed")
	case errors.Is(err, repository.ErrLeadNotFound):
		return ignore(metrics.OutcomeIgnored, "lead not found")
	case err != nil:
		return failed(fmt.Errorf("apply score: %w", err))
	}

	// score applied
	metrics.RecordScoreMutation(string(job.EventType), applied.History.NewScore-applied.History.PreviousScore)
	w.logger.Info(ctx, "score applied", append(log,
		logger.Int("previous_score", applied.History.PreviousScore),
		logger.Int("new_score", applied.History.NewScore),
		logger.String("reason", applied.History.Reason),
	)...)
	return outcome{state: model.StateAcknowledged, metric: metrics.OutcomeApplied, applied: &applied}
}

func (w *Worker) fail(ctx context.Context, job model.Job, cause error) (model.JobState, error) {
	after, err := w.queue.Fail(ctx, job.ID, cause)
	if err != nil {
		w.logger.Error(ctx, "report failure", logger.String("job_id", job.ID), logger.Error(err))
		return model.StateFailed, cause
	}
	if after.Status == model.JobFailed {
		metrics.RecordJobOutcome(metrics.OutcomeFailed)
		w.logger.Error(ctx, "job failed permanently",
			logger.String("job_id", job.ID),
			logger.String("event_id", job.EventID),
			logger.Int("attempts", after.Attempts),
			logger.Error(cause),
		)
	} else {
		metrics.RecordJobOutcome(metrics.OutcomeRetried)
		w.logger.Warn(ctx, "job will be retried",
			logger.String("job_id", job.ID),
			logger.String("event_id", job.EventID),
			logger.Int("attempts", after.Attempts),
			logger.Time("run_at", after.RunAt),
			logger.Error(cause),
		)
	}
	return model.StateFailed, cause
}

// Pool runs a fixed number of workers over one queue.
type Pool struct {
	workers []*Worker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  logger.Logger
}

// NewPool creates workerCount workers sharing q, store, scorer and publisher.
func NewPool(workerCount int, q Queue, store Store, scorer scoring.Scorer, publisher pubsub.Publisher, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	p := &Pool{
		workers: make([]*Worker, workerCount),
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		workerOpts := append(append([]Option{}, opts...), WithName("worker-"+strconv.Itoa(i)))
		p.workers[i] = New(q, store, scorer, publisher, workerOpts...)
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(runCtx)
		}(w)
	}
	metrics.UpdateWorkerCount(len(p.workers))
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Shutdown stops reserving new jobs and waits for in-flight ones, or until
// ctx ends.
func (p *Pool) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		metrics.UpdateWorkerCount(0)
		return nil
	case <-ctx.Done():
		p.logger.Warn(ctx, "worker pool shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}
