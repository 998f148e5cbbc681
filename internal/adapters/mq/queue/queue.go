// Package queue is the durable work queue between intake and the scoring
// workers. Delivery is at least once: a reserved job that is neither acked
// nor failed within its lease is delivered again.
package queue

import (
	"context"

	"github.com/okian/engage/internal/domain/model"
	"github.com/okian/engage/pkg/metrics"
)

// Queue stores jobs until a worker acknowledges them.
type Queue interface {
	// Enqueue stores a new waiting job and returns it with its id.
	Enqueue(ctx context.Context, j model.Job) (model.Job, error)
	// Reserve blocks until a job is due, leases it and returns it.
	// Returns ErrClosed after Close and ctx.Err() when ctx ends.
	Reserve(ctx context.Context) (model.Job, error)
	// Ack marks a reserved job completed.
	Ack(ctx context.Context, jobID string) error
	// Fail records an unsuccessful attempt and schedules a retry or, at the
	// attempt ceiling, moves the job to failed.
	Fail(ctx context.Context, jobID string, cause error) (model.Job, error)
	// Failed returns up to limit failed jobs, most recent first.
	Failed(ctx context.Context, limit int) ([]model.Job, error)
	// Stats returns job counts per status.
	Stats(ctx context.Context) Stats
	Close() error
}

// Stats holds job counts per status.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

func (s Stats) publish() {
	metrics.UpdateJobsByState(string(model.JobWaiting), s.Waiting)
	metrics.UpdateJobsByState(string(model.JobActive), s.Active)
	metrics.UpdateJobsByState(string(model.JobCompleted), s.Completed)
	metrics.UpdateJobsByState(string(model.JobFailed), s.Failed)
}

func causeText(cause error) string {
	if cause == nil {
		return "unknown error"
	}
	return cause.Error()
}
