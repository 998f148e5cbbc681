package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/engage/internal/domain/model"
	"github.com/okian/engage/pkg/logger"
	"github.com/okian/engage/pkg/metrics"
)

// dueHeap orders waiting jobs by RunAt, then enqueue order.
type dueHeap []*entry

type entry struct {
	job *model.Job
	seq uint64
}

func (h dueHeap) Len() int { return len(h) }
func (h dueHeap) Less(i, j int) bool {
	if !h[i].job.RunAt.Equal(h[j].job.RunAt) {
		return h[i].job.RunAt.Before(h[j].job.RunAt)
	}
	return h[i].seq < h[j].seq
}
func (h dueHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *dueHeap) Push(x any)   { *h = append(*h, x.(*entry)) }
func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// InMemoryQueue is a single-process Queue. Jobs do not survive a restart;
// use PostgresQueue when they must.
type InMemoryQueue struct {
	s settings

	mu        sync.Mutex
	waiting   dueHeap
	active    map[string]*model.Job
	completed []*model.Job // oldest first
	failed    []*model.Job // oldest first
	seq       uint64
	changed   chan struct{}
	closed    bool
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates an empty in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		s:       newSettings(opts),
		active:  make(map[string]*model.Job),
		changed: make(chan struct{}),
	}
	q.statsLocked().publish()
	return q
}

// signalLocked wakes every goroutine blocked in Reserve.
func (q *InMemoryQueue) signalLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *InMemoryQueue) Enqueue(_ context.Context, j model.Job) (model.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		metrics.RecordEnqueueError()
		return model.Job{}, ErrClosed
	}
	now := q.s.now()
	j.ID = q.s.newID()
	j.Status = model.JobWaiting
	j.Attempts = 0
	j.CreatedAt = now
	if j.RunAt.IsZero() {
		j.RunAt = now
	}
	q.pushLocked(&j)
	q.signalLocked()

	metrics.RecordJobEnqueued()
	q.statsLocked().publish()
	return j, nil
}

func (q *InMemoryQueue) pushLocked(j *model.Job) {
	q.seq++
	heap.Push(&q.waiting, &entry{job: j, seq: q.seq})
}

func (q *InMemoryQueue) Reserve(ctx context.Context) (model.Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return model.Job{}, ErrClosed
		}
		now := q.s.now()
		q.reapLocked(ctx, now)

		if len(q.waiting) > 0 && !q.waiting[0].job.RunAt.After(now) {
			j := heap.Pop(&q.waiting).(*entry).job
			j.Status = model.JobActive
			j.Attempts++
			j.LeaseUntil = now.Add(q.s.leaseTimeout)
			q.active[j.ID] = j
			out := *j
			q.statsLocked().publish()
			q.mu.Unlock()
			return out, nil
		}

		wait := q.nextWakeLocked(now)
		changed := q.changed
		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return model.Job{}, ctx.Err()
		case <-changed:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// nextWakeLocked is the time until the earliest due job or lease expiry,
// bounded by the poll interval.
func (q *InMemoryQueue) nextWakeLocked(now time.Time) time.Duration {
	wait := q.s.pollInterval
	if len(q.waiting) > 0 {
		wait = min(wait, q.waiting[0].job.RunAt.Sub(now))
	}
	for _, j := range q.active {
		wait = min(wait, j.LeaseUntil.Sub(now))
	}
	return max(wait, time.Millisecond)
}

// reapLocked treats every expired lease as a failed attempt.
func (q *InMemoryQueue) reapLocked(ctx context.Context, now time.Time) {
	for id, j := range q.active {
		if j.LeaseUntil.After(now) {
			continue
		}
		delete(q.active, id)
		q.s.failJob(j, now, "lease expired")
		q.s.log.Warn(ctx, "job lease expired",
			logger.String("job_id", j.ID),
			logger.String("event_id", j.EventID),
			logger.Int("attempts", j.Attempts),
			logger.String("status", string(j.Status)),
		)
		q.settleLocked(j)
	}
}

// settleLocked files a job that just left the active set.
func (q *InMemoryQueue) settleLocked(j *model.Job) {
	switch j.Status {
	case model.JobWaiting:
		q.pushLocked(j)
	case model.JobCompleted:
		q.completed = append(q.completed, j)
	case model.JobFailed:
		q.failed = append(q.failed, j)
	}
	q.pruneLocked()
	q.signalLocked()
	q.statsLocked().publish()
}

func (q *InMemoryQueue) pruneLocked() {
	if over := len(q.completed) - q.s.keepCompleted; over > 0 {
		q.completed = append([]*model.Job(nil), q.completed[over:]...)
	}
	if over := len(q.failed) - q.s.keepFailed; over > 0 {
		q.failed = append([]*model.Job(nil), q.failed[over:]...)
	}
}

func (q *InMemoryQueue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.active[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	delete(q.active, jobID)
	j.Status = model.JobCompleted
	j.LeaseUntil = time.Time{}
	j.FinishedAt = q.s.now()
	q.settleLocked(j)
	return nil
}

func (q *InMemoryQueue) Fail(_ context.Context, jobID string, cause error) (model.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.active[jobID]
	if !ok {
		return model.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	delete(q.active, jobID)
	q.s.failJob(j, q.s.now(), causeText(cause))
	out := *j
	q.settleLocked(j)
	return out, nil
}

func (q *InMemoryQueue) Failed(_ context.Context, limit int) ([]model.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 || limit > len(q.failed) {
		limit = len(q.failed)
	}
	out := make([]model.Job, 0, limit)
	for i := len(q.failed) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *q.failed[i])
	}
	return out, nil
}

func (q *InMemoryQueue) Stats(context.Context) Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *InMemoryQueue) statsLocked() Stats {
	return Stats{
		Waiting:   len(q.waiting),
		Active:    len(q.active),
		Completed: len(q.completed),
		Failed:    len(q.failed),
	}
}

// Close stops Reserve and Enqueue. Jobs still in memory are dropped.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.signalLocked()
	return nil
}
