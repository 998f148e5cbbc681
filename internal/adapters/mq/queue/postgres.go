package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/engage/internal/domain/model"
	"github.com/okian/engage/pkg/logger"
	"github.com/okian/engage/pkg/metrics"
)

const jobColumns = `id, event_id, lead_id, event_type, occurred_at, status, attempts, run_at, lease_until, last_error, created_at, finished_at`

var schema = []string{
	`CREATE TABLE IF NOT EXISTS scoring_jobs (
		id          UUID PRIMARY KEY,
		event_id    TEXT NOT NULL,
		lead_id     TEXT NOT NULL,
		event_type  TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		status      TEXT NOT NULL,
		attempts    INTEGER NOT NULL DEFAULT 0,
		run_at      TIMESTAMPTZ NOT NULL,
		lease_until TIMESTAMPTZ,
		last_error  TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS scoring_jobs_due_idx ON scoring_jobs (status, run_at)`,
}

// Migrate creates the job table.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate queue: %w", err)
		}
	}
	return nil
}

// PostgresQueue keeps jobs in the scoring_jobs table. Workers in any number
// of processes lease rows with FOR UPDATE SKIP LOCKED.
type PostgresQueue struct {
	s    settings
	db   *sql.DB
	done chan struct{}
	once sync.Once
}

var _ Queue = (*PostgresQueue)(nil)

// NewPostgresQueue creates a queue over db. The table must already exist.
func NewPostgresQueue(db *sql.DB, opts ...Option) *PostgresQueue {
	return &PostgresQueue{
		s:    newSettings(opts),
		db:   db,
		done: make(chan struct{}),
	}
}

func (q *PostgresQueue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (model.Job, error) {
	var (
		j                      model.Job
		eventType, status      string
		leaseUntil, finishedAt sql.NullTime
	)
	if err := r.Scan(&j.ID, &j.EventID, &j.LeadID, &eventType, &j.Timestamp, &status, &j.Attempts,
		&j.RunAt, &leaseUntil, &j.LastError, &j.CreatedAt, &finishedAt); err != nil {
		return model.Job{}, err
	}
	j.EventType = model.EventType(eventType)
	j.Status = model.JobStatus(status)
	j.Timestamp = j.Timestamp.UTC()
	if leaseUntil.Valid {
		j.LeaseUntil = leaseUntil.Time
	}
	if finishedAt.Valid {
		j.FinishedAt = finishedAt.Time
	}
	return j, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (q *PostgresQueue) Enqueue(ctx context.Context, j model.Job) (model.Job, error) {
	if q.isClosed() {
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
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO scoring_jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, NULL, '', $8, NULL)`,
		j.ID, j.EventID, j.LeadID, string(j.EventType), j.Timestamp, string(j.Status), j.RunAt, j.CreatedAt)
	if err != nil {
		metrics.RecordEnqueueError()
		return model.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	metrics.RecordJobEnqueued()
	return j, nil
}

func (q *PostgresQueue) Reserve(ctx context.Context) (model.Job, error) {
	for {
		if q.isClosed() {
			return model.Job{}, ErrClosed
		}
		j, ok, err := q.tryReserve(ctx)
		if err != nil {
			return model.Job{}, err
		}
		if ok {
			return j, nil
		}

		timer := time.NewTimer(q.s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return model.Job{}, ctx.Err()
		case <-q.done:
			timer.Stop()
			return model.Job{}, ErrClosed
		case <-timer.C:
		}
	}
}

// tryReserve reaps expired leases and leases the next due job, if any, in
// one transaction.
func (q *PostgresQueue) tryReserve(ctx context.Context) (model.Job, bool, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Job{}, false, fmt.Errorf("begin reserve: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := q.s.now()
	if err := q.reap(ctx, tx, now); err != nil {
		return model.Job{}, false, err
	}

	j, err := scanJob(tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM scoring_jobs
		 WHERE status = 'waiting' AND run_at <= $1
		 ORDER BY run_at, created_at LIMIT 1 FOR UPDATE SKIP LOCKED`, now))
	if errors.Is(err, sql.ErrNoRows) {
		if err := tx.Commit(); err != nil {
			return model.Job{}, false, fmt.Errorf("commit reserve: %w", err)
		}
		return model.Job{}, false, nil
	}
	if err != nil {
		return model.Job{}, false, fmt.Errorf("select due job: %w", err)
	}

	j.Status = model.JobActive
	j.Attempts++
	j.LeaseUntil = now.Add(q.s.leaseTimeout)
	if _, err := tx.ExecContext(ctx,
		`UPDATE scoring_jobs SET status = 'active', attempts = $2, lease_until = $3 WHERE id = $1`,
		j.ID, j.Attempts, j.LeaseUntil); err != nil {
		return model.Job{}, false, fmt.Errorf("lease job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Job{}, false, fmt.Errorf("commit reserve: %w", err)
	}
	return j, true, nil
}

// reap treats expired leases as failed attempts.
func (q *PostgresQueue) reap(ctx context.Context, tx *sql.Tx, now time.Time) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM scoring_jobs
		 WHERE status = 'active' AND lease_until < $1 FOR UPDATE SKIP LOCKED`, now)
	if err != nil {
		return fmt.Errorf("select expired leases: %w", err)
	}
	var expired []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("scan expired lease: %w", err)
		}
		expired = append(expired, j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("select expired leases: %w", err)
	}

	for i := range expired {
		j := &expired[i]
		q.s.failJob(j, now, "lease expired")
		if err := q.store(ctx, tx, j); err != nil {
			return err
		}
		q.s.log.Warn(ctx, "job lease expired",
			logger.String("job_id", j.ID),
			logger.String("event_id", j.EventID),
			logger.Int("attempts", j.Attempts),
			logger.String("status", string(j.Status)),
		)
	}
	if len(expired) > 0 {
		return q.prune(ctx, tx)
	}
	return nil
}

// store writes the mutable columns of j.
func (q *PostgresQueue) store(ctx context.Context, tx *sql.Tx, j *model.Job) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE scoring_jobs SET status = $2, attempts = $3, run_at = $4, lease_until = $5, last_error = $6, finished_at = $7
		 WHERE id = $1`,
		j.ID, string(j.Status), j.Attempts, j.RunAt, nullTime(j.LeaseUntil), j.LastError, nullTime(j.FinishedAt))
	if err != nil {
		return fmt.Errorf("update job %s: %w", j.ID, err)
	}
	return nil
}

// prune deletes the oldest completed and failed jobs beyond retention.
func (q *PostgresQueue) prune(ctx context.Context, tx *sql.Tx) error {
	for _, r := range []struct {
		status model.JobStatus
		keep   int
	}{
		{model.JobCompleted, q.s.keepCompleted},
		{model.JobFailed, q.s.keepFailed},
	} {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM scoring_jobs WHERE id IN (
				SELECT id FROM scoring_jobs WHERE status = $1 ORDER BY finished_at DESC OFFSET $2)`,
			string(r.status), r.keep); err != nil {
			return fmt.Errorf("prune %s jobs: %w", r.status, err)
		}
	}
	return nil
}

// settle loads an active job for update, applies fn and stores the result.
func (q *PostgresQueue) settle(ctx context.Context, jobID string, fn func(*model.Job, time.Time)) (model.Job, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Job{}, fmt.Errorf("begin settle: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	j, err := scanJob(tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM scoring_jobs WHERE id = $1 AND status = 'active' FOR UPDATE`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("load job: %w", err)
	}

	fn(&j, q.s.now())
	if err := q.store(ctx, tx, &j); err != nil {
		return model.Job{}, err
	}
	if j.Status != model.JobWaiting {
		if err := q.prune(ctx, tx); err != nil {
			return model.Job{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Job{}, fmt.Errorf("commit settle: %w", err)
	}
	return j, nil
}

func (q *PostgresQueue) Ack(ctx context.Context, jobID string) error {
	_, err := q.settle(ctx, jobID, func(j *model.Job, now time.Time) {
		j.Status = model.JobCompleted
		j.LeaseUntil = time.Time{}
		j.FinishedAt = now
	})
	return err
}

func (q *PostgresQueue) Fail(ctx context.Context, jobID string, cause error) (model.Job, error) {
	return q.settle(ctx, jobID, func(j *model.Job, now time.Time) {
		q.s.failJob(j, now, causeText(cause))
	})
}

func (q *PostgresQueue) Failed(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = q.s.keepFailed
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM scoring_jobs WHERE status = 'failed' ORDER BY finished_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	return out, nil
}

func (q *PostgresQueue) Stats(ctx context.Context) Stats {
	var st Stats
	rows, err := q.db.QueryContext(ctx, `SELECT status, count(*) FROM scoring_jobs GROUP BY status`)
	if err != nil {
		q.s.log.Error(ctx, "queue stats", logger.Error(err))
		return st
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			q.s.log.Error(ctx, "queue stats", logger.Error(err))
			return st
		}
		switch model.JobStatus(status) {
		case model.JobWaiting:
			st.Waiting = n
		case model.JobActive:
			st.Active = n
		case model.JobCompleted:
			st.Completed = n
		case model.JobFailed:
			st.Failed = n
		}
	}
	st.publish()
	return st
}

// Close stops Reserve and Enqueue. The database handle is owned by the caller.
func (q *PostgresQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
