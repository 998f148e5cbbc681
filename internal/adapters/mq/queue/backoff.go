package queue

import (
	"time"

	"github.com/okian/engage/internal/domain/model"
)

// Backoff returns the delay before retry number attempt (1-based):
// base * 2^(attempt-1), capped at ceiling.
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling || d <= 0 {
			return ceiling
		}
	}
	return min(d, ceiling)
}

// failJob moves an active job after an unsuccessful delivery: back to
// waiting with backoff, or to failed once the attempt ceiling is reached.
func (s settings) failJob(j *model.Job, now time.Time, cause string) {
	j.LastError = cause
	j.LeaseUntil = time.Time{}
	if j.Attempts >= s.maxAttempts {
		j.Status = model.JobFailed
		j.FinishedAt = now
		return
	}
	j.Status = model.JobWaiting
	j.RunAt = now.Add(Backoff(j.Attempts, s.backoffBase, s.backoffMax))
}
