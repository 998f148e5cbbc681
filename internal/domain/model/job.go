package model

import "time"

// JobStatus is the queue-level lifecycle of a job.
type JobStatus string

// Queue statuses.
const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is one queued unit of work: an accepted event awaiting scoring.
type Job struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"`
	LeadID     string    `json:"lead_id"`
	EventType  EventType `json:"event_type"`
	Timestamp  time.Time `json:"timestamp"`
	Status     JobStatus `json:"status"`
	Attempts   int       `json:"attempts"`
	RunAt      time.Time `json:"run_at"`
	LeaseUntil time.Time `json:"lease_until,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// JobFor builds the job payload for an accepted event.
func JobFor(e Event) Job {
	return Job{
		EventID:   e.EventID,
		LeadID:    e.LeadID,
		EventType: e.Type,
		Timestamp: e.Timestamp,
	}
}

// JobState is the worker-side state of a single job execution.
type JobState string

// Worker states. Ignored, Acknowledged and Failed are terminal.
const (
	StateReceived        JobState = "received"
	StateOrderingChecked JobState = "ordering_checked"
	StateRuleResolved    JobState = "rule_resolved"
	StateScoreApplied    JobState = "score_applied"
	StateAcknowledged    JobState = "acknowledged"
	StateIgnored         JobState = "ignored"
	StateFailed          JobState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s JobState) Terminal() bool {
	return s == StateAcknowledged || s == StateIgnored || s == StateFailed
}
