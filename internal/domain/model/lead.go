package model

import "time"

// Lead is a tracked prospect accumulating an engagement score.
//
// CurrentScore and LastProcessedEventTime are mutated only by the ledger's
// transactional score update. CurrentScore never decreases and never exceeds
// MaxScore.
type Lead struct {
	ID                     string     `json:"id"`
	Email                  string     `json:"email"`
	FirstName              string     `json:"first_name,omitempty"`
	LastName               string     `json:"last_name,omitempty"`
	Company                string     `json:"company,omitempty"`
	Phone                  string     `json:"phone,omitempty"`
	CurrentScore           int        `json:"current_score"`
	MaxScore               int        `json:"max_score"`
	LastProcessedEventTime *time.Time `json:"last_processed_event_time,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Accepts reports whether an event at ts passes the per-lead ordering check:
// either nothing was applied yet or ts is strictly after the last applied event.
func (l Lead) Accepts(ts time.Time) bool {
	return l.LastProcessedEventTime == nil || ts.After(*l.LastProcessedEventTime)
}

// ScoreHistory is one append-only audit row, written in the same transaction
// as the lead update it describes.
type ScoreHistory struct {
	ID            string    `json:"id"`
	LeadID        string    `json:"lead_id"`
	PreviousScore int       `json:"previous_score"`
	NewScore      int       `json:"new_score"`
	EventID       string    `json:"event_id"`
	EventType     EventType `json:"event_type"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}
