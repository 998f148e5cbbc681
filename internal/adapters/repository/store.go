// Package repository persists events, leads, score history and scoring rules.
package repository

import (
	"context"
	"time"

	"github.com/okian/engage/internal/domain/model"
)

// EventStore is the log of accepted events.
type EventStore interface {
	// InsertEvent stores e. Returns ErrDuplicateEvent if e.EventID already exists;
	// nothing is written in that case.
	InsertEvent(ctx context.Context, e model.Event) (model.Event, error)
	// GetEvent returns the event with the caller-supplied id, or ErrNotFound.
	GetEvent(ctx context.Context, eventID string) (model.Event, error)
	// ListEvents returns a lead's events newest first by event timestamp, and
	// the total number of events for the lead.
	ListEvents(ctx context.Context, leadID string, offset, limit int) ([]model.Event, int, error)
	// DeleteEvent removes an unprocessed event so intake can undo an insert
	// whose job was never enqueued. Returns ErrNotFound when no such row exists.
	DeleteEvent(ctx context.Context, eventID string) error
}

// LeadDirectory resolves and creates leads.
type LeadDirectory interface {
	// GetLead returns the lead with id, or ErrLeadNotFound.
	GetLead(ctx context.Context, id string) (model.Lead, error)
	// GetLeadByIdentifier matches identifier against lead id or email.
	GetLeadByIdentifier(ctx context.Context, identifier string) (model.Lead, error)
	// CreateLead inserts l. Returns ErrLeadExists when the id or email is taken.
	CreateLead(ctx context.Context, l model.Lead) (model.Lead, error)
}

// RuleStore persists scoring rules.
type RuleStore interface {
	// SeedRules inserts each rule whose event type has no row yet.
	SeedRules(ctx context.Context, rules []model.ScoringRule) error
	ListRules(ctx context.Context) ([]model.ScoringRule, error)
	UpsertRule(ctx context.Context, rule model.ScoringRule) (model.ScoringRule, error)
}

// ScoreChange asks the ledger to apply points from one event to one lead.
type ScoreChange struct {
	LeadID    string
	EventID   string
	EventType model.EventType
	Timestamp time.Time
	Points    int
	Reason    string
}

// ScoreOutcome describes a committed score application.
type ScoreOutcome struct {
	Lead    model.Lead
	History model.ScoreHistory
}

// Ledger owns the score mutation and its audit trail.
type Ledger interface {
	// ApplyScore runs atomically: it locks the lead, checks the event is not yet
	// processed (ErrAlreadyProcessed) and is newer than the last applied one
	// (ErrStaleEvent), writes the capped score and last processed time, appends
	// a history row and marks the event processed. On any error nothing changes.
	ApplyScore(ctx context.Context, c ScoreChange) (ScoreOutcome, error)
	// MarkProcessed flags an event as processed without touching the lead.
	MarkProcessed(ctx context.Context, eventID string) error
	// TopLeads returns up to n leads by current score desc, then id asc.
	TopLeads(ctx context.Context, n int) ([]model.Lead, error)
	// History returns a lead's score history newest first, and the total count.
	History(ctx context.Context, leadID string, offset, limit int) ([]model.ScoreHistory, int, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	EventStore
	LeadDirectory
	RuleStore
	Ledger
	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
	Close() error
}
