package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied on startup. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS leads (
		id                        TEXT PRIMARY KEY,
		email                     TEXT NOT NULL UNIQUE,
		first_name                TEXT NOT NULL DEFAULT '',
		last_name                 TEXT NOT NULL DEFAULT '',
		company                   TEXT NOT NULL DEFAULT '',
		phone                     TEXT NOT NULL DEFAULT '',
		current_score             INTEGER NOT NULL DEFAULT 0,
		max_score                 INTEGER NOT NULL DEFAULT 1000,
		last_processed_event_time TIMESTAMPTZ,
		created_at                TIMESTAMPTZ NOT NULL,
		updated_at                TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS leads_score_idx ON leads (current_score DESC, id)`,
	`CREATE TABLE IF NOT EXISTS events (
		id          UUID PRIMARY KEY,
		event_id    TEXT NOT NULL UNIQUE,
		lead_id     TEXT NOT NULL REFERENCES leads (id),
		event_type  TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		metadata    JSONB,
		processed   BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS events_lead_time_idx ON events (lead_id, occurred_at DESC)`,
	`CREATE TABLE IF NOT EXISTS score_history (
		id             UUID PRIMARY KEY,
		lead_id        TEXT NOT NULL REFERENCES leads (id),
		previous_score INTEGER NOT NULL,
		new_score      INTEGER NOT NULL,
		event_id       TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		reason         TEXT NOT NULL,
		recorded_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS score_history_lead_idx ON score_history (lead_id, recorded_at DESC)`,
	`CREATE TABLE IF NOT EXISTS scoring_rules (
		event_type  TEXT PRIMARY KEY,
		points      INTEGER NOT NULL,
		enabled     BOOLEAN NOT NULL DEFAULT TRUE,
		description TEXT NOT NULL DEFAULT ''
	)`,
}

// Migrate creates the tables the store needs.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
