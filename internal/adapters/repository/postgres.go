package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/okian/engage/internal/domain/model"
	"github.com/okian/engage/internal/domain/scoring"
	"github.com/okian/engage/pkg/logger"
)

const uniqueViolation = "23505"

const (
	leadColumns  = `id, email, first_name, last_name, company, phone, current_score, max_score, last_processed_event_time, created_at, updated_at`
	eventColumns = `id, event_id, lead_id, event_type, occurred_at, metadata, processed, created_at`
)

// PostgresStore is a Store backed by PostgreSQL through lib/pq.
type PostgresStore struct {
	db   *sql.DB
	opts storeOptions
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to dsn, tunes the pool, pings and migrates.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := NewPostgresStore(db, opts...)
	db.SetMaxOpenConns(s.opts.maxOpenConns)
	db.SetMaxIdleConns(s.opts.maxIdleConns)
	db.SetConnMaxLifetime(s.opts.connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.opts.log.Info(ctx, "database connection established",
		logger.Int("max_open_conns", s.opts.maxOpenConns),
		logger.Int("max_idle_conns", s.opts.maxIdleConns),
		logger.Duration("conn_max_lifetime", s.opts.connMaxLifetime),
	)
	return s, nil
}

// NewPostgresStore wraps an existing handle. The schema must already exist.
func NewPostgresStore(db *sql.DB, opts ...Option) *PostgresStore {
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &PostgresStore{db: db, opts: o}
}

// DB exposes the handle so other adapters can share the pool.
func (s *PostgresStore) DB() *sql.DB { return s.db }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(r rowScanner) (model.Lead, error) {
	var (
		l    model.Lead
		last sql.NullTime
	)
	if err := r.Scan(&l.ID, &l.Email, &l.FirstName, &l.LastName, &l.Company, &l.Phone,
		&l.CurrentScore, &l.MaxScore, &last, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return model.Lead{}, err
	}
	if last.Valid {
		ts := last.Time.UTC()
		l.LastProcessedEventTime = &ts
	}
	return l, nil
}

func scanEvent(r rowScanner) (model.Event, error) {
	var (
		e        model.Event
		eventTyp string
		meta     []byte
	)
	if err := r.Scan(&e.ID, &e.EventID, &e.LeadID, &eventTyp, &e.Timestamp, &meta, &e.Processed, &e.CreatedAt); err != nil {
		return model.Event{}, err
	}
	e.Type = model.EventType(eventTyp)
	e.Timestamp = e.Timestamp.UTC()
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return model.Event{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return e, nil
}

func (s *PostgresStore) InsertEvent(ctx context.Context, e model.Event) (model.Event, error) {
	if e.ID == "" {
		e.ID = s.opts.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.opts.now()
	}
	e.Processed = false

	// lib/pq sends []byte as bytea, so JSONB goes over the wire as text.
	var meta any
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return model.Event{}, fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(raw)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)`,
		e.ID, e.EventID, e.LeadID, string(e.Type), e.Timestamp, meta, e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Event{}, fmt.Errorf("%w: %s", ErrDuplicateEvent, e.EventID)
		}
		return model.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, eventID string) (model.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE event_id = $1`, eventID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, fmt.Errorf("%w: %s", ErrNotFound, eventID)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) DeleteEvent(ctx context.Context, eventID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE event_id = $1 AND processed = FALSE`, eventID)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, eventID)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, leadID string, offset, limit int) ([]model.Event, int, error) {
	if limit <= 0 || offset < 0 {
		return nil, 0, ErrInvalidLimit
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM events WHERE lead_id = $1`, leadID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE lead_id = $1
		 ORDER BY occurred_at DESC, created_at DESC LIMIT $2 OFFSET $3`,
		leadID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]model.Event, 0, limit)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	return events, total, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (model.Lead, error) {
	l, err := scanLead(s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Lead{}, fmt.Errorf("%w: %s", ErrLeadNotFound, id)
	}
	if err != nil {
		return model.Lead{}, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) GetLeadByIdentifier(ctx context.Context, identifier string) (model.Lead, error) {
	l, err := scanLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1 OR email = $1 ORDER BY (id = $1) DESC LIMIT 1`, identifier))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Lead{}, fmt.Errorf("%w: %s", ErrLeadNotFound, identifier)
	}
	if err != nil {
		return model.Lead{}, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) CreateLead(ctx context.Context, l model.Lead) (model.Lead, error) {
	now := s.opts.now()
	l.CreatedAt, l.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (`+leadColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, $9, $10)`,
		l.ID, l.Email, l.FirstName, l.LastName, l.Company, l.Phone, l.CurrentScore, l.MaxScore, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Lead{}, fmt.Errorf("%w: %s", ErrLeadExists, l.ID)
		}
		return model.Lead{}, fmt.Errorf("create lead: %w", err)
	}
	l.LastProcessedEventTime = nil
	return l, nil
}

func (s *PostgresStore) SeedRules(ctx context.Context, rules []model.ScoringRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range rules {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scoring_rules (event_type, points, enabled, description) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (event_type) DO NOTHING`,
			string(r.EventType), r.Points, r.Enabled, r.Description); err != nil {
			return fmt.Errorf("seed rule %s: %w", r.EventType, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRules(ctx context.Context) ([]model.ScoringRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_type, points, enabled, description FROM scoring_rules ORDER BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []model.ScoringRule
	for rows.Next() {
		var (
			r  model.ScoringRule
			et string
		)
		if err := rows.Scan(&et, &r.Points, &r.Enabled, &r.Description); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.EventType = model.EventType(et)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertRule(ctx context.Context, r model.ScoringRule) (model.ScoringRule, error) {
	var (
		out model.ScoringRule
		et  string
	)
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO scoring_rules (event_type, points, enabled, description) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_type) DO UPDATE
		 SET points = EXCLUDED.points, enabled = EXCLUDED.enabled, description = EXCLUDED.description
		 RETURNING event_type, points, enabled, description`,
		string(r.EventType), r.Points, r.Enabled, r.Description,
	).Scan(&et, &out.Points, &out.Enabled, &out.Description)
	if err != nil {
		return model.ScoringRule{}, fmt.Errorf("upsert rule: %w", err)
	}
	out.EventType = model.EventType(et)
	return out, nil
}

func (s *PostgresStore) ApplyScore(ctx context.Context, c ScoreChange) (ScoreOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ScoreOutcome{}, fmt.Errorf("begin apply: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	lead, err := scanLead(tx.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1 FOR UPDATE`, c.LeadID))
	if errors.Is(err, sql.ErrNoRows) {
		return ScoreOutcome{}, fmt.Errorf("%w: %s", ErrLeadNotFound, c.LeadID)
	}
	if err != nil {
		return ScoreOutcome{}, fmt.Errorf("lock lead: %w", err)
	}

	var processed bool
	err = tx.QueryRowContext(ctx, `SELECT processed FROM events WHERE event_id = $1 FOR UPDATE`, c.EventID).Scan(&processed)
	if errors.Is(err, sql.ErrNoRows) {
		return ScoreOutcome{}, fmt.Errorf("%w: %s", ErrNotFound, c.EventID)
	}
	if err != nil {
		return ScoreOutcome{}, fmt.Errorf("lock event: %w", err)
	}
	if processed {
		return ScoreOutcome{}, fmt.Errorf("%w: %s", ErrAlreadyProcessed, c.EventID)
	}
	if !lead.Accepts(c.Timestamp) {
		return ScoreOutcome{}, fmt.Errorf("%w: %s at %s", ErrStaleEvent, c.EventID, c.Timestamp)
	}

	now := s.opts.now()
	prev := lead.CurrentScore
	ts := c.Timestamp.UTC()
	lead.CurrentScore = scoring.CappedScore(prev, c.Points, lead.MaxScore)
	lead.LastProcessedEventTime = &ts
	lead.UpdatedAt = now

	if _, err := tx.ExecContext(ctx,
		`UPDATE leads SET current_score = $2, last_processed_event_time = $3, updated_at = $4 WHERE id = $1`,
		lead.ID, lead.CurrentScore, ts, now); err != nil {
		return ScoreOutcome{}, fmt.Errorf("update lead: %w", err)
	}

	h := model.ScoreHistory{
		ID:            s.opts.newID(),
		LeadID:        lead.ID,
		PreviousScore: prev,
		NewScore:      lead.CurrentScore,
		EventID:       c.EventID,
		EventType:     c.EventType,
		Reason:        c.Reason,
		Timestamp:     now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO score_history (id, lead_id, previous_score, new_score, event_id, event_type, reason, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		h.ID, h.LeadID, h.PreviousScore, h.NewScore, h.EventID, string(h.EventType), h.Reason, h.Timestamp); err != nil {
		return ScoreOutcome{}, fmt.Errorf("append history: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE events SET processed = TRUE WHERE event_id = $1`, c.EventID); err != nil {
		return ScoreOutcome{}, fmt.Errorf("mark processed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ScoreOutcome{}, fmt.Errorf("commit apply: %w", err)
	}
	return ScoreOutcome{Lead: lead, History: h}, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, eventID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE events SET processed = TRUE WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, eventID)
	}
	return nil
}

func (s *PostgresStore) TopLeads(ctx context.Context, n int) ([]model.Lead, error) {
	if n <= 0 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+leadColumns+` FROM leads ORDER BY current_score DESC, id ASC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("top leads: %w", err)
	}
	defer rows.Close()

	out := make([]model.Lead, 0, n)
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("top leads: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) History(ctx context.Context, leadID string, offset, limit int) ([]model.ScoreHistory, int, error) {
	if limit <= 0 || offset < 0 {
		return nil, 0, ErrInvalidLimit
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM score_history WHERE lead_id = $1`, leadID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, previous_score, new_score, event_id, event_type, reason, recorded_at
		 FROM score_history WHERE lead_id = $1 ORDER BY recorded_at DESC LIMIT $2 OFFSET $3`,
		leadID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	out := make([]model.ScoreHistory, 0, limit)
	for rows.Next() {
		var (
			h  model.ScoreHistory
			et string
		)
		if err := rows.Scan(&h.ID, &h.LeadID, &h.PreviousScore, &h.NewScore, &h.EventID, &et, &h.Reason, &h.Timestamp); err != nil {
			return nil, 0, fmt.Errorf("scan history: %w", err)
		}
		h.EventType = model.EventType(et)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	return out, total, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
