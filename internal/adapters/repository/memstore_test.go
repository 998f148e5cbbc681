package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/engage/internal/domain/model"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seedLead(t *testing.T, s *MemoryStore, id string, score, maxScore int) {
	t.Helper()
	if _, err := s.CreateLead(context.Background(), model.Lead{ID: id, Email: id, CurrentScore: score, MaxScore: maxScore}); err != nil {
		t.Fatalf("create lead: %v", err)
	}
}

func seedEvent(t *testing.T, s *MemoryStore, eventID, leadID string, et model.EventType, ts time.Time) {
	t.Helper()
	if _, err := s.InsertEvent(context.Background(), model.Event{EventID: eventID, LeadID: leadID, Type: et, Timestamp: ts}); err != nil {
		t.Fatalf("insert event: %v", err)
	}
}

func TestMemoryStore_InsertEventIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedLead(t, s, "lead@example.com", 0, 1000)

	first, err := s.InsertEvent(ctx, model.Event{EventID: "e-1", LeadID: "lead@example.com", Type: model.EventPageView, Timestamp: t0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID == "" || first.Processed {
		t.Errorf("expected generated id and unprocessed event, got %+v", first)
	}

	_, err = s.InsertEvent(ctx, model.Event{EventID: "e-1", LeadID: "lead@example.com", Type: model.EventPurchase, Timestamp: t0})
	if !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}

	got, err := s.GetEvent(ctx, "e-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Type != model.EventPageView {
		t.Errorf("duplicate overwrote the original event: %s", got.Type)
	}
	if _, err := s.GetEvent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_DeleteEventUndoesInsert(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedLead(t, s, "l", 0, 1000)
	seedEvent(t, s, "e-1", "l", model.EventPageView, t0)
	seedEvent(t, s, "e-2", "l", model.EventEmailOpen, t0.Add(time.Minute))

	if err := s.DeleteEvent(ctx, "e-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.GetEvent(ctx, "e-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected deleted event to be gone, got %v", err)
	}
	_, total, _ := s.ListEvents(ctx, "l", 0, 10)
	if total != 1 {
		t.Errorf("expected 1 remaining event, got %d", total)
	}
	if _, err := s.InsertEvent(ctx, model.Event{EventID: "e-1", LeadID: "l", Type: model.EventPageView, Timestamp: t0}); err != nil {
		t.Errorf("expected re-insert after delete to succeed, got %v", err)
	}

	if err := s.MarkProcessed(ctx, "e-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.DeleteEvent(ctx, "e-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected processed event to be kept, got %v", err)
	}
	if err := s.DeleteEvent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListEventsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedLead(t, s, "l", 0, 1000)
	for i := 0; i < 5; i++ {
		seedEvent(t, s, fmt.Sprintf("e-%d", i), "l", model.EventPageView, t0.Add(time.Duration(i)*time.Minute))
	}

	page, total, err := s.ListEvents(ctx, "l", 0, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("expected 2 of 5, got %d of %d", len(page), total)
	}
	if page[0].EventID != "e-4" || page[1].EventID != "e-3" {
		t.Errorf("unexpected order: %s, %s", page[0].EventID, page[1].EventID)
	}

	tail, _, _ := s.ListEvents(ctx, "l", 4, 2)
	if len(tail) != 1 || tail[0].EventID != "e-0" {
		t.Errorf("unexpected tail page: %+v", tail)
	}
	past, _, _ := s.ListEvents(ctx, "l", 10, 2)
	if len(past) != 0 {
		t.Errorf("expected empty page past the end, got %d", len(past))
	}
	if _, _, err := s.ListEvents(ctx, "l", 0, 0); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("expected ErrInvalidLimit, got %v", err)
	}
}

func TestMemoryStore_LeadDirectory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.CreateLead(ctx, model.Lead{ID: "lead-1", Email: "a@example.com", MaxScore: 1000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.CreateLead(ctx, model.Lead{ID: "lead-1", Email: "b@example.com"}); !errors.Is(err, ErrLeadExists) {
		t.Errorf("expected ErrLeadExists for id, got %v", err)
	}
	if _, err := s.CreateLead(ctx, model.Lead{ID: "lead-2", Email: "a@example.com"}); !errors.Is(err, ErrLeadExists) {
		t.Errorf("expected ErrLeadExists for email, got %v", err)
	}

	byID, err := s.GetLeadByIdentifier(ctx, "lead-1")
	if err != nil || byID.ID != "lead-1" {
		t.Errorf("lookup by id failed: %+v %v", byID, err)
	}
	byEmail, err := s.GetLeadByIdentifier(ctx, "a@example.com")
	if err != nil || byEmail.ID != "lead-1" {
		t.Errorf("lookup by email failed: %+v %v", byEmail, err)
	}
	if _, err := s.GetLead(ctx, "nobody"); !errors.Is(err, ErrLeadNotFound) {
		t.Errorf("expected ErrLeadNotFound, got %v", err)
	}
}

func TestMemoryStore_ApplyScore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedLead(t, s, "l", 90, 100)
	seedEvent(t, s, "buy", "l", model.EventPurchase, t0)

	out, err := s.ApplyScore(ctx, ScoreChange{
		LeadID: "l", EventID: "buy", EventType: model.EventPurchase, Timestamp: t0, Points: 100, Reason: "+100 points for PURCHASE",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Lead.CurrentScore != 100 {
		t.Errorf("expected capped score 100, got %d", out.Lead.CurrentScore)
	}
	if out.History.PreviousScore != 90 || out.History.NewScore != 100 || out.History.Reason != "+100 points for PURCHASE" {
		t.Errorf("unexpected history: %+v", out.History)
	}
	if out.Lead.LastProcessedEventTime == nil || !out.Lead.LastProcessedEventTime.Equal(t0) {
		t.Errorf("last processed time not advanced: %v", out.Lead.LastProcessedEventTime)
	}
	ev, _ := s.GetEvent(ctx, "buy")
	if !ev.Processed {
		t.Error("event not marked processed")
	}

	// Same event again: nothing changes.
	if _, err := s.ApplyScore(ctx, ScoreChange{LeadID: "l", EventID: "buy", Timestamp: t0.Add(time.Hour), Points: 5}); !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("expected ErrAlreadyProcessed, got %v", err)
	}
	hist, total, _ := s.History(ctx, "l", 0, 10)
	if total != 1 || len(hist) != 1 {
		t.Errorf("expected one history row, got %d", total)
	}
}

func TestMemoryStore_ApplyScoreRejectsStaleEvents(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedLead(t, s, "l", 0, 1000)
	seedEvent(t, s, "late", "l", model.EventEmailOpen, t0.Add(time.Hour))
	seedEvent(t, s, "early", "l", model.EventPageView, t0)
	seedEvent(t, s, "same", "l", model.EventPageView, t0.Add(time.Hour))

	if _, err := s.ApplyScore(ctx, ScoreChange{LeadID: "l", EventID: "late", Timestamp: t0.Add(time.Hour), Points: 10}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, id := range []string{"early", "same"} {
		ev, _ := s.GetEvent(ctx, id)
		_, err := s.ApplyScore(ctx, ScoreChange{LeadID: "l", EventID: id, Timestamp: ev.Timestamp, Points: 5})
		if !errors.Is(err, ErrStaleEvent) {
			t.Errorf("%s: expected ErrStaleEvent, got %v", id, err)
		}
	}

	lead, _ := s.GetLead(ctx, "l")
	if lead.CurrentScore != 10 {
		t.Errorf("stale events changed the score: %d", lead.CurrentScore)
	}
	if _, err := s.ApplyScore(ctx, ScoreChange{LeadID: "ghost", EventID: "late"}); !errors.Is(err, ErrLeadNotFound) {
		t.Errorf("expected ErrLeadNotFound, got %v", err)
	}
}

func TestMemoryStore_ConcurrentApplyKeepsHistoryConsistent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedLead(t, s, "l", 0, 1_000_000)
	const n = 50
	for i := 0; i < n; i++ {
		seedEvent(t, s, fmt.Sprintf("e-%d", i), "l", model.EventPageView, t0.Add(time.Duration(i)*time.Second))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.ApplyScore(ctx, ScoreChange{
				LeadID: "l", EventID: fmt.Sprintf("e-%d", i), Timestamp: t0.Add(time.Duration(i) * time.Second), Points: 5,
			})
		}(i)
	}
	wg.Wait()

	lead, _ := s.GetLead(ctx, "l")
	hist, total, _ := s.History(ctx, "l", 0, n)
	if lead.CurrentScore != 5*total {
		t.Errorf("score %d does not match %d history rows", lead.CurrentScore, total)
	}
	for _, h := range hist {
		if h.NewScore-h.PreviousScore != 5 {
			t.Errorf("history row %s is not a +5 step: %d -> %d", h.EventID, h.PreviousScore, h.NewScore)
		}
	}
	if len(hist) > 1 && hist[0].NewScore < hist[1].NewScore {
		t.Error("history is not newest first")
	}
}

func TestMemoryStore_RulesAndLeaderboard(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.SeedRules(ctx, model.DefaultRules(map[string]int{"PAGE_VIEW": 5, "PURCHASE": 100})); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.UpsertRule(ctx, model.ScoringRule{EventType: model.EventPageView, Points: 8, Enabled: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Seeding again must not clobber the edit.
	_ = s.SeedRules(ctx, model.DefaultRules(map[string]int{"PAGE_VIEW": 5}))
	rules, _ := s.ListRules(ctx)
	if len(rules) != 2 || rules[0].Points != 8 {
		t.Errorf("unexpected rules: %+v", rules)
	}

	seedLead(t, s, "b", 50, 1000)
	seedLead(t, s, "a", 50, 1000)
	seedLead(t, s, "c", 70, 1000)
	top, err := s.TopLeads(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(top) != 2 || top[0].ID != "c" || top[1].ID != "a" {
		t.Errorf("unexpected leaderboard: %+v", top)
	}
}
