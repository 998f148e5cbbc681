// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType is the closed set of behaviors that can be scored.
type EventType string

// Known event types.
const (
	EventPageView    EventType = "PAGE_VIEW"
	EventEmailOpen   EventType = "EMAIL_OPEN"
	EventFormSubmit  EventType = "FORM_SUBMIT"
	EventDemoRequest EventType = "DEMO_REQUEST"
	EventPurchase    EventType = "PURCHASE"
)

// EventTypes lists every known event type in a stable order.
var EventTypes = []EventType{
	EventPageView,
	EventEmailOpen,
	EventFormSubmit,
	EventDemoRequest,
	EventPurchase,
}

// ErrUnknownEventType is returned by ParseEventType for values outside the enum.
var ErrUnknownEventType = errors.New("unknown event type")

// ParseEventType validates s against the enum. Matching is exact.
func ParseEventType(s string) (EventType, error) {
	for _, t := range EventTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
}

// Valid reports whether t is a member of the enum.
func (t EventType) Valid() bool {
	_, err := ParseEventType(string(t))
	return err == nil
}

// Event is a single observed behavior attributed to a lead. Created once by
// intake; Processed flips to true exactly once, when the worker has fully
// applied it.
type Event struct {
	ID        string         `json:"id"`
	EventID   string         `json:"event_id"` // caller-supplied idempotency key
	LeadID    string         `json:"lead_id"`
	Type      EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Processed bool           `json:"processed"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventInput is the validated tuple handed to intake.
type EventInput struct {
	EventID   string         `json:"event_id"`
	LeadID    string         `json:"lead_id"`
	EventType string         `json:"event_type"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate checks the input shape and returns the parsed event type and time.
func (in EventInput) Validate() (EventType, time.Time, error) {
	switch {
	case strings.TrimSpace(in.EventID) == "":
		return "", time.Time{}, errors.New("missing event_id")
	case strings.TrimSpace(in.LeadID) == "":
		return "", time.Time{}, errors.New("missing lead_id")
	case strings.TrimSpace(in.Timestamp) == "":
		return "", time.Time{}, errors.New("missing timestamp")
	}
	t, err := ParseEventType(in.EventType)
	if err != nil {
		return "", time.Time{}, err
	}
	ts, err := ParseTimestamp(in.Timestamp)
	if err != nil {
		return "", time.Time{}, err
	}
	return t, ts, nil
}

// ParseTimestamp accepts RFC 3339 with or without fractional seconds, and
// bare dates. Results are normalized to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q; must be ISO 8601", s)
}
