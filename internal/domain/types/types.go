// Package types contains result shapes shared by the service and its adapters.
package types

import "github.com/okian/engage/internal/domain/model"

// Entry is one leaderboard row.
type Entry struct {
	Rank     int    `json:"rank"`
	LeadID   string `json:"lead_id"`
	Email    string `json:"email"`
	Company  string `json:"company,omitempty"`
	Score    int    `json:"score"`
	MaxScore int    `json:"max_score"`
}

// SubmitResult is the structured outcome of a single submission.
type SubmitResult struct {
	Accepted  bool         `json:"accepted"`
	Duplicate bool         `json:"duplicate"`
	Event     *model.Event `json:"event,omitempty"`
}

// BatchItemError describes one failed item of a batch.
type BatchItemError struct {
	Index   int    `json:"index"`
	EventID string `json:"event_id"`
	Error   string `json:"error"`
}

// BatchResult aggregates per-item outcomes. Processed counts items that did
// not fail (accepted or duplicate).
type BatchResult struct {
	Success      bool             `json:"success"`
	Processed    int              `json:"processed"`
	Accepted     int              `json:"accepted"`
	Duplicates   int              `json:"duplicates"`
	Errors       int              `json:"errors"`
	Results      []SubmitResult   `json:"results"`
	ErrorDetails []BatchItemError `json:"error_details"`
}

// Pagination describes a page of a list.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes TotalPages from total and limit.
func NewPagination(page, limit, total int) Pagination {
	p := Pagination{Page: page, Limit: limit, Total: total}
	if limit > 0 {
		p.TotalPages = (total + limit - 1) / limit
	}
	return p
}

// Offset returns the number of rows skipped before page.
func Offset(page, limit int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * limit
}

// EventPage is a page of events, newest first.
type EventPage struct {
	Events     []model.Event `json:"events"`
	Pagination Pagination    `json:"pagination"`
}

// HistoryPage is a page of score history rows, newest first.
type HistoryPage struct {
	History    []model.ScoreHistory `json:"history"`
	Pagination Pagination           `json:"pagination"`
}
