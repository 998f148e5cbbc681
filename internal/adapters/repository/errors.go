package repository

import "errors"

// Sentinel kinds for persistence errors.
var (
	ErrNotFound         = errors.New("event not found")
	ErrDuplicateEvent   = errors.New("duplicate event")
	ErrLeadNotFound     = errors.New("lead not found")
	ErrLeadExists       = errors.New("lead already exists")
	ErrStaleEvent       = errors.New("event is not newer than last processed event")
	ErrAlreadyProcessed = errors.New("event already processed")
	ErrInvalidLimit     = errors.New("invalid limit")
)
