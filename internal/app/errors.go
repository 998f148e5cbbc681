package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrInvalidEvent      = errors.New("invalid event")
	ErrInvalidLead       = errors.New("invalid lead")
	ErrEnqueue           = errors.New("enqueue scoring job")
	ErrInvalidPagination = errors.New("invalid pagination")
	ErrStopped           = errors.New("service stopped")
)
