package loader

import "errors"

// Sentinel error kinds for this package.
var (
	ErrUnknownFormat = errors.New("unknown input format")
	ErrParse         = errors.New("parse events")
	ErrSubmit        = errors.New("submit batch")
)
