package scoring

import "errors"

// Sentinel kinds for rule errors.
var (
	ErrInvalidRule = errors.New("invalid scoring rule")
	ErrRulesLoad   = errors.New("load scoring rules")
)
