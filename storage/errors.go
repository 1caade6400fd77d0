package storage

import "errors"

// Storage error constants
var (
	// ErrRuleNotFound is returned when a rule is not found
	ErrRuleNotFound = errors.New("rule not found")

	// ErrDuplicateRule is returned when attempting to create a rule that already exists
	ErrDuplicateRule = errors.New("rule already exists")

	// ErrInvalidRule is returned when a rule fails validation before it is written
	ErrInvalidRule = errors.New("invalid rule")

	// ErrConflict is returned when a rule changed between reading and writing it
	ErrConflict = errors.New("rule was modified concurrently")
)
