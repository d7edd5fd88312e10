package domain

import "errors"

// -----------------------------------------------------------------------------
// Domain Errors
// These errors represent domain-level failures and are used by the catalog,
// controllers and surfaces to communicate domain-specific error conditions.
// -----------------------------------------------------------------------------

// Catalog errors
var (
	ErrLessonNotFound    = errors.New("lesson not found")
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrReferenceNotFound = errors.New("reference not found")
	ErrInvalidDifficulty = errors.New("invalid difficulty")
)

// Validation errors
var (
	ErrUnknownCheck = errors.New("unknown validation check")
)

// General errors
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("invalid state")
)
