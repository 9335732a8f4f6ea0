package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrStateConflict indicates the record exists but is not in the state the action requires.
	ErrStateConflict = errors.New("state conflict")
	// ErrDuplicate indicates a uniqueness constraint was hit.
	ErrDuplicate = errors.New("duplicate entry")
)
