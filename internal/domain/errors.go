package domain

import "errors"

var (
	// ErrValidation marks input that fails domain validation.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a lookup for a submission that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a state transition that is no longer allowed.
	ErrConflict = errors.New("conflict")
)
