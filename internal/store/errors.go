package store

import "errors"

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflictRetryExhausted is returned when a serializable transaction
	// kept colliding with concurrent writers past the attempt budget.
	ErrConflictRetryExhausted = errors.New("transaction conflict: retries exhausted")
)
