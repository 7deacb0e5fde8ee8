package store

import "errors"

// Common store errors.
var (
	// ErrNotFound is returned when a row is not found.
	ErrNotFound = errors.New("row not found")
)
