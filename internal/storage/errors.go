package storage

import "errors"

// Sentinel errors shared by every store implementation.
var (
	// ErrNotFound marks a lookup for a record that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey marks an insert whose key already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput marks a record that fails validation before it
	// reaches the database.
	ErrInvalidInput = errors.New("invalid input")
)
