package storage

import "errors"

// Storage errors shared by all backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists in an insert-only store.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPartitionMissing is returned when a write targets a time range
	// with no backing partition. The partition manager must be run for
	// that range before the write can succeed.
	ErrPartitionMissing = errors.New("no partition covers the target time range")
)
