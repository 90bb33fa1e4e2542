package store

import "errors"

var (
	// ErrNotFound is returned when a page or job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDimensionMismatch is returned when a vector's length does not
	// match the dimension the store was opened with.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
