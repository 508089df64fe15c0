package storage

import "errors"

// Common storage errors
var (
	ErrNotFound = errors.New("not found")
	// ErrUnsupported is returned by backends that do not implement an
	// operation (the record-file store has no API key table).
	ErrUnsupported = errors.New("operation not supported by this storage backend")
)
