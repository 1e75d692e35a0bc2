package storage

import "errors"

// Sentinel errors for the storage package.
var (
	ErrEmptyPath     = errors.New("database path must not be empty")
	ErrEventNotFound = errors.New("queued message not found")
	ErrUnknownStream = errors.New("unknown queue stream")
)
