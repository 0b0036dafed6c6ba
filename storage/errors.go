package storage

import "github.com/cockroachdb/errors"

var (
	// ErrNotFound is returned when no artifact exists for a shard id.
	ErrNotFound = errors.New("shard artifact not found")

	// ErrCorrupt is returned when an artifact cannot be decoded.
	ErrCorrupt = errors.New("shard artifact is corrupt")

	// ErrClosed is returned by a cache that has been closed.
	ErrClosed = errors.New("cache is closed")

	// ErrInvalidID is returned for ids that cannot name a file.
	ErrInvalidID = errors.New("invalid shard id")
)
