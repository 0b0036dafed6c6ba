package partition

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidKey is returned for keys that have no place in the order,
	// such as NaN.
	ErrInvalidKey = errors.New("invalid key")

	// ErrClosed is returned by a manager that has been closed.
	ErrClosed = errors.New("partition manager is closed")

	// ErrBrokenPartition is returned when two adjacent shards turn out to
	// overlap, which means the boundary invariant no longer holds.
	ErrBrokenPartition = errors.New("adjacent shards overlap")
)
