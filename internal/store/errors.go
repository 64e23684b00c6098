package store

import "errors"

var (
	// ErrNonFinite is returned when a write carries a NaN or infinite price.
	ErrNonFinite = errors.New("store: price is not finite")

	// ErrStaleWrite is returned when a write's timestamp is older than the
	// timestamp currently stored for the key.
	ErrStaleWrite = errors.New("store: stale write rejected")

	// ErrKeyNotFound is returned by reads for keys that were never written.
	ErrKeyNotFound = errors.New("store: key not found")

	// ErrCapacityExceeded is returned when a write would require allocating
	// a slot beyond the store's fixed capacity.
	ErrCapacityExceeded = errors.New("store: capacity exceeded")

	// ErrReadContention is returned when a read exhausts its retry budget.
	// This indicates a broken single-writer assumption on the caller side,
	// not a routine outcome.
	ErrReadContention = errors.New("store: seqlock read retries exhausted")
)
