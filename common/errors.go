package common

import "errors"

// ErrNotFound is returned when a requested item (e.g., TTL record, entity) is not found.
var ErrNotFound = errors.New("syncstore: requested item not found")

// Additional package-level errors
var (
	// ErrInvalidScope indicates a Scope predicate or order that cannot be evaluated.
	ErrInvalidScope = errors.New("syncstore: invalid scope")
	// ErrInvalidEntity indicates a value that cannot be stored (nil, empty ID or table).
	ErrInvalidEntity = errors.New("syncstore: invalid entity")
	// ErrCommitFailed marks a local write transaction that did not commit after a successful fetch.
	ErrCommitFailed  = errors.New("syncstore: local store commit failed")
	ErrRemoteNotSet  = errors.New("syncstore: remote fetch capability not set")
	ErrLocalNotSet   = errors.New("syncstore: local store not set")
	ErrStoreClosed   = errors.New("syncstore: store has been closed")
	ErrTxDone        = errors.New("syncstore: transaction has already been committed or rolled back")
	ErrInvalidDest   = errors.New("syncstore: destination must be a non-nil pointer to a slice")
	ErrInvalidConfig = errors.New("syncstore: invalid configuration")
	// ErrSharedTTL marks a shared freshness record that could not be updated after the local commit.
	ErrSharedTTL = errors.New("syncstore: shared ttl record not updated")
)
