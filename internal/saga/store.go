package saga

import (
	"context"
	"errors"
)

var (
	// ErrAlreadyExists is returned by Create when a record with the same
	// correlation ID is present, signaling a creation race.
	ErrAlreadyExists = errors.New("saga state already exists")

	// ErrStoreUnavailable marks the backing store as unreachable. Fatal for
	// the current event attempt; the transport's redelivery self-heals it.
	ErrStoreUnavailable = errors.New("saga store unavailable")
)

// Store is the keyed persistence contract for saga records. Every record
// carries a revision that increments on each successful write; CompareAndSwap
// is the only conflict signal, so no global lock is needed across workers.
type Store interface {
	// Load fetches a record by correlation ID. Absence is not an error.
	Load(ctx context.Context, correlationID string) (*OrderSagaState, int64, bool, error)

	// Create inserts a new record at revision 1. Returns ErrAlreadyExists
	// if the correlation ID is taken.
	Create(ctx context.Context, state *OrderSagaState) error

	// CompareAndSwap replaces the record if its stored revision still equals
	// expectedRevision. A false return means a concurrent writer won; the
	// caller must reload and retry.
	CompareAndSwap(ctx context.Context, expectedRevision int64, state *OrderSagaState) (bool, error)
}
