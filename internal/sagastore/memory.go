package sagastore

import (
	"context"
	"sync"

	"github.com/nathanyu/order-saga/internal/saga"
)

type memoryRecord struct {
	state    *saga.OrderSagaState
	revision int64
}

// MemoryStore keeps saga records in a process-local map. No durability;
// intended for single-process deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

// Load fetches a copy of the record so callers can never mutate stored state
func (s *MemoryStore) Load(ctx context.Context, correlationID string) (*saga.OrderSagaState, int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[correlationID]
	if !ok {
		return nil, 0, false, nil
	}
	return rec.state.Clone(), rec.revision, true, nil
}

// Create inserts a record at revision 1
func (s *MemoryStore) Create(ctx context.Context, state *saga.OrderSagaState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[state.CorrelationID]; ok {
		return saga.ErrAlreadyExists
	}
	s.records[state.CorrelationID] = memoryRecord{state: state.Clone(), revision: 1}
	return nil
}

// CompareAndSwap replaces the record only if the revision still matches
func (s *MemoryStore) CompareAndSwap(ctx context.Context, expectedRevision int64, state *saga.OrderSagaState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[state.CorrelationID]
	if !ok || rec.revision != expectedRevision {
		return false, nil
	}
	s.records[state.CorrelationID] = memoryRecord{state: state.Clone(), revision: expectedRevision + 1}
	return true, nil
}

// Len returns the number of stored sagas
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
