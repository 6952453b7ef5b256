package saga_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nathanyu/order-saga/internal/domain"
	"github.com/nathanyu/order-saga/internal/saga"
	"github.com/nathanyu/order-saga/internal/sagastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	orderID = "0191a8b0-1111-7000-8000-000000000001"
	userID  = "0191a8b0-1111-7000-8000-000000000002"
)

// recordingEmitter collects emitted notifications; fail makes every Emit error
type recordingEmitter struct {
	mu       sync.Mutex
	requests []domain.NotificationRequest
	fail     bool
}

func (e *recordingEmitter) Emit(ctx context.Context, req domain.NotificationRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return errors.New("channel refused message")
	}
	e.requests = append(e.requests, req)
	return nil
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

func (e *recordingEmitter) texts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.requests))
	for i, r := range e.requests {
		out[i] = r.Text
	}
	return out
}

func submitted(at time.Time) domain.OrderSubmitted {
	return domain.OrderSubmitted{
		OrderID: orderID, UserID: userID, CurrencyID: "ETH",
		Price: 150000, OrderType: domain.OrderTypeSell, Quantity: 3,
		SubmittedAt: at,
	}
}

func placed(at time.Time) domain.OrderPlaced {
	return domain.OrderPlaced{
		OrderID: orderID, UserID: userID, CurrencyID: "ETH",
		Price: 150000, OrderType: domain.OrderTypeSell, Quantity: 3,
		PlacedAt: at,
	}
}

func filled(at time.Time) domain.OrderFilled {
	return domain.OrderFilled{
		OrderID: orderID, UserID: userID, CurrencyID: "ETH",
		Price: 150000, OrderType: domain.OrderTypeSell, Quantity: 3,
		FilledAt: at,
	}
}

func cancelled(at time.Time) domain.OrderCancelled {
	return domain.OrderCancelled{
		OrderID: orderID, UserID: userID, CurrencyID: "ETH",
		Price: 150000, OrderType: domain.OrderTypeSell, Quantity: 3,
		CancelledAt: at,
	}
}

func failedEvent(at time.Time) domain.OrderFailed {
	return domain.OrderFailed{
		OrderID: orderID, UserID: userID, Reason: "risk check", FailedAt: at,
	}
}

func TestFullLifecycle(t *testing.T) {
	store := sagastore.NewMemoryStore()
	emitter := &recordingEmitter{}
	coord := saga.NewCoordinator(store, emitter, nil)
	ctx := context.Background()

	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Second)
	t2 := t0.Add(2 * time.Second)

	require.NoError(t, coord.Process(ctx, submitted(t0)))
	require.NoError(t, coord.Process(ctx, placed(t1)))
	require.NoError(t, coord.Process(ctx, filled(t2)))

	state, revision, found, err := store.Load(ctx, orderID)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, saga.StateFilled, state.CurrentState)
	assert.Equal(t, int64(3), revision)
	require.NotNil(t, state.SubmittedAt)
	require.NotNil(t, state.PlacedAt)
	require.NotNil(t, state.FilledAt)
	assert.Equal(t, t0, *state.SubmittedAt)
	assert.Equal(t, t1, *state.PlacedAt)
	assert.Equal(t, t2, *state.FilledAt)
	assert.Nil(t, state.CancelledAt)
	assert.Nil(t, state.ExpiredAt)
	assert.Nil(t, state.FailedAt)
	assert.Equal(t, userID, state.UserID)

	assert.Equal(t, []string{"Order submitted", "Order placed", "Order filled"}, emitter.texts())

	// Terminal: a late cancel is rejected and the record is unchanged
	err = coord.Process(ctx, cancelled(t0.Add(3*time.Second)))
	assert.ErrorIs(t, err, saga.ErrStateConflict)

	after, afterRev, _, err := store.Load(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, state, after)
	assert.Equal(t, revision, afterRev)
	assert.Equal(t, 3, emitter.count())
}

func TestDuplicateDeliveryEmitsOnce(t *testing.T) {
	store := sagastore.NewMemoryStore()
	emitter := &recordingEmitter{}
	coord := saga.NewCoordinator(store, emitter, nil)
	ctx := context.Background()

	event := submitted(time.Now().UTC())
	require.NoError(t, coord.Process(ctx, event))

	// Exact redelivery: no error, no state change, no second notification
	require.NoError(t, coord.Process(ctx, event))

	state, revision, found, err := store.Load(ctx, orderID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, saga.StateSubmitted, state.CurrentState)
	assert.Equal(t, int64(1), revision)
	assert.Equal(t, 1, emitter.count())
}

func TestEventForUnknownOrderCreatesNoRecord(t *testing.T) {
	store := sagastore.NewMemoryStore()
	emitter := &recordingEmitter{}
	coord := saga.NewCoordinator(store, emitter, nil)
	ctx := context.Background()

	err := coord.Process(ctx, cancelled(time.Now().UTC()))
	assert.ErrorIs(t, err, saga.ErrStateConflict)

	_, _, found, loadErr := store.Load(ctx, orderID)
	require.NoError(t, loadErr)
	assert.False(t, found, "rejected event must not create a saga record")
	assert.Zero(t, store.Len())
	assert.Zero(t, emitter.count())
}

// Two conflicting events race from the submitted state: exactly one wins,
// the loser retries against the new revision and is rejected as a conflict.
func TestConcurrentConflictingEvents(t *testing.T) {
	store := sagastore.NewMemoryStore()
	emitter := &recordingEmitter{}
	coord := saga.NewCoordinator(store, emitter, nil)
	ctx := context.Background()

	require.NoError(t, coord.Process(ctx, submitted(time.Now().UTC())))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	events := []domain.Event{
		cancelled(time.Now().UTC()),
		failedEvent(time.Now().UTC()),
	}
	for i := range events {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = coord.Process(ctx, events[i])
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, saga.ErrStateConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)

	state, _, found, err := store.Load(ctx, orderID)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, state.CurrentState.IsTerminal())

	terminalSet := 0
	for _, ts := range []*time.Time{state.FilledAt, state.CancelledAt, state.ExpiredAt, state.FailedAt} {
		if ts != nil {
			terminalSet++
		}
	}
	assert.Equal(t, 1, terminalSet)

	// Submit notification plus exactly one terminal notification
	assert.Equal(t, 2, emitter.count())
}

func TestManyConcurrentDuplicates(t *testing.T) {
	store := sagastore.NewMemoryStore()
	emitter := &recordingEmitter{}
	coord := saga.NewCoordinator(store, emitter, nil)
	ctx := context.Background()

	event := submitted(time.Now().UTC())

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = coord.Process(ctx, event)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "worker %d", i)
	}

	state, revision, found, err := store.Load(ctx, orderID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, saga.StateSubmitted, state.CurrentState)
	assert.Equal(t, int64(1), revision, "only the first delivery may write")
	assert.Equal(t, 1, emitter.count(), "exactly one notification for the event")
}

// contestedStore makes every CompareAndSwap lose, as if another worker always
// wrote in between.
type contestedStore struct {
	*sagastore.MemoryStore
}

func (s *contestedStore) CompareAndSwap(ctx context.Context, expectedRevision int64, state *saga.OrderSagaState) (bool, error) {
	return false, nil
}

func TestConcurrencyExhausted(t *testing.T) {
	store := &contestedStore{sagastore.NewMemoryStore()}
	emitter := &recordingEmitter{}
	coord := saga.NewCoordinator(store, emitter, nil)
	ctx := context.Background()

	require.NoError(t, coord.Process(ctx, submitted(time.Now().UTC())))

	err := coord.Process(ctx, placed(time.Now().UTC()))
	assert.ErrorIs(t, err, saga.ErrConcurrencyExhausted)

	// The record stays at its last consistent revision
	state, revision, found, loadErr := store.Load(ctx, orderID)
	require.NoError(t, loadErr)
	require.True(t, found)
	assert.Equal(t, saga.StateSubmitted, state.CurrentState)
	assert.Equal(t, int64(1), revision)
	assert.Equal(t, 1, emitter.count())
}

// downStore fails every operation as if the backend were unreachable
type downStore struct{}

func (downStore) Load(ctx context.Context, correlationID string) (*saga.OrderSagaState, int64, bool, error) {
	return nil, 0, false, saga.ErrStoreUnavailable
}

func (downStore) Create(ctx context.Context, state *saga.OrderSagaState) error {
	return saga.ErrStoreUnavailable
}

func (downStore) CompareAndSwap(ctx context.Context, expectedRevision int64, state *saga.OrderSagaState) (bool, error) {
	return false, saga.ErrStoreUnavailable
}

func TestStoreUnavailablePropagates(t *testing.T) {
	emitter := &recordingEmitter{}
	coord := saga.NewCoordinator(downStore{}, emitter, nil)

	err := coord.Process(context.Background(), submitted(time.Now().UTC()))
	assert.ErrorIs(t, err, saga.ErrStoreUnavailable)
	assert.Zero(t, emitter.count())
}

func TestEmitterFailureDoesNotBlockState(t *testing.T) {
	store := sagastore.NewMemoryStore()
	emitter := &recordingEmitter{fail: true}
	coord := saga.NewCoordinator(store, emitter, nil)
	ctx := context.Background()

	// Emission trouble must not fail the event or roll back the transition
	require.NoError(t, coord.Process(ctx, submitted(time.Now().UTC())))

	state, _, found, err := store.Load(ctx, orderID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, saga.StateSubmitted, state.CurrentState)
}

func TestEventWithoutOrderID(t *testing.T) {
	coord := saga.NewCoordinator(sagastore.NewMemoryStore(), &recordingEmitter{}, nil)

	err := coord.Process(context.Background(), domain.OrderSubmitted{UserID: userID, SubmittedAt: time.Now().UTC()})
	assert.Error(t, err)
}
