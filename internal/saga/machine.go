package saga

import (
	"errors"
	"fmt"

	"github.com/nathanyu/order-saga/internal/domain"
)

// ErrStateConflict marks an event that is not valid for the saga's current
// state: out-of-order delivery, an event after a terminal state, or an event
// for an order that was never submitted. Non-fatal; dropped, never retried.
var ErrStateConflict = errors.New("state conflict")

// ConflictError reports which event was rejected in which state
type ConflictError struct {
	OrderID      string
	CurrentState OrderState
	EventType    string
}

func (e *ConflictError) Error() string {
	state := string(e.CurrentState)
	if state == "" {
		state = "none"
	}
	return fmt.Sprintf("state conflict: order %s in state %q rejects event %s", e.OrderID, state, e.EventType)
}

func (e *ConflictError) Unwrap() error { return ErrStateConflict }

// transitions is the full lifecycle table. Anything not listed is invalid;
// terminal states have no entries and therefore reject every event.
var transitions = map[OrderState]map[string]OrderState{
	StateNone: {
		domain.EventTypeOrderSubmitted: StateSubmitted,
	},
	StateSubmitted: {
		domain.EventTypeOrderPlaced:    StateActive,
		domain.EventTypeOrderCancelled: StateCancelled,
		domain.EventTypeOrderFailed:    StateFailed,
	},
	StateActive: {
		domain.EventTypeOrderFilled:    StateFilled,
		domain.EventTypeOrderCancelled: StateCancelled,
		domain.EventTypeOrderExpired:   StateExpired,
		domain.EventTypeOrderFailed:    StateFailed,
	},
}

// notificationTexts maps each accepted event to its fixed notification text
var notificationTexts = map[string]string{
	domain.EventTypeOrderSubmitted: "Order submitted",
	domain.EventTypeOrderPlaced:    "Order placed",
	domain.EventTypeOrderFilled:    "Order filled",
	domain.EventTypeOrderCancelled: "Order cancelled",
	domain.EventTypeOrderExpired:   "Order expired",
	domain.EventTypeOrderFailed:    "Order failed",
}

// Result is the outcome of applying one event to one saga record
type Result struct {
	// State is the updated record. On a duplicate it is an unchanged copy.
	State *OrderSagaState
	// Notification is the derived side effect; nil for duplicates.
	Notification *domain.NotificationRequest
	// Duplicate marks a redelivery of an already-applied event (no-op).
	Duplicate bool
}

// Apply computes the transition for (current state, event). It never mutates
// its input and never blocks. Three outcomes: an accepted transition with a
// derived notification, a duplicate no-op, or a ConflictError leaving the
// record untouched.
func Apply(state *OrderSagaState, event domain.Event) (Result, error) {
	eventType := event.GetType()

	// A set timestamp slot means this event was applied before. Redelivery
	// is expected under at-least-once transport; treat it as a no-op so the
	// notification is emitted exactly once per event.
	if slot := state.appliedAt(eventType); slot != nil && *slot != nil {
		return Result{State: state.Clone(), Duplicate: true}, nil
	}

	next, ok := transitions[state.CurrentState][eventType]
	if !ok {
		return Result{}, &ConflictError{
			OrderID:      state.OrderID,
			CurrentState: state.CurrentState,
			EventType:    eventType,
		}
	}

	updated := state.Clone()
	updated.CurrentState = next
	if updated.UserID == "" {
		updated.UserID = event.GetUserID()
	}
	occurred := event.OccurredAt()
	if slot := updated.appliedAt(eventType); slot != nil {
		*slot = &occurred
	}

	notification := domain.NewNotificationRequest(event.GetUserID(), notificationTexts[eventType])
	return Result{State: updated, Notification: &notification}, nil
}
