package saga

import (
	"time"

	"github.com/nathanyu/order-saga/internal/domain"
)

// OrderState is the saga's position in the order lifecycle
type OrderState string

const (
	// StateNone is the implicit pre-state before the first event arrives.
	// It is never persisted; a missing record means "none".
	StateNone      OrderState = ""
	StateSubmitted OrderState = "submitted"
	StateActive    OrderState = "active"
	StateFilled    OrderState = "filled"
	StateCancelled OrderState = "cancelled"
	StateExpired   OrderState = "expired"
	StateFailed    OrderState = "failed"
)

// IsTerminal reports whether no further transitions are accepted
func (s OrderState) IsTerminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateExpired, StateFailed:
		return true
	default:
		return false
	}
}

// OrderSagaState is the persisted record for one order's lifecycle.
// CorrelationID equals the OrderID of the events that drive it. Each
// timestamp is set exactly once, when the matching event is first applied;
// at most one of the four terminal timestamps is ever non-nil.
type OrderSagaState struct {
	CorrelationID string     `json:"correlation_id"`
	CurrentState  OrderState `json:"current_state"`
	OrderID       string     `json:"order_id"`
	UserID        string     `json:"user_id"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	PlacedAt      *time.Time `json:"placed_at,omitempty"`
	FilledAt      *time.Time `json:"filled_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	ExpiredAt     *time.Time `json:"expired_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
}

// NewOrderSagaState creates an empty record in the implicit pre-state
func NewOrderSagaState(orderID string) *OrderSagaState {
	return &OrderSagaState{
		CorrelationID: orderID,
		CurrentState:  StateNone,
		OrderID:       orderID,
	}
}

// appliedAt returns the timestamp slot for an event type. A non-nil value
// means the event was already applied once; that is the duplicate signal.
func (s *OrderSagaState) appliedAt(eventType string) **time.Time {
	switch eventType {
	case domain.EventTypeOrderSubmitted:
		return &s.SubmittedAt
	case domain.EventTypeOrderPlaced:
		return &s.PlacedAt
	case domain.EventTypeOrderFilled:
		return &s.FilledAt
	case domain.EventTypeOrderCancelled:
		return &s.CancelledAt
	case domain.EventTypeOrderExpired:
		return &s.ExpiredAt
	case domain.EventTypeOrderFailed:
		return &s.FailedAt
	default:
		return nil
	}
}

// Clone returns an independent copy of the record
func (s *OrderSagaState) Clone() *OrderSagaState {
	if s == nil {
		return nil
	}
	c := *s
	c.SubmittedAt = cloneTime(s.SubmittedAt)
	c.PlacedAt = cloneTime(s.PlacedAt)
	c.FilledAt = cloneTime(s.FilledAt)
	c.CancelledAt = cloneTime(s.CancelledAt)
	c.ExpiredAt = cloneTime(s.ExpiredAt)
	c.FailedAt = cloneTime(s.FailedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
