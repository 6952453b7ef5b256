package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType constants
const (
	EventTypeOrderSubmitted = "OrderSubmitted"
	EventTypeOrderPlaced    = "OrderPlaced"
	EventTypeOrderFilled    = "OrderFilled"
	EventTypeOrderCancelled = "OrderCancelled"
	EventTypeOrderExpired   = "OrderExpired"
	EventTypeOrderFailed    = "OrderFailed"
)

// OrderType is the side of an order
type OrderType string

const (
	OrderTypeBuy  OrderType = "buy"
	OrderTypeSell OrderType = "sell"
)

// Event is the base interface for all order lifecycle events.
// OrderID is the correlation key that routes an event to its saga instance.
type Event interface {
	GetType() string
	GetOrderID() string
	GetUserID() string
	OccurredAt() time.Time
}

// EventEnvelope wraps an event with metadata for serialization
type EventEnvelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// OrderSubmitted records that a user submitted an order
type OrderSubmitted struct {
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	CurrencyID  string    `json:"currency_id"`
	Price       int64     `json:"price"` // Price in cents to avoid floating point issues
	OrderType   OrderType `json:"order_type"`
	Quantity    int64     `json:"quantity"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (e OrderSubmitted) GetType() string       { return EventTypeOrderSubmitted }
func (e OrderSubmitted) GetOrderID() string    { return e.OrderID }
func (e OrderSubmitted) GetUserID() string     { return e.UserID }
func (e OrderSubmitted) OccurredAt() time.Time { return e.SubmittedAt }

// OrderPlaced records that the order reached the exchange
type OrderPlaced struct {
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	CurrencyID string    `json:"currency_id"`
	Price      int64     `json:"price"`
	OrderType  OrderType `json:"order_type"`
	Quantity   int64     `json:"quantity"`
	PlacedAt   time.Time `json:"placed_at"`
}

func (e OrderPlaced) GetType() string       { return EventTypeOrderPlaced }
func (e OrderPlaced) GetOrderID() string    { return e.OrderID }
func (e OrderPlaced) GetUserID() string     { return e.UserID }
func (e OrderPlaced) OccurredAt() time.Time { return e.PlacedAt }

// OrderFilled records that the order was completely executed
type OrderFilled struct {
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	CurrencyID string    `json:"currency_id"`
	Price      int64     `json:"price"`
	OrderType  OrderType `json:"order_type"`
	Quantity   int64     `json:"quantity"`
	FilledAt   time.Time `json:"filled_at"`
}

func (e OrderFilled) GetType() string       { return EventTypeOrderFilled }
func (e OrderFilled) GetOrderID() string    { return e.OrderID }
func (e OrderFilled) GetUserID() string     { return e.UserID }
func (e OrderFilled) OccurredAt() time.Time { return e.FilledAt }

// OrderCancelled records that the user or exchange cancelled the order
type OrderCancelled struct {
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	CurrencyID  string    `json:"currency_id"`
	Price       int64     `json:"price"`
	OrderType   OrderType `json:"order_type"`
	Quantity    int64     `json:"quantity"`
	CancelledAt time.Time `json:"cancelled_at"`
}

func (e OrderCancelled) GetType() string       { return EventTypeOrderCancelled }
func (e OrderCancelled) GetOrderID() string    { return e.OrderID }
func (e OrderCancelled) GetUserID() string     { return e.UserID }
func (e OrderCancelled) OccurredAt() time.Time { return e.CancelledAt }

// OrderExpired records that the order's time in force ran out
type OrderExpired struct {
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	CurrencyID string    `json:"currency_id"`
	Price      int64     `json:"price"`
	OrderType  OrderType `json:"order_type"`
	Quantity   int64     `json:"quantity"`
	ExpiredAt  time.Time `json:"expired_at"`
}

func (e OrderExpired) GetType() string       { return EventTypeOrderExpired }
func (e OrderExpired) GetOrderID() string    { return e.OrderID }
func (e OrderExpired) GetUserID() string     { return e.UserID }
func (e OrderExpired) OccurredAt() time.Time { return e.ExpiredAt }

// OrderFailed records that order processing failed upstream
type OrderFailed struct {
	OrderID  string    `json:"order_id"`
	UserID   string    `json:"user_id"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

func (e OrderFailed) GetType() string       { return EventTypeOrderFailed }
func (e OrderFailed) GetOrderID() string    { return e.OrderID }
func (e OrderFailed) GetUserID() string     { return e.UserID }
func (e OrderFailed) OccurredAt() time.Time { return e.FailedAt }

// SerializeEvent converts an event to JSON bytes with envelope
func SerializeEvent(event Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	envelope := EventEnvelope{
		Type:      event.GetType(),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	return json.Marshal(envelope)
}

// DeserializeEvent converts JSON bytes back to an Event
func DeserializeEvent(data []byte) (Event, error) {
	var envelope EventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}

	var event Event
	switch envelope.Type {
	case EventTypeOrderSubmitted:
		var e OrderSubmitted
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, err
		}
		event = e
	case EventTypeOrderPlaced:
		var e OrderPlaced
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, err
		}
		event = e
	case EventTypeOrderFilled:
		var e OrderFilled
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, err
		}
		event = e
	case EventTypeOrderCancelled:
		var e OrderCancelled
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, err
		}
		event = e
	case EventTypeOrderExpired:
		var e OrderExpired
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, err
		}
		event = e
	case EventTypeOrderFailed:
		var e OrderFailed
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, err
		}
		event = e
	default:
		return nil, fmt.Errorf("unknown event type: %s", envelope.Type)
	}

	return event, nil
}
