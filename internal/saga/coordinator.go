package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nathanyu/order-saga/internal/domain"
	"github.com/nathanyu/order-saga/internal/telemetry"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// EventSubject carries inbound order lifecycle events
	EventSubject = "orders.events"
	// ConsumerQueue is the queue group name so multiple workers share the load
	ConsumerQueue = "order-saga"
)

// ErrConcurrencyExhausted means too many compare-and-swap races for one
// event. Non-fatal; the transport's redelivery retries the whole event.
var ErrConcurrencyExhausted = errors.New("concurrency retries exhausted")

// DefaultMaxAttempts bounds the load/apply/swap loop per event
const DefaultMaxAttempts = 5

// Emitter forwards derived notification requests to the outbound channel
type Emitter interface {
	Emit(ctx context.Context, req domain.NotificationRequest) error
}

// Coordinator correlates inbound events to saga records, applies the state
// machine, persists the outcome with optimistic concurrency, and emits the
// derived notification. Correctness per order relies solely on the store's
// compare-and-swap contract, so any number of workers may run concurrently.
type Coordinator struct {
	store       Store
	emitter     Emitter
	maxAttempts int

	natsConn     *nats.Conn
	subscription *nats.Subscription

	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewCoordinator creates a coordinator. natsConn may be nil when events are
// fed directly through Process (tests, embedded use).
func NewCoordinator(store Store, emitter Emitter, natsConn *nats.Conn) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:       store,
		emitter:     emitter,
		maxAttempts: DefaultMaxAttempts,
		natsConn:    natsConn,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins consuming events from NATS
func (c *Coordinator) Start() error {
	sub, err := c.natsConn.QueueSubscribe(EventSubject, ConsumerQueue, c.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	c.subscription = sub
	slog.Info("saga coordinator started", "subject", EventSubject, "queue", ConsumerQueue)
	return nil
}

// Stop gracefully stops the coordinator
func (c *Coordinator) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.cancel()

		if c.subscription != nil {
			err = c.subscription.Unsubscribe()
		}

		c.wg.Wait()
	})
	return err
}

// EventResponse is the reply sent when the publisher used request semantics
type EventResponse struct {
	Success   bool   `json:"success"`
	Retryable bool   `json:"retryable"`
	Error     string `json:"error,omitempty"`
}

// handleMessage processes a single event delivery from NATS
func (c *Coordinator) handleMessage(msg *nats.Msg) {
	c.wg.Add(1)
	defer c.wg.Done()

	ctx := c.ctx

	if telemetry.Tracer != nil {
		var span trace.Span
		ctx, span = telemetry.Tracer.Start(ctx, "saga.handleMessage",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", "nats"),
				attribute.String("messaging.destination", EventSubject),
			),
		)
		defer span.End()
	}

	telemetry.NATSMessagesReceived.WithLabelValues(EventSubject).Inc()

	event, err := domain.DeserializeEvent(msg.Data)
	if err != nil {
		slog.Error("failed to deserialize event", "error", err)
		c.respond(msg, EventResponse{Error: "invalid event format"})
		return
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.String("order_id", event.GetOrderID()),
			attribute.String("event_type", event.GetType()),
		)
	}

	err = c.Process(ctx, event)
	switch {
	case err == nil:
		c.respond(msg, EventResponse{Success: true})
	case errors.Is(err, ErrStateConflict):
		// Expected under out-of-order and duplicate delivery; drop the event.
		slog.Warn("event rejected by state machine", "order_id", event.GetOrderID(), "event_type", event.GetType(), "error", err)
		c.respond(msg, EventResponse{Error: err.Error()})
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrConcurrencyExhausted):
		slog.Error("event processing failed, awaiting redelivery", "order_id", event.GetOrderID(), "event_type", event.GetType(), "error", err)
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		c.respond(msg, EventResponse{Retryable: true, Error: err.Error()})
	default:
		slog.Error("event processing failed", "order_id", event.GetOrderID(), "event_type", event.GetType(), "error", err)
		c.respond(msg, EventResponse{Error: err.Error()})
	}
}

func (c *Coordinator) respond(msg *nats.Msg, resp EventResponse) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("failed to respond to event", "error", err)
	}
}

// Process applies one event to its saga instance. It retries revision
// conflicts up to maxAttempts, then fails with ErrConcurrencyExhausted.
// A StateConflict is returned without retry; a duplicate delivery of an
// already-applied event is a silent no-op with no second notification.
func (c *Coordinator) Process(ctx context.Context, event domain.Event) error {
	start := time.Now()
	defer func() {
		telemetry.EventProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	orderID := event.GetOrderID()
	if orderID == "" {
		return fmt.Errorf("event %s has no order id", event.GetType())
	}

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		state, revision, found, err := c.store.Load(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load saga %s: %w", orderID, err)
		}

		if !found {
			state = NewOrderSagaState(orderID)
		}

		result, err := Apply(state, event)
		if err != nil {
			telemetry.EventsProcessedTotal.WithLabelValues(event.GetType(), "conflict").Inc()
			telemetry.StateConflictsTotal.WithLabelValues(event.GetType()).Inc()
			return err
		}

		if result.Duplicate {
			telemetry.EventsProcessedTotal.WithLabelValues(event.GetType(), "duplicate").Inc()
			telemetry.DuplicateEventsTotal.Inc()
			slog.Debug("duplicate event ignored", "order_id", orderID, "event_type", event.GetType())
			return nil
		}

		persistStart := time.Now()
		if !found {
			err = c.store.Create(ctx, result.State)
			if errors.Is(err, ErrAlreadyExists) {
				// Another worker created the record first; reload and retry.
				telemetry.CASConflictsTotal.Inc()
				continue
			}
			if err != nil {
				return fmt.Errorf("create saga %s: %w", orderID, err)
			}
		} else {
			swapped, err := c.store.CompareAndSwap(ctx, revision, result.State)
			if err != nil {
				return fmt.Errorf("swap saga %s: %w", orderID, err)
			}
			if !swapped {
				telemetry.CASConflictsTotal.Inc()
				continue
			}
		}
		telemetry.StoreWriteDuration.Observe(time.Since(persistStart).Seconds())

		telemetry.EventsProcessedTotal.WithLabelValues(event.GetType(), "applied").Inc()
		telemetry.TransitionsTotal.WithLabelValues(string(result.State.CurrentState)).Inc()
		slog.Info("order transitioned",
			"order_id", orderID,
			"event_type", event.GetType(),
			"state", string(result.State.CurrentState),
		)

		c.emit(ctx, *result.Notification)
		return nil
	}

	telemetry.EventsProcessedTotal.WithLabelValues(event.GetType(), "retryable").Inc()
	return fmt.Errorf("order %s: %w", orderID, ErrConcurrencyExhausted)
}

// Typed handlers for transports that route by event type rather than by
// subject. Each delegates to Process.

func (c *Coordinator) HandleOrderSubmitted(ctx context.Context, e domain.OrderSubmitted) error {
	return c.Process(ctx, e)
}

func (c *Coordinator) HandleOrderPlaced(ctx context.Context, e domain.OrderPlaced) error {
	return c.Process(ctx, e)
}

func (c *Coordinator) HandleOrderFilled(ctx context.Context, e domain.OrderFilled) error {
	return c.Process(ctx, e)
}

func (c *Coordinator) HandleOrderCancelled(ctx context.Context, e domain.OrderCancelled) error {
	return c.Process(ctx, e)
}

func (c *Coordinator) HandleOrderExpired(ctx context.Context, e domain.OrderExpired) error {
	return c.Process(ctx, e)
}

func (c *Coordinator) HandleOrderFailed(ctx context.Context, e domain.OrderFailed) error {
	return c.Process(ctx, e)
}

// emit hands the notification to the emitter. The transition is already
// persisted; emission trouble must never block the order's progression.
func (c *Coordinator) emit(ctx context.Context, req domain.NotificationRequest) {
	if c.emitter == nil {
		return
	}
	if err := c.emitter.Emit(ctx, req); err != nil {
		telemetry.NotificationsFailedTotal.Inc()
		slog.Warn("notification emission failed", "message_id", req.MessageID, "user_id", req.UserID, "error", err)
		return
	}
	telemetry.NotificationsEmittedTotal.Inc()
}
