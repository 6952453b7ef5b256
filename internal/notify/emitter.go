package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nathanyu/order-saga/internal/domain"
	"github.com/nathanyu/order-saga/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NotificationSubject carries outbound notification requests
const NotificationSubject = "orders.notifications"

// ErrDeliveryUnavailable means the outbound channel refused the message even
// after local retries. Non-fatal; it never affects persisted order state.
var ErrDeliveryUnavailable = errors.New("notification channel unavailable")

// Publisher is the outbound publish capability. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 50 * time.Millisecond
)

// Emitter publishes notification requests with a bounded local retry.
// Fire-and-forget from the saga's perspective: a request that cannot be
// delivered after the retries is dropped with a warning.
type Emitter struct {
	pub        Publisher
	maxRetries int
	retryDelay time.Duration
}

// NewEmitter creates an emitter over the given publish capability
func NewEmitter(pub Publisher) *Emitter {
	return &Emitter{
		pub:        pub,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
}

// Emit publishes one notification request
func (e *Emitter) Emit(ctx context.Context, req domain.NotificationRequest) error {
	if telemetry.Tracer != nil {
		var span trace.Span
		ctx, span = telemetry.Tracer.Start(ctx, "notify.Emit",
			trace.WithSpanKind(trace.SpanKindProducer),
			trace.WithAttributes(
				attribute.String("messaging.system", "nats"),
				attribute.String("messaging.destination", NotificationSubject),
				attribute.String("message_id", req.MessageID),
			),
		)
		defer span.End()
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrDeliveryUnavailable, ctx.Err())
			case <-time.After(e.retryDelay):
			}
			slog.Debug("retrying notification publish", "message_id", req.MessageID, "attempt", attempt)
		}

		if lastErr = e.pub.Publish(NotificationSubject, data); lastErr == nil {
			telemetry.NATSMessagesPublished.WithLabelValues(NotificationSubject).Inc()
			return nil
		}
	}

	return fmt.Errorf("%w: %v", ErrDeliveryUnavailable, lastErr)
}
