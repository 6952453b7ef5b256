package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_saga_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "order_saga_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Event processing metrics
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_saga_events_processed_total",
			Help: "Total number of lifecycle events processed",
		},
		[]string{"type", "result"}, // applied, duplicate, conflict, retryable
	)

	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "order_saga_event_processing_duration_seconds",
			Help:    "Time to process one lifecycle event",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_saga_transitions_total",
			Help: "Total number of accepted state transitions",
		},
		[]string{"to_state"},
	)

	// Store metrics
	StoreWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "order_saga_store_write_duration_seconds",
			Help:    "Time to persist a saga record",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	CASConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "order_saga_cas_conflicts_total",
			Help: "Total number of compare-and-swap revision conflicts",
		},
	)

	// Idempotency metrics
	DuplicateEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "order_saga_duplicate_events_total",
			Help: "Total number of redelivered events detected as duplicates",
		},
	)

	StateConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_saga_state_conflicts_total",
			Help: "Total number of events rejected by the state machine",
		},
		[]string{"type"},
	)

	// Notification metrics
	NotificationsEmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "order_saga_notifications_emitted_total",
			Help: "Total number of notification requests emitted",
		},
	)

	NotificationsFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "order_saga_notifications_failed_total",
			Help: "Total number of notification requests dropped after retries",
		},
	)

	// NATS metrics
	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_saga_nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"subject"},
	)

	NATSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_saga_nats_messages_received_total",
			Help: "Total number of NATS messages received",
		},
		[]string{"subject"},
	)
)
