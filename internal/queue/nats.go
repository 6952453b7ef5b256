package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nathanyu/order-saga/internal/domain"
	"github.com/nathanyu/order-saga/internal/saga"
	"github.com/nathanyu/order-saga/internal/telemetry"
	"github.com/nats-io/nats.go"
)

// NATSClient wraps the NATS connection for event publishing
type NATSClient struct {
	conn *nats.Conn
}

// NewNATSClient creates a new NATS client
func NewNATSClient(url string) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name("order-saga"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSClient{conn: conn}, nil
}

// GetConn returns the underlying NATS connection
func (c *NATSClient) GetConn() *nats.Conn {
	return c.conn
}

// PublishEvent publishes a lifecycle event and waits for the coordinator's
// reply, so HTTP callers learn whether the event was accepted.
func (c *NATSClient) PublishEvent(event domain.Event, timeout time.Duration) (*saga.EventResponse, error) {
	data, err := domain.SerializeEvent(event)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event: %w", err)
	}

	msg, err := c.conn.Request(saga.EventSubject, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to publish event: %w", err)
	}
	telemetry.NATSMessagesPublished.WithLabelValues(saga.EventSubject).Inc()

	var resp saga.EventResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &resp, nil
}

// PublishEventAsync publishes a lifecycle event without waiting for a reply
func (c *NATSClient) PublishEventAsync(event domain.Event) error {
	data, err := domain.SerializeEvent(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	if err := c.conn.Publish(saga.EventSubject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	telemetry.NATSMessagesPublished.WithLabelValues(saga.EventSubject).Inc()

	return nil
}

// Close closes the NATS connection
func (c *NATSClient) Close() {
	if c.conn != nil {
		c.conn.Drain()
		c.conn.Close()
	}
}
