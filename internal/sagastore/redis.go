package sagastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nathanyu/order-saga/internal/saga"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var redisTracer = otel.Tracer("sagastore.redis")

// redisRecord is the stored value: the saga state plus its revision
type redisRecord struct {
	Revision int64                `json:"revision"`
	State    *saga.OrderSagaState `json:"state"`
}

// RedisStore persists saga records as JSON values keyed by correlation ID.
// CompareAndSwap runs under WATCH so a concurrent write aborts the
// transaction and surfaces as a revision conflict.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed saga store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sagaKey(correlationID string) string {
	return fmt.Sprintf("order_saga:%s", correlationID)
}

// Load fetches a record by correlation ID
func (s *RedisStore) Load(ctx context.Context, correlationID string) (*saga.OrderSagaState, int64, bool, error) {
	ctx, span := redisTracer.Start(ctx, "redis.Load",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", "GET"),
		),
	)
	defer span.End()

	val, err := s.client.Get(ctx, sagaKey(correlationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load saga from redis")
		return nil, 0, false, unavailable("redis get", err)
	}

	var rec redisRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		span.RecordError(err)
		return nil, 0, false, fmt.Errorf("failed to decode saga record: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return rec.State, rec.Revision, true, nil
}

// Create inserts the record at revision 1 with SETNX semantics
func (s *RedisStore) Create(ctx context.Context, state *saga.OrderSagaState) error {
	ctx, span := redisTracer.Start(ctx, "redis.Create",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", "SETNX"),
		),
	)
	defer span.End()

	data, err := json.Marshal(redisRecord{Revision: 1, State: state})
	if err != nil {
		return fmt.Errorf("failed to encode saga record: %w", err)
	}

	set, err := s.client.SetNX(ctx, sagaKey(state.CorrelationID), data, 0).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create saga in redis")
		return unavailable("redis setnx", err)
	}
	if !set {
		return saga.ErrAlreadyExists
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CompareAndSwap writes the record if its revision is unchanged. The key is
// watched for the whole check-and-set; any concurrent write fails the EXEC
// and is reported as a conflict, not an error.
func (s *RedisStore) CompareAndSwap(ctx context.Context, expectedRevision int64, state *saga.OrderSagaState) (bool, error) {
	ctx, span := redisTracer.Start(ctx, "redis.CompareAndSwap",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", "WATCH"),
			attribute.Int64("expected_revision", expectedRevision),
		),
	)
	defer span.End()

	key := sagaKey(state.CorrelationID)
	swapped := false

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var rec redisRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		if rec.Revision != expectedRevision {
			return nil
		}

		data, err := json.Marshal(redisRecord{Revision: expectedRevision + 1, State: state})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		// Someone else wrote the key between GET and EXEC.
		span.SetAttributes(attribute.Bool("cas.conflict", true))
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to swap saga in redis")
		return false, unavailable("redis cas", err)
	}

	span.SetAttributes(attribute.Bool("cas.swapped", swapped))
	span.SetStatus(codes.Ok, "")
	return swapped, nil
}
