package sagastore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"
	"github.com/nathanyu/order-saga/internal/saga"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var pgTracer = otel.Tracer("sagastore.postgres")

// PostgresStore persists saga records in an order_sagas table guarded by a
// revision column. The UPDATE's WHERE clause on revision is the
// compare-and-swap; a zero row count means a concurrent writer won.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed saga store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens a connection pool for the saga store
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates the order_sagas table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS order_sagas (
			correlation_id TEXT PRIMARY KEY,
			current_state  TEXT NOT NULL,
			order_id       TEXT NOT NULL,
			user_id        TEXT NOT NULL DEFAULT '',
			submitted_at   TIMESTAMPTZ,
			placed_at      TIMESTAMPTZ,
			filled_at      TIMESTAMPTZ,
			cancelled_at   TIMESTAMPTZ,
			expired_at     TIMESTAMPTZ,
			failed_at      TIMESTAMPTZ,
			revision       BIGINT NOT NULL
		)
	`)
	if err != nil {
		return unavailable("create table", err)
	}
	return nil
}

// Load fetches a record by correlation ID
func (s *PostgresStore) Load(ctx context.Context, correlationID string) (*saga.OrderSagaState, int64, bool, error) {
	ctx, span := pgTracer.Start(ctx, "postgres.Load",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "SELECT"),
			attribute.String("db.sql.table", "order_sagas"),
		),
	)
	defer span.End()

	var (
		state    saga.OrderSagaState
		revision int64

		submittedAt, placedAt, filledAt  sql.NullTime
		cancelledAt, expiredAt, failedAt sql.NullTime
		currentState                     string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT correlation_id, current_state, order_id, user_id,
		       submitted_at, placed_at, filled_at, cancelled_at, expired_at, failed_at,
		       revision
		FROM order_sagas
		WHERE correlation_id = $1
	`, correlationID).Scan(
		&state.CorrelationID, &currentState, &state.OrderID, &state.UserID,
		&submittedAt, &placedAt, &filledAt, &cancelledAt, &expiredAt, &failedAt,
		&revision,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load saga from postgres")
		return nil, 0, false, unavailable("postgres select", err)
	}

	state.CurrentState = saga.OrderState(currentState)
	state.SubmittedAt = nullableTime(submittedAt)
	state.PlacedAt = nullableTime(placedAt)
	state.FilledAt = nullableTime(filledAt)
	state.CancelledAt = nullableTime(cancelledAt)
	state.ExpiredAt = nullableTime(expiredAt)
	state.FailedAt = nullableTime(failedAt)

	span.SetStatus(codes.Ok, "")
	return &state, revision, true, nil
}

// Create inserts the record at revision 1
func (s *PostgresStore) Create(ctx context.Context, state *saga.OrderSagaState) error {
	ctx, span := pgTracer.Start(ctx, "postgres.Create",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "INSERT"),
			attribute.String("db.sql.table", "order_sagas"),
		),
	)
	defer span.End()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO order_sagas (
			correlation_id, current_state, order_id, user_id,
			submitted_at, placed_at, filled_at, cancelled_at, expired_at, failed_at,
			revision
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
		ON CONFLICT (correlation_id) DO NOTHING
	`,
		state.CorrelationID, string(state.CurrentState), state.OrderID, state.UserID,
		state.SubmittedAt, state.PlacedAt, state.FilledAt,
		state.CancelledAt, state.ExpiredAt, state.FailedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create saga in postgres")
		return unavailable("postgres insert", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return unavailable("postgres insert", err)
	}
	if rows == 0 {
		return saga.ErrAlreadyExists
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CompareAndSwap updates the record where the revision still matches
func (s *PostgresStore) CompareAndSwap(ctx context.Context, expectedRevision int64, state *saga.OrderSagaState) (bool, error) {
	ctx, span := pgTracer.Start(ctx, "postgres.CompareAndSwap",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "UPDATE"),
			attribute.String("db.sql.table", "order_sagas"),
			attribute.Int64("expected_revision", expectedRevision),
		),
	)
	defer span.End()

	res, err := s.db.ExecContext(ctx, `
		UPDATE order_sagas SET
			current_state = $2,
			user_id = $3,
			submitted_at = $4, placed_at = $5, filled_at = $6,
			cancelled_at = $7, expired_at = $8, failed_at = $9,
			revision = revision + 1
		WHERE correlation_id = $1 AND revision = $10
	`,
		state.CorrelationID, string(state.CurrentState), state.UserID,
		state.SubmittedAt, state.PlacedAt, state.FilledAt,
		state.CancelledAt, state.ExpiredAt, state.FailedAt,
		expectedRevision,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to swap saga in postgres")
		return false, unavailable("postgres update", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("postgres update", err)
	}

	span.SetAttributes(attribute.Bool("cas.swapped", rows == 1))
	span.SetStatus(codes.Ok, "")
	return rows == 1, nil
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
