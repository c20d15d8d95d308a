package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// queryHook records the latency of every ledger statement and warns on slow ones.
type queryHook struct {
	slow     time.Duration
	logger   *zap.Logger
	duration metric.Float64Histogram
	failures metric.Int64Counter
}

var _ bun.QueryHook = (*queryHook)(nil)

func newQueryHook(slow time.Duration, logger *zap.Logger) (*queryHook, error) {
	meter := otel.Meter("github.com/Additional-Code/bazaar/database")
	duration, err := meter.Float64Histogram("ledger.db.query.duration",
		metric.WithDescription("Account ledger statement latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("ledger.db.query.failures",
		metric.WithDescription("Account ledger statements that returned an error"))
	if err != nil {
		return nil, err
	}
	return &queryHook{slow: slow, logger: logger, duration: duration, failures: failures}, nil
}

func (h *queryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *queryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	elapsed := time.Since(event.StartTime)
	op := metric.WithAttributes(attribute.String("db.operation", event.Operation()))

	h.duration.Record(ctx, elapsed.Seconds(), op)
	if event.Err != nil && !isNoRows(event.Err) {
		h.failures.Add(ctx, 1, op)
	}
	if h.slow > 0 && elapsed >= h.slow {
		h.logger.Warn("slow ledger query",
			zap.String("operation", event.Operation()),
			zap.Duration("elapsed", elapsed),
			zap.String("query", event.Query))
	}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
