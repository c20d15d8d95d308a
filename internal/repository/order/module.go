package order

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bazaar/internal/entity"
)

// Module provides the in-memory order store to Fx. One instance per process.
var Module = fx.Options(
	fx.Provide(NewRepository),
	fx.Invoke(RegisterGauges),
)

// RegisterGauges exports the number of held orders per status.
func RegisterGauges(r *Repository, logger *zap.Logger) {
	meter := otel.Meter("github.com/Additional-Code/bazaar/repository/order")
	_, err := meter.Int64ObservableGauge("ledger.orders.held",
		metric.WithDescription("Orders currently held in memory"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			counts := map[entity.Status]int64{entity.StatusActive: 0, entity.StatusCompleted: 0}
			for _, order := range r.Snapshot() {
				counts[order.Status]++
			}
			for status, n := range counts {
				o.Observe(n, metric.WithAttributes(attribute.String("status", string(status))))
			}
			return nil
		}),
	)
	if err != nil {
		logger.Warn("order gauge unavailable", zap.Error(err))
	}
}
