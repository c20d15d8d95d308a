package order

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bazaar/internal/config"
	"github.com/Additional-Code/bazaar/internal/messaging"
	ordersvc "github.com/Additional-Code/bazaar/internal/service/order"
	"github.com/Additional-Code/bazaar/internal/worker"
	"github.com/Additional-Code/bazaar/pkg/numfmt"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/bazaar/worker/order")

// Module registers order event handlers.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(NewOrderCreatedHandler, fx.ResultTags(`group:"worker.handlers"`)),
		fx.Annotate(NewOrderCompletedHandler, fx.ResultTags(`group:"worker.handlers"`)),
		fx.Annotate(NewCreditFailedHandler, fx.ResultTags(`group:"worker.handlers"`)),
	),
)

// decode unmarshals msg into v inside a span named after the event type.
func decode(ctx context.Context, msg messaging.Message, v any) (context.Context, trace.Span, error) {
	ctx, span := workerTracer.Start(ctx, "worker.orders."+msg.Type, trace.WithAttributes(
		attribute.String("messaging.topic", msg.Topic),
		attribute.Int64("messaging.offset", msg.Offset),
	))
	if err := json.Unmarshal(msg.Value, v); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode error")
		return ctx, span, fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	return ctx, span, nil
}

// NewOrderCreatedHandler logs newly listed orders.
func NewOrderCreatedHandler(logger *zap.Logger) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		var event ordersvc.OrderCreatedEvent
		_, span, err := decode(ctx, msg, &event)
		defer span.End()
		if err != nil {
			logger.Error("failed to decode order created", zap.Error(err))
			return err
		}

		logger.Info("order listed",
			zap.Int64("order_id", event.ID),
			zap.String("owner", event.OwnerName),
			zap.String("resource_type", event.ResourceType),
			zap.String("quantity", numfmt.CompactInt(event.Quantity)),
			zap.String("escrow", numfmt.Compact(event.TotalEscrow)),
		)
		return nil
	}

	return worker.HandlerRegistration{EventType: ordersvc.EventOrderCreated, Handler: handler}
}

// Announcer publishes completion announcements.
type Announcer func(ctx context.Context, text string)

// LogAnnouncer writes announcements to the log.
func LogAnnouncer(logger *zap.Logger) Announcer {
	return func(_ context.Context, text string) {
		logger.Info("announcement", zap.String("text", text))
	}
}

// CompletionAnnouncement is the public message for a completed order.
func CompletionAnnouncement(event ordersvc.OrderCompletedEvent) string {
	return fmt.Sprintf("%s's order for %s has been completed!", event.OwnerName, event.ResourceType)
}

// NewOrderCompletedHandler announces completed orders whose escrow reached the
// configured threshold. A threshold of zero disables announcements.
func NewOrderCompletedHandler(logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	return completedHandler(cfg.Ledger.BroadcastThreshold, LogAnnouncer(logger), logger)
}

func completedHandler(threshold float64, announce Announcer, logger *zap.Logger) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		var event ordersvc.OrderCompletedEvent
		ctx, span, err := decode(ctx, msg, &event)
		defer span.End()
		if err != nil {
			logger.Error("failed to decode order completed", zap.Error(err))
			return err
		}

		logger.Info("order completed event processed",
			zap.Int64("order_id", event.ID),
			zap.String("total_paid", numfmt.Compact(event.TotalPaid)),
		)
		if threshold > 0 && event.TotalEscrow >= threshold {
			span.SetAttributes(attribute.Bool("order.announced", true))
			announce(ctx, CompletionAnnouncement(event))
		}
		return nil
	}

	return worker.HandlerRegistration{EventType: ordersvc.EventOrderCompleted, Handler: handler}
}

// NewCreditFailedHandler raises failed payouts for operators.
func NewCreditFailedHandler(logger *zap.Logger) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		var event ordersvc.CreditFailedEvent
		_, span, err := decode(ctx, msg, &event)
		defer span.End()
		if err != nil {
			logger.Error("failed to decode credit failure", zap.Error(err))
			return err
		}

		logger.Warn("payout credit needs reconciliation",
			zap.Uint64("journal_seq", event.JournalSeq),
			zap.Int64("order_id", event.OrderID),
			zap.Stringer("deliverer", event.Deliverer),
			zap.String("amount", numfmt.Compact(event.Amount)),
			zap.String("reason", event.Reason),
		)
		return nil
	}

	return worker.HandlerRegistration{EventType: ordersvc.EventCreditFailed, Handler: handler}
}
