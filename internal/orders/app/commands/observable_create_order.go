package commands

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/metrics"
	"github.com/dejobratic/storefront/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// ObservableCommandHandler traces order placement. Rejections caused by the
// caller (validation, stock) are logged at info and warn; anything else is
// an error.
type ObservableCommandHandler struct {
	handler CommandHandler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewObservableCommandHandler(handler CommandHandler, logger *slog.Logger, metrics *metrics.Metrics) *ObservableCommandHandler {
	return &ObservableCommandHandler{
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

func (o *ObservableCommandHandler) Handle(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "CreateOrderCommand.Handle")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.user_id", cmd.UserID),
		attribute.Int("order.lines", len(cmd.Items)),
	)

	start := time.Now()
	order, err := o.handler.Handle(ctx, cmd)
	o.metrics.RecordOrderCreationDuration(ctx, time.Since(start).Seconds())
	o.metrics.RecordOrderCreated(ctx, err == nil)

	if err != nil {
		o.reject(ctx, cmd, err)
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", order.ID),
		attribute.String("order.total", order.Pricing.Total.StringFixed(2)),
	)
	telemetry.SetSpanSuccess(span)

	o.logger.InfoContext(ctx, "order created",
		"order_id", order.ID,
		"user_id", order.UserID,
		"total", order.Pricing.Total.StringFixed(2),
	)
	return order, nil
}

func (o *ObservableCommandHandler) reject(ctx context.Context, cmd CreateOrderCommand, err error) {
	var stockErr *domain.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		shortages := make([]string, 0, len(stockErr.Shortages))
		for _, s := range stockErr.Shortages {
			shortages = append(shortages, s.ProductID)
		}
		o.logger.WarnContext(ctx, "order rejected for stock",
			"user_id", cmd.UserID,
			"products", shortages,
		)
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotFound):
		o.logger.InfoContext(ctx, "order rejected",
			"user_id", cmd.UserID,
			"reason", err.Error(),
		)
	default:
		o.logger.ErrorContext(ctx, "order creation failed",
			"error", err,
			"user_id", cmd.UserID,
		)
	}
}
