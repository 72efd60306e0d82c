package kafka

import (
	"context"
	"log/slog"

	"github.com/dejobratic/storefront/internal/orders/domain"
)

// NoopEventBus logs events without sending them to Kafka. Used when no
// brokers are configured.
type NoopEventBus struct {
	logger *slog.Logger
}

// NewNoopEventBus returns a new no-op event publisher.
func NewNoopEventBus(logger *slog.Logger) *NoopEventBus {
	return &NoopEventBus{logger: logger}
}

func (n *NoopEventBus) PublishOrderCreated(ctx context.Context, order domain.Order) error {
	n.logger.DebugContext(ctx, "event::"+EventOrderCreated, "order_id", order.ID)
	return nil
}

func (n *NoopEventBus) PublishOrderStatusChanged(ctx context.Context, orderID string, from, to domain.OrderStatus) error {
	n.logger.DebugContext(ctx, "event::"+EventOrderStatusChanged, "order_id", orderID, "from", from, "to", to)
	return nil
}

func (n *NoopEventBus) PublishPaymentSucceeded(ctx context.Context, payment domain.Payment) error {
	n.logger.DebugContext(ctx, "event::"+EventPaymentSucceeded, "reference", payment.Reference, "order_id", payment.OrderID)
	return nil
}

func (n *NoopEventBus) PublishPaymentFailed(ctx context.Context, payment domain.Payment, reason string) error {
	n.logger.DebugContext(ctx, "event::"+EventPaymentFailed, "reference", payment.Reference, "order_id", payment.OrderID, "reason", reason)
	return nil
}
