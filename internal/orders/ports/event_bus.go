package ports

import (
	"context"

	"github.com/dejobratic/storefront/internal/orders/domain"
)

// EventBus defines the contract for publishing order and payment lifecycle events.
type EventBus interface {
	PublishOrderCreated(ctx context.Context, order domain.Order) error
	PublishOrderStatusChanged(ctx context.Context, orderID string, from, to domain.OrderStatus) error
	PublishPaymentSucceeded(ctx context.Context, payment domain.Payment) error
	PublishPaymentFailed(ctx context.Context, payment domain.Payment, reason string) error
}

// Notification is a message for a human recipient.
type Notification struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
}

// Notifier delivers notifications. Callers treat it as fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
