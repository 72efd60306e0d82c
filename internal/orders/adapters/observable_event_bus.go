package adapters

import (
	"context"
	"time"

	"github.com/dejobratic/storefront/internal/kafka"
	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/ports"
	"github.com/dejobratic/storefront/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

type ObservableEventBus struct {
	bus     ports.EventBus
	metrics *kafka.Metrics
}

func NewObservableEventBus(bus ports.EventBus, metrics *kafka.Metrics) *ObservableEventBus {
	return &ObservableEventBus{
		bus:     bus,
		metrics: metrics,
	}
}

func (e *ObservableEventBus) PublishOrderCreated(ctx context.Context, order domain.Order) error {
	return e.observe(ctx, "EventBus.PublishOrderCreated", kafka.EventOrderCreated,
		func(ctx context.Context) error { return e.bus.PublishOrderCreated(ctx, order) },
		attribute.String("order.id", order.ID),
	)
}

func (e *ObservableEventBus) PublishOrderStatusChanged(ctx context.Context, orderID string, from, to domain.OrderStatus) error {
	return e.observe(ctx, "EventBus.PublishOrderStatusChanged", kafka.EventOrderStatusChanged,
		func(ctx context.Context) error { return e.bus.PublishOrderStatusChanged(ctx, orderID, from, to) },
		attribute.String("order.id", orderID),
		attribute.String("order.status.from", string(from)),
		attribute.String("order.status.to", string(to)),
	)
}

func (e *ObservableEventBus) PublishPaymentSucceeded(ctx context.Context, payment domain.Payment) error {
	return e.observe(ctx, "EventBus.PublishPaymentSucceeded", kafka.EventPaymentSucceeded,
		func(ctx context.Context) error { return e.bus.PublishPaymentSucceeded(ctx, payment) },
		attribute.String("payment.reference", payment.Reference),
		attribute.String("order.id", payment.OrderID),
	)
}

func (e *ObservableEventBus) PublishPaymentFailed(ctx context.Context, payment domain.Payment, reason string) error {
	return e.observe(ctx, "EventBus.PublishPaymentFailed", kafka.EventPaymentFailed,
		func(ctx context.Context) error { return e.bus.PublishPaymentFailed(ctx, payment, reason) },
		attribute.String("payment.reference", payment.Reference),
		attribute.String("order.id", payment.OrderID),
		attribute.String("failure.reason", reason),
	)
}

func (e *ObservableEventBus) observe(ctx context.Context, spanName, eventType string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := telemetry.StartProducerSpan(ctx, spanName, append(attrs, attribute.String("event.type", eventType))...)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start).Seconds()

	e.metrics.RecordPublish(ctx, eventType, duration, err == nil)

	if err != nil {
		telemetry.RecordSpanError(span, err)
		return err
	}

	telemetry.SetSpanSuccess(span)
	return nil
}

// ObservableNotifier traces alert delivery.
type ObservableNotifier struct {
	notifier ports.Notifier
	metrics  *kafka.Metrics
}

func NewObservableNotifier(notifier ports.Notifier, metrics *kafka.Metrics) *ObservableNotifier {
	return &ObservableNotifier{notifier: notifier, metrics: metrics}
}

func (n *ObservableNotifier) Notify(ctx context.Context, msg ports.Notification) error {
	ctx, span := telemetry.StartProducerSpan(ctx, "Notifier.Notify",
		attribute.String("notification.recipient", msg.Recipient),
		attribute.String("notification.subject", msg.Subject),
	)
	defer span.End()

	start := time.Now()
	err := n.notifier.Notify(ctx, msg)
	n.metrics.RecordPublish(ctx, kafka.EventStockDepleted, time.Since(start).Seconds(), err == nil)

	if err != nil {
		telemetry.RecordSpanError(span, err)
		return err
	}

	telemetry.SetSpanSuccess(span)
	return nil
}
