package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/telemetry"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the publishers need.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter returns a synchronous writer so publish errors reach the caller.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
}

// EventBus publishes order and payment lifecycle events, keyed by order ID
// so a single order's events stay ordered within a partition.
type EventBus struct {
	writer   MessageWriter
	producer string
	now      func() time.Time
}

func NewEventBus(writer MessageWriter, producer string) *EventBus {
	return &EventBus{
		writer:   writer,
		producer: producer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (b *EventBus) PublishOrderCreated(ctx context.Context, order domain.Order) error {
	return b.publish(ctx, EventOrderCreated, order.ID, OrderCreatedPayload{
		OrderID: order.ID,
		UserID:  order.UserID,
		Total:   order.Pricing.Total.StringFixed(2),
		Items:   len(order.Items),
	})
}

func (b *EventBus) PublishOrderStatusChanged(ctx context.Context, orderID string, from, to domain.OrderStatus) error {
	return b.publish(ctx, EventOrderStatusChanged, orderID, OrderStatusChangedPayload{
		OrderID: orderID,
		From:    string(from),
		To:      string(to),
	})
}

func (b *EventBus) PublishPaymentSucceeded(ctx context.Context, payment domain.Payment) error {
	return b.publish(ctx, EventPaymentSucceeded, payment.OrderID, paymentPayload(payment, ""))
}

func (b *EventBus) PublishPaymentFailed(ctx context.Context, payment domain.Payment, reason string) error {
	return b.publish(ctx, EventPaymentFailed, payment.OrderID, paymentPayload(payment, reason))
}

// Close flushes pending messages.
func (b *EventBus) Close() error {
	return b.writer.Close()
}

func (b *EventBus) publish(ctx context.Context, eventType, key string, payload any) error {
	env, err := newEnvelope(ctx, b.producer, eventType, key, payload, b.now())
	if err != nil {
		return err
	}
	return writeEnvelope(ctx, b.writer, key, env)
}

func writeEnvelope(ctx context.Context, w MessageWriter, key string, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
			{Key: "event_id", Value: []byte(env.EventID)},
		},
	}
	for k, v := range telemetry.InjectContext(ctx) {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s: %w", env.EventType, err)
	}
	return nil
}

func paymentPayload(p domain.Payment, reason string) PaymentPayload {
	return PaymentPayload{
		Reference: p.Reference,
		OrderID:   p.OrderID,
		UserID:    p.UserID,
		Amount:    p.Amount.StringFixed(2),
		Currency:  p.Currency,
		Method:    string(p.Method),
		Reason:    reason,
	}
}
