package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dejobratic/storefront/internal/telemetry"
	"github.com/google/uuid"
)

// Event types published on the events topic.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventPaymentSucceeded   = "payment.succeeded"
	EventPaymentFailed      = "payment.failed"
	EventStockDepleted      = "notification.stock_depleted"
)

const envelopeVersion = 1

// Envelope wraps every payload written to Kafka.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

func newEnvelope(ctx context.Context, producer, eventType, correlationID string, payload any, at time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  envelopeVersion,
		OccurredAt:    at,
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       raw,
	}
	env.TraceID = telemetry.TraceID(ctx)
	return env, nil
}

// UnwrapPayload decodes the payload of an envelope into T.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}

type OrderCreatedPayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Total   string `json:"total"`
	Items   int    `json:"items"`
}

type OrderStatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

type PaymentPayload struct {
	Reference string `json:"reference"`
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Method    string `json:"method"`
	Reason    string `json:"reason,omitempty"`
}
