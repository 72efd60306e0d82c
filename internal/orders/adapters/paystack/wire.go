package paystack

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/ports"
)

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeRequest struct {
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency"`
	CallbackURL string         `json:"callback_url"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type chargeRequest struct {
	Email             string         `json:"email"`
	Amount            int64          `json:"amount"`
	Currency          string         `json:"currency"`
	AuthorizationCode string         `json:"authorization_code"`
	Reference         string         `json:"reference,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

type authorization struct {
	AuthorizationCode string `json:"authorization_code"`
	Reusable          bool   `json:"reusable"`
}

type transactionData struct {
	Reference       string         `json:"reference"`
	Status          string         `json:"status"`
	Channel         string         `json:"channel"`
	Amount          int64          `json:"amount"`
	GatewayResponse string         `json:"gateway_response"`
	PaidAt          *string        `json:"paid_at"`
	Authorization   *authorization `json:"authorization"`
}

func (d transactionData) toTransaction() (*ports.Transaction, error) {
	switch d.Status {
	case ports.TxSuccess, ports.TxFailed, ports.TxAbandoned, ports.TxPending:
	default:
		return nil, fmt.Errorf("%w: unknown transaction status %q", domain.ErrProtocol, d.Status)
	}
	if d.Reference == "" {
		return nil, fmt.Errorf("%w: transaction without reference", domain.ErrProtocol)
	}

	tx := &ports.Transaction{
		Reference:       d.Reference,
		Status:          d.Status,
		Channel:         d.Channel,
		AmountMinor:     d.Amount,
		GatewayResponse: d.GatewayResponse,
	}
	if d.Authorization != nil {
		tx.AuthorizationCode = d.Authorization.AuthorizationCode
		tx.Reusable = d.Authorization.Reusable
	}
	if d.PaidAt != nil && *d.PaidAt != "" {
		if paidAt, err := time.Parse(time.RFC3339Nano, *d.PaidAt); err == nil {
			tx.PaidAt = paidAt.UTC()
		}
	}
	return tx, nil
}

type webhookPayload struct {
	Event string          `json:"event"`
	Data  transactionData `json:"data"`
}

// ParseWebhookEvent decodes an already authenticated webhook body.
func ParseWebhookEvent(body []byte) (ports.WebhookEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return ports.WebhookEvent{}, fmt.Errorf("%w: decode webhook: %v", domain.ErrProtocol, err)
	}
	if payload.Event == "" {
		return ports.WebhookEvent{}, fmt.Errorf("%w: webhook without event type", domain.ErrProtocol)
	}

	event := ports.WebhookEvent{Type: payload.Event}
	if payload.Data.Reference != "" {
		if tx, err := payload.Data.toTransaction(); err == nil {
			event.Transaction = *tx
		} else {
			event.Transaction = ports.Transaction{Reference: payload.Data.Reference, Channel: payload.Data.Channel}
		}
	}
	return event, nil
}
