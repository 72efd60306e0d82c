package ports

import (
	"context"
	"errors"
	"time"

	"github.com/dejobratic/storefront/internal/orders/domain"
)

// InitializeRequest starts a hosted checkout with the payment gateway.
type InitializeRequest struct {
	Email       string
	Amount      domain.Money
	Metadata    map[string]any
	CallbackURL string
}

// InitializeResult is the gateway's answer to an initialization.
type InitializeResult struct {
	Reference        string
	AuthorizationURL string
	AccessCode       string
}

// ChargeRequest charges a saved card authorization.
type ChargeRequest struct {
	Email             string
	Amount            domain.Money
	AuthorizationCode string
	Metadata          map[string]any
	Reference         string
}

// Transaction is the gateway view of a transaction.
type Transaction struct {
	Reference         string
	Status            string
	Channel           string
	AuthorizationCode string
	Reusable          bool
	AmountMinor       int64
	PaidAt            time.Time
	GatewayResponse   string
}

// Gateway transaction statuses.
const (
	TxSuccess   = "success"
	TxFailed    = "failed"
	TxAbandoned = "abandoned"
	TxPending   = "pending"
)

// ErrRejected marks a gateway answer that refused the request outright. No
// money moved and repeating the same request will not succeed.
var ErrRejected = errors.New("rejected by gateway")

// PaymentGateway is the outbound contract with the payment processor.
type PaymentGateway interface {
	InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResult, error)
	VerifyTransaction(ctx context.Context, reference string) (*Transaction, error)
	ChargeAuthorization(ctx context.Context, req ChargeRequest) (*Transaction, error)
}

// Outcome converts a gateway transaction into a domain outcome. Pending
// transactions have no terminal outcome and report false.
func (t Transaction) Outcome(source domain.OutcomeSource) (domain.PaymentOutcome, bool) {
	outcome := domain.PaymentOutcome{
		Reference:       t.Reference,
		Channel:         t.Channel,
		GatewayResponse: t.GatewayResponse,
		Source:          source,
	}
	switch t.Status {
	case TxSuccess:
		outcome.Status = domain.PaymentSuccess
		outcome.PaidAt = t.PaidAt
		if t.Reusable {
			outcome.AuthorizationCode = t.AuthorizationCode
		}
	case TxFailed, TxAbandoned:
		outcome.Status = domain.PaymentFailed
		outcome.FailureReason = t.Status
		if t.GatewayResponse != "" {
			outcome.FailureReason = t.Status + ": " + t.GatewayResponse
		}
	default:
		return domain.PaymentOutcome{}, false
	}
	return outcome, true
}

// WebhookEvent is an authenticated asynchronous notification from the gateway.
type WebhookEvent struct {
	Type        string
	Transaction Transaction
}
