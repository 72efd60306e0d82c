package domain

import (
	"maps"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is the single settlement currency of the storefront.
const Currency = "NGN"

// Metadata keys written by the reconciliation flow.
const (
	MetaFailureReason    = "failure_reason"
	MetaGatewayResponse  = "gateway_response"
	MetaDuplicatePayment = "duplicate_payment"
	MetaOutcomeSource    = "outcome_source"
	MetaLateOutcome      = "late_outcome"
	MetaOrderCancelled   = "order_cancelled"
	MetaChargeError      = "charge_error"
)

// Payment is one attempt to settle an order through the gateway.
type Payment struct {
	ID                string         `json:"id"`
	Reference         string         `json:"reference"`
	OrderID           string         `json:"order_id"`
	UserID            string         `json:"user_id"`
	Amount            Money          `json:"amount"`
	Currency          string         `json:"currency"`
	Method            PaymentMethod  `json:"method"`
	Status            PaymentStatus  `json:"status"`
	AuthorizationCode string         `json:"-"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	PaidAt            *time.Time     `json:"paid_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// HasSavedAuthorization reports whether the payment can seed a recurring charge.
func (p Payment) HasSavedAuthorization() bool {
	return p.Status == PaymentSuccess && p.AuthorizationCode != ""
}

// WithMetadata returns a copy of the metadata map with extra merged in.
func (p Payment) WithMetadata(extra map[string]any) map[string]any {
	out := make(map[string]any, len(p.Metadata)+len(extra))
	maps.Copy(out, p.Metadata)
	maps.Copy(out, extra)
	return out
}

// OutcomeSource identifies which entry point observed a payment outcome.
type OutcomeSource string

const (
	SourceVerify  OutcomeSource = "verify"
	SourceWebhook OutcomeSource = "webhook"
	SourceCharge  OutcomeSource = "charge"
)

// PaymentOutcome is a terminal result reported by the gateway.
type PaymentOutcome struct {
	Reference         string
	Status            PaymentStatus
	Channel           string
	AuthorizationCode string
	PaidAt            time.Time
	FailureReason     string
	GatewayResponse   string
	Source            OutcomeSource
}

// Validate ensures the outcome can be applied.
func (o PaymentOutcome) Validate() error {
	if o.Reference == "" {
		return Validationf("payment reference is required")
	}
	if o.Status != PaymentSuccess && o.Status != PaymentFailed {
		return Validationf("outcome status %q is not terminal", o.Status)
	}
	return nil
}

// ToMinorUnits converts a major-unit amount into the gateway's integer
// minor unit (kobo), rounding half away from zero.
func ToMinorUnits(amount Money) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts an integer minor-unit amount into Money.
func FromMinorUnits(minor int64) Money {
	return decimal.New(minor, -2)
}
