package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/ports"
	"github.com/google/uuid"
)

// WebhookChargeSuccess is the only gateway event that drives reconciliation.
const WebhookChargeSuccess = "charge.success"

// InitiatePaymentInput names the order to pay and how.
type InitiatePaymentInput struct {
	OrderID     string `json:"order_id"`
	Method      string `json:"method"`
	CallbackURL string `json:"callback_url"`
}

// PaymentInitiation is returned to the payer to complete checkout with the gateway.
type PaymentInitiation struct {
	Payment          domain.Payment `json:"payment"`
	AuthorizationURL string         `json:"authorization_url"`
	AccessCode       string         `json:"access_code,omitempty"`
}

// ChargeSavedCardInput charges an order using the authorization saved by a
// previous successful payment.
type ChargeSavedCardInput struct {
	OrderID         string `json:"order_id"`
	SourceReference string `json:"source_reference"`
}

// InitiatePayment opens a gateway transaction for the order total and
// records a pending payment.
func (s *Service) InitiatePayment(ctx context.Context, actor domain.Actor, input InitiatePaymentInput) (*PaymentInitiation, error) {
	method, err := domain.ParsePaymentMethod(input.Method)
	if err != nil {
		return nil, err
	}

	order, err := s.payableOrder(ctx, actor, input.OrderID)
	if err != nil {
		return nil, err
	}

	callback := strings.TrimSpace(input.CallbackURL)
	if callback == "" {
		callback = s.callbackURL
	}

	init, err := s.gateway.InitializeTransaction(ctx, ports.InitializeRequest{
		Email:       order.CustomerEmail,
		Amount:      order.Pricing.Total,
		Metadata:    map[string]any{"order_id": order.ID, "user_id": order.UserID},
		CallbackURL: callback,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	payment := domain.Payment{
		ID:        uuid.NewString(),
		Reference: init.Reference,
		OrderID:   order.ID,
		UserID:    order.UserID,
		Amount:    order.Pricing.Total,
		Currency:  domain.Currency,
		Method:    method,
		Status:    domain.PaymentPending,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.ledger.Payments().Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("record payment %s: %w", payment.Reference, err)
	}

	s.logger.InfoContext(ctx, "payment initiated",
		"reference", payment.Reference,
		"order_id", order.ID,
		"amount", payment.Amount.StringFixed(2),
	)

	return &PaymentInitiation{
		Payment:          payment,
		AuthorizationURL: init.AuthorizationURL,
		AccessCode:       init.AccessCode,
	}, nil
}

// VerifyPayment asks the gateway for the outcome of a payment and applies
// it. A payment that already left pending returns its recorded result
// without contacting the gateway.
func (s *Service) VerifyPayment(ctx context.Context, actor domain.Actor, reference string) (*Reconciliation, error) {
	payment, err := s.GetPayment(ctx, actor, reference)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsTerminal() {
		return s.reconciler.Recorded(ctx, reference)
	}

	tx, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}

	outcome, ok := tx.Outcome(domain.SourceVerify)
	if !ok {
		return nil, fmt.Errorf("%w: payment %s is still %s", domain.ErrTimeout, reference, tx.Status)
	}
	outcome.Reference = reference
	return s.reconciler.Apply(ctx, outcome)
}

// ChargeSavedCard charges an unpaid order against the card authorization of
// one of the actor's earlier successful payments.
func (s *Service) ChargeSavedCard(ctx context.Context, actor domain.Actor, input ChargeSavedCardInput) (*Reconciliation, error) {
	source, err := s.GetPayment(ctx, actor, input.SourceReference)
	if err != nil {
		return nil, err
	}
	if source.UserID != actor.ID {
		return nil, domain.Forbiddenf("saved card belongs to another user")
	}
	if !source.HasSavedAuthorization() {
		return nil, domain.Conflictf("payment %s has no reusable card authorization", source.Reference)
	}

	order, err := s.payableOrder(ctx, actor, input.OrderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	payment := domain.Payment{
		ID:        uuid.NewString(),
		Reference: "chg_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		OrderID:   order.ID,
		UserID:    order.UserID,
		Amount:    order.Pricing.Total,
		Currency:  domain.Currency,
		Method:    domain.MethodCard,
		Status:    domain.PaymentPending,
		Metadata:  map[string]any{"source_reference": source.Reference},
		CreatedAt: now,
		UpdatedAt: now,
	}
	// Recorded before the charge so a webhook racing the response finds it.
	if err := s.ledger.Payments().Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("record payment %s: %w", payment.Reference, err)
	}

	tx, err := s.gateway.ChargeAuthorization(ctx, ports.ChargeRequest{
		Email:             order.CustomerEmail,
		Amount:            order.Pricing.Total,
		AuthorizationCode: source.AuthorizationCode,
		Metadata:          map[string]any{"order_id": order.ID, "user_id": order.UserID},
		Reference:         payment.Reference,
	})
	if err != nil {
		return nil, s.recordChargeError(ctx, payment, err)
	}

	outcome, ok := tx.Outcome(domain.SourceCharge)
	if !ok {
		return &Reconciliation{Payment: payment, Order: *order}, nil
	}
	outcome.Reference = payment.Reference
	return s.reconciler.Apply(ctx, outcome)
}

// recordChargeError keeps the reason a recurring charge did not complete on
// the pending payment. A refusal that moved no money fails the payment. Any
// other error leaves it pending so verify or the webhook can settle it.
func (s *Service) recordChargeError(ctx context.Context, payment domain.Payment, chargeErr error) error {
	if errors.Is(chargeErr, ports.ErrRejected) || errors.Is(chargeErr, domain.ErrValidation) || errors.Is(chargeErr, domain.ErrConfiguration) {
		_, err := s.reconciler.Apply(ctx, domain.PaymentOutcome{
			Reference:     payment.Reference,
			Status:        domain.PaymentFailed,
			FailureReason: chargeErr.Error(),
			Source:        domain.SourceCharge,
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to record rejected charge",
				"error", err,
				"reference", payment.Reference,
			)
		}
		return chargeErr
	}

	s.logger.WarnContext(ctx, "charge outcome unknown; payment left pending",
		"error", chargeErr,
		"reference", payment.Reference,
	)
	if err := s.ledger.Payments().Annotate(ctx, payment.Reference, map[string]any{domain.MetaChargeError: chargeErr.Error()}); err != nil {
		s.logger.ErrorContext(ctx, "failed to annotate pending charge",
			"error", err,
			"reference", payment.Reference,
		)
	}
	return chargeErr
}

// GetPayment returns a payment visible to the actor.
func (s *Service) GetPayment(ctx context.Context, actor domain.Actor, reference string) (*domain.Payment, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, domain.Validationf("reference is required")
	}
	payment, err := s.ledger.Payments().GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(payment.UserID) {
		return nil, domain.Forbiddenf("payment %s belongs to another user", reference)
	}
	return payment, nil
}

// HandleWebhookEvent applies an authenticated gateway notification.
// Unrecognized events are ignored. Unknown references are logged and
// swallowed so the gateway does not redeliver data nobody can fix.
func (s *Service) HandleWebhookEvent(ctx context.Context, event ports.WebhookEvent) error {
	if event.Type != WebhookChargeSuccess {
		s.logger.DebugContext(ctx, "ignoring webhook event", "event", event.Type)
		return nil
	}

	tx := event.Transaction
	tx.Status = ports.TxSuccess
	outcome, _ := tx.Outcome(domain.SourceWebhook)

	_, err := s.reconciler.Apply(ctx, outcome)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "webhook references unknown payment",
			"reference", tx.Reference,
		)
		return nil
	}
	return err
}

func (s *Service) payableOrder(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, domain.Validationf("order_id is required")
	}
	order, err := s.ledger.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != actor.ID {
		return nil, domain.Forbiddenf("order %s belongs to another user", orderID)
	}
	if order.IsPaid() {
		return nil, domain.Conflictf("order %s is already paid", orderID)
	}
	if order.Status == domain.StatusCancelled {
		return nil, domain.Conflictf("order %s is cancelled", orderID)
	}
	return order, nil
}
