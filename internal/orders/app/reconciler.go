package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/metrics"
	"github.com/dejobratic/storefront/internal/orders/ports"
	"github.com/dejobratic/storefront/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// DepletedProduct is a product whose stock reached zero or below during
// reconciliation, with the owning store when it could be resolved.
type DepletedProduct struct {
	domain.StockLevel
	Store *domain.Store `json:"store,omitempty"`
}

// Reconciliation is the recorded result of applying a payment outcome.
type Reconciliation struct {
	Payment          domain.Payment    `json:"payment"`
	Order            domain.Order      `json:"order"`
	AlreadyApplied   bool              `json:"already_applied"`
	DepletedProducts []DepletedProduct `json:"depleted_products,omitempty"`
}

// Reconciler applies terminal payment outcomes to payments, orders and stock.
// Every entry point (verify, webhook, recurring charge) goes through Apply so
// a success is applied at most once per payment and at most once per order.
type Reconciler struct {
	ledger   ports.Ledger
	notifier ports.Notifier
	events   ports.EventBus
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewReconciler(
	ledger ports.Ledger,
	notifier ports.Notifier,
	events ports.EventBus,
	logger *slog.Logger,
	metrics *metrics.Metrics,
) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		notifier: notifier,
		events:   events,
		logger:   logger,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Apply records the outcome. When the payment already left pending, the
// recorded result is returned with AlreadyApplied set and nothing is mutated.
func (r *Reconciler) Apply(ctx context.Context, outcome domain.PaymentOutcome) (*Reconciliation, error) {
	ctx, span := telemetry.StartSpan(ctx, "Reconciler.Apply")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("payment.reference", outcome.Reference),
		attribute.String("payment.outcome", string(outcome.Status)),
		attribute.String("payment.source", string(outcome.Source)),
	)

	if err := outcome.Validate(); err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	var result *Reconciliation
	err := r.ledger.WithinTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		payment, err := repos.Payments().GetByReference(ctx, outcome.Reference)
		if err != nil {
			return err
		}

		if payment.Status.IsTerminal() {
			result, err = r.replay(ctx, repos, *payment, outcome)
			return err
		}

		switch outcome.Status {
		case domain.PaymentSuccess:
			result, err = r.applySuccess(ctx, repos, *payment, outcome)
		default:
			result, err = r.applyFailure(ctx, repos, *payment, outcome)
		}
		return err
	})
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, fmt.Errorf("reconcile payment %s: %w", outcome.Reference, err)
	}

	r.metrics.RecordPaymentReconciled(ctx, string(outcome.Source), string(result.Payment.Status), result.AlreadyApplied)
	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", result.Order.ID),
		attribute.Bool("payment.already_applied", result.AlreadyApplied),
		attribute.Int("stock.depleted", len(result.DepletedProducts)),
	)

	if !result.AlreadyApplied {
		r.logger.InfoContext(ctx, "payment outcome applied",
			"reference", result.Payment.Reference,
			"order_id", result.Order.ID,
			"status", result.Payment.Status,
			"source", outcome.Source,
		)
		r.afterCommit(ctx, result, outcome)
	}

	telemetry.SetSpanSuccess(span)
	return result, nil
}

// Recorded returns the stored result for a payment without applying anything.
func (r *Reconciler) Recorded(ctx context.Context, reference string) (*Reconciliation, error) {
	payment, err := r.ledger.Payments().GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	order, err := r.ledger.Orders().GetByID(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	return &Reconciliation{Payment: *payment, Order: *order, AlreadyApplied: payment.Status.IsTerminal()}, nil
}

func (r *Reconciler) replay(ctx context.Context, repos ports.Repositories, payment domain.Payment, outcome domain.PaymentOutcome) (*Reconciliation, error) {
	// A contradicting late outcome is kept for audit; the recorded status stands.
	if outcome.Status != payment.Status {
		late := map[string]any{domain.MetaLateOutcome: string(outcome.Status) + " via " + string(outcome.Source)}
		if err := repos.Payments().Annotate(ctx, payment.Reference, late); err != nil {
			return nil, err
		}
		payment.Metadata = payment.WithMetadata(late)
		r.logger.WarnContext(ctx, "late payment outcome contradicts recorded status",
			"reference", payment.Reference,
			"recorded", payment.Status,
			"reported", outcome.Status,
		)
	}

	order, err := repos.Orders().GetByID(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	return &Reconciliation{Payment: payment, Order: *order, AlreadyApplied: true}, nil
}

func (r *Reconciler) applySuccess(ctx context.Context, repos ports.Repositories, payment domain.Payment, outcome domain.PaymentOutcome) (*Reconciliation, error) {
	now := r.now()
	paidAt := outcome.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}

	meta := map[string]any{domain.MetaOutcomeSource: string(outcome.Source)}
	if outcome.GatewayResponse != "" {
		meta[domain.MetaGatewayResponse] = outcome.GatewayResponse
	}

	applied, err := repos.Payments().Complete(ctx, payment.Reference, ports.PaymentCompletion{
		Status:            domain.PaymentSuccess,
		Method:            domain.MethodFromChannel(outcome.Channel, payment.Method),
		AuthorizationCode: outcome.AuthorizationCode,
		PaidAt:            &paidAt,
		Metadata:          meta,
		At:                now,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return r.reload(ctx, repos, payment.Reference)
	}

	info := domain.PaymentInfo{
		ID:        payment.ID,
		Reference: payment.Reference,
		Status:    domain.PaymentSuccess,
		Channel:   outcome.Channel,
	}
	marked, err := repos.Orders().MarkPaid(ctx, payment.OrderID, info, paidAt)
	if err != nil {
		return nil, err
	}

	result := &Reconciliation{}
	if marked {
		order, err := repos.Orders().GetByID(ctx, payment.OrderID)
		if err != nil {
			return nil, err
		}
		result.DepletedProducts, err = r.decrementStock(ctx, repos, *order)
		if err != nil {
			return nil, err
		}
	} else if err := r.annotateUnsettled(ctx, repos, payment); err != nil {
		return nil, err
	}

	reloaded, err := r.reload(ctx, repos, payment.Reference)
	if err != nil {
		return nil, err
	}
	reloaded.AlreadyApplied = false
	reloaded.DepletedProducts = result.DepletedProducts
	return reloaded, nil
}

// annotateUnsettled records why a successful payment did not settle its
// order: another payment got there first, or the order was cancelled.
func (r *Reconciler) annotateUnsettled(ctx context.Context, repos ports.Repositories, payment domain.Payment) error {
	order, err := repos.Orders().GetByID(ctx, payment.OrderID)
	if err != nil {
		return err
	}

	key := domain.MetaDuplicatePayment
	if order.Status == domain.StatusCancelled && !order.IsPaid() {
		key = domain.MetaOrderCancelled
	}

	r.logger.WarnContext(ctx, "successful payment did not settle order",
		"reference", payment.Reference,
		"order_id", order.ID,
		"reason", key,
	)
	return repos.Payments().Annotate(ctx, payment.Reference, map[string]any{key: true})
}

func (r *Reconciler) decrementStock(ctx context.Context, repos ports.Repositories, order domain.Order) ([]DepletedProduct, error) {
	quantities := order.Quantities()

	// Rows are locked in product ID order so two orders sharing products
	// cannot lock them in opposite order.
	var depleted []DepletedProduct
	for _, productID := range slices.Sorted(maps.Keys(quantities)) {
		level, err := repos.Products().DecrementStock(ctx, productID, quantities[productID])
		if err != nil {
			return nil, fmt.Errorf("decrement stock for %s: %w", productID, err)
		}
		if !level.Depleted() {
			continue
		}

		entry := DepletedProduct{StockLevel: level}
		store, err := repos.Products().GetStore(ctx, level.StoreID)
		switch {
		case err == nil:
			entry.Store = store
		case errors.Is(err, domain.ErrNotFound):
			r.logger.WarnContext(ctx, "store for depleted product not found",
				"product_id", level.ProductID,
				"store_id", level.StoreID,
			)
		default:
			return nil, err
		}
		depleted = append(depleted, entry)
	}
	return depleted, nil
}

func (r *Reconciler) applyFailure(ctx context.Context, repos ports.Repositories, payment domain.Payment, outcome domain.PaymentOutcome) (*Reconciliation, error) {
	reason := outcome.FailureReason
	if reason == "" {
		reason = "payment failed"
	}

	meta := map[string]any{
		domain.MetaFailureReason: reason,
		domain.MetaOutcomeSource: string(outcome.Source),
	}
	if outcome.GatewayResponse != "" {
		meta[domain.MetaGatewayResponse] = outcome.GatewayResponse
	}

	applied, err := repos.Payments().Complete(ctx, payment.Reference, ports.PaymentCompletion{
		Status:   domain.PaymentFailed,
		Metadata: meta,
		At:       r.now(),
	})
	if err != nil {
		return nil, err
	}

	result, err := r.reload(ctx, repos, payment.Reference)
	if err != nil {
		return nil, err
	}
	result.AlreadyApplied = !applied
	return result, nil
}

func (r *Reconciler) reload(ctx context.Context, repos ports.Repositories, reference string) (*Reconciliation, error) {
	payment, err := repos.Payments().GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	order, err := repos.Orders().GetByID(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	return &Reconciliation{Payment: *payment, Order: *order, AlreadyApplied: true}, nil
}

// afterCommit runs the side effects that must never roll back a payment.
func (r *Reconciler) afterCommit(ctx context.Context, result *Reconciliation, outcome domain.PaymentOutcome) {
	var err error
	if result.Payment.Status == domain.PaymentSuccess {
		err = r.events.PublishPaymentSucceeded(ctx, result.Payment)
	} else {
		err = r.events.PublishPaymentFailed(ctx, result.Payment, outcome.FailureReason)
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to publish payment event",
			"error", err,
			"reference", result.Payment.Reference,
		)
	}

	for _, product := range result.DepletedProducts {
		r.alertDepleted(ctx, product)
	}
}

func (r *Reconciler) alertDepleted(ctx context.Context, product DepletedProduct) {
	if product.Store == nil || product.Store.ContactEmail == "" {
		r.logger.WarnContext(ctx, "no contact for out-of-stock alert",
			"product_id", product.ProductID,
			"store_id", product.StoreID,
		)
		r.metrics.RecordStockAlert(ctx, false)
		return
	}

	err := r.notifier.Notify(ctx, ports.Notification{
		Recipient: product.Store.ContactEmail,
		Subject:   fmt.Sprintf("Out of stock: %s", product.Name),
		Message: fmt.Sprintf("%s (%s) in store %s has %d units left. Restock it to keep it available to customers.",
			product.Name, product.ProductID, product.Store.Name, product.Remaining),
	})
	r.metrics.RecordStockAlert(ctx, err == nil)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to send out-of-stock alert",
			"error", err,
			"product_id", product.ProductID,
			"store_id", product.StoreID,
		)
	}
}
