package app_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dejobratic/storefront/internal/orders/adapters/memory"
	"github.com/dejobratic/storefront/internal/orders/app"
	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/ports"
	"github.com/shopspring/decimal"
)

func newReconciler(t *testing.T, f *fixture) *app.Reconciler {
	t.Helper()
	return app.NewReconciler(f.ledger, f.notifier, f.events, testLogger(), testMetrics(t))
}

func TestReconcilerApplySuccess(t *testing.T) {
	t.Run("settles order and decrements stock once", func(t *testing.T) {
		f := newFixture(t, 10)
		r := newReconciler(t, f)
		ctx := context.Background()

		result, err := r.Apply(ctx, successOutcome("ref-1", domain.SourceVerify))
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}

		if result.AlreadyApplied {
			t.Error("expected first application to change state")
		}
		if result.Payment.Status != domain.PaymentSuccess {
			t.Errorf("expected payment success, got %s", result.Payment.Status)
		}
		if result.Payment.AuthorizationCode != "AUTH_abc" {
			t.Errorf("expected authorization code to be stored, got %q", result.Payment.AuthorizationCode)
		}
		if result.Order.Status != domain.StatusProcessing || !result.Order.IsPaid() {
			t.Errorf("expected paid Processing order, got %s paid=%v", result.Order.Status, result.Order.IsPaid())
		}
		if result.Order.Payment == nil || result.Order.Payment.Reference != "ref-1" {
			t.Errorf("expected order payment info for ref-1, got %+v", result.Order.Payment)
		}
		if got := f.stock(t); got != 7 {
			t.Errorf("expected stock 7, got %d", got)
		}

		again, err := r.Apply(ctx, successOutcome("ref-1", domain.SourceVerify))
		if err != nil {
			t.Fatalf("expected no error on replay, got: %v", err)
		}
		if !again.AlreadyApplied {
			t.Error("expected replay to report AlreadyApplied")
		}
		if got := f.stock(t); got != 7 {
			t.Errorf("expected stock to stay 7, got %d", got)
		}
		if len(f.events.succeeded) != 1 {
			t.Errorf("expected one payment.succeeded event, got %d", len(f.events.succeeded))
		}
	})

	t.Run("webhook and verify for the same reference apply once", func(t *testing.T) {
		f := newFixture(t, 10)
		r := newReconciler(t, f)
		ctx := context.Background()

		if _, err := r.Apply(ctx, successOutcome("ref-1", domain.SourceWebhook)); err != nil {
			t.Fatalf("webhook apply: %v", err)
		}
		result, err := r.Apply(ctx, successOutcome("ref-1", domain.SourceVerify))
		if err != nil {
			t.Fatalf("verify apply: %v", err)
		}

		if !result.AlreadyApplied {
			t.Error("expected verify after webhook to replay")
		}
		if got := f.stock(t); got != 7 {
			t.Errorf("expected stock 7, got %d", got)
		}
		if src := result.Payment.Metadata[domain.MetaOutcomeSource]; src != string(domain.SourceWebhook) {
			t.Errorf("expected recorded source webhook, got %v", src)
		}
	})

	t.Run("concurrent deliveries decrement stock exactly once", func(t *testing.T) {
		f := newFixture(t, 10)
		r := newReconciler(t, f)
		ctx := context.Background()

		const deliveries = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			applied int
		)
		for i := range deliveries {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				source := domain.SourceVerify
				if i%2 == 0 {
					source = domain.SourceWebhook
				}
				result, err := r.Apply(ctx, successOutcome("ref-1", source))
				if err != nil {
					t.Errorf("apply %d: %v", i, err)
					return
				}
				if !result.AlreadyApplied {
					mu.Lock()
					applied++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		if applied != 1 {
			t.Errorf("expected exactly one application, got %d", applied)
		}
		if got := f.stock(t); got != 7 {
			t.Errorf("expected stock 7, got %d", got)
		}
	})

	t.Run("second successful payment for a paid order skips stock", func(t *testing.T) {
		f := newFixture(t, 10)
		r := newReconciler(t, f)
		ctx := context.Background()

		second := newPendingPayment("ref-2", f.order)
		if err := f.ledger.Payments().Create(ctx, second); err != nil {
			t.Fatalf("seed second payment: %v", err)
		}

		if _, err := r.Apply(ctx, successOutcome("ref-1", domain.SourceVerify)); err != nil {
			t.Fatalf("first apply: %v", err)
		}
		result, err := r.Apply(ctx, successOutcome("ref-2", domain.SourceWebhook))
		if err != nil {
			t.Fatalf("second apply: %v", err)
		}

		if result.Payment.Status != domain.PaymentSuccess {
			t.Errorf("expected second payment success, got %s", result.Payment.Status)
		}
		if result.Payment.Metadata[domain.MetaDuplicatePayment] != true {
			t.Errorf("expected duplicate_payment annotation, got %v", result.Payment.Metadata)
		}
		if result.Order.Payment.Reference != "ref-1" {
			t.Errorf("expected order to keep ref-1, got %s", result.Order.Payment.Reference)
		}
		if got := f.stock(t); got != 7 {
			t.Errorf("expected stock 7, got %d", got)
		}
	})

	t.Run("payment for a cancelled order leaves order and stock alone", func(t *testing.T) {
		f := newFixture(t, 10)
		r := newReconciler(t, f)
		ctx := context.Background()

		err := f.ledger.Orders().TransitionStatus(ctx, "order-1", domain.StatusProcessing, domain.StatusCancelled, f.order.CreatedAt)
		if err != nil {
			t.Fatalf("cancel order: %v", err)
		}

		result, err := r.Apply(ctx, successOutcome("ref-1", domain.SourceWebhook))
		if err != nil {
			t.Fatalf("apply: %v", err)
		}

		if result.Order.Status != domain.StatusCancelled {
			t.Errorf("expected order to stay Cancelled, got %s", result.Order.Status)
		}
		if result.Payment.Metadata[domain.MetaOrderCancelled] != true {
			t.Errorf("expected order_cancelled annotation, got %v", result.Payment.Metadata)
		}
		if got := f.stock(t); got != 10 {
			t.Errorf("expected stock 10, got %d", got)
		}
	})

	t.Run("payment for an order already shipped keeps its delivery status", func(t *testing.T) {
		f := newFixture(t, 10)
		r := newReconciler(t, f)
		ctx := context.Background()

		err := f.ledger.Orders().TransitionStatus(ctx, "order-1", domain.StatusProcessing, domain.StatusShipped, f.order.CreatedAt)
		if err != nil {
			t.Fatalf("ship order: %v", err)
		}

		result, err := r.Apply(ctx, successOutcome("ref-1", domain.SourceVerify))
		if err != nil {
			t.Fatalf("apply: %v", err)
		}

		if result.Order.Status != domain.StatusShipped {
			t.Errorf("expected order to stay Shipped, got %s", result.Order.Status)
		}
		if !result.Order.IsPaid() || result.Order.Payment == nil || result.Order.Payment.Reference != "ref-1" {
			t.Errorf("expected order settled by ref-1, got paid=%v payment=%+v", result.Order.IsPaid(), result.Order.Payment)
		}
		if got := f.stock(t); got != 7 {
			t.Errorf("expected stock 7, got %d", got)
		}
	})
}

func TestReconcilerApplyFailure(t *testing.T) {
	f := newFixture(t, 10)
	r := newReconciler(t, f)
	ctx := context.Background()

	result, err := r.Apply(ctx, domain.PaymentOutcome{
		Reference:     "ref-1",
		Status:        domain.PaymentFailed,
		FailureReason: "abandoned: Customer left checkout",
		Source:        domain.SourceVerify,
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if result.Payment.Status != domain.PaymentFailed {
		t.Errorf("expected payment failed, got %s", result.Payment.Status)
	}
	if result.Payment.Metadata[domain.MetaFailureReason] != "abandoned: Customer left checkout" {
		t.Errorf("expected failure reason in metadata, got %v", result.Payment.Metadata)
	}
	if result.Order.IsPaid() || result.Order.Status != domain.StatusProcessing {
		t.Errorf("expected order untouched, got %s paid=%v", result.Order.Status, result.Order.IsPaid())
	}
	if got := f.stock(t); got != 10 {
		t.Errorf("expected stock 10, got %d", got)
	}
	if len(f.events.failed) != 1 {
		t.Errorf("expected one payment.failed event, got %d", len(f.events.failed))
	}

	t.Run("late success does not override a recorded failure", func(t *testing.T) {
		late, err := r.Apply(ctx, successOutcome("ref-1", domain.SourceWebhook))
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if !late.AlreadyApplied || late.Payment.Status != domain.PaymentFailed {
			t.Errorf("expected recorded failure, got %s applied=%v", late.Payment.Status, late.AlreadyApplied)
		}
		if _, ok := late.Payment.Metadata[domain.MetaLateOutcome]; !ok {
			t.Error("expected late_outcome annotation")
		}
		if got := f.stock(t); got != 10 {
			t.Errorf("expected stock 10, got %d", got)
		}
	})
}

func TestReconcilerStockAlerts(t *testing.T) {
	t.Run("notifies store contact when stock is depleted", func(t *testing.T) {
		f := newFixture(t, 3)
		r := newReconciler(t, f)

		result, err := r.Apply(context.Background(), successOutcome("ref-1", domain.SourceVerify))
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}

		if len(result.DepletedProducts) != 1 {
			t.Fatalf("expected one depleted product, got %d", len(result.DepletedProducts))
		}
		if result.DepletedProducts[0].Remaining != 0 {
			t.Errorf("expected remaining 0, got %d", result.DepletedProducts[0].Remaining)
		}
		if f.notifier.count() != 1 {
			t.Fatalf("expected one notification, got %d", f.notifier.count())
		}
		if f.notifier.sent[0].Recipient != "ops@kitchen.example" {
			t.Errorf("expected store contact recipient, got %s", f.notifier.sent[0].Recipient)
		}
	})

	t.Run("alert failure does not fail reconciliation", func(t *testing.T) {
		f := newFixture(t, 2)
		f.notifier.err = errors.New("smtp down")
		r := newReconciler(t, f)

		result, err := r.Apply(context.Background(), successOutcome("ref-1", domain.SourceWebhook))
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if result.Payment.Status != domain.PaymentSuccess {
			t.Errorf("expected payment success, got %s", result.Payment.Status)
		}
		if got := f.stock(t); got != -1 {
			t.Errorf("expected stock -1, got %d", got)
		}
	})

	t.Run("replay does not re-notify", func(t *testing.T) {
		f := newFixture(t, 3)
		r := newReconciler(t, f)
		ctx := context.Background()

		for range 3 {
			if _, err := r.Apply(ctx, successOutcome("ref-1", domain.SourceVerify)); err != nil {
				t.Fatalf("apply: %v", err)
			}
		}
		if f.notifier.count() != 1 {
			t.Errorf("expected one notification, got %d", f.notifier.count())
		}
	})
}

func TestReconcilerErrors(t *testing.T) {
	f := newFixture(t, 10)
	r := newReconciler(t, f)
	ctx := context.Background()

	t.Run("unknown reference", func(t *testing.T) {
		_, err := r.Apply(ctx, successOutcome("missing", domain.SourceVerify))
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("non-terminal outcome", func(t *testing.T) {
		_, err := r.Apply(ctx, domain.PaymentOutcome{Reference: "ref-1", Status: domain.PaymentPending})
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
		if got := f.stock(t); got != 10 {
			t.Errorf("expected stock 10, got %d", got)
		}
	})
}

type decrementLog struct {
	mu       sync.Mutex
	products []string
}

// orderedLedger records the sequence of stock decrements made inside
// transactions.
type orderedLedger struct {
	*memory.Ledger
	log *decrementLog
}

func (l orderedLedger) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ports.Repositories) error) error {
	return l.Ledger.WithinTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		return fn(ctx, orderedRepos{Repositories: repos, log: l.log})
	})
}

type orderedRepos struct {
	ports.Repositories
	log *decrementLog
}

func (r orderedRepos) Products() ports.ProductRepository {
	return orderedProducts{ProductRepository: r.Repositories.Products(), log: r.log}
}

type orderedProducts struct {
	ports.ProductRepository
	log *decrementLog
}

func (p orderedProducts) DecrementStock(ctx context.Context, productID string, qty int) (domain.StockLevel, error) {
	p.log.mu.Lock()
	p.log.products = append(p.log.products, productID)
	p.log.mu.Unlock()
	return p.ProductRepository.DecrementStock(ctx, productID, qty)
}

func TestReconcilerDecrementsStockInProductOrder(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewLedger()
	inner.SeedStore(domain.Store{ID: "store-1", Name: "Kitchen Co", ContactEmail: "ops@kitchen.example"})
	for _, id := range []string{"A", "B", "C"} {
		inner.SeedProduct(domain.Product{ID: id, StoreID: "store-1", Name: "Item " + id, Price: decimal.NewFromInt(100), Stock: 10})
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:            "order-1",
		UserID:        "user-1",
		CustomerEmail: "buyer@example.com",
		Items: []domain.LineItem{
			{ProductID: "C", Name: "Item C", Quantity: 1, UnitPrice: decimal.NewFromInt(100)},
			{ProductID: "A", Name: "Item A", Quantity: 2, UnitPrice: decimal.NewFromInt(100)},
			{ProductID: "C", Name: "Item C", Quantity: 3, UnitPrice: decimal.NewFromInt(100)},
			{ProductID: "B", Name: "Item B", Quantity: 1, UnitPrice: decimal.NewFromInt(100)},
		},
		Shipping: domain.ShippingInfo{
			Address: "12 Marina Road", City: "Lagos", State: "Lagos",
			PostalCode: "101001", Country: "NG", Phone: "+2348000000000",
		},
		Pricing:   domain.PriceBreakdown{Items: decimal.NewFromInt(700), Total: decimal.NewFromInt(700)},
		Status:    domain.StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := inner.Orders().Create(ctx, order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if err := inner.Payments().Create(ctx, newPendingPayment("ref-1", order)); err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	log := &decrementLog{}
	r := app.NewReconciler(orderedLedger{Ledger: inner, log: log}, &recordingNotifier{}, &recordingEventBus{}, testLogger(), testMetrics(t))

	if _, err := r.Apply(ctx, successOutcome("ref-1", domain.SourceWebhook)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if !slices.Equal(log.products, []string{"A", "B", "C"}) {
		t.Errorf("expected decrements in product ID order, got %v", log.products)
	}
	for id, want := range map[string]int{"A": 8, "B": 9, "C": 6} {
		if p, _ := inner.Product(id); p.Stock != want {
			t.Errorf("expected %s stock %d, got %d", id, want, p.Stock)
		}
	}
}
