package app_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dejobratic/storefront/internal/orders/adapters/memory"
	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/metrics"
	"github.com/dejobratic/storefront/internal/orders/ports"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric/noop"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	m, err := metrics.NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}
	return m
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []ports.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg ports.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type recordingEventBus struct {
	mu        sync.Mutex
	created   []string
	changed   []domain.OrderStatus
	succeeded []string
	failed    []string
	err       error
}

func (b *recordingEventBus) PublishOrderCreated(_ context.Context, order domain.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = append(b.created, order.ID)
	return b.err
}

func (b *recordingEventBus) PublishOrderStatusChanged(_ context.Context, _ string, _, to domain.OrderStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changed = append(b.changed, to)
	return b.err
}

func (b *recordingEventBus) PublishPaymentSucceeded(_ context.Context, payment domain.Payment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.succeeded = append(b.succeeded, payment.Reference)
	return b.err
}

func (b *recordingEventBus) PublishPaymentFailed(_ context.Context, payment domain.Payment, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed = append(b.failed, payment.Reference)
	return b.err
}

// fixture seeds one store, product P (price 1000) and an unpaid order for
// three units of P with a pending payment "ref-1".
type fixture struct {
	ledger   *memory.Ledger
	notifier *recordingNotifier
	events   *recordingEventBus
	order    domain.Order
	payment  domain.Payment
}

func newFixture(t *testing.T, stock int) *fixture {
	t.Helper()
	ctx := context.Background()
	ledger := memory.NewLedger()

	ledger.SeedStore(domain.Store{ID: "store-1", Name: "Kitchen Co", ContactEmail: "ops@kitchen.example"})
	ledger.SeedProduct(domain.Product{
		ID:      "P",
		StoreID: "store-1",
		Name:    "Kettle",
		Price:   decimal.NewFromInt(1000),
		Stock:   stock,
	})

	now := time.Now().UTC()
	order := domain.Order{
		ID:            "order-1",
		UserID:        "user-1",
		CustomerEmail: "buyer@example.com",
		Items: []domain.LineItem{
			{ProductID: "P", Name: "Kettle", Quantity: 3, UnitPrice: decimal.NewFromInt(1000)},
		},
		Shipping: domain.ShippingInfo{
			Address: "12 Marina Road", City: "Lagos", State: "Lagos",
			PostalCode: "101001", Country: "NG", Phone: "+2348000000000",
		},
		Pricing:   domain.PriceBreakdown{Items: decimal.NewFromInt(3000), Total: decimal.NewFromInt(3000)},
		Status:    domain.StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ledger.Orders().Create(ctx, order); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	payment := newPendingPayment("ref-1", order)
	if err := ledger.Payments().Create(ctx, payment); err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	return &fixture{
		ledger:   ledger,
		notifier: &recordingNotifier{},
		events:   &recordingEventBus{},
		order:    order,
		payment:  payment,
	}
}

func newPendingPayment(reference string, order domain.Order) domain.Payment {
	now := time.Now().UTC()
	return domain.Payment{
		ID:        "pay-" + reference,
		Reference: reference,
		OrderID:   order.ID,
		UserID:    order.UserID,
		Amount:    order.Pricing.Total,
		Currency:  domain.Currency,
		Method:    domain.MethodCard,
		Status:    domain.PaymentPending,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (f *fixture) stock(t *testing.T) int {
	t.Helper()
	p, ok := f.ledger.Product("P")
	if !ok {
		t.Fatal("product P missing")
	}
	return p.Stock
}

func successOutcome(reference string, source domain.OutcomeSource) domain.PaymentOutcome {
	return domain.PaymentOutcome{
		Reference:         reference,
		Status:            domain.PaymentSuccess,
		Channel:           "card",
		AuthorizationCode: "AUTH_abc",
		PaidAt:            time.Now().UTC(),
		GatewayResponse:   "Approved",
		Source:            source,
	}
}
