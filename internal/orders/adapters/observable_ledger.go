package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/dejobratic/storefront/internal/database"
	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/ports"
	"github.com/dejobratic/storefront/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// ObservableLedger traces every ledger call and records its latency. Calls
// made inside WithinTx are instrumented as well.
type ObservableLedger struct {
	ledger  ports.Ledger
	metrics *database.Metrics
}

func NewObservableLedger(ledger ports.Ledger, metrics *database.Metrics) *ObservableLedger {
	return &ObservableLedger{
		ledger:  ledger,
		metrics: metrics,
	}
}

func (l *ObservableLedger) Orders() ports.OrderRepository {
	return observableOrders{repo: l.ledger.Orders(), metrics: l.metrics}
}

func (l *ObservableLedger) Payments() ports.PaymentRepository {
	return observablePayments{repo: l.ledger.Payments(), metrics: l.metrics}
}

func (l *ObservableLedger) Products() ports.ProductRepository {
	return observableProducts{repo: l.ledger.Products(), metrics: l.metrics}
}

func (l *ObservableLedger) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ports.Repositories) error) error {
	_, err := observe(ctx, l.metrics, "Ledger.WithinTx", "transaction", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, l.ledger.WithinTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
			return fn(ctx, observableRepos{repos: repos, metrics: l.metrics})
		})
	})
	return err
}

type observableRepos struct {
	repos   ports.Repositories
	metrics *database.Metrics
}

func (r observableRepos) Orders() ports.OrderRepository {
	return observableOrders{repo: r.repos.Orders(), metrics: r.metrics}
}

func (r observableRepos) Payments() ports.PaymentRepository {
	return observablePayments{repo: r.repos.Payments(), metrics: r.metrics}
}

func (r observableRepos) Products() ports.ProductRepository {
	return observableProducts{repo: r.repos.Products(), metrics: r.metrics}
}

type observableOrders struct {
	repo    ports.OrderRepository
	metrics *database.Metrics
}

func (r observableOrders) Create(ctx context.Context, order domain.Order) error {
	_, err := observe(ctx, r.metrics, "OrderRepository.Create", "create_order", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.repo.Create(ctx, order)
	}, attribute.String("order.id", order.ID))
	return err
}

func (r observableOrders) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return observe(ctx, r.metrics, "OrderRepository.GetByID", "get_order", func(ctx context.Context) (*domain.Order, error) {
		return r.repo.GetByID(ctx, id)
	}, attribute.String("order.id", id))
}

func (r observableOrders) List(ctx context.Context, filter ports.ListFilter) ([]domain.Order, error) {
	return observe(ctx, r.metrics, "OrderRepository.List", "list_orders", func(ctx context.Context) ([]domain.Order, error) {
		return r.repo.List(ctx, filter)
	},
		attribute.String("user.id", filter.UserID),
		attribute.Int("page", filter.Page),
		attribute.Int("page_size", filter.PageSize),
	)
}

func (r observableOrders) TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) error {
	_, err := observe(ctx, r.metrics, "OrderRepository.TransitionStatus", "transition_order", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.repo.TransitionStatus(ctx, id, from, to, at)
	},
		attribute.String("order.id", id),
		attribute.String("order.status.from", string(from)),
		attribute.String("order.status.to", string(to)),
	)
	return err
}

func (r observableOrders) MarkPaid(ctx context.Context, id string, info domain.PaymentInfo, paidAt time.Time) (bool, error) {
	return observe(ctx, r.metrics, "OrderRepository.MarkPaid", "mark_order_paid", func(ctx context.Context) (bool, error) {
		return r.repo.MarkPaid(ctx, id, info, paidAt)
	},
		attribute.String("order.id", id),
		attribute.String("payment.reference", info.Reference),
	)
}

type observablePayments struct {
	repo    ports.PaymentRepository
	metrics *database.Metrics
}

func (r observablePayments) Create(ctx context.Context, payment domain.Payment) error {
	_, err := observe(ctx, r.metrics, "PaymentRepository.Create", "create_payment", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.repo.Create(ctx, payment)
	},
		attribute.String("payment.reference", payment.Reference),
		attribute.String("order.id", payment.OrderID),
	)
	return err
}

func (r observablePayments) GetByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	return observe(ctx, r.metrics, "PaymentRepository.GetByReference", "get_payment", func(ctx context.Context) (*domain.Payment, error) {
		return r.repo.GetByReference(ctx, reference)
	}, attribute.String("payment.reference", reference))
}

func (r observablePayments) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	return observe(ctx, r.metrics, "PaymentRepository.ListByOrder", "list_payments", func(ctx context.Context) ([]domain.Payment, error) {
		return r.repo.ListByOrder(ctx, orderID)
	}, attribute.String("order.id", orderID))
}

func (r observablePayments) Complete(ctx context.Context, reference string, completion ports.PaymentCompletion) (bool, error) {
	return observe(ctx, r.metrics, "PaymentRepository.Complete", "complete_payment", func(ctx context.Context) (bool, error) {
		return r.repo.Complete(ctx, reference, completion)
	},
		attribute.String("payment.reference", reference),
		attribute.String("payment.status", string(completion.Status)),
	)
}

func (r observablePayments) Annotate(ctx context.Context, reference string, metadata map[string]any) error {
	_, err := observe(ctx, r.metrics, "PaymentRepository.Annotate", "annotate_payment", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.repo.Annotate(ctx, reference, metadata)
	}, attribute.String("payment.reference", reference))
	return err
}

type observableProducts struct {
	repo    ports.ProductRepository
	metrics *database.Metrics
}

func (r observableProducts) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	return observe(ctx, r.metrics, "ProductRepository.GetByIDs", "get_products", func(ctx context.Context) (map[string]domain.Product, error) {
		return r.repo.GetByIDs(ctx, ids)
	}, attribute.StringSlice("product.ids", ids))
}

func (r observableProducts) DecrementStock(ctx context.Context, productID string, qty int) (domain.StockLevel, error) {
	return observe(ctx, r.metrics, "ProductRepository.DecrementStock", "decrement_stock", func(ctx context.Context) (domain.StockLevel, error) {
		return r.repo.DecrementStock(ctx, productID, qty)
	},
		attribute.String("product.id", productID),
		attribute.Int("quantity", qty),
	)
}

func (r observableProducts) GetStore(ctx context.Context, storeID string) (*domain.Store, error) {
	return observe(ctx, r.metrics, "ProductRepository.GetStore", "get_store", func(ctx context.Context) (*domain.Store, error) {
		return r.repo.GetStore(ctx, storeID)
	}, attribute.String("store.id", storeID))
}

// observe wraps one call in a span. Not-found results are expected misses
// and are not counted as query errors.
func observe[T any](ctx context.Context, metrics *database.Metrics, spanName, operation string, fn func(context.Context) (T, error), attrs ...attribute.KeyValue) (T, error) {
	ctx, span := telemetry.StartSpan(ctx, spanName)
	defer span.End()

	telemetry.AddSpanAttributes(span, append(attrs, attribute.String("operation", operation))...)

	start := time.Now()
	result, err := fn(ctx)
	duration := time.Since(start).Seconds()

	failed := err != nil && !errors.Is(err, domain.ErrNotFound)
	metrics.RecordQuery(ctx, operation, duration, failed)

	if err != nil {
		if failed {
			telemetry.RecordSpanError(span, err)
		}
		return result, err
	}

	telemetry.SetSpanSuccess(span)
	return result, nil
}
