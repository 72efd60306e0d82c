package ports

import (
	"context"
	"time"

	"github.com/dejobratic/storefront/internal/orders/domain"
)

// OrderRepository exposes order persistence.
type OrderRepository interface {
	Create(ctx context.Context, order domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Order, error)
	// TransitionStatus moves the order from one status to another. It fails
	// with domain.ErrConflict when the stored status is no longer from.
	TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) error
	// MarkPaid records the settling payment. Orders are created in
	// Processing and the lifecycle never moves backwards, so the delivery
	// status is left as it is. It reports false without mutating anything
	// when the order was already paid or has been cancelled.
	MarkPaid(ctx context.Context, id string, info domain.PaymentInfo, paidAt time.Time) (bool, error)
}

// PaymentRepository exposes payment persistence.
type PaymentRepository interface {
	Create(ctx context.Context, payment domain.Payment) error
	GetByReference(ctx context.Context, reference string) (*domain.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
	// Complete moves a pending payment to the outcome status. It reports
	// false without mutating anything when the payment is no longer pending.
	Complete(ctx context.Context, reference string, completion PaymentCompletion) (bool, error)
	Annotate(ctx context.Context, reference string, metadata map[string]any) error
}

// PaymentCompletion carries the fields written by a terminal transition.
type PaymentCompletion struct {
	Status            domain.PaymentStatus
	Method            domain.PaymentMethod
	AuthorizationCode string
	PaidAt            *time.Time
	Metadata          map[string]any
	At                time.Time
}

// ProductRepository exposes the catalog subset used by ordering.
type ProductRepository interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	// DecrementStock atomically subtracts qty and returns the new level.
	DecrementStock(ctx context.Context, productID string, qty int) (domain.StockLevel, error)
	GetStore(ctx context.Context, storeID string) (*domain.Store, error)
}

// Repositories groups the repositories that share a unit of work.
type Repositories interface {
	Orders() OrderRepository
	Payments() PaymentRepository
	Products() ProductRepository
}

// Ledger is the transactional store for orders, payments and stock.
type Ledger interface {
	Repositories
	// WithinTx runs fn in a single transaction. Any error returned by fn
	// rolls back every write made through repos.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// ListFilter narrows list queries by owner, status and pagination.
type ListFilter struct {
	UserID   string
	Status   *domain.OrderStatus
	Page     int
	PageSize int
}

// Normalize applies pagination defaults. Pagination is 1-based.
func (f ListFilter) Normalize() ListFilter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 20
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
	return f
}

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = domain.ErrNotFound
)
