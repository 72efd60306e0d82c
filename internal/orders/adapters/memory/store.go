package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/ports"
)

type state struct {
	orders   map[string]domain.Order
	payments map[string]domain.Payment
	products map[string]domain.Product
	stores   map[string]domain.Store
}

func (s state) clone() state {
	return state{
		orders:   maps.Clone(s.orders),
		payments: maps.Clone(s.payments),
		products: maps.Clone(s.products),
		stores:   maps.Clone(s.stores),
	}
}

// Ledger provides an in-memory store useful for local development and tests.
// Transactions are serialized under one lock and rolled back from a snapshot.
type Ledger struct {
	mu    sync.Mutex
	state state
}

// NewLedger constructs an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{state: state{
		orders:   make(map[string]domain.Order),
		payments: make(map[string]domain.Payment),
		products: make(map[string]domain.Product),
		stores:   make(map[string]domain.Store),
	}}
}

// SeedStore registers a store.
func (l *Ledger) SeedStore(store domain.Store) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.stores[store.ID] = store
}

// SeedProduct registers or replaces a product.
func (l *Ledger) SeedProduct(product domain.Product) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.products[product.ID] = product
}

// Product returns the current product record.
func (l *Ledger) Product(id string) (domain.Product, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.state.products[id]
	return p, ok
}

func (l *Ledger) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ports.Repositories) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapshot := l.state.clone()
	if err := fn(ctx, view{s: &l.state}); err != nil {
		l.state = snapshot
		return err
	}
	return nil
}

func (l *Ledger) Orders() ports.OrderRepository     { return lockedOrders{l} }
func (l *Ledger) Payments() ports.PaymentRepository { return lockedPayments{l} }
func (l *Ledger) Products() ports.ProductRepository { return lockedProducts{l} }

// view operates on state without locking; the owning transaction holds the lock.
type view struct{ s *state }

func (v view) Orders() ports.OrderRepository     { return orderRepo{v.s} }
func (v view) Payments() ports.PaymentRepository { return paymentRepo{v.s} }
func (v view) Products() ports.ProductRepository { return productRepo{v.s} }

type orderRepo struct{ s *state }

func (r orderRepo) Create(_ context.Context, order domain.Order) error {
	if _, exists := r.s.orders[order.ID]; exists {
		return domain.Conflictf("order %s already exists", order.ID)
	}
	r.s.orders[order.ID] = order
	return nil
}

func (r orderRepo) GetByID(_ context.Context, id string) (*domain.Order, error) {
	order, ok := r.s.orders[id]
	if !ok {
		return nil, domain.NotFoundf("order %s", id)
	}
	return &order, nil
}

func (r orderRepo) List(_ context.Context, filter ports.ListFilter) ([]domain.Order, error) {
	filter = filter.Normalize()

	var result []domain.Order
	for _, order := range r.s.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	start := (filter.Page - 1) * filter.PageSize
	if start >= len(result) {
		return []domain.Order{}, nil
	}
	end := min(start+filter.PageSize, len(result))

	page := make([]domain.Order, end-start)
	copy(page, result[start:end])
	return page, nil
}

func (r orderRepo) TransitionStatus(_ context.Context, id string, from, to domain.OrderStatus, at time.Time) error {
	order, ok := r.s.orders[id]
	if !ok {
		return domain.NotFoundf("order %s", id)
	}
	if order.Status != from {
		return domain.Conflictf("order %s is %s, expected %s", id, order.Status, from)
	}
	order.Status = to
	order.UpdatedAt = at
	if to == domain.StatusDelivered {
		delivered := at
		order.DeliveredAt = &delivered
	}
	r.s.orders[id] = order
	return nil
}

func (r orderRepo) MarkPaid(_ context.Context, id string, info domain.PaymentInfo, paidAt time.Time) (bool, error) {
	order, ok := r.s.orders[id]
	if !ok {
		return false, domain.NotFoundf("order %s", id)
	}
	if order.PaidAt != nil || order.Status == domain.StatusCancelled {
		return false, nil
	}
	paid := paidAt
	order.PaidAt = &paid
	order.Payment = &info
	order.UpdatedAt = paidAt
	r.s.orders[id] = order
	return true, nil
}

type paymentRepo struct{ s *state }

func (r paymentRepo) Create(_ context.Context, payment domain.Payment) error {
	if _, exists := r.s.payments[payment.Reference]; exists {
		return domain.Conflictf("payment reference %s already exists", payment.Reference)
	}
	payment.Metadata = maps.Clone(payment.Metadata)
	r.s.payments[payment.Reference] = payment
	return nil
}

func (r paymentRepo) GetByReference(_ context.Context, reference string) (*domain.Payment, error) {
	payment, ok := r.s.payments[reference]
	if !ok {
		return nil, domain.NotFoundf("payment %s", reference)
	}
	payment.Metadata = maps.Clone(payment.Metadata)
	return &payment, nil
}

func (r paymentRepo) ListByOrder(_ context.Context, orderID string) ([]domain.Payment, error) {
	var out []domain.Payment
	for _, payment := range r.s.payments {
		if payment.OrderID == orderID {
			payment.Metadata = maps.Clone(payment.Metadata)
			out = append(out, payment)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r paymentRepo) Complete(_ context.Context, reference string, c ports.PaymentCompletion) (bool, error) {
	payment, ok := r.s.payments[reference]
	if !ok {
		return false, domain.NotFoundf("payment %s", reference)
	}
	if payment.Status != domain.PaymentPending {
		return false, nil
	}
	payment.Status = c.Status
	if c.Method != "" {
		payment.Method = c.Method
	}
	if c.AuthorizationCode != "" {
		payment.AuthorizationCode = c.AuthorizationCode
	}
	payment.PaidAt = c.PaidAt
	payment.Metadata = payment.WithMetadata(c.Metadata)
	payment.UpdatedAt = c.At
	r.s.payments[reference] = payment
	return true, nil
}

func (r paymentRepo) Annotate(_ context.Context, reference string, metadata map[string]any) error {
	payment, ok := r.s.payments[reference]
	if !ok {
		return domain.NotFoundf("payment %s", reference)
	}
	payment.Metadata = payment.WithMetadata(metadata)
	r.s.payments[reference] = payment
	return nil
}

type productRepo struct{ s *state }

func (r productRepo) GetByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (r productRepo) DecrementStock(_ context.Context, productID string, qty int) (domain.StockLevel, error) {
	p, ok := r.s.products[productID]
	if !ok {
		return domain.StockLevel{}, domain.NotFoundf("product %s", productID)
	}
	p.Stock -= qty
	p.UpdatedAt = time.Now().UTC()
	r.s.products[productID] = p
	return domain.StockLevel{ProductID: p.ID, StoreID: p.StoreID, Name: p.Name, Remaining: p.Stock}, nil
}

func (r productRepo) GetStore(_ context.Context, storeID string) (*domain.Store, error) {
	store, ok := r.s.stores[storeID]
	if !ok {
		return nil, domain.NotFoundf("store %s", storeID)
	}
	return &store, nil
}

// The locked* wrappers give each non-transactional call its own lock scope.

type lockedOrders struct{ l *Ledger }

func (r lockedOrders) Create(ctx context.Context, order domain.Order) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	return orderRepo{&r.l.state}.Create(ctx, order)
}

func (r lockedOrders) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	return orderRepo{&r.l.state}.GetByID(ctx, id)
}

func (r lockedOrders) List(ctx context.Context, filter ports.ListFilter) ([]domain.Order, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	return orderRepo{&r.l.state}.List(ctx, filter)
}

func (r lockedOrders) TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	return orderRepo{&r.l.state}.TransitionStatus(ctx, id, from, to, at)
}

func (r lockedOrders) MarkPaid(ctx context.Context, id string, info domain.PaymentInfo, paidAt time.Time) (bool, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	return orderRepo{&r.l.state}.MarkPaid(ctx, id, info, paidAt)
}

type lockedPayments struct{ l *Ledger }

func (r lockedPayments) Create(ctx context.Context, payment domain.Payment) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	return paymentRepo{&r.l.state}.Create(ctx, payment)
}

func (r lockedPayments) GetByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	return paymentRepo{&r.l.state}.GetByReference(ctx, reference)
}

func (r lockedPayments) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	return paymentRepo{&r.l.state}.ListByOrder(ctx, orderID)
}

func (r lockedPayments) Complete(ctx context.Context, reference string, c ports.PaymentCompletion) (bool, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	return paymentRepo{&r.l.state}.Complete(ctx, reference, c)
}

func (r lockedPayments) Annotate(ctx context.Context, reference string, metadata map[string]any) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	return paymentRepo{&r.l.state}.Annotate(ctx, reference, metadata)
}

type lockedProducts struct{ l *Ledger }

func (r lockedProducts) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	return productRepo{&r.l.state}.GetByIDs(ctx, ids)
}

func (r lockedProducts) DecrementStock(ctx context.Context, productID string, qty int) (domain.StockLevel, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	return productRepo{&r.l.state}.DecrementStock(ctx, productID, qty)
}

func (r lockedProducts) GetStore(ctx context.Context, storeID string) (*domain.Store, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	return productRepo{&r.l.state}.GetStore(ctx, storeID)
}
