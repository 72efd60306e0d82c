package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/dejobratic/storefront/internal/orders/app/commands"
	"github.com/dejobratic/storefront/internal/orders/app/queries"
	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/metrics"
	"github.com/dejobratic/storefront/internal/orders/ports"
)

// Dependencies are the collaborators the service is wired with.
type Dependencies struct {
	Ledger      ports.Ledger
	Gateway     ports.PaymentGateway
	Carts       ports.CartStore
	Events      ports.EventBus
	Notifier    ports.Notifier
	Idempotency ports.IdempotencyStore
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Pricing     domain.PricingPolicy
	// CallbackURL is where the gateway redirects the payer when the
	// request does not name one.
	CallbackURL string
}

// Service bundles use cases for handling orders, carts and payments via the API.
type Service struct {
	ledger     ports.Ledger
	gateway    ports.PaymentGateway
	carts      ports.CartStore
	events     ports.EventBus
	idemStore  ports.IdempotencyStore
	reconciler *Reconciler
	logger     *slog.Logger

	createOrderHandler commands.CommandHandler
	getOrderHandler    *queries.GetOrderQueryHandler
	listOrdersHandler  *queries.ListOrdersQueryHandler

	callbackURL string
	now         func() time.Time
}

// NewService wires required dependencies.
func NewService(deps Dependencies) *Service {
	coreHandler := commands.NewCreateOrderCommandHandler(deps.Ledger, deps.Events, deps.Pricing, deps.Logger)
	observableHandler := commands.NewObservableCommandHandler(coreHandler, deps.Logger, deps.Metrics)

	return &Service{
		ledger:             deps.Ledger,
		gateway:            deps.Gateway,
		carts:              deps.Carts,
		events:             deps.Events,
		idemStore:          deps.Idempotency,
		reconciler:         NewReconciler(deps.Ledger, deps.Notifier, deps.Events, deps.Logger, deps.Metrics),
		logger:             deps.Logger,
		createOrderHandler: observableHandler,
		getOrderHandler:    queries.NewGetOrderQueryHandler(deps.Ledger.Orders()),
		listOrdersHandler:  queries.NewListOrdersQueryHandler(deps.Ledger.Orders()),
		callbackURL:        deps.CallbackURL,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrderInput captures payload for creating an order.
type CreateOrderInput struct {
	Items    []commands.OrderLine `json:"items"`
	Shipping domain.ShippingInfo  `json:"shipping"`
}

// CreateOrder places an order for the actor after checking stock.
func (s *Service) CreateOrder(ctx context.Context, actor domain.Actor, input CreateOrderInput) (*domain.Order, error) {
	cmd := commands.CreateOrderCommand{
		UserID:        actor.ID,
		CustomerEmail: actor.Email,
		Items:         input.Items,
		Shipping:      input.Shipping,
	}
	return s.createOrderHandler.Handle(ctx, cmd)
}

// GetOrder retrieves an order visible to the actor.
func (s *Service) GetOrder(ctx context.Context, actor domain.Actor, id string) (*domain.Order, error) {
	return s.getOrderHandler.Handle(ctx, queries.GetOrderQuery{Actor: actor, OrderID: id})
}

// ListOrders returns a page of orders visible to the actor.
func (s *Service) ListOrders(ctx context.Context, query queries.ListOrdersQuery) ([]domain.Order, ports.ListFilter, error) {
	return s.listOrdersHandler.Handle(ctx, query)
}

// CancelOrder cancels an order unless it was delivered. Cancelling an
// already cancelled order returns it unchanged. Stock is not restored.
func (s *Service) CancelOrder(ctx context.Context, actor domain.Actor, id string) (*domain.Order, error) {
	var (
		order *domain.Order
		from  domain.OrderStatus
	)
	err := s.ledger.WithinTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		var err error
		order, err = repos.Orders().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !actor.CanAccess(order.UserID) {
			return domain.Forbiddenf("order %s belongs to another user", id)
		}
		if !order.CanCancel() {
			return domain.Conflictf("order %s was delivered and cannot be cancelled", id)
		}

		from = order.Status
		if from == domain.StatusCancelled {
			return nil
		}

		now := s.now()
		if err := repos.Orders().TransitionStatus(ctx, id, from, domain.StatusCancelled, now); err != nil {
			return err
		}
		order.Status = domain.StatusCancelled
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if from != domain.StatusCancelled {
		s.publishStatusChange(ctx, id, from, domain.StatusCancelled)
	}
	return order, nil
}

// UpdateOrderStatus moves an order along the delivery track. Admin only.
func (s *Service) UpdateOrderStatus(ctx context.Context, actor domain.Actor, id, status string) (*domain.Order, error) {
	if !actor.IsAdmin() {
		return nil, domain.Forbiddenf("only admins may update order status")
	}
	to, err := domain.ParseOrderStatus(status)
	if err != nil {
		return nil, err
	}

	var (
		order *domain.Order
		from  domain.OrderStatus
	)
	err = s.ledger.WithinTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		var err error
		order, err = repos.Orders().GetByID(ctx, id)
		if err != nil {
			return err
		}

		from = order.Status
		if !domain.CanTransitionOrder(from, to) {
			return domain.Conflictf("order %s cannot move from %s to %s", id, from, to)
		}

		if err := repos.Orders().TransitionStatus(ctx, id, from, to, s.now()); err != nil {
			return err
		}
		order, err = repos.Orders().GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishStatusChange(ctx, id, from, to)
	return order, nil
}

func (s *Service) publishStatusChange(ctx context.Context, id string, from, to domain.OrderStatus) {
	if err := s.events.PublishOrderStatusChanged(ctx, id, from, to); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish status change",
			"error", err,
			"order_id", id,
			"to", to,
		)
	}
}

// SaveIdempotentResponse writes response details for a key.
func (s *Service) SaveIdempotentResponse(ctx context.Context, key string, response ports.StoredResponse) error {
	return s.idemStore.Save(ctx, key, response)
}

// GetIdempotentResponse retrieves previously stored response data.
func (s *Service) GetIdempotentResponse(ctx context.Context, key string) (*ports.StoredResponse, error) {
	return s.idemStore.Get(ctx, key)
}

// ClaimIdempotencyKey reserves a key for the request about to run.
func (s *Service) ClaimIdempotencyKey(ctx context.Context, key string, lease time.Duration) (bool, error) {
	return s.idemStore.Claim(ctx, key, lease)
}

// ReleaseIdempotencyKey gives up a claim whose request failed.
func (s *Service) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return s.idemStore.Release(ctx, key)
}
