package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/ports"
	"github.com/google/uuid"
)

// OrderLine is a product and quantity requested by the buyer.
type OrderLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderCommand struct {
	UserID        string
	CustomerEmail string
	Items         []OrderLine
	Shipping      domain.ShippingInfo
}

func (c CreateOrderCommand) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return domain.Validationf("user_id is required")
	}
	if !strings.Contains(c.CustomerEmail, "@") {
		return domain.Validationf("customer_email must be valid")
	}
	if len(c.Items) == 0 {
		return domain.Validationf("at least one item is required")
	}
	for i, line := range c.Items {
		if strings.TrimSpace(line.ProductID) == "" {
			return domain.Validationf("items[%d].product_id is required", i)
		}
		if line.Quantity < 1 {
			return domain.Validationf("items[%d].quantity must be at least 1", i)
		}
	}
	return c.Shipping.Validate()
}

type CommandHandler interface {
	Handle(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error)
}

// CreateOrderCommandHandler places an order only when every line can be
// served from current stock. Stock itself is not reserved here; it is
// decremented when the order's payment succeeds.
type CreateOrderCommandHandler struct {
	ledger  ports.Ledger
	events  ports.EventBus
	pricing domain.PricingPolicy
	logger  *slog.Logger
}

func NewCreateOrderCommandHandler(
	ledger ports.Ledger,
	events ports.EventBus,
	pricing domain.PricingPolicy,
	logger *slog.Logger,
) *CreateOrderCommandHandler {
	return &CreateOrderCommandHandler{
		ledger:  ledger,
		events:  events,
		pricing: pricing,
		logger:  logger,
	}
}

func (h *CreateOrderCommandHandler) Handle(ctx context.Context, cmd CreateOrderCommand) (*domain.Order, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var order domain.Order
	err := h.ledger.WithinTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		items, err := guardStock(ctx, repos.Products(), cmd.Items)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		order = domain.Order{
			ID:            uuid.NewString(),
			UserID:        cmd.UserID,
			CustomerEmail: cmd.CustomerEmail,
			Items:         items,
			Shipping:      cmd.Shipping,
			Pricing:       h.pricing.Price(items),
			Status:        domain.StatusProcessing,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := order.Validate(); err != nil {
			return err
		}

		return repos.Orders().Create(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	if err := h.events.PublishOrderCreated(ctx, order); err != nil {
		h.logger.ErrorContext(ctx, "order saved but failed to publish event",
			"error", err,
			"order_id", order.ID,
		)
	}

	return &order, nil
}

// guardStock loads every referenced product and snapshots the lines. It
// fails the whole request when a product is missing or when any product
// cannot cover the total quantity requested across lines.
func guardStock(ctx context.Context, products ports.ProductRepository, lines []OrderLine) ([]domain.LineItem, error) {
	ids := make([]string, 0, len(lines))
	requested := make(map[string]int, len(lines))
	for _, line := range lines {
		if _, ok := requested[line.ProductID]; !ok {
			ids = append(ids, line.ProductID)
		}
		requested[line.ProductID] += line.Quantity
	}

	found, err := products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, domain.NotFoundf("products not found: %s", strings.Join(missing, ", "))
	}

	var shortages []domain.StockShortage
	items := make([]domain.LineItem, 0, len(lines))
	for i, line := range lines {
		product := found[line.ProductID]
		if product.Stock < requested[line.ProductID] {
			shortages = append(shortages, domain.StockShortage{
				Line:      i,
				ProductID: line.ProductID,
				Requested: requested[line.ProductID],
				Available: product.Stock,
			})
		}
		items = append(items, product.Snapshot(line.Quantity))
	}
	if len(shortages) > 0 {
		return nil, &domain.InsufficientStockError{Shortages: shortages}
	}

	return items, nil
}
