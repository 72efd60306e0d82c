package app

import (
	"context"
	"strings"

	"github.com/dejobratic/storefront/internal/orders/app/commands"
	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/ports"
)

// CartLine is a cart entry priced against the live catalog.
type CartLine struct {
	ProductID string       `json:"product_id"`
	Name      string       `json:"name,omitempty"`
	Quantity  int          `json:"quantity"`
	UnitPrice domain.Money `json:"unit_price"`
	InStock   bool         `json:"in_stock"`
	Available bool         `json:"available"`
}

// CartView is a user's cart with a current subtotal.
type CartView struct {
	Items    []CartLine   `json:"items"`
	Subtotal domain.Money `json:"subtotal"`
}

// AddToCart adds qty units of a catalog product to the actor's cart.
func (s *Service) AddToCart(ctx context.Context, actor domain.Actor, productID string, qty int) (*CartView, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, domain.Validationf("product_id is required")
	}
	if qty < 1 {
		return nil, domain.Validationf("quantity must be at least 1")
	}

	found, err := s.ledger.Products().GetByIDs(ctx, []string{productID})
	if err != nil {
		return nil, err
	}
	if _, ok := found[productID]; !ok {
		return nil, domain.NotFoundf("product %s", productID)
	}

	if err := s.carts.Add(ctx, actor.ID, productID, qty); err != nil {
		return nil, err
	}
	return s.Cart(ctx, actor)
}

// UpdateCartItem sets the quantity of a cart line; zero removes it.
func (s *Service) UpdateCartItem(ctx context.Context, actor domain.Actor, productID string, qty int) (*CartView, error) {
	if qty < 0 {
		return nil, domain.Validationf("quantity must not be negative")
	}
	if err := s.carts.SetQuantity(ctx, actor.ID, productID, qty); err != nil {
		return nil, err
	}
	return s.Cart(ctx, actor)
}

// RemoveCartItem drops a product from the cart.
func (s *Service) RemoveCartItem(ctx context.Context, actor domain.Actor, productID string) (*CartView, error) {
	if err := s.carts.Remove(ctx, actor.ID, productID); err != nil {
		return nil, err
	}
	return s.Cart(ctx, actor)
}

// ClearCart empties the actor's cart.
func (s *Service) ClearCart(ctx context.Context, actor domain.Actor) error {
	return s.carts.Clear(ctx, actor.ID)
}

// Cart returns the actor's cart priced against the catalog. Products that
// were removed from the catalog stay listed as unavailable.
func (s *Service) Cart(ctx context.Context, actor domain.Actor) (*CartView, error) {
	items, err := s.carts.Items(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.ledger.Products().GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	view := &CartView{Items: make([]CartLine, 0, len(items)), Subtotal: domain.Money{}}
	for _, item := range items {
		line := CartLine{ProductID: item.ProductID, Quantity: item.Quantity}
		if product, ok := products[item.ProductID]; ok {
			line.Name = product.Name
			line.UnitPrice = product.Price
			line.Available = true
			line.InStock = product.Stock >= item.Quantity
			view.Subtotal = view.Subtotal.Add(product.Snapshot(item.Quantity).Subtotal())
		}
		view.Items = append(view.Items, line)
	}
	return view, nil
}

// Checkout turns the actor's cart into an order and clears the cart.
func (s *Service) Checkout(ctx context.Context, actor domain.Actor, shipping domain.ShippingInfo) (*domain.Order, error) {
	items, err := s.carts.Items(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.Validationf("cart is empty")
	}

	order, err := s.CreateOrder(ctx, actor, CreateOrderInput{Items: toOrderLines(items), Shipping: shipping})
	if err != nil {
		return nil, err
	}

	if err := s.carts.Clear(ctx, actor.ID); err != nil {
		s.logger.ErrorContext(ctx, "order placed but cart not cleared",
			"error", err,
			"order_id", order.ID,
			"user_id", actor.ID,
		)
	}
	return order, nil
}

func toOrderLines(items []ports.CartItem) []commands.OrderLine {
	lines := make([]commands.OrderLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, commands.OrderLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}
