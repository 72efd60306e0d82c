package ports

import "context"

// CartItem is a product and quantity held in a user's cart.
type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CartStore keeps one cart per user.
type CartStore interface {
	Add(ctx context.Context, userID, productID string, qty int) error
	SetQuantity(ctx context.Context, userID, productID string, qty int) error
	Remove(ctx context.Context, userID, productID string) error
	Items(ctx context.Context, userID string) ([]CartItem, error)
	Clear(ctx context.Context, userID string) error
}
