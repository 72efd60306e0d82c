package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/ports"
)

// CartStore keeps carts in process memory.
type CartStore struct {
	mu    sync.Mutex
	carts map[string]map[string]int
}

// NewCartStore constructs an empty cart store.
func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[string]map[string]int)}
}

func (c *CartStore) Add(_ context.Context, userID, productID string, qty int) error {
	if qty < 1 {
		return domain.Validationf("quantity must be at least 1")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, ok := c.carts[userID]
	if !ok {
		cart = make(map[string]int)
		c.carts[userID] = cart
	}
	cart[productID] += qty
	return nil
}

func (c *CartStore) SetQuantity(ctx context.Context, userID, productID string, qty int) error {
	if qty <= 0 {
		return c.Remove(ctx, userID, productID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, ok := c.carts[userID]
	if !ok {
		cart = make(map[string]int)
		c.carts[userID] = cart
	}
	cart[productID] = qty
	return nil
}

func (c *CartStore) Remove(_ context.Context, userID, productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.carts[userID], productID)
	return nil
}

func (c *CartStore) Items(_ context.Context, userID string) ([]ports.CartItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]ports.CartItem, 0, len(c.carts[userID]))
	for productID, qty := range c.carts[userID] {
		items = append(items, ports.CartItem{ProductID: productID, Quantity: qty})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}

func (c *CartStore) Clear(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.carts, userID)
	return nil
}
