package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/ports"
	"github.com/redis/go-redis/v9"
)

// keyCart holds one hash per user: field product id, value quantity.
const keyCart = "cart:%s"

// CartStore keeps carts in Redis hashes. Every write refreshes the TTL so
// idle carts expire.
type CartStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewCartStore(rdb redis.UniversalClient, ttl time.Duration) *CartStore {
	return &CartStore{rdb: rdb, ttl: ttl}
}

func (c *CartStore) Add(ctx context.Context, userID, productID string, qty int) error {
	if qty < 1 {
		return domain.Validationf("quantity must be at least 1")
	}
	key := cartKey(userID)

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, productID, int64(qty))
		c.touch(ctx, pipe, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("add cart item: %w", err)
	}
	return nil
}

func (c *CartStore) SetQuantity(ctx context.Context, userID, productID string, qty int) error {
	if qty <= 0 {
		return c.Remove(ctx, userID, productID)
	}
	key := cartKey(userID)

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, productID, qty)
		c.touch(ctx, pipe, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set cart quantity: %w", err)
	}
	return nil
}

func (c *CartStore) Remove(ctx context.Context, userID, productID string) error {
	if err := c.rdb.HDel(ctx, cartKey(userID), productID).Err(); err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	return nil
}

func (c *CartStore) Items(ctx context.Context, userID string) ([]ports.CartItem, error) {
	fields, err := c.rdb.HGetAll(ctx, cartKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}

	items := make([]ports.CartItem, 0, len(fields))
	for productID, raw := range fields {
		qty, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("cart quantity for %s: %w", productID, err)
		}
		if qty <= 0 {
			continue
		}
		items = append(items, ports.CartItem{ProductID: productID, Quantity: qty})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}

func (c *CartStore) Clear(ctx context.Context, userID string) error {
	if err := c.rdb.Del(ctx, cartKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (c *CartStore) touch(ctx context.Context, pipe redis.Pipeliner, key string) {
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
}

func cartKey(userID string) string {
	return fmt.Sprintf(keyCart, userID)
}
