//go:build integration

package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dejobratic/storefront/internal/database/dbtest"
	"github.com/dejobratic/storefront/internal/orders/adapters/redis"
	"github.com/dejobratic/storefront/internal/orders/domain"
)

func TestCartStore(t *testing.T) {
	client := dbtest.Redis(t)
	store := redis.NewCartStore(client, time.Hour)
	ctx := context.Background()

	t.Run("add increments and items are sorted", func(t *testing.T) {
		if err := store.Add(ctx, "user-1", "p2", 1); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
		if err := store.Add(ctx, "user-1", "p1", 2); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
		if err := store.Add(ctx, "user-1", "p1", 3); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}

		items, err := store.Items(ctx, "user-1")
		if err != nil {
			t.Fatalf("Items() failed: %v", err)
		}
		if len(items) != 2 || items[0].ProductID != "p1" || items[0].Quantity != 5 || items[1].Quantity != 1 {
			t.Errorf("unexpected items %+v", items)
		}

		ttl, err := client.TTL(ctx, "cart:user-1").Result()
		if err != nil || ttl <= 0 {
			t.Errorf("expected cart TTL to be set, got %v, %v", ttl, err)
		}
	})

	t.Run("rejects non-positive add", func(t *testing.T) {
		if err := store.Add(ctx, "user-1", "p1", 0); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("set quantity zero removes", func(t *testing.T) {
		if err := store.SetQuantity(ctx, "user-1", "p1", 7); err != nil {
			t.Fatalf("SetQuantity() failed: %v", err)
		}
		if err := store.SetQuantity(ctx, "user-1", "p2", 0); err != nil {
			t.Fatalf("SetQuantity() failed: %v", err)
		}

		items, err := store.Items(ctx, "user-1")
		if err != nil {
			t.Fatalf("Items() failed: %v", err)
		}
		if len(items) != 1 || items[0].Quantity != 7 {
			t.Errorf("unexpected items %+v", items)
		}
	})

	t.Run("carts are per user and clear empties", func(t *testing.T) {
		if err := store.Add(ctx, "user-2", "p9", 1); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
		if err := store.Clear(ctx, "user-1"); err != nil {
			t.Fatalf("Clear() failed: %v", err)
		}

		items, err := store.Items(ctx, "user-1")
		if err != nil || len(items) != 0 {
			t.Errorf("expected empty cart, got %+v, %v", items, err)
		}
		other, err := store.Items(ctx, "user-2")
		if err != nil || len(other) != 1 {
			t.Errorf("expected other cart untouched, got %+v, %v", other, err)
		}
	})
}
