//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/dejobratic/storefront/internal/database/dbtest"
	"github.com/dejobratic/storefront/internal/idempotency/postgres"
	"github.com/dejobratic/storefront/internal/orders/ports"
)

func TestStoreSaveAndGet(t *testing.T) {
	store := postgres.NewStore(dbtest.Postgres(t), time.Hour)
	ctx := context.Background()

	response := ports.StoredResponse{
		StatusCode: 201,
		Body:       []byte(`{"order":{"id":"order-1"}}`),
		ResourceID: "order-1",
	}

	if err := store.Save(ctx, "user-1:create-order:key-1", response); err != nil {
		t.Fatalf("failed to save idempotency key: %v", err)
	}

	retrieved, err := store.Get(ctx, "user-1:create-order:key-1")
	if err != nil {
		t.Fatalf("failed to get idempotency key: %v", err)
	}
	if retrieved == nil {
		t.Fatal("expected response, got nil")
	}
	if retrieved.StatusCode != response.StatusCode {
		t.Errorf("expected status code %d, got %d", response.StatusCode, retrieved.StatusCode)
	}
	if string(retrieved.Body) != string(response.Body) {
		t.Errorf("expected body %s, got %s", response.Body, retrieved.Body)
	}
	if retrieved.ResourceID != response.ResourceID {
		t.Errorf("expected resource ID %s, got %s", response.ResourceID, retrieved.ResourceID)
	}
}

func TestStoreGetUnknownKey(t *testing.T) {
	store := postgres.NewStore(dbtest.Postgres(t), time.Hour)

	retrieved, err := store.Get(context.Background(), "nonexistent-key")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if retrieved != nil {
		t.Errorf("expected nil response, got %v", retrieved)
	}
}

func TestStoreFirstSaveWins(t *testing.T) {
	store := postgres.NewStore(dbtest.Postgres(t), time.Hour)
	ctx := context.Background()

	first := ports.StoredResponse{StatusCode: 201, Body: []byte(`{}`), ResourceID: "order-1"}
	second := ports.StoredResponse{StatusCode: 200, Body: []byte(`{}`), ResourceID: "order-2"}

	if err := store.Save(ctx, "key", first); err != nil {
		t.Fatalf("failed to save first response: %v", err)
	}
	if err := store.Save(ctx, "key", second); err != nil {
		t.Fatalf("failed to save second response: %v", err)
	}

	retrieved, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("failed to get response: %v", err)
	}
	if retrieved.ResourceID != first.ResourceID {
		t.Errorf("expected first response to be preserved, got %s", retrieved.ResourceID)
	}
}

func TestStorePurge(t *testing.T) {
	pool := dbtest.Postgres(t)
	store := postgres.NewStore(pool, time.Hour)
	ctx := context.Background()

	if err := store.Save(ctx, "old", ports.StoredResponse{StatusCode: 201, Body: []byte(`{}`)}); err != nil {
		t.Fatalf("failed to save response: %v", err)
	}
	if _, err := pool.Exec(ctx, `UPDATE idempotency_keys SET created_at = now() - interval '2 hours' WHERE key = 'old'`); err != nil {
		t.Fatalf("failed to age key: %v", err)
	}

	if got, err := store.Get(ctx, "old"); err != nil || got != nil {
		t.Errorf("expected expired key to be invisible, got %v, %v", got, err)
	}

	removed, err := store.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge() failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 purged key, got %d", removed)
	}
}

func TestStoreClaim(t *testing.T) {
	pool := dbtest.Postgres(t)
	store := postgres.NewStore(pool, time.Hour)
	ctx := context.Background()

	ok, err := store.Claim(ctx, "key", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first claim to succeed, got %v, %v", ok, err)
	}
	if ok, err := store.Claim(ctx, "key", time.Minute); err != nil || ok {
		t.Errorf("expected second claim to fail, got %v, %v", ok, err)
	}
	if got, err := store.Get(ctx, "key"); err != nil || got != nil {
		t.Errorf("expected claimed key to have no response, got %v, %v", got, err)
	}

	if err := store.Release(ctx, "key"); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
	if ok, _ := store.Claim(ctx, "key", time.Minute); !ok {
		t.Fatal("expected claim after release to succeed")
	}

	if err := store.Save(ctx, "key", ports.StoredResponse{StatusCode: 201, Body: []byte(`{}`), ResourceID: "pay-1"}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := store.Release(ctx, "key"); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
	got, err := store.Get(ctx, "key")
	if err != nil || got == nil || got.ResourceID != "pay-1" {
		t.Errorf("expected saved response to survive release, got %v, %v", got, err)
	}
	if ok, _ := store.Claim(ctx, "key", time.Minute); ok {
		t.Error("expected a saved key not to be claimable")
	}

	if ok, _ := store.Claim(ctx, "stale", time.Minute); !ok {
		t.Fatal("expected claim on stale key to succeed")
	}
	if _, err := pool.Exec(ctx, `UPDATE idempotency_keys SET lease_until = now() - interval '1 second' WHERE key = 'stale'`); err != nil {
		t.Fatalf("failed to expire lease: %v", err)
	}
	if ok, _ := store.Claim(ctx, "stale", time.Minute); !ok {
		t.Error("expected lapsed claim to be taken over")
	}
}
