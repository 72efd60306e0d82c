package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dejobratic/storefront/internal/orders/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store keeps idempotent responses in PostgreSQL. Entries older than ttl
// are invisible to Get and removed by Purge.
type Store struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func NewStore(pool *pgxpool.Pool, ttl time.Duration) *Store {
	return &Store{pool: pool, ttl: ttl}
}

func (s *Store) Get(ctx context.Context, key string) (*ports.StoredResponse, error) {
	query := `
		SELECT status_code, body, resource_id
		FROM idempotency_keys
		WHERE key = $1 AND completed
		  AND ($2::bigint = 0 OR created_at > now() - make_interval(secs => $2::bigint))
	`

	var resp ports.StoredResponse
	err := s.pool.QueryRow(ctx, query, key, int64(s.ttl.Seconds())).Scan(
		&resp.StatusCode,
		&resp.Body,
		&resp.ResourceID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select idempotency key: %w", err)
	}

	return &resp, nil
}

// Claim inserts an unfinished row for the key. An existing row is taken
// over only when its claim lease ran out or its saved response expired.
func (s *Store) Claim(ctx context.Context, key string, lease time.Duration) (bool, error) {
	query := `
		INSERT INTO idempotency_keys (key, status_code, body, completed, lease_until)
		VALUES ($1, 0, ''::bytea, FALSE, now() + make_interval(secs => $2::float8))
		ON CONFLICT (key) DO UPDATE
		SET status_code = 0, body = ''::bytea, resource_id = '', completed = FALSE,
		    lease_until = EXCLUDED.lease_until, created_at = now()
		WHERE (NOT idempotency_keys.completed AND idempotency_keys.lease_until <= now())
		   OR ($3::bigint > 0 AND idempotency_keys.completed
		       AND idempotency_keys.created_at <= now() - make_interval(secs => $3::bigint))
	`

	result, err := s.pool.Exec(ctx, query, key, lease.Seconds(), int64(s.ttl.Seconds()))
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Save completes a claimed key. The first completed response wins.
func (s *Store) Save(ctx context.Context, key string, response ports.StoredResponse) error {
	query := `
		INSERT INTO idempotency_keys (key, status_code, body, resource_id, completed)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (key) DO UPDATE
		SET status_code = EXCLUDED.status_code, body = EXCLUDED.body, resource_id = EXCLUDED.resource_id,
		    completed = TRUE, lease_until = NULL, created_at = now()
		WHERE NOT idempotency_keys.completed
	`

	_, err := s.pool.Exec(ctx, query, key, response.StatusCode, response.Body, response.ResourceID)
	if err != nil {
		return fmt.Errorf("insert idempotency key: %w", err)
	}

	return nil
}

// Release deletes an unfinished claim.
func (s *Store) Release(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1 AND NOT completed`, key); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Purge deletes expired keys and reports how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	result, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE created_at <= now() - make_interval(secs => $1::bigint)`,
		int64(s.ttl.Seconds()),
	)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	return result.RowsAffected(), nil
}
