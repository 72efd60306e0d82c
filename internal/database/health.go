package database

import (
	"context"
	"time"
)

// Pinger is satisfied by *pgxpool.Pool and *redis.Client wrappers.
type Pinger interface {
	Ping(ctx context.Context) error
}

func CheckHealth(ctx context.Context, p Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return p.Ping(ctx)
}
