package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dejobratic/storefront/internal/orders/ports"
	"github.com/redis/go-redis/v9"
)

// keyIdempotency maps a scoped idempotency key to the stored response, or
// to claimMarker while the claiming request is still running.
const keyIdempotency = "idem:%s"

const claimMarker = "claimed"

// saveScript overwrites the key only when it is absent or still claimed.
var saveScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current and current ~= ARGV[2] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`)

// releaseScript deletes the key only while it is still claimed.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store keeps idempotent responses in Redis with an expiry.
type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewStore(rdb redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Get(ctx context.Context, key string) (*ports.StoredResponse, error) {
	raw, err := s.rdb.Get(ctx, fmt.Sprintf(keyIdempotency, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	if string(raw) == claimMarker {
		return nil, nil
	}

	var resp ports.StoredResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode idempotency entry: %w", err)
	}
	return &resp, nil
}

// Claim uses SET NX with the lease as expiry.
func (s *Store) Claim(ctx context.Context, key string, lease time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, fmt.Sprintf(keyIdempotency, key), claimMarker, lease).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return ok, nil
}

func (s *Store) Save(ctx context.Context, key string, response ports.StoredResponse) error {
	raw, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("encode idempotency entry: %w", err)
	}

	keys := []string{fmt.Sprintf(keyIdempotency, key)}
	if err := saveScript.Run(ctx, s.rdb, keys, raw, claimMarker, s.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}

func (s *Store) Release(ctx context.Context, key string) error {
	keys := []string{fmt.Sprintf(keyIdempotency, key)}
	if err := releaseScript.Run(ctx, s.rdb, keys, claimMarker).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
