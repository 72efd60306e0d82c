package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dejobratic/storefront/internal/orders/ports"
)

type entry struct {
	response  ports.StoredResponse
	claimed   bool
	expiresAt time.Time
}

func (e entry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// Store retains idempotency responses for replaying duplicate requests.
// A zero TTL keeps saved responses forever.
type Store struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]entry
}

// NewStore creates a new in-memory idempotency store.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]entry),
	}
}

// Get returns the stored response for a given key if present and not expired.
func (s *Store) Get(_ context.Context, key string) (*ports.StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	if !value.live(s.now()) {
		delete(s.items, key)
		return nil, nil
	}
	if value.claimed {
		return nil, nil
	}
	resp := value.response
	return &resp, nil
}

func (s *Store) Claim(_ context.Context, key string, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if existing, ok := s.items[key]; ok && existing.live(now) {
		return false, nil
	}
	s.items[key] = entry{claimed: true, expiresAt: now.Add(lease)}
	return true, nil
}

// Save stores the response for a key. The first response saved for a key wins.
func (s *Store) Save(_ context.Context, key string, response ports.StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if existing, ok := s.items[key]; ok && !existing.claimed && existing.live(now) {
		return nil
	}
	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = now.Add(s.ttl)
	}
	s.items[key] = entry{response: response, expiresAt: expiresAt}
	return nil
}

func (s *Store) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[key]; ok && existing.claimed {
		delete(s.items, key)
	}
	return nil
}
