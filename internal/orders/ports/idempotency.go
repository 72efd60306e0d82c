package ports

import (
	"context"
	"time"
)

// StoredResponse contains the response data to replay for a reused key.
type StoredResponse struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
	ResourceID string `json:"resource_id"`
}

// IdempotencyStore ensures create operations can be retried safely.
//
// A request first claims its key. Only the claim holder runs the operation,
// then saves its response or releases the claim when the operation failed.
// A claim that is neither saved nor released lapses after its lease.
type IdempotencyStore interface {
	// Get returns the saved response, or nil, nil when the key is unknown
	// or only claimed.
	Get(ctx context.Context, key string) (*StoredResponse, error)
	// Claim reserves the key. It reports false when the key already holds
	// a live claim or a saved response.
	Claim(ctx context.Context, key string, lease time.Duration) (bool, error)
	// Save stores the response for the key. The first saved response wins.
	Save(ctx context.Context, key string, response StoredResponse) error
	// Release drops an unsaved claim. Saved responses are kept.
	Release(ctx context.Context, key string) error
}
