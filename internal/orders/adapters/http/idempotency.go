package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/dejobratic/storefront/internal/orders/ports"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

// idempotencyLease bounds how long a crashed request can hold its key.
const idempotencyLease = 2 * time.Minute

// idempotent runs fn once per Idempotency-Key. The key is scoped by user and
// route and claimed before fn runs. A repeated key replays the first
// successful response, or gets 409 while the first request is still running.
// A failed fn releases the key. When the key is optional, requests without
// one always run fn.
func (h *Handler) idempotent(w http.ResponseWriter, r *http.Request, route string, required bool, fn func() (int, any, string, error)) {
	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" && required {
		writeError(w, http.StatusBadRequest, "validation_error", HeaderIdempotencyKey+" header required")
		return
	}
	if key != "" {
		key = actorFrom(ctx).ID + ":" + route + ":" + key
		if !h.claimIdempotencyKey(w, r, key) {
			return
		}
	}

	status, payload, resourceID, err := fn()
	if err == nil {
		var body []byte
		if body, err = json.Marshal(payload); err == nil {
			if key != "" {
				h.saveIdempotentResponse(ctx, key, route, ports.StoredResponse{
					StatusCode: status,
					Body:       body,
					ResourceID: resourceID,
				})
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write(body)
			return
		}
	}

	if key != "" {
		// The request context may already be done; the claim must still go.
		if releaseErr := h.service.ReleaseIdempotencyKey(context.WithoutCancel(ctx), key); releaseErr != nil {
			h.logger.ErrorContext(ctx, "failed to release idempotency key",
				"error", releaseErr,
				"route", route,
			)
		}
	}
	h.writeDomainError(w, r, err)
}

// claimIdempotencyKey reports whether the caller owns key. Otherwise it has
// written the replayed response or the in-progress conflict.
func (h *Handler) claimIdempotencyKey(w http.ResponseWriter, r *http.Request, key string) bool {
	ctx := r.Context()

	stored, err := h.service.GetIdempotentResponse(ctx, key)
	if err != nil {
		h.writeDomainError(w, r, err)
		return false
	}
	if stored == nil {
		claimed, err := h.service.ClaimIdempotencyKey(ctx, key, idempotencyLease)
		if err != nil {
			h.writeDomainError(w, r, err)
			return false
		}
		if claimed {
			return true
		}
		// Lost the claim; the winner may have finished in the meantime.
		if stored, err = h.service.GetIdempotentResponse(ctx, key); err != nil {
			h.writeDomainError(w, r, err)
			return false
		}
	}

	if stored == nil {
		writeError(w, http.StatusConflict, "request_in_progress",
			"a request with this "+HeaderIdempotencyKey+" is still being processed")
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderReplayed, "true")
	w.WriteHeader(stored.StatusCode)
	_, _ = w.Write(stored.Body)
	return false
}

func (h *Handler) saveIdempotentResponse(ctx context.Context, key, route string, stored ports.StoredResponse) {
	// The operation already happened; a failed save only loses replay.
	if err := h.service.SaveIdempotentResponse(ctx, key, stored); err != nil {
		h.logger.ErrorContext(ctx, "failed to save idempotent response",
			"error", err,
			"route", route,
			"resource_id", stored.ResourceID,
		)
	}
}
