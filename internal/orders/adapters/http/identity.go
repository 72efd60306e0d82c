package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/dejobratic/storefront/internal/orders/domain"
)

// Headers set by the edge proxy after it validated the bearer credential.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRole  = "X-User-Role"
)

type actorKey struct{}

// RequireIdentity rejects requests that arrive without a forwarded identity.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := domain.Actor{
			ID:    strings.TrimSpace(r.Header.Get(HeaderUserID)),
			Email: strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
			Role:  domain.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole)))),
		}
		if actor.Role == "" {
			actor.Role = domain.RoleCustomer
		}

		if actor.ID == "" || (actor.Role != domain.RoleCustomer && actor.Role != domain.RoleAdmin) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorKey{}).(domain.Actor)
	return actor
}
