package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dejobratic/storefront/internal/orders/app"
	"github.com/dejobratic/storefront/internal/orders/app/queries"
	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/go-chi/chi/v5"
)

const maxRequestBody = 1 << 20

// Handler exposes HTTP endpoints for orders, carts and payments.
type Handler struct {
	service       *app.Service
	verifier      *SignatureVerifier
	logger        *slog.Logger
	metrics       *Metrics
	exposeDetails bool
}

// HandlerConfig wires a Handler. ExposeDetails surfaces upstream and
// internal error messages and should only be set outside production.
type HandlerConfig struct {
	Service       *app.Service
	Verifier      *SignatureVerifier
	Logger        *slog.Logger
	Metrics       *Metrics
	ExposeDetails bool
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		service:       cfg.Service,
		verifier:      cfg.Verifier,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		exposeDetails: cfg.ExposeDetails,
	}
}

// Register binds the authenticated routes. Callers mount it behind
// RequireIdentity.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/cancel", h.cancelOrder)
		r.Patch("/{id}/status", h.updateOrderStatus)
	})

	r.Route("/v1/cart", func(r chi.Router) {
		r.Get("/", h.getCart)
		r.Delete("/", h.clearCart)
		r.Post("/items", h.addCartItem)
		r.Put("/items/{productID}", h.updateCartItem)
		r.Delete("/items/{productID}", h.removeCartItem)
		r.Post("/checkout", h.checkout)
	})

	r.Route("/v1/payments", func(r chi.Router) {
		r.Post("/initialize", h.initiatePayment)
		r.Get("/verify/{reference}", h.verifyPayment)
		r.Post("/charge-authorization", h.chargeSavedCard)
		r.Get("/{reference}", h.getPayment)
	})
}

// RegisterWebhook binds the unauthenticated gateway callback.
func (h *Handler) RegisterWebhook(r chi.Router) {
	r.Post("/payments/webhook", h.handleWebhook)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var payload app.CreateOrderInput
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.idempotent(w, r, "create-order", true, func() (int, any, string, error) {
		order, err := h.service.CreateOrder(r.Context(), actorFrom(r.Context()), payload)
		if err != nil {
			return 0, nil, "", err
		}
		return http.StatusCreated, map[string]any{"order": order}, order.ID, nil
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	query := queries.ListOrdersQuery{
		Actor:  actorFrom(r.Context()),
		Status: r.URL.Query().Get("status"),
	}

	if pageParam := r.URL.Query().Get("page"); pageParam != "" {
		if page, err := strconv.Atoi(pageParam); err == nil {
			query.Page = page
		}
	}

	if pageSizeParam := r.URL.Query().Get("page_size"); pageSizeParam != "" {
		if pageSize, err := strconv.Atoi(pageSizeParam); err == nil {
			query.PageSize = pageSize
		}
	}

	orders, filter, err := h.service.ListOrders(r.Context(), query)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orders":    orders,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.CancelOrder(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	order, err := h.service.UpdateOrderStatus(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"), payload.Status)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return domain.Validationf("request body is required")
	}
	return domain.Validationf("invalid JSON payload")
}
