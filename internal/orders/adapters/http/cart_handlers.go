package http

import (
	"net/http"

	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/go-chi/chi/v5"
)

type cartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.service.Cart(r.Context(), actorFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearCart(r.Context(), actorFrom(r.Context())); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var payload cartItemRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	cart, err := h.service.AddToCart(r.Context(), actorFrom(r.Context()), payload.ProductID, payload.Quantity)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var payload cartItemRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	cart, err := h.service.UpdateCartItem(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "productID"), payload.Quantity)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	cart, err := h.service.RemoveCartItem(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "productID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Shipping domain.ShippingInfo `json:"shipping"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.idempotent(w, r, "checkout", true, func() (int, any, string, error) {
		order, err := h.service.Checkout(r.Context(), actorFrom(r.Context()), payload.Shipping)
		if err != nil {
			return 0, nil, "", err
		}
		return http.StatusCreated, map[string]any{"order": order}, order.ID, nil
	})
}
