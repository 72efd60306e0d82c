package http

import (
	"net/http"

	"github.com/dejobratic/storefront/internal/orders/app"
	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/go-chi/chi/v5"
)

func (h *Handler) initiatePayment(w http.ResponseWriter, r *http.Request) {
	var payload app.InitiatePaymentInput
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.idempotent(w, r, "initiate-payment", true, func() (int, any, string, error) {
		initiation, err := h.service.InitiatePayment(r.Context(), actorFrom(r.Context()), payload)
		if err != nil {
			return 0, nil, "", err
		}
		return http.StatusCreated, initiation, initiation.Payment.Reference, nil
	})
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.VerifyPayment(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "reference"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) chargeSavedCard(w http.ResponseWriter, r *http.Request) {
	var payload app.ChargeSavedCardInput
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.idempotent(w, r, "charge-authorization", false, func() (int, any, string, error) {
		result, err := h.service.ChargeSavedCard(r.Context(), actorFrom(r.Context()), payload)
		if err != nil {
			return 0, nil, "", err
		}
		status := http.StatusOK
		if result.Payment.Status == domain.PaymentPending {
			status = http.StatusAccepted
		}
		return status, result, result.Payment.Reference, nil
	})
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.service.GetPayment(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "reference"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": payment})
}
