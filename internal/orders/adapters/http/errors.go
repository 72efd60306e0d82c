package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dejobratic/storefront/internal/orders/domain"
)

type errorBody struct {
	Status  string                 `json:"status"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details []domain.StockShortage `json:"details,omitempty"`
}

type errorKind struct {
	target  error
	status  int
	code    string
	generic string
}

// Ordered: InsufficientStockError matches ErrConflict through Is.
var errorKinds = []errorKind{
	{domain.ErrValidation, http.StatusBadRequest, "validation_error", ""},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized", ""},
	{domain.ErrIntegrity, http.StatusUnauthorized, "unauthorized", "request could not be authenticated"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden", ""},
	{domain.ErrNotFound, http.StatusNotFound, "not_found", ""},
	{domain.ErrConflict, http.StatusConflict, "conflict", ""},
	{domain.ErrTimeout, http.StatusGatewayTimeout, "timeout", "the payment provider did not answer in time"},
	{domain.ErrUpstream, http.StatusBadGateway, "upstream_error", "the payment provider could not complete the request"},
	{domain.ErrProtocol, http.StatusBadGateway, "upstream_error", "the payment provider could not complete the request"},
	{domain.ErrConfiguration, http.StatusServiceUnavailable, "configuration_error", "the service is not configured for this operation"},
}

// writeDomainError maps an error onto the response. Upstream and internal
// detail is only exposed when exposeDetails is set.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{
		Status:  "error",
		Code:    "internal_error",
		Message: "internal server error",
	}
	status := http.StatusInternalServerError

	matched := false
	for _, kind := range errorKinds {
		if errors.Is(err, kind.target) {
			matched = true
			status = kind.status
			body.Code = kind.code
			body.Message = err.Error()
			if kind.generic != "" && !h.exposeDetails {
				body.Message = kind.generic
			}
			break
		}
	}

	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		body.Code = "insufficient_stock"
		body.Details = stockErr.Shortages
	}

	if !matched {
		if h.exposeDetails {
			body.Message = err.Error()
		}
		h.logger.ErrorContext(r.Context(), "request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
		)
	} else if status >= http.StatusInternalServerError {
		h.logger.WarnContext(r.Context(), "request failed upstream",
			"error", err,
			"path", r.URL.Path,
		)
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Status: "error", Code: code, Message: message})
}
