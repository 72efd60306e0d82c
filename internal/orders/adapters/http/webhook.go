package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dejobratic/storefront/internal/orders/adapters/paystack"
	"github.com/dejobratic/storefront/internal/orders/domain"
)

// HeaderSignature carries the hex HMAC-SHA512 of the raw webhook body.
const HeaderSignature = "x-paystack-signature"

const maxWebhookBody = 1 << 20

// SignatureVerifier authenticates webhook bodies with the shared secret.
type SignatureVerifier struct {
	secret []byte
}

func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret)}
}

// Verify fails with domain.ErrIntegrity unless signature is the hex
// HMAC-SHA512 of body. The comparison runs in constant time.
func (v *SignatureVerifier) Verify(body []byte, signature string) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: webhook secret not configured", domain.ErrIntegrity)
	}
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(provided) != sha512.Size {
		return fmt.Errorf("%w: malformed signature", domain.ErrIntegrity)
	}

	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return fmt.Errorf("%w: signature mismatch", domain.ErrIntegrity)
	}
	return nil
}

// Sign returns the signature Verify accepts for body.
func (v *SignatureVerifier) Sign(body []byte) string {
	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// handleWebhook acknowledges every authenticated delivery with 200 so the
// gateway does not redeliver; processing failures are only logged.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "unreadable body")
		return
	}

	if err := h.verifier.Verify(body, r.Header.Get(HeaderSignature)); err != nil {
		h.logger.WarnContext(ctx, "webhook rejected", "error", err)
		h.recordWebhook(ctx, "rejected")
		writeError(w, http.StatusUnauthorized, "unauthorized", "request could not be authenticated")
		return
	}

	event, err := paystack.ParseWebhookEvent(body)
	if err != nil {
		h.logger.ErrorContext(ctx, "unparseable webhook acknowledged", "error", err)
		h.recordWebhook(ctx, "invalid")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if err := h.service.HandleWebhookEvent(ctx, event); err != nil {
		h.logger.ErrorContext(ctx, "webhook processing failed",
			"error", err,
			"event", event.Type,
			"reference", event.Transaction.Reference,
		)
	}

	h.recordWebhook(ctx, "accepted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) recordWebhook(ctx context.Context, result string) {
	if h.metrics != nil {
		h.metrics.RecordWebhook(ctx, result)
	}
}
