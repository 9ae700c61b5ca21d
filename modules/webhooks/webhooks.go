// Package webhooks exposes the payment provider webhook endpoint and maps
// reconciliation outcomes onto the provider's retry contract: 200 for
// processed or harmless deliveries, 400 for client errors that must not be
// retried, 500 for persistence failures that should be.
package webhooks

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pixelmuse/pixelmuse/billing"
	"github.com/pixelmuse/pixelmuse/pkg/logger"
)

// maxPayloadBytes bounds webhook bodies; provider events are small.
const maxPayloadBytes = 1 << 20

// Handler serves inbound billing webhooks.
type Handler struct {
	reconciler      *billing.Reconciler
	signatureHeader string
	log             *slog.Logger
}

// NewHandler creates the webhook handler. signatureHeader names the HTTP
// header carrying the provider signature (e.g. "Stripe-Signature").
func NewHandler(reconciler *billing.Reconciler, signatureHeader string, log *slog.Logger) *Handler {
	if reconciler == nil {
		panic("webhooks: billing.Reconciler is required")
	}
	if signatureHeader == "" {
		panic("webhooks: signature header name is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		reconciler:      reconciler,
		signatureHeader: signatureHeader,
		log:             log,
	}
}

// Router mounts the webhook routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/billing", h.handleBilling)
	return r
}

func (h *Handler) handleBilling(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	signature := r.Header.Get(h.signatureHeader)
	if signature == "" {
		h.log.WarnContext(ctx, "webhook delivery without signature header")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "no signature"})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable payload"})
		return
	}

	if err := h.reconciler.HandleWebhook(ctx, payload, signature); err != nil {
		switch {
		case errors.Is(err, billing.ErrSignatureInvalid):
			h.log.WarnContext(ctx, "webhook signature verification failed", logger.Error(err))
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid signature"})
		case errors.Is(err, billing.ErrMalformedEvent), errors.Is(err, billing.ErrCustomerNotFound):
			h.log.WarnContext(ctx, "webhook rejected", logger.Error(err))
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		default:
			// Persistence or configuration failure: a 500 makes the
			// provider redeliver, which is safe since reconciliation is
			// idempotent.
			h.log.ErrorContext(ctx, "webhook processing failed", logger.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "processing failed"})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
