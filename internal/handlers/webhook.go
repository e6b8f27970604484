package handlers

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/masqify/billing-service/internal/webhook"
)

// Webhook bodies are small JSON documents; cap reads defensively.
const maxWebhookBodyBytes = 1 << 20

// PaymentWebhookHandler receives signed payment notifications from the
// provider. Signature verification, idempotency and crediting live in
// the processor; this handler only moves bytes and maps errors.
func PaymentWebhookHandler(processor *webhook.Processor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Failed to read request body")
			return
		}

		result, err := processor.Process(r.Context(), body, r.Header.Get("X-Webhook-Signature"))
		if err != nil {
			writeBillingError(w, logger, err, "Failed to process webhook")
			return
		}

		writeJSONResponse(w, http.StatusOK, result)
	}
}
