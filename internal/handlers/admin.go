package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/masqify/billing-service/internal/models"
	"github.com/masqify/billing-service/internal/service"
)

// AdjustBalanceHandler applies a signed admin adjustment to a user's
// balance. Authentication is expected to happen upstream; the admin
// identity is taken from the X-Admin-Id header for the audit trail.
func AdjustBalanceHandler(funds *service.FundsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			writeErrorResponse(w, http.StatusBadRequest, "User ID is required")
			return
		}

		var req models.AdjustBalanceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		adminID := r.Header.Get("X-Admin-Id")
		if adminID == "" {
			adminID = "unknown"
		}

		transaction, err := funds.Adjust(r.Context(), userID, req.Amount, req.Reason, adminID)
		if err != nil {
			writeBillingError(w, logger, err, "Failed to adjust balance")
			return
		}

		writeJSONResponse(w, http.StatusOK, models.AdjustBalanceResponse{
			Success:     true,
			Transaction: transaction,
			NewBalance:  transaction.BalanceAfter,
		})
	}
}

// ReconcileHandler recomputes a user's balance from the full ledger and
// compares it against the cache. Admin-only diagnostic.
func ReconcileHandler(funds *service.FundsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			writeErrorResponse(w, http.StatusBadRequest, "User ID is required")
			return
		}

		balance, err := funds.Reconcile(r.Context(), userID)
		if err != nil {
			writeBillingError(w, logger, err, "Reconciliation failed")
			return
		}

		writeJSONResponse(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"user_id": userID,
			"balance": balance,
		})
	}
}
