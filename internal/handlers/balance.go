package handlers

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/masqify/billing-service/internal/models"
	"github.com/masqify/billing-service/internal/service"
)

// GetBalanceHandler returns the user's current balance, creating the
// account at zero on first read.
func GetBalanceHandler(funds *service.FundsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			writeErrorResponse(w, http.StatusBadRequest, "User ID is required")
			return
		}

		balance, err := funds.GetBalance(r.Context(), userID)
		if err != nil {
			writeBillingError(w, logger, err, "Failed to get balance")
			return
		}

		writeJSONResponse(w, http.StatusOK, models.BalanceResponse{
			Success: true,
			Balance: balance,
		})
	}
}

// ListTransactionsHandler returns a page of the user's ledger,
// newest first.
func ListTransactionsHandler(funds *service.FundsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			writeErrorResponse(w, http.StatusBadRequest, "User ID is required")
			return
		}

		limit, offset := parsePagination(r)

		history, err := funds.ListTransactions(r.Context(), userID, limit, offset)
		if err != nil {
			writeBillingError(w, logger, err, "Failed to list transactions")
			return
		}

		writeJSONResponse(w, http.StatusOK, history)
	}
}

// ExportTransactionsHandler streams the user's full ledger as CSV,
// oldest first, for statement downloads.
func ExportTransactionsHandler(funds *service.FundsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			writeErrorResponse(w, http.StatusBadRequest, "User ID is required")
			return
		}

		transactions, err := funds.ExportLedger(r.Context(), userID)
		if err != nil {
			writeBillingError(w, logger, err, "Failed to export transactions")
			return
		}

		filename := "transactions-" + userID + "-" + time.Now().UTC().Format("2006-01-02") + ".csv"
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		w.WriteHeader(http.StatusOK)

		writer := csv.NewWriter(w)
		_ = writer.Write([]string{"id", "type", "amount", "balance_after", "description", "created_at"})
		for _, transaction := range transactions {
			_ = writer.Write([]string{
				transaction.ID.String(),
				string(transaction.Type),
				transaction.Amount.StringFixed(models.MoneyScale),
				transaction.BalanceAfter.StringFixed(models.MoneyScale),
				transaction.Description,
				transaction.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			logger.Error("Failed to stream transaction export", zap.Error(err))
		}
	}
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			offset = parsed
		}
	}
	return limit, offset
}
