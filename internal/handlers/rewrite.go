package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/masqify/billing-service/internal/models"
	"github.com/masqify/billing-service/internal/ratelimit"
	"github.com/masqify/billing-service/internal/service"
)

// ChargeRewriteHandler records a completed AI rewrite and deducts its
// cost from the user's balance. The endpoint is rate limited per user.
func ChargeRewriteHandler(funds *service.FundsService, limiter *ratelimit.Limiter, cfg ratelimit.Config, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.ChargeRewriteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if req.UserID == "" {
			writeErrorResponse(w, http.StatusBadRequest, "User ID is required")
			return
		}

		result := limiter.Check(cfg, req.UserID, clientIP(r))
		if !result.Allowed {
			logger.Warn("Rewrite charge rate limited",
				zap.String("user_id", req.UserID),
				zap.Int64("reset", result.Reset),
			)
			writeRateLimited(w, result)
			return
		}
		setRateLimitHeaders(w, result)

		response, err := funds.ChargeRewrite(r.Context(), &req)
		if err != nil {
			writeBillingError(w, logger, err, "Failed to charge rewrite")
			return
		}

		writeJSONResponse(w, http.StatusOK, response)
	}
}

// EstimateCostHandler returns the estimated cost for a rewrite of the
// given text length without touching any balance.
func EstimateCostHandler(funds *service.FundsService, logger *zap.Logger) http.HandlerFunc {
	type estimateRequest struct {
		TextLength int    `json:"text_length"`
		Model      string `json:"model,omitempty"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req estimateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if req.TextLength < 0 {
			writeErrorResponse(w, http.StatusBadRequest, "Text length cannot be negative")
			return
		}

		engine := funds.Pricing()
		model := req.Model
		if model == "" {
			model = engine.DefaultModel()
		}

		inputTokens, outputTokens := engine.Estimate(req.TextLength)
		cost, pricePerToken := engine.Calculate(model, inputTokens, outputTokens)

		writeJSONResponse(w, http.StatusOK, map[string]interface{}{
			"success":         true,
			"model":           model,
			"input_tokens":    inputTokens,
			"output_tokens":   outputTokens,
			"estimated_cost":  cost.Round(models.MoneyScale),
			"price_per_token": pricePerToken.Round(models.MoneyScale),
			"currency":        funds.Currency(),
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, result ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.Reset, 10))
}
