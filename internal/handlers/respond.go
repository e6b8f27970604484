package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/masqify/billing-service/internal/models"
	"github.com/masqify/billing-service/internal/ratelimit"
)

// writeJSONResponse writes a JSON response
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent; just log.
		zap.L().Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response. Only the public message
// and code are exposed; internal detail stays in the logs.
func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	writeJSONResponse(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   message,
		"status":  statusCode,
	})
}

// writeBillingError maps a service error to an HTTP response. Expected
// business-rule failures carry their structured code; anything else is
// surfaced as a generic failure.
func writeBillingError(w http.ResponseWriter, logger *zap.Logger, err error, fallback string) {
	var billingErr *models.BillingError
	if errors.As(err, &billingErr) {
		writeJSONResponse(w, statusForCode(billingErr.Code), map[string]interface{}{
			"success": false,
			"error":   billingErr.Message,
			"code":    billingErr.Code,
		})
		return
	}

	// Unexpected failure: log the error class only, never amounts or
	// user-supplied text.
	logger.Error("Unexpected handler error", zap.String("error_type", errorType(err)))
	writeErrorResponse(w, http.StatusInternalServerError, fallback)
}

func errorType(err error) string {
	if err == nil {
		return "unknown"
	}
	parts := strings.SplitN(err.Error(), ":", 2)
	return parts[0]
}

// statusForCode maps structured error codes to HTTP status codes
func statusForCode(code string) int {
	switch code {
	case models.ErrCodeInsufficientBalance:
		return http.StatusPaymentRequired
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case models.ErrCodeInvalidSignature, models.ErrCodeMalformedPayload,
		models.ErrCodeValidationFailed, models.ErrCodeInvalidAmount:
		return http.StatusBadRequest
	case models.ErrCodeBalanceNotFound, models.ErrCodePaymentNotFound,
		models.ErrCodeTransactionNotFound:
		return http.StatusNotFound
	case models.ErrCodeDuplicatePayment:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// writeRateLimited writes the 429 response with backoff headers.
func writeRateLimited(w http.ResponseWriter, result ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.Reset, 10))
	w.Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds(time.Now()), 10))

	writeJSONResponse(w, http.StatusTooManyRequests, map[string]interface{}{
		"success":     false,
		"error":       "Rate limit exceeded",
		"code":        models.ErrCodeRateLimited,
		"message":     "You have exceeded the rate limit of " + strconv.Itoa(result.Limit) + " requests. Please try again later.",
		"retry_after": result.Reset,
	})
}

// clientIP extracts the caller's address from proxy headers, falling
// back to the connection's remote address.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return realIP
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}
