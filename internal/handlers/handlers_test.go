package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/masqify/billing-service/internal/models"
	"github.com/masqify/billing-service/internal/pricing"
	"github.com/masqify/billing-service/internal/ratelimit"
	"github.com/masqify/billing-service/internal/service"
	"github.com/masqify/billing-service/internal/store"
	"github.com/masqify/billing-service/internal/webhook"
)

const testWebhookSecret = "whsec_handler_test"

type testEnv struct {
	router *chi.Mux
	funds  *service.FundsService
}

func newTestEnv(t *testing.T, chargeLimit int) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	memStore := store.NewMemoryStore()
	funds := service.NewFundsService(memStore, pricing.NewEngine(nil, logger), nil, nil, logger)
	processor := webhook.NewProcessor(memStore, funds, &webhook.Config{Secret: testWebhookSecret}, logger)
	limiter := ratelimit.New()

	chargeRule := ratelimit.Config{
		Endpoint:      "/api/v1/rewrite/charge",
		Limit:         chargeLimit,
		WindowSeconds: 3600,
	}

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/balance/{userID}", func(r chi.Router) {
			r.Get("/", GetBalanceHandler(funds, logger))
			r.Get("/transactions", ListTransactionsHandler(funds, logger))
			r.Get("/transactions/export", ExportTransactionsHandler(funds, logger))
		})
		r.Post("/rewrite/charge", ChargeRewriteHandler(funds, limiter, chargeRule, logger))
		r.Post("/pricing/estimate", EstimateCostHandler(funds, logger))
		r.Route("/admin/users/{userID}", func(r chi.Router) {
			r.Post("/adjust", AdjustBalanceHandler(funds, logger))
			r.Post("/reconcile", ReconcileHandler(funds, logger))
		})
		r.Post("/webhooks/payment", PaymentWebhookHandler(processor, logger))
	})

	return &testEnv{router: r, funds: funds}
}

func (e *testEnv) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	e.router.ServeHTTP(recorder, req)
	return recorder
}

func (e *testEnv) seed(t *testing.T, userID, amount string) {
	t.Helper()
	_, err := e.funds.Credit(context.Background(), userID, decimal.RequireFromString(amount), "seed", nil)
	require.NoError(t, err)
}

func signBody(body []byte, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestGetBalance(t *testing.T) {
	env := newTestEnv(t, 20)
	env.seed(t, "user-1", "12.34")

	recorder := env.do(http.MethodGet, "/api/v1/balance/user-1", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var response models.BalanceResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.True(t, response.Success)
	assert.True(t, response.Balance.Equal(decimal.RequireFromString("12.34")))
}

func TestGetBalanceUnknownUserIsZero(t *testing.T) {
	env := newTestEnv(t, 20)

	recorder := env.do(http.MethodGet, "/api/v1/balance/nobody", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var response models.BalanceResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.True(t, response.Balance.IsZero())
}

func TestChargeRewrite(t *testing.T) {
	env := newTestEnv(t, 20)
	env.seed(t, "user-1", "10.00")

	recorder := env.do(http.MethodPost, "/api/v1/rewrite/charge", models.ChargeRewriteRequest{
		UserID:       "user-1",
		Model:        "gpt-4o-mini",
		InputTokens:  1000,
		OutputTokens: 2000,
	}, nil)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	assert.Equal(t, "20", recorder.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "19", recorder.Header().Get("X-RateLimit-Remaining"))

	var response models.ChargeRewriteResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.True(t, response.Cost.Equal(decimal.RequireFromString("0.0081")))
	assert.True(t, response.NewBalance.Equal(decimal.RequireFromString("9.9919")))
}

func TestChargeRewriteInsufficientBalanceIs402(t *testing.T) {
	env := newTestEnv(t, 20)

	recorder := env.do(http.MethodPost, "/api/v1/rewrite/charge", models.ChargeRewriteRequest{
		UserID:       "user-1",
		Model:        "gpt-4o",
		InputTokens:  1_000_000,
		OutputTokens: 1_000_000,
	}, nil)

	require.Equal(t, http.StatusPaymentRequired, recorder.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, models.ErrCodeInsufficientBalance, response["code"])
}

func TestChargeRewriteRateLimited(t *testing.T) {
	env := newTestEnv(t, 2)
	env.seed(t, "user-1", "100.00")

	request := models.ChargeRewriteRequest{
		UserID:       "user-1",
		Model:        "gpt-4o-mini",
		InputTokens:  10,
		OutputTokens: 10,
	}

	for i := 0; i < 2; i++ {
		recorder := env.do(http.MethodPost, "/api/v1/rewrite/charge", request, nil)
		require.Equal(t, http.StatusOK, recorder.Code)
	}

	recorder := env.do(http.MethodPost, "/api/v1/rewrite/charge", request, nil)
	require.Equal(t, http.StatusTooManyRequests, recorder.Code)
	assert.Equal(t, "2", recorder.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", recorder.Header().Get("X-RateLimit-Remaining"))
	assert.NotEqual(t, "", recorder.Header().Get("X-RateLimit-Reset"))
	assert.NotEqual(t, "", recorder.Header().Get("Retry-After"))

	// The rejected request charged nothing.
	balance, err := env.funds.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	expected := decimal.RequireFromString("100").
		Sub(decimal.RequireFromString("0.00009")) // 2 charges of 0.000045
	assert.True(t, balance.Equal(expected), "got %s", balance)
}

func TestEstimateCost(t *testing.T) {
	env := newTestEnv(t, 20)

	recorder := env.do(http.MethodPost, "/api/v1/pricing/estimate", map[string]interface{}{
		"text_length": 4000,
	}, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "gpt-4o-mini", response["model"])
	assert.Equal(t, float64(1000), response["input_tokens"])
	assert.Equal(t, float64(1100), response["output_tokens"])
}

func TestAdminAdjust(t *testing.T) {
	env := newTestEnv(t, 20)
	env.seed(t, "user-1", "10.50")

	recorder := env.do(http.MethodPost, "/api/v1/admin/users/user-1/adjust", models.AdjustBalanceRequest{
		Amount: decimal.RequireFromString("25.00"),
		Reason: "refund",
	}, map[string]string{"X-Admin-Id": "admin-1"})
	require.Equal(t, http.StatusOK, recorder.Code)

	var response models.AdjustBalanceResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.True(t, response.NewBalance.Equal(decimal.RequireFromString("35.50")))
	require.NotNil(t, response.Transaction)
	assert.Equal(t, "refund", response.Transaction.Description)
}

func TestAdminAdjustCannotGoNegative(t *testing.T) {
	env := newTestEnv(t, 20)
	env.seed(t, "user-1", "5.00")

	recorder := env.do(http.MethodPost, "/api/v1/admin/users/user-1/adjust", models.AdjustBalanceRequest{
		Amount: decimal.RequireFromString("-10.00"),
		Reason: "chargeback",
	}, nil)
	require.Equal(t, http.StatusPaymentRequired, recorder.Code)
}

func TestWebhookEndToEnd(t *testing.T) {
	env := newTestEnv(t, 20)

	body, err := json.Marshal(map[string]interface{}{
		"type": webhook.EventCheckoutCompleted,
		"id":   "cs_handler_001",
		"data": map[string]interface{}{"user_id": "user-1", "amount": "25.00", "currency": "eur"},
	})
	require.NoError(t, err)

	request := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", bytes.NewReader(body))
	request.Header.Set("X-Webhook-Signature", signBody(body, time.Now()))
	recorder := httptest.NewRecorder()
	env.router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	balance, err := env.funds.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("25.00")))
}

func TestWebhookBadSignatureIs400(t *testing.T) {
	env := newTestEnv(t, 20)

	body := []byte(`{"type":"checkout.session.completed","id":"cs_x","data":{"user_id":"u","amount":"1"}}`)

	request := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", bytes.NewReader(body))
	request.Header.Set("X-Webhook-Signature", "t=123,v1=bogus")
	recorder := httptest.NewRecorder()
	env.router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestTransactionHistory(t *testing.T) {
	env := newTestEnv(t, 20)
	env.seed(t, "user-1", "10.00")
	env.seed(t, "user-1", "5.00")

	recorder := env.do(http.MethodGet, "/api/v1/balance/user-1/transactions?limit=1&offset=0", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var response models.TransactionHistoryResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, 2, response.Total)
	assert.Len(t, response.Transactions, 1)
	assert.Equal(t, 1, response.Limit)
}

func TestTransactionExportCSV(t *testing.T) {
	env := newTestEnv(t, 20)
	env.seed(t, "user-1", "10.00")

	recorder := env.do(http.MethodGet, "/api/v1/balance/user-1/transactions/export", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "text/csv", recorder.Header().Get("Content-Type"))
	assert.Contains(t, recorder.Header().Get("Content-Disposition"), "attachment")

	lines := strings.Split(strings.TrimSpace(recorder.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "balance_after")
	assert.Contains(t, lines[1], "10.000000")
}

func TestReconcileEndpoint(t *testing.T) {
	env := newTestEnv(t, 20)
	env.seed(t, "user-1", "10.00")

	recorder := env.do(http.MethodPost, "/api/v1/admin/users/user-1/reconcile", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, true, response["success"])
}
