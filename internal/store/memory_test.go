package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masqify/billing-service/internal/models"
)

func testPayment(providerTxID string) *models.Payment {
	now := time.Now().UTC()
	return &models.Payment{
		ID:                    uuid.New(),
		UserID:                "user-1",
		Amount:                decimal.RequireFromString("25.00"),
		Currency:              "EUR",
		Status:                models.PaymentStatusPending,
		Provider:              "stripe",
		ProviderTransactionID: providerTxID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

func TestCreatePaymentRejectsDuplicateProviderTransactionID(t *testing.T) {
	memStore := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, memStore.CreatePayment(ctx, testPayment("cs_001")))

	err := memStore.CreatePayment(ctx, testPayment("cs_001"))
	require.ErrorIs(t, err, models.ErrDuplicatePayment)
}

func TestPaymentLifecycle(t *testing.T) {
	memStore := NewMemoryStore()
	ctx := context.Background()

	payment := testPayment("cs_002")
	require.NoError(t, memStore.CreatePayment(ctx, payment))

	found, err := memStore.GetPaymentByProviderTransactionID(ctx, "cs_002")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, found.Status)

	require.NoError(t, memStore.CompletePayment(ctx, payment.ID, map[string]interface{}{"k": "v"}))

	found, err = memStore.GetPaymentByProviderTransactionID(ctx, "cs_002")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, found.Status)
	require.NotNil(t, found.CompletedAt)

	// A completed payment cannot be completed or failed again.
	err = memStore.CompletePayment(ctx, payment.ID, nil)
	require.ErrorIs(t, err, models.ErrPaymentAlreadyCompleted)
	err = memStore.FailPayment(ctx, payment.ID)
	require.ErrorIs(t, err, models.ErrPaymentAlreadyCompleted)
}

func TestCompleteUnknownPayment(t *testing.T) {
	memStore := NewMemoryStore()

	err := memStore.CompletePayment(context.Background(), uuid.New(), nil)
	require.ErrorIs(t, err, models.ErrPaymentNotFound)
}

func TestGetPaymentByProviderTransactionIDNotFound(t *testing.T) {
	memStore := NewMemoryStore()

	_, err := memStore.GetPaymentByProviderTransactionID(context.Background(), "cs_missing")
	require.ErrorIs(t, err, models.ErrPaymentNotFound)
}

func TestApplyTransactionRoundsToMoneyScale(t *testing.T) {
	memStore := NewMemoryStore()
	ctx := context.Background()

	transaction, err := memStore.ApplyTransaction(ctx, &models.LedgerAppendRequest{
		UserID: "user-1",
		Type:   models.TransactionTypePayment,
		Amount: decimal.RequireFromString("1.00000049"),
	})
	require.NoError(t, err)

	assert.True(t, transaction.Amount.Equal(decimal.RequireFromString("1")),
		"got %s", transaction.Amount)
}

func TestApplyTransactionRejectsOverdraftAtomically(t *testing.T) {
	memStore := NewMemoryStore()
	ctx := context.Background()

	_, err := memStore.ApplyTransaction(ctx, &models.LedgerAppendRequest{
		UserID: "user-1",
		Type:   models.TransactionTypeRewrite,
		Amount: decimal.RequireFromString("-0.01"),
	})
	require.ErrorIs(t, err, models.ErrInsufficientBalance)

	ledger, err := memStore.ListLedgerAscending(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, ledger, "a rejected mutation must write no ledger row")
}

func TestLedgerOrderingIsStable(t *testing.T) {
	memStore := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := memStore.ApplyTransaction(ctx, &models.LedgerAppendRequest{
			UserID: "user-1",
			Type:   models.TransactionTypePayment,
			Amount: decimal.NewFromInt(1),
		})
		require.NoError(t, err)
	}

	ledger, err := memStore.ListLedgerAscending(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, ledger, 20)

	for i := 1; i < len(ledger); i++ {
		assert.True(t, ledger[i].CreatedAt.After(ledger[i-1].CreatedAt),
			"timestamps must be strictly increasing even within one tick")
	}
}
