package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/masqify/billing-service/internal/models"
)

// Store is the persistence boundary for the ledger, the balance cache,
// payments and usage records. All funds mutations go through
// ApplyTransaction so the read-modify-write of a user's balance is
// serialized by the store, never by calling code.
type Store interface {
	// Initialize prepares the backing storage (creates tables etc.).
	Initialize(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error

	// GetOrCreateBalance returns the user's balance row, creating it at
	// zero if absent. Creation is race-safe: concurrent first reads
	// produce exactly one row.
	GetOrCreateBalance(ctx context.Context, userID string) (*models.Balance, error)

	// ApplyTransaction atomically appends a ledger transaction and
	// updates the balance cache. The signed amount is applied to the
	// current balance under a per-user serialization boundary; if the
	// resulting balance would be negative it returns
	// models.ErrInsufficientBalance and writes nothing.
	ApplyTransaction(ctx context.Context, req *models.LedgerAppendRequest) (*models.Transaction, error)

	// ListTransactions returns a page of the user's ledger newest
	// first, plus the exact total row count.
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*models.Transaction, int, error)

	// ListLedgerAscending returns the user's full ledger oldest first,
	// for reconciliation against the balance cache.
	ListLedgerAscending(ctx context.Context, userID string) ([]*models.Transaction, error)

	// CreatePayment inserts a payment row. A row with the same
	// provider transaction id must not already exist.
	CreatePayment(ctx context.Context, payment *models.Payment) error

	// GetPaymentByProviderTransactionID looks up a payment by the
	// provider-supplied idempotency key. Returns
	// models.ErrPaymentNotFound when absent.
	GetPaymentByProviderTransactionID(ctx context.Context, providerTxID string) (*models.Payment, error)

	// CompletePayment transitions a payment pending -> completed.
	// Returns models.ErrPaymentAlreadyCompleted if the payment is not
	// pending, models.ErrPaymentNotFound if it does not exist.
	CompletePayment(ctx context.Context, paymentID uuid.UUID, metadata map[string]interface{}) error

	// FailPayment transitions a payment pending -> failed.
	FailPayment(ctx context.Context, paymentID uuid.UUID) error

	// CreateRewrite inserts a usage record.
	CreateRewrite(ctx context.Context, rewrite *models.Rewrite) error
}
