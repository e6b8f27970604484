package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the type of a ledger transaction
type TransactionType string

const (
	TransactionTypePayment    TransactionType = "payment"
	TransactionTypeRewrite    TransactionType = "rewrite"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// Transaction is one immutable row in a user's ledger. The ledger is
// append-only and is the source of truth for balance history: rows are
// never mutated or deleted for a live account.
type Transaction struct {
	ID           uuid.UUID              `json:"id" db:"id"`
	UserID       string                 `json:"user_id" db:"user_id"`
	Type         TransactionType        `json:"type" db:"type"`
	Amount       decimal.Decimal        `json:"amount" db:"amount"`
	BalanceAfter decimal.Decimal        `json:"balance_after" db:"balance_after"`
	Description  string                 `json:"description" db:"description"`
	RelatedID    *string                `json:"related_id,omitempty" db:"related_id"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
}

// IsCredit reports whether the transaction added funds.
func (t *Transaction) IsCredit() bool {
	return t.Amount.IsPositive()
}

// Balance is the denormalized current-balance row for one user. It is a
// cache over the ledger, written only together with a ledger append and
// reconcilable against the ledger at any time.
type Balance struct {
	UserID           string          `json:"user_id" db:"user_id"`
	Balance          decimal.Decimal `json:"balance" db:"balance"`
	BalanceUpdatedAt time.Time       `json:"balance_updated_at" db:"balance_updated_at"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// MoneyScale is the fixed-point precision for all monetary values.
const MoneyScale = 6

// LedgerAppendRequest describes one funds mutation: a signed amount to
// apply to a user's balance together with the transaction row recording
// it. Positive amounts credit, negative amounts debit.
type LedgerAppendRequest struct {
	UserID      string                 `json:"user_id"`
	Type        TransactionType        `json:"type"`
	Amount      decimal.Decimal        `json:"amount"`
	Description string                 `json:"description"`
	RelatedID   *string                `json:"related_id,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// TransactionHistoryResponse is a page of a user's ledger, newest first.
type TransactionHistoryResponse struct {
	Transactions []*Transaction `json:"transactions"`
	Total        int            `json:"total"`
	Limit        int            `json:"limit"`
	Offset       int            `json:"offset"`
}

// BalanceResponse is the JSON shape for balance reads.
type BalanceResponse struct {
	Success bool            `json:"success"`
	Balance decimal.Decimal `json:"balance"`
}
