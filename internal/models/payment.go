package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus represents the lifecycle state of a payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Payment records one external payment. ProviderTransactionID is the
// provider-supplied idempotency key: at most one Payment row exists per
// distinct id, and a payment moves pending -> completed exactly once.
type Payment struct {
	ID                    uuid.UUID              `json:"id" db:"id"`
	UserID                string                 `json:"user_id" db:"user_id"`
	Amount                decimal.Decimal        `json:"amount" db:"amount"`
	Currency              string                 `json:"currency" db:"currency"`
	Status                PaymentStatus          `json:"status" db:"status"`
	Provider              string                 `json:"provider" db:"provider"`
	ProviderTransactionID string                 `json:"provider_transaction_id" db:"provider_transaction_id"`
	Metadata              map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt             time.Time              `json:"created_at" db:"created_at"`
	CompletedAt           *time.Time             `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt             time.Time              `json:"updated_at" db:"updated_at"`
}

// RewriteStatus represents the status of a usage record
type RewriteStatus string

const (
	RewriteStatusCompleted RewriteStatus = "completed"
	RewriteStatusFailed    RewriteStatus = "failed"
	RewriteStatusRefunded  RewriteStatus = "refunded"
)

// Rewrite is the immutable usage record of one AI invocation. Each
// completed rewrite has exactly one ledger transaction of type
// "rewrite" referencing it.
type Rewrite struct {
	ID            uuid.UUID              `json:"id" db:"id"`
	UserID        string                 `json:"user_id" db:"user_id"`
	InputLength   int                    `json:"input_length" db:"input_length"`
	OutputLength  int                    `json:"output_length" db:"output_length"`
	TokensUsed    int                    `json:"tokens_used" db:"tokens_used"`
	PricePerToken decimal.Decimal        `json:"price_per_token" db:"price_per_token"`
	TotalCost     decimal.Decimal        `json:"total_cost" db:"total_cost"`
	Status        RewriteStatus          `json:"status" db:"status"`
	Model         string                 `json:"model" db:"model"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
}

// ChargeRewriteRequest is a request to record a completed AI rewrite
// and deduct its cost. Token counts come from the AI provider's usage
// report; the cost is computed server-side from them.
type ChargeRewriteRequest struct {
	UserID       string                 `json:"user_id"`
	Model        string                 `json:"model"`
	InputTokens  int64                  `json:"input_tokens"`
	OutputTokens int64                  `json:"output_tokens"`
	InputLength  int                    `json:"input_length"`
	OutputLength int                    `json:"output_length"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ChargeRewriteResponse reports the applied charge.
type ChargeRewriteResponse struct {
	Success       bool            `json:"success"`
	RewriteID     uuid.UUID       `json:"rewrite_id"`
	TokensUsed    int64           `json:"tokens_used"`
	Cost          decimal.Decimal `json:"cost"`
	PricePerToken decimal.Decimal `json:"price_per_token"`
	NewBalance    decimal.Decimal `json:"new_balance"`
}

// AdjustBalanceRequest is an admin-originated balance adjustment.
// Amount is signed; debits are subject to the same non-negative floor
// as every other deduction.
type AdjustBalanceRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// AdjustBalanceResponse reports the adjusted balance.
type AdjustBalanceResponse struct {
	Success     bool            `json:"success"`
	Transaction *Transaction    `json:"transaction"`
	NewBalance  decimal.Decimal `json:"new_balance"`
}

// WebhookEvent is the verified payload of a payment-provider
// notification. ID is the provider transaction id used for
// idempotency.
type WebhookEvent struct {
	Type string           `json:"type"`
	ID   string           `json:"id"`
	Data WebhookEventData `json:"data"`
}

// WebhookEventData carries the fields the processor consumes.
type WebhookEventData struct {
	UserID   string          `json:"user_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}
