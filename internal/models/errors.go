package models

import (
	"errors"
	"fmt"
)

// Common billing and ledger errors
var (
	// Funds errors
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBalanceNotFound     = errors.New("balance not found")
	ErrInvalidAmount       = errors.New("invalid amount")

	// Transaction errors
	ErrTransactionNotFound = errors.New("transaction not found")

	// Payment errors
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrPaymentAlreadyCompleted = errors.New("payment already completed")
	ErrDuplicatePayment        = errors.New("duplicate payment")

	// Webhook errors
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// Usage errors
	ErrRewriteNotFound = errors.New("rewrite record not found")

	// Rate limiting errors
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Consistency errors. A LedgerInconsistency means the balance cache
	// diverged from the ledger fold, or a payment was completed without
	// its credit; it must alert an operator, never be swallowed.
	ErrLedgerInconsistency = errors.New("ledger inconsistency")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")

	// Database errors
	ErrDatabaseQuery       = errors.New("database query error")
	ErrDatabaseTransaction = errors.New("database transaction error")
)

// BillingError represents a structured error with additional context
type BillingError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *BillingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *BillingError) Unwrap() error {
	return e.Cause
}

// NewBillingError creates a new BillingError
func NewBillingError(code, message string, cause error) *BillingError {
	return &BillingError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Details: make(map[string]interface{}),
	}
}

// WithDetail adds a detail to the error
func (e *BillingError) WithDetail(key string, value interface{}) *BillingError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error codes for structured error handling. External collaborators
// branch on these codes, never on message substrings.
const (
	ErrCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrCodeBalanceNotFound     = "BALANCE_NOT_FOUND"
	ErrCodeInvalidAmount       = "INVALID_AMOUNT"

	ErrCodeTransactionNotFound = "TRANSACTION_NOT_FOUND"

	ErrCodePaymentNotFound  = "PAYMENT_NOT_FOUND"
	ErrCodeDuplicatePayment = "DUPLICATE_PAYMENT"

	ErrCodeInvalidSignature = "INVALID_SIGNATURE"
	ErrCodeMalformedPayload = "MALFORMED_PAYLOAD"

	ErrCodeRateLimited = "RATE_LIMITED"

	ErrCodeLedgerInconsistency = "LEDGER_INCONSISTENCY"

	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeDatabaseError    = "DATABASE_ERROR"
)

// Common error constructors

func NewInsufficientBalanceError(required, available string) *BillingError {
	return NewBillingError(ErrCodeInsufficientBalance, "Insufficient balance", ErrInsufficientBalance).
		WithDetail("required", required).
		WithDetail("available", available)
}

func NewValidationError(field, message string) *BillingError {
	return NewBillingError(ErrCodeValidationFailed, "Validation failed", ErrValidationFailed).
		WithDetail("field", field).
		WithDetail("message", message)
}

func NewLedgerInconsistencyError(userID string, cause error) *BillingError {
	return NewBillingError(ErrCodeLedgerInconsistency, "Ledger inconsistency detected", cause).
		WithDetail("user_id", userID)
}

func NewDatabaseError(operation string, cause error) *BillingError {
	return NewBillingError(ErrCodeDatabaseError, "Database operation failed", cause).
		WithDetail("operation", operation)
}
