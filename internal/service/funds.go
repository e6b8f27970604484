package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/masqify/billing-service/internal/models"
	"github.com/masqify/billing-service/internal/pricing"
	"github.com/masqify/billing-service/internal/store"
)

// FundsService orchestrates all balance mutations: usage deductions,
// payment credits and admin adjustments. Every mutation appends one
// ledger transaction and updates the balance cache through a single
// store call, so callers never touch the balance directly.
type FundsService struct {
	store         store.Store
	pricingEngine *pricing.Engine
	publisher     EventPublisher
	logger        *zap.Logger
	config        *Config
}

// Config represents funds service configuration
type Config struct {
	Currency string `yaml:"currency"`
}

// EventPublisher receives applied ledger transactions for downstream
// consumers (notifications, analytics). May be nil.
type EventPublisher interface {
	PublishBalanceChange(transaction *models.Transaction)
}

// NewFundsService creates a new funds service
func NewFundsService(
	store store.Store,
	pricingEngine *pricing.Engine,
	publisher EventPublisher,
	config *Config,
	logger *zap.Logger,
) *FundsService {
	if config == nil {
		config = &Config{}
	}
	if config.Currency == "" {
		config.Currency = "EUR"
	}

	return &FundsService{
		store:         store,
		pricingEngine: pricingEngine,
		publisher:     publisher,
		config:        config,
		logger:        logger,
	}
}

// Currency returns the account currency.
func (s *FundsService) Currency() string {
	return s.config.Currency
}

// Pricing returns the pricing engine.
func (s *FundsService) Pricing() *pricing.Engine {
	return s.pricingEngine
}

// GetBalance returns the user's current balance, creating the balance
// row at zero on first read.
func (s *FundsService) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	balance, err := s.store.GetOrCreateBalance(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance.Balance, nil
}

// Deduct debits the user for one completed usage record. The balance
// is re-checked inside the store's serialized boundary; a deduction
// that would go negative is rejected atomically with no ledger write.
func (s *FundsService) Deduct(ctx context.Context, userID string, amount decimal.Decimal, relatedID string, metadata map[string]interface{}) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, models.NewValidationError("amount", "deduction amount must be positive")
	}

	transaction, err := s.store.ApplyTransaction(ctx, &models.LedgerAppendRequest{
		UserID:      userID,
		Type:        models.TransactionTypeRewrite,
		Amount:      amount.Neg(),
		Description: fmt.Sprintf("AI rewrite: %s%s", currencySymbol(s.config.Currency), amount.StringFixed(models.MoneyScale)),
		RelatedID:   &relatedID,
		Metadata:    metadata,
	})
	if err != nil {
		if errors.Is(err, models.ErrInsufficientBalance) {
			return nil, models.NewInsufficientBalanceError(amount.StringFixed(models.MoneyScale), "")
		}
		return nil, fmt.Errorf("failed to deduct funds: %w", err)
	}

	s.publish(transaction)
	return transaction, nil
}

// Credit adds funds after a completed payment.
func (s *FundsService) Credit(ctx context.Context, userID string, amount decimal.Decimal, paymentID string, metadata map[string]interface{}) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, models.NewValidationError("amount", "credit amount must be positive")
	}

	transaction, err := s.store.ApplyTransaction(ctx, &models.LedgerAppendRequest{
		UserID:      userID,
		Type:        models.TransactionTypePayment,
		Amount:      amount,
		Description: fmt.Sprintf("Added funds: %s%s", currencySymbol(s.config.Currency), amount.StringFixed(2)),
		RelatedID:   &paymentID,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to credit funds: %w", err)
	}

	s.publish(transaction)
	return transaction, nil
}

// Adjust applies a signed admin adjustment. Debits hit the same
// non-negative floor as usage deductions.
func (s *FundsService) Adjust(ctx context.Context, userID string, amount decimal.Decimal, reason, adminID string) (*models.Transaction, error) {
	if amount.IsZero() {
		return nil, models.NewValidationError("amount", "adjustment amount must be non-zero")
	}

	description := reason
	if description == "" {
		sign := ""
		if amount.IsPositive() {
			sign = "+"
		}
		description = fmt.Sprintf("Admin adjustment: %s%s%s", sign, currencySymbol(s.config.Currency), amount.StringFixed(2))
	}

	transaction, err := s.store.ApplyTransaction(ctx, &models.LedgerAppendRequest{
		UserID:      userID,
		Type:        models.TransactionTypeAdjustment,
		Amount:      amount,
		Description: description,
		Metadata: map[string]interface{}{
			"admin_id": adminID,
			"reason":   reason,
		},
	})
	if err != nil {
		if errors.Is(err, models.ErrInsufficientBalance) {
			return nil, models.NewBillingError(models.ErrCodeInsufficientBalance,
				"Resulting balance cannot be negative", models.ErrInsufficientBalance)
		}
		return nil, fmt.Errorf("failed to adjust balance: %w", err)
	}

	s.logger.Info("Admin balance adjustment applied",
		zap.String("user_id", userID),
		zap.String("admin_id", adminID),
		zap.String("transaction_id", transaction.ID.String()),
	)

	s.publish(transaction)
	return transaction, nil
}

// ChargeRewrite records one completed AI invocation and deducts its
// cost. The usage record is written first so the ledger row can
// reference it; the deduction itself re-checks the balance under the
// per-user boundary, so a concurrent spend can still reject the charge
// after the AI call succeeded upstream.
func (s *FundsService) ChargeRewrite(ctx context.Context, req *models.ChargeRewriteRequest) (*models.ChargeRewriteResponse, error) {
	if req.UserID == "" {
		return nil, models.NewValidationError("user_id", "user id is required")
	}
	if req.InputTokens < 0 || req.OutputTokens < 0 {
		return nil, models.NewValidationError("tokens", "token counts cannot be negative")
	}

	model := req.Model
	if model == "" {
		model = s.pricingEngine.DefaultModel()
	}

	cost, pricePerToken := s.pricingEngine.Calculate(model, req.InputTokens, req.OutputTokens)
	totalTokens := req.InputTokens + req.OutputTokens

	rewrite := &models.Rewrite{
		ID:            uuid.New(),
		UserID:        req.UserID,
		InputLength:   req.InputLength,
		OutputLength:  req.OutputLength,
		TokensUsed:    int(totalTokens),
		PricePerToken: pricePerToken.Round(models.MoneyScale),
		TotalCost:     cost.Round(models.MoneyScale),
		Status:        models.RewriteStatusCompleted,
		Model:         model,
		Metadata: map[string]interface{}{
			"input_tokens":  req.InputTokens,
			"output_tokens": req.OutputTokens,
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreateRewrite(ctx, rewrite); err != nil {
		return nil, fmt.Errorf("failed to create rewrite record: %w", err)
	}

	metadata := map[string]interface{}{
		"model":  model,
		"tokens": totalTokens,
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	transaction, err := s.Deduct(ctx, req.UserID, cost, rewrite.ID.String(), metadata)
	if err != nil {
		return nil, err
	}

	return &models.ChargeRewriteResponse{
		Success:       true,
		RewriteID:     rewrite.ID,
		TokensUsed:    totalTokens,
		Cost:          transaction.Amount.Neg(),
		PricePerToken: rewrite.PricePerToken,
		NewBalance:    transaction.BalanceAfter,
	}, nil
}

// ListTransactions returns a page of the user's ledger newest first.
func (s *FundsService) ListTransactions(ctx context.Context, userID string, limit, offset int) (*models.TransactionHistoryResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	transactions, total, err := s.store.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return &models.TransactionHistoryResponse{
		Transactions: transactions,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	}, nil
}

// ExportLedger returns the user's full ledger oldest first, for
// statement exports.
func (s *FundsService) ExportLedger(ctx context.Context, userID string) ([]*models.Transaction, error) {
	transactions, err := s.store.ListLedgerAscending(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return transactions, nil
}

// Reconcile folds the user's full ledger and compares the running
// total against the balance cache. Divergence is a ledger
// inconsistency: it is logged with enough detail to reconcile and
// returned as a distinct fatal-class error.
func (s *FundsService) Reconcile(ctx context.Context, userID string) (decimal.Decimal, error) {
	transactions, err := s.store.ListLedgerAscending(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read ledger: %w", err)
	}

	computed := decimal.Zero
	for _, transaction := range transactions {
		computed = computed.Add(transaction.Amount)
		if !computed.Equal(transaction.BalanceAfter) {
			s.logger.Error("Ledger inconsistency: balance_after does not match running total",
				zap.String("user_id", userID),
				zap.String("transaction_id", transaction.ID.String()),
				zap.String("expected", computed.String()),
				zap.String("recorded", transaction.BalanceAfter.String()),
			)
			return decimal.Zero, models.NewLedgerInconsistencyError(userID, models.ErrLedgerInconsistency).
				WithDetail("transaction_id", transaction.ID.String())
		}
	}

	cached, err := s.store.GetOrCreateBalance(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read balance cache: %w", err)
	}

	if !computed.Equal(cached.Balance) {
		s.logger.Error("Ledger inconsistency: balance cache diverged from ledger",
			zap.String("user_id", userID),
			zap.String("expected", computed.String()),
			zap.String("cached", cached.Balance.String()),
		)
		return decimal.Zero, models.NewLedgerInconsistencyError(userID, models.ErrLedgerInconsistency).
			WithDetail("expected", computed.String()).
			WithDetail("cached", cached.Balance.String())
	}

	return computed, nil
}

func (s *FundsService) publish(transaction *models.Transaction) {
	if s.publisher != nil {
		s.publisher.PublishBalanceChange(transaction)
	}
}

func currencySymbol(currency string) string {
	switch currency {
	case "EUR":
		return "€"
	case "USD":
		return "$"
	default:
		return currency + " "
	}
}
