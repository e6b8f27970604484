package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/masqify/billing-service/internal/models"
)

// Postgres error code for unique constraint violations.
const uniqueViolationCode = "23505"

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(db *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// Initialize creates the necessary database tables
func (s *PostgresStore) Initialize(ctx context.Context) error {
	queries := []string{
		createUserBalancesTable,
		createTransactionsTable,
		createPaymentsTable,
		createRewritesTable,
		createIndexes,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	s.logger.Info("Database tables initialized successfully")
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// Balance operations

// GetOrCreateBalance returns the user's balance row, creating it at
// zero when absent. The insert uses ON CONFLICT DO NOTHING so a race
// between first readers leaves exactly one row.
func (s *PostgresStore) GetOrCreateBalance(ctx context.Context, userID string) (*models.Balance, error) {
	insert := `
		INSERT INTO user_balances (user_id, balance, balance_updated_at, created_at, updated_at)
		VALUES ($1, 0, $2, $2, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	now := time.Now().UTC()
	if _, err := s.db.Exec(ctx, insert, userID, now); err != nil {
		return nil, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	return s.getBalance(ctx, s.db, userID, false)
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) getBalance(ctx context.Context, q queryer, userID string, forUpdate bool) (*models.Balance, error) {
	query := `
		SELECT user_id, balance, balance_updated_at, created_at, updated_at
		FROM user_balances WHERE user_id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	balance := &models.Balance{}
	err := q.QueryRow(ctx, query, userID).Scan(
		&balance.UserID, &balance.Balance, &balance.BalanceUpdatedAt,
		&balance.CreatedAt, &balance.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrBalanceNotFound
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	return balance, nil
}

// Ledger operations

// ApplyTransaction appends a ledger row and updates the balance cache
// in one database transaction. The balance row is locked FOR UPDATE so
// concurrent funds operations against the same user serialize at the
// row while different users proceed in parallel.
func (s *PostgresStore) ApplyTransaction(ctx context.Context, req *models.LedgerAppendRequest) (*models.Transaction, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	ensure := `
		INSERT INTO user_balances (user_id, balance, balance_updated_at, created_at, updated_at)
		VALUES ($1, 0, $2, $2, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, ensure, req.UserID, now); err != nil {
		return nil, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	balance, err := s.getBalance(ctx, tx, req.UserID, true)
	if err != nil {
		return nil, err
	}

	amount := req.Amount.Round(models.MoneyScale)
	newBalance := balance.Balance.Add(amount)
	if newBalance.IsNegative() {
		return nil, models.ErrInsufficientBalance
	}

	transaction := &models.Transaction{
		ID:           uuid.New(),
		UserID:       req.UserID,
		Type:         req.Type,
		Amount:       amount,
		BalanceAfter: newBalance,
		Description:  req.Description,
		RelatedID:    req.RelatedID,
		Metadata:     req.Metadata,
		CreatedAt:    now,
	}

	metadataJSON, err := json.Marshal(transaction.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	insertTxn := `
		INSERT INTO transactions (id, user_id, type, amount, balance_after, description, related_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.Exec(ctx, insertTxn,
		transaction.ID, transaction.UserID, transaction.Type,
		transaction.Amount, transaction.BalanceAfter, transaction.Description,
		transaction.RelatedID, metadataJSON, transaction.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	updateBalance := `
		UPDATE user_balances
		SET balance = $2, balance_updated_at = $3, updated_at = $3
		WHERE user_id = $1
	`
	result, err := tx.Exec(ctx, updateBalance, req.UserID, newBalance, now)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, models.ErrBalanceNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Ledger transaction applied",
		zap.String("transaction_id", transaction.ID.String()),
		zap.String("user_id", transaction.UserID),
		zap.String("type", string(transaction.Type)),
	)

	return transaction, nil
}

// ListTransactions returns a page of the user's ledger newest first
// plus the exact total count from a single COUNT query.
func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*models.Transaction, int, error) {
	query := `
		SELECT id, user_id, type, amount, balance_after, description, related_id, metadata, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	transactions, err := scanTransactions(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM transactions WHERE user_id = $1`
	if err := s.db.QueryRow(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	return transactions, total, nil
}

// ListLedgerAscending returns the user's full ledger oldest first.
func (s *PostgresStore) ListLedgerAscending(ctx context.Context, userID string) ([]*models.Transaction, error) {
	query := `
		SELECT id, user_id, type, amount, balance_after, description, related_id, metadata, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func scanTransactions(rows pgx.Rows) ([]*models.Transaction, error) {
	var transactions []*models.Transaction
	for rows.Next() {
		transaction := &models.Transaction{}
		var relatedID sql.NullString
		var metadataJSON []byte

		err := rows.Scan(
			&transaction.ID, &transaction.UserID, &transaction.Type,
			&transaction.Amount, &transaction.BalanceAfter, &transaction.Description,
			&relatedID, &metadataJSON, &transaction.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		if relatedID.Valid {
			transaction.RelatedID = &relatedID.String
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &transaction.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		transactions = append(transactions, transaction)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}

	return transactions, nil
}

// Payment operations

// CreatePayment inserts a payment row
func (s *PostgresStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	metadataJSON, err := json.Marshal(payment.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO payments (id, user_id, amount, currency, status, provider, provider_transaction_id,
		                      metadata, created_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = s.db.Exec(ctx, query,
		payment.ID, payment.UserID, payment.Amount, payment.Currency,
		payment.Status, payment.Provider, payment.ProviderTransactionID,
		metadataJSON, payment.CreatedAt, payment.CompletedAt, payment.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return models.ErrDuplicatePayment
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}

	s.logger.Info("Payment created",
		zap.String("payment_id", payment.ID.String()),
		zap.String("user_id", payment.UserID),
		zap.String("status", string(payment.Status)),
	)

	return nil
}

// GetPaymentByProviderTransactionID looks up a payment by idempotency key
func (s *PostgresStore) GetPaymentByProviderTransactionID(ctx context.Context, providerTxID string) (*models.Payment, error) {
	query := `
		SELECT id, user_id, amount, currency, status, provider, provider_transaction_id,
		       metadata, created_at, completed_at, updated_at
		FROM payments WHERE provider_transaction_id = $1
	`

	payment := &models.Payment{}
	var metadataJSON []byte
	var completedAt sql.NullTime

	err := s.db.QueryRow(ctx, query, providerTxID).Scan(
		&payment.ID, &payment.UserID, &payment.Amount, &payment.Currency,
		&payment.Status, &payment.Provider, &payment.ProviderTransactionID,
		&metadataJSON, &payment.CreatedAt, &completedAt, &payment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	if completedAt.Valid {
		payment.CompletedAt = &completedAt.Time
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &payment.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return payment, nil
}

// CompletePayment transitions a payment pending -> completed. The
// conditional WHERE makes the transition happen at most once.
func (s *PostgresStore) CompletePayment(ctx context.Context, paymentID uuid.UUID, metadata map[string]interface{}) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	now := time.Now().UTC()
	query := `
		UPDATE payments
		SET status = $2, completed_at = $3, updated_at = $3, metadata = $4
		WHERE id = $1 AND status = $5
	`

	result, err := s.db.Exec(ctx, query, paymentID, models.PaymentStatusCompleted, now, metadataJSON, models.PaymentStatusPending)
	if err != nil {
		return fmt.Errorf("failed to complete payment: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, lookupErr := s.getPaymentStatus(ctx, paymentID); lookupErr != nil {
			return lookupErr
		}
		return models.ErrPaymentAlreadyCompleted
	}

	return nil
}

// FailPayment transitions a payment pending -> failed
func (s *PostgresStore) FailPayment(ctx context.Context, paymentID uuid.UUID) error {
	now := time.Now().UTC()
	query := `
		UPDATE payments
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`

	result, err := s.db.Exec(ctx, query, paymentID, models.PaymentStatusFailed, now, models.PaymentStatusPending)
	if err != nil {
		return fmt.Errorf("failed to fail payment: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, lookupErr := s.getPaymentStatus(ctx, paymentID); lookupErr != nil {
			return lookupErr
		}
		return models.ErrPaymentAlreadyCompleted
	}

	return nil
}

func (s *PostgresStore) getPaymentStatus(ctx context.Context, paymentID uuid.UUID) (models.PaymentStatus, error) {
	var status models.PaymentStatus
	err := s.db.QueryRow(ctx, `SELECT status FROM payments WHERE id = $1`, paymentID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", models.ErrPaymentNotFound
		}
		return "", fmt.Errorf("failed to get payment status: %w", err)
	}
	return status, nil
}

// Usage operations

// CreateRewrite inserts a usage record
func (s *PostgresStore) CreateRewrite(ctx context.Context, rewrite *models.Rewrite) error {
	metadataJSON, err := json.Marshal(rewrite.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO rewrites (id, user_id, input_length, output_length, tokens_used,
		                      price_per_token, total_cost, status, model, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = s.db.Exec(ctx, query,
		rewrite.ID, rewrite.UserID, rewrite.InputLength, rewrite.OutputLength,
		rewrite.TokensUsed, rewrite.PricePerToken, rewrite.TotalCost,
		rewrite.Status, rewrite.Model, metadataJSON, rewrite.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create rewrite record: %w", err)
	}

	return nil
}

var _ Store = (*PostgresStore)(nil)
