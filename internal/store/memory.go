package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/masqify/billing-service/internal/models"
)

// MemoryStore is an in-memory Store used by tests. It mirrors the
// serialization guarantees of the Postgres store: funds operations for
// one user run under that user's lock, different users do not contend.
type MemoryStore struct {
	mu        sync.Mutex
	balances  map[string]*models.Balance
	ledger    map[string][]*models.Transaction
	payments  map[uuid.UUID]*models.Payment
	byTxID    map[string]uuid.UUID
	rewrites  map[uuid.UUID]*models.Rewrite
	userLocks map[string]*sync.Mutex
	seq       int64
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:  make(map[string]*models.Balance),
		ledger:    make(map[string][]*models.Transaction),
		payments:  make(map[uuid.UUID]*models.Payment),
		byTxID:    make(map[string]uuid.UUID),
		rewrites:  make(map[uuid.UUID]*models.Rewrite),
		userLocks: make(map[string]*sync.Mutex),
	}
}

// Initialize is a no-op for the in-memory store.
func (s *MemoryStore) Initialize(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[userID] = lock
	}
	return lock
}

// GetOrCreateBalance returns the user's balance row, creating it at zero if absent.
func (s *MemoryStore) GetOrCreateBalance(ctx context.Context, userID string) (*models.Balance, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureBalanceLocked(userID), nil
}

// ensureBalanceLocked requires s.mu to be held.
func (s *MemoryStore) ensureBalanceLocked(userID string) *models.Balance {
	balance, ok := s.balances[userID]
	if !ok {
		now := time.Now().UTC()
		balance = &models.Balance{
			UserID:           userID,
			BalanceUpdatedAt: now,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		s.balances[userID] = balance
	}
	copied := *balance
	return &copied
}

// ApplyTransaction appends a ledger row and updates the balance under
// the user's lock.
func (s *MemoryStore) ApplyTransaction(ctx context.Context, req *models.LedgerAppendRequest) (*models.Transaction, error) {
	lock := s.userLock(req.UserID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.ensureBalanceLocked(req.UserID)

	amount := req.Amount.Round(models.MoneyScale)
	newBalance := current.Balance.Add(amount)
	if newBalance.IsNegative() {
		return nil, models.ErrInsufficientBalance
	}

	now := time.Now().UTC()
	s.seq++
	transaction := &models.Transaction{
		ID:           uuid.New(),
		UserID:       req.UserID,
		Type:         req.Type,
		Amount:       amount,
		BalanceAfter: newBalance,
		Description:  req.Description,
		RelatedID:    req.RelatedID,
		Metadata:     req.Metadata,
		// Monotonic per-store timestamps keep createdAt a usable
		// ordering key even when operations land in the same tick.
		CreatedAt: now.Add(time.Duration(s.seq) * time.Nanosecond),
	}

	s.ledger[req.UserID] = append(s.ledger[req.UserID], transaction)

	stored := s.balances[req.UserID]
	stored.Balance = newBalance
	stored.BalanceUpdatedAt = now
	stored.UpdatedAt = now

	return transaction, nil
}

// ListTransactions returns a page of the user's ledger newest first.
func (s *MemoryStore) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*models.Transaction, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := append([]*models.Transaction(nil), s.ledger[userID]...)
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// ListLedgerAscending returns the user's full ledger oldest first.
func (s *MemoryStore) ListLedgerAscending(ctx context.Context, userID string) ([]*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := append([]*models.Transaction(nil), s.ledger[userID]...)
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all, nil
}

// CreatePayment inserts a payment row
func (s *MemoryStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byTxID[payment.ProviderTransactionID]; exists {
		return models.ErrDuplicatePayment
	}

	copied := *payment
	s.payments[payment.ID] = &copied
	s.byTxID[payment.ProviderTransactionID] = payment.ID
	return nil
}

// GetPaymentByProviderTransactionID looks up a payment by idempotency key
func (s *MemoryStore) GetPaymentByProviderTransactionID(ctx context.Context, providerTxID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byTxID[providerTxID]
	if !ok {
		return nil, models.ErrPaymentNotFound
	}
	copied := *s.payments[id]
	return &copied, nil
}

// CompletePayment transitions a payment pending -> completed
func (s *MemoryStore) CompletePayment(ctx context.Context, paymentID uuid.UUID, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return models.ErrPaymentNotFound
	}
	if payment.Status != models.PaymentStatusPending {
		return models.ErrPaymentAlreadyCompleted
	}

	now := time.Now().UTC()
	payment.Status = models.PaymentStatusCompleted
	payment.CompletedAt = &now
	payment.UpdatedAt = now
	if metadata != nil {
		payment.Metadata = metadata
	}
	return nil
}

// FailPayment transitions a payment pending -> failed
func (s *MemoryStore) FailPayment(ctx context.Context, paymentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return models.ErrPaymentNotFound
	}
	if payment.Status != models.PaymentStatusPending {
		return models.ErrPaymentAlreadyCompleted
	}

	payment.Status = models.PaymentStatusFailed
	payment.UpdatedAt = time.Now().UTC()
	return nil
}

// OverrideBalance force-sets a user's cached balance without touching
// the ledger. Test hook for reconciliation scenarios.
func (s *MemoryStore) OverrideBalance(userID string, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.ensureBalanceLocked(userID)
	stored.Balance = balance
	s.balances[userID] = stored
}

// CreateRewrite inserts a usage record
func (s *MemoryStore) CreateRewrite(ctx context.Context, rewrite *models.Rewrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *rewrite
	s.rewrites[rewrite.ID] = &copied
	return nil
}

var _ Store = (*MemoryStore)(nil)
