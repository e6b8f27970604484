package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/masqify/billing-service/internal/models"
	"github.com/masqify/billing-service/internal/service"
	"github.com/masqify/billing-service/internal/store"
)

// Event types emitted by the payment provider.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventAsyncPaymentFailed    = "checkout.session.async_payment_failed"
)

// Config represents webhook processor configuration
type Config struct {
	// Shared secret for HMAC signature verification
	Secret string `yaml:"secret"`
	// Provider name recorded on payments (e.g. "stripe")
	Provider string `yaml:"provider"`
	// Maximum accepted age of a signed notification
	Tolerance time.Duration `yaml:"tolerance"`
}

// Result reports what the processor did with a notification.
type Result struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	PaymentID string `json:"payment_id,omitempty"`
}

// Processor consumes signed payment-completion notifications. It
// verifies authenticity, enforces idempotency by provider transaction
// id, and credits the user's balance through the funds service.
type Processor struct {
	store  store.Store
	funds  *service.FundsService
	config *Config
	logger *zap.Logger
	now    func() time.Time
}

// NewProcessor creates a new webhook processor
func NewProcessor(store store.Store, funds *service.FundsService, config *Config, logger *zap.Logger) *Processor {
	if config.Provider == "" {
		config.Provider = "stripe"
	}
	if config.Tolerance <= 0 {
		config.Tolerance = 5 * time.Minute
	}

	return &Processor{
		store:  store,
		funds:  funds,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Process handles one delivery. The signature header has the form
// "t=<unix>,v1=<hex hmac-sha256 over '<unix>.<body>'>". Redeliveries
// of an already-applied provider transaction id are acknowledged as
// no-ops, so at-least-once delivery credits at most once.
func (p *Processor) Process(ctx context.Context, body []byte, signatureHeader string) (*Result, error) {
	if err := p.verifySignature(body, signatureHeader); err != nil {
		return nil, err
	}

	var event models.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, models.NewBillingError(models.ErrCodeMalformedPayload,
			"Malformed webhook payload", models.ErrMalformedPayload)
	}

	switch event.Type {
	case EventCheckoutCompleted, EventAsyncPaymentSucceeded:
		return p.processCompleted(ctx, &event)
	case EventAsyncPaymentFailed:
		return p.processFailed(ctx, &event)
	default:
		// Unknown event types are acknowledged so the provider does
		// not retry them.
		p.logger.Debug("Ignoring unhandled webhook event type", zap.String("type", event.Type))
		return &Result{Received: true}, nil
	}
}

func (p *Processor) processCompleted(ctx context.Context, event *models.WebhookEvent) (*Result, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}

	// Idempotency: a payment row for this provider transaction id
	// means the notification was already applied.
	existing, err := p.store.GetPaymentByProviderTransactionID(ctx, event.ID)
	if err != nil && !errors.Is(err, models.ErrPaymentNotFound) {
		return nil, fmt.Errorf("failed to check for existing payment: %w", err)
	}
	if existing != nil {
		p.logger.Info("Duplicate webhook delivery acknowledged",
			zap.String("provider_transaction_id", event.ID),
			zap.String("payment_id", existing.ID.String()),
		)
		return &Result{Received: true, Duplicate: true, PaymentID: existing.ID.String()}, nil
	}

	now := p.now().UTC()
	payment := &models.Payment{
		ID:                    uuid.New(),
		UserID:                event.Data.UserID,
		Amount:                event.Data.Amount.Round(models.MoneyScale),
		Currency:              currencyOrDefault(event.Data.Currency, p.funds.Currency()),
		Status:                models.PaymentStatusPending,
		Provider:              p.config.Provider,
		ProviderTransactionID: event.ID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := p.store.CreatePayment(ctx, payment); err != nil {
		if errors.Is(err, models.ErrDuplicatePayment) {
			// Lost a race with a concurrent delivery of the same id.
			return &Result{Received: true, Duplicate: true}, nil
		}
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	metadata := map[string]interface{}{
		"event_type":              event.Type,
		"provider_transaction_id": event.ID,
	}

	if err := p.store.CompletePayment(ctx, payment.ID, metadata); err != nil {
		if errors.Is(err, models.ErrPaymentAlreadyCompleted) {
			return &Result{Received: true, Duplicate: true, PaymentID: payment.ID.String()}, nil
		}
		return nil, fmt.Errorf("failed to complete payment: %w", err)
	}

	if _, err := p.funds.Credit(ctx, payment.UserID, payment.Amount, payment.ID.String(), metadata); err != nil {
		// The payment is marked completed but the balance was never
		// credited. This must reach an operator, not just the caller.
		p.logger.Error("Ledger inconsistency: payment completed without credit",
			zap.String("code", models.ErrCodeLedgerInconsistency),
			zap.String("payment_id", payment.ID.String()),
			zap.String("user_id", payment.UserID),
			zap.String("provider_transaction_id", event.ID),
			zap.Error(err),
		)
		return nil, models.NewLedgerInconsistencyError(payment.UserID, err).
			WithDetail("payment_id", payment.ID.String())
	}

	p.logger.Info("Payment credited",
		zap.String("payment_id", payment.ID.String()),
		zap.String("user_id", payment.UserID),
		zap.String("provider_transaction_id", event.ID),
	)

	return &Result{Received: true, PaymentID: payment.ID.String()}, nil
}

func (p *Processor) processFailed(ctx context.Context, event *models.WebhookEvent) (*Result, error) {
	existing, err := p.store.GetPaymentByProviderTransactionID(ctx, event.ID)
	if err != nil {
		if errors.Is(err, models.ErrPaymentNotFound) {
			// Nothing was ever recorded for this checkout; ack.
			return &Result{Received: true}, nil
		}
		return nil, fmt.Errorf("failed to look up payment: %w", err)
	}

	if err := p.store.FailPayment(ctx, existing.ID); err != nil {
		if errors.Is(err, models.ErrPaymentAlreadyCompleted) {
			return &Result{Received: true, Duplicate: true, PaymentID: existing.ID.String()}, nil
		}
		return nil, fmt.Errorf("failed to mark payment failed: %w", err)
	}

	p.logger.Info("Payment marked failed",
		zap.String("payment_id", existing.ID.String()),
		zap.String("provider_transaction_id", event.ID),
	)

	return &Result{Received: true, PaymentID: existing.ID.String()}, nil
}

// verifySignature checks the HMAC-SHA256 signature over
// "<timestamp>.<body>" against every v1 candidate in the header.
func (p *Processor) verifySignature(body []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return invalidSignature()
	}

	var timestamp string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			candidates = append(candidates, value)
		}
	}

	if timestamp == "" || len(candidates) == 0 {
		return invalidSignature()
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return invalidSignature()
	}

	age := p.now().Sub(time.Unix(ts, 0))
	if age > p.config.Tolerance || age < -p.config.Tolerance {
		return invalidSignature()
	}

	mac := hmac.New(sha256.New, []byte(p.config.Secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, candidate := range candidates {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}

	return invalidSignature()
}

func validateEvent(event *models.WebhookEvent) error {
	if event.ID == "" {
		return malformedPayload("id", "provider transaction id is required")
	}
	if event.Data.UserID == "" {
		return malformedPayload("user_id", "user id is required")
	}
	if !event.Data.Amount.IsPositive() {
		return malformedPayload("amount", "amount must be positive")
	}
	return nil
}

func invalidSignature() error {
	return models.NewBillingError(models.ErrCodeInvalidSignature,
		"Webhook signature verification failed", models.ErrInvalidSignature)
}

func malformedPayload(field, message string) error {
	return models.NewBillingError(models.ErrCodeMalformedPayload,
		"Malformed webhook payload", models.ErrMalformedPayload).
		WithDetail("field", field).
		WithDetail("message", message)
}

func currencyOrDefault(currency, fallback string) string {
	if currency == "" {
		return fallback
	}
	return strings.ToUpper(currency)
}
