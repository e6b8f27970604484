package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/masqify/billing-service/internal/models"
)

// Config represents event publisher configuration. An empty address
// disables publishing.
type Config struct {
	Address string `yaml:"address"`
	Subject string `yaml:"subject"`
}

// Connect establishes a NATS connection with reconnect handling.
func Connect(address string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(
		address,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(10*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", address, err)
	}

	logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// balanceChangeEvent is the wire shape published for each applied
// ledger transaction. Amounts are strings to keep fixed-point
// precision across consumers.
type balanceChangeEvent struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Type          string    `json:"type"`
	Amount        string    `json:"amount"`
	BalanceAfter  string    `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

// Publisher emits balance-change events for downstream consumers
// (notification emails, analytics). Publishing is fire-and-forget:
// a failed publish is logged, never surfaced to the funds operation.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewPublisher creates a publisher on an established connection.
func NewPublisher(nc *nats.Conn, subject string, logger *zap.Logger) *Publisher {
	if subject == "" {
		subject = "billing.balance.changed"
	}
	return &Publisher{
		nc:      nc,
		subject: subject,
		logger:  logger,
	}
}

// PublishBalanceChange publishes one applied ledger transaction.
func (p *Publisher) PublishBalanceChange(transaction *models.Transaction) {
	event := balanceChangeEvent{
		TransactionID: transaction.ID.String(),
		UserID:        transaction.UserID,
		Type:          string(transaction.Type),
		Amount:        transaction.Amount.StringFixed(models.MoneyScale),
		BalanceAfter:  transaction.BalanceAfter.StringFixed(models.MoneyScale),
		CreatedAt:     transaction.CreatedAt,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal balance change event", zap.Error(err))
		return
	}

	if err := p.nc.Publish(p.subject, payload); err != nil {
		p.logger.Warn("Failed to publish balance change event",
			zap.String("subject", p.subject),
			zap.Error(err),
		)
	}
}
