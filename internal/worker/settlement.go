package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aura-consult/backend/internal/models"
	"github.com/aura-consult/backend/internal/settlement"
	"github.com/aura-consult/backend/internal/wallet"
	"github.com/aura-consult/backend/pkg/queue"
)

// SettlementProcessor debits client wallets for finished sessions and records
// the outcome. An insufficient balance is a final outcome, not a retryable
// error: the settlement row is marked failed and the job is done.
type SettlementProcessor struct {
	wallets     *wallet.Service
	settlements *settlement.Repository
	currency    string
	logger      *zap.Logger
}

// NewSettlementProcessor creates a settlement processor.
func NewSettlementProcessor(wallets *wallet.Service, settlements *settlement.Repository, currency string, logger *zap.Logger) *SettlementProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettlementProcessor{wallets: wallets, settlements: settlements, currency: currency, logger: logger}
}

// Process executes one settlement job. Re-delivery of an already completed
// settlement is a no-op.
func (p *SettlementProcessor) Process(ctx context.Context, job *queue.Job) error {
	var payload queue.SettlementPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	existing, err := p.settlements.GetBySession(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("load settlement: %w", err)
	}
	if existing != nil && existing.Status == models.SettlementCompleted {
		p.logger.Info("settlement already completed", zap.String("session_id", payload.SessionID.String()))
		return nil
	}

	row := &models.Settlement{
		SessionID:       payload.SessionID,
		ClientID:        payload.ClientID,
		OperatorID:      payload.OperatorID,
		Amount:          payload.Amount,
		OperatorEarning: payload.OperatorEarning,
		PlatformFee:     payload.PlatformFee,
		Currency:        p.currency,
	}

	if payload.Amount.Sign() <= 0 {
		row.Status = models.SettlementCompleted
		_, err = p.settlements.Upsert(ctx, row)
		return err
	}

	debitErr := p.wallets.Debit(ctx, payload.ClientID, payload.Amount)
	switch {
	case debitErr == nil:
		row.Status = models.SettlementCompleted
	case errors.Is(debitErr, wallet.ErrInsufficientBalance):
		row.Status = models.SettlementFailed
		row.FailureReason = debitErr.Error()
		p.logger.Warn("settlement failed, insufficient balance",
			zap.String("session_id", payload.SessionID.String()),
			zap.String("client_id", payload.ClientID.String()),
			zap.String("amount", payload.Amount.String()))
	default:
		return fmt.Errorf("wallet debit: %w", debitErr)
	}

	if _, err := p.settlements.Upsert(ctx, row); err != nil {
		p.logger.Error("record settlement failed", zap.Error(err), zap.String("session_id", payload.SessionID.String()))
		return fmt.Errorf("record settlement: %w", err)
	}

	p.logger.Info("settlement processed",
		zap.String("session_id", payload.SessionID.String()),
		zap.String("status", row.Status),
		zap.String("amount", payload.Amount.String()))
	return nil
}
