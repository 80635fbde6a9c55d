// Package wallet exposes the client balance collaborator the billing engine
// reads from and the settlement path debits.
package wallet

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrInsufficientBalance is returned by Debit when the wallet cannot cover the amount.
var ErrInsufficientBalance = errors.New("insufficient wallet balance")

// Service wraps the repository with the interface the billing engine consumes.
type Service struct {
	repo     *Repository
	currency string
	logger   *zap.Logger
}

// NewService creates a wallet service.
func NewService(repo *Repository, currency string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, currency: currency, logger: logger}
}

// GetBalance returns a client's available balance. A missing wallet reads as zero.
func (s *Service) GetBalance(ctx context.Context, clientID uuid.UUID) (decimal.Decimal, error) {
	w, err := s.repo.GetByClient(ctx, clientID)
	if err != nil {
		return decimal.Zero, err
	}
	if w == nil {
		return decimal.Zero, nil
	}
	return w.Balance, nil
}

// Debit withdraws the amount from the client's wallet.
// Returns ErrInsufficientBalance when funds do not cover it.
func (s *Service) Debit(ctx context.Context, clientID uuid.UUID, amount decimal.Decimal) error {
	ok, err := s.repo.Debit(ctx, clientID, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInsufficientBalance
	}
	s.logger.Debug("wallet debited",
		zap.String("client_id", clientID.String()),
		zap.String("amount", amount.String()))
	return nil
}

// Credit tops up the client's wallet, creating it if needed.
func (s *Service) Credit(ctx context.Context, clientID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	w, err := s.repo.Credit(ctx, clientID, amount, s.currency)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}
