package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aura-consult/backend/internal/models"
)

// Repository handles wallets persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a wallets repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByClient returns a client's wallet, or nil when none exists.
func (r *Repository) GetByClient(ctx context.Context, clientID uuid.UUID) (*models.Wallet, error) {
	const q = `SELECT id, client_id, balance, currency, created_at, updated_at
		FROM wallets WHERE client_id = $1`
	var w models.Wallet
	err := r.pool.QueryRow(ctx, q, clientID).Scan(&w.ID, &w.ClientID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

// Credit adds to a client's balance, creating the wallet if needed.
func (r *Repository) Credit(ctx context.Context, clientID uuid.UUID, amount decimal.Decimal, currency string) (*models.Wallet, error) {
	const q = `INSERT INTO wallets (id, client_id, balance, currency)
		VALUES (gen_random_uuid(), $1, $2, $3)
		ON CONFLICT (client_id) DO UPDATE SET balance = wallets.balance + $2, updated_at = NOW()
		RETURNING id, client_id, balance, currency, created_at, updated_at`
	var w models.Wallet
	err := r.pool.QueryRow(ctx, q, clientID, amount, currency).Scan(&w.ID, &w.ClientID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Debit subtracts from a client's balance when funds suffice. Returns false
// without changing the balance when the wallet is missing or short.
func (r *Repository) Debit(ctx context.Context, clientID uuid.UUID, amount decimal.Decimal) (bool, error) {
	const q = `UPDATE wallets SET balance = balance - $1, updated_at = NOW()
		WHERE client_id = $2 AND balance >= $1`
	tag, err := r.pool.Exec(ctx, q, amount, clientID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
