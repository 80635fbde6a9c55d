// Package settlement records the wallet debit outcome for finished sessions.
package settlement

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aura-consult/backend/internal/models"
)

// Repository handles settlements persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a settlements repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id, session_id, client_id, operator_id, amount, operator_earning,
	platform_fee, currency, status, failure_reason, created_at, updated_at`

// Upsert records a settlement attempt for a session. One settlement row per
// session; a retry after failure overwrites status and failure_reason.
func (r *Repository) Upsert(ctx context.Context, s *models.Settlement) (*models.Settlement, error) {
	const q = `INSERT INTO settlements
		(id, session_id, client_id, operator_id, amount, operator_earning, platform_fee, currency, status, failure_reason)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			failure_reason = EXCLUDED.failure_reason,
			updated_at = NOW()
		RETURNING ` + columns
	return scan(r.pool.QueryRow(ctx, q,
		s.SessionID, s.ClientID, s.OperatorID, s.Amount, s.OperatorEarning,
		s.PlatformFee, s.Currency, s.Status, s.FailureReason))
}

// GetBySession returns the settlement for a session, or nil when none exists.
func (r *Repository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*models.Settlement, error) {
	const q = `SELECT ` + columns + ` FROM settlements WHERE session_id = $1`
	s, err := scan(r.pool.QueryRow(ctx, q, sessionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// ListFailed returns failed settlements, oldest first, for reconciliation.
func (r *Repository) ListFailed(ctx context.Context) ([]models.Settlement, error) {
	const q = `SELECT ` + columns + ` FROM settlements WHERE status = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, models.SettlementFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Settlement
	for rows.Next() {
		s, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// OperatorTotals returns the settled earnings and platform fee sums for an operator.
func (r *Repository) OperatorTotals(ctx context.Context, operatorID uuid.UUID) (earnings, fees decimal.Decimal, err error) {
	const q = `SELECT COALESCE(SUM(operator_earning), 0), COALESCE(SUM(platform_fee), 0)
		FROM settlements WHERE operator_id = $1 AND status = $2`
	err = r.pool.QueryRow(ctx, q, operatorID, models.SettlementCompleted).Scan(&earnings, &fees)
	return earnings, fees, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scan(row rowScanner) (*models.Settlement, error) {
	var s models.Settlement
	if err := row.Scan(&s.ID, &s.SessionID, &s.ClientID, &s.OperatorID, &s.Amount,
		&s.OperatorEarning, &s.PlatformFee, &s.Currency, &s.Status, &s.FailureReason,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
