package commission

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aura-consult/backend/internal/models"
)

// Repository handles commission_rules persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a commission rules repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetActiveByOperator returns the operator's active rule, or nil when none exists.
func (r *Repository) GetActiveByOperator(ctx context.Context, operatorID uuid.UUID) (*models.CommissionRule, error) {
	const q = `SELECT id, operator_id, base_commission_percent, tiers, activated_at, active, created_at, updated_at
		FROM commission_rules WHERE operator_id = $1 AND active ORDER BY activated_at DESC LIMIT 1`
	rule, err := scanRule(r.pool.QueryRow(ctx, q, operatorID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
}

// Create inserts a new rule for an operator, deactivating any previous active rule.
func (r *Repository) Create(ctx context.Context, operatorID uuid.UUID, basePercent decimal.Decimal, tiers []models.CommissionTier) (*models.CommissionRule, error) {
	tiersJSON, err := json.Marshal(tiers)
	if err != nil {
		return nil, fmt.Errorf("marshal tiers: %w", err)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE commission_rules SET active = FALSE, updated_at = NOW() WHERE operator_id = $1 AND active`,
		operatorID); err != nil {
		return nil, err
	}
	const q = `INSERT INTO commission_rules (id, operator_id, base_commission_percent, tiers, activated_at, active)
		VALUES (gen_random_uuid(), $1, $2, $3, NOW(), TRUE)
		RETURNING id, operator_id, base_commission_percent, tiers, activated_at, active, created_at, updated_at`
	rule, err := scanRule(tx.QueryRow(ctx, q, operatorID, basePercent, tiersJSON))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return rule, nil
}

// SetActive toggles a rule's active flag.
func (r *Repository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE commission_rules SET active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	return err
}

// ListByOperator returns all rules for an operator, newest first.
func (r *Repository) ListByOperator(ctx context.Context, operatorID uuid.UUID) ([]models.CommissionRule, error) {
	const q = `SELECT id, operator_id, base_commission_percent, tiers, activated_at, active, created_at, updated_at
		FROM commission_rules WHERE operator_id = $1 ORDER BY activated_at DESC`
	rows, err := r.pool.Query(ctx, q, operatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.CommissionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*models.CommissionRule, error) {
	var rule models.CommissionRule
	var tiersJSON []byte
	if err := row.Scan(&rule.ID, &rule.OperatorID, &rule.BaseCommissionPercent, &tiersJSON,
		&rule.ActivatedAt, &rule.Active, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return nil, err
	}
	if len(tiersJSON) > 0 {
		if err := json.Unmarshal(tiersJSON, &rule.Tiers); err != nil {
			return nil, fmt.Errorf("decode tiers: %w", err)
		}
	}
	return &rule, nil
}
