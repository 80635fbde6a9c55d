package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-consult/backend/internal/models"
)

// Repository checkpoints timer_sessions in PostgreSQL so billing survives restarts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a timer sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `id, client_id, operator_id, start_time, end_time, rate_per_minute,
	status, ended_reason, paused_seconds, last_pause_time, duration_seconds,
	billed_minutes, total_cost, operator_earning, platform_fee, created_at, updated_at`

// Save upserts a session snapshot.
func (r *Repository) Save(ctx context.Context, s *models.TimerSession) error {
	const q = `INSERT INTO timer_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			status = EXCLUDED.status,
			ended_reason = EXCLUDED.ended_reason,
			paused_seconds = EXCLUDED.paused_seconds,
			last_pause_time = EXCLUDED.last_pause_time,
			duration_seconds = EXCLUDED.duration_seconds,
			billed_minutes = EXCLUDED.billed_minutes,
			total_cost = EXCLUDED.total_cost,
			operator_earning = EXCLUDED.operator_earning,
			platform_fee = EXCLUDED.platform_fee,
			updated_at = EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, q,
		s.ID, s.ClientID, s.OperatorID, s.StartTime, s.EndTime, s.RatePerMinute,
		string(s.Status), string(s.EndedReason), s.PausedSeconds, s.LastPauseTime,
		s.DurationSeconds, s.BilledMinutes, s.TotalCost, s.OperatorEarning,
		s.PlatformFee, s.CreatedAt, s.UpdatedAt)
	return err
}

// Get returns a session snapshot by id, or nil when not found.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.TimerSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM timer_sessions WHERE id = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// ListOpen returns all non-terminal sessions, for restart recovery.
func (r *Repository) ListOpen(ctx context.Context) ([]*models.TimerSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM timer_sessions
		WHERE status IN ('active', 'paused') ORDER BY start_time`
	return r.list(ctx, q)
}

// ListByClient returns a client's session history, newest first.
func (r *Repository) ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.TimerSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM timer_sessions
		WHERE client_id = $1 ORDER BY start_time DESC`
	return r.list(ctx, q, clientID)
}

// ListByOperator returns an operator's session history, newest first.
func (r *Repository) ListByOperator(ctx context.Context, operatorID uuid.UUID) ([]*models.TimerSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM timer_sessions
		WHERE operator_id = $1 ORDER BY start_time DESC`
	return r.list(ctx, q, operatorID)
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]*models.TimerSession, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.TimerSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.TimerSession, error) {
	var s models.TimerSession
	var status, reason string
	if err := row.Scan(&s.ID, &s.ClientID, &s.OperatorID, &s.StartTime, &s.EndTime,
		&s.RatePerMinute, &status, &reason, &s.PausedSeconds, &s.LastPauseTime,
		&s.DurationSeconds, &s.BilledMinutes, &s.TotalCost, &s.OperatorEarning,
		&s.PlatformFee, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	s.EndedReason = models.EndReason(reason)
	return &s, nil
}
