package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-consult/backend/internal/models"
)

const appendRetries = 5

// Repository persists billing events in PostgreSQL. Append-only: there are no
// update or delete statements in this package.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a billing events repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts an event, assigning the next sequence number for its session.
// Concurrent writers on the same session can compute the same seq; the losing
// insert trips the (session_id, seq) unique constraint and is retried with a
// freshly computed seq.
func (r *Repository) Append(ctx context.Context, ev models.BillingEvent) error {
	const q = `INSERT INTO billing_events (id, session_id, seq, ts, type, amount, payload)
		VALUES (gen_random_uuid(), $1,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM billing_events WHERE session_id = $1),
			$2, $3, $4, $5)`
	var err error
	for attempt := 0; attempt < appendRetries; attempt++ {
		_, err = r.pool.Exec(ctx, q, ev.SessionID, ev.Timestamp, string(ev.Type), ev.Amount, ev.Payload)
		if err == nil || !isUniqueViolation(err) {
			return err
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ListBySession returns a session's events ordered by Seq.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.BillingEvent, error) {
	const q = `SELECT id, session_id, seq, ts, type, amount, payload
		FROM billing_events WHERE session_id = $1 ORDER BY seq`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.BillingEvent
	for rows.Next() {
		var ev models.BillingEvent
		var typ string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Seq, &ev.Timestamp, &typ, &ev.Amount, &ev.Payload); err != nil {
			return nil, err
		}
		ev.Type = models.EventType(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListByDay returns all events with a timestamp inside the given UTC day, ordered
// by timestamp then session. Used by the daily audit export.
func (r *Repository) ListByDay(ctx context.Context, day time.Time) ([]models.BillingEvent, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	const q = `SELECT id, session_id, seq, ts, type, amount, payload
		FROM billing_events WHERE ts >= $1 AND ts < $2 ORDER BY ts, session_id, seq`
	rows, err := r.pool.Query(ctx, q, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.BillingEvent
	for rows.Next() {
		var ev models.BillingEvent
		var typ string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Seq, &ev.Timestamp, &typ, &ev.Amount, &ev.Payload); err != nil {
			return nil, err
		}
		ev.Type = models.EventType(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}
