package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// QueueSettlements is the Redis list key for session settlement jobs.
	QueueSettlements = "worker:settlements"
	// QueueAuditExports is the Redis list key for audit export jobs.
	QueueAuditExports = "worker:audit_exports"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeSettlement  JobType = "settlement"
	JobTypeAuditExport JobType = "audit_export"
)

// SettlementPayload is the payload for session settlement jobs.
type SettlementPayload struct {
	SessionID       uuid.UUID       `json:"session_id"`
	ClientID        uuid.UUID       `json:"client_id"`
	OperatorID      uuid.UUID       `json:"operator_id"`
	Amount          decimal.Decimal `json:"amount"`
	OperatorEarning decimal.Decimal `json:"operator_earning"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	Reason          string          `json:"reason"`
}

// AuditExportPayload is the payload for audit export jobs.
// Exactly one of SessionID or Day is set: per-session export or a full day.
type AuditExportPayload struct {
	SessionID uuid.UUID `json:"session_id,omitempty"`
	Day       string    `json:"day,omitempty"` // YYYY-MM-DD
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueSettlement enqueues a session settlement job.
func (q *Queue) EnqueueSettlement(ctx context.Context, payload SettlementPayload) error {
	job, raw, err := newJob(JobTypeSettlement, payload)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, QueueSettlements, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued settlement job", zap.String("job_id", job.ID), zap.String("session_id", payload.SessionID.String()))
	return nil
}

// EnqueueAuditExport enqueues an audit export job.
func (q *Queue) EnqueueAuditExport(ctx context.Context, payload AuditExportPayload) error {
	job, raw, err := newJob(JobTypeAuditExport, payload)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, QueueAuditExports, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued audit export job", zap.String("job_id", job.ID))
	return nil
}

func newJob(t JobType, payload interface{}) (*Job, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal job: %w", err)
	}
	return &job, raw, nil
}

// Dequeue blocks until a job is available or ctx is done. Returns job and key (queue name).
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, 0, QueueSettlements, QueueAuditExports).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return &job, result[0], nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job, key string) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if key == "" {
		key = QueueSettlements
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
