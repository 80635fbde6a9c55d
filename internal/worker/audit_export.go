package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-consult/backend/internal/events"
	"github.com/aura-consult/backend/internal/models"
	"github.com/aura-consult/backend/pkg/queue"
	"github.com/aura-consult/backend/pkg/storage"
)

const exportContentType = "application/x-ndjson"

// AuditExportProcessor exports billing events to S3 as JSONL, one object per
// session or per UTC day.
type AuditExportProcessor struct {
	events *events.Repository
	s3     *storage.S3
	logger *zap.Logger
}

// NewAuditExportProcessor creates an audit export processor.
func NewAuditExportProcessor(evRepo *events.Repository, s3 *storage.S3, logger *zap.Logger) *AuditExportProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditExportProcessor{events: evRepo, s3: s3, logger: logger}
}

// Process executes one audit export job.
func (p *AuditExportProcessor) Process(ctx context.Context, job *queue.Job) error {
	var payload queue.AuditExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	var (
		evs []models.BillingEvent
		key string
		err error
	)
	switch {
	case payload.SessionID != uuid.Nil:
		evs, err = p.events.ListBySession(ctx, payload.SessionID)
		key = storage.SessionExportKey(payload.SessionID.String())
	case payload.Day != "":
		var day time.Time
		day, err = time.Parse("2006-01-02", payload.Day)
		if err != nil {
			return fmt.Errorf("parse day %q: %w", payload.Day, err)
		}
		evs, err = p.events.ListByDay(ctx, day)
		key = storage.DayExportKey(payload.Day)
	default:
		return fmt.Errorf("audit export job %s has neither session nor day", job.ID)
	}
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	if len(evs) == 0 {
		p.logger.Info("no events to export", zap.String("job_id", job.ID))
		return nil
	}

	body, err := encodeJSONL(evs)
	if err != nil {
		return err
	}

	url, err := p.s3.Upload(ctx, p.s3.AuditBucket(), key, exportContentType, body)
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	p.logger.Info("audit export completed",
		zap.String("job_id", job.ID),
		zap.String("s3_key", key),
		zap.Int("events", len(evs)),
		zap.String("url", url))
	return nil
}

func encodeJSONL(evs []models.BillingEvent) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range evs {
		if err := enc.Encode(ev); err != nil {
			return nil, fmt.Errorf("encode event %d: %w", ev.Seq, err)
		}
	}
	return &buf, nil
}
