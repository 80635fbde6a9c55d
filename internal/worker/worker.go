// Package worker runs the background job loop: wallet settlements for finished
// sessions and audit exports to S3.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-consult/backend/pkg/queue"
)

// Worker dequeues jobs and dispatches them by type.
type Worker struct {
	queue      *queue.Queue
	settlement *SettlementProcessor
	audit      *AuditExportProcessor
	logger     *zap.Logger
}

// New creates a worker. audit may be nil when S3 is not configured; audit
// export jobs are then dropped with a warning.
func New(q *queue.Queue, settlement *SettlementProcessor, audit *AuditExportProcessor, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: q, settlement: settlement, audit: audit, logger: logger}
}

func (w *Worker) process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeSettlement:
		return w.settlement.Process(ctx, job)
	case queue.JobTypeAuditExport:
		if w.audit == nil {
			w.logger.Warn("audit export job dropped, S3 not configured", zap.String("job_id", job.ID))
			return nil
		}
		return w.audit.Process(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// Run starts the worker loop: dequeue, process, retry on error. Blocks until
// ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		default:
		}

		job, key, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopping")
				return
			}
			w.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		w.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := w.process(ctx, job); err != nil {
			w.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := w.queue.Retry(ctx, job, key); reErr != nil {
				w.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
