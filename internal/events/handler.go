package events

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-consult/backend/pkg/queue"
	"github.com/aura-consult/backend/pkg/response"
	"github.com/aura-consult/backend/pkg/storage"
)

// Enqueuer enqueues audit export jobs for the background worker.
type Enqueuer interface {
	EnqueueAuditExport(ctx context.Context, payload queue.AuditExportPayload) error
}

// Handler exposes the audit trail over HTTP.
type Handler struct {
	store  Store
	jobs   Enqueuer
	s3     *storage.S3
	logger *zap.Logger
}

// NewHandler creates an audit handler. s3 may be nil when exports are disabled.
func NewHandler(store Store, jobs Enqueuer, s3 *storage.S3, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, jobs: jobs, s3: s3, logger: logger}
}

// ListBySession handles GET /sessions/:id/events.
func (h *Handler) ListBySession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	evs, err := h.store.ListBySession(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("list events", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to list events")
		return
	}
	response.OK(c, evs)
}

// Replay handles GET /sessions/:id/replay (admin): the session state as
// reconstructed purely from the event log, for audit verification against the
// stored snapshot.
func (h *Handler) Replay(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	evs, err := h.store.ListBySession(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("list events", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to list events")
		return
	}
	sess, err := ReplaySession(evs)
	if err != nil {
		if errors.Is(err, ErrNoStartEvent) {
			response.NotFound(c, "no event log for session")
			return
		}
		h.logger.Error("replay session", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to replay session")
		return
	}
	response.OK(c, sess)
}

// ExportSession handles POST /sessions/:id/events/export (admin).
func (h *Handler) ExportSession(c *gin.Context) {
	if h.s3 == nil {
		response.BadRequest(c, "audit exports are not configured")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if err := h.jobs.EnqueueAuditExport(c.Request.Context(), queue.AuditExportPayload{SessionID: id}); err != nil {
		h.logger.Error("enqueue audit export", zap.Error(err))
		response.Internal(c, "failed to enqueue export")
		return
	}
	response.Accepted(c, gin.H{"session_id": id, "key": storage.SessionExportKey(id.String())})
}

// ExportDay handles POST /audit/exports/:day (admin), day formatted YYYY-MM-DD.
func (h *Handler) ExportDay(c *gin.Context) {
	if h.s3 == nil {
		response.BadRequest(c, "audit exports are not configured")
		return
	}
	day := c.Param("day")
	if _, err := time.Parse("2006-01-02", day); err != nil {
		response.BadRequest(c, "invalid day, expected YYYY-MM-DD")
		return
	}
	if err := h.jobs.EnqueueAuditExport(c.Request.Context(), queue.AuditExportPayload{Day: day}); err != nil {
		h.logger.Error("enqueue audit export", zap.Error(err))
		response.Internal(c, "failed to enqueue export")
		return
	}
	response.Accepted(c, gin.H{"day": day, "key": storage.DayExportKey(day)})
}

// DownloadExport handles GET /audit/exports/:day/download-url (admin).
func (h *Handler) DownloadExport(c *gin.Context) {
	if h.s3 == nil {
		response.BadRequest(c, "audit exports are not configured")
		return
	}
	day := c.Param("day")
	if _, err := time.Parse("2006-01-02", day); err != nil {
		response.BadRequest(c, "invalid day, expected YYYY-MM-DD")
		return
	}
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), h.s3.AuditBucket(), storage.DayExportKey(day), h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign export download", zap.Error(err))
		response.Internal(c, "failed to presign download")
		return
	}
	response.OK(c, gin.H{"url": url})
}
