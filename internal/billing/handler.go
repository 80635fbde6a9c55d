package billing

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-consult/backend/internal/middleware"
	"github.com/aura-consult/backend/internal/models"
	"github.com/aura-consult/backend/pkg/response"
)

// Handler handles session lifecycle HTTP endpoints.
type Handler struct {
	svc    *Service
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a billing handler. repo may be nil when history queries
// are not wired (memory-only deployments).
func NewHandler(svc *Service, repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, repo: repo, logger: logger}
}

// StartRequest is the body for POST /sessions.
type StartRequest struct {
	ClientID      string `json:"client_id" binding:"required"`
	OperatorID    string `json:"operator_id" binding:"required"`
	RatePerMinute string `json:"rate_per_minute" binding:"required"`
}

// Start handles POST /sessions.
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		response.BadRequest(c, "invalid client_id")
		return
	}
	operatorID, err := uuid.Parse(req.OperatorID)
	if err != nil {
		response.BadRequest(c, "invalid operator_id")
		return
	}
	rate, err := decimal.NewFromString(req.RatePerMinute)
	if err != nil {
		response.BadRequest(c, "invalid rate_per_minute")
		return
	}

	sess, err := h.svc.StartSession(c.Request.Context(), clientID, operatorID, rate)
	if err != nil {
		if errors.Is(err, ErrInvalidRate) {
			response.BadRequest(c, "rate_per_minute must be positive")
			return
		}
		h.logger.Error("start session", zap.Error(err))
		response.Internal(c, "failed to start session")
		return
	}
	response.Created(c, sess)
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	sess, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.Internal(c, "failed to load session")
		return
	}
	response.OK(c, sess)
}

// ListActive handles GET /sessions (admin).
func (h *Handler) ListActive(c *gin.Context) {
	response.OK(c, h.svc.ListActive())
}

// Pause handles POST /sessions/:id/pause.
func (h *Handler) Pause(c *gin.Context) {
	h.transition(c, h.svc.Pause)
}

// Resume handles POST /sessions/:id/resume.
func (h *Handler) Resume(c *gin.Context) {
	h.transition(c, h.svc.Resume)
}

// EndRequest is the body for POST /sessions/:id/end.
type EndRequest struct {
	Reason string `json:"reason"`
}

// End handles POST /sessions/:id/end. The reason defaults from the caller's
// role; only admins may pass an explicit reason code.
func (h *Handler) End(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req EndRequest
	_ = c.ShouldBindJSON(&req)

	role, _ := c.Get(middleware.ContextUserRole)
	reason := models.ReasonClientEnded
	switch role {
	case string(models.RoleOperator):
		reason = models.ReasonOperatorEnded
	case string(models.RoleAdmin):
		if req.Reason != "" {
			r := models.EndReason(req.Reason)
			if !r.Valid() {
				response.BadRequest(c, "invalid reason")
				return
			}
			reason = r
		}
	}

	sess, err := h.svc.End(c.Request.Context(), id, reason)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		h.logger.Error("end session", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to end session")
		return
	}
	response.OK(c, sess)
}

// ClientHistory handles GET /clients/:id/sessions.
func (h *Handler) ClientHistory(c *gin.Context) {
	h.history(c, h.repo.ListByClient)
}

// OperatorHistory handles GET /operators/:id/sessions.
func (h *Handler) OperatorHistory(c *gin.Context) {
	h.history(c, h.repo.ListByOperator)
}

func (h *Handler) transition(c *gin.Context, op func(ctx context.Context, id uuid.UUID) (*models.TimerSession, error)) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	sess, err := op(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			response.NotFound(c, "session not found")
		case errors.Is(err, ErrSessionTerminal):
			response.Conflict(c, "session already ended")
		default:
			h.logger.Error("session transition", zap.Error(err), zap.String("session_id", id.String()))
			response.Internal(c, "failed to update session")
		}
		return
	}
	response.OK(c, sess)
}

func (h *Handler) history(c *gin.Context, list func(ctx context.Context, id uuid.UUID) ([]*models.TimerSession, error)) {
	if h.repo == nil {
		response.OK(c, []*models.TimerSession{})
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid id")
		return
	}
	sessions, err := list(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("list session history", zap.Error(err))
		response.Internal(c, "failed to list sessions")
		return
	}
	response.OK(c, sessions)
}
