package settlement

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-consult/backend/pkg/response"
)

// Handler exposes settlement reconciliation endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a settlement handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// GetBySession handles GET /sessions/:id/settlement.
func (h *Handler) GetBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.repo.GetBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("get settlement", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to load settlement")
		return
	}
	if s == nil {
		response.NotFound(c, "settlement not found")
		return
	}
	response.OK(c, s)
}

// ListFailed handles GET /settlements/failed (admin); the reconciliation queue
// for sessions whose wallet debit did not go through.
func (h *Handler) ListFailed(c *gin.Context) {
	list, err := h.repo.ListFailed(c.Request.Context())
	if err != nil {
		h.logger.Error("list failed settlements", zap.Error(err))
		response.Internal(c, "failed to list settlements")
		return
	}
	response.OK(c, list)
}

// OperatorTotals handles GET /operators/:id/settlement-totals (admin): settled
// earnings and platform fees, as opposed to the engine's running in-memory view.
func (h *Handler) OperatorTotals(c *gin.Context) {
	operatorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid operator id")
		return
	}
	earnings, fees, err := h.repo.OperatorTotals(c.Request.Context(), operatorID)
	if err != nil {
		h.logger.Error("operator settlement totals", zap.Error(err), zap.String("operator_id", operatorID.String()))
		response.Internal(c, "failed to compute totals")
		return
	}
	response.OK(c, gin.H{
		"operator_id":      operatorID,
		"settled_earnings": earnings,
		"platform_fees":    fees,
	})
}
