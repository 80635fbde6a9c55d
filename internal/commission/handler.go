package commission

import (
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-consult/backend/internal/models"
	"github.com/aura-consult/backend/pkg/response"
)

// Handler handles commission rule administration and operator earnings queries.
type Handler struct {
	repo   *Repository
	engine *Engine
	logger *zap.Logger
}

// NewHandler creates a commission handler.
func NewHandler(repo *Repository, engine *Engine, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, engine: engine, logger: logger}
}

// TierRequest is one bonus tier in a rule create request.
type TierRequest struct {
	ConsultationsThreshold int64  `json:"consultations_threshold" binding:"required"`
	BonusPercent           string `json:"bonus_percent" binding:"required"`
}

// CreateRuleRequest is the body for POST /operators/:id/commission-rules.
type CreateRuleRequest struct {
	BaseCommissionPercent string        `json:"base_commission_percent" binding:"required"`
	Tiers                 []TierRequest `json:"tiers"`
}

// CreateRule handles POST /operators/:id/commission-rules (admin).
// A new rule replaces the operator's previous active rule.
func (h *Handler) CreateRule(c *gin.Context) {
	operatorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid operator id")
		return
	}
	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	base, err := decimal.NewFromString(req.BaseCommissionPercent)
	if err != nil || base.IsNegative() || base.GreaterThan(decimal.NewFromInt(100)) {
		response.BadRequest(c, "base_commission_percent must be between 0 and 100")
		return
	}
	tiers := make([]models.CommissionTier, 0, len(req.Tiers))
	for _, t := range req.Tiers {
		bonus, err := decimal.NewFromString(t.BonusPercent)
		if err != nil || bonus.IsNegative() {
			response.BadRequest(c, "bonus_percent must be a non-negative decimal")
			return
		}
		if t.ConsultationsThreshold <= 0 {
			response.BadRequest(c, "consultations_threshold must be positive")
			return
		}
		tiers = append(tiers, models.CommissionTier{
			ConsultationsThreshold: t.ConsultationsThreshold,
			BonusPercent:           bonus,
		})
	}
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].ConsultationsThreshold < tiers[j].ConsultationsThreshold
	})

	rule, err := h.repo.Create(c.Request.Context(), operatorID, base, tiers)
	if err != nil {
		h.logger.Error("create commission rule", zap.Error(err), zap.String("operator_id", operatorID.String()))
		response.Internal(c, "failed to create rule")
		return
	}
	response.Created(c, rule)
}

// ListRules handles GET /operators/:id/commission-rules (admin).
func (h *Handler) ListRules(c *gin.Context) {
	operatorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid operator id")
		return
	}
	rules, err := h.repo.ListByOperator(c.Request.Context(), operatorID)
	if err != nil {
		response.Internal(c, "failed to list rules")
		return
	}
	response.OK(c, rules)
}

// DeactivateRule handles PATCH /commission-rules/:id/deactivate (admin).
func (h *Handler) DeactivateRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid rule id")
		return
	}
	if err := h.repo.SetActive(c.Request.Context(), id, false); err != nil {
		response.Internal(c, "failed to deactivate rule")
		return
	}
	response.OK(c, gin.H{"id": id, "active": false})
}

// Earnings handles GET /operators/:id/earnings: the operator's running
// commission state (percent in force, period count, cumulative totals).
func (h *Handler) Earnings(c *gin.Context) {
	operatorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid operator id")
		return
	}
	response.OK(c, h.engine.Snapshot(c.Request.Context(), operatorID))
}
