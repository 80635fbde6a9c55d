package wallet

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-consult/backend/pkg/response"
)

// Handler handles wallet HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a wallet handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// GetBalance handles GET /wallets/:clientId.
func (h *Handler) GetBalance(c *gin.Context) {
	clientID, err := uuid.Parse(c.Param("clientId"))
	if err != nil {
		response.BadRequest(c, "invalid client id")
		return
	}
	balance, err := h.svc.GetBalance(c.Request.Context(), clientID)
	if err != nil {
		h.logger.Error("get balance", zap.Error(err), zap.String("client_id", clientID.String()))
		response.Internal(c, "failed to read balance")
		return
	}
	response.OK(c, gin.H{"client_id": clientID, "balance": balance})
}

// CreditRequest is the body for POST /wallets/:clientId/credit.
type CreditRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// Credit handles POST /wallets/:clientId/credit (admin; top-up hook for the
// external payment flow).
func (h *Handler) Credit(c *gin.Context) {
	clientID, err := uuid.Parse(c.Param("clientId"))
	if err != nil {
		response.BadRequest(c, "invalid client id")
		return
	}
	var req CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		response.BadRequest(c, "amount must be a positive decimal")
		return
	}
	balance, err := h.svc.Credit(c.Request.Context(), clientID, amount)
	if err != nil {
		h.logger.Error("credit wallet", zap.Error(err), zap.String("client_id", clientID.String()))
		response.Internal(c, "failed to credit wallet")
		return
	}
	response.OK(c, gin.H{"client_id": clientID, "balance": balance})
}
