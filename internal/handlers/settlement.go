// internal/handlers/settlement.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/revshare-backend/internal/i18n"
	"github.com/javajoker/revshare-backend/internal/services"
	"github.com/javajoker/revshare-backend/internal/utils"
)

type SettlementHandler struct {
	settlementService *services.SettlementService
}

func NewSettlementHandler(settlementService *services.SettlementService) *SettlementHandler {
	return &SettlementHandler{
		settlementService: settlementService,
	}
}

// GET /v1/settlements/:paymentIntentId
func (h *SettlementHandler) GetSettlement(c *gin.Context) {
	intentID, ok := pathID(c, "paymentIntentId")
	if !ok {
		return
	}

	settlement, err := h.settlementService.GetSettlement(c.Request.Context(), intentID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, settlement)
}

// POST /v1/settlements/:paymentIntentId/finalize retries a finalize that
// failed after the payment was confirmed. Safe to call repeatedly.
func (h *SettlementHandler) Finalize(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	intentID, ok := pathID(c, "paymentIntentId")
	if !ok {
		return
	}

	settlement, err := h.settlementService.Finalize(c.Request.Context(), intentID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":    i18n.T(lang, i18n.KeySettlementFinalized),
		"settlement": settlement,
	})
}

// GET /v1/me/payouts
func (h *SettlementHandler) ListPayouts(c *gin.Context) {
	caller, ok := callerIdentity(c)
	if !ok {
		return
	}
	params := utils.GetPaginationParams(c)

	lines, total, err := h.settlementService.ListRecipientLines(c.Request.Context(), caller, params)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(lines, total, params))
}
