// internal/handlers/clearance.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/revshare-backend/internal/i18n"
	"github.com/javajoker/revshare-backend/internal/services"
	"github.com/javajoker/revshare-backend/internal/utils"
)

type ClearanceHandler struct {
	clearanceService *services.ClearanceService
}

func NewClearanceHandler(clearanceService *services.ClearanceService) *ClearanceHandler {
	return &ClearanceHandler{
		clearanceService: clearanceService,
	}
}

// POST /v1/links/:id/clearance
func (h *ClearanceHandler) RequestClearance(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	caller, ok := callerIdentity(c)
	if !ok {
		return
	}
	linkID, ok := pathID(c, "id")
	if !ok {
		return
	}

	state, err := h.clearanceService.RequestClearance(c.Request.Context(), linkID, caller)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":   i18n.T(lang, i18n.KeyClearanceRequested),
		"clearance": state,
	})
}

// GET /v1/links/:id/clearance
func (h *ClearanceHandler) GetClearance(c *gin.Context) {
	linkID, ok := pathID(c, "id")
	if !ok {
		return
	}

	state, err := h.clearanceService.GetAuthorization(c.Request.Context(), linkID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, state)
}

// POST /v1/links/:id/votes
func (h *ClearanceHandler) CastVote(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	caller, ok := callerIdentity(c)
	if !ok {
		return
	}
	linkID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req services.CastVoteRequest
	if !bindJSON(c, &req) {
		return
	}
	req.LinkID = linkID
	req.Approver = caller

	state, err := h.clearanceService.CastVote(c.Request.Context(), &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":   i18n.T(lang, i18n.KeyVoteRecorded),
		"clearance": state,
	})
}
