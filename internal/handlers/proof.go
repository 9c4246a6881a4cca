// internal/handlers/proof.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/revshare-backend/internal/i18n"
	"github.com/javajoker/revshare-backend/internal/services"
	"github.com/javajoker/revshare-backend/internal/utils"
)

type ProofHandler struct {
	proofService *services.ProofService
}

func NewProofHandler(proofService *services.ProofService) *ProofHandler {
	return &ProofHandler{
		proofService: proofService,
	}
}

// POST /v1/proofs
func (h *ProofHandler) BuildProof(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.BuildProofRequest
	if !bindJSON(c, &req) {
		return
	}

	view, err := h.proofService.BuildProof(c.Request.Context(), &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyProofCreated),
		"proof":   view,
	})
}

// GET /v1/proofs/:id
func (h *ProofHandler) GetProof(c *gin.Context) {
	proofID, ok := pathID(c, "id")
	if !ok {
		return
	}

	view, err := h.proofService.GetProof(c.Request.Context(), proofID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, view)
}

// POST /v1/proofs/:id/signatures
func (h *ProofHandler) SignProof(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	proofID, ok := pathID(c, "id")
	if !ok {
		return
	}

	caller, ok := callerIdentity(c)
	if !ok {
		return
	}

	var req services.SignProofRequest
	if !bindJSON(c, &req) {
		return
	}

	view, err := h.proofService.SignProof(c.Request.Context(), caller, proofID, &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyProofSigned),
		"proof":   view,
	})
}

// GET /v1/proofs/:id/verify
func (h *ProofHandler) VerifyProof(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	proofID, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := h.proofService.VerifyProof(c.Request.Context(), proofID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	response := gin.H{"result": result}
	if result.Valid {
		response["message"] = i18n.T(lang, i18n.KeyProofVerified)
	}
	utils.SuccessResponse(c, response)
}
