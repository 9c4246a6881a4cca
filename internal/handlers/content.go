// internal/handlers/content.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/revshare-backend/internal/i18n"
	"github.com/javajoker/revshare-backend/internal/services"
	"github.com/javajoker/revshare-backend/internal/utils"
)

type ContentHandler struct {
	splitService  *services.SplitService
	linkService   *services.LinkService
	anchorService *services.AnchorService
}

func NewContentHandler(splitService *services.SplitService, linkService *services.LinkService, anchorService *services.AnchorService) *ContentHandler {
	return &ContentHandler{
		splitService:  splitService,
		linkService:   linkService,
		anchorService: anchorService,
	}
}

// GET /v1/content
func (h *ContentHandler) ListContent(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	searchParams := services.ContentSearchParams{
		PaginationParams: params,
	}
	if ownerIDStr := c.Query("owner_id"); ownerIDStr != "" {
		if ownerID, err := uuid.Parse(ownerIDStr); err == nil {
			searchParams.OwnerID = &ownerID
		}
	}

	contents, total, err := h.splitService.ListContent(c.Request.Context(), searchParams)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(contents, total, params))
}

// POST /v1/content
func (h *ContentHandler) CreateContent(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	ownerID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req services.CreateContentRequest
	if !bindJSON(c, &req) {
		return
	}

	content, err := h.splitService.CreateContent(c.Request.Context(), ownerID, &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyContentCreated),
		"content": content,
	})
}

// GET /v1/content/:id
func (h *ContentHandler) GetContent(c *gin.Context) {
	contentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	content, err := h.splitService.GetContent(c.Request.Context(), contentID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, content)
}

// GET /v1/content/:id/splits returns the locked split buyers pay against.
func (h *ContentHandler) GetLockedSplit(c *gin.Context) {
	contentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	split, err := h.splitService.GetLockedSplit(c.Request.Context(), contentID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, split)
}

// POST /v1/content/:id/splits
func (h *ContentHandler) CreateSplitVersion(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	ownerID, ok := currentUserID(c)
	if !ok {
		return
	}
	contentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	version, err := h.splitService.CreateSplitVersion(c.Request.Context(), ownerID, contentID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeySplitVersionCreated),
		"split":   version,
	})
}

// GET /v1/splits/:id
func (h *ContentHandler) GetSplit(c *gin.Context) {
	versionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	version, err := h.splitService.GetSplitVersion(c.Request.Context(), versionID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, version)
}

// PUT /v1/splits/:id
func (h *ContentHandler) UpdateSplit(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	ownerID, ok := currentUserID(c)
	if !ok {
		return
	}
	versionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req services.UpdateSplitRequest
	if !bindJSON(c, &req) {
		return
	}

	version, err := h.splitService.UpdateDraftSplit(c.Request.Context(), ownerID, versionID, &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeySplitUpdated),
		"split":   version,
	})
}

// POST /v1/splits/:id/lock
func (h *ContentHandler) LockSplit(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	ownerID, ok := currentUserID(c)
	if !ok {
		return
	}
	versionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req services.LockSplitRequest
	if !bindJSON(c, &req) {
		return
	}

	version, err := h.splitService.LockSplit(c.Request.Context(), ownerID, versionID, &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeySplitLocked),
		"split":   version,
	})
}

// POST /v1/splits/:id/accept
func (h *ContentHandler) AcceptSplit(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	caller, ok := callerIdentity(c)
	if !ok {
		return
	}
	versionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	version, err := h.splitService.AcceptParticipation(c.Request.Context(), caller, versionID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeySplitAccepted),
		"split":   version,
	})
}

// GET /v1/splits/:id/verify
func (h *ContentHandler) VerifySplit(c *gin.Context) {
	versionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	intact, err := h.anchorService.VerifySplit(c.Request.Context(), versionID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"split_version_id": versionID,
		"intact":           intact,
	})
}

// POST /v1/content/:id/links registers :id as a derivative of another item.
func (h *ContentHandler) CreateLink(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	ownerID, ok := currentUserID(c)
	if !ok {
		return
	}
	childID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req services.CreateLinkRequest
	if !bindJSON(c, &req) {
		return
	}

	link, err := h.linkService.CreateLink(c.Request.Context(), ownerID, childID, &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyLinkCreated),
		"link":    link,
	})
}

// GET /v1/content/:id/links
func (h *ContentHandler) GetParentLinks(c *gin.Context) {
	contentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	links, err := h.linkService.GetParentLinks(c.Request.Context(), contentID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, links)
}
