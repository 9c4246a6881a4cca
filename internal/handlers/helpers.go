// internal/handlers/helpers.go
package handlers

import (
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/revshare-backend/internal/i18n"
	"github.com/javajoker/revshare-backend/internal/services"
	"github.com/javajoker/revshare-backend/internal/utils"
)

// bindJSON decodes and validates the body, writing the error response itself.
func bindJSON(c *gin.Context, req interface{}) bool {
	lang := utils.GetLangFromContext(c)
	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDStr, exists := utils.GetUserIDFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid user ID", nil)
		return uuid.Nil, false
	}
	return userID, true
}

// optionalUserID is nil for anonymous callers.
func optionalUserID(c *gin.Context) *uuid.UUID {
	userIDStr, exists := utils.GetUserIDFromContext(c)
	if !exists {
		return nil
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil
	}
	return &userID
}

// callerIdentity is the authenticated account together with its email.
func callerIdentity(c *gin.Context) (services.ApproverIdentity, bool) {
	userID, ok := currentUserID(c)
	if !ok {
		return services.ApproverIdentity{}, false
	}
	return services.ApproverIdentity{
		AccountID: &userID,
		Email:     utils.GetEmailFromContext(c),
	}, true
}

func readLimited(c *gin.Context, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(c.Request.Body, limit))
}
