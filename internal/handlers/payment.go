// internal/handlers/payment.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/revshare-backend/internal/i18n"
	"github.com/javajoker/revshare-backend/internal/services"
	"github.com/javajoker/revshare-backend/internal/utils"
)

const maxWebhookBodyBytes = 64 << 10

type PaymentHandler struct {
	paymentService *services.PaymentService
}

func NewPaymentHandler(paymentService *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

// POST /v1/payments/intents
func (h *PaymentHandler) CreatePaymentIntent(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.CreatePaymentIntentRequest
	if !bindJSON(c, &req) {
		return
	}

	response, err := h.paymentService.CreatePaymentIntent(c.Request.Context(), optionalUserID(c), &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":       i18n.T(lang, i18n.KeyPaymentIntentCreated),
		"intent":        response.Intent,
		"client_secret": response.ClientSecret,
	})
}

// GET /v1/payments/intents/:id
func (h *PaymentHandler) GetPaymentIntent(c *gin.Context) {
	intentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	intent, err := h.paymentService.GetPaymentIntent(c.Request.Context(), intentID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, intent)
}

// POST /v1/payments/confirm is the paid signal of non-card rails. It is
// guarded by the rail shared secret, not by user tokens.
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.PaymentConfirmation
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.paymentService.ConfirmPayment(c.Request.Context(), &req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":    i18n.T(lang, i18n.KeyPaymentConfirmed),
		"intent":     result.Intent,
		"settlement": result.Settlement,
	})
}

// POST /v1/payments/webhooks/stripe
func (h *PaymentHandler) StripeWebhook(c *gin.Context) {
	body, err := readLimited(c, maxWebhookBodyBytes)
	if err != nil {
		utils.BadRequestResponse(c, "Unreadable webhook body", nil)
		return
	}

	result, err := h.paymentService.HandleStripeWebhook(c.Request.Context(), body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	response := gin.H{"received": true}
	if result != nil {
		response["payment_intent_id"] = result.Intent.ID
		response["settlement_id"] = result.Settlement.ID
	}
	utils.SuccessResponse(c, response)
}

// GET /v1/me/entitlements
func (h *PaymentHandler) ListEntitlements(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	entitlements, err := h.paymentService.ListEntitlements(c.Request.Context(), userID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, entitlements)
}
