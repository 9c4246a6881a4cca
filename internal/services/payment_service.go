// internal/services/payment_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/revshare-backend/internal/config"
	"github.com/javajoker/revshare-backend/internal/database"
	"github.com/javajoker/revshare-backend/internal/models"
	"github.com/javajoker/revshare-backend/internal/utils"
	"github.com/javajoker/revshare-backend/pkg/allocation"
)

const stripeEventPaymentSucceeded = "payment_intent.succeeded"

// CardGateway creates card-rail payment intents.
type CardGateway interface {
	CreateIntent(amount int64, currency string, metadata map[string]string) (reference, clientSecret string, err error)
}

type stripeGateway struct{}

func (stripeGateway) CreateIntent(amount int64, currency string, metadata map[string]string) (string, string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", "", fmt.Errorf("failed to create payment intent: %w", err)
	}
	return pi.ID, pi.ClientSecret, nil
}

type PaymentService struct {
	db          *gorm.DB
	config      config.PaymentConfig
	settlements *SettlementService
	cards       CardGateway
}

type CreatePaymentIntentRequest struct {
	ContentID      uuid.UUID          `json:"content_id" validate:"required"`
	ManifestSha256 string             `json:"manifest_sha256" validate:"required,sha256hex"`
	Amount         int64              `json:"amount" validate:"required,min=1"`
	Currency       string             `json:"currency,omitempty" validate:"omitempty,min=3,max=10"`
	Rail           models.PaymentRail `json:"rail" validate:"required,oneof=stripe lightning onchain manual"`
	RailReference  string             `json:"rail_reference,omitempty" validate:"max=255"`
}

type PaymentIntentResponse struct {
	Intent       *models.PaymentIntent `json:"intent"`
	ClientSecret string                `json:"client_secret,omitempty"`
}

// PaymentConfirmation is the at-least-once paid signal from a rail.
type PaymentConfirmation struct {
	PaymentIntentID uuid.UUID `json:"payment_intent_id" validate:"required"`
	ContentID       uuid.UUID `json:"content_id" validate:"required"`
	ManifestSha256  string    `json:"manifest_sha256" validate:"required,sha256hex"`
	NetAmount       int64     `json:"net_amount" validate:"min=0"`
}

type ConfirmPaymentResult struct {
	Intent     *models.PaymentIntent `json:"intent"`
	Settlement *models.Settlement    `json:"settlement"`
}

// NewPaymentService wires the Stripe card rail when a secret key is set.
func NewPaymentService(db *gorm.DB, cfg config.PaymentConfig, settlements *SettlementService) *PaymentService {
	var cards CardGateway
	if cfg.StripeSecretKey != "" {
		stripe.Key = cfg.StripeSecretKey
		cards = stripeGateway{}
	}
	return NewPaymentServiceWithGateway(db, cfg, settlements, cards)
}

func NewPaymentServiceWithGateway(db *gorm.DB, cfg config.PaymentConfig, settlements *SettlementService, cards CardGateway) *PaymentService {
	return &PaymentService{
		db:          db,
		config:      cfg,
		settlements: settlements,
		cards:       cards,
	}
}

// CreatePaymentIntent opens a purchase of one locked manifest. Derivatives
// can only be sold once their clearance has been granted.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, buyerID *uuid.UUID, req *CreatePaymentIntentRequest) (*PaymentIntentResponse, error) {
	if err := utils.ValidateInput(req); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)

	var lockedVersions int64
	if err := db.Model(&models.SplitVersion{}).
		Where("content_id = ? AND status = ? AND locked_manifest_sha256 = ?", req.ContentID, models.SplitStatusLocked, req.ManifestSha256).
		Count(&lockedVersions).Error; err != nil {
		return nil, fmt.Errorf("failed to check locked splits: %w", err)
	}
	if lockedVersions == 0 {
		split, err := lockedSplit(db, req.ContentID)
		if err != nil {
			return nil, err
		}
		if split == nil {
			return nil, utils.NewPreconditionError(utils.CodeSplitNotLocked, "content %s has no locked split", req.ContentID)
		}
		return nil, utils.NewConflictError(utils.CodePaymentDetailsMismatch, "manifest %s is not a locked version of this content", req.ManifestSha256)
	}

	links, err := requireSingleParent(db, req.ContentID)
	if err != nil {
		return nil, err
	}
	if len(links) == 1 && !links[0].Cleared() {
		return nil, utils.NewPreconditionError(utils.CodeClearanceRequired, "derivative link %s is not cleared", links[0].ID)
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.config.DefaultCurrency
	}

	intent := &models.PaymentIntent{
		ContentID:      req.ContentID,
		ManifestSha256: req.ManifestSha256,
		BuyerID:        buyerID,
		Amount:         req.Amount,
		Currency:       currency,
		Rail:           req.Rail,
		RailReference:  req.RailReference,
		Status:         models.PaymentStatusPending,
	}
	intent.ID = uuid.New()

	if req.Rail == models.PaymentRailStripe {
		if s.cards == nil {
			return nil, utils.NewValidationError("stripe rail is not configured")
		}
		metadata := map[string]string{
			"payment_intent_id": intent.ID.String(),
			"content_id":        req.ContentID.String(),
			"manifest_sha256":   req.ManifestSha256,
		}
		reference, secret, err := s.cards.CreateIntent(req.Amount, currency, metadata)
		if err != nil {
			return nil, err
		}
		intent.RailReference = reference
		intent.ClientSecret = secret
	}

	if err := db.Create(intent).Error; err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"payment_intent_id": intent.ID,
		"content_id":        intent.ContentID,
		"rail":              intent.Rail,
		"amount":            intent.Amount,
		"currency":          intent.Currency,
	}).Info("Payment intent created")
	return &PaymentIntentResponse{Intent: intent, ClientSecret: intent.ClientSecret}, nil
}

func (s *PaymentService) GetPaymentIntent(ctx context.Context, paymentIntentID uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := s.db.WithContext(ctx).First(&intent, "id = ?", paymentIntentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("payment intent")
		}
		return nil, fmt.Errorf("failed to load payment intent: %w", err)
	}
	return &intent, nil
}

// ConfirmPayment marks the intent paid on first delivery and finalizes its
// settlement. Redundant deliveries keep the first net amount and return the
// existing settlement.
func (s *PaymentService) ConfirmPayment(ctx context.Context, confirmation *PaymentConfirmation) (*ConfirmPaymentResult, error) {
	if err := utils.ValidateInput(confirmation); err != nil {
		return nil, err
	}

	var intent models.PaymentIntent
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&intent, "id = ?", confirmation.PaymentIntentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NewNotFoundError("payment intent")
			}
			return fmt.Errorf("failed to load payment intent: %w", err)
		}
		if intent.ContentID != confirmation.ContentID || intent.ManifestSha256 != confirmation.ManifestSha256 {
			return utils.NewConflictError(utils.CodePaymentDetailsMismatch, "confirmation does not match payment intent %s", intent.ID)
		}
		if confirmation.NetAmount > intent.Amount {
			return utils.NewValidationError("net amount %d exceeds intent amount %d", confirmation.NetAmount, intent.Amount)
		}
		if intent.IsPaid() {
			logrus.WithField("payment_intent_id", intent.ID).Debug("Duplicate payment confirmation")
			return nil
		}

		now := time.Now().UTC()
		net := confirmation.NetAmount
		if err := tx.Model(&intent).Updates(map[string]interface{}{
			"status":     models.PaymentStatusPaid,
			"net_amount": net,
			"paid_at":    now,
		}).Error; err != nil {
			return fmt.Errorf("failed to mark payment paid: %w", err)
		}
		intent.Status = models.PaymentStatusPaid
		intent.NetAmount = &net
		intent.PaidAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	settlement, err := s.settlements.Finalize(ctx, intent.ID)
	if err != nil {
		return nil, err
	}
	return &ConfirmPaymentResult{Intent: &intent, Settlement: settlement}, nil
}

// HandleStripeWebhook verifies a Stripe event and turns a succeeded payment
// into a confirmation net of the platform fee. Other event types are
// acknowledged and ignored with a nil result.
func (s *PaymentService) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (*ConfirmPaymentResult, error) {
	if s.config.StripeWebhookSecret == "" {
		return nil, utils.NewValidationError("stripe webhooks are not configured")
	}

	event, err := webhook.ConstructEvent(payload, signature, s.config.StripeWebhookSecret)
	if err != nil {
		return nil, utils.NewForbiddenError("invalid stripe signature: %v", err)
	}
	if string(event.Type) != stripeEventPaymentSucceeded {
		logrus.WithField("type", event.Type).Debug("Ignoring stripe event")
		return nil, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, utils.NewValidationError("malformed payment intent payload")
	}

	var intent models.PaymentIntent
	if err := s.db.WithContext(ctx).
		Where("rail = ? AND rail_reference = ?", models.PaymentRailStripe, pi.ID).
		First(&intent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("payment intent")
		}
		return nil, fmt.Errorf("failed to load payment intent: %w", err)
	}

	received := pi.AmountReceived
	if received == 0 {
		received = pi.Amount
	}
	if received > intent.Amount {
		received = intent.Amount
	}

	return s.ConfirmPayment(ctx, &PaymentConfirmation{
		PaymentIntentID: intent.ID,
		ContentID:       intent.ContentID,
		ManifestSha256:  intent.ManifestSha256,
		NetAmount:       s.NetOfFees(received),
	})
}

// NetOfFees deducts the platform fee; the fee is rounded down.
func (s *PaymentService) NetOfFees(received int64) int64 {
	return received - allocation.Portion(received, s.config.PlatformFeeBps)
}

func (s *PaymentService) ListEntitlements(ctx context.Context, buyerID uuid.UUID) ([]models.Entitlement, error) {
	var entitlements []models.Entitlement
	if err := s.db.WithContext(ctx).
		Where("buyer_key = ?", models.BuyerKeyFor(&buyerID)).
		Order("created_at DESC").
		Find(&entitlements).Error; err != nil {
		return nil, fmt.Errorf("failed to load entitlements: %w", err)
	}
	return entitlements, nil
}
