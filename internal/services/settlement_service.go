// internal/services/settlement_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/revshare-backend/internal/database"
	"github.com/javajoker/revshare-backend/internal/metrics"
	"github.com/javajoker/revshare-backend/internal/models"
	"github.com/javajoker/revshare-backend/internal/utils"
	"github.com/javajoker/revshare-backend/pkg/allocation"
)

type SettlementService struct {
	db            *gorm.DB
	notifications *NotificationService
	metrics       *metrics.Metrics
}

type RecipientLine struct {
	models.SettlementLine
	PaymentIntentID uuid.UUID `json:"payment_intent_id"`
	ContentID       uuid.UUID `json:"content_id"`
	Currency        string    `json:"currency"`
}

func NewSettlementService(db *gorm.DB, notifications *NotificationService, m *metrics.Metrics) *SettlementService {
	return &SettlementService{
		db:            db,
		notifications: notifications,
		metrics:       m,
	}
}

// Finalize turns a paid PaymentIntent into its one Settlement. Repeated or
// concurrent calls return the settlement that was stored first.
func (s *SettlementService) Finalize(ctx context.Context, paymentIntentID uuid.UUID) (*models.Settlement, error) {
	settlement, created, err := s.finalize(ctx, paymentIntentID)
	if err != nil {
		code := ""
		if appErr, ok := utils.AsAppError(err); ok {
			code = appErr.Code
		}
		s.metrics.FinalizeFailed(code)
		logrus.WithError(err).WithField("payment_intent_id", paymentIntentID).Warn("Settlement finalize failed")
		return nil, err
	}

	s.metrics.SettlementFinalized(created, settlement.Currency, settlement.NetAmount)
	logrus.WithFields(logrus.Fields{
		"payment_intent_id": paymentIntentID,
		"settlement_id":     settlement.ID,
		"net_amount":        settlement.NetAmount,
		"upstream_amount":   settlement.UpstreamAmount,
		"lines":             len(settlement.Lines),
		"created":           created,
	}).Info("Settlement finalized")

	if created {
		if err := s.notifications.SendPayoutNotice(settlement); err != nil {
			logrus.WithError(err).WithField("settlement_id", settlement.ID).Warn("Failed to send payout notices")
		}
	}
	return settlement, nil
}

func (s *SettlementService) finalize(ctx context.Context, paymentIntentID uuid.UUID) (*models.Settlement, bool, error) {
	db := s.db.WithContext(ctx)

	var settlement *models.Settlement
	var created bool
	err := database.WithTransaction(db, func(tx *gorm.DB) error {
		var intent models.PaymentIntent
		if err := tx.First(&intent, "id = ?", paymentIntentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NewNotFoundError("payment intent")
			}
			return fmt.Errorf("failed to load payment intent: %w", err)
		}
		if !intent.IsPaid() {
			return utils.NewPreconditionError(utils.CodePaymentNotPaid, "payment intent %s is not paid", intent.ID)
		}

		existing, err := findSettlement(tx, intent.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			settlement = existing
			return nil
		}

		built, err := buildSettlement(tx, &intent)
		if err != nil {
			return err
		}
		if err := tx.Create(built).Error; err != nil {
			return fmt.Errorf("failed to store settlement: %w", err)
		}

		entitlement := models.Entitlement{
			BuyerKey:        models.BuyerKeyFor(intent.BuyerID),
			BuyerID:         intent.BuyerID,
			ContentID:       intent.ContentID,
			ManifestSha256:  intent.ManifestSha256,
			PaymentIntentID: intent.ID,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "buyer_key"}, {Name: "content_id"}, {Name: "manifest_sha256"}},
			DoNothing: true,
		}).Create(&entitlement).Error; err != nil {
			return fmt.Errorf("failed to grant entitlement: %w", err)
		}

		settlement = built
		created = true
		return nil
	})
	if err == nil {
		return settlement, created, nil
	}

	// A concurrent finalize may have committed first; its settlement is the
	// answer.
	if _, isAppErr := utils.AsAppError(err); !isAppErr {
		if winner, findErr := findSettlement(db, paymentIntentID); findErr == nil && winner != nil {
			return winner, false, nil
		}
	}
	return nil, false, err
}

// buildSettlement computes the header and lines for a paid intent without
// writing anything.
func buildSettlement(tx *gorm.DB, intent *models.PaymentIntent) (*models.Settlement, error) {
	split, err := lockedSplit(tx, intent.ContentID)
	if err != nil {
		return nil, err
	}
	if split == nil {
		return nil, utils.NewPreconditionError(utils.CodeSplitNotLocked, "content %s has no locked split", intent.ContentID)
	}

	links, err := requireSingleParent(tx, intent.ContentID)
	if err != nil {
		return nil, err
	}

	net := intent.Amount
	if intent.NetAmount != nil {
		net = *intent.NetAmount
	}

	settlement := &models.Settlement{
		PaymentIntentID: intent.ID,
		ContentID:       intent.ContentID,
		SplitVersionID:  split.ID,
		Currency:        intent.Currency,
		GrossAmount:     intent.Amount,
		NetAmount:       net,
	}

	var upstream *models.ContentLink
	if len(links) == 1 && links[0].UpstreamBps > 0 {
		upstream = &links[0]
	}

	childPool := net
	if upstream != nil {
		upstreamAmount := allocation.Portion(net, upstream.UpstreamBps)
		settlement.ParentLinkID = &upstream.ID
		settlement.UpstreamBps = upstream.UpstreamBps
		settlement.UpstreamAmount = upstreamAmount
		childPool = net - upstreamAmount
	}

	childPrefix := ""
	if upstream != nil {
		childPrefix = models.RoleDerivativePrefix
	}
	settlement.Lines = appendAllocatedLines(settlement.Lines, childPool, split.Participants, func(p models.SplitParticipant) string {
		return childPrefix + p.Role
	})

	if upstream != nil {
		parentSplit, err := lockedSplit(tx, upstream.ParentContentID)
		if err != nil {
			return nil, err
		}
		if parentSplit == nil {
			return nil, utils.NewPreconditionError(utils.CodeParentSplitNotLocked,
				"parent content %s has no locked split", upstream.ParentContentID)
		}
		settlement.ParentSplitVersionID = &parentSplit.ID
		settlement.Lines = appendAllocatedLines(settlement.Lines, settlement.UpstreamAmount, parentSplit.Participants, func(models.SplitParticipant) string {
			return models.RoleUpstream
		})
	}

	if total := settlement.LinesTotal(); total != net {
		return nil, utils.NewStructuralError(utils.CodeSettlementUnbalanced,
			"settlement lines sum to %d, expected %d", total, net)
	}
	return settlement, nil
}

func appendAllocatedLines(lines []models.SettlementLine, pool int64, participants []models.SplitParticipant, role func(models.SplitParticipant) string) []models.SettlementLine {
	ordered := sortedParticipants(participants)
	items := make([]allocation.Item, len(ordered))
	for i, p := range ordered {
		items[i] = allocation.Item{ID: p.RecipientKey(), Bps: p.Bps}
	}
	shares := allocation.Allocate(pool, items)
	for i, share := range shares {
		p := ordered[i]
		lines = append(lines, models.SettlementLine{
			Position:  len(lines),
			AccountID: p.AccountID,
			Email:     p.Email,
			Role:      role(p),
			Amount:    share.Amount,
		})
	}
	return lines
}

// GetSettlement returns the settlement of a payment intent.
func (s *SettlementService) GetSettlement(ctx context.Context, paymentIntentID uuid.UUID) (*models.Settlement, error) {
	settlement, err := findSettlement(s.db.WithContext(ctx), paymentIntentID)
	if err != nil {
		return nil, err
	}
	if settlement == nil {
		return nil, utils.NewNotFoundError("settlement")
	}
	return settlement, nil
}

// ListRecipientLines pages through the settlement lines paid to a recipient,
// matched by account id or email.
func (s *SettlementService) ListRecipientLines(ctx context.Context, recipient ApproverIdentity, params utils.PaginationParams) ([]RecipientLine, int64, error) {
	if recipient.IsZero() {
		return nil, 0, utils.NewValidationError("recipient identity is required")
	}

	query := s.db.WithContext(ctx).Model(&models.SettlementLine{}).
		Joins("JOIN settlements ON settlements.id = settlement_lines.settlement_id")
	email := models.NormalizeEmail(recipient.Email)
	switch {
	case recipient.AccountID != nil && email != "":
		query = query.Where("settlement_lines.account_id = ? OR (settlement_lines.account_id IS NULL AND settlement_lines.email = ?)", *recipient.AccountID, email)
	case recipient.AccountID != nil:
		query = query.Where("settlement_lines.account_id = ?", *recipient.AccountID)
	default:
		query = query.Where("settlement_lines.email = ?", email)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count settlement lines: %w", err)
	}

	sortField := "created_at"
	switch params.Sort {
	case "amount", "role":
		sortField = params.Sort
	}
	order := "DESC"
	if params.Order == "asc" {
		order = "ASC"
	}

	var lines []RecipientLine
	err := utils.ApplyPagination(query, params).
		Select("settlement_lines.*, settlements.payment_intent_id, settlements.content_id, settlements.currency").
		Order(fmt.Sprintf("settlement_lines.%s %s", sortField, order)).
		Order("settlement_lines.id ASC").
		Scan(&lines).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch settlement lines: %w", err)
	}
	return lines, total, nil
}

func findSettlement(tx *gorm.DB, paymentIntentID uuid.UUID) (*models.Settlement, error) {
	var settlement models.Settlement
	err := tx.Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&settlement, "payment_intent_id = ?", paymentIntentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load settlement: %w", err)
	}
	return &settlement, nil
}
