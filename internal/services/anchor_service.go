// internal/services/anchor_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/revshare-backend/internal/models"
	"github.com/javajoker/revshare-backend/internal/utils"
	"github.com/javajoker/revshare-backend/pkg/canonical"
	"github.com/javajoker/revshare-backend/pkg/proof"
)

// AnchorService derives the fact records that proof bundles are built from.
type AnchorService struct {
	db *gorm.DB
}

func NewAnchorService(db *gorm.DB) *AnchorService {
	return &AnchorService{db: db}
}

// PublishAnchor fingerprints who published which manifest and when.
func (s *AnchorService) PublishAnchor(ctx context.Context, contentID uuid.UUID) (proof.PublishAnchor, error) {
	var content models.Content
	if err := s.db.WithContext(ctx).First(&content, "id = ?", contentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return proof.PublishAnchor{}, utils.NewNotFoundError("content")
		}
		return proof.PublishAnchor{}, fmt.Errorf("failed to load content: %w", err)
	}
	if content.PublishedAt == nil {
		return proof.PublishAnchor{}, utils.NewPreconditionError(utils.CodeSplitNotLocked, "content %s is not published", contentID)
	}

	anchor := proof.PublishAnchor{
		ContentID:      content.ID.String(),
		OwnerID:        content.OwnerID.String(),
		ManifestSha256: content.ManifestSha256,
		PublishedAt:    proof.FormatTime(*content.PublishedAt),
	}
	hash, err := canonical.Sum(map[string]any{
		"contentId":      anchor.ContentID,
		"ownerId":        anchor.OwnerID,
		"manifestSha256": anchor.ManifestSha256,
		"publishedAt":    anchor.PublishedAt,
	})
	if err != nil {
		return proof.PublishAnchor{}, err
	}
	anchor.AnchorHash = hash
	return anchor, nil
}

// SplitAnchor describes the content's current locked split.
func (s *AnchorService) SplitAnchor(ctx context.Context, contentID uuid.UUID) (proof.SplitAnchor, error) {
	version, err := lockedSplit(s.db.WithContext(ctx), contentID)
	if err != nil {
		return proof.SplitAnchor{}, err
	}
	if version == nil {
		return proof.SplitAnchor{}, utils.NewPreconditionError(utils.CodeSplitNotLocked, "content %s has no locked split", contentID)
	}
	return splitAnchorFor(version), nil
}

// SettlementReceipt summarizes the settlement of a payment intent.
func (s *AnchorService) SettlementReceipt(ctx context.Context, paymentIntentID uuid.UUID) (*proof.SettlementReceipt, *models.Settlement, error) {
	settlement, err := findSettlement(s.db.WithContext(ctx), paymentIntentID)
	if err != nil {
		return nil, nil, err
	}
	if settlement == nil {
		return nil, nil, utils.NewNotFoundError("settlement")
	}

	receipt := &proof.SettlementReceipt{
		SettlementID:    settlement.ID.String(),
		PaymentIntentID: settlement.PaymentIntentID.String(),
		Currency:        settlement.Currency,
		NetAmount:       settlement.NetAmount,
		UpstreamBps:     settlement.UpstreamBps,
		UpstreamAmount:  settlement.UpstreamAmount,
		Lines:           make([]proof.ReceiptLine, 0, len(settlement.Lines)),
	}
	for _, line := range settlement.Lines {
		recipient := models.NormalizeEmail(line.Email)
		if line.AccountID != nil {
			recipient = line.AccountID.String()
		}
		receipt.Lines = append(receipt.Lines, proof.ReceiptLine{
			Recipient: recipient,
			Role:      line.Role,
			Amount:    line.Amount,
		})
	}
	return receipt, settlement, nil
}

// VerifySplit recomputes a locked version's fingerprint from its stored
// participants and reports whether it still matches.
func (s *AnchorService) VerifySplit(ctx context.Context, versionID uuid.UUID) (bool, error) {
	var version models.SplitVersion
	if err := s.db.WithContext(ctx).Preload("Participants").First(&version, "id = ?", versionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, utils.NewNotFoundError("split version")
		}
		return false, fmt.Errorf("failed to load split version: %w", err)
	}
	if !version.IsLocked() {
		return false, utils.NewPreconditionError(utils.CodeSplitNotLocked, "split version %s is not locked", versionID)
	}

	hash := canonical.SplitsHash(version.ID.String(), version.ContentID.String(), version.LockedManifestSha256, splitEntries(version.Participants))
	return hash == version.SplitsHash, nil
}

func splitAnchorFor(version *models.SplitVersion) proof.SplitAnchor {
	anchor := proof.SplitAnchor{
		SplitVersionID:       version.ID.String(),
		ContentID:            version.ContentID.String(),
		Version:              version.VersionNumber,
		LockedManifestSha256: version.LockedManifestSha256,
		SplitsHash:           version.SplitsHash,
	}
	if version.LockedAt != nil {
		anchor.LockedAt = proof.FormatTime(*version.LockedAt)
	}
	return anchor
}
