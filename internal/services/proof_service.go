// internal/services/proof_service.go
package services

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/revshare-backend/internal/config"
	"github.com/javajoker/revshare-backend/internal/database"
	"github.com/javajoker/revshare-backend/internal/models"
	"github.com/javajoker/revshare-backend/internal/utils"
	"github.com/javajoker/revshare-backend/pkg/proof"
)

type ProofService struct {
	db         *gorm.DB
	anchors    *AnchorService
	archive    ProofArchive
	signingKey ed25519.PrivateKey
	keyID      string
}

type BuildProofRequest struct {
	ContentID       uuid.UUID  `json:"content_id" validate:"required"`
	PaymentIntentID *uuid.UUID `json:"payment_intent_id,omitempty"`
}

// SignProofRequest carries a signature made elsewhere. When Signature is
// empty the platform key signs instead.
type SignProofRequest struct {
	KeyID     string `json:"key_id" validate:"max=100"`
	PublicKey string `json:"public_key,omitempty" validate:"required_with=Signature"`
	Signature string `json:"signature,omitempty" validate:"required_with=PublicKey"`
}

type ProofView struct {
	Record     *models.ProofRecord `json:"record"`
	Bundle     proof.Bundle        `json:"bundle"`
	ArchiveURL string              `json:"archive_url,omitempty"`
}

const archiveURLTTL = 15 * time.Minute

type VerifyProofResult struct {
	Valid      bool   `json:"valid"`
	BundleHash string `json:"bundle_hash"`
	Signatures int    `json:"signatures"`
	Reason     string `json:"reason,omitempty"`
}

// NewProofService parses the platform signing seed when one is configured.
// archive may be nil.
func NewProofService(db *gorm.DB, anchors *AnchorService, archive ProofArchive, cfg config.ProofConfig) (*ProofService, error) {
	s := &ProofService{
		db:      db,
		anchors: anchors,
		archive: archive,
		keyID:   cfg.SigningKeyID,
	}
	if cfg.SigningKeyHex == "" {
		return s, nil
	}
	seed, err := hex.DecodeString(cfg.SigningKeyHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("proof signing key must be a %d-byte hex seed", ed25519.SeedSize)
	}
	s.signingKey = ed25519.NewKeyFromSeed(seed)
	return s, nil
}

// PlatformPublicKey is empty when no signing key is configured.
func (s *ProofService) PlatformPublicKey() string {
	if s.signingKey == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(s.signingKey.Public().(ed25519.PublicKey))
}

// BuildProof snapshots the publish and split anchors of a content item, and
// the settlement receipt when a payment intent is given.
func (s *ProofService) BuildProof(ctx context.Context, req *BuildProofRequest) (*ProofView, error) {
	if err := utils.ValidateInput(req); err != nil {
		return nil, err
	}

	publish, err := s.anchors.PublishAnchor(ctx, req.ContentID)
	if err != nil {
		return nil, err
	}
	split, err := s.anchors.SplitAnchor(ctx, req.ContentID)
	if err != nil {
		return nil, err
	}

	params := proof.Params{
		Publish:   publish,
		Split:     split,
		CreatedAt: time.Now().UTC(),
	}
	if req.PaymentIntentID != nil {
		receipt, settlement, err := s.anchors.SettlementReceipt(ctx, *req.PaymentIntentID)
		if err != nil {
			return nil, err
		}
		if settlement.ContentID != req.ContentID {
			return nil, utils.NewValidationError("payment intent %s belongs to another content item", *req.PaymentIntentID)
		}
		// The receipt must describe the split that was actually paid out.
		if settlement.SplitVersionID.String() != split.SplitVersionID {
			var paid models.SplitVersion
			if err := s.db.WithContext(ctx).First(&paid, "id = ?", settlement.SplitVersionID).Error; err != nil {
				return nil, fmt.Errorf("failed to load settled split: %w", err)
			}
			params.Split = splitAnchorFor(&paid)
		}
		params.Settlement = receipt
	}

	bundle, err := proof.BuildBundle(params)
	if err != nil {
		return nil, fmt.Errorf("failed to build proof bundle: %w", err)
	}
	if s.signingKey != nil {
		if err := proof.Sign(&bundle, s.keyID, s.signingKey, params.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to sign proof bundle: %w", err)
		}
	}

	payload, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proof bundle: %w", err)
	}

	record := &models.ProofRecord{
		ContentID:       req.ContentID,
		PaymentIntentID: req.PaymentIntentID,
		BundleHash:      bundle.BundleHash,
		Payload:         string(payload),
	}
	if s.archive != nil && s.archive.Enabled() {
		key := ProofKey(req.ContentID.String(), bundle.BundleHash)
		if err := s.archive.Put(ctx, key, payload); err != nil {
			logrus.WithError(err).WithField("bundle_hash", bundle.BundleHash).Warn("Failed to archive proof bundle")
		} else {
			record.ArchiveKey = key
		}
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("failed to store proof bundle: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"proof_id":    record.ID,
		"content_id":  record.ContentID,
		"bundle_hash": record.BundleHash,
		"signatures":  len(bundle.Signatures),
	}).Info("Proof bundle created")
	return &ProofView{Record: record, Bundle: bundle}, nil
}

// GetProof returns a stored bundle with a short-lived download link when the
// bundle was archived.
func (s *ProofService) GetProof(ctx context.Context, proofID uuid.UUID) (*ProofView, error) {
	view, err := loadProof(s.db.WithContext(ctx), proofID, false)
	if err != nil {
		return nil, err
	}
	if view.Record.ArchiveKey != "" && s.archive != nil && s.archive.Enabled() {
		url, err := s.archive.GeneratePresignedURL(view.Record.ArchiveKey, archiveURLTTL)
		if err != nil {
			logrus.WithError(err).WithField("proof_id", proofID).Warn("Failed to presign proof archive")
		} else {
			view.ArchiveURL = url
		}
	}
	return view, nil
}

// SignProof appends one signature. Supplied signatures are checked against
// the bundle hash before they are stored. The platform key only signs for the
// content owner or a participant of its locked split.
func (s *ProofService) SignProof(ctx context.Context, caller ApproverIdentity, proofID uuid.UUID, req *SignProofRequest) (*ProofView, error) {
	if err := utils.ValidateInput(req); err != nil {
		return nil, err
	}

	var view *ProofView
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		loaded, err := loadProof(tx, proofID, true)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if req.Signature == "" {
			if s.signingKey == nil {
				return utils.NewValidationError("no platform signing key is configured")
			}
			allowed, err := mayRequestPlatformSignature(tx, loaded.Record.ContentID, caller)
			if err != nil {
				return err
			}
			if !allowed {
				return utils.NewForbiddenError("only the content owner or a split participant can request a platform signature")
			}
			keyID := req.KeyID
			if keyID == "" {
				keyID = s.keyID
			}
			if err := proof.Sign(&loaded.Bundle, keyID, s.signingKey, now); err != nil {
				return fmt.Errorf("failed to sign proof bundle: %w", err)
			}
		} else {
			loaded.Bundle.Signatures = append(loaded.Bundle.Signatures, proof.Signature{
				Algorithm: proof.AlgorithmEd25519,
				KeyID:     req.KeyID,
				PublicKey: req.PublicKey,
				Signature: req.Signature,
				SignedAt:  proof.FormatTime(now),
			})
			if err := proof.Verify(loaded.Bundle); err != nil {
				return utils.NewValidationError("signature does not verify: %v", err)
			}
		}

		payload, err := json.Marshal(loaded.Bundle)
		if err != nil {
			return fmt.Errorf("failed to encode proof bundle: %w", err)
		}
		if err := tx.Model(loaded.Record).Update("payload", string(payload)).Error; err != nil {
			return fmt.Errorf("failed to store signature: %w", err)
		}
		loaded.Record.Payload = string(payload)
		view = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"proof_id":   proofID,
		"signatures": len(view.Bundle.Signatures),
	}).Info("Proof bundle signed")
	return view, nil
}

// VerifyProof recomputes the stored bundle's hash and checks its signatures.
// A failed check is reported in the result, not as an error.
func (s *ProofService) VerifyProof(ctx context.Context, proofID uuid.UUID) (*VerifyProofResult, error) {
	view, err := loadProof(s.db.WithContext(ctx), proofID, false)
	if err != nil {
		return nil, err
	}

	result := &VerifyProofResult{
		BundleHash: view.Bundle.BundleHash,
		Signatures: len(view.Bundle.Signatures),
	}
	if view.Bundle.BundleHash != view.Record.BundleHash {
		result.Reason = proof.ErrHashMismatch.Error()
		return result, nil
	}
	if err := proof.Verify(view.Bundle); err != nil {
		result.Reason = err.Error()
		return result, nil
	}
	result.Valid = true
	return result, nil
}

func mayRequestPlatformSignature(tx *gorm.DB, contentID uuid.UUID, caller ApproverIdentity) (bool, error) {
	if caller.IsZero() {
		return false, nil
	}
	var content models.Content
	if err := tx.Select("id", "owner_id").First(&content, "id = ?", contentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, utils.NewNotFoundError("content")
		}
		return false, fmt.Errorf("failed to load content: %w", err)
	}
	if caller.hasAccount(&content.OwnerID) {
		return true, nil
	}

	split, err := lockedSplit(tx, contentID)
	if err != nil || split == nil {
		return false, err
	}
	for _, p := range split.Participants {
		if caller.matchesParticipant(p) {
			return true, nil
		}
	}
	return false, nil
}

func loadProof(tx *gorm.DB, proofID uuid.UUID, forUpdate bool) (*ProofView, error) {
	if forUpdate {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var record models.ProofRecord
	if err := tx.First(&record, "id = ?", proofID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("proof")
		}
		return nil, fmt.Errorf("failed to load proof: %w", err)
	}

	var bundle proof.Bundle
	if err := json.Unmarshal([]byte(record.Payload), &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode proof bundle: %w", err)
	}
	return &ProofView{Record: &record, Bundle: bundle}, nil
}
