// internal/services/split_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/revshare-backend/internal/database"
	"github.com/javajoker/revshare-backend/internal/models"
	"github.com/javajoker/revshare-backend/internal/utils"
	"github.com/javajoker/revshare-backend/pkg/canonical"
)

type SplitService struct {
	db *gorm.DB
}

type CreateContentRequest struct {
	Title          string   `json:"title" validate:"required,max=255"`
	Description    string   `json:"description,omitempty"`
	ManifestSha256 string   `json:"manifest_sha256,omitempty" validate:"omitempty,sha256hex"`
	Tags           []string `json:"tags,omitempty" validate:"max=20,dive,max=50"`
}

type ParticipantInput struct {
	AccountID *uuid.UUID `json:"account_id,omitempty"`
	Email     string     `json:"email,omitempty" validate:"omitempty,email"`
	Bps       int64      `json:"bps" validate:"min=0,max=10000"`
	Role      string     `json:"role,omitempty" validate:"omitempty,max=50"`
}

type UpdateSplitRequest struct {
	Participants []ParticipantInput `json:"participants" validate:"required,min=1,max=100,dive"`
}

type LockSplitRequest struct {
	ManifestSha256 string `json:"manifest_sha256" validate:"required,sha256hex"`
}

type ContentSearchParams struct {
	utils.PaginationParams
	OwnerID *uuid.UUID `json:"owner_id,omitempty"`
}

func NewSplitService(db *gorm.DB) *SplitService {
	return &SplitService{db: db}
}

// CreateContent registers a content item with a draft split v1 that gives the
// owner the full 10000 bps.
func (s *SplitService) CreateContent(ctx context.Context, ownerID uuid.UUID, req *CreateContentRequest) (*models.Content, error) {
	if err := utils.ValidateInput(req); err != nil {
		return nil, err
	}

	var content *models.Content
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		var owner models.User
		if err := tx.First(&owner, "id = ?", ownerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NewNotFoundError("user")
			}
			return fmt.Errorf("failed to load owner: %w", err)
		}

		content = &models.Content{
			OwnerID:        ownerID,
			Title:          strings.TrimSpace(req.Title),
			Description:    req.Description,
			ManifestSha256: req.ManifestSha256,
			Tags:           req.Tags,
		}
		if err := tx.Create(content).Error; err != nil {
			return fmt.Errorf("failed to create content: %w", err)
		}

		now := time.Now()
		version := &models.SplitVersion{
			ContentID:     content.ID,
			VersionNumber: 1,
			Status:        models.SplitStatusDraft,
			Participants: []models.SplitParticipant{{
				AccountID:  &owner.ID,
				Email:      models.NormalizeEmail(owner.Email),
				Bps:        models.TotalBps,
				Role:       "owner",
				Accepted:   true,
				AcceptedAt: &now,
			}},
		}
		if err := tx.Create(version).Error; err != nil {
			return fmt.Errorf("failed to create split version: %w", err)
		}
		content.SplitVersions = []models.SplitVersion{*version}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"content_id": content.ID,
		"owner_id":   ownerID,
	}).Info("Content created")
	return content, nil
}

func (s *SplitService) GetContent(ctx context.Context, contentID uuid.UUID) (*models.Content, error) {
	var content models.Content
	err := s.db.WithContext(ctx).
		Preload("SplitVersions", func(db *gorm.DB) *gorm.DB { return db.Order("version_number ASC") }).
		Preload("SplitVersions.Participants", orderParticipants).
		First(&content, "id = ?", contentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("content")
		}
		return nil, fmt.Errorf("failed to load content: %w", err)
	}
	return &content, nil
}

func (s *SplitService) ListContent(ctx context.Context, params ContentSearchParams) ([]models.Content, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Content{})
	if params.OwnerID != nil {
		query = query.Where("owner_id = ?", *params.OwnerID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count content: %w", err)
	}

	allowedSortFields := []string{"created_at", "title", "published_at"}
	query = utils.ApplySort(query, params.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, params.PaginationParams)

	var contents []models.Content
	if err := query.Find(&contents).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch content: %w", err)
	}
	return contents, total, nil
}

func (s *SplitService) GetSplitVersion(ctx context.Context, versionID uuid.UUID) (*models.SplitVersion, error) {
	var version models.SplitVersion
	err := s.db.WithContext(ctx).
		Preload("Participants", orderParticipants).
		First(&version, "id = ?", versionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("split version")
		}
		return nil, fmt.Errorf("failed to load split version: %w", err)
	}
	return &version, nil
}

// UpdateDraftSplit replaces the participant list of a draft version.
// Acceptance carries over for recipients that stay on the split.
func (s *SplitService) UpdateDraftSplit(ctx context.Context, ownerID, versionID uuid.UUID, req *UpdateSplitRequest) (*models.SplitVersion, error) {
	if err := utils.ValidateInput(req); err != nil {
		return nil, err
	}
	for i, p := range req.Participants {
		if (p.AccountID == nil || *p.AccountID == uuid.Nil) && strings.TrimSpace(p.Email) == "" {
			return nil, utils.NewValidationError("participant %d needs an account id or an email", i)
		}
	}

	var updated *models.SplitVersion
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		version, err := s.ownedVersionForUpdate(tx, ownerID, versionID)
		if err != nil {
			return err
		}
		if version.IsLocked() {
			return utils.NewConflictError(utils.CodeSplitLocked, "split version %d is locked; create a new version", version.VersionNumber)
		}

		accepted := make(map[string]*time.Time, len(version.Participants))
		for _, p := range version.Participants {
			if p.Accepted {
				accepted[p.RecipientKey()] = p.AcceptedAt
			}
		}

		if err := tx.Unscoped().Where("split_version_id = ?", version.ID).Delete(&models.SplitParticipant{}).Error; err != nil {
			return fmt.Errorf("failed to clear participants: %w", err)
		}

		participants := make([]models.SplitParticipant, 0, len(req.Participants))
		for _, in := range req.Participants {
			p := models.SplitParticipant{
				SplitVersionID: version.ID,
				AccountID:      in.AccountID,
				Email:          models.NormalizeEmail(in.Email),
				Bps:            in.Bps,
				Role:           participantRole(in.Role),
			}
			if at, ok := accepted[p.RecipientKey()]; ok {
				p.Accepted = true
				p.AcceptedAt = at
			}
			participants = append(participants, p)
		}
		if err := tx.Create(&participants).Error; err != nil {
			return fmt.Errorf("failed to store participants: %w", err)
		}

		version.Participants = participants
		updated = version
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// LockSplit freezes a draft version. The weights must sum to exactly
// 10000 bps; the locked terms are fingerprinted into SplitsHash.
func (s *SplitService) LockSplit(ctx context.Context, ownerID, versionID uuid.UUID, req *LockSplitRequest) (*models.SplitVersion, error) {
	if err := utils.ValidateInput(req); err != nil {
		return nil, err
	}

	var locked *models.SplitVersion
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		version, err := s.ownedVersionForUpdate(tx, ownerID, versionID)
		if err != nil {
			return err
		}
		if version.IsLocked() {
			return utils.NewConflictError(utils.CodeSplitLocked, "split version %d is already locked", version.VersionNumber)
		}
		if total := version.TotalBps(); total != models.TotalBps {
			return utils.NewValidationError("split weights must sum to %d bps, got %d", models.TotalBps, total)
		}

		now := time.Now().UTC()
		hash := canonical.SplitsHash(version.ID.String(), version.ContentID.String(), req.ManifestSha256, splitEntries(version.Participants))
		updates := map[string]interface{}{
			"status":                 models.SplitStatusLocked,
			"locked_at":              now,
			"locked_manifest_sha256": req.ManifestSha256,
			"splits_hash":            hash,
		}
		if err := tx.Model(version).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to lock split version: %w", err)
		}

		// The first lock publishes the content under this manifest.
		if err := tx.Model(&models.Content{}).
			Where("id = ? AND published_at IS NULL", version.ContentID).
			Updates(map[string]interface{}{"published_at": now, "manifest_sha256": req.ManifestSha256}).Error; err != nil {
			return fmt.Errorf("failed to publish content: %w", err)
		}

		version.Status = models.SplitStatusLocked
		version.LockedAt = &now
		version.LockedManifestSha256 = req.ManifestSha256
		version.SplitsHash = hash
		locked = version
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"split_version_id": locked.ID,
		"content_id":       locked.ContentID,
		"version":          locked.VersionNumber,
		"splits_hash":      locked.SplitsHash,
	}).Info("Split version locked")
	return locked, nil
}

// CreateSplitVersion opens the next version as a draft copy of the latest
// one. Only the owner keeps their acceptance; everyone else re-accepts.
func (s *SplitService) CreateSplitVersion(ctx context.Context, ownerID, contentID uuid.UUID) (*models.SplitVersion, error) {
	var created *models.SplitVersion
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		var content models.Content
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&content, "id = ?", contentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NewNotFoundError("content")
			}
			return fmt.Errorf("failed to load content: %w", err)
		}
		if content.OwnerID != ownerID {
			return utils.NewForbiddenError("only the content owner can manage splits")
		}

		var latest models.SplitVersion
		if err := tx.Preload("Participants", orderParticipants).
			Where("content_id = ?", contentID).
			Order("version_number DESC").
			First(&latest).Error; err != nil {
			return fmt.Errorf("failed to load latest split version: %w", err)
		}
		if !latest.IsLocked() {
			return utils.NewConflictError(utils.CodeDuplicate, "split version %d is still a draft", latest.VersionNumber)
		}

		next := &models.SplitVersion{
			ContentID:     contentID,
			VersionNumber: latest.VersionNumber + 1,
			Status:        models.SplitStatusDraft,
		}
		for _, p := range latest.Participants {
			copied := models.SplitParticipant{
				AccountID: p.AccountID,
				Email:     p.Email,
				Bps:       p.Bps,
				Role:      p.Role,
			}
			if p.AccountID != nil && *p.AccountID == ownerID {
				copied.Accepted = p.Accepted
				copied.AcceptedAt = p.AcceptedAt
			}
			next.Participants = append(next.Participants, copied)
		}
		if err := tx.Create(next).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return utils.NewConflictError(utils.CodeDuplicate, "split version %d already exists", next.VersionNumber)
			}
			return fmt.Errorf("failed to create split version: %w", err)
		}
		created = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AcceptParticipation flags every participant row of the version that
// belongs to the caller, matched by account id or email.
func (s *SplitService) AcceptParticipation(ctx context.Context, caller ApproverIdentity, versionID uuid.UUID) (*models.SplitVersion, error) {
	var result *models.SplitVersion
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		var version models.SplitVersion
		if err := tx.Preload("Participants", orderParticipants).First(&version, "id = ?", versionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NewNotFoundError("split version")
			}
			return fmt.Errorf("failed to load split version: %w", err)
		}

		now := time.Now()
		matched := 0
		for i := range version.Participants {
			p := &version.Participants[i]
			if !caller.matchesParticipant(*p) {
				continue
			}
			matched++
			if p.Accepted {
				continue
			}
			if err := tx.Model(p).Updates(map[string]interface{}{"accepted": true, "accepted_at": now}).Error; err != nil {
				return fmt.Errorf("failed to accept participation: %w", err)
			}
			p.Accepted = true
			p.AcceptedAt = &now
		}
		if matched == 0 {
			return utils.NewNotEligibleError("caller is not a participant of this split")
		}
		result = &version
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetLockedSplit returns the highest-numbered locked version of a content
// item, or SPLIT_NOT_LOCKED when there is none.
func (s *SplitService) GetLockedSplit(ctx context.Context, contentID uuid.UUID) (*models.SplitVersion, error) {
	version, err := lockedSplit(s.db.WithContext(ctx), contentID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, utils.NewPreconditionError(utils.CodeSplitNotLocked, "content %s has no locked split", contentID)
	}
	return version, nil
}

func (s *SplitService) ownedVersionForUpdate(tx *gorm.DB, ownerID, versionID uuid.UUID) (*models.SplitVersion, error) {
	var version models.SplitVersion
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&version, "id = ?", versionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("split version")
		}
		return nil, fmt.Errorf("failed to load split version: %w", err)
	}

	var content models.Content
	if err := tx.Select("id", "owner_id").First(&content, "id = ?", version.ContentID).Error; err != nil {
		return nil, fmt.Errorf("failed to load content: %w", err)
	}
	if content.OwnerID != ownerID {
		return nil, utils.NewForbiddenError("only the content owner can manage splits")
	}

	if err := tx.Where("split_version_id = ?", version.ID).Scopes(orderParticipants).Find(&version.Participants).Error; err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}
	return &version, nil
}

// lockedSplit returns nil without error when the content has no locked
// version.
func lockedSplit(tx *gorm.DB, contentID uuid.UUID) (*models.SplitVersion, error) {
	var version models.SplitVersion
	err := tx.Preload("Participants", orderParticipants).
		Where("content_id = ? AND status = ?", contentID, models.SplitStatusLocked).
		Order("version_number DESC").
		First(&version).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load locked split: %w", err)
	}
	return &version, nil
}

func orderParticipants(db *gorm.DB) *gorm.DB {
	return db.Order("bps DESC").Order("id ASC")
}

func participantRole(role string) string {
	role = strings.TrimSpace(role)
	if role == "" {
		return "collaborator"
	}
	return role
}

func splitEntries(participants []models.SplitParticipant) []canonical.SplitEntry {
	entries := make([]canonical.SplitEntry, 0, len(participants))
	for _, p := range participants {
		entries = append(entries, canonical.SplitEntry{
			Recipient: p.RecipientKey(),
			Bps:       p.Bps,
			Role:      p.Role,
		})
	}
	return entries
}

// sortedParticipants orders participants by recipient key so allocation and
// line positions do not depend on storage order.
func sortedParticipants(participants []models.SplitParticipant) []models.SplitParticipant {
	out := append([]models.SplitParticipant(nil), participants...)
	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := out[i].RecipientKey(), out[j].RecipientKey()
		if ki != kj {
			return ki < kj
		}
		if out[i].Bps != out[j].Bps {
			return out[i].Bps > out[j].Bps
		}
		if out[i].Role != out[j].Role {
			return out[i].Role < out[j].Role
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
