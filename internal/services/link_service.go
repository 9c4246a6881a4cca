// internal/services/link_service.go
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
	"github.com/javajoker/revshare-backend/internal/models"
	"github.com/javajoker/revshare-backend/internal/utils"
)

type LinkService struct {
	db *gorm.DB
}

type CreateLinkRequest struct {
	ParentContentID  uuid.UUID           `json:"parent_content_id" validate:"required"`
	Relation         models.RelationKind `json:"relation" validate:"required,oneof=remix derivative translation compilation"`
	UpstreamBps      int64               `json:"upstream_bps" validate:"min=0,max=10000"`
	RequiresApproval *bool               `json:"requires_approval,omitempty"`
}

func NewLinkService(db *gorm.DB) *LinkService {
	return &LinkService{db: db}
}

// CreateLink records childID as a derivative of the requested parent. Links
// that need clearance start with upstreamBps 0; the agreed rate is stamped
// when clearance approves.
func (s *LinkService) CreateLink(ctx context.Context, ownerID, childID uuid.UUID, req *CreateLinkRequest) (*models.ContentLink, error) {
	if err := utils.ValidateInput(req); err != nil {
		return nil, err
	}
	if req.ParentContentID == childID {
		return nil, utils.NewValidationError("content cannot be linked to itself")
	}

	requiresApproval := true
	if req.RequiresApproval != nil {
		requiresApproval = *req.RequiresApproval
	}

	var link *models.ContentLink
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		var child models.Content
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&child, "id = ?", childID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NewNotFoundError("content")
			}
			return fmt.Errorf("failed to load content: %w", err)
		}
		if child.OwnerID != ownerID {
			return utils.NewForbiddenError("only the content owner can link it to a parent")
		}

		var parent models.Content
		if err := tx.Select("id").First(&parent, "id = ?", req.ParentContentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NewNotFoundError("parent content")
			}
			return fmt.Errorf("failed to load parent content: %w", err)
		}

		var existing int64
		if err := tx.Model(&models.ContentLink{}).Where("child_content_id = ?", childID).Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to check existing links: %w", err)
		}
		if existing > 0 {
			return utils.NewConflictError(utils.CodeDuplicate, "content already has a parent link")
		}

		link = &models.ContentLink{
			ParentContentID:  req.ParentContentID,
			ChildContentID:   childID,
			Relation:         req.Relation,
			RequiresApproval: requiresApproval,
			CreatedBy:        ownerID,
		}
		if !requiresApproval {
			link.UpstreamBps = req.UpstreamBps
		}
		if err := tx.Create(link).Error; err != nil {
			return fmt.Errorf("failed to create link: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"link_id":           link.ID,
		"parent_content_id": link.ParentContentID,
		"child_content_id":  link.ChildContentID,
		"requires_approval": link.RequiresApproval,
	}).Info("Content link created")
	return link, nil
}

func (s *LinkService) GetLink(ctx context.Context, linkID uuid.UUID) (*models.ContentLink, error) {
	return findLink(s.db.WithContext(ctx), linkID)
}

// GetParentLinks lists every link whose child is contentID.
func (s *LinkService) GetParentLinks(ctx context.Context, contentID uuid.UUID) ([]models.ContentLink, error) {
	return parentLinks(s.db.WithContext(ctx), contentID)
}

func findLink(tx *gorm.DB, linkID uuid.UUID) (*models.ContentLink, error) {
	var link models.ContentLink
	if err := tx.First(&link, "id = ?", linkID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("link")
		}
		return nil, fmt.Errorf("failed to load link: %w", err)
	}
	return &link, nil
}

func parentLinks(tx *gorm.DB, contentID uuid.UUID) ([]models.ContentLink, error) {
	var links []models.ContentLink
	if err := tx.Where("child_content_id = ?", contentID).Order("created_at ASC").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to load parent links: %w", err)
	}
	return links, nil
}

// requireSingleParent rejects content whose topology has more than one
// parent link. Such data needs an out-of-band fix.
func requireSingleParent(tx *gorm.DB, contentID uuid.UUID) ([]models.ContentLink, error) {
	links, err := parentLinks(tx, contentID)
	if err != nil {
		return nil, err
	}
	if len(links) > 1 {
		return nil, utils.NewStructuralError(utils.CodeMultipleParents,
			"content %s has %d parent links; exactly one is supported", contentID, len(links))
	}
	return links, nil
}
