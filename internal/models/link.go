// internal/models/link.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// ContentLink marks ChildContentID as a derivative of ParentContentID.
type ContentLink struct {
	BaseModel
	ParentContentID  uuid.UUID    `json:"parent_content_id" gorm:"type:uuid;not null;index"`
	ChildContentID   uuid.UUID    `json:"child_content_id" gorm:"type:uuid;not null;index"`
	Relation         RelationKind `json:"relation" gorm:"type:varchar(20);not null"`
	UpstreamBps      int64        `json:"upstream_bps" gorm:"not null;default:0"`
	RequiresApproval bool         `json:"requires_approval" gorm:"not null"`
	ApprovedAt       *time.Time   `json:"approved_at"`
	CreatedBy        uuid.UUID    `json:"created_by" gorm:"type:uuid;not null"`
}

// Cleared reports whether the link may carry revenue.
func (l *ContentLink) Cleared() bool {
	return !l.RequiresApproval || l.ApprovedAt != nil
}

type DerivativeAuthorization struct {
	BaseModel
	LinkID            uuid.UUID           `json:"link_id" gorm:"type:uuid;not null;uniqueIndex"`
	RequiredApprovers int                 `json:"required_approvers" gorm:"not null;default:0"`
	EligibleWeightBps int64               `json:"eligible_weight_bps" gorm:"not null;default:0"`
	ApproveWeightBps  int64               `json:"approve_weight_bps" gorm:"not null;default:0"`
	RejectWeightBps   int64               `json:"reject_weight_bps" gorm:"not null;default:0"`
	ApprovalBpsTarget int64               `json:"approval_bps_target" gorm:"not null;default:6667"`
	AgreedRateBps     *int64              `json:"agreed_rate_bps"`
	Status            AuthorizationStatus `json:"status" gorm:"type:varchar(20);not null;default:'PENDING';index"`
	ApprovedAt        *time.Time          `json:"approved_at"`
	RejectedAt        *time.Time          `json:"rejected_at"`

	// Relationships
	Votes []ApprovalVote `json:"votes,omitempty" gorm:"foreignKey:AuthorizationID"`
}

func (a *DerivativeAuthorization) IsTerminal() bool {
	return a.Status == AuthorizationApproved || a.Status == AuthorizationRejected
}

// ApprovalVote holds the latest decision of one approver. ApproverKey is the
// matched approver's recipient key, so re-votes overwrite in place.
type ApprovalVote struct {
	BaseModel
	AuthorizationID uuid.UUID    `json:"authorization_id" gorm:"type:uuid;not null;uniqueIndex:idx_approval_votes_authorization_approver,priority:1"`
	ApproverKey     string       `json:"approver_key" gorm:"size:255;not null;uniqueIndex:idx_approval_votes_authorization_approver,priority:2"`
	VoterAccountID  *uuid.UUID   `json:"voter_account_id,omitempty" gorm:"type:uuid"`
	VoterEmail      string       `json:"voter_email,omitempty" gorm:"size:255"`
	Decision        VoteDecision `json:"decision" gorm:"type:varchar(10);not null"`
	ProposedRateBps *int64       `json:"proposed_rate_bps,omitempty"`
	WeightBps       int64        `json:"weight_bps" gorm:"not null;default:0"`
}
