// internal/models/content.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Content struct {
	BaseModel
	OwnerID        uuid.UUID      `json:"owner_id" gorm:"type:uuid;not null;index"`
	Title          string         `json:"title" gorm:"size:255;not null"`
	Description    string         `json:"description" gorm:"type:text"`
	ManifestSha256 string         `json:"manifest_sha256" gorm:"size:64"`
	Tags           pq.StringArray `json:"tags" gorm:"type:text"`
	PublishedAt    *time.Time     `json:"published_at"`

	// Relationships
	SplitVersions []SplitVersion `json:"split_versions,omitempty" gorm:"foreignKey:ContentID"`
}

// SplitVersion is one numbered revision of a content item's revenue split.
// Once locked it is never edited again; changes go into a new version.
type SplitVersion struct {
	BaseModel
	ContentID            uuid.UUID   `json:"content_id" gorm:"type:uuid;not null;uniqueIndex:idx_split_versions_content_version,priority:1"`
	VersionNumber        int         `json:"version_number" gorm:"not null;uniqueIndex:idx_split_versions_content_version,priority:2"`
	Status               SplitStatus `json:"status" gorm:"type:varchar(20);not null;default:'draft';index"`
	LockedAt             *time.Time  `json:"locked_at"`
	LockedManifestSha256 string      `json:"locked_manifest_sha256,omitempty" gorm:"size:64"`
	SplitsHash           string      `json:"splits_hash,omitempty" gorm:"size:64"`

	// Relationships
	Participants []SplitParticipant `json:"participants,omitempty" gorm:"foreignKey:SplitVersionID"`
}

func (v *SplitVersion) IsLocked() bool {
	return v.Status == SplitStatusLocked
}

func (v *SplitVersion) TotalBps() int64 {
	var total int64
	for _, p := range v.Participants {
		total += p.Bps
	}
	return total
}

type SplitParticipant struct {
	BaseModel
	SplitVersionID uuid.UUID  `json:"split_version_id" gorm:"type:uuid;not null;index"`
	AccountID      *uuid.UUID `json:"account_id,omitempty" gorm:"type:uuid;index"`
	Email          string     `json:"email,omitempty" gorm:"size:255;index"`
	Bps            int64      `json:"bps" gorm:"not null"`
	Role           string     `json:"role" gorm:"size:50;not null;default:'collaborator'"`
	Accepted       bool       `json:"accepted" gorm:"default:false"`
	AcceptedAt     *time.Time `json:"accepted_at"`
}

func (p SplitParticipant) HasAccount() bool {
	return p.AccountID != nil && *p.AccountID != uuid.Nil
}

// RecipientKey identifies the payee: the account id when known, else the
// normalized email.
func (p SplitParticipant) RecipientKey() string {
	if p.HasAccount() {
		return p.AccountID.String()
	}
	return NormalizeEmail(p.Email)
}
