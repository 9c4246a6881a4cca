// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// BeforeCreate assigns the primary key in the application so that the same
// models work on Postgres and on the embedded SQLite driver.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Enums
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

type SplitStatus string

const (
	SplitStatusDraft  SplitStatus = "draft"
	SplitStatusLocked SplitStatus = "locked"
)

type RelationKind string

const (
	RelationRemix       RelationKind = "remix"
	RelationDerivative  RelationKind = "derivative"
	RelationTranslation RelationKind = "translation"
	RelationCompilation RelationKind = "compilation"
)

type AuthorizationStatus string

const (
	AuthorizationPending  AuthorizationStatus = "PENDING"
	AuthorizationApproved AuthorizationStatus = "APPROVED"
	AuthorizationRejected AuthorizationStatus = "REJECTED"
)

type VoteDecision string

const (
	VoteApprove VoteDecision = "APPROVE"
	VoteReject  VoteDecision = "REJECT"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

type PaymentRail string

const (
	PaymentRailStripe    PaymentRail = "stripe"
	PaymentRailLightning PaymentRail = "lightning"
	PaymentRailOnchain   PaymentRail = "onchain"
	PaymentRailManual    PaymentRail = "manual"
)

// Bps constants
const (
	TotalBps                 = 10000
	DefaultApprovalBpsTarget = 6667
	RoleUpstream             = "upstream"
	RoleDerivativePrefix     = "derivative:"
	AnonymousBuyerKey        = "anonymous"
)
