// internal/models/payment.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Amounts are integer minor units of Currency (sats, cents).
type PaymentIntent struct {
	BaseModel
	ContentID      uuid.UUID     `json:"content_id" gorm:"type:uuid;not null;index"`
	ManifestSha256 string        `json:"manifest_sha256" gorm:"size:64;not null"`
	BuyerID        *uuid.UUID    `json:"buyer_id,omitempty" gorm:"type:uuid;index"`
	Amount         int64         `json:"amount" gorm:"not null"`
	Currency       string        `json:"currency" gorm:"size:10;not null;default:'sat'"`
	Rail           PaymentRail   `json:"rail" gorm:"type:varchar(20);not null"`
	RailReference  string        `json:"rail_reference,omitempty" gorm:"size:255;index"`
	ClientSecret   string        `json:"-" gorm:"size:255"`
	Status         PaymentStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	NetAmount      *int64        `json:"net_amount,omitempty"`
	PaidAt         *time.Time    `json:"paid_at"`
}

func (p *PaymentIntent) IsPaid() bool {
	return p.Status == PaymentStatusPaid
}

// Settlement is written once per paid PaymentIntent and never updated.
type Settlement struct {
	BaseModel
	PaymentIntentID      uuid.UUID  `json:"payment_intent_id" gorm:"type:uuid;not null;uniqueIndex"`
	ContentID            uuid.UUID  `json:"content_id" gorm:"type:uuid;not null;index"`
	SplitVersionID       uuid.UUID  `json:"split_version_id" gorm:"type:uuid;not null"`
	ParentLinkID         *uuid.UUID `json:"parent_link_id,omitempty" gorm:"type:uuid"`
	ParentSplitVersionID *uuid.UUID `json:"parent_split_version_id,omitempty" gorm:"type:uuid"`
	Currency             string     `json:"currency" gorm:"size:10;not null"`
	GrossAmount          int64      `json:"gross_amount" gorm:"not null"`
	NetAmount            int64      `json:"net_amount" gorm:"not null"`
	UpstreamBps          int64      `json:"upstream_bps" gorm:"not null;default:0"`
	UpstreamAmount       int64      `json:"upstream_amount" gorm:"not null;default:0"`

	// Relationships
	Lines []SettlementLine `json:"lines" gorm:"foreignKey:SettlementID"`
}

func (s *Settlement) LinesTotal() int64 {
	var total int64
	for _, l := range s.Lines {
		total += l.Amount
	}
	return total
}

type SettlementLine struct {
	BaseModel
	SettlementID uuid.UUID  `json:"settlement_id" gorm:"type:uuid;not null;index"`
	Position     int        `json:"position" gorm:"not null"`
	AccountID    *uuid.UUID `json:"account_id,omitempty" gorm:"type:uuid;index"`
	Email        string     `json:"email,omitempty" gorm:"size:255"`
	Role         string     `json:"role" gorm:"size:80;not null"`
	Amount       int64      `json:"amount" gorm:"not null"`
}

// Entitlement grants a buyer (or the anonymous buyer) access to one manifest.
type Entitlement struct {
	BaseModel
	BuyerKey        string     `json:"buyer_key" gorm:"size:64;not null;uniqueIndex:idx_entitlements_buyer_content_manifest,priority:1"`
	BuyerID         *uuid.UUID `json:"buyer_id,omitempty" gorm:"type:uuid"`
	ContentID       uuid.UUID  `json:"content_id" gorm:"type:uuid;not null;uniqueIndex:idx_entitlements_buyer_content_manifest,priority:2"`
	ManifestSha256  string     `json:"manifest_sha256" gorm:"size:64;not null;uniqueIndex:idx_entitlements_buyer_content_manifest,priority:3"`
	PaymentIntentID uuid.UUID  `json:"payment_intent_id" gorm:"type:uuid;not null;index"`
}

func BuyerKeyFor(buyerID *uuid.UUID) string {
	if buyerID == nil || *buyerID == uuid.Nil {
		return AnonymousBuyerKey
	}
	return buyerID.String()
}
