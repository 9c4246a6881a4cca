// internal/models/proof.go
package models

import (
	"github.com/google/uuid"
)

// ProofRecord persists a proof bundle. Payload is the bundle JSON exactly as
// it was hashed, plus any signatures appended later.
type ProofRecord struct {
	BaseModel
	ContentID       uuid.UUID  `json:"content_id" gorm:"type:uuid;not null;index"`
	PaymentIntentID *uuid.UUID `json:"payment_intent_id,omitempty" gorm:"type:uuid;index"`
	BundleHash      string     `json:"bundle_hash" gorm:"size:64;not null;index"`
	Payload         string     `json:"-" gorm:"type:text;not null"`
	ArchiveKey      string     `json:"archive_key,omitempty" gorm:"size:255"`
}
