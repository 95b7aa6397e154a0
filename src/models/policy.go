package models

import (
	"rentals/src/types"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CancellationPolicy rows are immutable. A change is a new row with a
// higher version under the same name.
type CancellationPolicy struct {
	ID          uuid.UUID                              `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string                                 `gorm:"not null;uniqueIndex:idx_policy_name_version,priority:1" json:"name"`
	Version     int                                    `gorm:"not null;uniqueIndex:idx_policy_name_version,priority:2" json:"version"`
	Description string                                 `json:"description,omitempty"`
	Rules       datatypes.JSONType[[]types.RefundRule] `gorm:"not null" json:"rules"`
	CreatedAt   time.Time                              `json:"created_at"`
}

func (p *CancellationPolicy) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (p *CancellationPolicy) BeforeUpdate(tx *gorm.DB) error {
	return &types.ValidationError{Field: "policy", Message: "cancellation policies are immutable"}
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
