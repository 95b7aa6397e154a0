package models

import (
	"rentals/src/types"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Payout struct {
	ID                uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID           string             `gorm:"index;not null" json:"owner_id"`
	Amount            types.Money        `gorm:"not null" json:"amount"`
	Currency          string             `gorm:"size:3" json:"currency"`
	Status            types.PayoutStatus `gorm:"index;not null" json:"status"`
	Destination       string             `json:"-"`
	TransferReference string             `json:"transfer_reference,omitempty"`
	Attempts          int                `json:"attempts"`
	FailureReason     string             `json:"failure_reason,omitempty"`
	PaidAt            *time.Time         `json:"paid_at,omitempty"`

	types.Timestamps
}

func (p *Payout) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (p *Payout) IdempotencyKey() string {
	return "payout:" + p.ID.String()
}

// All returns every persisted model, in migration order.
func All() []any {
	return []any{
		&CancellationPolicy{},
		&ListingLock{},
		&Booking{},
		&BookingStateHistory{},
		&ConditionReport{},
		&LedgerEntry{},
		&DepositHold{},
		&Dispute{},
		&DisputeResolution{},
		&DisputeTimelineEntry{},
		&Payout{},
	}
}
