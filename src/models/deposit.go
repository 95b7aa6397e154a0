package models

import (
	"rentals/src/types"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DepositHold references its booking; bookings look holds up by booking_id.
type DepositHold struct {
	ID             uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	BookingID      uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_hold_booking_generation,priority:1" json:"booking_id"`
	RenterID       string           `gorm:"index" json:"renter_id"`
	OwnerID        string           `gorm:"index" json:"owner_id"`
	PaymentMethod  string           `json:"-"`
	HoldReference  string           `gorm:"index" json:"hold_reference"`
	Generation     int              `gorm:"not null;default:1;uniqueIndex:idx_hold_booking_generation,priority:2" json:"generation"`
	Amount         types.Money      `gorm:"not null" json:"amount"`
	DeductedAmount types.Money      `json:"deducted_amount"`
	Currency       string           `gorm:"size:3" json:"currency"`
	Status         types.HoldStatus `gorm:"index;not null" json:"status"`
	Collateralized bool             `json:"collateralized"`
	ExpiresAt      time.Time        `gorm:"index;not null" json:"expires_at"`
	CapturedAt     *time.Time       `json:"captured_at,omitempty"`
	ReleasedAt     *time.Time       `json:"released_at,omitempty"`
	ExpiredAt      *time.Time       `json:"expired_at,omitempty"`
	Reason         string           `json:"reason,omitempty"`

	types.Timestamps
}

func (h *DepositHold) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

// IdempotencyKey identifies the gateway authorization for this hold.
func (h *DepositHold) IdempotencyKey() string {
	return "deposit:" + h.BookingID.String() + ":" + itoa(h.Generation)
}
