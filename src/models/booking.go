package models

import (
	"fmt"
	"rentals/src/types"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Booking struct {
	ID         uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	ListingID  string              `gorm:"index;not null" json:"listing_id"`
	RenterID   string              `gorm:"index;not null" json:"renter_id"`
	OwnerID    string              `gorm:"index;not null" json:"owner_id"`
	StartDate  time.Time           `gorm:"index;not null" json:"start_date"`
	EndDate    time.Time           `gorm:"index;not null" json:"end_date"`
	GuestCount int                 `json:"guest_count"`
	Status     types.BookingStatus `gorm:"index;not null" json:"status"`
	Message    string              `json:"message,omitempty"`

	Currency       string      `gorm:"size:3" json:"currency"`
	BasePrice      types.Money `json:"base_price"`
	ServiceFee     types.Money `json:"service_fee"`
	Tax            types.Money `json:"tax"`
	DiscountAmount types.Money `json:"discount_amount"`
	DepositAmount  types.Money `json:"deposit_amount"`
	TotalPrice     types.Money `json:"total_price"`
	OwnerEarnings  types.Money `json:"owner_earnings"`
	PlatformFee    types.Money `json:"platform_fee"`
	RefundedAmount types.Money `json:"refunded_amount"`

	CancellationPolicyID uuid.UUID `gorm:"type:uuid" json:"cancellation_policy_id"`
	RequiresDeposit      bool      `json:"requires_deposit"`
	RequiresApproval     bool      `json:"requires_approval"`
	PaymentMethod        string    `json:"-"`
	PaymentReference     *string   `gorm:"uniqueIndex" json:"payment_reference,omitempty"`

	CategoryData datatypes.JSONType[types.CategoryExtension] `json:"category_data"`

	ReconciliationRequired bool   `gorm:"index" json:"reconciliation_required"`
	ReconciliationNote     string `json:"reconciliation_note,omitempty"`
	CancellationReason     string `json:"cancellation_reason,omitempty"`

	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	CheckedInAt  *time.Time `json:"checked_in_at,omitempty"`
	CheckedOutAt *time.Time `json:"checked_out_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`

	types.Timestamps
}

func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return b.Validate()
}

// Validate checks the price breakdown invariants.
func (b *Booking) Validate() error {
	if b.TotalPrice != b.BasePrice+b.ServiceFee+b.Tax-b.DiscountAmount {
		return fmt.Errorf("booking %s: total %s does not match its components: %w", b.ID, b.TotalPrice, types.ErrMissingReferenceData)
	}
	if b.OwnerEarnings+b.PlatformFee != b.TotalPrice-b.DepositAmount {
		return fmt.Errorf("booking %s: earnings split does not cover total minus deposit: %w", b.ID, types.ErrMissingReferenceData)
	}
	if !b.EndDate.After(b.StartDate) {
		return &types.ValidationError{Field: "end_date", Message: "must be after start_date"}
	}
	return nil
}

func (b *Booking) ApplyBreakdown(p types.PriceBreakdown) {
	b.BasePrice = p.BasePrice
	b.ServiceFee = p.ServiceFee
	b.Tax = p.Tax
	b.DiscountAmount = p.DiscountAmount
	b.DepositAmount = p.DepositAmount
	b.TotalPrice = p.TotalPrice
	b.PlatformFee = p.PlatformFee
	b.OwnerEarnings = p.OwnerEarnings
}

// Refundable is the portion of the total that cancellation refunds apply to.
// The deposit goes back to the renter through its hold instead.
func (b *Booking) Refundable() types.Money {
	return b.TotalPrice - b.DepositAmount
}

type BookingStateHistory struct {
	ID         uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	BookingID  uuid.UUID           `gorm:"type:uuid;index;not null" json:"booking_id"`
	FromStatus types.BookingStatus `json:"from_status"`
	ToStatus   types.BookingStatus `gorm:"not null" json:"to_status"`
	Reason     string              `json:"reason,omitempty"`
	ChangedBy  string              `gorm:"not null" json:"changed_by"`
	CreatedAt  time.Time           `gorm:"index" json:"created_at"`
}

func (h *BookingStateHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

// ListingLock is a per-listing row locked while checking availability.
type ListingLock struct {
	ListingID string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

type ConditionReport struct {
	ID         uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	BookingID  uuid.UUID   `gorm:"type:uuid;index;not null" json:"booking_id"`
	ReporterID string      `gorm:"not null" json:"reporter_id"`
	Phase      string      `gorm:"not null" json:"phase"`
	HasIssues  bool        `json:"has_issues"`
	Notes      string      `json:"notes,omitempty"`
	Metadata   types.JSONB `json:"metadata,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

func (c *ConditionReport) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

const (
	REPORT_PHASE_CHECKIN  = "CHECK_IN"
	REPORT_PHASE_CHECKOUT = "CHECK_OUT"
)
