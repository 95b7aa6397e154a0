package models

import (
	"rentals/src/types"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Dispute struct {
	ID                uuid.UUID             `gorm:"type:uuid;primaryKey" json:"id"`
	BookingID         uuid.UUID             `gorm:"type:uuid;index;not null" json:"booking_id"`
	ConditionReportID *uuid.UUID            `gorm:"type:uuid" json:"condition_report_id,omitempty"`
	InitiatorID       string                `gorm:"not null" json:"initiator_id"`
	RespondentID      string                `gorm:"not null" json:"respondent_id"`
	Type              types.DisputeType     `gorm:"not null" json:"type"`
	Title             string                `json:"title"`
	Description       string                `json:"description"`
	Amount            types.Money           `json:"amount"`
	Status            types.DisputeStatus   `gorm:"index;not null" json:"status"`
	Priority          types.DisputePriority `gorm:"not null" json:"priority"`
	SLADeadline       time.Time             `gorm:"index;not null" json:"sla_deadline"`
	EscalatedAt       *time.Time            `json:"escalated_at,omitempty"`
	PreDisputeStatus  types.BookingStatus   `gorm:"not null" json:"pre_dispute_status"`
	ResolvedAt        *time.Time            `json:"resolved_at,omitempty"`
	ClosedAt          *time.Time            `json:"closed_at,omitempty"`

	types.Timestamps
}

func (d *Dispute) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// Active reports whether the dispute still blocks its booking.
func (d *Dispute) Active() bool {
	return d.Status != types.DISPUTE_RESOLVED && d.Status != types.DISPUTE_CLOSED
}

type DisputeResolution struct {
	ID               uuid.UUID            `gorm:"type:uuid;primaryKey" json:"id"`
	DisputeID        uuid.UUID            `gorm:"type:uuid;uniqueIndex;not null" json:"dispute_id"`
	Outcome          types.DisputeOutcome `gorm:"not null" json:"outcome"`
	RefundAmount     types.Money          `json:"refund_amount"`
	PayoutAdjustment types.Money          `json:"payout_adjustment"`
	DepositAction    types.DepositAction  `json:"deposit_action,omitempty"`
	DepositDeduction types.Money          `json:"deposit_deduction,omitempty"`
	ResolvedBy       string               `gorm:"not null" json:"resolved_by"`
	Notes            string               `json:"notes,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
}

func (r *DisputeResolution) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

type DisputeTimelineEntry struct {
	ID         uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	DisputeID  uuid.UUID           `gorm:"type:uuid;index;not null" json:"dispute_id"`
	Actor      string              `gorm:"not null" json:"actor"`
	Action     string              `gorm:"not null" json:"action"`
	FromStatus types.DisputeStatus `json:"from_status,omitempty"`
	ToStatus   types.DisputeStatus `json:"to_status,omitempty"`
	Message    string              `json:"message,omitempty"`
	Metadata   types.JSONB         `json:"metadata,omitempty"`
	CreatedAt  time.Time           `gorm:"index" json:"created_at"`
}

func (t *DisputeTimelineEntry) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

const (
	TIMELINE_OPENED          = "OPENED"
	TIMELINE_STATUS_CHANGED  = "STATUS_CHANGED"
	TIMELINE_COMMENT         = "COMMENT"
	TIMELINE_ESCALATED       = "ESCALATED"
	TIMELINE_DEPOSIT         = "DEPOSIT_ACTION"
	TIMELINE_REFUND_POSTED   = "REFUND_POSTED"
	TIMELINE_PAYOUT_ADJUSTED = "PAYOUT_ADJUSTED"
	TIMELINE_RESOLVED        = "RESOLVED"
	TIMELINE_CLOSED          = "CLOSED"
)
