package models

import (
	"rentals/src/types"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerEntry is one side of a double-entry posting. Entries sharing
// (transaction_type, reference_id) form one posting and must balance.
type LedgerEntry struct {
	ID              uuid.UUID             `gorm:"type:uuid;primaryKey" json:"id"`
	BookingID       *uuid.UUID            `gorm:"type:uuid;index" json:"booking_id,omitempty"`
	OwnerID         string                `gorm:"index" json:"owner_id,omitempty"`
	AccountType     types.AccountType     `gorm:"index;not null" json:"account_type"`
	Side            types.EntrySide       `gorm:"not null" json:"side"`
	Amount          types.Money           `gorm:"not null" json:"amount"`
	Currency        string                `gorm:"size:3" json:"currency"`
	TransactionType types.TransactionType `gorm:"not null;uniqueIndex:idx_ledger_posting_leg,priority:1" json:"transaction_type"`
	ReferenceID     string                `gorm:"not null;index;uniqueIndex:idx_ledger_posting_leg,priority:2" json:"reference_id"`
	Leg             int                   `gorm:"not null;uniqueIndex:idx_ledger_posting_leg,priority:3" json:"leg"`
	Status          types.EntryStatus     `gorm:"index;not null" json:"status"`
	Reason          string                `json:"reason,omitempty"`
	SettledAt       *time.Time            `json:"settled_at,omitempty"`

	types.Timestamps
}

func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Signed returns the amount as a credit-positive value.
func (e *LedgerEntry) Signed() types.Money {
	if e.Side == types.DEBIT {
		return -e.Amount
	}
	return e.Amount
}
