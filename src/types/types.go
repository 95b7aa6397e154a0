package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type Timestamps struct {
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at,omitempty"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at,omitempty"`
}

type JSONB map[string]any

func (a JSONB) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a)
	return string(valueString), err
}
func (a *JSONB) Scan(value any) error {
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	return nil
}

type AppEnv string

const (
	Local      AppEnv = "local"
	Test       AppEnv = "test"
	Production AppEnv = "production"
)

type BookingStatus string

const (
	BOOKING_DRAFT                      BookingStatus = "DRAFT"
	BOOKING_PENDING_OWNER_APPROVAL     BookingStatus = "PENDING_OWNER_APPROVAL"
	BOOKING_PENDING_PAYMENT            BookingStatus = "PENDING_PAYMENT"
	BOOKING_CONFIRMED                  BookingStatus = "CONFIRMED"
	BOOKING_IN_PROGRESS                BookingStatus = "IN_PROGRESS"
	BOOKING_AWAITING_RETURN_INSPECTION BookingStatus = "AWAITING_RETURN_INSPECTION"
	BOOKING_COMPLETED                  BookingStatus = "COMPLETED"
	BOOKING_SETTLED                    BookingStatus = "SETTLED"
	BOOKING_DISPUTED                   BookingStatus = "DISPUTED"
	BOOKING_CANCELLED                  BookingStatus = "CANCELLED"
	BOOKING_REFUNDED                   BookingStatus = "REFUNDED"
)

// Terminal reports whether no further transition is possible.
func (s BookingStatus) Terminal() bool {
	return s == BOOKING_SETTLED || s == BOOKING_CANCELLED || s == BOOKING_REFUNDED
}

// HoldingStates are the statuses in which a booking occupies its listing's dates.
var HoldingStates = []BookingStatus{
	BOOKING_DRAFT,
	BOOKING_PENDING_OWNER_APPROVAL,
	BOOKING_PENDING_PAYMENT,
	BOOKING_CONFIRMED,
	BOOKING_IN_PROGRESS,
	BOOKING_AWAITING_RETURN_INSPECTION,
	BOOKING_DISPUTED,
}

type AccountType string

const (
	ACCOUNT_RENTER_RECEIVABLE AccountType = "RENTER_RECEIVABLE"
	ACCOUNT_PLATFORM_REVENUE  AccountType = "PLATFORM_REVENUE"
	ACCOUNT_OWNER_RECEIVABLE  AccountType = "OWNER_RECEIVABLE"
	ACCOUNT_DEPOSIT_HELD      AccountType = "DEPOSIT_HELD"
	ACCOUNT_OWNER_PAYOUT      AccountType = "OWNER_PAYOUT"
)

type EntrySide string

const (
	DEBIT  EntrySide = "DEBIT"
	CREDIT EntrySide = "CREDIT"
)

// Opposite returns the side used by an offsetting entry.
func (s EntrySide) Opposite() EntrySide {
	if s == DEBIT {
		return CREDIT
	}
	return DEBIT
}

type TransactionType string

const (
	TXN_PAYMENT            TransactionType = "PAYMENT"
	TXN_EARNINGS_SPLIT     TransactionType = "EARNINGS_SPLIT"
	TXN_DEPOSIT_COLLATERAL TransactionType = "DEPOSIT_COLLATERAL"
	TXN_DEPOSIT_CAPTURE    TransactionType = "DEPOSIT_CAPTURE"
	TXN_DEPOSIT_RELEASE    TransactionType = "DEPOSIT_RELEASE"
	TXN_REFUND             TransactionType = "REFUND"
	TXN_DISPUTE_REFUND     TransactionType = "DISPUTE_REFUND"
	TXN_PAYOUT_ADJUSTMENT  TransactionType = "PAYOUT_ADJUSTMENT"
	TXN_PAYOUT             TransactionType = "PAYOUT"
	TXN_REVERSAL           TransactionType = "REVERSAL"
	TXN_COMPENSATION       TransactionType = "COMPENSATION"
)

// Corrective reports whether the type is an offset written by the ledger itself.
func (t TransactionType) Corrective() bool {
	return t == TXN_REVERSAL || t == TXN_COMPENSATION
}

type EntryStatus string

const (
	ENTRY_PENDING  EntryStatus = "PENDING"
	ENTRY_SETTLED  EntryStatus = "SETTLED"
	ENTRY_FAILED   EntryStatus = "FAILED"
	ENTRY_REVERSED EntryStatus = "REVERSED"
)

type HoldStatus string

const (
	HOLD_AUTHORIZED HoldStatus = "AUTHORIZED"
	HOLD_CAPTURED   HoldStatus = "CAPTURED"
	HOLD_RELEASED   HoldStatus = "RELEASED"
	HOLD_EXPIRED    HoldStatus = "EXPIRED"
	HOLD_FAILED     HoldStatus = "FAILED"
)

type DisputeStatus string

const (
	DISPUTE_OPEN              DisputeStatus = "OPEN"
	DISPUTE_UNDER_REVIEW      DisputeStatus = "UNDER_REVIEW"
	DISPUTE_INVESTIGATING     DisputeStatus = "INVESTIGATING"
	DISPUTE_AWAITING_RESPONSE DisputeStatus = "AWAITING_RESPONSE"
	DISPUTE_IN_MEDIATION      DisputeStatus = "IN_MEDIATION"
	DISPUTE_RESOLVED          DisputeStatus = "RESOLVED"
	DISPUTE_CLOSED            DisputeStatus = "CLOSED"
)

type DisputePriority string

const (
	PRIORITY_LOW    DisputePriority = "LOW"
	PRIORITY_MEDIUM DisputePriority = "MEDIUM"
	PRIORITY_HIGH   DisputePriority = "HIGH"
	PRIORITY_URGENT DisputePriority = "URGENT"
)

// SLA returns the target resolution window for the priority.
func (p DisputePriority) SLA() time.Duration {
	switch p {
	case PRIORITY_URGENT:
		return 24 * time.Hour
	case PRIORITY_HIGH:
		return 48 * time.Hour
	case PRIORITY_LOW:
		return 120 * time.Hour
	default:
		return 72 * time.Hour
	}
}

type DisputeType string

const (
	DISPUTE_TYPE_DAMAGE            DisputeType = "PROPERTY_DAMAGE"
	DISPUTE_TYPE_MISSING_ITEMS     DisputeType = "MISSING_ITEMS"
	DISPUTE_TYPE_CONDITION         DisputeType = "CONDITION_MISMATCH"
	DISPUTE_TYPE_REFUND_REQUEST    DisputeType = "REFUND_REQUEST"
	DISPUTE_TYPE_PAYMENT_ISSUE     DisputeType = "PAYMENT_ISSUE"
	DISPUTE_TYPE_LATE_RETURN       DisputeType = "LATE_RETURN"
	DISPUTE_TYPE_OTHER             DisputeType = "OTHER"
	DISPUTE_TYPE_INSPECTION_ISSUES DisputeType = "INSPECTION_ISSUES"
)

type DisputeOutcome string

const (
	OUTCOME_INITIATOR_FAVOR  DisputeOutcome = "RESOLVED_INITIATOR_FAVOR"
	OUTCOME_RESPONDENT_FAVOR DisputeOutcome = "RESOLVED_RESPONDENT_FAVOR"
	OUTCOME_SPLIT            DisputeOutcome = "RESOLVED_SPLIT"
	OUTCOME_NO_ACTION        DisputeOutcome = "NO_ACTION"
	OUTCOME_BOOKING_CANCELED DisputeOutcome = "BOOKING_CANCELLED"
)

type DepositAction string

const (
	DEPOSIT_ACTION_NONE    DepositAction = ""
	DEPOSIT_ACTION_CAPTURE DepositAction = "CAPTURE"
	DEPOSIT_ACTION_RELEASE DepositAction = "RELEASE"
)

type PayoutStatus string

const (
	PAYOUT_PENDING PayoutStatus = "PENDING"
	PAYOUT_PAID    PayoutStatus = "PAID"
	PAYOUT_FAILED  PayoutStatus = "FAILED"
)

type ListingCategory string

const (
	CATEGORY_VEHICLE   ListingCategory = "vehicle"
	CATEGORY_EQUIPMENT ListingCategory = "equipment"
	CATEGORY_SPACE     ListingCategory = "space"
)
