package lib

import (
	"context"
	"log"
	"rentals/src/types"
	"time"
)

const (
	EventBookingRequested       = "BookingRequested"
	EventBookingSubmitted       = "BookingSubmitted"
	EventBookingApproved        = "BookingApproved"
	EventBookingConfirmed       = "BookingConfirmed"
	EventBookingCheckedIn       = "BookingCheckedIn"
	EventBookingCheckedOut      = "BookingCheckedOut"
	EventBookingCompleted       = "BookingCompleted"
	EventBookingSettled         = "BookingSettled"
	EventBookingCancelled       = "BookingCancelled"
	EventBookingRefunded        = "BookingRefunded"
	EventRefundFailed           = "RefundFailed"
	EventDepositAuthorized      = "DepositAuthorized"
	EventDepositCaptured        = "DepositCaptured"
	EventDepositReleased        = "DepositReleased"
	EventDepositExpired         = "DepositExpired"
	EventDisputeOpened          = "DisputeOpened"
	EventDisputeEscalated       = "DisputeEscalated"
	EventDisputeResolved        = "DisputeResolved"
	EventDisputeClosed          = "DisputeClosed"
	EventPayoutProcessed        = "PayoutProcessed"
	EventPayoutFailed           = "PayoutFailed"
	EventReconciliationRequired = "ReconciliationRequired"
)

type Event struct {
	Name       string      `json:"event"`
	BookingID  string      `json:"booking_id,omitempty"`
	DisputeID  string      `json:"dispute_id,omitempty"`
	PayoutID   string      `json:"payout_id,omitempty"`
	OwnerID    string      `json:"owner_id,omitempty"`
	Payload    types.JSONB `json:"payload,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Notifier delivers events without blocking the caller on delivery.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, e Event) {
	log.Printf("[Notify] %s booking=%s dispute=%s payout=%s\n", e.Name, e.BookingID, e.DisputeID, e.PayoutID)
}
