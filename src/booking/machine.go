package booking

import (
	"context"
	"errors"
	"log"
	"rentals/src/lib"
	"rentals/src/models"
	"rentals/src/models/scopes"
	"rentals/src/types"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var transitions = map[types.BookingStatus][]types.BookingStatus{
	types.BOOKING_DRAFT: {
		types.BOOKING_PENDING_OWNER_APPROVAL,
		types.BOOKING_PENDING_PAYMENT,
		types.BOOKING_CANCELLED,
	},
	types.BOOKING_PENDING_OWNER_APPROVAL: {
		types.BOOKING_PENDING_PAYMENT,
		types.BOOKING_CANCELLED,
	},
	types.BOOKING_PENDING_PAYMENT: {
		types.BOOKING_CONFIRMED,
		types.BOOKING_CANCELLED,
		types.BOOKING_REFUNDED,
	},
	types.BOOKING_CONFIRMED: {
		types.BOOKING_IN_PROGRESS,
		types.BOOKING_CANCELLED,
		types.BOOKING_REFUNDED,
	},
	types.BOOKING_IN_PROGRESS: {
		types.BOOKING_AWAITING_RETURN_INSPECTION,
		types.BOOKING_DISPUTED,
		types.BOOKING_CANCELLED,
		types.BOOKING_REFUNDED,
	},
	types.BOOKING_AWAITING_RETURN_INSPECTION: {
		types.BOOKING_COMPLETED,
		types.BOOKING_DISPUTED,
		types.BOOKING_CANCELLED,
		types.BOOKING_REFUNDED,
	},
	types.BOOKING_COMPLETED: {
		types.BOOKING_SETTLED,
		types.BOOKING_DISPUTED,
	},
	types.BOOKING_DISPUTED: {
		types.BOOKING_IN_PROGRESS,
		types.BOOKING_AWAITING_RETURN_INSPECTION,
		types.BOOKING_COMPLETED,
		types.BOOKING_REFUNDED,
		types.BOOKING_CANCELLED,
	},
}

// CanTransition reports whether from → to is an edge of the booking lifecycle.
func CanTransition(from, to types.BookingStatus) bool {
	return slices.Contains(transitions[from], to)
}

// Next lists the statuses reachable from s in one step.
func Next(s types.BookingStatus) []types.BookingStatus {
	return slices.Clone(transitions[s])
}

const SystemActor = "system"

// milestone names the timestamp column stamped when a booking first reaches a status.
func milestone(from, to types.BookingStatus) string {
	switch to {
	case types.BOOKING_PENDING_OWNER_APPROVAL:
		return "submitted_at"
	case types.BOOKING_PENDING_PAYMENT:
		if from == types.BOOKING_DRAFT {
			return "submitted_at"
		}
		return "approved_at"
	case types.BOOKING_CONFIRMED:
		return "confirmed_at"
	case types.BOOKING_IN_PROGRESS:
		return "checked_in_at"
	case types.BOOKING_AWAITING_RETURN_INSPECTION:
		return "checked_out_at"
	case types.BOOKING_COMPLETED:
		return "completed_at"
	case types.BOOKING_SETTLED:
		return "settled_at"
	case types.BOOKING_CANCELLED, types.BOOKING_REFUNDED:
		return "cancelled_at"
	}
	return ""
}

func milestoneSet(b *models.Booking, column string) bool {
	switch column {
	case "submitted_at":
		return b.SubmittedAt != nil
	case "approved_at":
		return b.ApprovedAt != nil
	case "confirmed_at":
		return b.ConfirmedAt != nil
	case "checked_in_at":
		return b.CheckedInAt != nil
	case "checked_out_at":
		return b.CheckedOutAt != nil
	case "completed_at":
		return b.CompletedAt != nil
	case "settled_at":
		return b.SettledAt != nil
	case "cancelled_at":
		return b.CancelledAt != nil
	}
	return true
}

func stamp(b *models.Booking, column string, at time.Time) {
	switch column {
	case "submitted_at":
		b.SubmittedAt = &at
	case "approved_at":
		b.ApprovedAt = &at
	case "confirmed_at":
		b.ConfirmedAt = &at
	case "checked_in_at":
		b.CheckedInAt = &at
	case "checked_out_at":
		b.CheckedOutAt = &at
	case "completed_at":
		b.CompletedAt = &at
	case "settled_at":
		b.SettledAt = &at
	case "cancelled_at":
		b.CancelledAt = &at
	}
}

// Transition moves a locked booking to status to and appends its history
// row. The update is guarded on the current status so a stale copy can
// never overwrite a concurrent transition.
func Transition(tx *gorm.DB, b *models.Booking, to types.BookingStatus, actor, reason string, at time.Time) error {
	if b.ReconciliationRequired {
		return &types.ReconciliationRequiredError{BookingID: b.ID.String(), Cause: b.ReconciliationNote}
	}
	from := b.Status
	if !CanTransition(from, to) {
		return &types.InvalidTransitionError{Entity: "booking", ID: b.ID.String(), Current: string(from), Attempted: string(to)}
	}
	if actor == "" {
		actor = SystemActor
	}

	updates := map[string]any{"status": to, "updated_at": at}
	column := milestone(from, to)
	if column != "" && !milestoneSet(b, column) {
		updates[column] = at
	}
	res := tx.Model(&models.Booking{}).
		Where("id = ? AND status = ?", b.ID, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &types.ConflictError{Resource: "booking " + b.ID.String(), Message: "status changed concurrently"}
	}

	history := models.BookingStateHistory{
		BookingID:  b.ID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		ChangedBy:  actor,
		CreatedAt:  at,
	}
	if err := tx.Create(&history).Error; err != nil {
		return err
	}

	b.Status = to
	b.UpdatedAt = at
	if _, ok := updates[column]; ok {
		stamp(b, column, at)
	}
	return nil
}

// LockForUpdate loads the booking holding its row lock until the
// transaction ends.
func LockForUpdate(tx *gorm.DB, id uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	err := tx.Scopes(scopes.ForUpdate, scopes.WithID(id)).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &types.NotFoundError{Entity: "booking", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Freeze flags a booking for manual reconciliation after a fatal
// bookkeeping error. Every later command on it fails until cleared.
func Freeze(ctx context.Context, db *gorm.DB, notifier lib.Notifier, id uuid.UUID, cause error) {
	log.Printf("[Booking] freezing booking %s for reconciliation: %s\n", id, cause.Error())
	err := db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ?", id).
		Updates(map[string]any{"reconciliation_required": true, "reconciliation_note": cause.Error()}).
		Error
	if err != nil {
		log.Printf("[Booking] could not freeze booking %s: %s\n", id, err.Error())
	}
	notifier.Notify(ctx, lib.Event{
		Name:       lib.EventReconciliationRequired,
		BookingID:  id.String(),
		Payload:    types.JSONB{"cause": cause.Error()},
		OccurredAt: time.Now().UTC(),
	})
}
