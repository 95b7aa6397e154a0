package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"rentals/src/ledger"
	"rentals/src/lib"
	"rentals/src/models"
	"rentals/src/models/scopes"
	"rentals/src/policy"
	"rentals/src/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CancelInput struct {
	BookingID uuid.UUID
	Actor     string
	Reason    string
	// DepositDeduction is captured from the deposit hold instead of releasing it.
	DepositDeduction types.Money
}

func RefundReference(id uuid.UUID) string {
	return "refund:" + id.String()
}

// RefundFor returns what a cancellation by actor at the engine's current
// time would refund.
func (e *Engine) RefundFor(tx *gorm.DB, b *models.Booking, actor string) (types.Money, types.Percentage, error) {
	pct := policy.HostCancellationRefund()
	if actor != b.OwnerID {
		p, err := policy.Find(tx, b.CancellationPolicyID)
		var nf *types.NotFoundError
		if errors.As(err, &nf) {
			return 0, 0, fmt.Errorf("cancellation policy %s: %w", b.CancellationPolicyID, types.ErrMissingReferenceData)
		}
		if err != nil {
			return 0, 0, err
		}
		pct = policy.RefundPercentage(p.Rules.Data(), e.now(), b.StartDate)
	}
	if b.PaymentReference == nil {
		return 0, pct, nil
	}
	refund := b.Refundable().Apply(pct)
	if remaining := b.Refundable() - b.RefundedAmount; refund > remaining {
		refund = remaining
	}
	return refund, pct, nil
}

// Cancel ends the booking before completion. Paid bookings are refunded
// per their cancellation policy, or in full when the owner cancels.
func (e *Engine) Cancel(ctx context.Context, in CancelInput) (*models.Booking, error) {
	var refund types.Money
	var pct types.Percentage
	b, err := e.inTx(ctx, in.BookingID, func(tx *gorm.DB, b *models.Booking) error {
		if b.Status == types.BOOKING_DISPUTED || !CanTransition(b.Status, types.BOOKING_CANCELLED) {
			return &types.InvalidTransitionError{Entity: "booking", ID: b.ID.String(), Current: string(b.Status), Attempted: string(types.BOOKING_CANCELLED)}
		}
		if in.DepositDeduction < 0 || in.DepositDeduction > b.DepositAmount {
			return &types.ValidationError{Field: "deposit_deduction", Message: fmt.Sprintf("must be between 0 and %s", b.DepositAmount)}
		}
		if in.DepositDeduction > 0 {
			if in.Actor == b.OwnerID {
				return &types.ForbiddenError{Actor: in.Actor, Action: "deduct from the deposit of a booking they cancel"}
			}
			var holds int64
			if err := tx.Model(&models.DepositHold{}).Scopes(scopes.WithBooking(b.ID)).Count(&holds).Error; err != nil {
				return err
			}
			if holds == 0 {
				return &types.ValidationError{Field: "deposit_deduction", Message: "booking has no deposit hold"}
			}
		}
		var err error
		refund, pct, err = e.RefundFor(tx, b, in.Actor)
		if err != nil {
			return err
		}

		to := types.BOOKING_CANCELLED
		if refund > 0 {
			if err := e.postRefund(tx, b, refund, in.Reason); err != nil {
				return err
			}
			b.RefundedAmount += refund
			to = types.BOOKING_REFUNDED
		}
		b.CancellationReason = in.Reason
		if err := tx.Model(b).Updates(map[string]any{
			"refunded_amount":     b.RefundedAmount,
			"cancellation_reason": in.Reason,
		}).Error; err != nil {
			return err
		}
		return Transition(tx, b, to, in.Actor, in.Reason, e.now())
	})
	if err != nil {
		return b, err
	}

	log.Printf("[Booking] %s cancelled by %s, refund %s (%s)\n", b.ID, in.Actor, refund, pct)
	if refund > 0 {
		if err := e.ExecuteRefund(ctx, b.ID, RefundReference(b.ID)); err != nil {
			// stays pending for the retry sweep
			log.Printf("[Booking] refund for %s deferred: %s\n", b.ID, err.Error())
		}
	}
	e.resolveDeposit(ctx, b, in.DepositDeduction, in.Reason)
	e.notify(ctx, lib.EventBookingCancelled, b, types.JSONB{
		"status":     b.Status,
		"refund":     int64(refund),
		"refund_bps": int64(pct),
		"reason":     in.Reason,
	})
	return b, nil
}

func (e *Engine) postRefund(tx *gorm.DB, b *models.Booking, amount types.Money, reason string) error {
	parts := amount.Split(b.OwnerEarnings, b.PlatformFee)
	var lines []ledger.Line
	if parts[0] > 0 {
		lines = append(lines, ledger.Debit(types.ACCOUNT_OWNER_RECEIVABLE, parts[0]))
	}
	if parts[1] > 0 {
		lines = append(lines, ledger.Debit(types.ACCOUNT_PLATFORM_REVENUE, parts[1]))
	}
	lines = append(lines, ledger.Credit(types.ACCOUNT_RENTER_RECEIVABLE, amount))
	_, err := e.ledger.Post(tx, ledger.Posting{
		BookingID:       &b.ID,
		OwnerID:         b.OwnerID,
		TransactionType: types.TXN_REFUND,
		ReferenceID:     RefundReference(b.ID),
		Currency:        b.Currency,
		Status:          types.ENTRY_PENDING,
		Reason:          reason,
		Lines:           lines,
	})
	return err
}

// resolveDeposit releases the booking's hold, or captures deduction from it.
// A lapsed hold is reauthorized before the capture.
func (e *Engine) resolveDeposit(ctx context.Context, b *models.Booking, deduction types.Money, reason string) {
	var err error
	if deduction > 0 {
		_, err = e.deposits.CaptureForBooking(ctx, b.ID, deduction, reason)
	} else {
		_, err = e.deposits.ReleaseForBooking(ctx, b.ID)
	}
	if err != nil {
		log.Printf("[Booking] deposit for %s not resolved: %s\n", b.ID, err.Error())
	}
}

// ExecuteRefund pays back the renter credit of a pending refund posting
// through the gateway and settles it. The posting reference doubles as the
// gateway idempotency key.
func (e *Engine) ExecuteRefund(ctx context.Context, bookingID uuid.UUID, ref string) error {
	b, err := e.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	entries, err := e.ledger.Entries(e.db.WithContext(ctx), ref)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return &types.NotFoundError{Entity: "refund posting", ID: ref}
	}
	var amount types.Money
	pending := false
	for _, en := range entries {
		if en.Status == types.ENTRY_PENDING {
			pending = true
		}
		if en.Side == types.CREDIT && en.AccountType == types.ACCOUNT_RENTER_RECEIVABLE {
			amount += en.Amount
		}
	}
	if !pending {
		return nil
	}
	if b.PaymentReference == nil {
		return fmt.Errorf("booking %s has no payment to refund: %w", b.ID, types.ErrMissingReferenceData)
	}

	refundRef, err := e.gateway.Refund(ctx, *b.PaymentReference, amount, ref, map[string]string{"booking_id": b.ID.String()})
	if err != nil {
		log.Printf("[Booking] refund %s failed: %s\n", ref, err.Error())
		e.notify(ctx, lib.EventRefundFailed, b, types.JSONB{"reference": ref, "amount": int64(amount)})
		return &types.PaymentFailedError{Operation: "refund", Err: err}
	}
	if err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return e.ledger.Settle(tx, ref)
	}); err != nil {
		return err
	}
	e.notify(ctx, lib.EventBookingRefunded, b, types.JSONB{"reference": ref, "refund_reference": refundRef, "amount": int64(amount)})
	return nil
}

// RetryPendingRefunds re-drives refund postings whose gateway call failed.
func (e *Engine) RetryPendingRefunds(ctx context.Context) (int, error) {
	n := 0
	for _, txnType := range []types.TransactionType{types.TXN_REFUND, types.TXN_DISPUTE_REFUND} {
		refs, err := e.ledger.PendingReferences(e.db.WithContext(ctx), txnType, e.opts.SweepBatch)
		if err != nil {
			return n, err
		}
		for _, ref := range refs {
			entries, err := e.ledger.Entries(e.db.WithContext(ctx), ref)
			if err != nil {
				return n, err
			}
			if len(entries) == 0 || entries[0].BookingID == nil {
				continue
			}
			if err := e.ExecuteRefund(ctx, *entries[0].BookingID, ref); err != nil {
				log.Printf("[Booking] refund retry %s: %s\n", ref, err.Error())
				continue
			}
			n++
		}
	}
	return n, nil
}
