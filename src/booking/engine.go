package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"rentals/src/deposit"
	"rentals/src/ledger"
	"rentals/src/lib"
	"rentals/src/models"
	"rentals/src/models/scopes"
	"rentals/src/policy"
	"rentals/src/types"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DisputeOpener opens the dispute raised by a failed return inspection
// inside the inspecting transaction.
type DisputeOpener interface {
	OpenForInspection(tx *gorm.DB, b *models.Booking, report *models.ConditionReport, actor string, claimed types.Money) (*models.Dispute, error)
}

type Options struct {
	CheckInEarlyWindow time.Duration
	RequestTTL         time.Duration
	Currency           string
	SweepBatch         int
}

type Engine struct {
	db       *gorm.DB
	ledger   *ledger.Store
	deposits *deposit.Manager
	catalog  lib.Catalog
	gateway  lib.PaymentGateway
	notifier lib.Notifier
	disputes DisputeOpener
	opts     Options
	now      func() time.Time
}

func NewEngine(db *gorm.DB, store *ledger.Store, deposits *deposit.Manager, catalog lib.Catalog, gateway lib.PaymentGateway, notifier lib.Notifier, opts Options, now func() time.Time) *Engine {
	if opts.SweepBatch == 0 {
		opts.SweepBatch = 100
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		db:       db,
		ledger:   store,
		deposits: deposits,
		catalog:  catalog,
		gateway:  gateway,
		notifier: notifier,
		opts:     opts,
		now:      now,
	}
}

func (e *Engine) SetDisputeOpener(d DisputeOpener) {
	e.disputes = d
}

// inTx runs fn on the locked booking. Fatal bookkeeping errors freeze the
// booking once the transaction has rolled back.
func (e *Engine) inTx(ctx context.Context, id uuid.UUID, fn func(tx *gorm.DB, b *models.Booking) error) (*models.Booking, error) {
	var b *models.Booking
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		b, err = LockForUpdate(tx, id)
		if err != nil {
			return err
		}
		if b.ReconciliationRequired {
			return &types.ReconciliationRequiredError{BookingID: b.ID.String(), Cause: b.ReconciliationNote}
		}
		return fn(tx, b)
	})
	if err != nil && types.IsFatal(err) {
		Freeze(ctx, e.db, e.notifier, id, err)
		return b, &types.ReconciliationRequiredError{BookingID: id.String(), Cause: err.Error()}
	}
	return b, err
}

func (e *Engine) notify(ctx context.Context, name string, b *models.Booking, payload types.JSONB) {
	e.notifier.Notify(ctx, lib.Event{
		Name:       name,
		BookingID:  b.ID.String(),
		OwnerID:    b.OwnerID,
		Payload:    payload,
		OccurredAt: e.now(),
	})
}

type RequestInput struct {
	ListingID  string
	RenterID   string
	StartDate  time.Time
	EndDate    time.Time
	GuestCount int
	Message    string
}

// RentalDays counts started 24h periods between start and end.
func RentalDays(start, end time.Time) int64 {
	d := end.Sub(start)
	days := int64(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

func (e *Engine) checkRequest(in RequestInput, terms *types.ListingTerms) error {
	if !in.EndDate.After(in.StartDate) {
		return &types.ValidationError{Field: "end_date", Message: "must be after start_date"}
	}
	if in.StartDate.Before(e.now()) {
		return &types.ValidationError{Field: "start_date", Message: "must be in the future"}
	}
	if in.RenterID == terms.OwnerID {
		return &types.ValidationError{Field: "renter_id", Message: "owners cannot book their own listing"}
	}
	if in.GuestCount < 1 || (terms.MaxGuests > 0 && in.GuestCount > terms.MaxGuests) {
		return &types.ValidationError{Field: "guest_count", Message: fmt.Sprintf("must be between 1 and %d", terms.MaxGuests)}
	}
	if terms.AvailableFrom != nil && in.StartDate.Before(*terms.AvailableFrom) {
		return &types.ValidationError{Field: "start_date", Message: "listing is not available yet"}
	}
	if terms.AvailableUntil != nil && in.EndDate.After(*terms.AvailableUntil) {
		return &types.ValidationError{Field: "end_date", Message: "listing is not available that long"}
	}
	return nil
}

// RequestBooking prices the rental from the listing's current terms and
// creates a DRAFT booking. The availability check and insert are atomic per
// listing.
func (e *Engine) RequestBooking(ctx context.Context, in RequestInput) (*models.Booking, error) {
	in.StartDate = in.StartDate.UTC()
	in.EndDate = in.EndDate.UTC()
	terms, err := e.catalog.Listing(ctx, in.ListingID)
	if err != nil {
		return nil, err
	}
	if err := e.checkRequest(in, terms); err != nil {
		return nil, err
	}
	breakdown, err := terms.Quote(RentalDays(in.StartDate, in.EndDate))
	if err != nil {
		return nil, err
	}
	extension, err := types.ParseCategoryExtension(terms.Category, terms.CategoryData)
	if err != nil {
		return nil, err
	}
	currency := terms.Currency
	if currency == "" {
		currency = e.opts.Currency
	}

	b := &models.Booking{
		ListingID:        terms.ListingID,
		RenterID:         in.RenterID,
		OwnerID:          terms.OwnerID,
		StartDate:        in.StartDate,
		EndDate:          in.EndDate,
		GuestCount:       in.GuestCount,
		Status:           types.BOOKING_DRAFT,
		Message:          in.Message,
		Currency:         currency,
		RequiresDeposit:  terms.RequiresDeposit && breakdown.DepositAmount > 0,
		RequiresApproval: terms.RequiresApproval,
		CategoryData:     datatypes.NewJSONType(extension),
	}
	b.ApplyBreakdown(breakdown)

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := policy.Resolve(tx, terms.CancellationPolicyID)
		if err != nil {
			return err
		}
		b.CancellationPolicyID = p.ID

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.ListingLock{ListingID: b.ListingID}).Error; err != nil {
			return err
		}
		var lock models.ListingLock
		if err := tx.Scopes(scopes.ForUpdate).Where("listing_id = ?", b.ListingID).First(&lock).Error; err != nil {
			return err
		}

		var overlapping int64
		if err := tx.Model(&models.Booking{}).
			Scopes(scopes.Overlapping(b.ListingID, b.StartDate, b.EndDate)).
			Count(&overlapping).
			Error; err != nil {
			return err
		}
		if overlapping > 0 {
			return &types.ConflictError{Resource: "listing " + b.ListingID, Message: "dates overlap an existing booking"}
		}

		now := e.now()
		b.CreatedAt = now
		b.UpdatedAt = now
		if err := tx.Create(b).Error; err != nil {
			return err
		}
		return tx.Create(&models.BookingStateHistory{
			BookingID: b.ID,
			ToStatus:  types.BOOKING_DRAFT,
			Reason:    "booking requested",
			ChangedBy: in.RenterID,
			CreatedAt: now,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Booking] %s requested on listing %s for %s\n", b.ID, b.ListingID, b.TotalPrice)
	e.notify(ctx, lib.EventBookingRequested, b, types.JSONB{"total_price": int64(b.TotalPrice)})
	return b, nil
}

// Submit sends a DRAFT to the owner for approval, or straight to payment
// when the listing does not require approval.
func (e *Engine) Submit(ctx context.Context, id uuid.UUID, actor, paymentMethod string) (*models.Booking, error) {
	b, err := e.inTx(ctx, id, func(tx *gorm.DB, b *models.Booking) error {
		to := types.BOOKING_PENDING_PAYMENT
		if b.RequiresApproval {
			to = types.BOOKING_PENDING_OWNER_APPROVAL
		}
		if err := Transition(tx, b, to, actor, "submitted", e.now()); err != nil {
			return err
		}
		if paymentMethod != "" {
			b.PaymentMethod = paymentMethod
			return tx.Model(b).Update("payment_method", paymentMethod).Error
		}
		return nil
	})
	if err != nil {
		return b, err
	}
	e.notify(ctx, lib.EventBookingSubmitted, b, types.JSONB{"status": b.Status})
	return e.afterPendingPayment(ctx, b)
}

// Approve moves a booking awaiting the owner to payment.
func (e *Engine) Approve(ctx context.Context, id uuid.UUID, actor string) (*models.Booking, error) {
	b, err := e.inTx(ctx, id, func(tx *gorm.DB, b *models.Booking) error {
		return Transition(tx, b, types.BOOKING_PENDING_PAYMENT, actor, "approved by owner", e.now())
	})
	if err != nil {
		return b, err
	}
	e.notify(ctx, lib.EventBookingApproved, b, nil)
	return e.afterPendingPayment(ctx, b)
}

// afterPendingPayment authorizes the deposit on entry to PENDING_PAYMENT
// when a payment method is already on file. A failure leaves the booking
// in PENDING_PAYMENT for a retry.
func (e *Engine) afterPendingPayment(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	if b.Status != types.BOOKING_PENDING_PAYMENT || !b.RequiresDeposit || b.PaymentMethod == "" {
		return b, nil
	}
	if _, err := e.AuthorizeDeposit(ctx, b.ID, b.PaymentMethod); err != nil {
		return b, err
	}
	return b, nil
}

// AuthorizeDeposit places the booking's deposit hold. It is a no-op for
// bookings without a deposit and returns the existing hold when present.
func (e *Engine) AuthorizeDeposit(ctx context.Context, id uuid.UUID, paymentMethod string) (*models.DepositHold, error) {
	b, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.ReconciliationRequired {
		return nil, &types.ReconciliationRequiredError{BookingID: b.ID.String(), Cause: b.ReconciliationNote}
	}
	if b.Status != types.BOOKING_PENDING_PAYMENT {
		return nil, &types.InvalidTransitionError{Entity: "booking", ID: b.ID.String(), Current: string(b.Status), Attempted: "DEPOSIT_AUTHORIZATION"}
	}
	if !b.RequiresDeposit || b.DepositAmount <= 0 {
		return nil, nil
	}
	if paymentMethod == "" {
		paymentMethod = b.PaymentMethod
	}
	if paymentMethod == "" {
		return nil, &types.ValidationError{Field: "payment_method", Message: "required to hold the deposit"}
	}
	return e.deposits.Authorize(ctx, deposit.AuthorizeRequest{
		BookingID:     b.ID,
		RenterID:      b.RenterID,
		OwnerID:       b.OwnerID,
		Amount:        b.DepositAmount,
		Currency:      b.Currency,
		PaymentMethod: paymentMethod,
		ValidFrom:     b.EndDate,
	})
}

func chargeKey(id uuid.UUID) string {
	return "booking:" + id.String() + ":charge"
}

// Pay charges the renter for everything except the deposit, which stays on
// hold, then confirms and settles the payment.
func (e *Engine) Pay(ctx context.Context, id uuid.UUID, actor, paymentMethod string) (*models.Booking, error) {
	b, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.ReconciliationRequired {
		return b, &types.ReconciliationRequiredError{BookingID: b.ID.String(), Cause: b.ReconciliationNote}
	}
	if b.Status != types.BOOKING_PENDING_PAYMENT {
		return b, &types.InvalidTransitionError{Entity: "booking", ID: b.ID.String(), Current: string(b.Status), Attempted: string(types.BOOKING_CONFIRMED)}
	}
	if paymentMethod == "" {
		paymentMethod = b.PaymentMethod
	}
	if _, err := e.AuthorizeDeposit(ctx, id, paymentMethod); err != nil {
		return b, err
	}

	ref := "nocharge:" + b.ID.String()
	if amount := b.Refundable(); amount > 0 {
		ref, err = e.gateway.Charge(ctx, lib.PaymentRequest{
			Amount:         amount,
			Currency:       b.Currency,
			PaymentMethod:  paymentMethod,
			IdempotencyKey: chargeKey(b.ID),
			Metadata:       map[string]string{"booking_id": b.ID.String()},
		})
		if err != nil {
			log.Printf("[Booking] charge for %s failed: %s\n", b.ID, err.Error())
			return b, &types.PaymentFailedError{Operation: "charge", Err: err}
		}
	}

	if b, err = e.ConfirmPayment(ctx, id, ref, actor); err != nil {
		return b, err
	}
	return e.SettlePayment(ctx, id, ref)
}

// ConfirmPayment records a captured payment and confirms the booking.
// Replays with the same reference are no-ops.
func (e *Engine) ConfirmPayment(ctx context.Context, id uuid.UUID, paymentRef, actor string) (*models.Booking, error) {
	if paymentRef == "" {
		return nil, &types.ValidationError{Field: "payment_reference", Message: "required"}
	}
	replay := false
	b, err := e.inTx(ctx, id, func(tx *gorm.DB, b *models.Booking) error {
		if b.PaymentReference != nil && *b.PaymentReference == paymentRef {
			replay = true
			return nil
		}
		if b.Status != types.BOOKING_PENDING_PAYMENT {
			return &types.InvalidTransitionError{Entity: "booking", ID: b.ID.String(), Current: string(b.Status), Attempted: string(types.BOOKING_CONFIRMED)}
		}
		if err := e.postPayment(tx, b, paymentRef); err != nil {
			return err
		}
		if err := e.deposits.Collateralize(tx, b, paymentRef); err != nil {
			return err
		}
		b.PaymentReference = &paymentRef
		if err := tx.Model(b).Update("payment_reference", paymentRef).Error; err != nil {
			return err
		}
		return Transition(tx, b, types.BOOKING_CONFIRMED, actor, "payment "+paymentRef+" received", e.now())
	})
	if err != nil || replay {
		return b, err
	}
	log.Printf("[Booking] %s confirmed with payment %s\n", b.ID, paymentRef)
	e.notify(ctx, lib.EventBookingConfirmed, b, types.JSONB{"payment_reference": paymentRef})
	return b, nil
}

func (e *Engine) postPayment(tx *gorm.DB, b *models.Booking, ref string) error {
	_, err := e.ledger.Post(tx, ledger.Posting{
		BookingID:       &b.ID,
		OwnerID:         b.OwnerID,
		TransactionType: types.TXN_PAYMENT,
		ReferenceID:     ref,
		Currency:        b.Currency,
		Status:          types.ENTRY_PENDING,
		Reason:          "rental payment",
		Lines: []ledger.Line{
			ledger.Debit(types.ACCOUNT_RENTER_RECEIVABLE, b.TotalPrice),
			ledger.Credit(types.ACCOUNT_PLATFORM_REVENUE, b.TotalPrice),
		},
	})
	if errors.Is(err, types.ErrAlreadyPosted) {
		return &types.ConflictError{Resource: "payment " + ref, Message: "reference already recorded for another booking"}
	}
	if err != nil {
		return err
	}

	split := b.Refundable()
	if split <= 0 {
		return nil
	}
	lines := []ledger.Line{ledger.Debit(types.ACCOUNT_PLATFORM_REVENUE, split)}
	if b.OwnerEarnings > 0 {
		lines = append(lines, ledger.Credit(types.ACCOUNT_OWNER_RECEIVABLE, b.OwnerEarnings))
	}
	if b.PlatformFee > 0 {
		lines = append(lines, ledger.Credit(types.ACCOUNT_PLATFORM_REVENUE, b.PlatformFee))
	}
	_, err = e.ledger.Post(tx, ledger.Posting{
		BookingID:       &b.ID,
		OwnerID:         b.OwnerID,
		TransactionType: types.TXN_EARNINGS_SPLIT,
		ReferenceID:     ref,
		Currency:        b.Currency,
		Status:          types.ENTRY_PENDING,
		Reason:          "owner earnings and platform fee",
		Lines:           lines,
	})
	return err
}

// SettlePayment marks the booking's payment postings settled once the
// payment rail confirms the funds.
func (e *Engine) SettlePayment(ctx context.Context, id uuid.UUID, paymentRef string) (*models.Booking, error) {
	return e.inTx(ctx, id, func(tx *gorm.DB, b *models.Booking) error {
		if b.PaymentReference == nil || *b.PaymentReference != paymentRef {
			return &types.ValidationError{Field: "payment_reference", Message: "does not belong to this booking"}
		}
		return e.ledger.Settle(tx, paymentRef)
	})
}

// CheckIn starts the rental. It opens CheckInEarlyWindow before the start date.
func (e *Engine) CheckIn(ctx context.Context, id uuid.UUID, actor string) (*models.Booking, error) {
	b, err := e.inTx(ctx, id, func(tx *gorm.DB, b *models.Booking) error {
		if !CanTransition(b.Status, types.BOOKING_IN_PROGRESS) || b.Status == types.BOOKING_DISPUTED {
			return &types.InvalidTransitionError{Entity: "booking", ID: b.ID.String(), Current: string(b.Status), Attempted: string(types.BOOKING_IN_PROGRESS)}
		}
		opensAt := b.StartDate.Add(-e.opts.CheckInEarlyWindow)
		if e.now().Before(opensAt) {
			return &types.TooEarlyError{BookingID: b.ID.String(), OpensAt: opensAt}
		}
		return Transition(tx, b, types.BOOKING_IN_PROGRESS, actor, "checked in", e.now())
	})
	if err != nil {
		return b, err
	}
	e.notify(ctx, lib.EventBookingCheckedIn, b, nil)
	return b, nil
}

func (e *Engine) CheckOut(ctx context.Context, id uuid.UUID, actor string) (*models.Booking, error) {
	b, err := e.inTx(ctx, id, func(tx *gorm.DB, b *models.Booking) error {
		if b.Status == types.BOOKING_DISPUTED {
			return &types.InvalidTransitionError{Entity: "booking", ID: b.ID.String(), Current: string(b.Status), Attempted: string(types.BOOKING_AWAITING_RETURN_INSPECTION)}
		}
		return Transition(tx, b, types.BOOKING_AWAITING_RETURN_INSPECTION, actor, "checked out", e.now())
	})
	if err != nil {
		return b, err
	}
	e.notify(ctx, lib.EventBookingCheckedOut, b, nil)
	return b, nil
}

type InspectionInput struct {
	BookingID     uuid.UUID
	Actor         string
	HasIssues     bool
	Notes         string
	ClaimedAmount types.Money
}

// CompleteInspection records the return inspection. A clean return
// completes the booking and releases the deposit; reported issues open a
// dispute.
func (e *Engine) CompleteInspection(ctx context.Context, in InspectionInput) (*models.Booking, *models.Dispute, error) {
	if in.HasIssues && e.disputes == nil {
		return nil, nil, errors.New("dispute engine is not configured")
	}
	var opened *models.Dispute
	b, err := e.inTx(ctx, in.BookingID, func(tx *gorm.DB, b *models.Booking) error {
		if b.Status != types.BOOKING_AWAITING_RETURN_INSPECTION {
			to := types.BOOKING_COMPLETED
			if in.HasIssues {
				to = types.BOOKING_DISPUTED
			}
			return &types.InvalidTransitionError{Entity: "booking", ID: b.ID.String(), Current: string(b.Status), Attempted: string(to)}
		}
		report := &models.ConditionReport{
			BookingID:  b.ID,
			ReporterID: in.Actor,
			Phase:      models.REPORT_PHASE_CHECKOUT,
			HasIssues:  in.HasIssues,
			Notes:      in.Notes,
			Metadata:   types.JSONB{"claimed_amount": int64(in.ClaimedAmount)},
			CreatedAt:  e.now(),
		}
		if err := tx.Create(report).Error; err != nil {
			return err
		}
		if !in.HasIssues {
			return Transition(tx, b, types.BOOKING_COMPLETED, in.Actor, "return inspection passed", e.now())
		}
		var err error
		opened, err = e.disputes.OpenForInspection(tx, b, report, in.Actor, in.ClaimedAmount)
		return err
	})
	if err != nil {
		return b, nil, err
	}
	if opened != nil {
		e.notifier.Notify(ctx, lib.Event{
			Name:       lib.EventDisputeOpened,
			BookingID:  b.ID.String(),
			DisputeID:  opened.ID.String(),
			OwnerID:    b.OwnerID,
			Payload:    types.JSONB{"type": opened.Type, "claimed_amount": int64(opened.Amount)},
			OccurredAt: e.now(),
		})
		return b, opened, nil
	}

	if _, err := e.deposits.ReleaseForBooking(ctx, b.ID); err != nil {
		// the orphan sweep retries the release
		log.Printf("[Booking] deposit release for %s failed: %s\n", b.ID, err.Error())
	}
	e.notify(ctx, lib.EventBookingCompleted, b, nil)
	return b, nil, nil
}

// Settle closes a completed booking once its deposit is resolved and every
// ledger posting has settled. Owner earnings become payable from here.
func (e *Engine) Settle(ctx context.Context, id uuid.UUID, actor string) (*models.Booking, error) {
	b, err := e.inTx(ctx, id, func(tx *gorm.DB, b *models.Booking) error {
		if b.Status != types.BOOKING_COMPLETED {
			return &types.InvalidTransitionError{Entity: "booking", ID: b.ID.String(), Current: string(b.Status), Attempted: string(types.BOOKING_SETTLED)}
		}
		hold, err := deposit.ActiveHold(tx, b.ID)
		if err != nil {
			return err
		}
		if hold != nil {
			return &types.ConflictError{Resource: "booking " + b.ID.String(), Message: "deposit hold is still authorized"}
		}
		pending, err := e.ledger.HasPending(tx, b.ID)
		if err != nil {
			return err
		}
		if pending {
			return &types.ConflictError{Resource: "booking " + b.ID.String(), Message: "ledger entries await settlement"}
		}
		if err := e.ledger.CheckBalanced(tx, b.ID); err != nil {
			return err
		}
		return Transition(tx, b, types.BOOKING_SETTLED, actor, "settled", e.now())
	})
	if err != nil {
		return b, err
	}
	e.notify(ctx, lib.EventBookingSettled, b, types.JSONB{"owner_earnings": int64(b.OwnerEarnings)})
	return b, nil
}

// SettleSweep settles every completed booking that is ready.
func (e *Engine) SettleSweep(ctx context.Context) (int, error) {
	var ids []uuid.UUID
	if err := e.db.WithContext(ctx).Model(&models.Booking{}).
		Scopes(scopes.WithStatus(types.BOOKING_COMPLETED)).
		Where("reconciliation_required = ?", false).
		Limit(e.opts.SweepBatch).
		Pluck("id", &ids).
		Error; err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		_, err := e.Settle(ctx, id, SystemActor)
		var conflict *types.ConflictError
		switch {
		case err == nil:
			n++
		case errors.As(err, &conflict):
		default:
			log.Printf("[Booking] settle sweep skipped %s: %s\n", id, err.Error())
		}
	}
	return n, nil
}

// ExpireStaleRequests cancels bookings that never reached payment within
// RequestTTL, releasing their dates.
func (e *Engine) ExpireStaleRequests(ctx context.Context) (int, error) {
	cutoff := e.now().Add(-e.opts.RequestTTL)
	var ids []uuid.UUID
	if err := e.db.WithContext(ctx).Model(&models.Booking{}).
		Scopes(scopes.WithStatus(types.BOOKING_DRAFT, types.BOOKING_PENDING_OWNER_APPROVAL, types.BOOKING_PENDING_PAYMENT)).
		Where("reconciliation_required = ?", false).
		Where("created_at < ?", cutoff).
		Limit(e.opts.SweepBatch).
		Pluck("id", &ids).
		Error; err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		b, err := e.inTx(ctx, id, func(tx *gorm.DB, b *models.Booking) error {
			switch b.Status {
			case types.BOOKING_DRAFT, types.BOOKING_PENDING_OWNER_APPROVAL, types.BOOKING_PENDING_PAYMENT:
			default:
				return nil
			}
			if err := Transition(tx, b, types.BOOKING_CANCELLED, SystemActor, "request expired", e.now()); err != nil {
				return err
			}
			b.CancellationReason = "request expired"
			return tx.Model(b).Update("cancellation_reason", b.CancellationReason).Error
		})
		if err != nil {
			log.Printf("[Booking] could not expire %s: %s\n", id, err.Error())
			continue
		}
		if b.Status != types.BOOKING_CANCELLED {
			continue
		}
		if _, err := e.deposits.ReleaseForBooking(ctx, id); err != nil {
			log.Printf("[Booking] deposit release for expired %s failed: %s\n", id, err.Error())
		}
		e.notify(ctx, lib.EventBookingCancelled, b, types.JSONB{"reason": b.CancellationReason})
		n++
	}
	return n, nil
}

// Reconcile clears the reconciliation flag once every posting of the
// booking balances again.
func (e *Engine) Reconcile(ctx context.Context, id uuid.UUID, actor string) (*models.Booking, error) {
	var b *models.Booking
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		b, err = LockForUpdate(tx, id)
		if err != nil {
			return err
		}
		if !b.ReconciliationRequired {
			return nil
		}
		if err := e.ledger.CheckBalanced(tx, b.ID); err != nil {
			return err
		}
		log.Printf("[Booking] %s reconciled by %s\n", b.ID, actor)
		b.ReconciliationRequired = false
		b.ReconciliationNote = ""
		return tx.Model(b).Updates(map[string]any{"reconciliation_required": false, "reconciliation_note": ""}).Error
	})
	return b, err
}

func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	err := e.db.WithContext(ctx).Scopes(scopes.WithID(id)).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &types.NotFoundError{Entity: "booking", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (e *Engine) History(ctx context.Context, id uuid.UUID) ([]models.BookingStateHistory, error) {
	var rows []models.BookingStateHistory
	err := e.db.WithContext(ctx).
		Scopes(scopes.WithBooking(id)).
		Order("created_at asc").
		Find(&rows).
		Error
	return rows, err
}

func (e *Engine) Ledger(ctx context.Context, id uuid.UUID) ([]models.LedgerEntry, error) {
	return e.ledger.EntriesForBooking(e.db.WithContext(ctx), id)
}

type ListFilter struct {
	RenterID string
	OwnerID  string
	Status   types.BookingStatus
	Limit    int
	Offset   int
}

func (e *Engine) List(ctx context.Context, f ListFilter) ([]models.Booking, error) {
	q := e.db.WithContext(ctx).Model(&models.Booking{})
	if f.RenterID != "" && f.OwnerID != "" {
		q = q.Where("renter_id = ? OR owner_id = ?", f.RenterID, f.OwnerID)
	} else if f.RenterID != "" {
		q = q.Where("renter_id = ?", f.RenterID)
	} else if f.OwnerID != "" {
		q = q.Scopes(scopes.WithOwner(f.OwnerID))
	}
	if f.Status != "" {
		q = q.Scopes(scopes.WithStatus(f.Status))
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	var bookings []models.Booking
	err := q.Order("created_at desc").Limit(f.Limit).Offset(f.Offset).Find(&bookings).Error
	return bookings, err
}
