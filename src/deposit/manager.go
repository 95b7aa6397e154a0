package deposit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"rentals/src/ledger"
	"rentals/src/lib"
	"rentals/src/models"
	"rentals/src/models/scopes"
	"rentals/src/types"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Options struct {
	// HoldValidity is how long a hold stays capturable after checkout.
	HoldValidity time.Duration
	SweepBatch   int
}

type Manager struct {
	db       *gorm.DB
	ledger   *ledger.Store
	gateway  lib.PaymentGateway
	notifier lib.Notifier
	opts     Options
	now      func() time.Time
}

func NewManager(db *gorm.DB, store *ledger.Store, gateway lib.PaymentGateway, notifier lib.Notifier, opts Options, now func() time.Time) *Manager {
	if opts.SweepBatch == 0 {
		opts.SweepBatch = 100
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{db: db, ledger: store, gateway: gateway, notifier: notifier, opts: opts, now: now}
}

type AuthorizeRequest struct {
	BookingID     uuid.UUID
	RenterID      string
	OwnerID       string
	Amount        types.Money
	Currency      string
	PaymentMethod string
	// ValidFrom is the checkout date the validity window counts from.
	ValidFrom time.Time
}

// HoldReference is the ledger reference used for postings of a hold.
func HoldReference(holdID uuid.UUID) string {
	return "hold:" + holdID.String()
}

func lockHold(tx *gorm.DB, id uuid.UUID) (*models.DepositHold, error) {
	var hold models.DepositHold
	err := tx.Scopes(scopes.ForUpdate, scopes.WithID(id)).First(&hold).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &types.NotFoundError{Entity: "deposit hold", ID: id.String()}
	}
	return &hold, err
}

func invalid(hold *models.DepositHold, to types.HoldStatus) error {
	return &types.InvalidTransitionError{Entity: "deposit hold", ID: hold.ID.String(), Current: string(hold.Status), Attempted: string(to)}
}

// ActiveHold returns the booking's AUTHORIZED hold or nil.
func ActiveHold(tx *gorm.DB, bookingID uuid.UUID) (*models.DepositHold, error) {
	var hold models.DepositHold
	err := tx.Scopes(scopes.WithBooking(bookingID), scopes.WithStatus(types.HOLD_AUTHORIZED)).
		Order("generation desc").
		First(&hold).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

func latestHold(tx *gorm.DB, bookingID uuid.UUID) (*models.DepositHold, error) {
	var hold models.DepositHold
	err := tx.Scopes(scopes.WithBooking(bookingID)).Order("generation desc").First(&hold).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &types.NotFoundError{Entity: "deposit hold for booking", ID: bookingID.String()}
	}
	return &hold, err
}

// Authorize places a hold on the renter's payment method. An existing
// AUTHORIZED hold for the booking is returned as is. A declined
// authorization is recorded as a FAILED hold.
func (m *Manager) Authorize(ctx context.Context, req AuthorizeRequest) (*models.DepositHold, error) {
	if req.Amount <= 0 {
		return nil, &types.ValidationError{Field: "amount", Message: "deposit amount must be positive"}
	}
	db := m.db.WithContext(ctx)
	existing, err := ActiveHold(db, req.BookingID)
	if err != nil || existing != nil {
		return existing, err
	}
	var generations int64
	if err := db.Model(&models.DepositHold{}).Scopes(scopes.WithBooking(req.BookingID)).Count(&generations).Error; err != nil {
		return nil, err
	}
	hold := &models.DepositHold{
		BookingID:     req.BookingID,
		RenterID:      req.RenterID,
		OwnerID:       req.OwnerID,
		PaymentMethod: req.PaymentMethod,
		Generation:    int(generations) + 1,
		Amount:        req.Amount,
		Currency:      req.Currency,
		ExpiresAt:     req.ValidFrom.Add(m.opts.HoldValidity),
	}
	return m.place(ctx, hold)
}

// place calls the gateway and stores the outcome under the hold's generation.
func (m *Manager) place(ctx context.Context, hold *models.DepositHold) (*models.DepositHold, error) {
	ref, gwErr := m.gateway.Authorize(ctx, lib.PaymentRequest{
		Amount:         hold.Amount,
		Currency:       hold.Currency,
		PaymentMethod:  hold.PaymentMethod,
		IdempotencyKey: hold.IdempotencyKey(),
		Metadata:       map[string]string{"booking_id": hold.BookingID.String(), "kind": "deposit"},
	})
	if gwErr != nil {
		hold.Status = types.HOLD_FAILED
		hold.Reason = gwErr.Error()
	} else {
		hold.Status = types.HOLD_AUTHORIZED
		hold.HoldReference = ref
	}

	res := m.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(hold)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// a concurrent call stored this generation first
		var stored models.DepositHold
		if err := m.db.WithContext(ctx).
			Where("booking_id = ? AND generation = ?", hold.BookingID, hold.Generation).
			First(&stored).
			Error; err != nil {
			return nil, err
		}
		hold = &stored
	}
	if hold.Status == types.HOLD_FAILED {
		log.Printf("[Deposit] authorization declined for booking %s: %s\n", hold.BookingID, hold.Reason)
		return nil, &types.AuthorizationFailedError{Reason: "gateway declined the hold", Err: gwErr}
	}

	m.notifier.Notify(ctx, lib.Event{
		Name:       lib.EventDepositAuthorized,
		BookingID:  hold.BookingID.String(),
		OwnerID:    hold.OwnerID,
		Payload:    types.JSONB{"hold_id": hold.ID.String(), "amount": int64(hold.Amount)},
		OccurredAt: m.now(),
	})
	return hold, nil
}

// Reauthorize replaces a lapsed hold with a new generation for the same
// amount and payment method.
func (m *Manager) Reauthorize(ctx context.Context, bookingID uuid.UUID) (*models.DepositHold, error) {
	db := m.db.WithContext(ctx)
	prev, err := latestHold(db, bookingID)
	if err != nil {
		return nil, err
	}
	switch prev.Status {
	case types.HOLD_EXPIRED, types.HOLD_RELEASED, types.HOLD_FAILED:
	default:
		return nil, invalid(prev, types.HOLD_AUTHORIZED)
	}
	log.Printf("[Deposit] reauthorizing deposit for booking %s after %s hold %s\n", bookingID, prev.Status, prev.ID)
	return m.place(ctx, &models.DepositHold{
		BookingID:     prev.BookingID,
		RenterID:      prev.RenterID,
		OwnerID:       prev.OwnerID,
		PaymentMethod: prev.PaymentMethod,
		Generation:    prev.Generation + 1,
		Amount:        prev.Amount,
		Currency:      prev.Currency,
		ExpiresAt:     m.now().Add(m.opts.HoldValidity),
	})
}

// Collateralize records the held deposit as collateral against the
// booking's confirmed payment. Runs inside the confirming transaction.
func (m *Manager) Collateralize(tx *gorm.DB, b *models.Booking, paymentRef string) error {
	if b.DepositAmount <= 0 {
		return nil
	}
	hold, err := ActiveHold(tx.Scopes(scopes.ForUpdate), b.ID)
	if err != nil {
		return err
	}
	if hold == nil {
		return &types.ConflictError{Resource: "booking " + b.ID.String(), Message: "deposit hold is not authorized"}
	}
	if hold.Collateralized {
		return nil
	}
	_, err = m.ledger.Post(tx, ledger.Posting{
		BookingID:       &b.ID,
		OwnerID:         b.OwnerID,
		TransactionType: types.TXN_DEPOSIT_COLLATERAL,
		ReferenceID:     paymentRef,
		Currency:        b.Currency,
		Status:          types.ENTRY_PENDING,
		Reason:          "deposit held against payment",
		Lines: []ledger.Line{
			ledger.Debit(types.ACCOUNT_PLATFORM_REVENUE, hold.Amount),
			ledger.Credit(types.ACCOUNT_DEPOSIT_HELD, hold.Amount),
		},
	})
	if err != nil && !errors.Is(err, types.ErrAlreadyPosted) {
		return err
	}
	return tx.Model(hold).Update("collateralized", true).Error
}

// Capture takes deducted from the hold and returns the rest to the renter.
// Replaying a capture of the same amount is a no-op.
func (m *Manager) Capture(ctx context.Context, holdID uuid.UUID, deducted types.Money, reason string) (*models.DepositHold, error) {
	var hold *models.DepositHold
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		hold, err = lockHold(tx, holdID)
		if err != nil {
			return err
		}
		return m.checkCapture(hold, deducted)
	})
	if err != nil {
		return hold, err
	}
	if hold.Status == types.HOLD_CAPTURED {
		return hold, nil
	}
	if deducted == 0 {
		return m.Release(ctx, holdID)
	}

	if _, err := m.gateway.Capture(ctx, hold.HoldReference, deducted, "capture:"+hold.ID.String()); err != nil {
		log.Printf("[Deposit] capture of hold %s failed: %s\n", hold.ID, err.Error())
		return hold, &types.PaymentFailedError{Operation: "deposit capture", Err: err}
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		hold, err = lockHold(tx, holdID)
		if err != nil {
			return err
		}
		if hold.Status == types.HOLD_CAPTURED {
			return nil
		}
		if hold.Status != types.HOLD_AUTHORIZED {
			return invalid(hold, types.HOLD_CAPTURED)
		}
		now := m.now()
		hold.Status = types.HOLD_CAPTURED
		hold.DeductedAmount = deducted
		hold.CapturedAt = &now
		hold.Reason = reason
		if err := tx.Save(hold).Error; err != nil {
			return err
		}
		return m.postCapture(tx, hold)
	})
	if err != nil {
		return hold, err
	}

	m.notifier.Notify(ctx, lib.Event{
		Name:       lib.EventDepositCaptured,
		BookingID:  hold.BookingID.String(),
		OwnerID:    hold.OwnerID,
		Payload:    types.JSONB{"hold_id": hold.ID.String(), "deducted": int64(deducted), "reason": reason},
		OccurredAt: m.now(),
	})
	return hold, nil
}

func (m *Manager) checkCapture(hold *models.DepositHold, deducted types.Money) error {
	if deducted < 0 || deducted > hold.Amount {
		return &types.ValidationError{Field: "deducted_amount", Message: fmt.Sprintf("must be between 0 and the held %s", hold.Amount)}
	}
	switch hold.Status {
	case types.HOLD_CAPTURED:
		if hold.DeductedAmount != deducted {
			return invalid(hold, types.HOLD_CAPTURED)
		}
		return nil
	case types.HOLD_AUTHORIZED:
	default:
		return invalid(hold, types.HOLD_CAPTURED)
	}
	if !m.now().Before(hold.ExpiresAt) {
		return &types.ExpiredHoldError{HoldID: hold.ID.String(), ExpiresAt: hold.ExpiresAt}
	}
	return nil
}

func (m *Manager) postCapture(tx *gorm.DB, hold *models.DepositHold) error {
	source := types.ACCOUNT_RENTER_RECEIVABLE
	if hold.Collateralized {
		source = types.ACCOUNT_DEPOSIT_HELD
	}
	_, err := m.ledger.Post(tx, ledger.Posting{
		BookingID:       &hold.BookingID,
		OwnerID:         hold.OwnerID,
		TransactionType: types.TXN_DEPOSIT_CAPTURE,
		ReferenceID:     HoldReference(hold.ID),
		Currency:        hold.Currency,
		Status:          types.ENTRY_SETTLED,
		Reason:          hold.Reason,
		Lines: []ledger.Line{
			ledger.Debit(source, hold.DeductedAmount),
			ledger.Credit(types.ACCOUNT_OWNER_RECEIVABLE, hold.DeductedAmount),
		},
	})
	if err != nil && !errors.Is(err, types.ErrAlreadyPosted) {
		return err
	}
	if remainder := hold.Amount - hold.DeductedAmount; remainder > 0 && hold.Collateralized {
		return m.postRelease(tx, hold, remainder, "remainder after capture")
	}
	return nil
}

func (m *Manager) postRelease(tx *gorm.DB, hold *models.DepositHold, amount types.Money, reason string) error {
	if !hold.Collateralized || amount <= 0 {
		return nil
	}
	_, err := m.ledger.Post(tx, ledger.Posting{
		BookingID:       &hold.BookingID,
		OwnerID:         hold.OwnerID,
		TransactionType: types.TXN_DEPOSIT_RELEASE,
		ReferenceID:     HoldReference(hold.ID),
		Currency:        hold.Currency,
		Status:          types.ENTRY_SETTLED,
		Reason:          reason,
		Lines: []ledger.Line{
			ledger.Debit(types.ACCOUNT_DEPOSIT_HELD, amount),
			ledger.Credit(types.ACCOUNT_RENTER_RECEIVABLE, amount),
		},
	})
	if err != nil && !errors.Is(err, types.ErrAlreadyPosted) {
		return err
	}
	return nil
}

// Release voids the hold. Releasing a released hold is a no-op.
func (m *Manager) Release(ctx context.Context, holdID uuid.UUID) (*models.DepositHold, error) {
	var hold *models.DepositHold
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		hold, err = lockHold(tx, holdID)
		if err != nil {
			return err
		}
		switch hold.Status {
		case types.HOLD_RELEASED, types.HOLD_AUTHORIZED:
			return nil
		}
		return invalid(hold, types.HOLD_RELEASED)
	})
	if err != nil || hold.Status == types.HOLD_RELEASED {
		return hold, err
	}

	if err := m.gateway.Release(ctx, hold.HoldReference, "release:"+hold.ID.String()); err != nil {
		log.Printf("[Deposit] release of hold %s failed: %s\n", hold.ID, err.Error())
		return hold, &types.PaymentFailedError{Operation: "deposit release", Err: err}
	}

	released := false
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		hold, err = lockHold(tx, holdID)
		if err != nil {
			return err
		}
		if hold.Status != types.HOLD_AUTHORIZED {
			return nil
		}
		now := m.now()
		hold.Status = types.HOLD_RELEASED
		hold.ReleasedAt = &now
		if err := tx.Save(hold).Error; err != nil {
			return err
		}
		released = true
		return m.postRelease(tx, hold, hold.Amount, "deposit released")
	})
	if err != nil {
		return hold, err
	}
	if released {
		m.notifier.Notify(ctx, lib.Event{
			Name:       lib.EventDepositReleased,
			BookingID:  hold.BookingID.String(),
			OwnerID:    hold.OwnerID,
			Payload:    types.JSONB{"hold_id": hold.ID.String()},
			OccurredAt: m.now(),
		})
	}
	return hold, nil
}

// CaptureForBooking captures from the booking's current hold, re-authorizing
// first when the hold has lapsed or was already let go.
func (m *Manager) CaptureForBooking(ctx context.Context, bookingID uuid.UUID, deducted types.Money, reason string) (*models.DepositHold, error) {
	hold, err := latestHold(m.db.WithContext(ctx), bookingID)
	if err != nil {
		return nil, err
	}
	switch hold.Status {
	case types.HOLD_EXPIRED, types.HOLD_RELEASED, types.HOLD_FAILED:
		if hold, err = m.Reauthorize(ctx, bookingID); err != nil {
			return nil, err
		}
	}
	captured, err := m.Capture(ctx, hold.ID, deducted, reason)
	var expired *types.ExpiredHoldError
	if !errors.As(err, &expired) {
		return captured, err
	}
	if _, err := m.expire(ctx, hold.ID); err != nil {
		return nil, err
	}
	if hold, err = m.Reauthorize(ctx, bookingID); err != nil {
		return nil, err
	}
	return m.Capture(ctx, hold.ID, deducted, reason)
}

// ReleaseForBooking releases the booking's AUTHORIZED hold if it has one.
func (m *Manager) ReleaseForBooking(ctx context.Context, bookingID uuid.UUID) (*models.DepositHold, error) {
	hold, err := ActiveHold(m.db.WithContext(ctx), bookingID)
	if err != nil || hold == nil {
		return nil, err
	}
	return m.Release(ctx, hold.ID)
}

func (m *Manager) ForBooking(ctx context.Context, bookingID uuid.UUID) ([]models.DepositHold, error) {
	var holds []models.DepositHold
	err := m.db.WithContext(ctx).Scopes(scopes.WithBooking(bookingID)).Order("generation asc").Find(&holds).Error
	return holds, err
}

func (m *Manager) expire(ctx context.Context, holdID uuid.UUID) (bool, error) {
	var hold *models.DepositHold
	expired := false
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		hold, err = lockHold(tx, holdID)
		if err != nil {
			return err
		}
		now := m.now()
		if hold.Status != types.HOLD_AUTHORIZED || now.Before(hold.ExpiresAt) {
			return nil
		}
		hold.Status = types.HOLD_EXPIRED
		hold.ExpiredAt = &now
		if err := tx.Save(hold).Error; err != nil {
			return err
		}
		expired = true
		return m.postRelease(tx, hold, hold.Amount, "deposit hold expired")
	})
	if err != nil || !expired {
		return false, err
	}
	m.notifier.Notify(ctx, lib.Event{
		Name:       lib.EventDepositExpired,
		BookingID:  hold.BookingID.String(),
		OwnerID:    hold.OwnerID,
		Payload:    types.JSONB{"hold_id": hold.ID.String(), "expired_at": hold.ExpiresAt},
		OccurredAt: m.now(),
	})
	return true, nil
}

// ExpireSweep moves lapsed AUTHORIZED holds to EXPIRED.
func (m *Manager) ExpireSweep(ctx context.Context) (int, error) {
	var ids []uuid.UUID
	if err := m.db.WithContext(ctx).Model(&models.DepositHold{}).
		Scopes(scopes.WithStatus(types.HOLD_AUTHORIZED)).
		Where("expires_at <= ?", m.now()).
		Limit(m.opts.SweepBatch).
		Pluck("id", &ids).
		Error; err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		ok, err := m.expire(ctx, id)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// ReleaseOrphans releases AUTHORIZED holds whose booking no longer needs
// them, for instance after a release failed following a cancellation.
func (m *Manager) ReleaseOrphans(ctx context.Context) (int, error) {
	var ids []uuid.UUID
	if err := m.db.WithContext(ctx).Model(&models.DepositHold{}).
		Joins("JOIN bookings ON bookings.id = deposit_holds.booking_id").
		Where("deposit_holds.status = ?", types.HOLD_AUTHORIZED).
		Where("bookings.status IN ?", []types.BookingStatus{
			types.BOOKING_CANCELLED,
			types.BOOKING_REFUNDED,
			types.BOOKING_SETTLED,
			types.BOOKING_COMPLETED,
		}).
		Limit(m.opts.SweepBatch).
		Pluck("deposit_holds.id", &ids).
		Error; err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if _, err := m.Release(ctx, id); err != nil {
			log.Printf("[Deposit] orphan release of hold %s failed: %s\n", id, err.Error())
			continue
		}
		n++
	}
	return n, nil
}
