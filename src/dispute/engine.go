package dispute

import (
	"context"
	"errors"
	"fmt"
	"log"
	"rentals/src/booking"
	"rentals/src/deposit"
	"rentals/src/ledger"
	"rentals/src/lib"
	"rentals/src/models"
	"rentals/src/models/scopes"
	"rentals/src/types"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Engine struct {
	db         *gorm.DB
	ledger     *ledger.Store
	deposits   *deposit.Manager
	bookings   *booking.Engine
	notifier   lib.Notifier
	now        func() time.Time
	sweepBatch int
}

func NewEngine(db *gorm.DB, store *ledger.Store, deposits *deposit.Manager, bookings *booking.Engine, notifier lib.Notifier, now func() time.Time) *Engine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	e := &Engine{
		db:         db,
		ledger:     store,
		deposits:   deposits,
		bookings:   bookings,
		notifier:   notifier,
		now:        now,
		sweepBatch: 100,
	}
	bookings.SetDisputeOpener(e)
	return e
}

// DisputeReference is the ledger reference of a dispute's corrective postings.
func DisputeReference(id uuid.UUID) string {
	return "dispute:" + id.String()
}

func lockDispute(tx *gorm.DB, id uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := tx.Scopes(scopes.ForUpdate, scopes.WithID(id)).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &types.NotFoundError{Entity: "dispute", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func invalid(d *models.Dispute, to types.DisputeStatus) error {
	return &types.InvalidTransitionError{Entity: "dispute", ID: d.ID.String(), Current: string(d.Status), Attempted: string(to)}
}

func (e *Engine) appendTimeline(tx *gorm.DB, d *models.Dispute, actor, action string, from, to types.DisputeStatus, message string, metadata types.JSONB) error {
	if actor == "" {
		actor = booking.SystemActor
	}
	return tx.Create(&models.DisputeTimelineEntry{
		DisputeID:  d.ID,
		Actor:      actor,
		Action:     action,
		FromStatus: from,
		ToStatus:   to,
		Message:    message,
		Metadata:   metadata,
		CreatedAt:  e.now(),
	}).Error
}

// setStatus moves a locked dispute, guarded on its current status.
func (e *Engine) setStatus(tx *gorm.DB, d *models.Dispute, to types.DisputeStatus, extra map[string]any) error {
	if !CanTransition(d.Status, to) {
		return invalid(d, to)
	}
	updates := map[string]any{"status": to, "updated_at": e.now()}
	for k, v := range extra {
		updates[k] = v
	}
	res := tx.Model(&models.Dispute{}).Where("id = ? AND status = ?", d.ID, d.Status).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &types.ConflictError{Resource: "dispute " + d.ID.String(), Message: "status changed concurrently"}
	}
	d.Status = to
	return nil
}

func (e *Engine) notify(ctx context.Context, name string, d *models.Dispute, payload types.JSONB) {
	e.notifier.Notify(ctx, lib.Event{
		Name:       name,
		BookingID:  d.BookingID.String(),
		DisputeID:  d.ID.String(),
		Payload:    payload,
		OccurredAt: e.now(),
	})
}

// halt freezes the dispute's booking after a fatal bookkeeping error.
func (e *Engine) halt(ctx context.Context, bookingID uuid.UUID, err error) error {
	if bookingID == uuid.Nil || !types.IsFatal(err) {
		return err
	}
	booking.Freeze(ctx, e.db, e.notifier, bookingID, err)
	return &types.ReconciliationRequiredError{BookingID: bookingID.String(), Cause: err.Error()}
}

type OpenInput struct {
	BookingID         uuid.UUID
	InitiatorID       string
	Type              types.DisputeType
	Title             string
	Description       string
	Amount            types.Money
	Priority          types.DisputePriority
	ConditionReportID *uuid.UUID
}

// Open raises a dispute against a booking that is in progress, awaiting
// inspection or completed. The booking is held in DISPUTED until the
// dispute is resolved or closed.
func (e *Engine) Open(ctx context.Context, in OpenInput) (*models.Dispute, error) {
	var d *models.Dispute
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := booking.LockForUpdate(tx, in.BookingID)
		if err != nil {
			return err
		}
		var respondent string
		switch in.InitiatorID {
		case b.RenterID:
			respondent = b.OwnerID
		case b.OwnerID:
			respondent = b.RenterID
		default:
			return &types.ForbiddenError{Actor: in.InitiatorID, Action: "open a dispute on booking " + b.ID.String()}
		}
		if in.ConditionReportID != nil {
			var count int64
			if err := tx.Model(&models.ConditionReport{}).
				Where("id = ? AND booking_id = ?", *in.ConditionReportID, b.ID).
				Count(&count).
				Error; err != nil {
				return err
			}
			if count == 0 {
				return &types.ValidationError{Field: "condition_report_id", Message: "report does not belong to this booking"}
			}
		}
		d, err = e.open(tx, b, &models.Dispute{
			ConditionReportID: in.ConditionReportID,
			InitiatorID:       in.InitiatorID,
			RespondentID:      respondent,
			Type:              in.Type,
			Title:             in.Title,
			Description:       in.Description,
			Amount:            in.Amount,
			Priority:          in.Priority,
		})
		return err
	})
	if err != nil {
		return nil, e.halt(ctx, in.BookingID, err)
	}
	log.Printf("[Dispute] %s opened on booking %s by %s\n", d.ID, d.BookingID, d.InitiatorID)
	e.notify(ctx, lib.EventDisputeOpened, d, types.JSONB{"type": d.Type, "priority": d.Priority})
	return d, nil
}

// OpenForInspection opens the dispute raised by a return inspection inside
// the inspecting transaction.
func (e *Engine) OpenForInspection(tx *gorm.DB, b *models.Booking, report *models.ConditionReport, actor string, claimed types.Money) (*models.Dispute, error) {
	respondent := b.RenterID
	if actor == b.RenterID {
		respondent = b.OwnerID
	}
	title := "Return inspection issues"
	if claimed > 0 {
		title = fmt.Sprintf("Return inspection issues, %s claimed", claimed)
	}
	return e.open(tx, b, &models.Dispute{
		ConditionReportID: &report.ID,
		InitiatorID:       actor,
		RespondentID:      respondent,
		Type:              types.DISPUTE_TYPE_INSPECTION_ISSUES,
		Title:             title,
		Description:       report.Notes,
		Amount:            claimed,
		Priority:          types.PRIORITY_HIGH,
	})
}

func (e *Engine) open(tx *gorm.DB, b *models.Booking, d *models.Dispute) (*models.Dispute, error) {
	var active int64
	if err := tx.Model(&models.Dispute{}).
		Scopes(scopes.WithBooking(b.ID)).
		Where("status NOT IN ?", []types.DisputeStatus{types.DISPUTE_RESOLVED, types.DISPUTE_CLOSED}).
		Count(&active).
		Error; err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, &types.ConflictError{Resource: "booking " + b.ID.String(), Message: "a dispute is already open"}
	}
	if d.Priority == "" {
		d.Priority = types.PRIORITY_MEDIUM
	}
	now := e.now()
	d.BookingID = b.ID
	d.Status = types.DISPUTE_OPEN
	d.PreDisputeStatus = b.Status
	d.SLADeadline = now.Add(d.Priority.SLA())
	d.CreatedAt = now
	d.UpdatedAt = now

	if err := booking.Transition(tx, b, types.BOOKING_DISPUTED, d.InitiatorID, "dispute opened: "+d.Title, now); err != nil {
		return nil, err
	}
	if err := tx.Create(d).Error; err != nil {
		return nil, err
	}
	if err := e.appendTimeline(tx, d, d.InitiatorID, models.TIMELINE_OPENED, "", types.DISPUTE_OPEN, d.Description, types.JSONB{
		"type":               d.Type,
		"amount":             int64(d.Amount),
		"pre_dispute_status": d.PreDisputeStatus,
	}); err != nil {
		return nil, err
	}
	return d, nil
}

// Transition moves a dispute between its review states.
func (e *Engine) Transition(ctx context.Context, id uuid.UUID, to types.DisputeStatus, actor, note string) (*models.Dispute, error) {
	if to == types.DISPUTE_RESOLVED || to == types.DISPUTE_CLOSED {
		return nil, &types.ValidationError{Field: "status", Message: "use resolve or close"}
	}
	var d *models.Dispute
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		d, err = lockDispute(tx, id)
		if err != nil {
			return err
		}
		from := d.Status
		if err := e.setStatus(tx, d, to, nil); err != nil {
			return err
		}
		return e.appendTimeline(tx, d, actor, models.TIMELINE_STATUS_CHANGED, from, to, note, nil)
	})
	return d, err
}

func (e *Engine) Comment(ctx context.Context, id uuid.UUID, actor, message string) (*models.DisputeTimelineEntry, error) {
	var entry *models.DisputeTimelineEntry
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := lockDispute(tx, id)
		if err != nil {
			return err
		}
		if d.Status == types.DISPUTE_CLOSED {
			return invalid(d, d.Status)
		}
		entry = &models.DisputeTimelineEntry{
			DisputeID: d.ID,
			Actor:     actor,
			Action:    models.TIMELINE_COMMENT,
			Message:   message,
			CreatedAt: e.now(),
		}
		return tx.Create(entry).Error
	})
	return entry, err
}

type ResolveInput struct {
	DisputeID        uuid.UUID
	Outcome          types.DisputeOutcome
	RefundAmount     types.Money
	PayoutAdjustment types.Money
	DepositAction    types.DepositAction
	DepositDeduction types.Money
	ResolvedBy       string
	Notes            string
}

func (in ResolveInput) validate() error {
	switch in.Outcome {
	case types.OUTCOME_INITIATOR_FAVOR, types.OUTCOME_RESPONDENT_FAVOR, types.OUTCOME_SPLIT, types.OUTCOME_BOOKING_CANCELED:
	case types.OUTCOME_NO_ACTION:
		if in.RefundAmount != 0 || in.PayoutAdjustment != 0 || in.DepositDeduction != 0 {
			return &types.ValidationError{Field: "outcome", Message: "NO_ACTION cannot move money"}
		}
	default:
		return &types.ValidationError{Field: "outcome", Message: fmt.Sprintf("unknown outcome %q", in.Outcome)}
	}
	if in.RefundAmount < 0 {
		return &types.ValidationError{Field: "refund_amount", Message: "cannot be negative"}
	}
	if in.DepositDeduction < 0 {
		return &types.ValidationError{Field: "deposit_deduction", Message: "cannot be negative"}
	}
	if in.DepositDeduction > 0 && in.DepositAction != types.DEPOSIT_ACTION_CAPTURE {
		return &types.ValidationError{Field: "deposit_deduction", Message: "requires the CAPTURE deposit action"}
	}
	return nil
}

// checkResolvable rejects a resolution the booking cannot take: a frozen
// booking, or a refund above what is still refundable.
func checkResolvable(b *models.Booking, in ResolveInput) error {
	if b.ReconciliationRequired {
		return &types.ReconciliationRequiredError{BookingID: b.ID.String(), Cause: b.ReconciliationNote}
	}
	if remaining := b.Refundable() - b.RefundedAmount; in.RefundAmount > remaining {
		return &types.ValidationError{Field: "refund_amount", Message: fmt.Sprintf("exceeds the %s still refundable", remaining)}
	}
	return nil
}

// target is where the booking goes once the dispute is resolved.
func target(d *models.Dispute, outcome types.DisputeOutcome, refund types.Money) types.BookingStatus {
	switch {
	case refund > 0:
		return types.BOOKING_REFUNDED
	case outcome == types.OUTCOME_BOOKING_CANCELED:
		return types.BOOKING_CANCELLED
	default:
		return d.PreDisputeStatus
	}
}

// Resolve applies the decision. The booking is checked before the deposit
// action runs against the gateway; the refund and payout adjustment
// postings, the resolution record and both status changes then commit
// together.
func (e *Engine) Resolve(ctx context.Context, in ResolveInput) (*models.Dispute, *models.DisputeResolution, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}
	d, err := e.Get(ctx, in.DisputeID)
	if err != nil {
		return nil, nil, err
	}
	if !Resolvable(d.Status) {
		return d, nil, invalid(d, types.DISPUTE_RESOLVED)
	}
	bookingID := d.BookingID
	current, err := e.bookings.Get(ctx, bookingID)
	if err != nil {
		return d, nil, err
	}
	if err := checkResolvable(current, in); err != nil {
		return d, nil, err
	}

	var hold *models.DepositHold
	switch in.DepositAction {
	case types.DEPOSIT_ACTION_CAPTURE:
		hold, err = e.deposits.CaptureForBooking(ctx, bookingID, in.DepositDeduction, "dispute "+d.ID.String())
	case types.DEPOSIT_ACTION_RELEASE:
		hold, err = e.deposits.ReleaseForBooking(ctx, bookingID)
	}
	if err != nil {
		return d, nil, e.halt(ctx, bookingID, err)
	}

	var resolution *models.DisputeResolution
	var b *models.Booking
	ref := DisputeReference(d.ID)
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if d, err = lockDispute(tx, in.DisputeID); err != nil {
			return err
		}
		if !Resolvable(d.Status) {
			return invalid(d, types.DISPUTE_RESOLVED)
		}
		if b, err = booking.LockForUpdate(tx, bookingID); err != nil {
			return err
		}
		if err := checkResolvable(b, in); err != nil {
			return err
		}
		from := d.Status

		if hold != nil {
			if err := e.appendTimeline(tx, d, in.ResolvedBy, models.TIMELINE_DEPOSIT, from, from, string(in.DepositAction), types.JSONB{
				"hold_id":  hold.ID.String(),
				"status":   hold.Status,
				"deducted": int64(hold.DeductedAmount),
			}); err != nil {
				return err
			}
		}
		if in.RefundAmount > 0 {
			if err := e.postRefund(tx, d, b, in.RefundAmount, ref); err != nil {
				return err
			}
			b.RefundedAmount += in.RefundAmount
			if err := tx.Model(b).Update("refunded_amount", b.RefundedAmount).Error; err != nil {
				return err
			}
			if err := e.appendTimeline(tx, d, in.ResolvedBy, models.TIMELINE_REFUND_POSTED, from, from, "", types.JSONB{"amount": int64(in.RefundAmount), "reference": ref}); err != nil {
				return err
			}
		}
		if in.PayoutAdjustment != 0 {
			if err := e.postAdjustment(tx, d, b, in.PayoutAdjustment, ref); err != nil {
				return err
			}
			if err := e.appendTimeline(tx, d, in.ResolvedBy, models.TIMELINE_PAYOUT_ADJUSTED, from, from, "", types.JSONB{"amount": int64(in.PayoutAdjustment)}); err != nil {
				return err
			}
		}

		resolution = &models.DisputeResolution{
			DisputeID:        d.ID,
			Outcome:          in.Outcome,
			RefundAmount:     in.RefundAmount,
			PayoutAdjustment: in.PayoutAdjustment,
			DepositAction:    in.DepositAction,
			DepositDeduction: in.DepositDeduction,
			ResolvedBy:       in.ResolvedBy,
			Notes:            in.Notes,
			CreatedAt:        e.now(),
		}
		if err := tx.Create(resolution).Error; err != nil {
			return err
		}
		resolvedAt := e.now()
		if err := e.setStatus(tx, d, types.DISPUTE_RESOLVED, map[string]any{"resolved_at": resolvedAt}); err != nil {
			return err
		}
		d.ResolvedAt = &resolvedAt
		if err := e.appendTimeline(tx, d, in.ResolvedBy, models.TIMELINE_RESOLVED, from, types.DISPUTE_RESOLVED, in.Notes, types.JSONB{"outcome": in.Outcome}); err != nil {
			return err
		}
		if b.Status != types.BOOKING_DISPUTED {
			return nil
		}
		return booking.Transition(tx, b, target(d, in.Outcome, in.RefundAmount), in.ResolvedBy, "dispute resolved: "+string(in.Outcome), e.now())
	})
	if err != nil {
		return d, nil, e.halt(ctx, bookingID, err)
	}

	log.Printf("[Dispute] %s resolved as %s, refund %s adjustment %s\n", d.ID, in.Outcome, in.RefundAmount, in.PayoutAdjustment)
	if in.RefundAmount > 0 {
		if err := e.bookings.ExecuteRefund(ctx, b.ID, ref); err != nil {
			log.Printf("[Dispute] refund for %s deferred: %s\n", d.ID, err.Error())
		}
	}
	if b.Status.Terminal() && in.DepositAction == types.DEPOSIT_ACTION_NONE {
		if _, err := e.deposits.ReleaseForBooking(ctx, b.ID); err != nil {
			log.Printf("[Dispute] deposit release for %s failed: %s\n", b.ID, err.Error())
		}
	}
	e.notify(ctx, lib.EventDisputeResolved, d, types.JSONB{
		"outcome":           in.Outcome,
		"refund_amount":     int64(in.RefundAmount),
		"payout_adjustment": int64(in.PayoutAdjustment),
		"booking_status":    b.Status,
	})
	return d, resolution, nil
}

// postRefund charges the refund to the owner's earnings.
func (e *Engine) postRefund(tx *gorm.DB, d *models.Dispute, b *models.Booking, amount types.Money, ref string) error {
	_, err := e.ledger.Post(tx, ledger.Posting{
		BookingID:       &b.ID,
		OwnerID:         b.OwnerID,
		TransactionType: types.TXN_DISPUTE_REFUND,
		ReferenceID:     ref,
		Currency:        b.Currency,
		Status:          types.ENTRY_PENDING,
		Reason:          "dispute " + d.ID.String(),
		Lines: []ledger.Line{
			ledger.Debit(types.ACCOUNT_OWNER_RECEIVABLE, amount),
			ledger.Credit(types.ACCOUNT_RENTER_RECEIVABLE, amount),
		},
	})
	return err
}

// postAdjustment moves money between the platform and the owner. Positive
// amounts credit the owner.
func (e *Engine) postAdjustment(tx *gorm.DB, d *models.Dispute, b *models.Booking, amount types.Money, ref string) error {
	lines := []ledger.Line{
		ledger.Debit(types.ACCOUNT_PLATFORM_REVENUE, amount),
		ledger.Credit(types.ACCOUNT_OWNER_RECEIVABLE, amount),
	}
	if amount < 0 {
		lines = []ledger.Line{
			ledger.Debit(types.ACCOUNT_OWNER_RECEIVABLE, -amount),
			ledger.Credit(types.ACCOUNT_PLATFORM_REVENUE, -amount),
		}
	}
	_, err := e.ledger.Post(tx, ledger.Posting{
		BookingID:       &b.ID,
		OwnerID:         b.OwnerID,
		TransactionType: types.TXN_PAYOUT_ADJUSTMENT,
		ReferenceID:     ref,
		Currency:        b.Currency,
		Status:          types.ENTRY_SETTLED,
		Reason:          "dispute " + d.ID.String(),
		Lines:           lines,
	})
	return err
}

// Close dismisses a dispute, or archives a resolved one. Dismissing returns
// the booking to where it was before the dispute.
func (e *Engine) Close(ctx context.Context, id uuid.UUID, actor, reason string) (*models.Dispute, error) {
	var d *models.Dispute
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if d, err = lockDispute(tx, id); err != nil {
			return err
		}
		from := d.Status
		dismissed := d.Active()
		closedAt := e.now()
		if err := e.setStatus(tx, d, types.DISPUTE_CLOSED, map[string]any{"closed_at": closedAt}); err != nil {
			return err
		}
		d.ClosedAt = &closedAt
		if err := e.appendTimeline(tx, d, actor, models.TIMELINE_CLOSED, from, types.DISPUTE_CLOSED, reason, nil); err != nil {
			return err
		}
		if !dismissed {
			return nil
		}
		b, err := booking.LockForUpdate(tx, d.BookingID)
		if err != nil {
			return err
		}
		if b.Status != types.BOOKING_DISPUTED {
			return nil
		}
		return booking.Transition(tx, b, d.PreDisputeStatus, actor, "dispute dismissed: "+reason, e.now())
	})
	if err != nil {
		return d, err
	}
	e.notify(ctx, lib.EventDisputeClosed, d, types.JSONB{"reason": reason})
	return d, nil
}

// EscalateOverdue raises the priority of active disputes past their SLA
// deadline. Each dispute escalates once.
func (e *Engine) EscalateOverdue(ctx context.Context) (int, error) {
	var ids []uuid.UUID
	if err := e.db.WithContext(ctx).Model(&models.Dispute{}).
		Where("status NOT IN ?", []types.DisputeStatus{types.DISPUTE_RESOLVED, types.DISPUTE_CLOSED}).
		Where("sla_deadline < ? AND escalated_at IS NULL", e.now()).
		Limit(e.sweepBatch).
		Pluck("id", &ids).
		Error; err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		var d *models.Dispute
		escalated := false
		err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			if d, err = lockDispute(tx, id); err != nil {
				return err
			}
			if !d.Active() || d.EscalatedAt != nil {
				return nil
			}
			now := e.now()
			previous := d.Priority
			d.Priority = Escalate(previous)
			d.EscalatedAt = &now
			if err := tx.Model(d).Updates(map[string]any{"priority": d.Priority, "escalated_at": now}).Error; err != nil {
				return err
			}
			escalated = true
			return e.appendTimeline(tx, d, booking.SystemActor, models.TIMELINE_ESCALATED, d.Status, d.Status, "SLA deadline passed", types.JSONB{
				"from_priority": previous,
				"to_priority":   d.Priority,
				"sla_deadline":  d.SLADeadline,
			})
		})
		if err != nil {
			log.Printf("[Dispute] escalation of %s failed: %s\n", id, err.Error())
			continue
		}
		if escalated {
			e.notify(ctx, lib.EventDisputeEscalated, d, types.JSONB{"priority": d.Priority})
			n++
		}
	}
	return n, nil
}

func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := e.db.WithContext(ctx).Scopes(scopes.WithID(id)).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &types.NotFoundError{Entity: "dispute", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (e *Engine) Timeline(ctx context.Context, id uuid.UUID) ([]models.DisputeTimelineEntry, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	var entries []models.DisputeTimelineEntry
	err := e.db.WithContext(ctx).Where("dispute_id = ?", id).Order("created_at asc").Find(&entries).Error
	return entries, err
}

func (e *Engine) Resolution(ctx context.Context, id uuid.UUID) (*models.DisputeResolution, error) {
	var r models.DisputeResolution
	err := e.db.WithContext(ctx).Where("dispute_id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &types.NotFoundError{Entity: "dispute resolution", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (e *Engine) ForBooking(ctx context.Context, bookingID uuid.UUID) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := e.db.WithContext(ctx).Scopes(scopes.WithBooking(bookingID)).Order("created_at desc").Find(&disputes).Error
	return disputes, err
}
