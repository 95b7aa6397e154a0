package dispute

import (
	"context"
	"rentals/src/booking"
	"rentals/src/deposit"
	"rentals/src/ledger"
	"rentals/src/lib"
	"rentals/src/models"
	"rentals/src/policy"
	"rentals/src/testutil"
	"rentals/src/types"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type EngineTestSuite struct {
	suite.Suite
	DB       *gorm.DB
	Clock    *testutil.Clock
	Gateway  *testutil.FakeGateway
	Notifier *testutil.RecordingNotifier
	Ledger   *ledger.Store
	Deposits *deposit.Manager
	Bookings *booking.Engine
	Engine   *Engine
}

func (s *EngineTestSuite) SetupTest() {
	s.DB = testutil.NewTestDB(s.T())
	s.Require().NoError(policy.SeedDefaults(s.DB))
	s.Clock = testutil.NewClock(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	s.Gateway = testutil.NewFakeGateway()
	s.Notifier = &testutil.RecordingNotifier{}

	withDeposit := testutil.Listing("camera", "owner-1", 10000, "Moderate")
	withDeposit.RequiresDeposit = true
	withDeposit.DepositAmount = 5000
	withDeposit.CommissionBps = 1000
	plain := testutil.Listing("kayak", "owner-1", 10000, "Moderate")
	catalog := testutil.NewFakeCatalog(withDeposit, plain)

	s.Ledger = ledger.NewStore(s.Clock.Now)
	s.Deposits = deposit.NewManager(s.DB, s.Ledger, s.Gateway, s.Notifier, deposit.Options{HoldValidity: 7 * 24 * time.Hour}, s.Clock.Now)
	s.Bookings = booking.NewEngine(s.DB, s.Ledger, s.Deposits, catalog, s.Gateway, s.Notifier, booking.Options{CheckInEarlyWindow: 24 * time.Hour}, s.Clock.Now)
	s.Engine = NewEngine(s.DB, s.Ledger, s.Deposits, s.Bookings, s.Notifier, s.Clock.Now)
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (s *EngineTestSuite) confirmed(listingID string) *models.Booking {
	ctx := context.Background()
	start := s.Clock.Now().Add(72 * time.Hour)
	b, err := s.Bookings.RequestBooking(ctx, booking.RequestInput{
		ListingID:  listingID,
		RenterID:   "renter-1",
		StartDate:  start,
		EndDate:    start.Add(72 * time.Hour),
		GuestCount: 1,
	})
	s.Require().NoError(err)
	_, err = s.Bookings.Submit(ctx, b.ID, "renter-1", "pm_card_visa")
	s.Require().NoError(err)
	b, err = s.Bookings.Pay(ctx, b.ID, "renter-1", "")
	s.Require().NoError(err)
	return b
}

func (s *EngineTestSuite) inProgress(listingID string) *models.Booking {
	b := s.confirmed(listingID)
	s.Clock.Set(b.StartDate)
	b, err := s.Bookings.CheckIn(context.Background(), b.ID, "renter-1")
	s.Require().NoError(err)
	return b
}

func (s *EngineTestSuite) open(b *models.Booking, initiator string) *models.Dispute {
	d, err := s.Engine.Open(context.Background(), OpenInput{
		BookingID:   b.ID,
		InitiatorID: initiator,
		Type:        types.DISPUTE_TYPE_REFUND_REQUEST,
		Title:       "Kayak was leaking",
		Description: "Had to cut the trip short",
		Amount:      10000,
	})
	s.Require().NoError(err)
	return d
}

func (s *EngineTestSuite) review(d *models.Dispute) *models.Dispute {
	d, err := s.Engine.Transition(context.Background(), d.ID, types.DISPUTE_UNDER_REVIEW, "agent-1", "picked up")
	s.Require().NoError(err)
	return d
}

func (s *EngineTestSuite) reload(id uuid.UUID) *models.Booking {
	b, err := s.Bookings.Get(context.Background(), id)
	s.Require().NoError(err)
	return b
}

func (s *EngineTestSuite) TestOpen() {
	b := s.inProgress("kayak")
	d := s.open(b, "renter-1")

	s.Equal(types.DISPUTE_OPEN, d.Status)
	s.Equal("owner-1", d.RespondentID)
	s.Equal(types.PRIORITY_MEDIUM, d.Priority)
	s.Equal(types.BOOKING_IN_PROGRESS, d.PreDisputeStatus)
	s.Equal(s.Clock.Now().Add(72*time.Hour), d.SLADeadline)
	s.Equal(types.BOOKING_DISPUTED, s.reload(b.ID).Status)
	s.Contains(s.Notifier.Names(), lib.EventDisputeOpened)

	timeline, err := s.Engine.Timeline(context.Background(), d.ID)
	s.Require().NoError(err)
	s.Require().Len(timeline, 1)
	s.Equal(models.TIMELINE_OPENED, timeline[0].Action)

	_, err = s.Engine.Open(context.Background(), OpenInput{BookingID: b.ID, InitiatorID: "owner-1", Type: types.DISPUTE_TYPE_DAMAGE})
	var conflict *types.ConflictError
	s.ErrorAs(err, &conflict)
}

func (s *EngineTestSuite) TestOpenRequiresParticipant() {
	b := s.inProgress("kayak")
	_, err := s.Engine.Open(context.Background(), OpenInput{BookingID: b.ID, InitiatorID: "stranger", Type: types.DISPUTE_TYPE_OTHER})
	var forbidden *types.ForbiddenError
	s.ErrorAs(err, &forbidden)
	s.Equal(types.BOOKING_IN_PROGRESS, s.reload(b.ID).Status)
}

func (s *EngineTestSuite) TestOpenBeforeCheckIn() {
	b := s.confirmed("kayak")
	_, err := s.Engine.Open(context.Background(), OpenInput{BookingID: b.ID, InitiatorID: "renter-1", Type: types.DISPUTE_TYPE_OTHER})
	var invalid *types.InvalidTransitionError
	s.ErrorAs(err, &invalid)

	disputes, err := s.Engine.ForBooking(context.Background(), b.ID)
	s.Require().NoError(err)
	s.Empty(disputes)
}

func (s *EngineTestSuite) TestOpenRejectsForeignReport() {
	b := s.inProgress("kayak")
	report := &models.ConditionReport{BookingID: uuid.New(), ReporterID: "owner-1", Phase: models.REPORT_PHASE_CHECKOUT}
	s.Require().NoError(s.DB.Create(report).Error)

	_, err := s.Engine.Open(context.Background(), OpenInput{BookingID: b.ID, InitiatorID: "owner-1", Type: types.DISPUTE_TYPE_DAMAGE, ConditionReportID: &report.ID})
	var validation *types.ValidationError
	s.ErrorAs(err, &validation)
}

func (s *EngineTestSuite) TestResolveRefundsInitiator() {
	ctx := context.Background()
	b := s.inProgress("kayak")
	s.Equal(types.Money(30000), b.TotalPrice)
	d := s.review(s.open(b, "renter-1"))

	d, resolution, err := s.Engine.Resolve(ctx, ResolveInput{
		DisputeID:    d.ID,
		Outcome:      types.OUTCOME_INITIATOR_FAVOR,
		RefundAmount: 10000,
		ResolvedBy:   "agent-1",
		Notes:        "leak confirmed",
	})
	s.Require().NoError(err)
	s.Equal(types.DISPUTE_RESOLVED, d.Status)
	s.NotNil(d.ResolvedAt)
	s.Equal(types.Money(10000), resolution.RefundAmount)

	b = s.reload(b.ID)
	s.Equal(types.BOOKING_REFUNDED, b.Status)
	s.Equal(types.Money(10000), b.RefundedAmount)
	s.Equal(types.Money(10000), s.Gateway.Refunds[*b.PaymentReference])

	entries, err := s.Ledger.Entries(s.DB, DisputeReference(d.ID))
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	for _, e := range entries {
		s.Equal(types.TXN_DISPUTE_REFUND, e.TransactionType)
		s.Equal(types.Money(10000), e.Amount)
		s.Equal(types.ENTRY_SETTLED, e.Status)
	}

	owner, err := s.Ledger.AccountNet(s.DB, b.ID, types.ACCOUNT_OWNER_RECEIVABLE)
	s.Require().NoError(err)
	s.Equal(types.Money(20000), owner)
	s.NoError(s.Ledger.CheckBalanced(s.DB, b.ID))

	stored, err := s.Engine.Resolution(ctx, d.ID)
	s.Require().NoError(err)
	s.Equal(types.OUTCOME_INITIATOR_FAVOR, stored.Outcome)
	s.Contains(s.Notifier.Names(), lib.EventDisputeResolved)
	s.Contains(s.Notifier.Names(), lib.EventBookingRefunded)

	_, _, err = s.Engine.Resolve(ctx, ResolveInput{DisputeID: d.ID, Outcome: types.OUTCOME_NO_ACTION, ResolvedBy: "agent-1"})
	var invalid *types.InvalidTransitionError
	s.ErrorAs(err, &invalid)
}

func (s *EngineTestSuite) TestResolveFromOpenIsInvalid() {
	b := s.inProgress("kayak")
	d := s.open(b, "renter-1")
	_, _, err := s.Engine.Resolve(context.Background(), ResolveInput{DisputeID: d.ID, Outcome: types.OUTCOME_NO_ACTION, ResolvedBy: "agent-1"})
	var invalid *types.InvalidTransitionError
	s.ErrorAs(err, &invalid)
}

func (s *EngineTestSuite) TestResolveValidation() {
	b := s.inProgress("kayak")
	d := s.review(s.open(b, "renter-1"))

	cases := []ResolveInput{
		{DisputeID: d.ID, Outcome: types.OUTCOME_NO_ACTION, RefundAmount: 100},
		{DisputeID: d.ID, Outcome: "MAYBE"},
		{DisputeID: d.ID, Outcome: types.OUTCOME_SPLIT, RefundAmount: -1},
		{DisputeID: d.ID, Outcome: types.OUTCOME_SPLIT, DepositDeduction: 100, DepositAction: types.DEPOSIT_ACTION_RELEASE},
		{DisputeID: d.ID, Outcome: types.OUTCOME_INITIATOR_FAVOR, RefundAmount: 30001},
	}
	for _, in := range cases {
		_, _, err := s.Engine.Resolve(context.Background(), in)
		var validation *types.ValidationError
		s.ErrorAs(err, &validation, "%+v", in)
	}

	b = s.reload(b.ID)
	s.Equal(types.BOOKING_DISPUTED, b.Status)
	s.False(b.ReconciliationRequired)
}

func (s *EngineTestSuite) TestRejectedResolveLeavesDepositHeld() {
	ctx := context.Background()
	b := s.inProgress("camera")
	d := s.review(s.open(b, "owner-1"))

	capture := ResolveInput{
		DisputeID:        d.ID,
		Outcome:          types.OUTCOME_INITIATOR_FAVOR,
		DepositAction:    types.DEPOSIT_ACTION_CAPTURE,
		DepositDeduction: 2000,
		RefundAmount:     99999999,
		ResolvedBy:       "agent-1",
	}
	_, _, err := s.Engine.Resolve(ctx, capture)
	var validation *types.ValidationError
	s.Require().ErrorAs(err, &validation)

	s.Require().NoError(s.DB.Model(&models.Booking{}).Where("id = ?", b.ID).Update("reconciliation_required", true).Error)
	capture.RefundAmount = 0
	_, _, err = s.Engine.Resolve(ctx, capture)
	var frozen *types.ReconciliationRequiredError
	s.Require().ErrorAs(err, &frozen)

	holds, err := s.Deposits.ForBooking(ctx, b.ID)
	s.Require().NoError(err)
	s.Require().Len(holds, 1)
	s.Equal(types.HOLD_AUTHORIZED, holds[0].Status)
	s.Zero(holds[0].DeductedAmount)
	s.Equal(0, s.Gateway.Count("capture"))

	var captures int64
	s.Require().NoError(s.DB.Model(&models.LedgerEntry{}).
		Where("booking_id = ? AND transaction_type = ?", b.ID, types.TXN_DEPOSIT_CAPTURE).
		Count(&captures).
		Error)
	s.Zero(captures)

	d, err = s.Engine.Get(ctx, d.ID)
	s.Require().NoError(err)
	s.Equal(types.DISPUTE_UNDER_REVIEW, d.Status)
}

func (s *EngineTestSuite) TestResolveWithPayoutAdjustment() {
	b := s.inProgress("kayak")
	d := s.review(s.open(b, "renter-1"))

	_, _, err := s.Engine.Resolve(context.Background(), ResolveInput{
		DisputeID:        d.ID,
		Outcome:          types.OUTCOME_SPLIT,
		RefundAmount:     5000,
		PayoutAdjustment: -1000,
		ResolvedBy:       "agent-1",
	})
	s.Require().NoError(err)

	owner, err := s.Ledger.AccountNet(s.DB, b.ID, types.ACCOUNT_OWNER_RECEIVABLE)
	s.Require().NoError(err)
	s.Equal(types.Money(24000), owner)
	s.NoError(s.Ledger.CheckBalanced(s.DB, b.ID))

	timeline, err := s.Engine.Timeline(context.Background(), d.ID)
	s.Require().NoError(err)
	var actions []string
	for _, t := range timeline {
		actions = append(actions, t.Action)
	}
	s.Subset(actions, []string{models.TIMELINE_REFUND_POSTED, models.TIMELINE_PAYOUT_ADJUSTED, models.TIMELINE_RESOLVED})
}

func (s *EngineTestSuite) TestResolveWithoutRefundRestoresBooking() {
	b := s.inProgress("kayak")
	d := s.review(s.open(b, "owner-1"))

	_, _, err := s.Engine.Resolve(context.Background(), ResolveInput{
		DisputeID:  d.ID,
		Outcome:    types.OUTCOME_RESPONDENT_FAVOR,
		ResolvedBy: "agent-1",
	})
	s.Require().NoError(err)
	s.Equal(types.BOOKING_IN_PROGRESS, s.reload(b.ID).Status)
	s.Equal(0, s.Gateway.Count("refund"))
}

func (s *EngineTestSuite) TestInspectionDisputeCapturesDeposit() {
	ctx := context.Background()
	b := s.inProgress("camera")
	_, err := s.Bookings.CheckOut(ctx, b.ID, "renter-1")
	s.Require().NoError(err)

	b, d, err := s.Bookings.CompleteInspection(ctx, booking.InspectionInput{
		BookingID:     b.ID,
		Actor:         "owner-1",
		HasIssues:     true,
		Notes:         "cracked lens",
		ClaimedAmount: 2000,
	})
	s.Require().NoError(err)
	s.Require().NotNil(d)
	s.Equal(types.BOOKING_DISPUTED, b.Status)
	s.Equal(types.DISPUTE_TYPE_INSPECTION_ISSUES, d.Type)
	s.Equal(types.PRIORITY_HIGH, d.Priority)
	s.Equal("renter-1", d.RespondentID)
	s.NotNil(d.ConditionReportID)

	d, err = s.Engine.Transition(ctx, d.ID, types.DISPUTE_INVESTIGATING, "agent-1", "")
	s.Require().NoError(err)
	_, _, err = s.Engine.Resolve(ctx, ResolveInput{
		DisputeID:        d.ID,
		Outcome:          types.OUTCOME_INITIATOR_FAVOR,
		DepositAction:    types.DEPOSIT_ACTION_CAPTURE,
		DepositDeduction: 2000,
		ResolvedBy:       "agent-1",
	})
	s.Require().NoError(err)

	holds, err := s.Deposits.ForBooking(ctx, b.ID)
	s.Require().NoError(err)
	s.Require().Len(holds, 1)
	s.Equal(types.HOLD_CAPTURED, holds[0].Status)
	s.Equal(types.Money(2000), holds[0].DeductedAmount)

	b = s.reload(b.ID)
	s.Equal(types.BOOKING_AWAITING_RETURN_INSPECTION, b.Status)
	owner, err := s.Ledger.AccountNet(s.DB, b.ID, types.ACCOUNT_OWNER_RECEIVABLE)
	s.Require().NoError(err)
	s.Equal(b.OwnerEarnings+2000, owner)
	held, err := s.Ledger.AccountNet(s.DB, b.ID, types.ACCOUNT_DEPOSIT_HELD)
	s.Require().NoError(err)
	s.Zero(held)
}

func (s *EngineTestSuite) TestCloseRestoresBooking() {
	b := s.inProgress("kayak")
	d := s.open(b, "renter-1")

	d, err := s.Engine.Close(context.Background(), d.ID, "agent-1", "withdrawn")
	s.Require().NoError(err)
	s.Equal(types.DISPUTE_CLOSED, d.Status)
	s.NotNil(d.ClosedAt)
	s.Equal(types.BOOKING_IN_PROGRESS, s.reload(b.ID).Status)
	s.Contains(s.Notifier.Names(), lib.EventDisputeClosed)

	_, err = s.Engine.Comment(context.Background(), d.ID, "renter-1", "one more thing")
	var invalid *types.InvalidTransitionError
	s.ErrorAs(err, &invalid)
}

func (s *EngineTestSuite) TestCommentAndTransition() {
	b := s.inProgress("kayak")
	d := s.open(b, "renter-1")

	entry, err := s.Engine.Comment(context.Background(), d.ID, "owner-1", "it was fine when it left")
	s.Require().NoError(err)
	s.Equal(models.TIMELINE_COMMENT, entry.Action)

	_, err = s.Engine.Transition(context.Background(), d.ID, types.DISPUTE_RESOLVED, "agent-1", "")
	var validation *types.ValidationError
	s.ErrorAs(err, &validation)

	_, err = s.Engine.Transition(context.Background(), d.ID, types.DISPUTE_IN_MEDIATION, "agent-1", "")
	var invalid *types.InvalidTransitionError
	s.ErrorAs(err, &invalid)

	d = s.review(d)
	d, err = s.Engine.Transition(context.Background(), d.ID, types.DISPUTE_IN_MEDIATION, "agent-1", "")
	s.Require().NoError(err)
	s.Equal(types.DISPUTE_IN_MEDIATION, d.Status)

	timeline, err := s.Engine.Timeline(context.Background(), d.ID)
	s.Require().NoError(err)
	s.Len(timeline, 4)
}

func (s *EngineTestSuite) TestEscalateOverdue() {
	b := s.inProgress("kayak")
	d := s.open(b, "renter-1")

	n, err := s.Engine.EscalateOverdue(context.Background())
	s.Require().NoError(err)
	s.Zero(n)

	s.Clock.Advance(73 * time.Hour)
	n, err = s.Engine.EscalateOverdue(context.Background())
	s.Require().NoError(err)
	s.Equal(1, n)

	d, err = s.Engine.Get(context.Background(), d.ID)
	s.Require().NoError(err)
	s.Equal(types.PRIORITY_HIGH, d.Priority)
	s.NotNil(d.EscalatedAt)
	s.Contains(s.Notifier.Names(), lib.EventDisputeEscalated)

	n, err = s.Engine.EscalateOverdue(context.Background())
	s.Require().NoError(err)
	s.Zero(n)
}
