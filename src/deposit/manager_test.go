package deposit

import (
	"context"
	"rentals/src/ledger"
	"rentals/src/lib"
	"rentals/src/models"
	"rentals/src/testutil"
	"rentals/src/types"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type ManagerTestSuite struct {
	suite.Suite
	DB       *gorm.DB
	Clock    *testutil.Clock
	Gateway  *testutil.FakeGateway
	Notifier *testutil.RecordingNotifier
	Ledger   *ledger.Store
	Manager  *Manager
	Booking  *models.Booking
}

func (s *ManagerTestSuite) SetupTest() {
	s.DB = testutil.NewTestDB(s.T())
	s.Clock = testutil.NewClock(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	s.Gateway = testutil.NewFakeGateway()
	s.Notifier = &testutil.RecordingNotifier{}
	s.Ledger = ledger.NewStore(s.Clock.Now)
	s.Manager = NewManager(s.DB, s.Ledger, s.Gateway, s.Notifier, Options{HoldValidity: 7 * 24 * time.Hour}, s.Clock.Now)

	s.Booking = &models.Booking{
		ListingID:     "listing-1",
		RenterID:      "renter-1",
		OwnerID:       "owner-1",
		StartDate:     s.Clock.Now().Add(24 * time.Hour),
		EndDate:       s.Clock.Now().Add(72 * time.Hour),
		Status:        types.BOOKING_PENDING_PAYMENT,
		Currency:      "usd",
		BasePrice:     30000,
		TotalPrice:    30000,
		DepositAmount: 5000,
		OwnerEarnings: 25000,
	}
	s.Require().NoError(s.DB.Create(s.Booking).Error)
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func (s *ManagerTestSuite) authorize() *models.DepositHold {
	hold, err := s.Manager.Authorize(context.Background(), AuthorizeRequest{
		BookingID:     s.Booking.ID,
		RenterID:      s.Booking.RenterID,
		OwnerID:       s.Booking.OwnerID,
		Amount:        5000,
		Currency:      "usd",
		PaymentMethod: "pm_card_visa",
		ValidFrom:     s.Booking.EndDate,
	})
	s.Require().NoError(err)
	return hold
}

func (s *ManagerTestSuite) reload(hold *models.DepositHold) *models.DepositHold {
	var stored models.DepositHold
	s.Require().NoError(s.DB.First(&stored, "id = ?", hold.ID).Error)
	return &stored
}

func (s *ManagerTestSuite) TestAuthorize() {
	hold := s.authorize()
	s.Equal(types.HOLD_AUTHORIZED, hold.Status)
	s.Equal(1, hold.Generation)
	s.Equal(s.Booking.EndDate.Add(7*24*time.Hour), hold.ExpiresAt)
	s.NotEmpty(hold.HoldReference)
	s.Contains(s.Notifier.Names(), lib.EventDepositAuthorized)

	again := s.authorize()
	s.Equal(hold.ID, again.ID)
	s.Equal(1, s.Gateway.Count("authorize"))
}

func (s *ManagerTestSuite) TestAuthorizeDeclined() {
	s.Gateway.Fail("authorize", testutil.ErrDeclined)
	_, err := s.Manager.Authorize(context.Background(), AuthorizeRequest{
		BookingID: s.Booking.ID,
		Amount:    5000,
		ValidFrom: s.Booking.EndDate,
	})
	var authErr *types.AuthorizationFailedError
	s.Require().ErrorAs(err, &authErr)
	s.ErrorIs(err, testutil.ErrDeclined)

	holds, err := s.Manager.ForBooking(context.Background(), s.Booking.ID)
	s.Require().NoError(err)
	s.Require().Len(holds, 1)
	s.Equal(types.HOLD_FAILED, holds[0].Status)

	// retryable with a fresh generation
	s.Gateway.Fail("authorize", nil)
	hold := s.authorize()
	s.Equal(2, hold.Generation)
}

func (s *ManagerTestSuite) TestCaptureMoreThanHeldFails() {
	hold := s.authorize()
	_, err := s.Manager.Capture(context.Background(), hold.ID, 5001, "damage")
	var verr *types.ValidationError
	s.Require().ErrorAs(err, &verr)

	stored := s.reload(hold)
	s.Equal(types.HOLD_AUTHORIZED, stored.Status)
	s.Zero(stored.DeductedAmount)
	s.Zero(s.Gateway.Count("capture"))
}

func (s *ManagerTestSuite) TestCapturePartial() {
	hold := s.authorize()
	s.Require().NoError(s.DB.Transaction(func(tx *gorm.DB) error {
		return s.Manager.Collateralize(tx, s.Booking, "pi_1")
	}))

	captured, err := s.Manager.Capture(context.Background(), hold.ID, 2000, "scratched bumper")
	s.Require().NoError(err)
	s.Equal(types.HOLD_CAPTURED, captured.Status)
	s.Equal(types.Money(2000), captured.DeductedAmount)
	s.Equal(types.Money(2000), s.Gateway.Captures[hold.HoldReference])

	entries, err := s.Ledger.Entries(s.DB, HoldReference(hold.ID))
	s.Require().NoError(err)
	s.Len(entries, 4)

	owner, err := s.Ledger.AccountNet(s.DB, s.Booking.ID, types.ACCOUNT_OWNER_RECEIVABLE)
	s.Require().NoError(err)
	s.Equal(types.Money(2000), owner)
	held, err := s.Ledger.AccountNet(s.DB, s.Booking.ID, types.ACCOUNT_DEPOSIT_HELD)
	s.Require().NoError(err)
	s.Zero(held)
	s.NoError(s.Ledger.CheckBalanced(s.DB, s.Booking.ID))

	// replay of the same capture is a no-op
	replay, err := s.Manager.Capture(context.Background(), hold.ID, 2000, "scratched bumper")
	s.Require().NoError(err)
	s.Equal(types.HOLD_CAPTURED, replay.Status)
	s.Equal(1, s.Gateway.Count("capture"))

	var invalid *types.InvalidTransitionError
	_, err = s.Manager.Capture(context.Background(), hold.ID, 3000, "more damage")
	s.ErrorAs(err, &invalid)
}

func (s *ManagerTestSuite) TestCaptureExpired() {
	hold := s.authorize()
	s.Clock.Set(hold.ExpiresAt.Add(time.Minute))

	_, err := s.Manager.Capture(context.Background(), hold.ID, 1000, "late damage")
	var expired *types.ExpiredHoldError
	s.Require().ErrorAs(err, &expired)
	s.Equal(types.HOLD_AUTHORIZED, s.reload(hold).Status)
}

func (s *ManagerTestSuite) TestCaptureForBookingReauthorizes() {
	hold := s.authorize()
	s.Clock.Set(hold.ExpiresAt.Add(time.Minute))

	captured, err := s.Manager.CaptureForBooking(context.Background(), s.Booking.ID, 1000, "late damage")
	s.Require().NoError(err)
	s.Equal(2, captured.Generation)
	s.Equal(types.HOLD_CAPTURED, captured.Status)
	s.Equal(types.HOLD_EXPIRED, s.reload(hold).Status)

	owner, err := s.Ledger.AccountNet(s.DB, s.Booking.ID, types.ACCOUNT_OWNER_RECEIVABLE)
	s.Require().NoError(err)
	s.Equal(types.Money(1000), owner)
	s.NoError(s.Ledger.CheckBalanced(s.DB, s.Booking.ID))
}

func (s *ManagerTestSuite) TestReleaseIdempotent() {
	hold := s.authorize()

	released, err := s.Manager.Release(context.Background(), hold.ID)
	s.Require().NoError(err)
	s.Equal(types.HOLD_RELEASED, released.Status)

	again, err := s.Manager.Release(context.Background(), hold.ID)
	s.Require().NoError(err)
	s.Equal(types.HOLD_RELEASED, again.Status)
	s.Equal(1, s.Gateway.Count("release"))

	var invalid *types.InvalidTransitionError
	_, err = s.Manager.Capture(context.Background(), hold.ID, 100, "")
	s.ErrorAs(err, &invalid)
}

func (s *ManagerTestSuite) TestReleaseCollateralized() {
	hold := s.authorize()
	s.Require().NoError(s.DB.Transaction(func(tx *gorm.DB) error {
		return s.Manager.Collateralize(tx, s.Booking, "pi_1")
	}))
	s.Require().NoError(s.Ledger.Settle(s.DB, "pi_1"))

	_, err := s.Manager.ReleaseForBooking(context.Background(), s.Booking.ID)
	s.Require().NoError(err)

	held, err := s.Ledger.AccountNet(s.DB, s.Booking.ID, types.ACCOUNT_DEPOSIT_HELD)
	s.Require().NoError(err)
	s.Zero(held)
	s.True(s.reload(hold).Collateralized)
	s.Contains(s.Notifier.Names(), lib.EventDepositReleased)

	none, err := s.Manager.ReleaseForBooking(context.Background(), s.Booking.ID)
	s.NoError(err)
	s.Nil(none)
}

func (s *ManagerTestSuite) TestReleaseGatewayFailureLeavesHold() {
	hold := s.authorize()
	s.Gateway.Fail("release", testutil.ErrDeclined)

	_, err := s.Manager.Release(context.Background(), hold.ID)
	var payErr *types.PaymentFailedError
	s.Require().ErrorAs(err, &payErr)
	s.Equal(types.HOLD_AUTHORIZED, s.reload(hold).Status)
}

func (s *ManagerTestSuite) TestCollateralizeWithoutHold() {
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		return s.Manager.Collateralize(tx, s.Booking, "pi_1")
	})
	var conflict *types.ConflictError
	s.ErrorAs(err, &conflict)
}

func (s *ManagerTestSuite) TestExpireSweep() {
	hold := s.authorize()

	n, err := s.Manager.ExpireSweep(context.Background())
	s.Require().NoError(err)
	s.Zero(n)

	s.Clock.Set(hold.ExpiresAt.Add(time.Second))
	n, err = s.Manager.ExpireSweep(context.Background())
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(types.HOLD_EXPIRED, s.reload(hold).Status)
	s.Contains(s.Notifier.Names(), lib.EventDepositExpired)

	n, err = s.Manager.ExpireSweep(context.Background())
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *ManagerTestSuite) TestReleaseOrphans() {
	hold := s.authorize()
	s.Require().NoError(s.DB.Model(s.Booking).Update("status", types.BOOKING_CANCELLED).Error)

	n, err := s.Manager.ReleaseOrphans(context.Background())
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(types.HOLD_RELEASED, s.reload(hold).Status)
}
