package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"rentals/src/boot"
	"rentals/src/config"
	"rentals/src/lib"
	"rentals/src/testutil"
	"rentals/src/types"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tidwall/gjson"
)

const (
	testJWTSecret     = "test-jwt-secret"
	testWebhookSecret = "whsec_test"
)

type TestSuite struct {
	suite.Suite
	App      *boot.App
	Router   *gin.Engine
	Clock    *testutil.Clock
	Gateway  *testutil.FakeGateway
	Notifier *testutil.RecordingNotifier
}

func (s *TestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	conn := testutil.NewTestDB(s.T())
	s.Require().NoError(boot.Migrate(conn))

	s.Clock = testutil.NewClock(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	s.Gateway = testutil.NewFakeGateway()
	s.Notifier = &testutil.RecordingNotifier{}

	// 3 days at 100.00 with a 50.00 deposit and 10% commission:
	// total 300.00, owner earnings 220.00
	camera := testutil.Listing("listing-1", "owner-1", 10000, "Flexible")
	camera.RequiresDeposit = true
	camera.DepositAmount = 5000
	camera.CommissionBps = 1000
	kayak := testutil.Listing("listing-2", "owner-2", 10000, "Moderate")

	cfg := config.Config{
		Env:              types.Test,
		JWTSecret:        testJWTSecret,
		StripeWebhookKey: testWebhookSecret,
		Currency:         "usd",
		RequestTTL:       48 * time.Hour,
		SweepInterval:    time.Minute,
		PayoutInterval:   time.Hour,
	}
	s.App = boot.New(cfg, conn, s.Gateway, testutil.NewFakeCatalog(camera, kayak), s.Notifier, lib.NewLocalLocker(), s.Clock.Now)
	s.Router = setupRouter(s.App)
}

func TestSuiteRun(t *testing.T) {
	suite.Run(t, new(TestSuite))
}

func (s *TestSuite) token(subject, role string) string {
	claims := types.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	s.Require().NoError(err)
	return signed
}

func (s *TestSuite) do(method, path, subject, role string, body any) (int, gjson.Result) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, apiPrefix+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(subject, role))
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w.Code, gjson.Parse(w.Body.String())
}

func (s *TestSuite) member(method, path, subject string, body any) (int, gjson.Result) {
	return s.do(method, path, subject, types.ROLE_MEMBER, body)
}

func (s *TestSuite) admin(method, path string, body any) (int, gjson.Result) {
	return s.do(method, path, "ops-1", types.ROLE_ADMIN, body)
}

// request books listing three days out for renter-1 and returns its id.
func (s *TestSuite) request(listing string) string {
	start := s.Clock.Now().Add(72 * time.Hour)
	code, res := s.member(http.MethodPost, "/bookings", "renter-1", gin.H{
		"listing_id":  listing,
		"start_date":  start.Format(time.RFC3339),
		"end_date":    start.Add(72 * time.Hour).Format(time.RFC3339),
		"guest_count": 2,
	})
	s.Require().Equal(http.StatusCreated, code, res.Raw)
	s.Equal(string(types.BOOKING_DRAFT), res.Get("data.status").String())
	return res.Get("data.id").String()
}

func (s *TestSuite) paid(listing string) string {
	id := s.request(listing)
	code, res := s.member(http.MethodPost, "/bookings/"+id+"/submit", "renter-1", gin.H{"payment_method": "pm_card_visa"})
	s.Require().Equal(http.StatusOK, code, res.Raw)
	s.Require().Equal(string(types.BOOKING_PENDING_PAYMENT), res.Get("data.status").String())

	code, res = s.member(http.MethodPost, "/bookings/"+id+"/pay", "renter-1", gin.H{"payment_method": "pm_card_visa"})
	s.Require().Equal(http.StatusOK, code, res.Raw)
	s.Require().Equal(string(types.BOOKING_CONFIRMED), res.Get("data.status").String())
	return id
}

func (s *TestSuite) TestRequiresToken() {
	code, _ := s.do(http.MethodGet, "/bookings", "", "", nil)
	s.Equal(http.StatusUnauthorized, code)

	code, _ = s.do(http.MethodGet, "/policies", "", "", nil)
	s.Equal(http.StatusUnauthorized, code)
}

func (s *TestSuite) TestMaintenanceMode() {
	s.App.Config.MaintenanceMode = true
	router := setupRouter(s.App)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	s.Equal(http.StatusServiceUnavailable, w.Code)
}

func (s *TestSuite) TestBookingLifecycle() {
	id := s.paid("listing-1")

	code, res := s.member(http.MethodGet, "/bookings/"+id, "owner-1", nil)
	s.Require().Equal(http.StatusOK, code)
	s.EqualValues(30000, res.Get("data.total_price").Int())
	s.EqualValues(5000, res.Get("data.deposit_amount").Int())
	s.EqualValues(22000, res.Get("data.owner_earnings").Int())

	code, res = s.member(http.MethodGet, "/bookings/"+id+"/deposits", "renter-1", nil)
	s.Require().Equal(http.StatusOK, code)
	s.EqualValues(1, res.Get("count").Int())

	s.Clock.Advance(72 * time.Hour)
	code, res = s.member(http.MethodPost, "/bookings/"+id+"/check-in", "renter-1", nil)
	s.Require().Equal(http.StatusOK, code, res.Raw)
	s.Equal(string(types.BOOKING_IN_PROGRESS), res.Get("data.status").String())

	s.Clock.Advance(72 * time.Hour)
	code, res = s.member(http.MethodPost, "/bookings/"+id+"/check-out", "renter-1", nil)
	s.Require().Equal(http.StatusOK, code, res.Raw)
	s.Equal(string(types.BOOKING_AWAITING_RETURN_INSPECTION), res.Get("data.status").String())

	code, _ = s.member(http.MethodPost, "/bookings/"+id+"/inspection", "renter-1", gin.H{"has_issues": false})
	s.Equal(http.StatusForbidden, code)

	code, res = s.member(http.MethodPost, "/bookings/"+id+"/inspection", "owner-1", gin.H{"has_issues": false})
	s.Require().Equal(http.StatusOK, code, res.Raw)
	s.Equal(string(types.BOOKING_COMPLETED), res.Get("data.status").String())
	s.Equal(gjson.Null, res.Get("dispute").Type)

	code, _ = s.member(http.MethodPost, "/bookings/"+id+"/settle", "owner-1", nil)
	s.Equal(http.StatusForbidden, code)

	code, res = s.admin(http.MethodPost, "/bookings/"+id+"/settle", nil)
	s.Require().Equal(http.StatusOK, code, res.Raw)
	s.Equal(string(types.BOOKING_SETTLED), res.Get("data.status").String())

	code, res = s.member(http.MethodGet, "/bookings/"+id+"/history", "renter-1", nil)
	s.Require().Equal(http.StatusOK, code)
	statuses := []string{}
	for _, row := range res.Get("data.#.to_status").Array() {
		statuses = append(statuses, row.String())
	}
	s.ElementsMatch([]string{"DRAFT", "PENDING_PAYMENT", "CONFIRMED", "IN_PROGRESS", "AWAITING_RETURN_INSPECTION", "COMPLETED", "SETTLED"}, statuses)

	code, res = s.member(http.MethodGet, "/payouts/summary", "owner-1", nil)
	s.Require().Equal(http.StatusOK, code)
	s.EqualValues(22000, res.Get("data.eligible").Int())

	code, res = s.admin(http.MethodPost, "/owners/owner-1/payouts", nil)
	s.Require().Equal(http.StatusCreated, code, res.Raw)
	s.Equal(string(types.PAYOUT_PAID), res.Get("data.status").String())
	s.EqualValues(22000, res.Get("data.amount").Int())

	code, _ = s.admin(http.MethodPost, "/owners/owner-1/payouts", nil)
	s.Equal(http.StatusNoContent, code)

	code, res = s.member(http.MethodGet, "/payouts", "owner-1", nil)
	s.Require().Equal(http.StatusOK, code)
	s.EqualValues(1, res.Get("count").Int())
	s.Contains(s.Notifier.Names(), lib.EventPayoutProcessed)
}

func (s *TestSuite) TestBookingAccess() {
	id := s.request("listing-1")

	code, res := s.member(http.MethodGet, "/bookings/"+id, "stranger", nil)
	s.Equal(http.StatusNotFound, code)
	s.Contains(res.Get("error").String(), "not found")

	code, _ = s.member(http.MethodPost, "/bookings/"+id+"/approve", "renter-1", nil)
	s.Equal(http.StatusForbidden, code)

	code, _ = s.member(http.MethodGet, "/bookings/not-a-uuid", "renter-1", nil)
	s.Equal(http.StatusBadRequest, code)

	code, res = s.member(http.MethodGet, "/bookings?as=owner", "owner-1", nil)
	s.Require().Equal(http.StatusOK, code)
	s.EqualValues(1, res.Get("count").Int())

	code, res = s.member(http.MethodGet, "/bookings?as=owner", "renter-1", nil)
	s.Require().Equal(http.StatusOK, code)
	s.Zero(res.Get("count").Int())
}

func (s *TestSuite) TestBookingValidation() {
	start := s.Clock.Now().Add(72 * time.Hour)
	code, _ := s.member(http.MethodPost, "/bookings", "renter-1", gin.H{
		"start_date":  start.Format(time.RFC3339),
		"end_date":    start.Add(24 * time.Hour).Format(time.RFC3339),
		"guest_count": 1,
	})
	s.Equal(http.StatusBadRequest, code)

	code, _ = s.member(http.MethodPost, "/bookings", "renter-1", gin.H{
		"listing_id":  "listing-1",
		"start_date":  start.Format(time.RFC3339),
		"end_date":    start.Add(400 * 24 * time.Hour).Format(time.RFC3339),
		"guest_count": 1,
	})
	s.Equal(http.StatusBadRequest, code)

	code, res := s.member(http.MethodPost, "/bookings", "owner-1", gin.H{
		"listing_id":  "listing-1",
		"start_date":  start.Format(time.RFC3339),
		"end_date":    start.Add(24 * time.Hour).Format(time.RFC3339),
		"guest_count": 1,
	})
	s.Equal(http.StatusBadRequest, code)
	s.Contains(res.Get("error").String(), "own listing")
}

func (s *TestSuite) TestDoubleBookingConflicts() {
	s.paid("listing-2")
	start := s.Clock.Now().Add(96 * time.Hour)
	code, _ := s.member(http.MethodPost, "/bookings", "renter-2", gin.H{
		"listing_id":  "listing-2",
		"start_date":  start.Format(time.RFC3339),
		"end_date":    start.Add(24 * time.Hour).Format(time.RFC3339),
		"guest_count": 1,
	})
	s.Equal(http.StatusConflict, code)
}

func (s *TestSuite) TestCancelRefundsRenter() {
	id := s.paid("listing-2")

	code, res := s.member(http.MethodPost, "/bookings/"+id+"/cancel", "renter-1", gin.H{"reason": "plans changed", "deposit_deduction": 100})
	s.Equal(http.StatusForbidden, code, res.Raw)
	code, res = s.member(http.MethodPost, "/bookings/"+id+"/cancel", "owner-2", gin.H{"reason": "keeping it", "deposit_deduction": 5000})
	s.Equal(http.StatusForbidden, code, res.Raw)

	code, res = s.member(http.MethodPost, "/bookings/"+id+"/cancel", "renter-1", gin.H{"reason": "plans changed"})
	s.Require().Equal(http.StatusOK, code, res.Raw)
	s.Equal(string(types.BOOKING_REFUNDED), res.Get("data.status").String())
	// 72h before start under Moderate refunds half
	s.EqualValues(15000, res.Get("data.refunded_amount").Int())

	code, _ = s.member(http.MethodPost, "/bookings/"+id+"/cancel", "renter-1", gin.H{"reason": "again"})
	s.Equal(http.StatusConflict, code)
}

func (s *TestSuite) TestDisputeResolution() {
	id := s.paid("listing-2")
	s.Clock.Advance(72 * time.Hour)
	code, res := s.member(http.MethodPost, "/bookings/"+id+"/check-in", "renter-1", nil)
	s.Require().Equal(http.StatusOK, code, res.Raw)

	code, res = s.member(http.MethodPost, "/bookings/"+id+"/disputes", "renter-1", gin.H{
		"type":        "CONDITION_MISMATCH",
		"title":       "Kayak leaks",
		"description": "The hull was cracked on arrival",
		"amount":      10000,
	})
	s.Require().Equal(http.StatusCreated, code, res.Raw)
	disputeID := res.Get("data.id").String()
	s.Equal(string(types.DISPUTE_OPEN), res.Get("data.status").String())
	s.Equal("owner-2", res.Get("data.respondent_id").String())

	code, _ = s.member(http.MethodPost, "/bookings/"+id+"/disputes", "renter-1", gin.H{
		"type":        "OTHER",
		"title":       "Again",
		"description": "Second dispute",
	})
	s.Equal(http.StatusConflict, code)

	code, _ = s.member(http.MethodGet, "/disputes/"+disputeID, "stranger", nil)
	s.Equal(http.StatusNotFound, code)

	code, _ = s.member(http.MethodPost, "/disputes/"+disputeID+"/comments", "owner-2", gin.H{"message": "It was fine when I handed it over"})
	s.Equal(http.StatusCreated, code)

	code, _ = s.member(http.MethodPost, "/disputes/"+disputeID+"/status", "renter-1", gin.H{"status": "UNDER_REVIEW"})
	s.Equal(http.StatusForbidden, code)

	code, _ = s.admin(http.MethodPost, "/disputes/"+disputeID+"/resolve", gin.H{"outcome": "RESOLVED_INITIATOR_FAVOR", "refund_amount": 10000})
	s.Equal(http.StatusConflict, code)

	code, res = s.admin(http.MethodPost, "/disputes/"+disputeID+"/status", gin.H{"status": "UNDER_REVIEW", "note": "looking into it"})
	s.Require().Equal(http.StatusOK, code, res.Raw)
	s.Equal(string(types.DISPUTE_UNDER_REVIEW), res.Get("data.status").String())

	code, res = s.admin(http.MethodPost, "/disputes/"+disputeID+"/resolve", gin.H{"outcome": "RESOLVED_INITIATOR_FAVOR", "refund_amount": 40000})
	s.Equal(http.StatusBadRequest, code, res.Raw)

	code, res = s.admin(http.MethodPost, "/disputes/"+disputeID+"/resolve", gin.H{"outcome": "RESOLVED_INITIATOR_FAVOR", "refund_amount": 10000, "notes": "photos confirm damage"})
	s.Require().Equal(http.StatusOK, code, res.Raw)
	s.Equal(string(types.DISPUTE_RESOLVED), res.Get("data.status").String())
	s.EqualValues(10000, res.Get("resolution.refund_amount").Int())

	code, res = s.member(http.MethodGet, "/disputes/"+disputeID, "renter-1", nil)
	s.Require().Equal(http.StatusOK, code)
	s.Equal("RESOLVED_INITIATOR_FAVOR", res.Get("resolution.outcome").String())

	code, res = s.member(http.MethodGet, "/disputes/"+disputeID+"/timeline", "owner-2", nil)
	s.Require().Equal(http.StatusOK, code)
	s.GreaterOrEqual(res.Get("count").Int(), int64(4))

	code, res = s.member(http.MethodGet, "/bookings/"+id, "renter-1", nil)
	s.Require().Equal(http.StatusOK, code)
	s.Equal(string(types.BOOKING_REFUNDED), res.Get("data.status").String())
	s.EqualValues(10000, res.Get("data.refunded_amount").Int())
	s.Contains(s.Notifier.Names(), lib.EventDisputeResolved)
}

func (s *TestSuite) TestPolicies() {
	code, res := s.member(http.MethodGet, "/policies", "renter-1", nil)
	s.Require().Equal(http.StatusOK, code)
	s.EqualValues(3, res.Get("count").Int())

	body := gin.H{
		"name":        "Flexible",
		"description": "Full refund up to 24 hours before",
		"rules":       []gin.H{{"hours_before_start": 24, "refund_bps": 10000}},
	}
	code, _ = s.member(http.MethodPost, "/policies", "renter-1", body)
	s.Equal(http.StatusForbidden, code)

	code, res = s.admin(http.MethodPost, "/policies", body)
	s.Require().Equal(http.StatusCreated, code, res.Raw)
	s.EqualValues(2, res.Get("data.version").Int())

	code, res = s.member(http.MethodGet, "/policies/"+res.Get("data.id").String(), "renter-1", nil)
	s.Require().Equal(http.StatusOK, code)
	s.EqualValues(24, res.Get("data.rules.0.hours_before_start").Int())

	code, _ = s.admin(http.MethodPost, "/policies", gin.H{
		"name":  "Broken",
		"rules": []gin.H{{"hours_before_start": 24, "refund_bps": 20000}},
	})
	s.Equal(http.StatusBadRequest, code)
}

func (s *TestSuite) TestLedgerAdmin() {
	id := s.paid("listing-2")
	_, res := s.member(http.MethodGet, "/bookings/"+id, "renter-1", nil)
	ref := res.Get("data.payment_reference").String()
	s.Require().NotEmpty(ref)

	code, _ := s.member(http.MethodGet, "/ledger/entries?reference_id="+ref, "renter-1", nil)
	s.Equal(http.StatusForbidden, code)

	code, res = s.admin(http.MethodGet, "/ledger/entries?reference_id="+ref, nil)
	s.Require().Equal(http.StatusOK, code)
	s.Positive(res.Get("count").Int())
	for _, status := range res.Get("data.#.status").Array() {
		s.Equal(string(types.ENTRY_SETTLED), status.String())
	}

	code, res = s.member(http.MethodGet, "/bookings/"+id+"/ledger", "owner-2", nil)
	s.Require().Equal(http.StatusOK, code)
	var debits, credits int64
	for _, e := range res.Get("data").Array() {
		if e.Get("side").String() == string(types.DEBIT) {
			debits += e.Get("amount").Int()
		} else {
			credits += e.Get("amount").Int()
		}
	}
	s.Equal(debits, credits)

	code, _ = s.admin(http.MethodPost, "/ledger/settlements", gin.H{"reference_id": "missing"})
	s.Equal(http.StatusNotFound, code)

	code, res = s.admin(http.MethodPost, "/ledger/reversals", gin.H{"reference_id": ref, "reason": "chargeback"})
	s.Require().Equal(http.StatusOK, code, res.Raw)
	s.Positive(res.Get("count").Int())
	for _, status := range res.Get("data.#.status").Array() {
		s.Equal(string(types.ENTRY_SETTLED), status.String())
	}
}

func (s *TestSuite) webhook(payload []byte, secret string) int {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, apiPrefix+"/webhook/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w.Code
}

func (s *TestSuite) TestStripeWebhookConfirmsPayment() {
	id := s.request("listing-2")
	code, res := s.member(http.MethodPost, "/bookings/"+id+"/submit", "renter-1", nil)
	s.Require().Equal(http.StatusOK, code, res.Raw)

	hold := []byte(fmt.Sprintf(`{
		"id": "evt_0",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_hold_1", "object": "payment_intent", "metadata": {"booking_id": %q, "kind": "deposit"}}}
	}`, id))
	s.Equal(http.StatusOK, s.webhook(hold, testWebhookSecret))
	code, res = s.member(http.MethodGet, "/bookings/"+id, "renter-1", nil)
	s.Require().Equal(http.StatusOK, code)
	s.Equal(string(types.BOOKING_PENDING_PAYMENT), res.Get("data.status").String())
	s.False(res.Get("data.payment_reference").Exists())

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_webhook", "object": "payment_intent", "metadata": {"booking_id": %q}}}
	}`, id))

	s.Equal(http.StatusBadRequest, s.webhook(payload, "whsec_other"))

	s.Equal(http.StatusOK, s.webhook(payload, testWebhookSecret))
	code, res = s.member(http.MethodGet, "/bookings/"+id, "renter-1", nil)
	s.Require().Equal(http.StatusOK, code)
	s.Equal(string(types.BOOKING_CONFIRMED), res.Get("data.status").String())
	s.Equal("pi_webhook", res.Get("data.payment_reference").String())

	s.Equal(http.StatusOK, s.webhook(payload, testWebhookSecret))
	code, res = s.member(http.MethodGet, "/bookings/"+id+"/history", "renter-1", nil)
	s.Require().Equal(http.StatusOK, code)
	s.EqualValues(3, res.Get("count").Int())
}
