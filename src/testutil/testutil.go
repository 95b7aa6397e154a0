package testutil

import (
	"context"
	"errors"
	"fmt"
	"rentals/src/lib"
	"rentals/src/models"
	"rentals/src/types"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens a private in-memory database with every model migrated.
// A single connection serializes transactions the way row locks do on postgres.
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString()[:8])
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now.UTC()
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var ErrDeclined = errors.New("card declined")

// FakeGateway records calls and answers repeated idempotency keys with the
// first result, like a real processor.
type FakeGateway struct {
	mu sync.Mutex

	AuthorizeErr error
	CaptureErr   error
	ReleaseErr   error
	ChargeErr    error
	RefundErr    error
	TransferErr  error

	Calls     []string
	Captures  map[string]types.Money
	Refunds   map[string]types.Money
	Transfers map[string]lib.TransferRequest
	Releases  map[string]int

	results map[string]string
	seq     int
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		Captures:  map[string]types.Money{},
		Refunds:   map[string]types.Money{},
		Transfers: map[string]lib.TransferRequest{},
		Releases:  map[string]int{},
		results:   map[string]string{},
	}
}

func (g *FakeGateway) record(op, key, prefix string, fail error) (string, bool, error) {
	g.Calls = append(g.Calls, op+":"+key)
	if ref, ok := g.results[key]; ok {
		return ref, true, nil
	}
	if fail != nil {
		return "", false, fail
	}
	g.seq++
	ref := fmt.Sprintf("%s_%d", prefix, g.seq)
	g.results[key] = ref
	return ref, false, nil
}

func (g *FakeGateway) Authorize(ctx context.Context, req lib.PaymentRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, _, err := g.record("authorize", req.IdempotencyKey, "pi_hold", g.AuthorizeErr)
	return ref, err
}

func (g *FakeGateway) Capture(ctx context.Context, holdRef string, amount types.Money, key string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, replay, err := g.record("capture", key, "ch_capture", g.CaptureErr)
	if err == nil && !replay {
		g.Captures[holdRef] += amount
	}
	return ref, err
}

func (g *FakeGateway) Release(ctx context.Context, holdRef string, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, replay, err := g.record("release", key, "release", g.ReleaseErr)
	if err == nil && !replay {
		g.Releases[holdRef]++
	}
	return err
}

func (g *FakeGateway) Charge(ctx context.Context, req lib.PaymentRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, _, err := g.record("charge", req.IdempotencyKey, "pi_charge", g.ChargeErr)
	return ref, err
}

func (g *FakeGateway) Refund(ctx context.Context, paymentRef string, amount types.Money, key string, metadata map[string]string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, replay, err := g.record("refund", key, "re", g.RefundErr)
	if err == nil && !replay {
		g.Refunds[paymentRef] += amount
	}
	return ref, err
}

func (g *FakeGateway) Transfer(ctx context.Context, req lib.TransferRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, replay, err := g.record("transfer", req.IdempotencyKey, "tr", g.TransferErr)
	if err == nil && !replay {
		g.Transfers[req.IdempotencyKey] = req
	}
	return ref, err
}

// Count returns how many calls were made for op, replays included.
func (g *FakeGateway) Count(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.Calls {
		if strings.HasPrefix(c, op+":") {
			n++
		}
	}
	return n
}

func (g *FakeGateway) Fail(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch op {
	case "authorize":
		g.AuthorizeErr = err
	case "capture":
		g.CaptureErr = err
	case "release":
		g.ReleaseErr = err
	case "charge":
		g.ChargeErr = err
	case "refund":
		g.RefundErr = err
	case "transfer":
		g.TransferErr = err
	}
}

// FakeCatalog serves listing terms from memory.
type FakeCatalog struct {
	mu       sync.Mutex
	Listings map[string]types.ListingTerms
	Accounts map[string]string
}

func NewFakeCatalog(listings ...types.ListingTerms) *FakeCatalog {
	c := &FakeCatalog{Listings: map[string]types.ListingTerms{}, Accounts: map[string]string{}}
	for _, l := range listings {
		c.Listings[l.ListingID] = l
		c.Accounts[l.OwnerID] = "acct_" + l.OwnerID
	}
	return c
}

func (c *FakeCatalog) Listing(ctx context.Context, listingID string) (*types.ListingTerms, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.Listings[listingID]
	if !ok {
		return nil, &types.NotFoundError{Entity: "listing", ID: listingID}
	}
	return &l, nil
}

func (c *FakeCatalog) PayoutAccount(ctx context.Context, ownerID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	acct, ok := c.Accounts[ownerID]
	if !ok {
		return "", fmt.Errorf("owner %s payout account: %w", ownerID, types.ErrMissingReferenceData)
	}
	return acct, nil
}

// RecordingNotifier keeps every event it receives.
type RecordingNotifier struct {
	mu     sync.Mutex
	Events []lib.Event
}

func (n *RecordingNotifier) Notify(ctx context.Context, e lib.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Events = append(n.Events, e)
}

func (n *RecordingNotifier) Names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	names := make([]string, len(n.Events))
	for i, e := range n.Events {
		names[i] = e.Name
	}
	return names
}

// Listing returns terms for a plain listing priced at dailyRate per day
// with no fees, no deposit and the given policy.
func Listing(id, owner string, dailyRate types.Money, policyID string) types.ListingTerms {
	return types.ListingTerms{
		ListingID:            id,
		OwnerID:              owner,
		Title:                "Listing " + id,
		Currency:             "usd",
		DailyRate:            dailyRate,
		CancellationPolicyID: policyID,
		MaxGuests:            4,
		Category:             types.CATEGORY_EQUIPMENT,
	}
}
