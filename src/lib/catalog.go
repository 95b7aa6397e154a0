package lib

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"rentals/src/types"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Catalog supplies read-only listing terms and owner payout accounts.
type Catalog interface {
	Listing(ctx context.Context, listingID string) (*types.ListingTerms, error)
	PayoutAccount(ctx context.Context, ownerID string) (string, error)
}

type HTTPCatalog struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPCatalog(baseURL string) *HTTPCatalog {
	return &HTTPCatalog{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPCatalog) get(ctx context.Context, entity, id, path string) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := c.Client.Do(req)
	if err != nil {
		log.Printf("[Catalog] Error requesting %s: %s\n", path, err.Error())
		return gjson.Result{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return gjson.Result{}, err
	}
	switch {
	case res.StatusCode == http.StatusNotFound:
		return gjson.Result{}, &types.NotFoundError{Entity: entity, ID: id}
	case res.StatusCode >= 300:
		return gjson.Result{}, fmt.Errorf("catalog returned %d for %s", res.StatusCode, path)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("catalog returned invalid json for %s: %w", path, types.ErrMissingReferenceData)
	}
	data := gjson.GetBytes(body, "data")
	if !data.Exists() {
		data = gjson.ParseBytes(body)
	}
	return data, nil
}

func (c *HTTPCatalog) Listing(ctx context.Context, listingID string) (*types.ListingTerms, error) {
	d, err := c.get(ctx, "listing", listingID, "/listings/"+listingID)
	if err != nil {
		return nil, err
	}
	terms := types.ListingTerms{
		ListingID:            d.Get("id").String(),
		OwnerID:              d.Get("owner_id").String(),
		Title:                d.Get("title").String(),
		Currency:             d.Get("currency").String(),
		DailyRate:            types.Money(d.Get("daily_rate").Int()),
		ServiceFeeBps:        d.Get("service_fee_bps").Int(),
		TaxBps:               d.Get("tax_bps").Int(),
		CommissionBps:        d.Get("commission_bps").Int(),
		WeeklyDiscountBps:    d.Get("weekly_discount_bps").Int(),
		DepositAmount:        types.Money(d.Get("deposit_amount").Int()),
		RequiresDeposit:      d.Get("requires_deposit").Bool(),
		RequiresApproval:     d.Get("requires_approval").Bool(),
		CancellationPolicyID: d.Get("cancellation_policy_id").String(),
		MaxGuests:            int(d.Get("max_guests").Int()),
		Category:             types.ListingCategory(d.Get("category").String()),
	}
	if raw := d.Get("category_data"); raw.Exists() {
		terms.CategoryData = []byte(raw.Raw)
	}
	if from := d.Get("available_from"); from.Exists() && from.String() != "" {
		t := from.Time()
		terms.AvailableFrom = &t
	}
	if until := d.Get("available_until"); until.Exists() && until.String() != "" {
		t := until.Time()
		terms.AvailableUntil = &t
	}
	if terms.ListingID == "" || terms.OwnerID == "" || terms.CancellationPolicyID == "" {
		return nil, fmt.Errorf("listing %s is incomplete: %w", listingID, types.ErrMissingReferenceData)
	}
	return &terms, nil
}

func (c *HTTPCatalog) PayoutAccount(ctx context.Context, ownerID string) (string, error) {
	d, err := c.get(ctx, "owner", ownerID, "/owners/"+ownerID+"/payout-account")
	if err != nil {
		return "", err
	}
	account := d.Get("account_id").String()
	if account == "" {
		return "", fmt.Errorf("owner %s has no payout account: %w", ownerID, types.ErrMissingReferenceData)
	}
	return account, nil
}
