package types

import (
	"encoding/json"
	"time"
)

// ListingTerms is the read-only snapshot of a listing taken at request time.
type ListingTerms struct {
	ListingID            string          `json:"id"`
	OwnerID              string          `json:"owner_id"`
	Title                string          `json:"title"`
	Currency             string          `json:"currency"`
	DailyRate            Money           `json:"daily_rate"`
	ServiceFeeBps        int64           `json:"service_fee_bps"`
	TaxBps               int64           `json:"tax_bps"`
	CommissionBps        int64           `json:"commission_bps"`
	WeeklyDiscountBps    int64           `json:"weekly_discount_bps"`
	DepositAmount        Money           `json:"deposit_amount"`
	RequiresDeposit      bool            `json:"requires_deposit"`
	RequiresApproval     bool            `json:"requires_approval"`
	CancellationPolicyID string          `json:"cancellation_policy_id"`
	MaxGuests            int             `json:"max_guests"`
	AvailableFrom        *time.Time      `json:"available_from,omitempty"`
	AvailableUntil       *time.Time      `json:"available_until,omitempty"`
	Category             ListingCategory `json:"category"`
	CategoryData         json.RawMessage `json:"category_data,omitempty"`
}

// PriceBreakdown holds every monetary component of a booking.
type PriceBreakdown struct {
	Days           int64 `json:"days"`
	BasePrice      Money `json:"base_price"`
	ServiceFee     Money `json:"service_fee"`
	Tax            Money `json:"tax"`
	DiscountAmount Money `json:"discount_amount"`
	DepositAmount  Money `json:"deposit_amount"`
	TotalPrice     Money `json:"total_price"`
	PlatformFee    Money `json:"platform_fee"`
	OwnerEarnings  Money `json:"owner_earnings"`
}

// WeeklyDiscountDays is the minimum rental length for the weekly discount.
const WeeklyDiscountDays = 7

// Quote prices a rental of the given number of days under the terms.
func (t ListingTerms) Quote(days int64) (PriceBreakdown, error) {
	if days < 1 {
		return PriceBreakdown{}, &ValidationError{Field: "dates", Message: "rental must span at least one day"}
	}
	if t.DailyRate <= 0 {
		return PriceBreakdown{}, &ValidationError{Field: "daily_rate", Message: "listing has no price"}
	}
	p := PriceBreakdown{Days: days}
	p.BasePrice = t.DailyRate * Money(days)
	if days >= WeeklyDiscountDays {
		p.DiscountAmount = p.BasePrice.MulBps(t.WeeklyDiscountBps)
	}
	p.ServiceFee = p.BasePrice.MulBps(t.ServiceFeeBps)
	p.Tax = p.BasePrice.MulBps(t.TaxBps)
	p.TotalPrice = p.BasePrice + p.ServiceFee + p.Tax - p.DiscountAmount
	if t.RequiresDeposit {
		p.DepositAmount = t.DepositAmount
	}
	commission := (p.BasePrice - p.DiscountAmount).MulBps(t.CommissionBps)
	p.PlatformFee = p.ServiceFee + p.Tax + commission
	p.OwnerEarnings = p.TotalPrice - p.DepositAmount - p.PlatformFee
	if p.OwnerEarnings < 0 {
		return PriceBreakdown{}, &ValidationError{Field: "deposit_amount", Message: "deposit and fees exceed the rental price"}
	}
	return p, nil
}
