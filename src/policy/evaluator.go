package policy

import (
	"fmt"
	"rentals/src/types"
	"sort"
	"time"
)

// RefundPercentage returns the share of the refundable amount owed to a
// renter cancelling at now for a booking starting at start. Rules are
// scanned from the largest threshold down; a rule applies when its
// threshold is at or below the time remaining. Cancelling at or after the
// start always yields no refund.
func RefundPercentage(rules []types.RefundRule, now, start time.Time) types.Percentage {
	until := start.Sub(now)
	if until < 0 {
		return types.NoRefund
	}
	sorted := make([]types.RefundRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].HoursBeforeStart > sorted[j].HoursBeforeStart
	})

	best := types.NoRefund
	for _, r := range sorted {
		if time.Duration(r.HoursBeforeStart)*time.Hour > until {
			continue
		}
		// the first match wins on a well-formed rule set; taking the max
		// keeps the result monotonic for any stored rules
		if r.RefundBps > best {
			best = r.RefundBps
		}
	}
	if best > types.FullRefund {
		return types.FullRefund
	}
	return best
}

// HostCancellationRefund applies when the owner cancels or fails to hand
// over the listing.
func HostCancellationRefund() types.Percentage {
	return types.FullRefund
}

// ValidateRules rejects rule sets that would refund more as the start
// approaches.
func ValidateRules(rules []types.RefundRule) error {
	if len(rules) == 0 {
		return &types.ValidationError{Field: "rules", Message: "at least one rule is required"}
	}
	sorted := make([]types.RefundRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].HoursBeforeStart > sorted[j].HoursBeforeStart
	})
	for i, r := range sorted {
		if r.HoursBeforeStart < 0 {
			return &types.ValidationError{Field: "rules", Message: "hours_before_start cannot be negative"}
		}
		if !r.RefundBps.Valid() {
			return &types.ValidationError{Field: "rules", Message: fmt.Sprintf("refund %d bps is out of range", r.RefundBps)}
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.HoursBeforeStart == r.HoursBeforeStart {
			return &types.ValidationError{Field: "rules", Message: fmt.Sprintf("duplicate threshold %dh", r.HoursBeforeStart)}
		}
		if r.RefundBps > prev.RefundBps {
			return &types.ValidationError{Field: "rules", Message: fmt.Sprintf("refund at %dh exceeds refund at %dh", r.HoursBeforeStart, prev.HoursBeforeStart)}
		}
	}
	return nil
}
