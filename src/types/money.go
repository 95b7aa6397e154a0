package types

import "fmt"

// Money is an amount in minor currency units.
type Money int64

// Percentage is expressed in basis points, 10000 being 100%.
type Percentage int64

const (
	NoRefund   Percentage = 0
	FullRefund Percentage = 10000
)

func (p Percentage) Valid() bool {
	return p >= NoRefund && p <= FullRefund
}

func (p Percentage) String() string {
	return fmt.Sprintf("%d.%02d%%", p/100, p%100)
}

// MulBps applies a basis-point rate, rounding toward zero.
func (m Money) MulBps(bps int64) Money {
	return Money(int64(m) * bps / 10000)
}

// Apply returns the share of m covered by p.
func (m Money) Apply(p Percentage) Money {
	return m.MulBps(int64(p))
}

// Split divides m proportionally to the given weights. Remainders from
// rounding are assigned to the last part so the parts always sum to m.
func (m Money) Split(weights ...Money) []Money {
	parts := make([]Money, len(weights))
	if len(weights) == 0 {
		return parts
	}
	var total Money
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		parts[len(parts)-1] = m
		return parts
	}
	var assigned Money
	for i, w := range weights[:len(weights)-1] {
		parts[i] = Money(int64(m) * int64(w) / int64(total))
		assigned += parts[i]
	}
	parts[len(parts)-1] = m - assigned
	return parts
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
