package store

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places prices are scaled by at the
// integer boundary (e.g. 0.3015 -> 30150000).
const PriceScale = 8

// ParsePrice parses a decimal price string into a finite float64.
func ParsePrice(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("store: parse price %q: %w", s, err)
	}
	f, _ := d.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q", ErrNonFinite, s)
	}
	return f, nil
}

// FormatPrice renders a price as a decimal string without float formatting
// artifacts.
func FormatPrice(p float64) string {
	return decimal.NewFromFloat(p).String()
}

// ScalePrice converts a decimal price into its scaled-integer form.
func ScalePrice(d decimal.Decimal) int64 {
	return d.Shift(PriceScale).IntPart()
}

// UnscalePrice converts a scaled-integer price back into a decimal.
func UnscalePrice(v int64) decimal.Decimal {
	return decimal.New(v, -PriceScale)
}
