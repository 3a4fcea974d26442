package utils

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a human readable token amount ("10", "9.99") into minor units.
// Fractions finer than the token's decimals are rejected rather than rounded.
func ParseAmount(s string, decimals int32) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	minor := d.Shift(decimals)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, decimals)
	}
	if minor.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}
	return minor.IntPart(), nil
}

// FormatAmount renders minor units with the token's decimals, trimming trailing zeros.
func FormatAmount(minor int64, decimals int32) string {
	return decimal.New(minor, -decimals).String()
}

// MulDivFloor computes floor(a*b/c) for non-negative operands without int64 overflow in the intermediate product.
func MulDivFloor(a, b, c int64) int64 {
	if c == 0 {
		return 0
	}
	q, _ := decimal.NewFromInt(a).
		Mul(decimal.NewFromInt(b)).
		QuoRem(decimal.NewFromInt(c), 0)
	return q.IntPart()
}
