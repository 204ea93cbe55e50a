package model

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParseAmount converts a loosely typed JSON amount to a decimal.
// The backend and older cached carts send prices as strings ("9.99"),
// numbers (9.99) or json.Number depending on serializer.
// Unparseable input yields zero; callers clamp negatives where the model forbids them.
// Examples: "99.00" → 99, 12.5 → 12.5, "" → 0, "abc" → 0
func ParseAmount(v any) decimal.Decimal {
	switch x := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return x
	case float64:
		return decimal.NewFromFloat(x)
	case int:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

// FormatAmount renders an amount with exactly two decimals, as the backend expects.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// ApplyDiscount returns subtotal reduced by percent, truncated to 2 decimal places.
// 19.98 at 10% → 17.98. Percent outside [0, 100] is clamped.
func ApplyDiscount(subtotal decimal.Decimal, percent decimal.Decimal) decimal.Decimal {
	if percent.IsNegative() {
		percent = decimal.Zero
	}
	if percent.GreaterThan(hundred) {
		percent = hundred
	}
	factor := decimal.NewFromInt(1).Sub(percent.Div(hundred))
	return subtotal.Mul(factor).Truncate(2)
}
