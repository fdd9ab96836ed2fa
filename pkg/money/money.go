// Package money holds the decimal rules shared by quoting and settlement.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	AmountScale int32 = 4
	RateScale   int32 = 8

	// derivation legs are multiplied at this precision before the final rounding
	workScale int32 = 16
)

var (
	ErrInvalidDecimal = errors.New("invalid_decimal")
	ErrNotPositive    = errors.New("not_positive")
	ErrTooPrecise     = errors.New("too_many_decimal_places")
)

// RoundHalfUp rounds half away from zero. Every value handled here is
// positive, so this is round-half-up.
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// ParsePositive parses a canonical decimal string that must be > 0 and carry
// at most maxScale fractional digits.
func ParsePositive(raw string, maxScale int32) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, ErrInvalidDecimal
	}
	if strings.ContainsAny(raw, "eE") {
		return decimal.Zero, ErrInvalidDecimal
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrInvalidDecimal
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrNotPositive
	}
	if Scale(d) > maxScale {
		return decimal.Zero, ErrTooPrecise
	}
	return d, nil
}

// Scale returns the number of significant fractional digits of d.
func Scale(d decimal.Decimal) int32 {
	exp := d.Exponent()
	if exp >= 0 {
		return 0
	}
	// strip trailing zeros: 100.0000 has scale 0 for validation purposes
	s := d.String()
	idx := strings.IndexByte(s, '.')
	if idx < 0 {
		return 0
	}
	return int32(len(s) - idx - 1)
}

// Convert applies rate to amount and rounds to the amount scale.
func Convert(amount, rate decimal.Decimal, amountScale int32) decimal.Decimal {
	return RoundHalfUp(amount.Mul(rate), amountScale)
}

// Cross multiplies two legs of a derived rate at working precision.
func Cross(leg1, leg2 decimal.Decimal) decimal.Decimal {
	return leg1.Mul(leg2).Round(workScale)
}

// Inverse returns 1/rate at working precision.
func Inverse(rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).DivRound(rate, workScale)
}

// Format renders d with exactly places fractional digits.
func Format(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
