// Package core provides the ledger data model.
//
// This file contains the single conversion boundary between decimal amounts
// as they arrive from clients and the integer minor units used everywhere else.
package core

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a decimal amount such as "12.34" or "-0.5".
// Surrounding whitespace is ignored. Thousands separators are not accepted.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ToMinorUnits converts an amount to minor units (amount * 100) rounding half
// away from zero, so 19.995 -> 2000 and -0.005 -> -1.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	cents := amount.Shift(2).Round(0)
	if cents.GreaterThan(maxMinorUnits) || cents.LessThan(minMinorUnits) {
		return 0, ErrInvalidAmount
	}
	return cents.IntPart(), nil
}

// FloatToMinorUnits converts a JSON number. The float is first turned into
// its shortest decimal representation, so 19.995 is treated as written rather
// than as the nearest binary value (19.99499...).
func FloatToMinorUnits(amount float64) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, ErrInvalidAmount
	}
	return ToMinorUnits(decimal.NewFromFloat(amount))
}

// ParseMinorUnits is ParseAmount followed by ToMinorUnits.
func ParseMinorUnits(s string) (int64, error) {
	d, err := ParseAmount(s)
	if err != nil {
		return 0, err
	}
	return ToMinorUnits(d)
}

// FromMinorUnits converts minor units back to a decimal amount for display.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

var (
	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
	minMinorUnits = decimal.NewFromInt(math.MinInt64)
)
