// Package core provides money parsing and handling utilities.
//
// Amounts are decimal values: negative for expenses, positive for income.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// amountScale is the number of fractional digits kept after parsing.
const amountScale = 2

// ParseAmount converts a decimal string to a signed amount rounded half away
// from zero to two decimals.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional sign. Zero, empty and malformed inputs are rejected.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("-12,34") -> -12.34
//	ParseAmount("12.345") -> 12.35
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 || strings.ContainsAny(s, "eE") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(strings.TrimPrefix(s, "+"))
	if err != nil {
		return decimal.Zero, Wrap(ErrInvalidAmount, err)
	}
	d = d.Round(amountScale)
	if d.IsZero() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FormatAmount renders an amount with two fixed decimals.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(amountScale)
}
