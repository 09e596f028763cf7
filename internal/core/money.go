// Package core holds the domain model of the tracker: monetary values,
// cycle tags, transactions, movements and ledger rows.
//
// Monetary amounts are carried as int64 cents everywhere in memory and in the
// database. Decimal strings only appear at the serialization edge (API
// payloads, CSV imports) and are converted with shopspring/decimal so the
// 2-digit currency / 4-digit rate fixed-point round-trips stay exact.
package core

import (
	"github.com/shopspring/decimal"
)

// Money is a fixed-point currency amount in cents.
type Money struct {
	Cents int64
}

// ParseAmount converts a decimal string into cents. Values with more than two
// fractional digits are rounded half away from zero on the third digit.
// Negative amounts are rejected: every caller in this domain supplies
// magnitudes, the sign is carried by the transaction or movement type.
func ParseAmount(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	if d.IsNegative() {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: d.Shift(2).Round(0).IntPart()}, nil
}

// String renders the amount as a decimal string with exactly two fractional
// digits.
func (m Money) String() string {
	return decimal.NewFromInt(m.Cents).Shift(-2).StringFixed(2)
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }

func (m Money) IsZero() bool     { return m.Cents == 0 }
func (m Money) IsNegative() bool { return m.Cents < 0 }

// Validate rejects non-positive amounts. Used where a real monetary movement
// is required; zero-allowed fields (fees, caps) check IsNegative directly.
func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// ParseRate converts a percent string ("5.0" = 5%) into basis points of a
// percent, i.e. a 4-decimal fixed-point: 5.0 -> 50000.
func ParseRate(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidRate
	}
	if d.IsNegative() {
		return 0, ErrInvalidRate
	}
	return d.Shift(4).Round(0).IntPart(), nil
}

// FormatRate renders a 4-decimal fixed-point percent rate as a string with
// exactly four fractional digits.
func FormatRate(bps int64) string {
	return decimal.NewFromInt(bps).Shift(-4).StringFixed(4)
}

// PercentOf computes rate% of amount with half-away-from-zero rounding to the
// cent. rate is a 4-decimal fixed-point percent as produced by ParseRate.
func PercentOf(amount Money, rateBps int64) Money {
	cents := decimal.NewFromInt(amount.Cents).
		Mul(decimal.NewFromInt(rateBps)).
		Div(decimal.NewFromInt(1_000_000)).
		Round(0)
	return Money{Cents: cents.IntPart()}
}
