package domain

import "github.com/shopspring/decimal"

// Tolerance is the platform-wide monetary comparison tolerance. Every
// floating-point equality on amounts goes through WithinTolerance.
var Tolerance = decimal.RequireFromString("0.01")

// OvermatchSlack is the relative slack allowed when checking that the
// allocations against an invoice do not exceed its face amount.
var OvermatchSlack = decimal.RequireFromString("0.001")

// WithinTolerance reports whether |a-b| <= Tolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().Cmp(Tolerance) <= 0
}

// Round2 rounds an amount to 2 decimal places, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// SumAmounts adds a slice of amounts without float drift.
func SumAmounts(in []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, d := range in {
		total = total.Add(d)
	}
	return total
}
