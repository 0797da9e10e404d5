package norm

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a monetary string in US (1,234.56) or EU (1.234,56)
// convention, accepting parenthesized negatives, currency symbols and a
// leading minus. The result is rounded to 2 decimals. Empty input yields
// nil; unparseable input yields nil.
func ParseAmount(s string) *decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	// Strip currency symbols, codes and spacing; keep digits, separators
	// and sign.
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-', r == '+':
			b.WriteRune(r)
		}
	}
	s = b.String()
	if s == "" {
		return nil
	}

	if strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimPrefix(s, "-")
	}
	s = strings.TrimPrefix(s, "+")
	if s == "" || strings.ContainsAny(s, "-+") {
		return nil
	}

	s = resolveSeparators(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	if negative {
		d = d.Neg()
	}
	d = d.Round(2)
	return &d
}

// resolveSeparators rewrites a digit string with mixed `,`/`.` separators
// into plain decimal-point form. When both appear the rightmost one is the
// decimal separator; a lone separator followed by exactly two digits is
// treated as decimal, otherwise as thousands grouping.
func resolveSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// EU: dots group thousands, comma is decimal.
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		// Multiple dots can only be thousands grouping; a single dot is
		// taken as the decimal point.
		if strings.Count(s, ".") > 1 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}
