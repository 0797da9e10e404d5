package norm

import "strings"

var currencySymbols = map[string]string{
	"€": "EUR",
	"$": "USD",
	"£": "GBP",
	"¥": "JPY",
}

// NormalizeCurrency folds a source currency designator to an ISO-ish
// 3-letter uppercase code. Symbols map through a fixed alias table; any
// other input keeps its first three alphabetic characters uppercased.
// Empty input stays empty.
func NormalizeCurrency(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if code, ok := currencySymbols[s]; ok {
		return code
	}
	var letters []rune
	for _, r := range strings.ToUpper(s) {
		if r >= 'A' && r <= 'Z' {
			letters = append(letters, r)
			if len(letters) == 3 {
				break
			}
		}
	}
	return string(letters)
}
