package norm

import (
	"strings"
	"time"
)

// Locale biases the order in which ambiguous date formats are tried.
type Locale string

const (
	LocaleISO Locale = "ISO"
	LocaleEU  Locale = "EU"
	LocaleUS  Locale = "US"
	LocaleDE  Locale = "DE"
)

var isoFormats = []string{
	"2006-01-02", "2006-01-02T15:04:05Z07:00", "2006-01-02 15:04:05", "20060102",
}

var euFormats = []string{
	"02/01/2006", "02.01.2006", "02-01-2006", "2/1/2006", "2.1.2006",
}

var usFormats = []string{
	"01/02/2006", "01-02-2006", "1/2/2006",
}

var textualFormats = []string{
	"2 January 2006", "2 Jan 2006", "January 2, 2006", "Jan 2, 2006",
	"02 Jan 2006", "2006 Jan 02",
}

// formatOrder returns the parse attempt order for a locale hint. ISO is
// always tried first since it is unambiguous.
func formatOrder(locale Locale) []string {
	var order []string
	order = append(order, isoFormats...)
	switch locale {
	case LocaleUS:
		order = append(order, usFormats...)
		order = append(order, euFormats...)
	case LocaleEU, LocaleDE:
		order = append(order, euFormats...)
		order = append(order, usFormats...)
	default:
		order = append(order, euFormats...)
		order = append(order, usFormats...)
	}
	order = append(order, textualFormats...)
	return order
}

// ParseDate parses a source date string under a locale hint. Empty or
// whitespace input yields nil; unparseable input also yields nil, never an
// error -- row-level issues are surfaced through the health report instead.
func ParseDate(s string, locale Locale) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range formatOrder(locale) {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}
