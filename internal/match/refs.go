// Package match implements the reconciliation matching engine: blocking
// index, candidate scoring, tier classification, the constrained allocation
// solver and the allocation writer.
package match

import (
	"regexp"
	"strings"
)

var refPatterns = []*regexp.Regexp{
	regexp.MustCompile(`INV[-\s]?(\d+)`),
	regexp.MustCompile(`INVOICE[-\s]?(\d+)`),
	regexp.MustCompile(`#(\d+)`),
	regexp.MustCompile(`REF[-\s]?(\d+)`),
	regexp.MustCompile(`DOC[-\s]?(\d+)`),
}

var digitRun = regexp.MustCompile(`\d{4,}`)

// ExtractReferences collects candidate document references from free-form
// bank text: tagged tokens (INV-123, REF 456, #789, ...) plus raw digit
// runs of length >= 4, deduplicated, uppercased.
func ExtractReferences(text string) []string {
	upper := strings.ToUpper(text)
	seen := make(map[string]bool)
	var out []string
	add := func(tok string) {
		if tok != "" && !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	for _, re := range refPatterns {
		for _, m := range re.FindAllStringSubmatch(upper, -1) {
			add(m[1])
		}
	}
	for _, run := range digitRun.FindAllString(upper, -1) {
		add(run)
	}
	return out
}

var companySuffixes = []string{"ltd", "llc", "inc", "gmbh", "ag", "sa", "bv", "nv"}

var punctuation = regexp.MustCompile(`[^\pL\pN\s]`)
var multiSpace = regexp.MustCompile(`\s+`)

// NormalizeCounterparty folds a counterparty name for blocking: lowercase,
// punctuation removed, whitespace collapsed, trailing company suffixes
// stripped.
func NormalizeCounterparty(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = punctuation.ReplaceAllString(s, "")
	s = multiSpace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	words := strings.Split(s, " ")
	for len(words) > 1 {
		last := words[len(words)-1]
		stripped := false
		for _, suffix := range companySuffixes {
			if last == suffix {
				words = words[:len(words)-1]
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}
	return strings.Join(words, " ")
}
