package match

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/cashops/internal/domain"
)

// Candidate is one scored invoice for one transaction.
type Candidate struct {
	Open       *OpenInvoice
	Confidence float64

	RefMatch    bool
	AmountMatch bool // within policy tolerance
	DateMatch   bool // within policy date window
	Tier        domain.MatchTier
}

// ScoreCandidates computes the additive confidence for each candidate and
// assigns tiers, returning candidates sorted by descending confidence.
func ScoreCandidates(txn *domain.BankTransaction, candidates []*OpenInvoice, policy domain.MatchingPolicy) []*Candidate {
	refs := ExtractReferences(txn.Reference + " " + txn.Counterparty)
	txnName := NormalizeCounterparty(txn.Counterparty)
	target := txn.Amount.Abs()

	out := make([]*Candidate, 0, len(candidates))
	for _, oi := range candidates {
		c := &Candidate{Open: oi}
		inv := oi.Invoice

		// Reference containment, either direction.
		docUpper := strings.ToUpper(inv.DocumentNumber)
		for _, ref := range refs {
			if strings.Contains(docUpper, ref) || (docUpper != "" && strings.Contains(ref, docUpper)) {
				c.RefMatch = true
				break
			}
		}
		if c.RefMatch {
			c.Confidence += 0.5
		}

		// Amount proximity relative to the open amount.
		tolerance := oi.OpenAmount.Abs().Mul(decimal.NewFromFloat(policy.AmountTolerance))
		diff := target.Sub(oi.OpenAmount.Abs()).Abs()
		switch {
		case diff.Cmp(tolerance) <= 0:
			c.AmountMatch = true
			c.Confidence += 0.3
		case diff.Cmp(tolerance.Mul(decimal.NewFromInt(10))) <= 0:
			c.Confidence += 0.2
		}

		// Counterparty.
		invName := NormalizeCounterparty(inv.Counterparty)
		if txnName != "" && invName != "" {
			if txnName == invName {
				c.Confidence += 0.15
			} else if strings.Contains(txnName, invName) || strings.Contains(invName, txnName) {
				c.Confidence += 0.08
			}
		}

		// Date proximity to due date. A date inside the 3-day band earns
		// the window bonus plus the proximity bonus.
		days := txn.TxnDate.Sub(inv.DueDate).Hours() / 24
		if days < 0 {
			days = -days
		}
		switch {
		case days <= 3:
			c.DateMatch = true
			c.Confidence += 0.15
		case days <= float64(policy.DateWindowDays):
			c.DateMatch = true
			c.Confidence += 0.05
		}

		if c.Confidence > 1.0 {
			c.Confidence = 1.0
		}
		c.Tier = assignTier(c, policy)
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence == out[j].Confidence {
			return out[i].Open.Invoice.DocumentNumber < out[j].Open.Invoice.DocumentNumber
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// assignTier classifies a scored candidate. Tier 3 is a floor classification
// only; the engine never auto-applies it.
func assignTier(c *Candidate, policy domain.MatchingPolicy) domain.MatchTier {
	switch {
	case c.RefMatch && c.Confidence >= 0.95:
		return domain.TierDeterministic
	case c.AmountMatch && c.DateMatch && c.Confidence >= policy.Tier2MinConfidence:
		return domain.TierRule
	case c.Confidence >= policy.Tier3MinConfidence:
		return domain.TierSuggested
	default:
		return domain.TierManual
	}
}
