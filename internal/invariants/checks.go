package invariants

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/cashops/internal/domain"
)

func isoWeek(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// checkWeeklyCashMath verifies the weekly closing chain: each week's closing
// equals its opening plus inflows minus outflows, cumulatively from the
// snapshot opening balance. The snapshot stores only the opening balance, so
// the cross-check is against the direct transaction sum rather than stored
// weekly aggregates; what it catches is drift in the bucketing itself.
func checkWeeklyCashMath(v *snapshotView) domain.InvariantFinding {
	f := domain.InvariantFinding{Name: "weekly_cash_math", Severity: domain.SeverityCritical, Exposure: decimal.Zero}
	if len(v.txns) == 0 {
		f.Status = domain.CheckSkip
		f.Details = "no bank transactions"
		return f
	}

	inflows := make(map[string]decimal.Decimal)
	outflows := make(map[string]decimal.Decimal)
	var weeks []string
	for _, t := range v.txns {
		wk := isoWeek(t.TxnDate)
		if _, seen := inflows[wk]; !seen {
			if _, seen := outflows[wk]; !seen {
				weeks = append(weeks, wk)
			}
		}
		if t.IsInflow() {
			inflows[wk] = inflows[wk].Add(t.Amount)
		} else {
			outflows[wk] = outflows[wk].Add(t.Amount.Abs())
		}
	}
	sort.Strings(weeks)

	var proof []string
	closing := v.snap.OpeningBankBalance
	for _, wk := range weeks {
		opening := closing
		closing = opening.Add(inflows[wk]).Sub(outflows[wk])
		proof = append(proof, fmt.Sprintf("%s: %s + %s - %s = %s",
			wk, opening.StringFixed(2), inflows[wk].StringFixed(2), outflows[wk].StringFixed(2), closing.StringFixed(2)))
	}

	// Cross-check the chain against the direct sum over all transactions.
	direct := v.snap.OpeningBankBalance
	for _, t := range v.txns {
		direct = direct.Add(t.Amount)
	}
	f.Proof = strings.Join(proof, "; ")
	if !domain.WithinTolerance(closing, direct) {
		f.Status = domain.CheckFail
		f.Details = fmt.Sprintf("weekly chain closing %s disagrees with direct sum %s",
			closing.StringFixed(2), direct.StringFixed(2))
		f.Exposure = closing.Sub(direct).Abs()
		return f
	}
	f.Status = domain.CheckPass
	f.Details = fmt.Sprintf("%d weeks chained, closing %s", len(weeks), closing.StringFixed(2))
	return f
}

// checkDrilldownSums verifies that grouping invoices by any drilldown
// dimension conserves the snapshot total.
func checkDrilldownSums(v *snapshotView) domain.InvariantFinding {
	f := domain.InvariantFinding{Name: "drilldown_sum_integrity", Severity: domain.SeverityError, Exposure: decimal.Zero}
	if len(v.invoices) == 0 {
		f.Status = domain.CheckSkip
		f.Details = "no invoices"
		return f
	}

	total := decimal.Zero
	for _, inv := range v.invoices {
		total = total.Add(inv.Amount)
	}

	dims := map[string]func(*domain.Invoice) string{
		"customer": func(i *domain.Invoice) string { return i.Counterparty },
		"country":  func(i *domain.Invoice) string { return i.Country },
		"currency": func(i *domain.Invoice) string { return i.Currency },
	}

	var proof []string
	for _, dim := range []string{"customer", "country", "currency"} {
		grouped := make(map[string]decimal.Decimal)
		for _, inv := range v.invoices {
			key := dims[dim](inv)
			grouped[key] = grouped[key].Add(inv.Amount)
		}
		sum := decimal.Zero
		for _, amt := range grouped {
			sum = sum.Add(amt)
		}
		proof = append(proof, fmt.Sprintf("%s: %d groups sum %s", dim, len(grouped), sum.StringFixed(2)))
		if !domain.WithinTolerance(sum, total) {
			f.Status = domain.CheckFail
			f.Details = fmt.Sprintf("dimension %s sums to %s, snapshot total %s",
				dim, sum.StringFixed(2), total.StringFixed(2))
			f.Exposure = sum.Sub(total).Abs()
			f.Proof = strings.Join(proof, "; ")
			return f
		}
	}
	f.Status = domain.CheckPass
	f.Details = fmt.Sprintf("total %s conserved across 3 dimensions", total.StringFixed(2))
	f.Proof = strings.Join(proof, "; ")
	return f
}

// checkConservation verifies that every reconciled transaction's approved
// allocations plus fees and writeoffs equal its absolute amount.
func checkConservation(v *snapshotView) domain.InvariantFinding {
	f := domain.InvariantFinding{Name: "reconciliation_conservation", Severity: domain.SeverityCritical, Exposure: decimal.Zero}

	byTxn := make(map[string]decimal.Decimal)
	for _, a := range v.allocations {
		if a.Status == domain.AllocationReconciled {
			byTxn[a.TransactionID] = byTxn[a.TransactionID].Add(a.AllocatedAmount)
		}
	}

	checked := 0
	var proof []string
	for _, t := range v.txns {
		if t.ReconStatus != domain.ReconReconciled {
			continue
		}
		checked++
		settled := byTxn[t.ID].Add(t.Fee).Add(t.Writeoff)
		proof = append(proof, fmt.Sprintf("%s: %s + %s + %s vs |%s|",
			t.ID, byTxn[t.ID].StringFixed(2), t.Fee.StringFixed(2), t.Writeoff.StringFixed(2), t.Amount.StringFixed(2)))
		if !domain.WithinTolerance(settled, t.Amount.Abs()) {
			f.Status = domain.CheckFail
			f.Details = fmt.Sprintf("transaction %s settles %s against amount %s",
				t.ID, settled.StringFixed(2), t.Amount.Abs().StringFixed(2))
			f.Exposure = f.Exposure.Add(settled.Sub(t.Amount.Abs()).Abs())
			f.Evidence = append(f.Evidence, domain.EvidenceLink{EvidenceType: "bank_transaction", EvidenceID: t.ID})
		}
	}
	if f.Status == domain.CheckFail {
		f.Proof = strings.Join(proof, "; ")
		return f
	}
	if checked == 0 {
		f.Status = domain.CheckSkip
		f.Details = "no reconciled transactions"
		return f
	}
	f.Status = domain.CheckPass
	f.Details = fmt.Sprintf("%d reconciled transactions conserve value", checked)
	f.Proof = strings.Join(proof, "; ")
	return f
}

// checkNoOvermatch verifies no invoice is allocated beyond its face amount
// (plus slack) and no allocation is negative.
func checkNoOvermatch(v *snapshotView) domain.InvariantFinding {
	f := domain.InvariantFinding{Name: "no_overmatch", Severity: domain.SeverityCritical, Exposure: decimal.Zero}
	if len(v.allocations) == 0 {
		f.Status = domain.CheckSkip
		f.Details = "no allocations"
		return f
	}

	byInvoice := make(map[string]decimal.Decimal)
	for _, a := range v.allocations {
		if a.AllocatedAmount.Sign() < 0 {
			f.Status = domain.CheckFail
			f.Details = fmt.Sprintf("allocation %s is negative: %s", a.ID, a.AllocatedAmount.StringFixed(2))
			f.Evidence = append(f.Evidence, domain.EvidenceLink{EvidenceType: "allocation", EvidenceID: a.ID})
			f.Exposure = f.Exposure.Add(a.AllocatedAmount.Abs())
		}
		if a.Status == domain.AllocationReconciled && a.TargetKind == domain.TargetInvoice {
			byInvoice[a.TargetID] = byInvoice[a.TargetID].Add(a.AllocatedAmount)
		}
	}
	if f.Status == domain.CheckFail {
		return f
	}

	slack := decimal.NewFromInt(1).Add(domain.OvermatchSlack)
	for _, inv := range v.invoices {
		allocated, ok := byInvoice[inv.ID]
		if !ok {
			continue
		}
		limit := inv.Amount.Mul(slack)
		if allocated.Cmp(limit) > 0 {
			f.Status = domain.CheckFail
			f.Details = fmt.Sprintf("invoice %s allocated %s over limit %s",
				inv.DocumentNumber, allocated.StringFixed(2), limit.StringFixed(2))
			f.Proof = fmt.Sprintf("%s > %s * %s", allocated.StringFixed(2), inv.Amount.StringFixed(2), slack.String())
			f.Evidence = append(f.Evidence, domain.EvidenceLink{EvidenceType: "invoice", EvidenceID: inv.ID})
			f.Exposure = f.Exposure.Add(allocated.Sub(inv.Amount))
			return f
		}
	}
	f.Status = domain.CheckPass
	f.Details = fmt.Sprintf("%d allocated invoices within limits", len(byInvoice))
	return f
}

// checkFXSafety verifies every foreign-currency invoice has a stored rate to
// base, and flags suspicious 1.0 rates between distinct currencies.
func checkFXSafety(v *snapshotView) domain.InvariantFinding {
	f := domain.InvariantFinding{Name: "fx_safety", Severity: domain.SeverityError, Exposure: decimal.Zero}
	base := v.snap.BaseCurrency

	one := decimal.NewFromInt(1)
	for _, r := range v.rates {
		if r.FromCcy != r.ToCcy && r.Rate.Equal(one) {
			// A 1.0 rate between distinct currencies is the signature of a
			// silent fallback upstream.
			f.Status = domain.CheckFail
			f.Severity = domain.SeverityCritical
			f.Details = fmt.Sprintf("suspicious 1.0 rate stored for %s->%s", r.FromCcy, r.ToCcy)
			f.Proof = fmt.Sprintf("rate(%s->%s) == 1.0", r.FromCcy, r.ToCcy)
			f.Evidence = append(f.Evidence, domain.EvidenceLink{EvidenceType: "fx_rate", EvidenceID: r.ID})
			return f
		}
	}

	available := make(map[string]bool)
	for _, r := range v.rates {
		available[r.FromCcy+"->"+r.ToCcy] = true
	}

	foreign := 0
	var missing []string
	for _, inv := range v.invoices {
		if inv.Currency == "" || inv.Currency == base {
			continue
		}
		foreign++
		if !available[inv.Currency+"->"+base] {
			missing = append(missing, inv.Currency)
			f.Exposure = f.Exposure.Add(inv.Amount.Abs())
			f.Evidence = append(f.Evidence, domain.EvidenceLink{EvidenceType: "invoice", EvidenceID: inv.ID})
		}
	}
	if len(missing) > 0 {
		// Status WARN carries the degraded outcome; the check's severity
		// stays ERROR.
		f.Status = domain.CheckWarn
		f.Details = fmt.Sprintf("%d invoices without a rate to %s (%s)", len(missing), base, strings.Join(dedup(missing), ","))
		return f
	}
	if foreign == 0 {
		f.Status = domain.CheckSkip
		f.Details = "no foreign-currency invoices"
		return f
	}
	f.Status = domain.CheckPass
	f.Details = fmt.Sprintf("%d foreign-currency invoices covered", foreign)
	return f
}

// checkImmutability verifies a locked snapshot's lock metadata and that no
// mutating audit entry postdates the lock.
func checkImmutability(v *snapshotView) domain.InvariantFinding {
	f := domain.InvariantFinding{Name: "snapshot_immutability", Severity: domain.SeverityCritical, Exposure: decimal.Zero}
	if !v.snap.IsLocked() {
		f.Status = domain.CheckSkip
		f.Details = "snapshot not locked"
		return f
	}
	if v.snap.LockedAt == nil || v.snap.LockedBy == "" {
		f.Status = domain.CheckFail
		f.Details = "locked snapshot missing locked_at or locked_by"
		return f
	}

	for _, entry := range v.audit {
		mutating := entry.Action == "Update" || entry.Action == "Delete"
		if mutating && entry.CreatedAt.After(*v.snap.LockedAt) {
			f.Status = domain.CheckFail
			f.Details = fmt.Sprintf("audit entry %s (%s %s) postdates the lock", entry.ID, entry.Action, entry.ResourceType)
			f.Proof = fmt.Sprintf("%s > locked_at %s", entry.CreatedAt.Format("2006-01-02T15:04:05Z"), v.snap.LockedAt.Format("2006-01-02T15:04:05Z"))
			f.Evidence = append(f.Evidence, domain.EvidenceLink{EvidenceType: "audit_log", EvidenceID: entry.ID})
			return f
		}
	}
	f.Status = domain.CheckPass
	f.Details = fmt.Sprintf("locked by %s, no mutations since", v.snap.LockedBy)
	return f
}

// checkIdempotency verifies canonical-id uniqueness within the snapshot.
func checkIdempotency(v *snapshotView) domain.InvariantFinding {
	f := domain.InvariantFinding{Name: "idempotency", Severity: domain.SeverityError, Exposure: decimal.Zero}
	if len(v.invoices) == 0 && len(v.bills) == 0 {
		f.Status = domain.CheckSkip
		f.Details = "no documents"
		return f
	}

	seen := make(map[string]string)
	for _, inv := range v.invoices {
		if prior, dup := seen[inv.CanonicalID]; dup {
			f.Status = domain.CheckFail
			f.Details = fmt.Sprintf("canonical id %s shared by invoices %s and %s", inv.CanonicalID, prior, inv.ID)
			f.Evidence = append(f.Evidence,
				domain.EvidenceLink{EvidenceType: "invoice", EvidenceID: prior},
				domain.EvidenceLink{EvidenceType: "invoice", EvidenceID: inv.ID})
			f.Exposure = f.Exposure.Add(inv.Amount.Abs())
			return f
		}
		seen[inv.CanonicalID] = inv.ID
	}
	billSeen := make(map[string]string)
	for _, b := range v.bills {
		if prior, dup := billSeen[b.CanonicalID]; dup {
			f.Status = domain.CheckFail
			f.Details = fmt.Sprintf("canonical id %s shared by bills %s and %s", b.CanonicalID, prior, b.ID)
			f.Exposure = f.Exposure.Add(b.Amount.Abs())
			return f
		}
		billSeen[b.CanonicalID] = b.ID
	}
	f.Status = domain.CheckPass
	f.Details = fmt.Sprintf("%d invoices, %d bills, all canonical ids unique", len(v.invoices), len(v.bills))
	return f
}

func dedup(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
