package match

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/cashops/internal/domain"
)

// OpenInvoice pairs an invoice with its remaining open amount (face amount
// minus already-approved allocations).
type OpenInvoice struct {
	Invoice    *domain.Invoice
	OpenAmount decimal.Decimal
}

// amountBucket floors an absolute amount to its 100-wide bucket.
func amountBucket(amount decimal.Decimal) int64 {
	return amount.Abs().Div(decimal.NewFromInt(100)).Floor().IntPart() * 100
}

// isoWeek renders a date as ISO "YYYY-Www".
func isoWeek(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// BlockingIndex narrows candidate generation from all open invoices to a
// handful of blocks. Built once per snapshot run, never shared across
// snapshots.
type BlockingIndex struct {
	invoices map[string]*OpenInvoice

	byRef          map[string]map[string]bool
	byAmountBucket map[int64]map[string]bool
	byCounterparty map[string]map[string]bool
	byDueWeek      map[string]map[string]bool
}

// BuildIndex indexes the open invoices of a snapshot: unpaid, with a
// positive open amount.
func BuildIndex(open []*OpenInvoice) *BlockingIndex {
	idx := &BlockingIndex{
		invoices:       make(map[string]*OpenInvoice, len(open)),
		byRef:          make(map[string]map[string]bool),
		byAmountBucket: make(map[int64]map[string]bool),
		byCounterparty: make(map[string]map[string]bool),
		byDueWeek:      make(map[string]map[string]bool),
	}
	for _, oi := range open {
		inv := oi.Invoice
		if inv.PaymentDate != nil || oi.OpenAmount.Cmp(domain.Tolerance) <= 0 {
			continue
		}
		idx.invoices[inv.ID] = oi

		for _, ref := range ExtractReferences(inv.DocumentNumber) {
			addToBlock(idx.byRef, ref, inv.ID)
		}
		addToBlockInt(idx.byAmountBucket, amountBucket(inv.Amount), inv.ID)
		if name := NormalizeCounterparty(inv.Counterparty); name != "" {
			addToBlock(idx.byCounterparty, name, inv.ID)
		}
		addToBlock(idx.byDueWeek, isoWeek(inv.DueDate), inv.ID)
	}
	return idx
}

func addToBlock(m map[string]map[string]bool, key, id string) {
	if m[key] == nil {
		m[key] = make(map[string]bool)
	}
	m[key][id] = true
}

func addToBlockInt(m map[int64]map[string]bool, key int64, id string) {
	if m[key] == nil {
		m[key] = make(map[string]bool)
	}
	m[key][id] = true
}

// Get returns the open invoice by id, or nil.
func (idx *BlockingIndex) Get(id string) *OpenInvoice { return idx.invoices[id] }

// Reduce lowers an invoice's open amount after an applied allocation so
// later transactions in the same run see the updated availability.
func (idx *BlockingIndex) Reduce(id string, by decimal.Decimal) {
	if oi, ok := idx.invoices[id]; ok {
		oi.OpenAmount = oi.OpenAmount.Sub(by)
	}
}

// Candidates intersects the non-empty blocks for a transaction and unions
// in reference matches.
func (idx *BlockingIndex) Candidates(txn *domain.BankTransaction, dateWindowDays int) []*OpenInvoice {
	var blocks []map[string]bool

	// Amount block scans bucket +/- 100.
	bucket := amountBucket(txn.Amount)
	amountSet := make(map[string]bool)
	for _, b := range []int64{bucket - 100, bucket, bucket + 100} {
		for id := range idx.byAmountBucket[b] {
			amountSet[id] = true
		}
	}
	if len(amountSet) > 0 {
		blocks = append(blocks, amountSet)
	}

	if name := NormalizeCounterparty(txn.Counterparty); name != "" {
		if set := idx.byCounterparty[name]; len(set) > 0 {
			blocks = append(blocks, set)
		}
	}

	// Due-week block scans every ISO week the policy date window touches,
	// with a one-week floor so due dates just across a week boundary still
	// block in.
	window := dateWindowDays
	if window < 7 {
		window = 7
	}
	weekSet := make(map[string]bool)
	for offset := -window; ; offset += 7 {
		if offset > window {
			offset = window
		}
		wk := isoWeek(txn.TxnDate.AddDate(0, 0, offset))
		for id := range idx.byDueWeek[wk] {
			weekSet[id] = true
		}
		if offset >= window {
			break
		}
	}
	if len(weekSet) > 0 {
		blocks = append(blocks, weekSet)
	}

	result := intersect(blocks)

	// Reference hits are unioned in regardless of blocking.
	refs := ExtractReferences(txn.Reference + " " + txn.Counterparty)
	for _, ref := range refs {
		for id := range idx.byRef[ref] {
			result[id] = true
		}
	}

	out := make([]*OpenInvoice, 0, len(result))
	for id := range result {
		oi := idx.invoices[id]
		if oi == nil || oi.OpenAmount.Cmp(domain.Tolerance) <= 0 {
			continue
		}
		out = append(out, oi)
	}
	return out
}

func intersect(blocks []map[string]bool) map[string]bool {
	result := make(map[string]bool)
	if len(blocks) == 0 {
		return result
	}
	smallest := blocks[0]
	for _, b := range blocks[1:] {
		if len(b) < len(smallest) {
			smallest = b
		}
	}
	for id := range smallest {
		inAll := true
		for _, b := range blocks {
			if !b[id] {
				inAll = false
				break
			}
		}
		if inAll {
			result[id] = true
		}
	}
	return result
}
