package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/cashops/internal/domain"
)

func openInv(doc, counterparty, amount string, due time.Time) *OpenInvoice {
	return &OpenInvoice{
		Invoice: &domain.Invoice{
			ID:             "id-" + doc,
			DocumentNumber: doc,
			Counterparty:   counterparty,
			Amount:         dec(amount),
			DueDate:        due,
		},
		OpenAmount: dec(amount),
	}
}

func TestScoreDeterministicTier(t *testing.T) {
	due := day(2026, 2, 10)
	policy := domain.DefaultMatchingPolicy()
	txn := &domain.BankTransaction{
		Amount:       dec("500"),
		Reference:    "INV-9001",
		Counterparty: "Acme GmbH",
		TxnDate:      due,
	}

	cands := ScoreCandidates(txn, []*OpenInvoice{openInv("INV-9001", "Acme GmbH", "500", due)}, policy)
	require.Len(t, cands, 1)
	assert.True(t, cands[0].RefMatch)
	assert.True(t, cands[0].AmountMatch)
	assert.Equal(t, 1.0, cands[0].Confidence)
	assert.Equal(t, domain.TierDeterministic, cands[0].Tier)
}

func TestScoreSuggestedWithoutReference(t *testing.T) {
	due := day(2026, 2, 10)
	policy := domain.DefaultMatchingPolicy()
	txn := &domain.BankTransaction{
		Amount:       dec("500"),
		Reference:    "incoming wire",
		Counterparty: "Acme GmbH",
		TxnDate:      due,
	}

	cands := ScoreCandidates(txn, []*OpenInvoice{openInv("INV-9001", "Acme GmbH", "500", due)}, policy)
	require.Len(t, cands, 1)
	assert.False(t, cands[0].RefMatch)
	assert.InDelta(t, 0.60, cands[0].Confidence, 1e-9)
	assert.Equal(t, domain.TierSuggested, cands[0].Tier)
}

func TestScoreManualWhenNothingLinesUp(t *testing.T) {
	due := day(2026, 2, 10)
	policy := domain.DefaultMatchingPolicy()
	txn := &domain.BankTransaction{
		Amount:       dec("77777"),
		Reference:    "misc",
		Counterparty: "Unrelated Org",
		TxnDate:      due.AddDate(0, 2, 0),
	}

	cands := ScoreCandidates(txn, []*OpenInvoice{openInv("INV-9001", "Acme GmbH", "500", due)}, policy)
	require.Len(t, cands, 1)
	assert.Equal(t, domain.TierManual, cands[0].Tier)
}

func TestScoreNearAmountBand(t *testing.T) {
	due := day(2026, 2, 10)
	policy := domain.DefaultMatchingPolicy()
	// 1050 vs open 1000: outside 1% tolerance, inside the 10x band.
	txn := &domain.BankTransaction{
		Amount:    dec("1050"),
		Reference: "ref 9001",
		TxnDate:   due.AddDate(0, 0, 30),
	}

	cands := ScoreCandidates(txn, []*OpenInvoice{openInv("INV-9001", "Acme GmbH", "1000", due)}, policy)
	require.Len(t, cands, 1)
	assert.True(t, cands[0].RefMatch)
	assert.False(t, cands[0].AmountMatch)
	assert.InDelta(t, 0.70, cands[0].Confidence, 1e-9)
	assert.Equal(t, domain.TierSuggested, cands[0].Tier)
}

func TestScoreSortedByConfidence(t *testing.T) {
	due := day(2026, 2, 10)
	policy := domain.DefaultMatchingPolicy()
	txn := &domain.BankTransaction{
		Amount:       dec("500"),
		Reference:    "INV-9001",
		Counterparty: "Acme GmbH",
		TxnDate:      due,
	}

	cands := ScoreCandidates(txn, []*OpenInvoice{
		openInv("OTHER-1", "Someone Else", "90000", due.AddDate(0, 3, 0)),
		openInv("INV-9001", "Acme GmbH", "500", due),
	}, policy)
	require.Len(t, cands, 2)
	assert.Equal(t, "INV-9001", cands[0].Open.Invoice.DocumentNumber)
	assert.True(t, cands[0].Confidence >= cands[1].Confidence)
}

func TestBlockingIndexCandidates(t *testing.T) {
	due := day(2026, 2, 10)
	policy := domain.DefaultMatchingPolicy()

	a := openInv("INV-100", "Acme GmbH", "1000", due)
	b := openInv("INV-200", "Beta Ltd", "2000", due.AddDate(0, 0, 40))
	idx := BuildIndex([]*OpenInvoice{a, b})

	txn := &domain.BankTransaction{
		Amount:       dec("1000"),
		Reference:    "no tokens",
		Counterparty: "Acme GmbH",
		TxnDate:      due,
	}
	got := idx.Candidates(txn, policy.DateWindowDays)
	require.Len(t, got, 1)
	assert.Equal(t, "INV-100", got[0].Invoice.DocumentNumber)
}

func TestBlockingIndexHonorsDateWindow(t *testing.T) {
	due := day(2026, 2, 10)

	near := openInv("INV-100", "Acme GmbH", "1000", due.AddDate(0, 0, 2))
	far := openInv("INV-200", "Acme GmbH", "1000", due.AddDate(0, 0, 21))
	idx := BuildIndex([]*OpenInvoice{near, far})

	txn := &domain.BankTransaction{
		Amount:       dec("1000"),
		Reference:    "no tokens",
		Counterparty: "Acme GmbH",
		TxnDate:      due,
	}

	got := idx.Candidates(txn, 7)
	require.Len(t, got, 1)
	assert.Equal(t, "INV-100", got[0].Invoice.DocumentNumber)

	// Widening the policy window pulls the distant due date into the block.
	got = idx.Candidates(txn, 28)
	assert.Len(t, got, 2)
}

func TestBlockingIndexReferenceUnion(t *testing.T) {
	due := day(2026, 2, 10)
	policy := domain.DefaultMatchingPolicy()

	a := openInv("INV-100", "Acme GmbH", "1000", due)
	idx := BuildIndex([]*OpenInvoice{a})

	// Nothing blocks on amount, name or week, but the reference names the
	// invoice.
	txn := &domain.BankTransaction{
		Amount:       dec("99999"),
		Reference:    "INV-100",
		Counterparty: "Completely Different",
		TxnDate:      due.AddDate(1, 0, 0),
	}
	got := idx.Candidates(txn, policy.DateWindowDays)
	require.Len(t, got, 1)
	assert.Equal(t, "INV-100", got[0].Invoice.DocumentNumber)
}

func TestIndexReduceDropsExhaustedInvoices(t *testing.T) {
	due := day(2026, 2, 10)
	policy := domain.DefaultMatchingPolicy()

	a := openInv("INV-100", "Acme GmbH", "1000", due)
	idx := BuildIndex([]*OpenInvoice{a})
	idx.Reduce(a.Invoice.ID, dec("1000"))

	txn := &domain.BankTransaction{
		Amount:       dec("1000"),
		Reference:    "INV-100",
		Counterparty: "Acme GmbH",
		TxnDate:      due,
	}
	assert.Empty(t, idx.Candidates(txn, policy.DateWindowDays))
}
