package norm

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapColumnsAliases(t *testing.T) {
	headers := []string{"BELNR", "DMBTR", "WAERS", "Due Date", "customer-name", "weird_col"}
	m := MapColumns(headers)

	assert.Equal(t, "BELNR", m.ByCanonical[ColDocumentNumber])
	assert.Equal(t, "DMBTR", m.ByCanonical[ColAmount])
	assert.Equal(t, "WAERS", m.ByCanonical[ColCurrency])
	assert.Equal(t, "Due Date", m.ByCanonical[ColDueDate])
	assert.Equal(t, "customer-name", m.ByCanonical[ColCustomer])
	assert.Equal(t, []string{"weird_col"}, m.Unmapped)
}

func TestMapColumnsFirstClaimWins(t *testing.T) {
	m := MapColumns([]string{"amount", "Betrag"})
	assert.Equal(t, "amount", m.ByCanonical[ColAmount])
	assert.Equal(t, []string{"Betrag"}, m.Unmapped)
}

func TestParseDateFormats(t *testing.T) {
	want := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		in     string
		locale Locale
	}{
		{"2026-01-15", LocaleISO},
		{"15/01/2026", LocaleEU},
		{"01/15/2026", LocaleUS},
		{"15.01.2026", LocaleDE},
		{"20260115", LocaleISO},
		{"15 Jan 2026", LocaleEU},
		{"January 15, 2026", LocaleUS},
	}
	for _, tc := range cases {
		got := ParseDate(tc.in, tc.locale)
		require.NotNil(t, got, "input %q", tc.in)
		assert.Equal(t, want, *got, "input %q", tc.in)
	}
}

func TestParseDateEmptyAndInvalid(t *testing.T) {
	assert.Nil(t, ParseDate("", LocaleISO))
	assert.Nil(t, ParseDate("   ", LocaleEU))
	assert.Nil(t, ParseDate("not-a-date", LocaleUS))
}

func TestParseAmountConventions(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1,234.56", "1234.56"},
		{"1.234,56", "1234.56"},
		{"(1000.00)", "-1000"},
		{"€3.456,78", "3456.78"},
		{"$1,500.00", "1500"},
		{"-250.50", "-250.5"},
		{"1500.00", "1500"},
		{"1.234.567,89", "1234567.89"},
		{"0.005", "0.01"},
	}
	for _, tc := range cases {
		got := ParseAmount(tc.in)
		require.NotNil(t, got, "input %q", tc.in)
		assert.True(t, got.Equal(decimal.RequireFromString(tc.want)),
			"input %q: got %s want %s", tc.in, got, tc.want)
	}
}

func TestParseAmountEmptyAndInvalid(t *testing.T) {
	assert.Nil(t, ParseAmount(""))
	assert.Nil(t, ParseAmount("   "))
	assert.Nil(t, ParseAmount("abc"))
}

func TestNormalizeCurrency(t *testing.T) {
	assert.Equal(t, "EUR", NormalizeCurrency("€"))
	assert.Equal(t, "USD", NormalizeCurrency("$"))
	assert.Equal(t, "GBP", NormalizeCurrency("£"))
	assert.Equal(t, "JPY", NormalizeCurrency("¥"))
	assert.Equal(t, "EUR", NormalizeCurrency("eur"))
	assert.Equal(t, "USD", NormalizeCurrency(" usd "))
	assert.Equal(t, "SEK", NormalizeCurrency("Sek (Swedish Krona)"))
	assert.Equal(t, "", NormalizeCurrency(""))
}

func TestCanonicalIDStableUnderPerturbation(t *testing.T) {
	date := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	due := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)

	base := CanonicalKey{
		SourceTag:    "erp_excel",
		EntityID:     "ENT-1",
		RecordType:   "INVOICE",
		DocType:      "AR",
		DocNumber:    "INV-001",
		Counterparty: "ACME Corp",
		Currency:     "EUR",
		Amount:       decimal.RequireFromString("1500"),
		DocDate:      &date,
		DueDate:      &due,
		LineID:       "1",
	}
	perturbed := base
	perturbed.Counterparty = "  acme corp "
	perturbed.DocNumber = "inv-001"
	perturbed.SourceTag = " ERP_EXCEL "

	assert.Equal(t, CanonicalID(base), CanonicalID(perturbed))
}

func TestCanonicalIDDistinguishesAmounts(t *testing.T) {
	a := CanonicalKey{SourceTag: "bank_csv", RecordType: "BANK_TXN", DocNumber: "TXN001",
		Amount: decimal.RequireFromString("100.00"), Currency: "EUR"}
	b := a
	b.Amount = decimal.RequireFromString("100.01")
	assert.NotEqual(t, CanonicalID(a), CanonicalID(b))
}

func TestCanonicalIDGlobalEntityFallback(t *testing.T) {
	a := CanonicalKey{SourceTag: "bank_csv", EntityID: "", DocNumber: "X", Amount: decimal.Zero}
	b := a
	b.EntityID = "  "
	assert.Equal(t, CanonicalID(a), CanonicalID(b))
}

func TestSchemaFingerprintOrderIndependent(t *testing.T) {
	a := SchemaFingerprint([]Column{{"amount", "number"}, {"currency", "string"}})
	b := SchemaFingerprint([]Column{{"currency", "string"}, {"amount", "number"}})
	assert.Equal(t, a, b)

	c := SchemaFingerprint([]Column{{"amount", "string"}, {"currency", "string"}})
	assert.NotEqual(t, a, c)
}

func TestHealthBuilderGrading(t *testing.T) {
	b := NewHealthBuilder()
	b.SetSchema("fp", []string{"extra_col"})
	amt := decimal.RequireFromString("100")
	for i := 0; i < 19; i++ {
		b.ObserveRow(map[string]string{"amount": "100", "currency": "EUR"}, &amt)
	}
	b.ObserveFailedRow(19, "parse_error", "bad amount")
	b.AddIssue(3, "missing_due_date", "warning", "due date empty")
	b.AddIssue(7, "missing_due_date", "warning", "due date empty")

	r := b.Build()
	assert.Equal(t, 20, r.TotalRows)
	assert.Equal(t, 19, r.ValidRows)
	assert.Equal(t, 1, r.ErrorRows)
	assert.Equal(t, 2, r.WarningRows)
	assert.Equal(t, QualityExcellent, r.Quality)
	assert.True(t, r.AmountTotal.Equal(decimal.RequireFromString("1900")))
	assert.Equal(t, []string{"extra_col"}, r.UnmappedColumns)

	require.Len(t, r.Issues, 2)
	for _, issue := range r.Issues {
		if issue.Type == "missing_due_date" {
			assert.Equal(t, []int{3, 7}, issue.RowIndices)
		}
	}
}
