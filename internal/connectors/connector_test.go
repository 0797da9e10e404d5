package connectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/norm"
)

func TestRegistryRejectsUnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build(domain.LineageConnection{Type: "sap_odata"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sap_odata")
}

func TestRegistryListsTypesSorted(t *testing.T) {
	r := NewRegistry()
	stub := func(domain.LineageConnection) (Connector, error) { return nil, nil }
	r.Register("zeta", stub)
	r.Register("alpha", stub)
	assert.Equal(t, []string{"alpha", "zeta"}, r.Types())
}

func TestSliceIteratorExhaustsThenStops(t *testing.T) {
	it := NewSliceIterator([]*domain.RawRecord{
		{RowIndex: 0}, {RowIndex: 1},
	})
	defer it.Close()

	ctx := context.Background()
	for want := 0; want < 2; want++ {
		rec, ok, err := it.Next(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, rec.RowIndex)
	}
	_, ok, err := it.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSliceIteratorHonorsCancellation(t *testing.T) {
	it := NewSliceIterator([]*domain.RawRecord{{RowIndex: 0}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := it.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTabularNormalizerRequiresAmount(t *testing.T) {
	n := &TabularNormalizer{
		SourceTag:  "erp_excel",
		RecordType: domain.RecordInvoice,
		Mapping:    norm.MapColumns([]string{"amount", "currency"}),
		Locale:     norm.LocaleEU,
	}
	_, err := n.Normalize(&domain.RawRecord{
		RowIndex: 3,
		Payload:  map[string]string{"amount": "n/a", "currency": "EUR"},
	})
	require.Error(t, err)
	assert.True(t, domain.IsInput(err))
	assert.Contains(t, err.Error(), "row 3")
}

func TestTabularNormalizerFallsBackToSourceRowID(t *testing.T) {
	n := &TabularNormalizer{
		SourceTag:  "erp_excel",
		EntityID:   "ent-1",
		RecordType: domain.RecordInvoice,
		Mapping:    norm.MapColumns([]string{"amount", "currency", "customer"}),
		Locale:     norm.LocaleEU,
	}
	rec, err := n.Normalize(&domain.RawRecord{
		SourceRowID: "sheet-row-9",
		Payload: map[string]string{
			"amount":   "1.250,00",
			"currency": "eur",
			"customer": "Acme GmbH",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "sheet-row-9", rec.ExternalID)
	assert.Equal(t, "EUR", rec.Currency)
	assert.Equal(t, "Acme GmbH", rec.Counterparty)
	assert.Equal(t, "1250", rec.Amount.String())
	assert.NotEmpty(t, rec.CanonicalID)
}
