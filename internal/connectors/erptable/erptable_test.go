package erptable

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/cashops/internal/connectors"
	"github.com/ledgerline/cashops/internal/domain"
)

func writeSheet(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const arSheet = "document_number;customer;amount;document_date;due_date;currency\n" +
	"INV-100;Acme GmbH;1.250,00;01.02.2026;01.03.2026;EUR\n" +
	"INV-101;Beta AG;980,50;05.02.2026;05.03.2026;EUR\n"

func TestWorkbookPrefersDataSheet(t *testing.T) {
	dir := t.TempDir()
	writeSheet(t, dir, "Notes.csv", "memo\nirrelevant\n")
	writeSheet(t, dir, "Data.csv", arSheet)

	c, err := New(domain.LineageConnection{
		Type:   TypeTag,
		Config: map[string]string{"path": dir, "entity_id": "ent-1", "side": "ar"},
	})
	require.NoError(t, err)

	res, err := c.Test(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Data", res.Details["sheet"])
}

func TestExtractAndNormalizeInvoices(t *testing.T) {
	dir := t.TempDir()
	writeSheet(t, dir, "AR.csv", arSheet)

	c, err := New(domain.LineageConnection{
		Type:   TypeTag,
		Config: map[string]string{"path": dir, "entity_id": "ent-1", "side": "ar"},
	})
	require.NoError(t, err)

	ctx := context.Background()
	it, err := c.Extract(ctx, connectors.ExtractOptions{})
	require.NoError(t, err)
	defer it.Close()

	var ids []string
	for {
		raw, ok, err := it.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		rec, err := c.Normalize(raw)
		require.NoError(t, err)
		assert.Equal(t, domain.RecordInvoice, rec.RecordType)
		assert.Equal(t, "EUR", rec.Currency)
		require.NotNil(t, rec.DueDate)
		ids = append(ids, rec.CanonicalID)
	}
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestSheetNameSelectsBillSide(t *testing.T) {
	dir := t.TempDir()
	writeSheet(t, dir, "Bills.csv",
		"document_number;vendor;amount;document_date;due_date;currency\n"+
			"BILL-7;Office Supplies Ltd;-450,00;01.02.2026;15.02.2026;EUR\n")

	c, err := New(domain.LineageConnection{
		Type:   TypeTag,
		Config: map[string]string{"path": dir, "entity_id": "ent-1"},
	})
	require.NoError(t, err)

	ctx := context.Background()
	it, err := c.Extract(ctx, connectors.ExtractOptions{})
	require.NoError(t, err)
	defer it.Close()

	raw, ok, err := it.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := c.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordVendorBill, rec.RecordType)
	assert.Equal(t, "-450", rec.Amount.String())
}
