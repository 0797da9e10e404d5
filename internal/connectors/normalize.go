package connectors

import (
	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/norm"
)

// TabularNormalizer turns alias-mapped raw rows into canonical skeletons.
// It is shared by the CSV and ERP-table connectors; the warehouse connector
// reuses it with a mapping derived from the query's column names.
type TabularNormalizer struct {
	SourceTag  string
	EntityID   string
	RecordType domain.RecordType
	Mapping    norm.ColumnMapping
	Locale     norm.Locale
}

// Normalize parses one raw row. A missing or unparseable amount is an
// InputError; missing dates degrade to nil and are reported via health
// issues, not errors.
func (n *TabularNormalizer) Normalize(raw *domain.RawRecord) (*domain.CanonicalRecord, error) {
	row := raw.Payload

	amountStr := n.Mapping.Pick(row, norm.ColAmount)
	amount := norm.ParseAmount(amountStr)
	if amount == nil {
		return nil, domain.NewInputError("AMOUNT_UNPARSEABLE",
			"row %d: amount %q is empty or unparseable", raw.RowIndex, amountStr)
	}

	currency := norm.NormalizeCurrency(n.Mapping.Pick(row, norm.ColCurrency))
	recordDate := norm.ParseDate(n.Mapping.Pick(row, norm.ColDocumentDate), n.Locale)
	dueDate := norm.ParseDate(n.Mapping.Pick(row, norm.ColDueDate), n.Locale)

	counterparty := n.Mapping.Pick(row, norm.ColCounterparty)
	if counterparty == "" {
		counterparty = n.Mapping.Pick(row, norm.ColCustomer)
	}
	if counterparty == "" {
		counterparty = n.Mapping.Pick(row, norm.ColVendor)
	}

	docNumber := n.Mapping.Pick(row, norm.ColDocumentNumber)
	externalID := n.Mapping.Pick(row, norm.ColExternalID)
	if externalID == "" {
		externalID = raw.SourceRowID
	}

	canonicalID := norm.CanonicalID(norm.CanonicalKey{
		SourceTag:    n.SourceTag,
		EntityID:     n.EntityID,
		RecordType:   string(n.RecordType),
		DocType:      n.Mapping.Pick(row, norm.ColDocumentType),
		DocNumber:    docNumber,
		Counterparty: counterparty,
		Currency:     currency,
		Amount:       *amount,
		DocDate:      recordDate,
		DueDate:      dueDate,
		LineID:       externalID,
	})

	return &domain.CanonicalRecord{
		DatasetID:    raw.DatasetID,
		RawRecordID:  raw.ID,
		RecordType:   n.RecordType,
		CanonicalID:  canonicalID,
		Amount:       *amount,
		Currency:     currency,
		RecordDate:   recordDate,
		DueDate:      dueDate,
		Counterparty: counterparty,
		ExternalID:   externalID,
		Payload:      row,
	}, nil
}
