// Package norm is the shared normalization library used by every connector:
// column-alias mapping, locale-aware date and amount parsing, currency
// normalization, canonical-ID hashing and health reporting.
package norm

import "strings"

// Canonical column names recognized across source systems. This is a closed
// set; connectors map raw headers onto it and report anything unmapped.
const (
	ColAmount           = "amount"
	ColCurrency         = "currency"
	ColDocumentDate     = "document_date"
	ColDueDate          = "due_date"
	ColPaymentDate      = "payment_date"
	ColDocumentNumber   = "document_number"
	ColExternalID       = "external_id"
	ColCustomer         = "customer"
	ColVendor           = "vendor"
	ColCounterparty     = "counterparty"
	ColDocumentType     = "document_type"
	ColCountry          = "country"
	ColDescription      = "description"
	ColProject          = "project"
	ColProjectDesc      = "project_desc"
	ColPaymentTerms     = "payment_terms"
	ColPaymentTermsDays = "payment_terms_days"
)

// columnAliases maps each canonical column to the raw header variants seen
// in common ERP and bank exports, including SAP field codes and German
// synonyms. Keys are pre-normalized via NormalizeHeader.
var columnAliases = map[string][]string{
	ColAmount: {
		"amount", "amt", "value", "betrag", "dmbtr", "wrbtr", "gross_amount",
		"amount_eur", "amount_usd", "total", "total_amount", "net_amount",
		"transaction_amount", "umsatz", "brutto",
	},
	ColCurrency: {
		"currency", "ccy", "curr", "waers", "waehrung", "currency_code", "iso_currency",
	},
	ColDocumentDate: {
		"document_date", "doc_date", "date", "bldat", "budat", "invoice_date",
		"issue_date", "posting_date", "transaction_date", "txn_date", "booking_date",
		"belegdatum", "buchungsdatum", "datum", "valuta",
	},
	ColDueDate: {
		"due_date", "due", "faelligkeit", "faellig_am", "zfbdt", "net_due_date",
		"payment_due", "maturity_date", "due_on",
	},
	ColPaymentDate: {
		"payment_date", "paid_date", "paid_on", "augdt", "clearing_date",
		"settlement_date", "zahldatum", "cleared_date",
	},
	ColDocumentNumber: {
		"document_number", "doc_number", "doc_no", "belnr", "invoice_number",
		"invoice_no", "inv_no", "bill_number", "reference_number", "belegnummer",
		"document_id", "voucher_no",
	},
	ColExternalID: {
		"external_id", "id", "source_id", "record_id", "transaction_id", "txn_id",
		"row_id", "uuid", "ref_id",
	},
	ColCustomer: {
		"customer", "customer_name", "kunnr", "kunde", "debtor", "client",
		"account_name", "customer_no",
	},
	ColVendor: {
		"vendor", "vendor_name", "lifnr", "lieferant", "supplier", "supplier_name",
		"creditor", "payee",
	},
	ColCounterparty: {
		"counterparty", "counter_party", "partner", "partner_name", "beneficiary",
		"remitter", "name", "gegenpartei",
	},
	ColDocumentType: {
		"document_type", "doc_type", "blart", "type", "belegart", "record_kind",
	},
	ColCountry: {
		"country", "country_code", "land", "land1", "country_iso",
	},
	ColDescription: {
		"description", "desc", "text", "sgtxt", "memo", "narrative", "details",
		"verwendungszweck", "purpose", "reference_text",
	},
	ColProject: {
		"project", "project_code", "project_id", "psp", "pspnr", "wbs", "cost_center",
		"kostenstelle",
	},
	ColProjectDesc: {
		"project_desc", "project_description", "project_name", "psp_text",
	},
	ColPaymentTerms: {
		"payment_terms", "terms", "zterm", "terms_of_payment", "zahlungsbedingung",
	},
	ColPaymentTermsDays: {
		"payment_terms_days", "terms_days", "net_days", "zbd1t", "payment_term_days",
		"days_net",
	},
}

// aliasIndex is columnAliases inverted for O(1) lookup, built at init.
var aliasIndex = func() map[string]string {
	idx := make(map[string]string, 256)
	for canonical, aliases := range columnAliases {
		idx[canonical] = canonical
		for _, a := range aliases {
			idx[NormalizeHeader(a)] = canonical
		}
	}
	return idx
}()

// NormalizeHeader folds a raw header for alias matching: lowercase, trimmed,
// with `-` and spaces treated as underscores.
func NormalizeHeader(h string) string {
	h = strings.TrimSpace(strings.ToLower(h))
	h = strings.ReplaceAll(h, "-", "_")
	h = strings.ReplaceAll(h, " ", "_")
	for strings.Contains(h, "__") {
		h = strings.ReplaceAll(h, "__", "_")
	}
	return h
}

// ColumnMapping is the result of mapping a raw header row onto the
// canonical column set.
type ColumnMapping struct {
	// ByCanonical maps canonical column name -> raw header as it appeared.
	ByCanonical map[string]string
	// Unmapped lists raw headers with no canonical equivalent, in order.
	Unmapped []string
}

// MapColumns resolves each raw header against the alias table. The first
// header claiming a canonical column wins; later duplicates go to Unmapped.
func MapColumns(headers []string) ColumnMapping {
	m := ColumnMapping{ByCanonical: make(map[string]string, len(headers))}
	for _, raw := range headers {
		canonical, ok := aliasIndex[NormalizeHeader(raw)]
		if !ok {
			m.Unmapped = append(m.Unmapped, raw)
			continue
		}
		if _, taken := m.ByCanonical[canonical]; taken {
			m.Unmapped = append(m.Unmapped, raw)
			continue
		}
		m.ByCanonical[canonical] = raw
	}
	return m
}

// Pick returns the value of a canonical column from a raw row, or "".
func (m ColumnMapping) Pick(row map[string]string, canonical string) string {
	raw, ok := m.ByCanonical[canonical]
	if !ok {
		return ""
	}
	return row[raw]
}
