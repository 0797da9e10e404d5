// Package erptable implements the ERP spreadsheet-export connector. An
// export is a workbook directory holding one delimited text file per sheet;
// the connector picks the first non-empty sheet by preference order and
// reads every column as text before typing.
package erptable

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ledgerline/cashops/internal/connectors"
	"github.com/ledgerline/cashops/internal/connectors/bankcsv"
	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/norm"
)

// TypeTag is the registry key for this connector.
const TypeTag = "erp_table_export"

// sheetPreference is the lookup order for the sheet holding the document
// table. Anything else is considered only if none of these are present.
var sheetPreference = []string{"Data", "AR", "AP", "Invoices", "Bills"}

// Connector reads one ERP workbook export.
type Connector struct {
	path     string
	entityID string
	locale   norm.Locale
	side     string // "ar" or "ap"

	sheet   string
	mapping norm.ColumnMapping
}

// New builds the connector. Required config: "path" (directory or single
// sheet file). Optional: "side" ("ar"/"ap"), "locale", "entity_id".
func New(conn domain.LineageConnection) (connectors.Connector, error) {
	path := conn.Config["path"]
	if path == "" {
		return nil, fmt.Errorf("erp_excel connector requires config key %q", "path")
	}
	locale := norm.Locale(conn.Config["locale"])
	if locale == "" {
		locale = norm.LocaleDE
	}
	return &Connector{
		path:     path,
		entityID: conn.Config["entity_id"],
		locale:   locale,
		side:     strings.ToLower(conn.Config["side"]),
	}, nil
}

// Register installs the factory into a registry.
func Register(r *connectors.Registry) {
	r.Register(TypeTag, New)
}

func (c *Connector) Type() string       { return TypeTag }
func (c *Connector) SourceType() string { return "erp_excel" }

// Test probes the workbook and reports the chosen sheet.
func (c *Connector) Test(ctx context.Context) (connectors.TestResult, error) {
	start := time.Now()
	sheet, rows, _, err := c.readSheet()
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return connectors.TestResult{Success: false, LatencyMS: latency, Message: err.Error()}, nil
	}
	return connectors.TestResult{
		Success:   true,
		LatencyMS: latency,
		Message:   fmt.Sprintf("sheet %q: %d rows", sheet, len(rows)),
		Details:   map[string]string{"sheet": sheet},
	}, nil
}

// GetSchema reports every column as text with its alias-derived type, in
// header order.
func (c *Connector) GetSchema(ctx context.Context) ([]norm.Column, error) {
	_, _, headers, err := c.readSheet()
	if err != nil {
		return nil, err
	}
	mapping := norm.MapColumns(headers)
	byRaw := make(map[string]string, len(mapping.ByCanonical))
	for canonical, raw := range mapping.ByCanonical {
		byRaw[raw] = canonical
	}
	cols := make([]norm.Column, len(headers))
	for i, h := range headers {
		typ := "string"
		switch byRaw[h] {
		case norm.ColAmount, norm.ColPaymentTermsDays:
			typ = "number"
		case norm.ColDocumentDate, norm.ColDueDate, norm.ColPaymentDate:
			typ = "date"
		}
		cols[i] = norm.Column{Name: norm.NormalizeHeader(h), Type: typ}
	}
	return cols, nil
}

// Extract streams the chosen sheet's rows.
func (c *Connector) Extract(ctx context.Context, opts connectors.ExtractOptions) (connectors.RecordIterator, error) {
	sheet, rows, headers, err := c.readSheet()
	if err != nil {
		return nil, domain.NewInfraError("ERP_READ", err)
	}
	c.sheet = sheet
	c.mapping = norm.MapColumns(headers)

	records := make([]*domain.RawRecord, 0, len(rows))
	for i, row := range rows {
		payload := make(map[string]string, len(headers))
		for j, h := range headers {
			if j < len(row) {
				payload[h] = row[j]
			}
		}
		sourceRowID := c.mapping.Pick(payload, norm.ColDocumentNumber)
		if sourceRowID == "" {
			sourceRowID = strconv.Itoa(i)
		}
		records = append(records, &domain.RawRecord{
			RawHash:     norm.RawHash(payload),
			SourceTable: sheet,
			SourceRowID: sourceRowID,
			RowIndex:    i,
			Payload:     payload,
		})
	}
	log.Debug().Str("sheet", sheet).Int("rows", len(records)).Msg("erp_excel extract ready")
	return connectors.NewSliceIterator(records), nil
}

// Normalize parses one row into an invoice or vendor-bill skeleton
// depending on the configured side (or the sheet name).
func (c *Connector) Normalize(raw *domain.RawRecord) (*domain.CanonicalRecord, error) {
	if c.mapping.ByCanonical == nil {
		headers := make([]string, 0, len(raw.Payload))
		for k := range raw.Payload {
			headers = append(headers, k)
		}
		c.mapping = norm.MapColumns(headers)
	}
	n := &connectors.TabularNormalizer{
		SourceTag:  c.SourceType(),
		EntityID:   c.entityID,
		RecordType: c.recordType(),
		Mapping:    c.mapping,
		Locale:     c.locale,
	}
	return n.Normalize(raw)
}

func (c *Connector) recordType() domain.RecordType {
	switch c.side {
	case "ap":
		return domain.RecordVendorBill
	case "ar":
		return domain.RecordInvoice
	}
	switch strings.ToLower(c.sheet) {
	case "ap", "bills":
		return domain.RecordVendorBill
	default:
		return domain.RecordInvoice
	}
}

// readSheet resolves the workbook to one sheet and parses it. A plain file
// path is treated as a single-sheet workbook.
func (c *Connector) readSheet() (sheet string, rows [][]string, headers []string, err error) {
	info, err := os.Stat(c.path)
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to stat %s: %w", c.path, err)
	}

	sheetPath := c.path
	sheet = strings.TrimSuffix(filepath.Base(c.path), filepath.Ext(c.path))
	if info.IsDir() {
		sheet, sheetPath, err = pickSheet(c.path)
		if err != nil {
			return "", nil, nil, err
		}
	}

	rows, headers, err = bankcsv.ReadFile(sheetPath)
	if err != nil {
		return "", nil, nil, err
	}
	return sheet, rows, headers, nil
}

// pickSheet chooses the first non-empty sheet by preference order, falling
// back to the alphabetically first file.
func pickSheet(dir string) (name, path string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", fmt.Errorf("failed to list workbook %s: %w", dir, err)
	}
	byName := make(map[string]string, len(entries))
	var all []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		byName[strings.ToLower(base)] = filepath.Join(dir, e.Name())
		all = append(all, base)
	}
	for _, pref := range sheetPreference {
		if p, ok := byName[strings.ToLower(pref)]; ok {
			if nonEmpty(p) {
				return pref, p, nil
			}
		}
	}
	sort.Strings(all)
	for _, base := range all {
		p := byName[strings.ToLower(base)]
		if nonEmpty(p) {
			return base, p, nil
		}
	}
	return "", "", fmt.Errorf("workbook %s has no non-empty sheet", dir)
}

func nonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
