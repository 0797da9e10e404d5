// Package bankcsv implements the bank-statement CSV connector: delimiter
// and encoding auto-detection, alias-mapped headers, streamed extraction.
package bankcsv

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/ledgerline/cashops/internal/connectors"
	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/norm"
)

// TypeTag is the registry key for this connector.
const TypeTag = "generic_bank_csv"

// Connector reads one CSV bank statement file.
type Connector struct {
	path     string
	entityID string
	locale   norm.Locale

	// resolved lazily on first read
	mapping norm.ColumnMapping
	headers []string
}

// New builds the connector from its connection config. Required config key:
// "path". Optional: "locale" (ISO/EU/US/DE, default EU), "entity_id".
func New(conn domain.LineageConnection) (connectors.Connector, error) {
	path := conn.Config["path"]
	if path == "" {
		return nil, fmt.Errorf("bank_csv connector requires config key %q", "path")
	}
	locale := norm.Locale(conn.Config["locale"])
	if locale == "" {
		locale = norm.LocaleEU
	}
	return &Connector{
		path:     path,
		entityID: conn.Config["entity_id"],
		locale:   locale,
	}, nil
}

// Register installs the factory into a registry.
func Register(r *connectors.Registry) {
	r.Register(TypeTag, New)
}

func (c *Connector) Type() string       { return TypeTag }
func (c *Connector) SourceType() string { return "bank_csv" }

// Test checks that the file is present and parseable. It never mutates state.
func (c *Connector) Test(ctx context.Context) (connectors.TestResult, error) {
	start := time.Now()
	rows, headers, err := c.read()
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return connectors.TestResult{Success: false, LatencyMS: latency, Message: err.Error()}, nil
	}
	return connectors.TestResult{
		Success:   true,
		LatencyMS: latency,
		Message:   fmt.Sprintf("read %d rows", len(rows)),
		Details:   map[string]string{"columns": strconv.Itoa(len(headers))},
	}, nil
}

// GetSchema reads the header row and types each column from its canonical
// mapping: amounts are numbers, dates are dates, everything else string.
func (c *Connector) GetSchema(ctx context.Context) ([]norm.Column, error) {
	_, headers, err := c.read()
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
		cols[i] = norm.Column{Name: norm.NormalizeHeader(h), Type: columnType(byRaw[h])}
	}
	return cols, nil
}

func columnType(canonical string) string {
	switch canonical {
	case norm.ColAmount, norm.ColPaymentTermsDays:
		return "number"
	case norm.ColDocumentDate, norm.ColDueDate, norm.ColPaymentDate:
		return "date"
	default:
		return "string"
	}
}

// Extract streams the file's rows as raw records.
func (c *Connector) Extract(ctx context.Context, opts connectors.ExtractOptions) (connectors.RecordIterator, error) {
	rows, headers, err := c.read()
	if err != nil {
		return nil, domain.NewInfraError("CSV_READ", err)
	}
	c.headers = headers
	c.mapping = norm.MapColumns(headers)

	records := make([]*domain.RawRecord, 0, len(rows))
	for i, row := range rows {
		payload := make(map[string]string, len(headers))
		for j, h := range headers {
			if j < len(row) {
				payload[h] = row[j]
			}
		}
		sourceRowID := c.mapping.Pick(payload, norm.ColExternalID)
		if sourceRowID == "" {
			sourceRowID = c.mapping.Pick(payload, norm.ColDocumentNumber)
		}
		if sourceRowID == "" {
			sourceRowID = strconv.Itoa(i)
		}
		records = append(records, &domain.RawRecord{
			RawHash:     norm.RawHash(payload),
			SourceTable: c.path,
			SourceRowID: sourceRowID,
			RowIndex:    i,
			Payload:     payload,
		})
	}
	log.Debug().Str("path", c.path).Int("rows", len(records)).Msg("bank_csv extract ready")
	return connectors.NewSliceIterator(records), nil
}

// Normalize parses one raw row into a bank-transaction canonical skeleton.
func (c *Connector) Normalize(raw *domain.RawRecord) (*domain.CanonicalRecord, error) {
	if c.mapping.ByCanonical == nil {
		c.mapping = norm.MapColumns(keysOf(raw.Payload))
	}
	n := &connectors.TabularNormalizer{
		SourceTag:  c.SourceType(),
		EntityID:   c.entityID,
		RecordType: domain.RecordBankTxn,
		Mapping:    c.mapping,
		Locale:     c.locale,
	}
	return n.Normalize(raw)
}

func keysOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func (c *Connector) read() ([][]string, []string, error) {
	return ReadFile(c.path)
}

// ReadFile loads and decodes a delimited text file, returning data rows and
// the trimmed header. Delimiter and encoding are auto-detected. Shared with
// the ERP-table connector.
func ReadFile(path string) ([][]string, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	text := decode(data)
	delim := DetectDelimiter(text)

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("empty CSV file")
	}
	headers := all[0]
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}
	return all[1:], headers, nil
}

// DetectDelimiter picks the delimiter with the highest frequency across the
// first 5 lines, among comma, semicolon and tab.
func DetectDelimiter(text string) rune {
	lines := strings.SplitN(text, "\n", 6)
	if len(lines) > 5 {
		lines = lines[:5]
	}
	counts := map[rune]int{',': 0, ';': 0, '\t': 0}
	for _, line := range lines {
		for _, r := range line {
			if _, ok := counts[r]; ok {
				counts[r]++
			}
		}
	}
	best, bestCount := ',', counts[',']
	for _, cand := range []rune{';', '\t'} {
		if counts[cand] > bestCount {
			best, bestCount = cand, counts[cand]
		}
	}
	return best
}

// cp1252High maps the 0x80-0x9F range where Windows-1252 deviates from
// Latin-1. Bytes without an entry fall back to their Latin-1 code point.
var cp1252High = map[byte]rune{
	0x80: '€', 0x82: '‚', 0x83: 'ƒ', 0x84: '„', 0x85: '…', 0x86: '†',
	0x87: '‡', 0x88: 'ˆ', 0x89: '‰', 0x8A: 'Š', 0x8B: '‹', 0x8C: 'Œ',
	0x8E: 'Ž', 0x91: '‘', 0x92: '’', 0x93: '“', 0x94: '”', 0x95: '•',
	0x96: '–', 0x97: '—', 0x98: '˜', 0x99: '™', 0x9A: 'š', 0x9B: '›',
	0x9C: 'œ', 0x9E: 'ž', 0x9F: 'Ÿ',
}

// decode tries encodings in order: utf-8 with BOM, plain utf-8, then the
// cp1252/latin-1 single-byte fallback.
func decode(data []byte) string {
	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		data = data[3:]
	}
	if utf8.Valid(data) {
		return string(data)
	}
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		if c >= 0x80 && c <= 0x9F {
			if r, ok := cp1252High[c]; ok {
				b.WriteRune(r)
				continue
			}
		}
		b.WriteRune(rune(c))
	}
	return b.String()
}
