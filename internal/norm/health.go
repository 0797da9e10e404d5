package norm

import (
	"sort"

	"github.com/shopspring/decimal"
)

// QualityLevel buckets a health report into a coarse grade.
type QualityLevel string

const (
	QualityExcellent QualityLevel = "excellent"
	QualityGood      QualityLevel = "good"
	QualityFair      QualityLevel = "fair"
	QualityPoor      QualityLevel = "poor"
)

// Issue is one consolidated data-quality finding. Issues with the same
// (type, severity, message) are merged and their row indices aggregated.
type Issue struct {
	Type       string `json:"type"`
	Severity   string `json:"severity"` // "error" or "warning"
	Message    string `json:"message"`
	RowIndices []int  `json:"row_indices"`
}

// HealthReport summarizes one extraction's data quality.
type HealthReport struct {
	TotalRows   int `json:"total_rows"`
	ValidRows   int `json:"valid_rows"`
	ErrorRows   int `json:"error_rows"`
	WarningRows int `json:"warning_rows"`

	// Completeness maps canonical field name -> non-empty percentage.
	Completeness map[string]float64 `json:"completeness"`
	Quality      QualityLevel       `json:"quality"`

	AmountTotal    decimal.Decimal `json:"amount_total"`
	AbsAmountTotal decimal.Decimal `json:"abs_amount_total"`

	UnmappedColumns   []string `json:"unmapped_columns"`
	SchemaFingerprint string   `json:"schema_fingerprint"`

	Issues []Issue `json:"issues"`
}

// HealthBuilder accumulates per-row observations into a HealthReport.
type HealthBuilder struct {
	total      int
	errorRows  map[int]bool
	warnRows   map[int]bool
	fieldSeen  map[string]int
	amount     decimal.Decimal
	absAmount  decimal.Decimal
	issues     map[issueKey]*Issue
	issueOrder []issueKey

	unmapped    []string
	fingerprint string
}

type issueKey struct {
	typ      string
	severity string
	message  string
}

// NewHealthBuilder creates an empty builder for one extraction.
func NewHealthBuilder() *HealthBuilder {
	return &HealthBuilder{
		errorRows: make(map[int]bool),
		warnRows:  make(map[int]bool),
		fieldSeen: make(map[string]int),
		issues:    make(map[issueKey]*Issue),
	}
}

// SetSchema records the fingerprint and unmapped raw columns.
func (b *HealthBuilder) SetSchema(fingerprint string, unmapped []string) {
	b.fingerprint = fingerprint
	b.unmapped = unmapped
}

// ObserveRow counts one normalized row, recording which canonical fields
// were populated and the parsed amount if present.
func (b *HealthBuilder) ObserveRow(fields map[string]string, amount *decimal.Decimal) {
	b.total++
	for name, v := range fields {
		if v != "" {
			b.fieldSeen[name]++
		}
	}
	if amount != nil {
		b.amount = b.amount.Add(*amount)
		b.absAmount = b.absAmount.Add(amount.Abs())
	}
}

// AddIssue records a finding against a row. Error-severity issues demote the
// row from valid to error.
func (b *HealthBuilder) AddIssue(rowIdx int, typ, severity, message string) {
	key := issueKey{typ: typ, severity: severity, message: message}
	issue, ok := b.issues[key]
	if !ok {
		issue = &Issue{Type: typ, Severity: severity, Message: message}
		b.issues[key] = issue
		b.issueOrder = append(b.issueOrder, key)
	}
	issue.RowIndices = append(issue.RowIndices, rowIdx)

	switch severity {
	case "error":
		b.errorRows[rowIdx] = true
	case "warning":
		b.warnRows[rowIdx] = true
	}
}

// ObserveFailedRow counts a row that never normalized.
func (b *HealthBuilder) ObserveFailedRow(rowIdx int, typ, message string) {
	b.total++
	b.AddIssue(rowIdx, typ, "error", message)
}

// Build finalizes the report.
func (b *HealthBuilder) Build() HealthReport {
	r := HealthReport{
		TotalRows:         b.total,
		ValidRows:         b.total - len(b.errorRows),
		ErrorRows:         len(b.errorRows),
		WarningRows:       len(b.warnRows),
		Completeness:      make(map[string]float64, len(b.fieldSeen)),
		AmountTotal:       b.amount,
		AbsAmountTotal:    b.absAmount,
		UnmappedColumns:   b.unmapped,
		SchemaFingerprint: b.fingerprint,
	}
	for _, key := range b.issueOrder {
		issue := b.issues[key]
		sort.Ints(issue.RowIndices)
		r.Issues = append(r.Issues, *issue)
	}
	var completenessSum, completenessN float64
	for name, seen := range b.fieldSeen {
		pct := 0.0
		if b.total > 0 {
			pct = float64(seen) / float64(b.total) * 100
		}
		r.Completeness[name] = pct
		completenessSum += pct
		completenessN++
	}
	validPct := 100.0
	if b.total > 0 {
		validPct = float64(r.ValidRows) / float64(b.total) * 100
	}
	meanCompleteness := 100.0
	if completenessN > 0 {
		meanCompleteness = completenessSum / completenessN
	}
	r.Quality = qualityFor(validPct, meanCompleteness)
	return r
}

// qualityFor grades (valid %, mean field completeness %) into a bucket.
func qualityFor(validPct, completenessPct float64) QualityLevel {
	switch {
	case validPct >= 95 && completenessPct >= 90:
		return QualityExcellent
	case validPct >= 85 && completenessPct >= 75:
		return QualityGood
	case validPct >= 70 && completenessPct >= 60:
		return QualityFair
	default:
		return QualityPoor
	}
}
