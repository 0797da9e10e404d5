package domain

import "strings"

// SegmentLevels is the hierarchical fallback order used when assigning an
// invoice to a delay-distribution segment. The first level with enough
// samples wins.
var SegmentLevels = [][]string{
	{"customer", "country", "terms_of_payment"},
	{"customer", "country"},
	{"customer"},
	{"country"},
	{}, // global
}

// MinSegmentSample is the minimum row count for a segment to be usable.
const MinSegmentSample = 15

// SegmentKey renders a (level, values) pair as a stable string key.
func SegmentKey(level, values []string) string {
	if len(level) == 0 {
		return "GLOBAL"
	}
	return strings.Join(level, ",") + "=" + strings.Join(values, "|")
}

// Segment holds the weighted delay distribution for one hierarchy cell of
// one snapshot.
type Segment struct {
	ID         string `db:"id"`
	SnapshotID string `db:"snapshot_id"`
	Key        string `db:"key"`

	Level  []string `db:"-"`
	Values []string `db:"-"`

	Count int     `db:"count"`
	P25   float64 `db:"p25"`
	P50   float64 `db:"p50"`
	P75   float64 `db:"p75"`
	P90   float64 `db:"p90"`
	Mean  float64 `db:"mean"`
	Std   float64 `db:"std"`
}

// CalibrationRecord stores split-conformal backtest coverage for one segment.
type CalibrationRecord struct {
	ID         string `db:"id"`
	SnapshotID string `db:"snapshot_id"`
	SegmentKey string `db:"segment_key"`

	Coverage25       float64 `db:"coverage_25"` // P25-P75 band coverage, target 0.50
	Coverage50       float64 `db:"coverage_50"`
	Coverage75       float64 `db:"coverage_75"`
	Coverage90       float64 `db:"coverage_90"`
	CalibrationError float64 `db:"calibration_error"`
	SampleSize       int     `db:"sample_size"`
}
