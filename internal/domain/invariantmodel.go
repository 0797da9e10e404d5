package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CheckStatus is the outcome of one invariant check.
type CheckStatus string

const (
	CheckPass CheckStatus = "PASS"
	CheckFail CheckStatus = "FAIL"
	CheckWarn CheckStatus = "WARN"
	CheckSkip CheckStatus = "SKIP"
)

// InvariantFinding is the result of one check on one snapshot.
type InvariantFinding struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Severity Severity    `json:"severity"`
	Details  string      `json:"details"`

	// Proof is a human-readable arithmetic trace of the check.
	Proof    string          `json:"proof_string"`
	Evidence []EvidenceLink  `json:"evidence_refs,omitempty"`
	Exposure decimal.Decimal `json:"exposure_amount"`
}

// InvariantRunStatus aggregates the findings of one run.
type InvariantRunStatus string

const (
	InvariantRunPassed  InvariantRunStatus = "PASSED"
	InvariantRunPartial InvariantRunStatus = "PARTIAL"
	InvariantRunFailed  InvariantRunStatus = "FAILED"
)

// InvariantRun is the persisted output of one invariant sweep. The latest
// run per snapshot feeds the lock gates.
type InvariantRun struct {
	ID         string             `db:"id" json:"id"`
	SnapshotID string             `db:"snapshot_id" json:"snapshot_id"`
	Status     InvariantRunStatus `db:"status" json:"status"`
	RanAt      time.Time          `db:"ran_at" json:"ran_at"`

	Passed  int `db:"passed" json:"passed"`
	Failed  int `db:"failed" json:"failed"`
	Warned  int `db:"warned" json:"warned"`
	Skipped int `db:"skipped" json:"skipped"`

	Findings []InvariantFinding `db:"-" json:"findings"`
}

// CriticalFailures returns the findings that failed at critical severity.
func (r *InvariantRun) CriticalFailures() []InvariantFinding {
	var out []InvariantFinding
	for _, f := range r.Findings {
		if f.Status == CheckFail && f.Severity == SeverityCritical {
			out = append(out, f)
		}
	}
	return out
}
