package trust

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Gate names, as recorded in lock-gate override logs.
const (
	GateMissingFX        = "missing_fx_exposure"
	GateUnknownCash      = "unknown_cash_pct"
	GateDuplicate        = "duplicate_exposure"
	GateFreshness        = "data_freshness"
	GateCriticalFindings = "critical_findings"
)

// GateConfig holds the lock-gate thresholds. Zero open critical findings is
// a fixed requirement, not a threshold.
type GateConfig struct {
	MaxMissingFXRatio    float64         `yaml:"max_missing_fx_ratio"`
	MaxUnknownCashPct    float64         `yaml:"max_unknown_cash_pct"`
	MaxDuplicateExposure decimal.Decimal `yaml:"-"`
	MaxFreshnessHours    float64         `yaml:"max_freshness_hours"`
}

// DefaultGateConfig returns the platform default thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MaxMissingFXRatio:    0.05,
		MaxUnknownCashPct:    0.05,
		MaxDuplicateExposure: decimal.Zero,
		MaxFreshnessHours:    48,
	}
}

// GateResult is the verdict of one lock gate.
type GateResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

func (c GateConfig) evaluate(rep *Report) []GateResult {
	return []GateResult{
		{
			Name:   GateMissingFX,
			Passed: rep.MissingFXRatio <= c.MaxMissingFXRatio,
			Detail: fmt.Sprintf("missing-FX ratio %.4f (max %.4f), exposure %s", rep.MissingFXRatio, c.MaxMissingFXRatio, rep.MissingFXExposureBase),
		},
		{
			Name:   GateUnknownCash,
			Passed: rep.UnknownCashPct <= c.MaxUnknownCashPct,
			Detail: fmt.Sprintf("unknown cash %.4f (max %.4f)", rep.UnknownCashPct, c.MaxUnknownCashPct),
		},
		{
			Name:   GateDuplicate,
			Passed: rep.DuplicateExposureBase.Cmp(c.MaxDuplicateExposure) <= 0,
			Detail: fmt.Sprintf("duplicate exposure %s (max %s)", rep.DuplicateExposureBase, c.MaxDuplicateExposure),
		},
		{
			Name:   GateFreshness,
			Passed: rep.DataFreshnessHours <= c.MaxFreshnessHours,
			Detail: fmt.Sprintf("data %.1fh old (max %.0fh)", rep.DataFreshnessHours, c.MaxFreshnessHours),
		},
		{
			Name:   GateCriticalFindings,
			Passed: rep.CriticalFindingsOpen == 0,
			Detail: fmt.Sprintf("%d critical findings open", rep.CriticalFindingsOpen),
		},
	}
}

// FailedGates reports the names of lock gates the snapshot currently fails.
// The snapshot workflow calls this before every lock attempt.
func (r *Reporter) FailedGates(ctx context.Context, snapshotID string) ([]string, error) {
	rep, err := r.Build(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	var failed []string
	for _, g := range rep.Gates {
		if !g.Passed {
			failed = append(failed, g.Name)
		}
	}
	return failed, nil
}
