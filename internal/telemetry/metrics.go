// Package telemetry exposes the platform's prometheus collectors. All
// collectors are registered on the default registry at init; the CLI
// decides whether an exposition endpoint is wired up.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRows counts ingestion rows by source type and disposition
	// (extracted, normalized, loaded, skipped, error).
	SyncRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cashops",
		Subsystem: "ingest",
		Name:      "rows_total",
		Help:      "Ingestion row counts by source type and disposition.",
	}, []string{"source_type", "disposition"})

	// SyncRuns counts finished sync runs by terminal status.
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cashops",
		Subsystem: "ingest",
		Name:      "runs_total",
		Help:      "Finished sync runs by terminal status.",
	}, []string{"source_type", "status"})

	// SchemaDrift counts detected drift events by severity.
	SchemaDrift = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cashops",
		Subsystem: "ingest",
		Name:      "schema_drift_total",
		Help:      "Schema drift events by severity.",
	}, []string{"severity"})

	// MatchOutcomes counts matched transactions by resulting tier.
	MatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cashops",
		Subsystem: "match",
		Name:      "outcomes_total",
		Help:      "Matching outcomes by tier.",
	}, []string{"tier"})

	// CashExplained is the per-snapshot cash-explained KPI.
	CashExplained = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cashops",
		Subsystem: "match",
		Name:      "cash_explained_pct",
		Help:      "Cash explained percentage per snapshot.",
	}, []string{"snapshot_id"})

	// InvariantResults counts invariant check outcomes.
	InvariantResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cashops",
		Subsystem: "invariants",
		Name:      "results_total",
		Help:      "Invariant check results by check name and status.",
	}, []string{"check", "status"})

	// ForecastCalibrationError is the mean calibration error of the last
	// forecast run per snapshot.
	ForecastCalibrationError = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cashops",
		Subsystem: "forecast",
		Name:      "calibration_error",
		Help:      "Mean conformal calibration error per snapshot.",
	}, []string{"snapshot_id"})

	// TrustScore is the composite trust score per snapshot.
	TrustScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cashops",
		Subsystem: "trust",
		Name:      "score",
		Help:      "Composite trust score per snapshot.",
	}, []string{"snapshot_id"})
)
