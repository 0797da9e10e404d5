// Package trust derives the per-snapshot trust report: evidence-backed
// data-quality metrics, a composite score and the lock gates the snapshot
// must pass before it can be locked without an override.
package trust

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/match"
	"github.com/ledgerline/cashops/internal/persistence"
	"github.com/ledgerline/cashops/internal/telemetry"
)

// Report is the trust artifact of one snapshot. Every metric carries the
// evidence rows that substantiate it, keyed by metric name.
type Report struct {
	SnapshotID  string    `json:"snapshot_id"`
	GeneratedAt time.Time `json:"generated_at"`

	CashExplainedPct      float64         `json:"cash_explained_pct"`
	MissingFXExposureBase decimal.Decimal `json:"missing_fx_exposure_base"`
	MissingFXRatio        float64         `json:"missing_fx_ratio"`
	DuplicateExposureBase decimal.Decimal `json:"duplicate_exposure_base"`
	UnknownCashPct        float64         `json:"unknown_cash_pct"`
	ReconciliationAgeDays int             `json:"reconciliation_age_days"`
	DataFreshnessHours    float64         `json:"data_freshness_hours"`
	CriticalFindingsOpen  int             `json:"critical_findings_open"`
	SchemaDriftCount      int             `json:"schema_drift_count"`

	TrustScore   float64                          `json:"trust_score"`
	Evidence     map[string][]domain.EvidenceLink `json:"evidence"`
	Gates        []GateResult                     `json:"gates"`
	LockEligible bool                             `json:"lock_eligible"`
}

// Reporter computes trust reports from the store. It also serves as the
// production lock-gate checker for the snapshot workflow.
type Reporter struct {
	store persistence.Store
	match *match.Engine
	cfg   GateConfig
	now   func() time.Time
}

// NewReporter creates a reporter with the given gate thresholds.
func NewReporter(store persistence.Store, cfg GateConfig) *Reporter {
	return &Reporter{
		store: store,
		match: match.NewEngine(store),
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Build assembles the trust report for a snapshot.
func (r *Reporter) Build(ctx context.Context, snapshotID string) (*Report, error) {
	snap, err := r.store.Snapshots().Get(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", snapshotID, err)
	}

	rep := &Report{
		SnapshotID:            snapshotID,
		GeneratedAt:           r.now(),
		MissingFXExposureBase: decimal.Zero,
		DuplicateExposureBase: decimal.Zero,
		Evidence:              make(map[string][]domain.EvidenceLink),
	}

	pct, err := r.match.CashExplainedPct(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	rep.CashExplainedPct = pct

	if err := r.measureFX(ctx, snap, rep); err != nil {
		return nil, err
	}
	if err := r.measureUnknownCash(ctx, snap, rep); err != nil {
		return nil, err
	}
	if err := r.measureDuplicates(ctx, snap, rep); err != nil {
		return nil, err
	}
	if err := r.measureFreshness(ctx, snap, rep); err != nil {
		return nil, err
	}
	if err := r.measureFindings(ctx, snap, rep); err != nil {
		return nil, err
	}

	rep.TrustScore = computeScore(rep)
	rep.Gates = r.cfg.evaluate(rep)
	rep.LockEligible = true
	for _, g := range rep.Gates {
		if !g.Passed {
			rep.LockEligible = false
		}
	}

	telemetry.TrustScore.WithLabelValues(snapshotID).Set(rep.TrustScore)
	log.Info().
		Str("snapshot_id", snapshotID).
		Float64("trust_score", rep.TrustScore).
		Float64("cash_explained_pct", rep.CashExplainedPct).
		Bool("lock_eligible", rep.LockEligible).
		Msg("trust report built")
	return rep, nil
}

// measureFX sums the absolute amounts of open documents and transactions
// whose currency has no stored rate to the snapshot base. Rates are never
// defaulted; missing ones surface here as exposure.
func (r *Reporter) measureFX(ctx context.Context, snap *domain.Snapshot, rep *Report) error {
	rates, err := r.store.FX().List(ctx, snap.ID)
	if err != nil {
		return err
	}
	byPair := make(map[string]decimal.Decimal, len(rates))
	for _, fx := range rates {
		byPair[fx.FromCcy+">"+fx.ToCcy] = fx.Rate
	}

	total := decimal.Zero
	missing := decimal.Zero
	add := func(amount decimal.Decimal, currency, evType, evID string) {
		abs := amount.Abs()
		if currency == "" || currency == snap.BaseCurrency {
			total = total.Add(abs)
			return
		}
		if rate, ok := byPair[currency+">"+snap.BaseCurrency]; ok {
			total = total.Add(abs.Mul(rate))
			return
		}
		total = total.Add(abs)
		missing = missing.Add(abs)
		rep.Evidence["missing_fx_exposure_base"] = append(rep.Evidence["missing_fx_exposure_base"],
			domain.EvidenceLink{EvidenceType: evType, EvidenceID: evID})
	}

	invoices, err := r.store.Documents().ListInvoices(ctx, snap.ID)
	if err != nil {
		return err
	}
	for _, inv := range invoices {
		if !inv.IsPaid() {
			add(inv.Amount, inv.Currency, "invoice", inv.ID)
		}
	}
	bills, err := r.store.Documents().ListBills(ctx, snap.ID)
	if err != nil {
		return err
	}
	for _, b := range bills {
		if b.PaymentDate == nil {
			add(b.Amount, b.Currency, "vendor_bill", b.ID)
		}
	}
	txns, err := r.store.BankTxns().List(ctx, snap.ID)
	if err != nil {
		return err
	}
	for _, t := range txns {
		add(t.Amount, t.Currency, "bank_txn", t.ID)
	}

	rep.MissingFXExposureBase = missing
	if total.Sign() > 0 {
		ratio, _ := missing.Div(total).Float64()
		rep.MissingFXRatio = ratio
	}
	return nil
}

// measureUnknownCash derives the unexplained share of booked cash and the
// age of the oldest transaction still waiting for reconciliation.
func (r *Reporter) measureUnknownCash(ctx context.Context, snap *domain.Snapshot, rep *Report) error {
	txns, err := r.store.BankTxns().List(ctx, snap.ID)
	if err != nil {
		return err
	}
	hasInflows := false
	for _, t := range txns {
		if t.IsInflow() {
			hasInflows = true
			break
		}
	}
	if hasInflows {
		rep.UnknownCashPct = clamp01(1 - rep.CashExplainedPct/100)
	}

	var oldest *domain.BankTransaction
	for _, t := range txns {
		if t.ReconStatus == domain.ReconReconciled {
			continue
		}
		if t.IsInflow() {
			rep.Evidence["unknown_cash_pct"] = append(rep.Evidence["unknown_cash_pct"],
				domain.EvidenceLink{EvidenceType: "bank_txn", EvidenceID: t.ID})
		}
		if oldest == nil || t.TxnDate.Before(oldest.TxnDate) {
			oldest = t
		}
	}
	if oldest != nil {
		age := int(r.now().Sub(oldest.TxnDate).Hours() / 24)
		if age < 0 {
			age = 0
		}
		rep.ReconciliationAgeDays = age
		rep.Evidence["reconciliation_age_days"] = []domain.EvidenceLink{
			{EvidenceType: "bank_txn", EvidenceID: oldest.ID},
		}
	}
	return nil
}

// measureDuplicates scans documents for repeated canonical IDs. The store
// enforces (snapshot_id, canonical_id) uniqueness, so a nonzero exposure
// means the guarantee was bypassed and the snapshot must not lock.
func (r *Reporter) measureDuplicates(ctx context.Context, snap *domain.Snapshot, rep *Report) error {
	exposure := decimal.Zero
	seen := make(map[string]bool)
	flag := func(canonicalID string, amount decimal.Decimal, evType, evID string) {
		if canonicalID == "" {
			return
		}
		if !seen[canonicalID] {
			seen[canonicalID] = true
			return
		}
		exposure = exposure.Add(amount.Abs())
		rep.Evidence["duplicate_exposure_base"] = append(rep.Evidence["duplicate_exposure_base"],
			domain.EvidenceLink{EvidenceType: evType, EvidenceID: evID})
	}

	invoices, err := r.store.Documents().ListInvoices(ctx, snap.ID)
	if err != nil {
		return err
	}
	for _, inv := range invoices {
		flag("invoice|"+inv.CanonicalID, inv.Amount, "invoice", inv.ID)
	}
	bills, err := r.store.Documents().ListBills(ctx, snap.ID)
	if err != nil {
		return err
	}
	for _, b := range bills {
		flag("vendor_bill|"+b.CanonicalID, b.Amount, "vendor_bill", b.ID)
	}
	rep.DuplicateExposureBase = exposure
	return nil
}

// measureFreshness reports hours since the snapshot's source dataset was
// created, and counts drift events on that dataset's connection. A snapshot
// with no source dataset falls back to its own creation time.
func (r *Reporter) measureFreshness(ctx context.Context, snap *domain.Snapshot, rep *Report) error {
	anchor := snap.CreatedAt
	if snap.DatasetID != "" {
		ds, err := r.store.Lineage().GetDataset(ctx, snap.DatasetID)
		if err != nil {
			return fmt.Errorf("failed to load dataset %s: %w", snap.DatasetID, err)
		}
		anchor = ds.CreatedAt
		rep.Evidence["data_freshness_hours"] = []domain.EvidenceLink{
			{EvidenceType: "dataset", EvidenceID: ds.ID},
		}

		events, err := r.store.Lineage().ListDriftEvents(ctx, ds.ConnectionID)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if ev.Severity == domain.DriftInfo {
				continue
			}
			rep.SchemaDriftCount++
			rep.Evidence["schema_drift_count"] = append(rep.Evidence["schema_drift_count"],
				domain.EvidenceLink{EvidenceType: "schema_drift_event", EvidenceID: ev.ID})
		}
	}
	hours := r.now().Sub(anchor).Hours()
	if hours < 0 {
		hours = 0
	}
	rep.DataFreshnessHours = hours
	return nil
}

// measureFindings counts critical exceptions still awaiting resolution and
// critical failures from the latest invariant run. A snapshot that was never
// checked contributes nothing; a FAILED run blocks the lock until a fresh
// run clears it or the CFO overrides.
func (r *Reporter) measureFindings(ctx context.Context, snap *domain.Snapshot, rep *Report) error {
	exceptions, err := r.store.Workflow().ListExceptions(ctx, snap.ID)
	if err != nil {
		return err
	}
	for _, ex := range exceptions {
		if ex.Severity != domain.SeverityCritical {
			continue
		}
		if ex.Status != domain.ExceptionOpen && ex.Status != domain.ExceptionInReview {
			continue
		}
		rep.CriticalFindingsOpen++
		rep.Evidence["critical_findings_open"] = append(rep.Evidence["critical_findings_open"],
			domain.EvidenceLink{EvidenceType: "exception", EvidenceID: ex.ID})
	}

	run, err := r.store.Invariants().LatestRun(ctx, snap.ID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil
		}
		return err
	}
	for range run.CriticalFailures() {
		rep.CriticalFindingsOpen++
		rep.Evidence["critical_findings_open"] = append(rep.Evidence["critical_findings_open"],
			domain.EvidenceLink{EvidenceType: "invariant_run", EvidenceID: run.ID})
	}
	return nil
}

// computeScore folds the metrics into a 0..100 composite. Unexplained cash
// is already priced through cash_explained_pct, so unknown_cash_pct carries
// no separate deduction.
func computeScore(rep *Report) float64 {
	score := 100.0
	score -= 0.35 * (100 - rep.CashExplainedPct)
	score -= math.Min(20, rep.MissingFXRatio*400)
	if rep.DuplicateExposureBase.Sign() > 0 {
		score -= 15
	}
	score -= math.Min(25, 10*float64(rep.CriticalFindingsOpen))
	if rep.DataFreshnessHours > 48 {
		score -= math.Min(15, (rep.DataFreshnessHours-48)/24*5)
	}
	score -= math.Min(10, 2*float64(rep.SchemaDriftCount))
	if rep.ReconciliationAgeDays > 30 {
		score -= math.Min(10, float64(rep.ReconciliationAgeDays-30)/3)
	}
	if score < 0 {
		return 0
	}
	return score
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
