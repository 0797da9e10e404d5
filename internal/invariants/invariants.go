// Package invariants runs the seven structural checks over a snapshot.
// Violations are findings, never errors: a broken invariant is evidence to
// report, not a reason to abort. Every run is persisted; the latest run per
// snapshot is what the lock gates consult.
package invariants

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/persistence"
	"github.com/ledgerline/cashops/internal/telemetry"
)

// Engine loads a snapshot's rows once and evaluates every check against the
// in-memory view.
type Engine struct {
	store persistence.Store
}

// NewEngine creates an invariant engine over a store.
func NewEngine(store persistence.Store) *Engine {
	return &Engine{store: store}
}

// snapshotView is the materialized read set shared by all checks.
type snapshotView struct {
	snap        *domain.Snapshot
	invoices    []*domain.Invoice
	bills       []*domain.VendorBill
	txns        []*domain.BankTransaction
	allocations []*domain.ReconciliationAllocation
	rates       []*domain.FXRate
	audit       []*domain.AuditLog
}

// Run executes all seven checks, aggregates the result and persists the run.
func (e *Engine) Run(ctx context.Context, snapshotID string) (*domain.InvariantRun, error) {
	view, err := e.load(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	run := &domain.InvariantRun{
		SnapshotID: snapshotID,
		RanAt:      time.Now().UTC(),
		Findings: []domain.InvariantFinding{
			checkWeeklyCashMath(view),
			checkDrilldownSums(view),
			checkConservation(view),
			checkNoOvermatch(view),
			checkFXSafety(view),
			checkImmutability(view),
			checkIdempotency(view),
		},
	}

	for _, f := range run.Findings {
		switch f.Status {
		case domain.CheckPass:
			run.Passed++
		case domain.CheckFail:
			run.Failed++
		case domain.CheckWarn:
			run.Warned++
		case domain.CheckSkip:
			run.Skipped++
		}
		telemetry.InvariantResults.WithLabelValues(f.Name, string(f.Status)).Inc()
	}
	switch {
	case run.Failed > 0:
		run.Status = domain.InvariantRunFailed
	case run.Warned > 0:
		run.Status = domain.InvariantRunPartial
	default:
		run.Status = domain.InvariantRunPassed
	}

	if err := e.store.Invariants().SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist invariant run: %w", err)
	}

	log.Info().
		Str("snapshot_id", snapshotID).
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Int("passed", run.Passed).
		Int("failed", run.Failed).
		Int("warned", run.Warned).
		Msg("invariant run complete")
	return run, nil
}

func (e *Engine) load(ctx context.Context, snapshotID string) (*snapshotView, error) {
	snap, err := e.store.Snapshots().Get(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", snapshotID, err)
	}
	v := &snapshotView{snap: snap}
	if v.invoices, err = e.store.Documents().ListInvoices(ctx, snapshotID); err != nil {
		return nil, err
	}
	if v.bills, err = e.store.Documents().ListBills(ctx, snapshotID); err != nil {
		return nil, err
	}
	if v.txns, err = e.store.BankTxns().List(ctx, snapshotID); err != nil {
		return nil, err
	}
	if v.allocations, err = e.store.Allocations().ListBySnapshot(ctx, snapshotID); err != nil {
		return nil, err
	}
	if v.rates, err = e.store.FX().List(ctx, snapshotID); err != nil {
		return nil, err
	}
	if v.audit, err = e.store.Audit().List(ctx, snapshotID); err != nil {
		return nil, err
	}
	return v, nil
}
