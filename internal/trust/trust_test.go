package trust

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/invariants"
	"github.com/ledgerline/cashops/internal/persistence/memory"
	"github.com/ledgerline/cashops/internal/workflow"
)

var _ workflow.GateChecker = (*Reporter)(nil)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store    *memory.Store
	reporter *Reporter
	entity   *domain.Entity
	conn     *domain.LineageConnection
	dataset  *domain.Dataset
	snap     *domain.Snapshot
	seq      int
}

func newFixture(t *testing.T, datasetAge time.Duration) *fixture {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	entity := &domain.Entity{Name: "Test GmbH", BaseCurrency: "EUR", PaymentRunDay: 3}
	require.NoError(t, store.Entities().Create(ctx, entity))

	conn := &domain.LineageConnection{
		EntityID:   entity.ID,
		Type:       "bank_csv",
		SourceType: "bank_csv",
		Name:       "Main bank",
		Status:     domain.ConnectionActive,
	}
	require.NoError(t, store.Lineage().CreateConnection(ctx, conn))

	dataset := &domain.Dataset{
		ConnectionID: conn.ID,
		SourceType:   "bank_csv",
		CreatedAt:    testNow.Add(-datasetAge),
	}
	require.NoError(t, store.Lineage().CreateDataset(ctx, dataset))

	snap := &domain.Snapshot{
		EntityID:           entity.ID,
		Status:             domain.SnapshotDraft,
		BaseCurrency:       "EUR",
		OpeningBankBalance: dec("10000"),
		MinCashThreshold:   dec("1000"),
		DatasetID:          dataset.ID,
		CreatedAt:          testNow.Add(-time.Hour),
	}
	require.NoError(t, store.Snapshots().Create(ctx, snap))

	reporter := NewReporter(store, DefaultGateConfig())
	reporter.now = func() time.Time { return testNow }
	return &fixture{store: store, reporter: reporter, entity: entity, conn: conn, dataset: dataset, snap: snap}
}

func (f *fixture) addInvoice(t *testing.T, amount, currency string) *domain.Invoice {
	t.Helper()
	f.seq++
	inv := &domain.Invoice{
		SnapshotID:     f.snap.ID,
		CanonicalID:    fmt.Sprintf("inv-%d", f.seq),
		DocumentNumber: fmt.Sprintf("INV-%03d", f.seq),
		Counterparty:   "ACME Corp",
		Amount:         dec(amount),
		Currency:       currency,
		DueDate:        testNow.AddDate(0, 0, 14),
	}
	require.NoError(t, f.store.Documents().InsertInvoice(context.Background(), inv))
	return inv
}

func (f *fixture) addTxn(t *testing.T, amount string, ageDays int, status domain.ReconStatus) *domain.BankTransaction {
	t.Helper()
	f.seq++
	txn := &domain.BankTransaction{
		SnapshotID:  f.snap.ID,
		CanonicalID: fmt.Sprintf("txn-%d", f.seq),
		TxnDate:     testNow.AddDate(0, 0, -ageDays),
		Amount:      dec(amount),
		Currency:    "EUR",
		ReconStatus: status,
	}
	require.NoError(t, f.store.BankTxns().Insert(context.Background(), txn))
	return txn
}

// addReconciledInflow books an inflow fully explained by one allocation.
func (f *fixture) addReconciledInflow(t *testing.T, amount string) {
	t.Helper()
	txn := f.addTxn(t, amount, 2, domain.ReconReconciled)
	inv := f.addInvoice(t, amount, "EUR")
	require.NoError(t, f.store.Allocations().Insert(context.Background(), &domain.ReconciliationAllocation{
		SnapshotID:      f.snap.ID,
		TransactionID:   txn.ID,
		TargetKind:      domain.TargetInvoice,
		TargetID:        inv.ID,
		AllocatedAmount: dec(amount),
		Tier:            domain.TierDeterministic,
		Status:          domain.AllocationReconciled,
	}))
}

func gateByName(t *testing.T, rep *Report, name string) GateResult {
	t.Helper()
	for _, g := range rep.Gates {
		if g.Name == name {
			return g
		}
	}
	t.Fatalf("gate %s not found", name)
	return GateResult{}
}

func TestCleanSnapshotIsLockEligible(t *testing.T) {
	f := newFixture(t, 2*time.Hour)
	f.addReconciledInflow(t, "1000")

	rep, err := f.reporter.Build(context.Background(), f.snap.ID)
	require.NoError(t, err)

	assert.InDelta(t, 100, rep.CashExplainedPct, 0.001)
	assert.InDelta(t, 0, rep.UnknownCashPct, 0.001)
	assert.True(t, rep.MissingFXExposureBase.IsZero())
	assert.True(t, rep.DuplicateExposureBase.IsZero())
	assert.InDelta(t, 2, rep.DataFreshnessHours, 0.001)
	assert.Zero(t, rep.CriticalFindingsOpen)
	assert.InDelta(t, 100, rep.TrustScore, 0.001)
	assert.True(t, rep.LockEligible)

	failed, err := f.reporter.FailedGates(context.Background(), f.snap.ID)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestEmptySnapshotHasNoUnknownCash(t *testing.T) {
	f := newFixture(t, 2*time.Hour)

	rep, err := f.reporter.Build(context.Background(), f.snap.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0, rep.UnknownCashPct, 0.001)
	assert.True(t, rep.LockEligible)
}

func TestUnknownCashFailsGate(t *testing.T) {
	f := newFixture(t, 2*time.Hour)
	txn := f.addTxn(t, "1000", 2, domain.ReconNone)

	rep, err := f.reporter.Build(context.Background(), f.snap.ID)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, rep.UnknownCashPct, 0.001)
	assert.False(t, gateByName(t, rep, GateUnknownCash).Passed)
	assert.False(t, rep.LockEligible)
	assert.Contains(t, rep.Evidence["unknown_cash_pct"],
		domain.EvidenceLink{EvidenceType: "bank_txn", EvidenceID: txn.ID})
	// All cash unexplained: 100 - 0.35*100.
	assert.InDelta(t, 65, rep.TrustScore, 0.001)
}

func TestMissingFXExposureFailsGate(t *testing.T) {
	f := newFixture(t, 2*time.Hour)
	usd := f.addInvoice(t, "1000", "USD")
	f.addInvoice(t, "100", "EUR")

	rep, err := f.reporter.Build(context.Background(), f.snap.ID)
	require.NoError(t, err)

	assert.True(t, rep.MissingFXExposureBase.Equal(dec("1000")), "got %s", rep.MissingFXExposureBase)
	assert.InDelta(t, 1000.0/1100.0, rep.MissingFXRatio, 0.001)
	assert.False(t, gateByName(t, rep, GateMissingFX).Passed)
	assert.False(t, rep.LockEligible)
	assert.Contains(t, rep.Evidence["missing_fx_exposure_base"],
		domain.EvidenceLink{EvidenceType: "invoice", EvidenceID: usd.ID})
}

func TestStoredRateClearsExposure(t *testing.T) {
	f := newFixture(t, 2*time.Hour)
	f.addInvoice(t, "1000", "USD")
	require.NoError(t, f.store.FX().Insert(context.Background(), &domain.FXRate{
		SnapshotID: f.snap.ID, FromCcy: "USD", ToCcy: "EUR", Rate: dec("0.9"),
	}))

	rep, err := f.reporter.Build(context.Background(), f.snap.ID)
	require.NoError(t, err)
	assert.True(t, rep.MissingFXExposureBase.IsZero())
	assert.True(t, gateByName(t, rep, GateMissingFX).Passed)
}

func TestStaleDatasetFailsFreshnessGate(t *testing.T) {
	f := newFixture(t, 72*time.Hour)

	rep, err := f.reporter.Build(context.Background(), f.snap.ID)
	require.NoError(t, err)

	assert.InDelta(t, 72, rep.DataFreshnessHours, 0.001)
	assert.False(t, gateByName(t, rep, GateFreshness).Passed)
	// One day past the 48h limit costs 5 points.
	assert.InDelta(t, 95, rep.TrustScore, 0.001)
}

func TestDriftEventsCountedBySeverity(t *testing.T) {
	f := newFixture(t, 2*time.Hour)
	ctx := context.Background()
	for _, sev := range []domain.DriftSeverity{domain.DriftInfo, domain.DriftWarning, domain.DriftError} {
		require.NoError(t, f.store.Lineage().InsertDriftEvent(ctx, &domain.SchemaDriftEvent{
			ConnectionID: f.conn.ID,
			DatasetID:    f.dataset.ID,
			Severity:     sev,
		}))
	}

	rep, err := f.reporter.Build(ctx, f.snap.ID)
	require.NoError(t, err)
	// Info-level drift is noise; warning and error count.
	assert.Equal(t, 2, rep.SchemaDriftCount)
	assert.Len(t, rep.Evidence["schema_drift_count"], 2)
	assert.InDelta(t, 96, rep.TrustScore, 0.001)
	assert.True(t, rep.LockEligible)
}

func TestOpenCriticalExceptionFailsGate(t *testing.T) {
	f := newFixture(t, 2*time.Hour)
	ctx := context.Background()
	open := &domain.Exception{SnapshotID: f.snap.ID, Type: "unmatched_cash", Severity: domain.SeverityCritical}
	require.NoError(t, f.store.Workflow().CreateException(ctx, open))
	resolved := &domain.Exception{
		SnapshotID: f.snap.ID, Type: "fx_gap",
		Severity: domain.SeverityCritical, Status: domain.ExceptionResolved,
	}
	require.NoError(t, f.store.Workflow().CreateException(ctx, resolved))

	rep, err := f.reporter.Build(ctx, f.snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.CriticalFindingsOpen)
	assert.False(t, gateByName(t, rep, GateCriticalFindings).Passed)
	assert.Contains(t, rep.Evidence["critical_findings_open"],
		domain.EvidenceLink{EvidenceType: "exception", EvidenceID: open.ID})
}

func TestFailedInvariantRunBlocksLock(t *testing.T) {
	f := newFixture(t, 2*time.Hour)
	ctx := context.Background()

	// An allocation of 2000 against a 1000 invoice breaks conservation and
	// overmatch at once.
	inv := f.addInvoice(t, "1000", "EUR")
	txn := f.addTxn(t, "1000", 2, domain.ReconReconciled)
	require.NoError(t, f.store.Allocations().Insert(ctx, &domain.ReconciliationAllocation{
		SnapshotID:      f.snap.ID,
		TransactionID:   txn.ID,
		TargetKind:      domain.TargetInvoice,
		TargetID:        inv.ID,
		AllocatedAmount: dec("2000"),
		Tier:            domain.TierManual,
		Status:          domain.AllocationReconciled,
	}))

	run, err := invariants.NewEngine(f.store).Run(ctx, f.snap.ID)
	require.NoError(t, err)
	require.Equal(t, domain.InvariantRunFailed, run.Status)

	rep, err := f.reporter.Build(ctx, f.snap.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rep.CriticalFindingsOpen, 1)
	assert.False(t, gateByName(t, rep, GateCriticalFindings).Passed)
	assert.False(t, rep.LockEligible)
	assert.Contains(t, rep.Evidence["critical_findings_open"],
		domain.EvidenceLink{EvidenceType: "invariant_run", EvidenceID: run.ID})

	svc := workflow.NewService(f.store, f.reporter)
	cfo := domain.Actor{UserID: "cfo-1", Name: "CFO", Email: "cfo@example.com", Role: domain.RoleLockCapable, IP: "10.0.0.1"}
	require.NoError(t, svc.SubmitForReview(ctx, f.snap.ID, cfo))

	err = svc.Lock(ctx, f.snap.ID, cfo, "month close", nil)
	require.Error(t, err)
	assert.True(t, domain.IsPolicy(err))

	override := &workflow.Override{
		AcknowledgmentText: strings.Repeat("accepted risk ", 3),
		OverrideReason:     "board deadline",
	}
	require.NoError(t, svc.Lock(ctx, f.snap.ID, cfo, "month close", override))

	overrides, err := f.store.Audit().ListOverrides(ctx, f.snap.ID)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Contains(t, overrides[0].FailedGatesJSON, GateCriticalFindings)
}

func TestReconciliationAgeTracksOldestOpenTxn(t *testing.T) {
	f := newFixture(t, 2*time.Hour)
	f.addTxn(t, "500", 10, domain.ReconNone)
	oldest := f.addTxn(t, "300", 40, domain.ReconSuggested)
	f.addTxn(t, "200", 60, domain.ReconReconciled)

	rep, err := f.reporter.Build(context.Background(), f.snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, rep.ReconciliationAgeDays)
	assert.Equal(t, []domain.EvidenceLink{{EvidenceType: "bank_txn", EvidenceID: oldest.ID}},
		rep.Evidence["reconciliation_age_days"])
}

func TestDuplicateInsertRefusedByStore(t *testing.T) {
	f := newFixture(t, 2*time.Hour)
	ctx := context.Background()
	inv := f.addInvoice(t, "1000", "EUR")

	err := f.store.Documents().InsertInvoice(ctx, &domain.Invoice{
		SnapshotID: f.snap.ID, CanonicalID: inv.CanonicalID, Amount: dec("1000"), Currency: "EUR",
	})
	require.Error(t, err)
	assert.True(t, domain.IsState(err))

	rep, err := f.reporter.Build(ctx, f.snap.ID)
	require.NoError(t, err)
	assert.True(t, rep.DuplicateExposureBase.IsZero())
	assert.True(t, gateByName(t, rep, GateDuplicate).Passed)
}

func TestWorkflowLockConsultsGates(t *testing.T) {
	f := newFixture(t, 2*time.Hour)
	ctx := context.Background()
	f.addTxn(t, "1000", 2, domain.ReconNone) // unexplained inflow

	svc := workflow.NewService(f.store, f.reporter)
	cfo := domain.Actor{UserID: "cfo-1", Name: "CFO", Email: "cfo@example.com", Role: domain.RoleLockCapable, IP: "10.0.0.1"}

	require.NoError(t, svc.SubmitForReview(ctx, f.snap.ID, cfo))

	err := svc.Lock(ctx, f.snap.ID, cfo, "month close", nil)
	require.Error(t, err)
	assert.True(t, domain.IsPolicy(err))

	override := &workflow.Override{
		AcknowledgmentText: strings.Repeat("accepted risk ", 3),
		OverrideReason:     "board deadline",
	}
	require.NoError(t, svc.Lock(ctx, f.snap.ID, cfo, "month close", override))

	snap, err := f.store.Snapshots().Get(ctx, f.snap.ID)
	require.NoError(t, err)
	assert.True(t, snap.IsLocked())

	overrides, err := f.store.Audit().ListOverrides(ctx, f.snap.ID)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Contains(t, overrides[0].FailedGatesJSON, GateUnknownCash)
}
