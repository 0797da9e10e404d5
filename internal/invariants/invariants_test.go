package invariants

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/persistence/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func baseView() *snapshotView {
	return &snapshotView{
		snap: &domain.Snapshot{
			ID:                 "snap-1",
			BaseCurrency:       "EUR",
			OpeningBankBalance: dec("10000"),
		},
	}
}

func findingByName(t *testing.T, run *domain.InvariantRun, name string) domain.InvariantFinding {
	t.Helper()
	for _, f := range run.Findings {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("no finding named %s", name)
	return domain.InvariantFinding{}
}

func TestEmptySnapshotPassesOrSkips(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	entity := &domain.Entity{Name: "Test GmbH", BaseCurrency: "EUR"}
	require.NoError(t, store.Entities().Create(ctx, entity))
	snap := &domain.Snapshot{EntityID: entity.ID, BaseCurrency: "EUR"}
	require.NoError(t, store.Snapshots().Create(ctx, snap))

	run, err := NewEngine(store).Run(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvariantRunPassed, run.Status)
	assert.Zero(t, run.Failed)
	assert.Zero(t, run.Warned)
	for _, f := range run.Findings {
		assert.Contains(t, []domain.CheckStatus{domain.CheckPass, domain.CheckSkip}, f.Status, f.Name)
	}
}

func TestWeeklyCashMathChains(t *testing.T) {
	v := baseView()
	v.txns = []*domain.BankTransaction{
		{ID: "t1", TxnDate: day(2026, 1, 5), Amount: dec("1500")},
		{ID: "t2", TxnDate: day(2026, 1, 6), Amount: dec("-250.50")},
		{ID: "t3", TxnDate: day(2026, 1, 14), Amount: dec("2500")},
	}

	f := checkWeeklyCashMath(v)
	assert.Equal(t, domain.CheckPass, f.Status)
	assert.Contains(t, f.Proof, "2026-W02")
	assert.Contains(t, f.Proof, "2026-W03")
	assert.Contains(t, f.Details, "13749.50")
}

func TestDrilldownSumsConserve(t *testing.T) {
	v := baseView()
	v.invoices = []*domain.Invoice{
		{ID: "i1", CanonicalID: "c1", Counterparty: "A", Country: "DE", Currency: "EUR", Amount: dec("100")},
		{ID: "i2", CanonicalID: "c2", Counterparty: "B", Country: "FR", Currency: "EUR", Amount: dec("200.50")},
		{ID: "i3", CanonicalID: "c3", Counterparty: "A", Country: "DE", Currency: "USD", Amount: dec("-50")},
	}

	f := checkDrilldownSums(v)
	assert.Equal(t, domain.CheckPass, f.Status)
	assert.Contains(t, f.Details, "250.50")
}

func TestConservationDetectsShortfall(t *testing.T) {
	v := baseView()
	v.txns = []*domain.BankTransaction{{
		ID: "t1", Amount: dec("1000"), ReconStatus: domain.ReconReconciled,
	}}
	v.allocations = []*domain.ReconciliationAllocation{{
		ID: "a1", TransactionID: "t1", TargetKind: domain.TargetInvoice, TargetID: "i1",
		AllocatedAmount: dec("900"), Status: domain.AllocationReconciled,
	}}

	f := checkConservation(v)
	assert.Equal(t, domain.CheckFail, f.Status)
	assert.True(t, f.Exposure.Equal(dec("100")), "got %s", f.Exposure)
	require.Len(t, f.Evidence, 1)
	assert.Equal(t, "t1", f.Evidence[0].EvidenceID)
}

func TestConservationAcceptsFees(t *testing.T) {
	v := baseView()
	v.txns = []*domain.BankTransaction{{
		ID: "t1", Amount: dec("1000"), Fee: dec("5"), Writeoff: dec("10"),
		ReconStatus: domain.ReconReconciled,
	}}
	v.allocations = []*domain.ReconciliationAllocation{{
		ID: "a1", TransactionID: "t1", TargetKind: domain.TargetInvoice, TargetID: "i1",
		AllocatedAmount: dec("985"), Status: domain.AllocationReconciled,
	}}

	f := checkConservation(v)
	assert.Equal(t, domain.CheckPass, f.Status)
}

func TestOvermatchDetected(t *testing.T) {
	v := baseView()
	v.invoices = []*domain.Invoice{{ID: "i1", CanonicalID: "c1", DocumentNumber: "INV-1", Amount: dec("1000")}}
	v.allocations = []*domain.ReconciliationAllocation{
		{ID: "a1", TargetKind: domain.TargetInvoice, TargetID: "i1", AllocatedAmount: dec("600"), Status: domain.AllocationReconciled},
		{ID: "a2", TargetKind: domain.TargetInvoice, TargetID: "i1", AllocatedAmount: dec("500"), Status: domain.AllocationReconciled},
	}

	f := checkNoOvermatch(v)
	assert.Equal(t, domain.CheckFail, f.Status)
	assert.True(t, f.Exposure.Equal(dec("100")), "got %s", f.Exposure)
}

func TestOvermatchSlackAllowsRounding(t *testing.T) {
	v := baseView()
	v.invoices = []*domain.Invoice{{ID: "i1", CanonicalID: "c1", DocumentNumber: "INV-1", Amount: dec("1000")}}
	v.allocations = []*domain.ReconciliationAllocation{
		{ID: "a1", TargetKind: domain.TargetInvoice, TargetID: "i1", AllocatedAmount: dec("1000.50"), Status: domain.AllocationReconciled},
	}

	f := checkNoOvermatch(v)
	assert.Equal(t, domain.CheckPass, f.Status)
}

func TestNegativeAllocationFails(t *testing.T) {
	v := baseView()
	v.allocations = []*domain.ReconciliationAllocation{
		{ID: "a1", TargetKind: domain.TargetInvoice, TargetID: "i1", AllocatedAmount: dec("-10"), Status: domain.AllocationReconciled},
	}

	f := checkNoOvermatch(v)
	assert.Equal(t, domain.CheckFail, f.Status)
}

func TestMissingFXWarnsWithExposure(t *testing.T) {
	v := baseView()
	v.invoices = []*domain.Invoice{
		{ID: "i1", CanonicalID: "c1", Currency: "USD", Amount: dec("1000")},
	}

	f := checkFXSafety(v)
	assert.Equal(t, domain.CheckWarn, f.Status)
	assert.Equal(t, domain.SeverityError, f.Severity)
	assert.True(t, f.Exposure.GreaterThanOrEqual(dec("1000")), "got %s", f.Exposure)
}

func TestSuspiciousUnitRateFails(t *testing.T) {
	v := baseView()
	v.invoices = []*domain.Invoice{
		{ID: "i1", CanonicalID: "c1", Currency: "USD", Amount: dec("1000")},
	}
	v.rates = []*domain.FXRate{
		{ID: "r1", FromCcy: "USD", ToCcy: "EUR", Rate: dec("1.0")},
	}

	f := checkFXSafety(v)
	assert.Equal(t, domain.CheckFail, f.Status)
	assert.Equal(t, domain.SeverityCritical, f.Severity)
}

func TestSingleCurrencySkipsFX(t *testing.T) {
	v := baseView()
	v.invoices = []*domain.Invoice{
		{ID: "i1", CanonicalID: "c1", Currency: "EUR", Amount: dec("1000")},
	}

	f := checkFXSafety(v)
	assert.Equal(t, domain.CheckSkip, f.Status)
	assert.True(t, f.Exposure.IsZero())
}

func TestImmutabilityDetectsPostLockMutation(t *testing.T) {
	lockedAt := day(2026, 2, 1)
	v := baseView()
	v.snap.Status = domain.SnapshotLocked
	v.snap.LockedAt = &lockedAt
	v.snap.LockedBy = "cfo-1"
	v.audit = []*domain.AuditLog{
		{ID: "l1", Action: "Lock", CreatedAt: lockedAt},
		{ID: "l2", Action: "Update", ResourceType: "invoice", CreatedAt: lockedAt.Add(time.Hour)},
	}

	f := checkImmutability(v)
	assert.Equal(t, domain.CheckFail, f.Status)
	require.Len(t, f.Evidence, 1)
	assert.Equal(t, "l2", f.Evidence[0].EvidenceID)
}

func TestImmutabilityPassesOnCleanLock(t *testing.T) {
	lockedAt := day(2026, 2, 1)
	v := baseView()
	v.snap.Status = domain.SnapshotLocked
	v.snap.LockedAt = &lockedAt
	v.snap.LockedBy = "cfo-1"
	v.audit = []*domain.AuditLog{
		{ID: "l1", Action: "Update", CreatedAt: lockedAt.Add(-time.Hour)},
		{ID: "l2", Action: "Lock", CreatedAt: lockedAt},
	}

	f := checkImmutability(v)
	assert.Equal(t, domain.CheckPass, f.Status)
}

func TestIdempotencyDetectsDuplicates(t *testing.T) {
	v := baseView()
	v.invoices = []*domain.Invoice{
		{ID: "i1", CanonicalID: "dup", Amount: dec("100")},
		{ID: "i2", CanonicalID: "dup", Amount: dec("100")},
	}

	f := checkIdempotency(v)
	assert.Equal(t, domain.CheckFail, f.Status)
	assert.Len(t, f.Evidence, 2)
}

func TestRunAggregation(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	entity := &domain.Entity{Name: "Test GmbH", BaseCurrency: "EUR"}
	require.NoError(t, store.Entities().Create(ctx, entity))
	snap := &domain.Snapshot{EntityID: entity.ID, BaseCurrency: "EUR", OpeningBankBalance: dec("5000")}
	require.NoError(t, store.Snapshots().Create(ctx, snap))

	// One USD invoice without a rate: the run degrades to PARTIAL.
	require.NoError(t, store.Documents().InsertInvoice(ctx, &domain.Invoice{
		SnapshotID: snap.ID, CanonicalID: "c1", DocumentNumber: "INV-1",
		Currency: "USD", Amount: dec("1000"), DueDate: day(2026, 3, 1),
	}))

	run, err := NewEngine(store).Run(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvariantRunPartial, run.Status)
	assert.Equal(t, 1, run.Warned)

	fx := findingByName(t, run, "fx_safety")
	assert.Equal(t, domain.CheckWarn, fx.Status)
	assert.True(t, fx.Exposure.GreaterThanOrEqual(dec("1000")))
}

func TestRunPersistedAsLatest(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	entity := &domain.Entity{Name: "Test GmbH", BaseCurrency: "EUR"}
	require.NoError(t, store.Entities().Create(ctx, entity))
	snap := &domain.Snapshot{EntityID: entity.ID, BaseCurrency: "EUR", OpeningBankBalance: dec("5000")}
	require.NoError(t, store.Snapshots().Create(ctx, snap))

	// A reconciled transaction settling less than its amount fails
	// conservation, and the failed run must land in the results store.
	require.NoError(t, store.BankTxns().Insert(ctx, &domain.BankTransaction{
		SnapshotID: snap.ID, TxnDate: day(2026, 2, 2), Amount: dec("1000"),
		Currency: "EUR", ReconStatus: domain.ReconReconciled,
	}))

	run, err := NewEngine(store).Run(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvariantRunFailed, run.Status)
	assert.NotEmpty(t, run.ID)

	latest, err := store.Invariants().LatestRun(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, latest.ID)
	assert.Equal(t, domain.InvariantRunFailed, latest.Status)
	require.NotEmpty(t, latest.CriticalFailures())
	assert.Equal(t, "reconciliation_conservation", latest.CriticalFailures()[0].Name)
}
