package workflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/persistence/memory"
)

var (
	cfo     = domain.Actor{UserID: "cfo-1", Email: "cfo@example.com", Role: domain.RoleLockCapable}
	analyst = domain.Actor{UserID: "analyst-1", Role: domain.RoleRegular}
)

type stubGates struct {
	failed []string
}

func (s *stubGates) FailedGates(ctx context.Context, snapshotID string) ([]string, error) {
	return s.failed, nil
}

type fixture struct {
	store   *memory.Store
	service *Service
	gates   *stubGates
	snap    *domain.Snapshot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	entity := &domain.Entity{Name: "Test GmbH", BaseCurrency: "EUR"}
	require.NoError(t, store.Entities().Create(ctx, entity))
	snap := &domain.Snapshot{EntityID: entity.ID, BaseCurrency: "EUR"}
	require.NoError(t, store.Snapshots().Create(ctx, snap))

	gates := &stubGates{}
	return &fixture{store: store, service: NewService(store, gates), gates: gates, snap: snap}
}

func (f *fixture) reload(t *testing.T) *domain.Snapshot {
	t.Helper()
	snap, err := f.store.Snapshots().Get(context.Background(), f.snap.ID)
	require.NoError(t, err)
	return snap
}

func TestSubmitForReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.SubmitForReview(ctx, f.snap.ID, analyst))
	assert.Equal(t, domain.SnapshotReadyForReview, f.reload(t).Status)
}

func TestCriticalExceptionBlocksReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exc := &domain.Exception{SnapshotID: f.snap.ID, Type: "missing_fx", Severity: domain.SeverityCritical}
	require.NoError(t, f.service.RaiseException(ctx, exc, analyst))

	err := f.service.SubmitForReview(ctx, f.snap.ID, analyst)
	require.Error(t, err)
	assert.True(t, domain.IsState(err))
	assert.Equal(t, domain.SnapshotDraft, f.reload(t).Status)

	// Resolving the critical exception unblocks submission.
	require.NoError(t, f.service.AssignException(ctx, exc.ID, "analyst-2", analyst))
	require.NoError(t, f.service.CloseException(ctx, exc.ID, domain.ExceptionResolved, "fx_added", "rate loaded", analyst))
	require.NoError(t, f.service.SubmitForReview(ctx, f.snap.ID, analyst))
}

func TestLockRequiresCapableRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.SubmitForReview(ctx, f.snap.ID, analyst))

	err := f.service.Lock(ctx, f.snap.ID, analyst, "month end", nil)
	require.Error(t, err)
	assert.True(t, domain.IsPolicy(err))

	require.NoError(t, f.service.Lock(ctx, f.snap.ID, cfo, "month end", nil))
	snap := f.reload(t)
	assert.Equal(t, domain.SnapshotLocked, snap.Status)
	assert.Equal(t, "cfo-1", snap.LockedBy)
	require.NotNil(t, snap.LockedAt)
	assert.Contains(t, snap.PoliciesJSON, "amount_tolerance")
}

func TestLockFromDraftRejected(t *testing.T) {
	f := newFixture(t)
	err := f.service.Lock(context.Background(), f.snap.ID, cfo, "too early", nil)
	require.Error(t, err)
	assert.True(t, domain.IsState(err))
}

func TestFailedGatesRequireOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.SubmitForReview(ctx, f.snap.ID, analyst))
	f.gates.failed = []string{"missing_fx_exposure", "data_freshness"}

	err := f.service.Lock(ctx, f.snap.ID, cfo, "month end", nil)
	require.Error(t, err)
	assert.True(t, domain.IsPolicy(err))
	assert.Equal(t, domain.SnapshotReadyForReview, f.reload(t).Status)

	// Short acknowledgment is rejected.
	err = f.service.Lock(ctx, f.snap.ID, cfo, "month end", &Override{
		AcknowledgmentText: "ok",
		OverrideReason:     "board deadline",
	})
	require.Error(t, err)
	assert.True(t, domain.IsInput(err))

	require.NoError(t, f.service.Lock(ctx, f.snap.ID, cfo, "month end", &Override{
		AcknowledgmentText: strings.Repeat("accepted risk ", 3),
		OverrideReason:     "board deadline",
	}))
	assert.Equal(t, domain.SnapshotLocked, f.reload(t).Status)

	overrides, err := f.store.Audit().ListOverrides(ctx, f.snap.ID)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, "cfo-1", overrides[0].UserID)
	assert.Contains(t, overrides[0].FailedGatesJSON, "missing_fx_exposure")
}

func TestLockedSnapshotRefusesAllMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.SubmitForReview(ctx, f.snap.ID, analyst))
	require.NoError(t, f.service.Lock(ctx, f.snap.ID, cfo, "month end", nil))

	err := f.service.RaiseException(ctx, &domain.Exception{SnapshotID: f.snap.ID, Type: "x"}, analyst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot modify locked snapshot")

	err = f.service.CreateScenario(ctx, &domain.Scenario{SnapshotID: f.snap.ID, Name: "plan B"}, analyst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot modify locked snapshot")

	err = f.service.AddComment(ctx, f.snap.ID, &domain.Comment{ParentType: "snapshot", ParentID: f.snap.ID, Body: "hi"}, analyst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot modify locked snapshot")

	err = f.service.Lock(ctx, f.snap.ID, cfo, "again", nil)
	require.Error(t, err)
	assert.True(t, domain.IsState(err))
}

func TestExceptionAssignmentStartsSLA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.service.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	exc := &domain.Exception{SnapshotID: f.snap.ID, Type: "duplicate", Severity: domain.SeverityWarning}
	require.NoError(t, f.service.RaiseException(ctx, exc, analyst))
	require.NoError(t, f.service.AssignException(ctx, exc.ID, "analyst-2", analyst))

	got, err := f.store.Workflow().GetException(ctx, exc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExceptionInReview, got.Status)
	assert.Equal(t, "analyst-2", got.Assignee)
	assert.Equal(t, "analyst-1", got.AssignedBy)
	require.NotNil(t, got.SLADue)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), *got.SLADue)
}

func TestCloseExceptionRequiresResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exc := &domain.Exception{SnapshotID: f.snap.ID, Type: "duplicate", Severity: domain.SeverityWarning}
	require.NoError(t, f.service.RaiseException(ctx, exc, analyst))
	require.NoError(t, f.service.AssignException(ctx, exc.ID, "analyst-2", analyst))

	err := f.service.CloseException(ctx, exc.ID, domain.ExceptionResolved, "", "", analyst)
	require.Error(t, err)
	assert.True(t, domain.IsInput(err))

	require.NoError(t, f.service.CloseException(ctx, exc.ID, domain.ExceptionWontFix, "accepted", "immaterial amount", analyst))
	got, err := f.store.Workflow().GetException(ctx, exc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExceptionWontFix, got.Status)
}

func TestScenarioApprovalRestrictedToCapableRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sc := &domain.Scenario{SnapshotID: f.snap.ID, Name: "aggressive collections"}
	require.NoError(t, f.service.CreateScenario(ctx, sc, analyst))
	require.NoError(t, f.service.ProposeScenario(ctx, sc.ID, analyst))

	err := f.service.DecideScenario(ctx, sc.ID, true, "", analyst)
	require.Error(t, err)
	assert.True(t, domain.IsPolicy(err))

	require.NoError(t, f.service.DecideScenario(ctx, sc.ID, true, "go", cfo))
	got, err := f.store.Workflow().GetScenario(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScenarioApproved, got.Status)
	assert.Equal(t, "cfo-1", got.DecidedBy)
}

func TestActionStateMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := &domain.Action{SnapshotID: f.snap.ID, Title: "chase overdue invoices", RequiresApproval: true}
	require.NoError(t, f.service.CreateAction(ctx, a, analyst))

	// Skipping states is illegal.
	err := f.service.TransitionAction(ctx, a.ID, domain.ActionDone, analyst)
	require.Error(t, err)
	assert.True(t, domain.IsState(err))

	require.NoError(t, f.service.TransitionAction(ctx, a.ID, domain.ActionPending, analyst))

	// Approval of an approval-requiring action needs the capable role.
	err = f.service.TransitionAction(ctx, a.ID, domain.ActionApproved, analyst)
	require.Error(t, err)
	assert.True(t, domain.IsPolicy(err))

	require.NoError(t, f.service.TransitionAction(ctx, a.ID, domain.ActionApproved, cfo))
	require.NoError(t, f.service.TransitionAction(ctx, a.ID, domain.ActionInProgress, analyst))
	require.NoError(t, f.service.TransitionAction(ctx, a.ID, domain.ActionDone, analyst))
}

func TestCommentSoftDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := &domain.Comment{ParentType: "snapshot", ParentID: f.snap.ID, Body: "looks off"}
	require.NoError(t, f.service.AddComment(ctx, f.snap.ID, c, analyst))
	require.NoError(t, f.service.DeleteComment(ctx, f.snap.ID, c.ID, analyst))

	comments, err := f.store.Workflow().ListComments(ctx, "snapshot", f.snap.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.NotNil(t, comments[0].DeletedAt)
}

func TestAuditTrailAppendsPerMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.SubmitForReview(ctx, f.snap.ID, analyst))
	require.NoError(t, f.service.Lock(ctx, f.snap.ID, cfo, "month end", nil))

	entries, err := f.store.Audit().List(ctx, f.snap.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Update", entries[0].Action)
	assert.Equal(t, "Lock", entries[1].Action)
	assert.Equal(t, "cfo-1", entries[1].ActorID)
}
