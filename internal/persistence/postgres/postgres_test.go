package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/persistence"
)

var _ persistence.Store = (*Store)(nil)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestDuplicateInvoiceMapsToStateError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO invoices").
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := store.Documents().InsertInvoice(context.Background(), &domain.Invoice{
		SnapshotID:  "snap-1",
		CanonicalID: "INV-001",
		Amount:      decimal.RequireFromString("100.00"),
		Currency:    "EUR",
	})
	require.Error(t, err)
	assert.True(t, domain.IsState(err))
	assert.Contains(t, err.Error(), domain.CodeDuplicateCanonical)
	assert.Contains(t, err.Error(), "INV-001")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDuplicateTransactionMapsToStateError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO bank_transactions").
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := store.BankTxns().Insert(context.Background(), &domain.BankTransaction{
		SnapshotID:  "snap-1",
		CanonicalID: "TXN-042",
		Amount:      decimal.RequireFromString("55.00"),
		Currency:    "EUR",
	})
	require.Error(t, err)
	assert.True(t, domain.IsState(err))
	assert.Contains(t, err.Error(), "TXN-042")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFXInsertConflictSurfacesImmutable(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO fx_rates").
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := store.FX().Insert(context.Background(), &domain.FXRate{
		SnapshotID: "snap-1",
		FromCcy:    "USD",
		ToCcy:      "EUR",
		Rate:       decimal.RequireFromString("0.91"),
	})
	require.Error(t, err)
	assert.True(t, domain.IsState(err))
	assert.Contains(t, err.Error(), "FX_IMMUTABLE")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInfraFailureIsNotStateError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO invoices").
		WillReturnError(errors.New("connection reset"))

	err := store.Documents().InsertInvoice(context.Background(), &domain.Invoice{
		SnapshotID: "snap-1", CanonicalID: "INV-002",
	})
	require.Error(t, err)
	assert.False(t, domain.IsState(err))
	assert.Equal(t, domain.ClassInfrastructure, domain.ClassOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPolicyFindPrefersCurrencySpecificRow(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{
		"id", "entity_id", "currency", "amount_tolerance", "date_window_days",
		"tier2_min_confidence", "tier3_min_confidence", "auto_apply_tier1", "auto_apply_tier2",
	}).AddRow("pol-1", "ent-1", "USD", 0.02, 10, 0.85, 0.65, true, false)

	mock.ExpectQuery("FROM matching_policies").
		WithArgs("ent-1", "USD").
		WillReturnRows(rows)

	p, err := store.Policies().Find(context.Background(), "ent-1", "USD")
	require.NoError(t, err)
	assert.Equal(t, "USD", p.Currency)
	assert.InDelta(t, 0.02, p.AmountTolerance, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPolicyFindFallsBackToEntityWideRow(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{
		"id", "entity_id", "currency", "amount_tolerance", "date_window_days",
		"tier2_min_confidence", "tier3_min_confidence", "auto_apply_tier1", "auto_apply_tier2",
	}).AddRow("pol-0", "ent-1", "", 0.01, 7, 0.80, 0.60, true, true)

	// The query itself carries the fallback: currency IN ($2, '') ordered so
	// the specific row wins when both exist.
	mock.ExpectQuery("FROM matching_policies").
		WithArgs("ent-1", "NOK").
		WillReturnRows(rows)

	p, err := store.Policies().Find(context.Background(), "ent-1", "NOK")
	require.NoError(t, err)
	assert.Equal(t, "", p.Currency)
	assert.Equal(t, 7, p.DateWindowDays)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPolicyFindNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM matching_policies").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Policies().Find(context.Background(), "ent-1", "JPY")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM snapshots").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Snapshots().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotUpdateMissingRowIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE snapshots").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Snapshots().Update(context.Background(), &domain.Snapshot{
		ID:     "missing",
		Status: domain.SnapshotDraft,
	})
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceSegmentsRunsInOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM forecast_segments").
		WithArgs("snap-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO forecast_segments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Forecast().ReplaceSegments(context.Background(), "snap-1", []*domain.Segment{
		{
			Key:    "country=DE",
			Level:  []string{"country"},
			Values: []string{"DE"},
			Count:  20, P25: -2, P50: 3, P75: 9, P90: 15, Mean: 4.1, Std: 6.3,
		},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceSegmentsRollsBackOnInsertFailure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM forecast_segments").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO forecast_segments").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.Forecast().ReplaceSegments(context.Background(), "snap-1", []*domain.Segment{
		{Key: "GLOBAL", Count: 40},
	})
	require.Error(t, err)
	assert.Equal(t, domain.ClassInfrastructure, domain.ClassOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestDatasetQueriesByConnectionAndTime(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "connection_id", "sync_run_id", "source_type", "schema_fingerprint",
		"columns_json", "row_count", "amount_total", "date_from", "date_to", "created_at",
	}).AddRow("ds-1", "conn-1", "run-1", "bank_csv", "fp-abc", "[]", 5, "1234.50", nil, nil, created)

	mock.ExpectQuery("FROM datasets").
		WithArgs("conn-1", created.Add(time.Hour)).
		WillReturnRows(rows)

	ds, err := store.Lineage().LatestDataset(context.Background(), "conn-1", created.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "ds-1", ds.ID)
	assert.Equal(t, 5, ds.RowCount)
	assert.True(t, ds.AmountTotal.Equal(decimal.RequireFromString("1234.50")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditAppendAssignsIDAndTimestamp(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &domain.AuditLog{
		SnapshotID:   "snap-1",
		ActorID:      "user-1",
		ActorRole:    domain.RoleRegular,
		Action:       "Create",
		ResourceType: "invoice",
	}
	require.NoError(t, store.Audit().Append(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDeleteCommentTwiceIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE comments").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Workflow().SoftDeleteComment(context.Background(), "c-1", time.Now().UTC())
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveInvariantRunAssignsID(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO invariant_runs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	run := &domain.InvariantRun{
		SnapshotID: "snap-1",
		Status:     domain.InvariantRunFailed,
		Failed:     1,
		Findings: []domain.InvariantFinding{{
			Name:     "reconciliation_conservation",
			Status:   domain.CheckFail,
			Severity: domain.SeverityCritical,
			Exposure: decimal.RequireFromString("100.00"),
		}},
	}
	require.NoError(t, store.Invariants().SaveRun(context.Background(), run))
	assert.NotEmpty(t, run.ID)
	assert.False(t, run.RanAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestInvariantRunNotFoundWhenNeverChecked(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM invariant_runs").
		WithArgs("snap-1").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Invariants().LatestRun(context.Background(), "snap-1")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
