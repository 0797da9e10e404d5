// Package persistence defines the repository interfaces over the canonical
// and lineage stores. Engines accept these interfaces; concrete
// implementations live in the postgres and memory subpackages.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/ledgerline/cashops/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store aggregates every repository. A Store implementation must make each
// check-then-write sequence atomic per snapshot so concurrent approvers
// resolve with one winner and one rejection.
type Store interface {
	Entities() EntityRepo
	Snapshots() SnapshotRepo
	Documents() DocumentRepo
	BankTxns() BankTxnRepo
	Allocations() AllocationRepo
	FX() FXRepo
	Policies() PolicyRepo
	Forecast() ForecastRepo
	Invariants() InvariantRepo
	Lineage() LineageRepo
	Workflow() WorkflowRepo
	Audit() AuditRepo
}

// EntityRepo persists legal/operating units.
type EntityRepo interface {
	Create(ctx context.Context, e *domain.Entity) error
	Get(ctx context.Context, id string) (*domain.Entity, error)
}

// SnapshotRepo persists snapshots and their lock metadata.
type SnapshotRepo interface {
	Create(ctx context.Context, s *domain.Snapshot) error
	Get(ctx context.Context, id string) (*domain.Snapshot, error)
	Update(ctx context.Context, s *domain.Snapshot) error
}

// DocumentRepo persists invoices and vendor bills. Inserts enforce the
// (snapshot_id, canonical_id) uniqueness guarantee and surface violations
// as StateErrors with code DUPLICATE_CANONICAL_ID.
type DocumentRepo interface {
	InsertInvoice(ctx context.Context, inv *domain.Invoice) error
	InsertBill(ctx context.Context, b *domain.VendorBill) error
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	GetBill(ctx context.Context, id string) (*domain.VendorBill, error)
	ListInvoices(ctx context.Context, snapshotID string) ([]*domain.Invoice, error)
	ListBills(ctx context.Context, snapshotID string) ([]*domain.VendorBill, error)
	UpdateInvoicePrediction(ctx context.Context, inv *domain.Invoice) error
	SetInvoiceTruthLabel(ctx context.Context, invoiceID, label string) error

	InsertOutflowTemplate(ctx context.Context, item *domain.OutflowTemplateItem) error
	ListOutflowTemplates(ctx context.Context, entityID string) ([]*domain.OutflowTemplateItem, error)
}

// BankTxnRepo persists bank transactions.
type BankTxnRepo interface {
	Insert(ctx context.Context, t *domain.BankTransaction) error
	Get(ctx context.Context, id string) (*domain.BankTransaction, error)
	List(ctx context.Context, snapshotID string) ([]*domain.BankTransaction, error)
	UpdateRecon(ctx context.Context, t *domain.BankTransaction) error
}

// AllocationRepo persists reconciliation allocations.
type AllocationRepo interface {
	Insert(ctx context.Context, a *domain.ReconciliationAllocation) error
	Get(ctx context.Context, id string) (*domain.ReconciliationAllocation, error)
	Update(ctx context.Context, a *domain.ReconciliationAllocation) error
	ListByTransaction(ctx context.Context, txnID string) ([]*domain.ReconciliationAllocation, error)
	ListByTarget(ctx context.Context, kind domain.TargetKind, targetID string) ([]*domain.ReconciliationAllocation, error)
	ListBySnapshot(ctx context.Context, snapshotID string) ([]*domain.ReconciliationAllocation, error)
}

// FXRepo persists per-snapshot FX rates. Rates are immutable once stored.
type FXRepo interface {
	Insert(ctx context.Context, r *domain.FXRate) error
	Find(ctx context.Context, snapshotID, from, to string) (*domain.FXRate, error)
	List(ctx context.Context, snapshotID string) ([]*domain.FXRate, error)
}

// PolicyRepo persists matching policies.
type PolicyRepo interface {
	Upsert(ctx context.Context, p *domain.MatchingPolicy) error
	// Find returns the policy for (entity, currency), falling back to the
	// entity-wide row (currency "") before ErrNotFound.
	Find(ctx context.Context, entityID, currency string) (*domain.MatchingPolicy, error)
	ListByEntity(ctx context.Context, entityID string) ([]*domain.MatchingPolicy, error)
}

// ForecastRepo persists segments and calibration records. Reruns replace a
// snapshot's rows wholesale.
type ForecastRepo interface {
	ReplaceSegments(ctx context.Context, snapshotID string, segs []*domain.Segment) error
	ListSegments(ctx context.Context, snapshotID string) ([]*domain.Segment, error)
	ReplaceCalibrations(ctx context.Context, snapshotID string, recs []*domain.CalibrationRecord) error
	ListCalibrations(ctx context.Context, snapshotID string) ([]*domain.CalibrationRecord, error)
}

// InvariantRepo is the invariant results store. Runs are append-only; the
// latest run per snapshot feeds the lock gates.
type InvariantRepo interface {
	SaveRun(ctx context.Context, r *domain.InvariantRun) error
	// LatestRun returns the most recent run for a snapshot, or ErrNotFound
	// when the snapshot has never been checked.
	LatestRun(ctx context.Context, snapshotID string) (*domain.InvariantRun, error)
}

// LineageRepo persists the data-lineage substrate: connections, sync runs,
// datasets, raw and canonical records, drift events.
type LineageRepo interface {
	CreateConnection(ctx context.Context, c *domain.LineageConnection) error
	GetConnection(ctx context.Context, id string) (*domain.LineageConnection, error)
	UpdateConnectionStatus(ctx context.Context, id string, status domain.ConnectionStatus) error

	CreateSyncRun(ctx context.Context, r *domain.SyncRun) error
	UpdateSyncRun(ctx context.Context, r *domain.SyncRun) error
	GetSyncRun(ctx context.Context, id string) (*domain.SyncRun, error)

	CreateDataset(ctx context.Context, d *domain.Dataset) error
	UpdateDataset(ctx context.Context, d *domain.Dataset) error
	GetDataset(ctx context.Context, id string) (*domain.Dataset, error)
	// LatestDataset returns the most recent dataset of a connection created
	// before the given time, or ErrNotFound.
	LatestDataset(ctx context.Context, connectionID string, before time.Time) (*domain.Dataset, error)

	InsertRawRecord(ctx context.Context, r *domain.RawRecord) error
	MarkRawProcessed(ctx context.Context, id string, processErr string) error

	// InsertCanonicalRecord enforces (dataset_id, canonical_id) uniqueness;
	// violations surface as DUPLICATE_CANONICAL_ID StateErrors.
	InsertCanonicalRecord(ctx context.Context, r *domain.CanonicalRecord) error
	ListCanonicalRecords(ctx context.Context, datasetID string) ([]*domain.CanonicalRecord, error)

	InsertDriftEvent(ctx context.Context, e *domain.SchemaDriftEvent) error
	ListDriftEvents(ctx context.Context, connectionID string) ([]*domain.SchemaDriftEvent, error)
}

// WorkflowRepo persists exceptions, scenarios, actions and comments.
type WorkflowRepo interface {
	CreateException(ctx context.Context, e *domain.Exception) error
	GetException(ctx context.Context, id string) (*domain.Exception, error)
	UpdateException(ctx context.Context, e *domain.Exception) error
	ListExceptions(ctx context.Context, snapshotID string) ([]*domain.Exception, error)

	CreateScenario(ctx context.Context, s *domain.Scenario) error
	GetScenario(ctx context.Context, id string) (*domain.Scenario, error)
	UpdateScenario(ctx context.Context, s *domain.Scenario) error

	CreateAction(ctx context.Context, a *domain.Action) error
	GetAction(ctx context.Context, id string) (*domain.Action, error)
	UpdateAction(ctx context.Context, a *domain.Action) error

	CreateComment(ctx context.Context, c *domain.Comment) error
	SoftDeleteComment(ctx context.Context, id string, at time.Time) error
	ListComments(ctx context.Context, parentType, parentID string) ([]*domain.Comment, error)
}

// AuditRepo is append-only.
type AuditRepo interface {
	Append(ctx context.Context, a *domain.AuditLog) error
	List(ctx context.Context, snapshotID string) ([]*domain.AuditLog, error)
	AppendOverride(ctx context.Context, o *domain.LockGateOverrideLog) error
	ListOverrides(ctx context.Context, snapshotID string) ([]*domain.LockGateOverrideLog, error)
}
