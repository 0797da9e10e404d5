// Package memory provides the in-memory Store used by unit tests and the
// CLI's file-to-file demo mode. All operations are guarded by one mutex,
// which also gives the check-then-write atomicity the Store contract asks
// for.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/persistence"
)

// Store is the in-memory implementation of persistence.Store.
type Store struct {
	mu sync.Mutex

	entities    map[string]domain.Entity
	snapshots   map[string]domain.Snapshot
	invoices    map[string]domain.Invoice
	bills       map[string]domain.VendorBill
	templates   map[string]domain.OutflowTemplateItem
	txns        map[string]domain.BankTransaction
	allocations map[string]domain.ReconciliationAllocation
	fxRates     map[string]domain.FXRate
	policies    map[string]domain.MatchingPolicy

	segments     map[string][]domain.Segment
	calibrations map[string][]domain.CalibrationRecord

	invariantRuns []domain.InvariantRun

	connections map[string]domain.LineageConnection
	syncRuns    map[string]domain.SyncRun
	datasets    map[string]domain.Dataset
	rawRecords  map[string]domain.RawRecord
	canonical   map[string]domain.CanonicalRecord
	canonKeys   map[string]bool // dataset|canonical_id uniqueness
	docKeys     map[string]bool // snapshot|canonical_id uniqueness
	drift       map[string]domain.SchemaDriftEvent

	exceptions map[string]domain.Exception
	scenarios  map[string]domain.Scenario
	actions    map[string]domain.Action
	comments   map[string]domain.Comment

	auditLogs []domain.AuditLog
	overrides []domain.LockGateOverrideLog
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entities:     make(map[string]domain.Entity),
		snapshots:    make(map[string]domain.Snapshot),
		invoices:     make(map[string]domain.Invoice),
		bills:        make(map[string]domain.VendorBill),
		templates:    make(map[string]domain.OutflowTemplateItem),
		txns:         make(map[string]domain.BankTransaction),
		allocations:  make(map[string]domain.ReconciliationAllocation),
		fxRates:      make(map[string]domain.FXRate),
		policies:     make(map[string]domain.MatchingPolicy),
		segments:     make(map[string][]domain.Segment),
		calibrations: make(map[string][]domain.CalibrationRecord),
		connections:  make(map[string]domain.LineageConnection),
		syncRuns:     make(map[string]domain.SyncRun),
		datasets:     make(map[string]domain.Dataset),
		rawRecords:   make(map[string]domain.RawRecord),
		canonical:    make(map[string]domain.CanonicalRecord),
		canonKeys:    make(map[string]bool),
		docKeys:      make(map[string]bool),
		drift:        make(map[string]domain.SchemaDriftEvent),
		exceptions:   make(map[string]domain.Exception),
		scenarios:    make(map[string]domain.Scenario),
		actions:      make(map[string]domain.Action),
		comments:     make(map[string]domain.Comment),
	}
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// Interface plumbing. Repos whose method names collide on the store struct
// go through thin adapters.

func (s *Store) Entities() persistence.EntityRepo        { return s }
func (s *Store) Snapshots() persistence.SnapshotRepo     { return snapshotRepo{s} }
func (s *Store) Documents() persistence.DocumentRepo     { return s }
func (s *Store) BankTxns() persistence.BankTxnRepo       { return bankTxnRepo{s} }
func (s *Store) Allocations() persistence.AllocationRepo { return allocationRepo{s} }
func (s *Store) FX() persistence.FXRepo                  { return fxRepo{s} }
func (s *Store) Policies() persistence.PolicyRepo        { return s }
func (s *Store) Forecast() persistence.ForecastRepo      { return s }
func (s *Store) Invariants() persistence.InvariantRepo   { return s }
func (s *Store) Lineage() persistence.LineageRepo        { return s }
func (s *Store) Workflow() persistence.WorkflowRepo      { return s }
func (s *Store) Audit() persistence.AuditRepo            { return auditRepo{s} }

type snapshotRepo struct{ s *Store }

func (r snapshotRepo) Create(ctx context.Context, snap *domain.Snapshot) error {
	return r.s.CreateSnapshot(ctx, snap)
}
func (r snapshotRepo) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	return r.s.GetSnapshot(ctx, id)
}
func (r snapshotRepo) Update(ctx context.Context, snap *domain.Snapshot) error {
	return r.s.UpdateSnapshot(ctx, snap)
}

type bankTxnRepo struct{ s *Store }

func (r bankTxnRepo) Insert(ctx context.Context, t *domain.BankTransaction) error {
	return r.s.Insert(ctx, t)
}
func (r bankTxnRepo) Get(ctx context.Context, id string) (*domain.BankTransaction, error) {
	return r.s.GetTxn(ctx, id)
}
func (r bankTxnRepo) List(ctx context.Context, snapshotID string) ([]*domain.BankTransaction, error) {
	return r.s.List(ctx, snapshotID)
}
func (r bankTxnRepo) UpdateRecon(ctx context.Context, t *domain.BankTransaction) error {
	return r.s.UpdateRecon(ctx, t)
}

type allocationRepo struct{ s *Store }

func (r allocationRepo) Insert(ctx context.Context, a *domain.ReconciliationAllocation) error {
	return r.s.InsertAllocation(ctx, a)
}
func (r allocationRepo) Get(ctx context.Context, id string) (*domain.ReconciliationAllocation, error) {
	return r.s.GetAllocation(ctx, id)
}
func (r allocationRepo) Update(ctx context.Context, a *domain.ReconciliationAllocation) error {
	return r.s.UpdateAllocation(ctx, a)
}
func (r allocationRepo) ListByTransaction(ctx context.Context, txnID string) ([]*domain.ReconciliationAllocation, error) {
	return r.s.ListByTransaction(ctx, txnID)
}
func (r allocationRepo) ListByTarget(ctx context.Context, kind domain.TargetKind, targetID string) ([]*domain.ReconciliationAllocation, error) {
	return r.s.ListByTarget(ctx, kind, targetID)
}
func (r allocationRepo) ListBySnapshot(ctx context.Context, snapshotID string) ([]*domain.ReconciliationAllocation, error) {
	return r.s.ListBySnapshot(ctx, snapshotID)
}

type fxRepo struct{ s *Store }

func (r fxRepo) Insert(ctx context.Context, rate *domain.FXRate) error {
	return r.s.InsertFX(ctx, rate)
}
func (r fxRepo) Find(ctx context.Context, snapshotID, from, to string) (*domain.FXRate, error) {
	return r.s.FindFX(ctx, snapshotID, from, to)
}
func (r fxRepo) List(ctx context.Context, snapshotID string) ([]*domain.FXRate, error) {
	return r.s.ListFX(ctx, snapshotID)
}

type auditRepo struct{ s *Store }

func (r auditRepo) Append(ctx context.Context, a *domain.AuditLog) error {
	return r.s.Append(ctx, a)
}
func (r auditRepo) List(ctx context.Context, snapshotID string) ([]*domain.AuditLog, error) {
	return r.s.ListAudit(ctx, snapshotID)
}
func (r auditRepo) AppendOverride(ctx context.Context, o *domain.LockGateOverrideLog) error {
	return r.s.AppendOverride(ctx, o)
}
func (r auditRepo) ListOverrides(ctx context.Context, snapshotID string) ([]*domain.LockGateOverrideLog, error) {
	return r.s.ListOverrides(ctx, snapshotID)
}

// --- entities ---

func (s *Store) Create(ctx context.Context, e *domain.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&e.ID)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.entities[e.ID] = *e
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &e, nil
}

// --- snapshots ---

func (s *Store) CreateSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&snap.ID)
	if snap.Status == "" {
		snap.Status = domain.SnapshotDraft
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	s.snapshots[snap.ID] = *snap
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &snap, nil
}

func (s *Store) UpdateSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[snap.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.snapshots[snap.ID] = *snap
	return nil
}

// --- documents ---

func (s *Store) InsertInvoice(ctx context.Context, inv *domain.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := inv.SnapshotID + "|" + inv.CanonicalID
	if s.docKeys[key] {
		return domain.NewStateError(domain.CodeDuplicateCanonical,
			"invoice with canonical_id %s already exists in snapshot", inv.CanonicalID)
	}
	ensureID(&inv.ID)
	s.docKeys[key] = true
	s.invoices[inv.ID] = *inv
	return nil
}

func (s *Store) InsertBill(ctx context.Context, b *domain.VendorBill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := b.SnapshotID + "|" + b.CanonicalID
	if s.docKeys[key] {
		return domain.NewStateError(domain.CodeDuplicateCanonical,
			"bill with canonical_id %s already exists in snapshot", b.CanonicalID)
	}
	ensureID(&b.ID)
	s.docKeys[key] = true
	s.bills[b.ID] = *b
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &inv, nil
}

func (s *Store) GetBill(ctx context.Context, id string) (*domain.VendorBill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &b, nil
}

func (s *Store) ListInvoices(ctx context.Context, snapshotID string) ([]*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Invoice
	for _, inv := range s.invoices {
		if inv.SnapshotID == snapshotID {
			cp := inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentNumber < out[j].DocumentNumber })
	return out, nil
}

func (s *Store) ListBills(ctx context.Context, snapshotID string) ([]*domain.VendorBill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.VendorBill
	for _, b := range s.bills {
		if b.SnapshotID == snapshotID {
			cp := b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentNumber < out[j].DocumentNumber })
	return out, nil
}

func (s *Store) UpdateInvoicePrediction(ctx context.Context, inv *domain.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.invoices[inv.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	cur.PredictedPaymentDate = inv.PredictedPaymentDate
	cur.ConfidenceP25Date = inv.ConfidenceP25Date
	cur.ConfidenceP75Date = inv.ConfidenceP75Date
	cur.SegmentKey = inv.SegmentKey
	s.invoices[inv.ID] = cur
	return nil
}

func (s *Store) SetInvoiceTruthLabel(ctx context.Context, invoiceID, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.invoices[invoiceID]
	if !ok {
		return persistence.ErrNotFound
	}
	cur.TruthLabel = label
	s.invoices[invoiceID] = cur
	return nil
}

func (s *Store) InsertOutflowTemplate(ctx context.Context, item *domain.OutflowTemplateItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&item.ID)
	s.templates[item.ID] = *item
	return nil
}

func (s *Store) ListOutflowTemplates(ctx context.Context, entityID string) ([]*domain.OutflowTemplateItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.OutflowTemplateItem
	for _, item := range s.templates {
		if item.EntityID == entityID {
			cp := item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlannedDate.Equal(out[j].PlannedDate) {
			return out[i].Category < out[j].Category
		}
		return out[i].PlannedDate.Before(out[j].PlannedDate)
	})
	return out, nil
}

// --- bank transactions ---

func (s *Store) Insert(ctx context.Context, t *domain.BankTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CanonicalID != "" {
		key := "txn|" + t.SnapshotID + "|" + t.CanonicalID
		if s.docKeys[key] {
			return domain.NewStateError(domain.CodeDuplicateCanonical,
				"transaction with canonical_id %s already exists in snapshot", t.CanonicalID)
		}
		s.docKeys[key] = true
	}
	ensureID(&t.ID)
	if t.ReconStatus == "" {
		t.ReconStatus = domain.ReconNone
	}
	if t.ReconType == "" {
		t.ReconType = domain.TierNone
	}
	s.txns[t.ID] = *t
	return nil
}

func (s *Store) GetTxn(ctx context.Context, id string) (*domain.BankTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &t, nil
}

func (s *Store) List(ctx context.Context, snapshotID string) ([]*domain.BankTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.BankTransaction
	for _, t := range s.txns {
		if t.SnapshotID == snapshotID {
			cp := t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TxnDate.Equal(out[j].TxnDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].TxnDate.Before(out[j].TxnDate)
	})
	return out, nil
}

func (s *Store) UpdateRecon(ctx context.Context, t *domain.BankTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.txns[t.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	cur.ReconStatus = t.ReconStatus
	cur.ReconType = t.ReconType
	cur.Fee = t.Fee
	cur.Writeoff = t.Writeoff
	s.txns[t.ID] = cur
	return nil
}

// --- allocations ---

func (s *Store) InsertAllocation(ctx context.Context, a *domain.ReconciliationAllocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&a.ID)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.allocations[a.ID] = *a
	return nil
}

func (s *Store) GetAllocation(ctx context.Context, id string) (*domain.ReconciliationAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.allocations[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &a, nil
}

func (s *Store) UpdateAllocation(ctx context.Context, a *domain.ReconciliationAllocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.allocations[a.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.allocations[a.ID] = *a
	return nil
}

func (s *Store) allocationsWhere(pred func(domain.ReconciliationAllocation) bool) []*domain.ReconciliationAllocation {
	var out []*domain.ReconciliationAllocation
	for _, a := range s.allocations {
		if pred(a) {
			cp := a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) ListByTransaction(ctx context.Context, txnID string) ([]*domain.ReconciliationAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocationsWhere(func(a domain.ReconciliationAllocation) bool {
		return a.TransactionID == txnID
	}), nil
}

func (s *Store) ListByTarget(ctx context.Context, kind domain.TargetKind, targetID string) ([]*domain.ReconciliationAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocationsWhere(func(a domain.ReconciliationAllocation) bool {
		return a.TargetKind == kind && a.TargetID == targetID
	}), nil
}

func (s *Store) ListBySnapshot(ctx context.Context, snapshotID string) ([]*domain.ReconciliationAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocationsWhere(func(a domain.ReconciliationAllocation) bool {
		return a.SnapshotID == snapshotID
	}), nil
}

// --- fx rates ---

func (s *Store) InsertFX(ctx context.Context, r *domain.FXRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := r.SnapshotID + "|" + r.FromCcy + "|" + r.ToCcy
	for _, existing := range s.fxRates {
		if existing.SnapshotID == r.SnapshotID && existing.FromCcy == r.FromCcy && existing.ToCcy == r.ToCcy {
			return domain.NewStateError("FX_IMMUTABLE", "rate %s already stored for snapshot", key)
		}
	}
	ensureID(&r.ID)
	s.fxRates[r.ID] = *r
	return nil
}

func (s *Store) FindFX(ctx context.Context, snapshotID, from, to string) (*domain.FXRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.fxRates {
		if r.SnapshotID == snapshotID && r.FromCcy == from && r.ToCcy == to {
			cp := r
			return &cp, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (s *Store) ListFX(ctx context.Context, snapshotID string) ([]*domain.FXRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.FXRate
	for _, r := range s.fxRates {
		if r.SnapshotID == snapshotID {
			cp := r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FromCcy+out[i].ToCcy < out[j].FromCcy+out[j].ToCcy
	})
	return out, nil
}

// --- policies ---

func (s *Store) Upsert(ctx context.Context, p *domain.MatchingPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&p.ID)
	s.policies[p.EntityID+"|"+p.Currency] = *p
	return nil
}

func (s *Store) Find(ctx context.Context, entityID, currency string) (*domain.MatchingPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.policies[entityID+"|"+currency]; ok {
		return &p, nil
	}
	if p, ok := s.policies[entityID+"|"]; ok {
		return &p, nil
	}
	return nil, persistence.ErrNotFound
}

func (s *Store) ListByEntity(ctx context.Context, entityID string) ([]*domain.MatchingPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.MatchingPolicy
	for _, p := range s.policies {
		if p.EntityID == entityID {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

// --- forecast ---

func (s *Store) ReplaceSegments(ctx context.Context, snapshotID string, segs []*domain.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]domain.Segment, 0, len(segs))
	for _, seg := range segs {
		ensureID(&seg.ID)
		rows = append(rows, *seg)
	}
	s.segments[snapshotID] = rows
	return nil
}

func (s *Store) ListSegments(ctx context.Context, snapshotID string) ([]*domain.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.segments[snapshotID]
	out := make([]*domain.Segment, len(rows))
	for i := range rows {
		cp := rows[i]
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) ReplaceCalibrations(ctx context.Context, snapshotID string, recs []*domain.CalibrationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]domain.CalibrationRecord, 0, len(recs))
	for _, r := range recs {
		ensureID(&r.ID)
		rows = append(rows, *r)
	}
	s.calibrations[snapshotID] = rows
	return nil
}

func (s *Store) ListCalibrations(ctx context.Context, snapshotID string) ([]*domain.CalibrationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.calibrations[snapshotID]
	out := make([]*domain.CalibrationRecord, len(rows))
	for i := range rows {
		cp := rows[i]
		out[i] = &cp
	}
	return out, nil
}

// --- invariant runs ---

func (s *Store) SaveRun(ctx context.Context, r *domain.InvariantRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&r.ID)
	if r.RanAt.IsZero() {
		r.RanAt = time.Now().UTC()
	}
	s.invariantRuns = append(s.invariantRuns, *r)
	return nil
}

func (s *Store) LatestRun(ctx context.Context, snapshotID string) (*domain.InvariantRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.InvariantRun
	for i := range s.invariantRuns {
		r := s.invariantRuns[i]
		if r.SnapshotID != snapshotID {
			continue
		}
		if best == nil || r.RanAt.After(best.RanAt) {
			cp := r
			best = &cp
		}
	}
	if best == nil {
		return nil, persistence.ErrNotFound
	}
	return best, nil
}

// --- lineage ---

func (s *Store) CreateConnection(ctx context.Context, c *domain.LineageConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&c.ID)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = domain.ConnectionPendingSetup
	}
	s.connections[c.ID] = *c
	return nil
}

func (s *Store) GetConnection(ctx context.Context, id string) (*domain.LineageConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &c, nil
}

func (s *Store) UpdateConnectionStatus(ctx context.Context, id string, status domain.ConnectionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return persistence.ErrNotFound
	}
	c.Status = status
	s.connections[id] = c
	return nil
}

func (s *Store) CreateSyncRun(ctx context.Context, r *domain.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&r.ID)
	s.syncRuns[r.ID] = *r
	return nil
}

func (s *Store) UpdateSyncRun(ctx context.Context, r *domain.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.syncRuns[r.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.syncRuns[r.ID] = *r
	return nil
}

func (s *Store) GetSyncRun(ctx context.Context, id string) (*domain.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.syncRuns[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &r, nil
}

func (s *Store) CreateDataset(ctx context.Context, d *domain.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&d.ID)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	s.datasets[d.ID] = *d
	return nil
}

func (s *Store) UpdateDataset(ctx context.Context, d *domain.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[d.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.datasets[d.ID] = *d
	return nil
}

func (s *Store) GetDataset(ctx context.Context, id string) (*domain.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.datasets[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &d, nil
}

func (s *Store) LatestDataset(ctx context.Context, connectionID string, before time.Time) (*domain.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.Dataset
	for _, d := range s.datasets {
		if d.ConnectionID != connectionID || !d.CreatedAt.Before(before) {
			continue
		}
		if best == nil || d.CreatedAt.After(best.CreatedAt) {
			cp := d
			best = &cp
		}
	}
	if best == nil {
		return nil, persistence.ErrNotFound
	}
	return best, nil
}

func (s *Store) InsertRawRecord(ctx context.Context, r *domain.RawRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&r.ID)
	s.rawRecords[r.ID] = *r
	return nil
}

func (s *Store) MarkRawProcessed(ctx context.Context, id string, processErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rawRecords[id]
	if !ok {
		return persistence.ErrNotFound
	}
	r.Processed = true
	r.ProcessError = processErr
	s.rawRecords[id] = r
	return nil
}

func (s *Store) InsertCanonicalRecord(ctx context.Context, r *domain.CanonicalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := r.DatasetID + "|" + r.CanonicalID
	if s.canonKeys[key] {
		return domain.NewStateError(domain.CodeDuplicateCanonical,
			"canonical_id %s already exists in dataset", r.CanonicalID)
	}
	ensureID(&r.ID)
	s.canonKeys[key] = true
	s.canonical[r.ID] = *r
	return nil
}

func (s *Store) ListCanonicalRecords(ctx context.Context, datasetID string) ([]*domain.CanonicalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.CanonicalRecord
	for _, r := range s.canonical {
		if r.DatasetID == datasetID {
			cp := r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalID < out[j].CanonicalID })
	return out, nil
}

func (s *Store) InsertDriftEvent(ctx context.Context, e *domain.SchemaDriftEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&e.ID)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.drift[e.ID] = *e
	return nil
}

func (s *Store) ListDriftEvents(ctx context.Context, connectionID string) ([]*domain.SchemaDriftEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.SchemaDriftEvent
	for _, e := range s.drift {
		if e.ConnectionID == connectionID {
			cp := e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- workflow ---

func (s *Store) CreateException(ctx context.Context, e *domain.Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&e.ID)
	if e.Status == "" {
		e.Status = domain.ExceptionOpen
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.exceptions[e.ID] = *e
	return nil
}

func (s *Store) GetException(ctx context.Context, id string) (*domain.Exception, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exceptions[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &e, nil
}

func (s *Store) UpdateException(ctx context.Context, e *domain.Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exceptions[e.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.exceptions[e.ID] = *e
	return nil
}

func (s *Store) ListExceptions(ctx context.Context, snapshotID string) ([]*domain.Exception, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Exception
	for _, e := range s.exceptions {
		if e.SnapshotID == snapshotID {
			cp := e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateScenario(ctx context.Context, sc *domain.Scenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&sc.ID)
	if sc.Status == "" {
		sc.Status = domain.ScenarioDraft
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	s.scenarios[sc.ID] = *sc
	return nil
}

func (s *Store) GetScenario(ctx context.Context, id string) (*domain.Scenario, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scenarios[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &sc, nil
}

func (s *Store) UpdateScenario(ctx context.Context, sc *domain.Scenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scenarios[sc.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.scenarios[sc.ID] = *sc
	return nil
}

func (s *Store) CreateAction(ctx context.Context, a *domain.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&a.ID)
	if a.Status == "" {
		a.Status = domain.ActionDraft
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.actions[a.ID] = *a
	return nil
}

func (s *Store) GetAction(ctx context.Context, id string) (*domain.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &a, nil
}

func (s *Store) UpdateAction(ctx context.Context, a *domain.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[a.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.actions[a.ID] = *a
	return nil
}

func (s *Store) CreateComment(ctx context.Context, c *domain.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&c.ID)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.comments[c.ID] = *c
	return nil
}

func (s *Store) SoftDeleteComment(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	if !ok {
		return persistence.ErrNotFound
	}
	c.DeletedAt = &at
	s.comments[id] = c
	return nil
}

func (s *Store) ListComments(ctx context.Context, parentType, parentID string) ([]*domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Comment
	for _, c := range s.comments {
		if c.ParentType == parentType && c.ParentID == parentID {
			cp := c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- audit ---

func (s *Store) Append(ctx context.Context, a *domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&a.ID)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, *a)
	return nil
}

func (s *Store) ListAudit(ctx context.Context, snapshotID string) ([]*domain.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AuditLog
	for i := range s.auditLogs {
		if s.auditLogs[i].SnapshotID == snapshotID {
			cp := s.auditLogs[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) AppendOverride(ctx context.Context, o *domain.LockGateOverrideLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ensureID(&o.ID)
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	s.overrides = append(s.overrides, *o)
	return nil
}

func (s *Store) ListOverrides(ctx context.Context, snapshotID string) ([]*domain.LockGateOverrideLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.LockGateOverrideLog
	for i := range s.overrides {
		if s.overrides[i].SnapshotID == snapshotID {
			cp := s.overrides[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}
