package postgres

import (
	"context"
	"time"

	"github.com/ledgerline/cashops/internal/domain"
)

type bankTxnRepo struct{ s *Store }

const txnColumns = `id, snapshot_id, canonical_id, bank_account_id, txn_date,
	value_date, amount, currency, reference, counterparty, fee, writeoff,
	recon_status, recon_type`

func (r *bankTxnRepo) Insert(ctx context.Context, t *domain.BankTransaction) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&t.ID)
	if t.ReconStatus == "" {
		t.ReconStatus = domain.ReconNone
	}
	if t.ReconType == "" {
		t.ReconType = domain.TierNone
	}
	_, err := r.s.db.NamedExecContext(ctx, `
		INSERT INTO bank_transactions (`+txnColumns+`)
		VALUES (:id, :snapshot_id, :canonical_id, :bank_account_id, :txn_date,
			:value_date, :amount, :currency, :reference, :counterparty, :fee, :writeoff,
			:recon_status, :recon_type)`, t)
	if err != nil {
		return mapInsertErr(err, domain.CodeDuplicateCanonical,
			"transaction with canonical_id %s already exists in snapshot", t.CanonicalID)
	}
	return nil
}

func (r *bankTxnRepo) Get(ctx context.Context, id string) (*domain.BankTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var t domain.BankTransaction
	err := r.s.db.GetContext(ctx, &t,
		`SELECT `+txnColumns+` FROM bank_transactions WHERE id = $1`, id)
	if err != nil {
		return nil, mapGetErr(err)
	}
	return &t, nil
}

func (r *bankTxnRepo) List(ctx context.Context, snapshotID string) ([]*domain.BankTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var out []*domain.BankTransaction
	err := r.s.db.SelectContext(ctx, &out,
		`SELECT `+txnColumns+` FROM bank_transactions WHERE snapshot_id = $1 ORDER BY txn_date, id`, snapshotID)
	if err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	return out, nil
}

func (r *bankTxnRepo) UpdateRecon(ctx context.Context, t *domain.BankTransaction) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	res, err := r.s.db.NamedExecContext(ctx, `
		UPDATE bank_transactions SET recon_status = :recon_status,
			recon_type = :recon_type, fee = :fee, writeoff = :writeoff
		WHERE id = :id`, t)
	if err != nil {
		return domain.NewInfraError("DB_UPDATE", err)
	}
	return requireRow(res)
}

type allocationRepo struct{ s *Store }

const allocColumns = `id, snapshot_id, transaction_id, target_kind, target_id,
	allocated_amount, tier, confidence, status, created_at, decided_at,
	decided_by, decide_note`

func (r *allocationRepo) Insert(ctx context.Context, a *domain.ReconciliationAllocation) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&a.ID)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.s.db.NamedExecContext(ctx, `
		INSERT INTO reconciliation_allocations (`+allocColumns+`)
		VALUES (:id, :snapshot_id, :transaction_id, :target_kind, :target_id,
			:allocated_amount, :tier, :confidence, :status, :created_at, :decided_at,
			:decided_by, :decide_note)`, a)
	if err != nil {
		return mapInsertErr(err, "ALLOCATION_EXISTS", "allocation %s already exists", a.ID)
	}
	return nil
}

func (r *allocationRepo) Get(ctx context.Context, id string) (*domain.ReconciliationAllocation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var a domain.ReconciliationAllocation
	err := r.s.db.GetContext(ctx, &a,
		`SELECT `+allocColumns+` FROM reconciliation_allocations WHERE id = $1`, id)
	if err != nil {
		return nil, mapGetErr(err)
	}
	return &a, nil
}

func (r *allocationRepo) Update(ctx context.Context, a *domain.ReconciliationAllocation) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	res, err := r.s.db.NamedExecContext(ctx, `
		UPDATE reconciliation_allocations SET allocated_amount = :allocated_amount,
			tier = :tier, confidence = :confidence, status = :status,
			decided_at = :decided_at, decided_by = :decided_by, decide_note = :decide_note
		WHERE id = :id`, a)
	if err != nil {
		return domain.NewInfraError("DB_UPDATE", err)
	}
	return requireRow(res)
}

func (r *allocationRepo) ListByTransaction(ctx context.Context, txnID string) ([]*domain.ReconciliationAllocation, error) {
	return r.list(ctx, `transaction_id = $1`, txnID)
}

func (r *allocationRepo) ListByTarget(ctx context.Context, kind domain.TargetKind, targetID string) ([]*domain.ReconciliationAllocation, error) {
	return r.list(ctx, `target_kind = $1 AND target_id = $2`, string(kind), targetID)
}

func (r *allocationRepo) ListBySnapshot(ctx context.Context, snapshotID string) ([]*domain.ReconciliationAllocation, error) {
	return r.list(ctx, `snapshot_id = $1`, snapshotID)
}

func (r *allocationRepo) list(ctx context.Context, where string, args ...interface{}) ([]*domain.ReconciliationAllocation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var out []*domain.ReconciliationAllocation
	err := r.s.db.SelectContext(ctx, &out,
		`SELECT `+allocColumns+` FROM reconciliation_allocations WHERE `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	return out, nil
}

type fxRepo struct{ s *Store }

func (r *fxRepo) Insert(ctx context.Context, rate *domain.FXRate) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&rate.ID)
	_, err := r.s.db.NamedExecContext(ctx, `
		INSERT INTO fx_rates (id, snapshot_id, from_ccy, to_ccy, rate)
		VALUES (:id, :snapshot_id, :from_ccy, :to_ccy, :rate)`, rate)
	if err != nil {
		return mapInsertErr(err, "FX_IMMUTABLE",
			"rate %s/%s already stored for snapshot", rate.FromCcy, rate.ToCcy)
	}
	return nil
}

func (r *fxRepo) Find(ctx context.Context, snapshotID, from, to string) (*domain.FXRate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var rate domain.FXRate
	err := r.s.db.GetContext(ctx, &rate, `
		SELECT id, snapshot_id, from_ccy, to_ccy, rate FROM fx_rates
		WHERE snapshot_id = $1 AND from_ccy = $2 AND to_ccy = $3`, snapshotID, from, to)
	if err != nil {
		return nil, mapGetErr(err)
	}
	return &rate, nil
}

func (r *fxRepo) List(ctx context.Context, snapshotID string) ([]*domain.FXRate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var out []*domain.FXRate
	err := r.s.db.SelectContext(ctx, &out, `
		SELECT id, snapshot_id, from_ccy, to_ccy, rate FROM fx_rates
		WHERE snapshot_id = $1 ORDER BY from_ccy, to_ccy`, snapshotID)
	if err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	return out, nil
}

type policyRepo struct{ s *Store }

const policyColumns = `id, entity_id, currency, amount_tolerance, date_window_days,
	tier2_min_confidence, tier3_min_confidence, auto_apply_tier1, auto_apply_tier2`

func (r *policyRepo) Upsert(ctx context.Context, p *domain.MatchingPolicy) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&p.ID)
	_, err := r.s.db.NamedExecContext(ctx, `
		INSERT INTO matching_policies (`+policyColumns+`)
		VALUES (:id, :entity_id, :currency, :amount_tolerance, :date_window_days,
			:tier2_min_confidence, :tier3_min_confidence, :auto_apply_tier1, :auto_apply_tier2)
		ON CONFLICT (entity_id, currency) DO UPDATE SET
			amount_tolerance = EXCLUDED.amount_tolerance,
			date_window_days = EXCLUDED.date_window_days,
			tier2_min_confidence = EXCLUDED.tier2_min_confidence,
			tier3_min_confidence = EXCLUDED.tier3_min_confidence,
			auto_apply_tier1 = EXCLUDED.auto_apply_tier1,
			auto_apply_tier2 = EXCLUDED.auto_apply_tier2`, p)
	if err != nil {
		return domain.NewInfraError("DB_INSERT", err)
	}
	return nil
}

// Find prefers the currency-specific row, then the entity-wide row with an
// empty currency.
func (r *policyRepo) Find(ctx context.Context, entityID, currency string) (*domain.MatchingPolicy, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var p domain.MatchingPolicy
	err := r.s.db.GetContext(ctx, &p, `
		SELECT `+policyColumns+` FROM matching_policies
		WHERE entity_id = $1 AND currency IN ($2, '')
		ORDER BY currency DESC LIMIT 1`, entityID, currency)
	if err != nil {
		return nil, mapGetErr(err)
	}
	return &p, nil
}

func (r *policyRepo) ListByEntity(ctx context.Context, entityID string) ([]*domain.MatchingPolicy, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var out []*domain.MatchingPolicy
	err := r.s.db.SelectContext(ctx, &out,
		`SELECT `+policyColumns+` FROM matching_policies WHERE entity_id = $1 ORDER BY currency`, entityID)
	if err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	return out, nil
}
