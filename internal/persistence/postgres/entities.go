package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/cashops/internal/domain"
)

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

type entityRepo struct{ s *Store }

func (r *entityRepo) Create(ctx context.Context, e *domain.Entity) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&e.ID)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	accounts, err := json.Marshal(e.InternalAccounts)
	if err != nil {
		return domain.NewInfraError("DB_ENCODE", err)
	}
	_, err = r.s.db.ExecContext(ctx, `
		INSERT INTO entities (id, name, base_currency, payment_run_day, internal_accounts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Name, e.BaseCurrency, e.PaymentRunDay, accounts, e.CreatedAt)
	if err != nil {
		return mapInsertErr(err, "ENTITY_EXISTS", "entity %s already exists", e.ID)
	}
	return nil
}

func (r *entityRepo) Get(ctx context.Context, id string) (*domain.Entity, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var (
		e        domain.Entity
		accounts []byte
	)
	err := r.s.db.QueryRowxContext(ctx, `
		SELECT id, name, base_currency, payment_run_day, internal_accounts, created_at
		FROM entities WHERE id = $1`, id).
		Scan(&e.ID, &e.Name, &e.BaseCurrency, &e.PaymentRunDay, &accounts, &e.CreatedAt)
	if err != nil {
		return nil, mapGetErr(err)
	}
	if len(accounts) > 0 {
		if err := json.Unmarshal(accounts, &e.InternalAccounts); err != nil {
			return nil, domain.NewInfraError("DB_DECODE", err)
		}
	}
	return &e, nil
}

type snapshotRepo struct{ s *Store }

func (r *snapshotRepo) Create(ctx context.Context, snap *domain.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&snap.ID)
	if snap.Status == "" {
		snap.Status = domain.SnapshotDraft
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	_, err := r.s.db.NamedExecContext(ctx, `
		INSERT INTO snapshots (id, entity_id, status, opening_bank_balance, min_cash_threshold,
			base_currency, dataset_id, locked_at, locked_by, lock_reason, policies_json, created_at)
		VALUES (:id, :entity_id, :status, :opening_bank_balance, :min_cash_threshold,
			:base_currency, :dataset_id, :locked_at, :locked_by, :lock_reason, :policies_json, :created_at)`,
		snap)
	if err != nil {
		return mapInsertErr(err, "SNAPSHOT_EXISTS", "snapshot %s already exists", snap.ID)
	}
	return nil
}

func (r *snapshotRepo) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var snap domain.Snapshot
	err := r.s.db.GetContext(ctx, &snap, `
		SELECT id, entity_id, status, opening_bank_balance, min_cash_threshold,
			base_currency, dataset_id, locked_at, locked_by, lock_reason, policies_json, created_at
		FROM snapshots WHERE id = $1`, id)
	if err != nil {
		return nil, mapGetErr(err)
	}
	return &snap, nil
}

func (r *snapshotRepo) Update(ctx context.Context, snap *domain.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	res, err := r.s.db.NamedExecContext(ctx, `
		UPDATE snapshots SET status = :status, opening_bank_balance = :opening_bank_balance,
			min_cash_threshold = :min_cash_threshold, base_currency = :base_currency,
			dataset_id = :dataset_id, locked_at = :locked_at, locked_by = :locked_by,
			lock_reason = :lock_reason, policies_json = :policies_json
		WHERE id = :id`, snap)
	if err != nil {
		return domain.NewInfraError("DB_UPDATE", err)
	}
	return requireRow(res)
}
