package postgres

import (
	"context"

	"github.com/ledgerline/cashops/internal/domain"
)

// schema is applied idempotently at startup. Uniqueness constraints back the
// idempotency guarantees the repos surface as DUPLICATE_CANONICAL_ID.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		base_currency TEXT NOT NULL,
		payment_run_day INT NOT NULL DEFAULT 0,
		internal_accounts JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL REFERENCES entities(id),
		status TEXT NOT NULL,
		opening_bank_balance NUMERIC(20,4) NOT NULL DEFAULT 0,
		min_cash_threshold NUMERIC(20,4) NOT NULL DEFAULT 0,
		base_currency TEXT NOT NULL,
		dataset_id TEXT NOT NULL DEFAULT '',
		locked_at TIMESTAMPTZ,
		locked_by TEXT NOT NULL DEFAULT '',
		lock_reason TEXT NOT NULL DEFAULT '',
		policies_json TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		canonical_id TEXT NOT NULL,
		document_number TEXT NOT NULL DEFAULT '',
		counterparty TEXT NOT NULL DEFAULT '',
		amount NUMERIC(20,4) NOT NULL,
		currency TEXT NOT NULL,
		issue_date TIMESTAMPTZ NOT NULL,
		due_date TIMESTAMPTZ NOT NULL,
		payment_date TIMESTAMPTZ,
		country TEXT NOT NULL DEFAULT '',
		project TEXT NOT NULL DEFAULT '',
		payment_term_days INT NOT NULL DEFAULT 0,
		predicted_payment_date TIMESTAMPTZ,
		confidence_p25_date TIMESTAMPTZ,
		confidence_p75_date TIMESTAMPTZ,
		segment_key TEXT NOT NULL DEFAULT '',
		truth_label TEXT NOT NULL DEFAULT '',
		UNIQUE (snapshot_id, canonical_id)
	)`,

	`CREATE TABLE IF NOT EXISTS vendor_bills (
		id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		canonical_id TEXT NOT NULL,
		document_number TEXT NOT NULL DEFAULT '',
		counterparty TEXT NOT NULL DEFAULT '',
		amount NUMERIC(20,4) NOT NULL,
		currency TEXT NOT NULL,
		issue_date TIMESTAMPTZ NOT NULL,
		due_date TIMESTAMPTZ NOT NULL,
		payment_date TIMESTAMPTZ,
		country TEXT NOT NULL DEFAULT '',
		project TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		payment_term_days INT NOT NULL DEFAULT 0,
		is_discretionary BOOLEAN NOT NULL DEFAULT FALSE,
		on_hold BOOLEAN NOT NULL DEFAULT FALSE,
		scheduled_payment_date TIMESTAMPTZ,
		approved_at TIMESTAMPTZ,
		UNIQUE (snapshot_id, canonical_id)
	)`,

	`CREATE TABLE IF NOT EXISTS bank_transactions (
		id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		canonical_id TEXT NOT NULL,
		bank_account_id TEXT NOT NULL DEFAULT '',
		txn_date TIMESTAMPTZ NOT NULL,
		value_date TIMESTAMPTZ NOT NULL,
		amount NUMERIC(20,4) NOT NULL,
		currency TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		counterparty TEXT NOT NULL DEFAULT '',
		fee NUMERIC(20,4) NOT NULL DEFAULT 0,
		writeoff NUMERIC(20,4) NOT NULL DEFAULT 0,
		recon_status TEXT NOT NULL,
		recon_type TEXT NOT NULL,
		UNIQUE (snapshot_id, canonical_id)
	)`,

	`CREATE TABLE IF NOT EXISTS reconciliation_allocations (
		id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		transaction_id TEXT NOT NULL REFERENCES bank_transactions(id),
		target_kind TEXT NOT NULL,
		target_id TEXT NOT NULL,
		allocated_amount NUMERIC(20,4) NOT NULL,
		tier TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		decided_at TIMESTAMPTZ,
		decided_by TEXT NOT NULL DEFAULT '',
		decide_note TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS fx_rates (
		id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		from_ccy TEXT NOT NULL,
		to_ccy TEXT NOT NULL,
		rate NUMERIC(20,8) NOT NULL,
		UNIQUE (snapshot_id, from_ccy, to_ccy)
	)`,

	`CREATE TABLE IF NOT EXISTS matching_policies (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL REFERENCES entities(id),
		currency TEXT NOT NULL DEFAULT '',
		amount_tolerance DOUBLE PRECISION NOT NULL,
		date_window_days INT NOT NULL,
		tier2_min_confidence DOUBLE PRECISION NOT NULL,
		tier3_min_confidence DOUBLE PRECISION NOT NULL,
		auto_apply_tier1 BOOLEAN NOT NULL,
		auto_apply_tier2 BOOLEAN NOT NULL,
		UNIQUE (entity_id, currency)
	)`,

	`CREATE TABLE IF NOT EXISTS forecast_segments (
		id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		key TEXT NOT NULL,
		level JSONB NOT NULL DEFAULT '[]',
		values_json JSONB NOT NULL DEFAULT '[]',
		count INT NOT NULL,
		p25 DOUBLE PRECISION NOT NULL,
		p50 DOUBLE PRECISION NOT NULL,
		p75 DOUBLE PRECISION NOT NULL,
		p90 DOUBLE PRECISION NOT NULL,
		mean DOUBLE PRECISION NOT NULL,
		std DOUBLE PRECISION NOT NULL,
		UNIQUE (snapshot_id, key)
	)`,

	`CREATE TABLE IF NOT EXISTS forecast_calibrations (
		id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		segment_key TEXT NOT NULL,
		coverage_25 DOUBLE PRECISION NOT NULL,
		coverage_50 DOUBLE PRECISION NOT NULL,
		coverage_75 DOUBLE PRECISION NOT NULL,
		coverage_90 DOUBLE PRECISION NOT NULL,
		calibration_error DOUBLE PRECISION NOT NULL,
		sample_size INT NOT NULL,
		UNIQUE (snapshot_id, segment_key)
	)`,

	`CREATE TABLE IF NOT EXISTS outflow_template_items (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL REFERENCES entities(id),
		category TEXT NOT NULL,
		amount NUMERIC(20,4) NOT NULL,
		currency TEXT NOT NULL,
		planned_date TIMESTAMPTZ NOT NULL,
		is_discretionary BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	`CREATE TABLE IF NOT EXISTS lineage_connections (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL REFERENCES entities(id),
		type TEXT NOT NULL,
		source_type TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		config JSONB NOT NULL DEFAULT '{}',
		secret_ref TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		connection_id TEXT NOT NULL REFERENCES lineage_connections(id),
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		rows_extracted INT NOT NULL DEFAULT 0,
		rows_normalized INT NOT NULL DEFAULT 0,
		rows_loaded INT NOT NULL DEFAULT 0,
		rows_skipped INT NOT NULL DEFAULT 0,
		rows_error INT NOT NULL DEFAULT 0,
		errors JSONB NOT NULL DEFAULT '[]',
		warnings JSONB NOT NULL DEFAULT '[]',
		triggered_by TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS datasets (
		id TEXT PRIMARY KEY,
		connection_id TEXT NOT NULL REFERENCES lineage_connections(id),
		sync_run_id TEXT NOT NULL DEFAULT '',
		source_type TEXT NOT NULL DEFAULT '',
		schema_fingerprint TEXT NOT NULL DEFAULT '',
		columns_json TEXT NOT NULL DEFAULT '',
		row_count INT NOT NULL DEFAULT 0,
		amount_total NUMERIC(20,4) NOT NULL DEFAULT 0,
		date_from TIMESTAMPTZ,
		date_to TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_datasets_connection_created
		ON datasets (connection_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS raw_records (
		id TEXT PRIMARY KEY,
		dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
		raw_hash TEXT NOT NULL,
		source_table TEXT NOT NULL DEFAULT '',
		source_row_id TEXT NOT NULL DEFAULT '',
		row_index INT NOT NULL DEFAULT 0,
		payload JSONB NOT NULL DEFAULT '{}',
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		process_error TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS canonical_records (
		id TEXT PRIMARY KEY,
		dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
		raw_record_id TEXT NOT NULL DEFAULT '',
		record_type TEXT NOT NULL,
		canonical_id TEXT NOT NULL,
		amount NUMERIC(20,4) NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT '',
		record_date TIMESTAMPTZ,
		due_date TIMESTAMPTZ,
		counterparty TEXT NOT NULL DEFAULT '',
		external_id TEXT NOT NULL DEFAULT '',
		payload JSONB NOT NULL DEFAULT '{}',
		UNIQUE (dataset_id, canonical_id)
	)`,

	`CREATE TABLE IF NOT EXISTS schema_drift_events (
		id TEXT PRIMARY KEY,
		connection_id TEXT NOT NULL REFERENCES lineage_connections(id),
		dataset_id TEXT NOT NULL,
		prev_dataset_id TEXT NOT NULL DEFAULT '',
		added_columns JSONB NOT NULL DEFAULT '[]',
		removed_columns JSONB NOT NULL DEFAULT '[]',
		type_changes JSONB NOT NULL DEFAULT '[]',
		severity TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS invariant_runs (
		id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		ran_at TIMESTAMPTZ NOT NULL,
		passed INT NOT NULL DEFAULT 0,
		failed INT NOT NULL DEFAULT 0,
		warned INT NOT NULL DEFAULT 0,
		skipped INT NOT NULL DEFAULT 0,
		findings_json JSONB NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invariant_runs_snapshot
		ON invariant_runs (snapshot_id, ran_at DESC)`,

	`CREATE TABLE IF NOT EXISTS exceptions (
		id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		amount TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		evidence JSONB NOT NULL DEFAULT '[]',
		assignee TEXT NOT NULL DEFAULT '',
		assigned_by TEXT NOT NULL DEFAULT '',
		sla_due TIMESTAMPTZ,
		resolution_type TEXT NOT NULL DEFAULT '',
		resolution_note TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS scenarios (
		id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		base_scenario_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		starting_cash TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		decided_by TEXT NOT NULL DEFAULT '',
		decided_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		decide_note TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS actions (
		id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
		owner TEXT NOT NULL DEFAULT '',
		due_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		parent_type TEXT NOT NULL,
		parent_id TEXT NOT NULL,
		author TEXT NOT NULL,
		body TEXT NOT NULL,
		reply_to TEXT NOT NULL DEFAULT '',
		evidence JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		actor_role TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL DEFAULT '',
		before_json TEXT NOT NULL DEFAULT '',
		after_json TEXT NOT NULL DEFAULT '',
		ip TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_snapshot
		ON audit_logs (snapshot_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS lock_gate_overrides (
		id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		ip TEXT NOT NULL DEFAULT '',
		failed_gates_json TEXT NOT NULL DEFAULT '',
		acknowledgment TEXT NOT NULL,
		reason TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates all tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return domain.NewInfraError("DB_MIGRATE", err)
		}
	}
	return nil
}
