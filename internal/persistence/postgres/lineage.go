package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ledgerline/cashops/internal/domain"
)

type lineageRepo struct{ s *Store }

func (r *lineageRepo) CreateConnection(ctx context.Context, c *domain.LineageConnection) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&c.ID)
	if c.Status == "" {
		c.Status = domain.ConnectionPendingSetup
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	cfg, err := json.Marshal(c.Config)
	if err != nil {
		return domain.NewInfraError("DB_ENCODE", err)
	}
	_, err = r.s.db.ExecContext(ctx, `
		INSERT INTO lineage_connections (id, entity_id, type, source_type, name,
			status, config, secret_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.EntityID, c.Type, c.SourceType, c.Name, c.Status, cfg, c.SecretRef, c.CreatedAt)
	if err != nil {
		return mapInsertErr(err, "CONNECTION_EXISTS", "connection %s already exists", c.ID)
	}
	return nil
}

func (r *lineageRepo) GetConnection(ctx context.Context, id string) (*domain.LineageConnection, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var (
		c   domain.LineageConnection
		cfg []byte
	)
	err := r.s.db.QueryRowxContext(ctx, `
		SELECT id, entity_id, type, source_type, name, status, config, secret_ref, created_at
		FROM lineage_connections WHERE id = $1`, id).
		Scan(&c.ID, &c.EntityID, &c.Type, &c.SourceType, &c.Name, &c.Status, &cfg, &c.SecretRef, &c.CreatedAt)
	if err != nil {
		return nil, mapGetErr(err)
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &c.Config); err != nil {
			return nil, domain.NewInfraError("DB_DECODE", err)
		}
	}
	return &c, nil
}

func (r *lineageRepo) UpdateConnectionStatus(ctx context.Context, id string, status domain.ConnectionStatus) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	res, err := r.s.db.ExecContext(ctx,
		`UPDATE lineage_connections SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return domain.NewInfraError("DB_UPDATE", err)
	}
	return requireRow(res)
}

func (r *lineageRepo) CreateSyncRun(ctx context.Context, run *domain.SyncRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&run.ID)
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	errs, warns, err := encodeRunDetails(run)
	if err != nil {
		return err
	}
	_, err = r.s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, connection_id, status, started_at, finished_at,
			rows_extracted, rows_normalized, rows_loaded, rows_skipped, rows_error,
			errors, warnings, triggered_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		run.ID, run.ConnectionID, run.Status, run.StartedAt, run.FinishedAt,
		run.RowsExtracted, run.RowsNormalized, run.RowsLoaded, run.RowsSkipped, run.RowsError,
		errs, warns, run.TriggeredBy)
	if err != nil {
		return mapInsertErr(err, "SYNC_RUN_EXISTS", "sync run %s already exists", run.ID)
	}
	return nil
}

func (r *lineageRepo) UpdateSyncRun(ctx context.Context, run *domain.SyncRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	errs, warns, err := encodeRunDetails(run)
	if err != nil {
		return err
	}
	res, err := r.s.db.ExecContext(ctx, `
		UPDATE sync_runs SET status = $2, finished_at = $3, rows_extracted = $4,
			rows_normalized = $5, rows_loaded = $6, rows_skipped = $7, rows_error = $8,
			errors = $9, warnings = $10
		WHERE id = $1`,
		run.ID, run.Status, run.FinishedAt, run.RowsExtracted, run.RowsNormalized,
		run.RowsLoaded, run.RowsSkipped, run.RowsError, errs, warns)
	if err != nil {
		return domain.NewInfraError("DB_UPDATE", err)
	}
	return requireRow(res)
}

func (r *lineageRepo) GetSyncRun(ctx context.Context, id string) (*domain.SyncRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var (
		run         domain.SyncRun
		errs, warns []byte
	)
	err := r.s.db.QueryRowxContext(ctx, `
		SELECT id, connection_id, status, started_at, finished_at, rows_extracted,
			rows_normalized, rows_loaded, rows_skipped, rows_error, errors, warnings, triggered_by
		FROM sync_runs WHERE id = $1`, id).
		Scan(&run.ID, &run.ConnectionID, &run.Status, &run.StartedAt, &run.FinishedAt,
			&run.RowsExtracted, &run.RowsNormalized, &run.RowsLoaded, &run.RowsSkipped,
			&run.RowsError, &errs, &warns, &run.TriggeredBy)
	if err != nil {
		return nil, mapGetErr(err)
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &run.Errors); err != nil {
			return nil, domain.NewInfraError("DB_DECODE", err)
		}
	}
	if len(warns) > 0 {
		if err := json.Unmarshal(warns, &run.Warnings); err != nil {
			return nil, domain.NewInfraError("DB_DECODE", err)
		}
	}
	return &run, nil
}

func encodeRunDetails(run *domain.SyncRun) ([]byte, []byte, error) {
	errs, err := json.Marshal(run.Errors)
	if err != nil {
		return nil, nil, domain.NewInfraError("DB_ENCODE", err)
	}
	warns, err := json.Marshal(run.Warnings)
	if err != nil {
		return nil, nil, domain.NewInfraError("DB_ENCODE", err)
	}
	return errs, warns, nil
}

const datasetColumns = `id, connection_id, sync_run_id, source_type, schema_fingerprint,
	columns_json, row_count, amount_total, date_from, date_to, created_at`

func (r *lineageRepo) CreateDataset(ctx context.Context, d *domain.Dataset) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&d.ID)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := r.s.db.NamedExecContext(ctx, `
		INSERT INTO datasets (`+datasetColumns+`)
		VALUES (:id, :connection_id, :sync_run_id, :source_type, :schema_fingerprint,
			:columns_json, :row_count, :amount_total, :date_from, :date_to, :created_at)`, d)
	if err != nil {
		return mapInsertErr(err, "DATASET_EXISTS", "dataset %s already exists", d.ID)
	}
	return nil
}

func (r *lineageRepo) UpdateDataset(ctx context.Context, d *domain.Dataset) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	res, err := r.s.db.NamedExecContext(ctx, `
		UPDATE datasets SET row_count = :row_count, amount_total = :amount_total,
			date_from = :date_from, date_to = :date_to
		WHERE id = :id`, d)
	if err != nil {
		return domain.NewInfraError("DB_UPDATE", err)
	}
	return requireRow(res)
}

func (r *lineageRepo) GetDataset(ctx context.Context, id string) (*domain.Dataset, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var d domain.Dataset
	err := r.s.db.GetContext(ctx, &d,
		`SELECT `+datasetColumns+` FROM datasets WHERE id = $1`, id)
	if err != nil {
		return nil, mapGetErr(err)
	}
	return &d, nil
}

func (r *lineageRepo) LatestDataset(ctx context.Context, connectionID string, before time.Time) (*domain.Dataset, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var d domain.Dataset
	err := r.s.db.GetContext(ctx, &d, `
		SELECT `+datasetColumns+` FROM datasets
		WHERE connection_id = $1 AND created_at < $2
		ORDER BY created_at DESC LIMIT 1`, connectionID, before)
	if err != nil {
		return nil, mapGetErr(err)
	}
	return &d, nil
}

func (r *lineageRepo) InsertRawRecord(ctx context.Context, rec *domain.RawRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&rec.ID)
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return domain.NewInfraError("DB_ENCODE", err)
	}
	_, err = r.s.db.ExecContext(ctx, `
		INSERT INTO raw_records (id, dataset_id, raw_hash, source_table, source_row_id,
			row_index, payload, processed, process_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.DatasetID, rec.RawHash, rec.SourceTable, rec.SourceRowID,
		rec.RowIndex, payload, rec.Processed, rec.ProcessError)
	if err != nil {
		return mapInsertErr(err, "RAW_RECORD_EXISTS", "raw record %s already exists", rec.ID)
	}
	return nil
}

func (r *lineageRepo) MarkRawProcessed(ctx context.Context, id string, processErr string) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	res, err := r.s.db.ExecContext(ctx,
		`UPDATE raw_records SET processed = TRUE, process_error = $2 WHERE id = $1`, id, processErr)
	if err != nil {
		return domain.NewInfraError("DB_UPDATE", err)
	}
	return requireRow(res)
}

func (r *lineageRepo) InsertCanonicalRecord(ctx context.Context, rec *domain.CanonicalRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&rec.ID)
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return domain.NewInfraError("DB_ENCODE", err)
	}
	_, err = r.s.db.ExecContext(ctx, `
		INSERT INTO canonical_records (id, dataset_id, raw_record_id, record_type,
			canonical_id, amount, currency, record_date, due_date, counterparty,
			external_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.DatasetID, rec.RawRecordID, rec.RecordType, rec.CanonicalID,
		rec.Amount, rec.Currency, rec.RecordDate, rec.DueDate, rec.Counterparty,
		rec.ExternalID, payload)
	if err != nil {
		return mapInsertErr(err, domain.CodeDuplicateCanonical,
			"canonical record %s already exists in dataset", rec.CanonicalID)
	}
	return nil
}

func (r *lineageRepo) ListCanonicalRecords(ctx context.Context, datasetID string) ([]*domain.CanonicalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	rows, err := r.s.db.QueryxContext(ctx, `
		SELECT id, dataset_id, raw_record_id, record_type, canonical_id, amount,
			currency, record_date, due_date, counterparty, external_id, payload
		FROM canonical_records WHERE dataset_id = $1 ORDER BY canonical_id`, datasetID)
	if err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	defer rows.Close()

	var out []*domain.CanonicalRecord
	for rows.Next() {
		var (
			rec     domain.CanonicalRecord
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &rec.DatasetID, &rec.RawRecordID, &rec.RecordType,
			&rec.CanonicalID, &rec.Amount, &rec.Currency, &rec.RecordDate, &rec.DueDate,
			&rec.Counterparty, &rec.ExternalID, &payload); err != nil {
			return nil, domain.NewInfraError("DB_SCAN", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &rec.Payload); err != nil {
				return nil, domain.NewInfraError("DB_DECODE", err)
			}
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	return out, nil
}

func (r *lineageRepo) InsertDriftEvent(ctx context.Context, e *domain.SchemaDriftEvent) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&e.ID)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	added, err := json.Marshal(e.AddedColumns)
	if err != nil {
		return domain.NewInfraError("DB_ENCODE", err)
	}
	removed, err := json.Marshal(e.RemovedColumns)
	if err != nil {
		return domain.NewInfraError("DB_ENCODE", err)
	}
	changes, err := json.Marshal(e.TypeChanges)
	if err != nil {
		return domain.NewInfraError("DB_ENCODE", err)
	}
	_, err = r.s.db.ExecContext(ctx, `
		INSERT INTO schema_drift_events (id, connection_id, dataset_id, prev_dataset_id,
			added_columns, removed_columns, type_changes, severity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.ConnectionID, e.DatasetID, e.PrevDataset, added, removed, changes,
		e.Severity, e.CreatedAt)
	if err != nil {
		return mapInsertErr(err, "DRIFT_EVENT_EXISTS", "drift event %s already exists", e.ID)
	}
	return nil
}

func (r *lineageRepo) ListDriftEvents(ctx context.Context, connectionID string) ([]*domain.SchemaDriftEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	rows, err := r.s.db.QueryxContext(ctx, `
		SELECT id, connection_id, dataset_id, prev_dataset_id, added_columns,
			removed_columns, type_changes, severity, created_at
		FROM schema_drift_events WHERE connection_id = $1 ORDER BY created_at, id`, connectionID)
	if err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	defer rows.Close()

	var out []*domain.SchemaDriftEvent
	for rows.Next() {
		var (
			e                       domain.SchemaDriftEvent
			added, removed, changes []byte
		)
		if err := rows.Scan(&e.ID, &e.ConnectionID, &e.DatasetID, &e.PrevDataset,
			&added, &removed, &changes, &e.Severity, &e.CreatedAt); err != nil {
			return nil, domain.NewInfraError("DB_SCAN", err)
		}
		if err := json.Unmarshal(added, &e.AddedColumns); err != nil {
			return nil, domain.NewInfraError("DB_DECODE", err)
		}
		if err := json.Unmarshal(removed, &e.RemovedColumns); err != nil {
			return nil, domain.NewInfraError("DB_DECODE", err)
		}
		if err := json.Unmarshal(changes, &e.TypeChanges); err != nil {
			return nil, domain.NewInfraError("DB_DECODE", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	return out, nil
}
