package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConnectionStatus is the lifecycle state of an external-source connection.
type ConnectionStatus string

const (
	ConnectionActive       ConnectionStatus = "ACTIVE"
	ConnectionInactive     ConnectionStatus = "INACTIVE"
	ConnectionError        ConnectionStatus = "ERROR"
	ConnectionPendingSetup ConnectionStatus = "PENDING_SETUP"
)

// LineageConnection is the configuration of one external source. Secrets
// are referenced by opaque handle, never stored raw.
type LineageConnection struct {
	ID         string           `db:"id"`
	EntityID   string           `db:"entity_id"`
	Type       string           `db:"type"`        // connector type tag
	SourceType string           `db:"source_type"` // bank_csv, erp_excel, warehouse_sql, ...
	Name       string           `db:"name"`
	Status     ConnectionStatus `db:"status"`

	// Config is opaque pass-through for downstream logging; typed connector
	// configs are decoded per variant.
	Config    map[string]string `db:"-"`
	SecretRef string            `db:"secret_ref"`

	CreatedAt time.Time `db:"created_at"`
}

// SyncStatus is the lifecycle state of one extract cycle.
type SyncStatus string

const (
	SyncPending   SyncStatus = "PENDING"
	SyncRunning   SyncStatus = "RUNNING"
	SyncSuccess   SyncStatus = "SUCCESS"
	SyncPartial   SyncStatus = "PARTIAL"
	SyncFailed    SyncStatus = "FAILED"
	SyncCancelled SyncStatus = "CANCELLED"
)

// SyncError records one row-level failure inside a sync run.
type SyncError struct {
	RowIndex    int    `json:"row_idx"`
	Type        string `json:"type"`
	Message     string `json:"message"`
	SourceRowID string `json:"source_row_id,omitempty"`
}

// SyncRun is the audit record of one extract cycle for a connection.
type SyncRun struct {
	ID           string     `db:"id"`
	ConnectionID string     `db:"connection_id"`
	Status       SyncStatus `db:"status"`

	StartedAt  time.Time  `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`

	RowsExtracted  int `db:"rows_extracted"`
	RowsNormalized int `db:"rows_normalized"`
	RowsLoaded     int `db:"rows_loaded"`
	RowsSkipped    int `db:"rows_skipped"`
	RowsError      int `db:"rows_error"`

	Errors   []SyncError `db:"-"`
	Warnings []string    `db:"-"`

	TriggeredBy string `db:"triggered_by"`
}

// Dataset is the versioned output of one sync run.
type Dataset struct {
	ID           string `db:"id"`
	ConnectionID string `db:"connection_id"`
	SyncRunID    string `db:"sync_run_id"`
	SourceType   string `db:"source_type"`

	SchemaFingerprint string `db:"schema_fingerprint"`
	// ColumnsJSON is the connector-reported column list behind the
	// fingerprint, kept so drift events can name what changed.
	ColumnsJSON string `db:"columns_json"`

	RowCount    int             `db:"row_count"`
	AmountTotal decimal.Decimal `db:"amount_total"`
	DateFrom    *time.Time      `db:"date_from"`
	DateTo      *time.Time      `db:"date_to"`

	CreatedAt time.Time `db:"created_at"`
}

// RawRecord preserves one source row verbatim, keyed by the SHA-256 of its
// canonicalized payload.
type RawRecord struct {
	ID        string `db:"id"`
	DatasetID string `db:"dataset_id"`

	RawHash     string            `db:"raw_hash"`
	SourceTable string            `db:"source_table"`
	SourceRowID string            `db:"source_row_id"`
	RowIndex    int               `db:"row_index"`
	Payload     map[string]string `db:"-"`

	Processed    bool   `db:"processed"`
	ProcessError string `db:"process_error"`
}

// CanonicalRecord is the normalized form of a RawRecord. Unique on
// (dataset_id, canonical_id) -- the ingestion idempotency guarantee.
type CanonicalRecord struct {
	ID          string `db:"id"`
	DatasetID   string `db:"dataset_id"`
	RawRecordID string `db:"raw_record_id"`

	RecordType  RecordType `db:"record_type"`
	CanonicalID string     `db:"canonical_id"`

	Amount       decimal.Decimal `db:"amount"`
	Currency     string          `db:"currency"`
	RecordDate   *time.Time      `db:"record_date"`
	DueDate      *time.Time      `db:"due_date"`
	Counterparty string          `db:"counterparty"`
	ExternalID   string          `db:"external_id"`

	Payload map[string]string `db:"-"`
}

// DriftSeverity grades a schema change between consecutive datasets.
type DriftSeverity string

const (
	DriftInfo    DriftSeverity = "info"
	DriftWarning DriftSeverity = "warning"
	DriftError   DriftSeverity = "error"
)

// TypeChange records a column whose detected type flipped between datasets.
type TypeChange struct {
	Column string `json:"column"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// SchemaDriftEvent is emitted when the schema fingerprint of a connection's
// dataset differs from the previous one.
type SchemaDriftEvent struct {
	ID           string `db:"id"`
	ConnectionID string `db:"connection_id"`
	DatasetID    string `db:"dataset_id"`
	PrevDataset  string `db:"prev_dataset_id"`

	AddedColumns   []string      `db:"-"`
	RemovedColumns []string      `db:"-"`
	TypeChanges    []TypeChange  `db:"-"`
	Severity       DriftSeverity `db:"severity"`

	CreatedAt time.Time `db:"created_at"`
}
