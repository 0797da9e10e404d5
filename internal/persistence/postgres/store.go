// Package postgres implements the repository interfaces over PostgreSQL
// with sqlx. Uniqueness guarantees live in the schema; violations surface
// as DUPLICATE_CANONICAL_ID state errors.
package postgres

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/persistence"
)

// defaultTimeout bounds every single-statement query.
const defaultTimeout = 5 * time.Second

// Store implements persistence.Store over one sqlx connection pool.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// New wraps an open sqlx handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, timeout: defaultTimeout}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string, maxOpen, maxIdle int, maxLife time.Duration) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, domain.NewInfraError("DB_CONNECT", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLife)
	return New(db), nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Entities() persistence.EntityRepo        { return &entityRepo{s} }
func (s *Store) Snapshots() persistence.SnapshotRepo     { return &snapshotRepo{s} }
func (s *Store) Documents() persistence.DocumentRepo     { return &documentRepo{s} }
func (s *Store) BankTxns() persistence.BankTxnRepo       { return &bankTxnRepo{s} }
func (s *Store) Allocations() persistence.AllocationRepo { return &allocationRepo{s} }
func (s *Store) FX() persistence.FXRepo                  { return &fxRepo{s} }
func (s *Store) Policies() persistence.PolicyRepo        { return &policyRepo{s} }
func (s *Store) Forecast() persistence.ForecastRepo      { return &forecastRepo{s} }
func (s *Store) Invariants() persistence.InvariantRepo   { return &invariantRepo{s} }
func (s *Store) Lineage() persistence.LineageRepo        { return &lineageRepo{s} }
func (s *Store) Workflow() persistence.WorkflowRepo      { return &workflowRepo{s} }
func (s *Store) Audit() persistence.AuditRepo            { return &auditRepo{s} }

// uniqueViolation is the pq error code for unique-index conflicts.
const uniqueViolation = "23505"

// mapInsertErr translates driver errors into the domain taxonomy.
func mapInsertErr(err error, code, format string, args ...interface{}) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return domain.NewStateError(code, format, args...)
	}
	return domain.NewInfraError("DB_INSERT", err)
}

// requireRow turns a zero-row update into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return domain.NewInfraError("DB_UPDATE", err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// mapGetErr translates sql.ErrNoRows into persistence.ErrNotFound.
func mapGetErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}
	return domain.NewInfraError("DB_QUERY", err)
}
