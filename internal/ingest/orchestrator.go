// Package ingest runs the extract -> normalize -> load cycle: one sync per
// connection at a time, batched commits, schema-drift detection and
// cross-sync canonical-ID dedup.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ledgerline/cashops/internal/connectors"
	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/norm"
	"github.com/ledgerline/cashops/internal/persistence"
	"github.com/ledgerline/cashops/internal/telemetry"
)

// batchSize is the commit interval. Cancellation is honored only at these
// boundaries so a cancelled run always leaves whole batches behind.
const batchSize = 100

// Orchestrator coordinates sync runs. Per-connection exclusivity is
// enforced through the running map; connector I/O goes through a
// per-connection circuit breaker and a shared row-rate limiter.
type Orchestrator struct {
	store    persistence.Store
	registry *connectors.Registry
	limiter  *rate.Limiter
	now      func() time.Time

	mu       sync.Mutex
	running  map[string]context.CancelFunc
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewOrchestrator creates an orchestrator over the given store and
// connector registry.
func NewOrchestrator(store persistence.Store, registry *connectors.Registry) *Orchestrator {
	return &Orchestrator{
		store:    store,
		registry: registry,
		limiter:  rate.NewLimiter(rate.Limit(1000), batchSize),
		now:      func() time.Time { return time.Now().UTC() },
		running:  make(map[string]context.CancelFunc),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Cancel requests cooperative cancellation of the running sync of a
// connection. It reports whether a sync was running.
func (o *Orchestrator) Cancel(connectionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.running[connectionID]
	if ok {
		cancel()
	}
	return ok
}

func (o *Orchestrator) breakerFor(connectionID string) *gobreaker.CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cb, ok := o.breakers[connectionID]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "connector:" + connectionID,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	o.breakers[connectionID] = cb
	return cb
}

// acquire claims the per-connection slot, or fails with SYNC_ALREADY_RUNNING.
func (o *Orchestrator) acquire(connectionID string, cancel context.CancelFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.running[connectionID]; busy {
		return domain.NewStateError(domain.CodeSyncConflict,
			"a sync is already running for connection %s", connectionID)
	}
	o.running[connectionID] = cancel
	return nil
}

func (o *Orchestrator) release(connectionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, connectionID)
}

// Sync runs one full extract cycle for a connection and returns the
// finalized SyncRun. Row-level failures never abort the run; transport
// failures finalize it as FAILED.
func (o *Orchestrator) Sync(ctx context.Context, connectionID, triggeredBy string) (*domain.SyncRun, error) {
	conn, err := o.store.Lineage().GetConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection %s: %w", connectionID, err)
	}
	connector, err := o.registry.Build(*conn)
	if err != nil {
		return nil, domain.NewInputError("UNKNOWN_CONNECTOR", "%v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := o.acquire(connectionID, cancel); err != nil {
		return nil, err
	}
	defer o.release(connectionID)

	run := &domain.SyncRun{
		ConnectionID: connectionID,
		Status:       domain.SyncPending,
		StartedAt:    o.now(),
		TriggeredBy:  triggeredBy,
	}
	if err := o.store.Lineage().CreateSyncRun(ctx, run); err != nil {
		return nil, err
	}
	run.Status = domain.SyncRunning
	if err := o.store.Lineage().UpdateSyncRun(ctx, run); err != nil {
		return nil, err
	}

	dataset, err := o.openDataset(ctx, conn, connector, run)
	if err != nil {
		return o.finalizeFailure(ctx, conn, run, err)
	}

	if err := o.pump(ctx, conn, connector, run, dataset); err != nil {
		if errors.Is(err, context.Canceled) {
			return o.finalize(ctx, conn, run, dataset, domain.SyncCancelled)
		}
		return o.finalizeFailure(ctx, conn, run, err)
	}

	status := domain.SyncSuccess
	if run.RowsError > 0 {
		status = domain.SyncPartial
		if run.RowsLoaded == 0 {
			status = domain.SyncFailed
		}
	}
	return o.finalize(ctx, conn, run, dataset, status)
}

// openDataset computes the schema fingerprint, creates the run's dataset
// and emits a drift event when the fingerprint moved since the last sync.
func (o *Orchestrator) openDataset(ctx context.Context, conn *domain.LineageConnection,
	connector connectors.Connector, run *domain.SyncRun) (*domain.Dataset, error) {

	cb := o.breakerFor(conn.ID)
	schemaAny, err := cb.Execute(func() (interface{}, error) {
		return connector.GetSchema(ctx)
	})
	if err != nil {
		return nil, domain.NewInfraError("SCHEMA_PROBE", err)
	}
	cols := schemaAny.([]norm.Column)
	colsJSON, _ := json.Marshal(cols)

	dataset := &domain.Dataset{
		ConnectionID:      conn.ID,
		SyncRunID:         run.ID,
		SourceType:        conn.SourceType,
		SchemaFingerprint: norm.SchemaFingerprint(cols),
		ColumnsJSON:       string(colsJSON),
		AmountTotal:       decimal.Zero,
		CreatedAt:         o.now(),
	}
	if err := o.store.Lineage().CreateDataset(ctx, dataset); err != nil {
		return nil, err
	}

	prev, err := o.store.Lineage().LatestDataset(ctx, conn.ID, dataset.CreatedAt)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return dataset, nil
	case err != nil:
		return nil, err
	}
	if prev.SchemaFingerprint != dataset.SchemaFingerprint {
		if err := o.emitDrift(ctx, conn, prev, dataset, cols); err != nil {
			return nil, err
		}
	}
	return dataset, nil
}

// pump drives the extract iterator: raw persist, normalize, canonical load
// with dedup, commit every batchSize rows.
func (o *Orchestrator) pump(ctx context.Context, conn *domain.LineageConnection,
	connector connectors.Connector, run *domain.SyncRun, dataset *domain.Dataset) error {

	cb := o.breakerFor(conn.ID)
	iterAny, err := cb.Execute(func() (interface{}, error) {
		return connector.Extract(ctx, connectors.ExtractOptions{BatchSize: batchSize})
	})
	if err != nil {
		return domain.NewInfraError("EXTRACT", err)
	}
	iter := iterAny.(connectors.RecordIterator)
	defer iter.Close()

	seen, err := o.priorCanonicalIDs(ctx, conn.ID, dataset)
	if err != nil {
		return err
	}

	sinceCommit := 0
	for {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
		raw, ok, err := iter.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return domain.NewInfraError("EXTRACT_ROW", err)
		}
		if !ok {
			break
		}
		run.RowsExtracted++
		telemetry.SyncRows.WithLabelValues(conn.SourceType, "extracted").Inc()

		raw.DatasetID = dataset.ID
		if err := o.store.Lineage().InsertRawRecord(ctx, raw); err != nil {
			return err
		}

		o.loadRow(ctx, conn, connector, run, dataset, seen, raw)

		sinceCommit++
		if sinceCommit >= batchSize {
			sinceCommit = 0
			if err := o.commit(ctx, run, dataset); err != nil {
				return err
			}
		}
	}
	return o.commit(ctx, run, dataset)
}

// loadRow normalizes and loads one raw record. Failures are recorded on the
// run and never propagate.
func (o *Orchestrator) loadRow(ctx context.Context, conn *domain.LineageConnection,
	connector connectors.Connector, run *domain.SyncRun, dataset *domain.Dataset,
	seen map[string]bool, raw *domain.RawRecord) {

	rec, err := connector.Normalize(raw)
	if err != nil {
		run.RowsError++
		run.Errors = append(run.Errors, domain.SyncError{
			RowIndex:    raw.RowIndex,
			Type:        "normalize",
			Message:     err.Error(),
			SourceRowID: raw.SourceRowID,
		})
		_ = o.store.Lineage().MarkRawProcessed(ctx, raw.ID, err.Error())
		telemetry.SyncRows.WithLabelValues(conn.SourceType, "error").Inc()
		return
	}
	run.RowsNormalized++
	telemetry.SyncRows.WithLabelValues(conn.SourceType, "normalized").Inc()

	if seen[rec.CanonicalID] {
		o.skipDuplicate(ctx, conn, run, raw, rec)
		return
	}
	rec.DatasetID = dataset.ID
	rec.RawRecordID = raw.ID
	if err := o.store.Lineage().InsertCanonicalRecord(ctx, rec); err != nil {
		if isDuplicate(err) {
			o.skipDuplicate(ctx, conn, run, raw, rec)
			return
		}
		run.RowsError++
		run.Errors = append(run.Errors, domain.SyncError{
			RowIndex: raw.RowIndex, Type: "load", Message: err.Error(), SourceRowID: raw.SourceRowID,
		})
		_ = o.store.Lineage().MarkRawProcessed(ctx, raw.ID, err.Error())
		telemetry.SyncRows.WithLabelValues(conn.SourceType, "error").Inc()
		return
	}
	seen[rec.CanonicalID] = true
	run.RowsLoaded++
	telemetry.SyncRows.WithLabelValues(conn.SourceType, "loaded").Inc()
	_ = o.store.Lineage().MarkRawProcessed(ctx, raw.ID, "")

	dataset.RowCount++
	dataset.AmountTotal = dataset.AmountTotal.Add(rec.Amount)
	if rec.RecordDate != nil {
		if dataset.DateFrom == nil || rec.RecordDate.Before(*dataset.DateFrom) {
			dataset.DateFrom = rec.RecordDate
		}
		if dataset.DateTo == nil || rec.RecordDate.After(*dataset.DateTo) {
			dataset.DateTo = rec.RecordDate
		}
	}
}

func (o *Orchestrator) skipDuplicate(ctx context.Context, conn *domain.LineageConnection,
	run *domain.SyncRun, raw *domain.RawRecord, rec *domain.CanonicalRecord) {
	run.RowsSkipped++
	run.Warnings = append(run.Warnings,
		fmt.Sprintf("row %d: duplicate canonical_id %s", raw.RowIndex, rec.CanonicalID))
	_ = o.store.Lineage().MarkRawProcessed(ctx, raw.ID, "duplicate canonical_id")
	telemetry.SyncRows.WithLabelValues(conn.SourceType, "skipped").Inc()
}

// priorCanonicalIDs seeds the dedup set from the connection's most recent
// dataset, so re-ingesting the same source bytes skips instead of loading.
func (o *Orchestrator) priorCanonicalIDs(ctx context.Context, connectionID string,
	current *domain.Dataset) (map[string]bool, error) {

	seen := make(map[string]bool)
	prev, err := o.store.Lineage().LatestDataset(ctx, connectionID, current.CreatedAt)
	if errors.Is(err, persistence.ErrNotFound) {
		return seen, nil
	}
	if err != nil {
		return nil, err
	}
	records, err := o.store.Lineage().ListCanonicalRecords(ctx, prev.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		seen[r.CanonicalID] = true
	}
	return seen, nil
}

// commit is the batch boundary: persist counters and honor cancellation.
func (o *Orchestrator) commit(ctx context.Context, run *domain.SyncRun, dataset *domain.Dataset) error {
	if err := o.store.Lineage().UpdateDataset(ctx, dataset); err != nil {
		return err
	}
	if err := o.store.Lineage().UpdateSyncRun(ctx, run); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, conn *domain.LineageConnection,
	run *domain.SyncRun, dataset *domain.Dataset, status domain.SyncStatus) (*domain.SyncRun, error) {

	now := o.now()
	run.Status = status
	run.FinishedAt = &now
	// The partial dataset of a cancelled run is retained as-is.
	if dataset != nil {
		if err := o.store.Lineage().UpdateDataset(context.WithoutCancel(ctx), dataset); err != nil {
			return nil, err
		}
	}
	if err := o.store.Lineage().UpdateSyncRun(context.WithoutCancel(ctx), run); err != nil {
		return nil, err
	}
	telemetry.SyncRuns.WithLabelValues(conn.SourceType, string(status)).Inc()
	log.Info().
		Str("connection_id", conn.ID).
		Str("status", string(status)).
		Int("extracted", run.RowsExtracted).
		Int("loaded", run.RowsLoaded).
		Int("skipped", run.RowsSkipped).
		Int("errors", run.RowsError).
		Msg("sync finished")
	return run, nil
}

func (o *Orchestrator) finalizeFailure(ctx context.Context, conn *domain.LineageConnection,
	run *domain.SyncRun, cause error) (*domain.SyncRun, error) {

	run.Errors = append(run.Errors, domain.SyncError{Type: "infrastructure", Message: cause.Error()})
	if _, err := o.finalize(ctx, conn, run, nil, domain.SyncFailed); err != nil {
		return nil, err
	}
	log.Error().Err(cause).Str("connection_id", conn.ID).Msg("sync failed")
	return run, cause
}

func isDuplicate(err error) bool {
	return isErrCode(err, domain.CodeDuplicateCanonical)
}

func isErrCode(err error, code string) bool {
	var de *domain.Error
	return errors.As(err, &de) && de.Code == code
}
