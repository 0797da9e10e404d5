package ingest

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/norm"
	"github.com/ledgerline/cashops/internal/telemetry"
)

// criticalColumns are the canonical fields whose disappearance makes a
// drift event an error rather than a warning.
var criticalColumns = []string{norm.ColAmount, norm.ColCurrency, norm.ColDocumentDate, norm.ColDueDate}

// emitDrift records a schema change between the previous and current
// dataset of a connection.
func (o *Orchestrator) emitDrift(ctx context.Context, conn *domain.LineageConnection,
	prev, current *domain.Dataset, cols []norm.Column) error {

	var prevCols []norm.Column
	if prev.ColumnsJSON != "" {
		if err := json.Unmarshal([]byte(prev.ColumnsJSON), &prevCols); err != nil {
			return domain.NewInfraError("DRIFT_DECODE", err)
		}
	}

	prevTypes := make(map[string]string, len(prevCols))
	for _, c := range prevCols {
		prevTypes[c.Name] = c.Type
	}
	curTypes := make(map[string]string, len(cols))
	for _, c := range cols {
		curTypes[c.Name] = c.Type
	}

	event := &domain.SchemaDriftEvent{
		ConnectionID: conn.ID,
		DatasetID:    current.ID,
		PrevDataset:  prev.ID,
		CreatedAt:    o.now(),
	}
	for _, c := range cols {
		if _, ok := prevTypes[c.Name]; !ok {
			event.AddedColumns = append(event.AddedColumns, c.Name)
		}
	}
	for _, c := range prevCols {
		switch cur, ok := curTypes[c.Name]; {
		case !ok:
			event.RemovedColumns = append(event.RemovedColumns, c.Name)
		case cur != c.Type:
			event.TypeChanges = append(event.TypeChanges, domain.TypeChange{Column: c.Name, From: c.Type, To: cur})
		}
	}
	event.Severity = driftSeverity(prevCols, event)

	if err := o.store.Lineage().InsertDriftEvent(ctx, event); err != nil {
		return err
	}
	telemetry.SchemaDrift.WithLabelValues(string(event.Severity)).Inc()
	log.Warn().
		Str("connection_id", conn.ID).
		Str("severity", string(event.Severity)).
		Strs("added", event.AddedColumns).
		Strs("removed", event.RemovedColumns).
		Msg("schema drift detected")
	return nil
}

// driftSeverity grades the event: error when a critical column vanished,
// warning for any other removal or type change, info for pure additions.
func driftSeverity(prevCols []norm.Column, event *domain.SchemaDriftEvent) domain.DriftSeverity {
	if len(event.RemovedColumns) > 0 {
		prevNames := make([]string, len(prevCols))
		for i, c := range prevCols {
			prevNames[i] = c.Name
		}
		mapping := norm.MapColumns(prevNames)
		removed := make(map[string]bool, len(event.RemovedColumns))
		for _, name := range event.RemovedColumns {
			removed[name] = true
		}
		for _, canonical := range criticalColumns {
			if raw, ok := mapping.ByCanonical[canonical]; ok && removed[raw] {
				return domain.DriftError
			}
		}
		return domain.DriftWarning
	}
	if len(event.TypeChanges) > 0 {
		return domain.DriftWarning
	}
	return domain.DriftInfo
}
