package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/norm"
)

// MaterializeResult reports what a dataset refresh wrote into a snapshot.
type MaterializeResult struct {
	Invoices     int
	Bills        int
	Transactions int
	FXRates      int
	Skipped      int
}

// Materialize copies a dataset's canonical records into a snapshot as typed
// documents. Records whose canonical ID already exists in the snapshot are
// skipped, so refreshing from overlapping datasets stays idempotent.
func (o *Orchestrator) Materialize(ctx context.Context, snapshotID, datasetID string) (*MaterializeResult, error) {
	snap, err := o.store.Snapshots().Get(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", snapshotID, err)
	}
	if err := snap.AssertNotLocked(); err != nil {
		return nil, err
	}
	records, err := o.store.Lineage().ListCanonicalRecords(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	res := &MaterializeResult{}
	for _, rec := range records {
		var insertErr error
		switch rec.RecordType {
		case domain.RecordInvoice:
			insertErr = o.store.Documents().InsertInvoice(ctx, invoiceFrom(snap, rec))
			if insertErr == nil {
				res.Invoices++
			}
		case domain.RecordVendorBill:
			insertErr = o.store.Documents().InsertBill(ctx, billFrom(snap, rec))
			if insertErr == nil {
				res.Bills++
			}
		case domain.RecordBankTxn:
			insertErr = o.store.BankTxns().Insert(ctx, txnFrom(snap, rec))
			if insertErr == nil {
				res.Transactions++
			}
		case domain.RecordFXRate:
			insertErr = o.store.FX().Insert(ctx, fxFrom(snap, rec))
			if insertErr == nil {
				res.FXRates++
			}
		default:
			res.Skipped++
			continue
		}
		if insertErr != nil {
			// Already-present rows (and already-frozen FX rates) are skips,
			// not failures: refresh stays idempotent.
			if isDuplicate(insertErr) || isErrCode(insertErr, "FX_IMMUTABLE") {
				res.Skipped++
				continue
			}
			return nil, insertErr
		}
	}

	snap.DatasetID = datasetID
	if err := o.store.Snapshots().Update(ctx, snap); err != nil {
		return nil, err
	}
	log.Info().
		Str("snapshot_id", snapshotID).
		Str("dataset_id", datasetID).
		Int("invoices", res.Invoices).
		Int("bills", res.Bills).
		Int("transactions", res.Transactions).
		Int("skipped", res.Skipped).
		Msg("snapshot refreshed from dataset")
	return res, nil
}

func payloadMapping(rec *domain.CanonicalRecord) norm.ColumnMapping {
	keys := make([]string, 0, len(rec.Payload))
	for k := range rec.Payload {
		keys = append(keys, k)
	}
	return norm.MapColumns(keys)
}

func derefDate(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func invoiceFrom(snap *domain.Snapshot, rec *domain.CanonicalRecord) *domain.Invoice {
	m := payloadMapping(rec)
	docNumber := m.Pick(rec.Payload, norm.ColDocumentNumber)
	if docNumber == "" {
		docNumber = rec.ExternalID
	}
	termDays, _ := strconv.Atoi(m.Pick(rec.Payload, norm.ColPaymentTermsDays))
	return &domain.Invoice{
		SnapshotID:      snap.ID,
		CanonicalID:     rec.CanonicalID,
		DocumentNumber:  docNumber,
		Counterparty:    rec.Counterparty,
		Amount:          rec.Amount,
		Currency:        rec.Currency,
		IssueDate:       derefDate(rec.RecordDate),
		DueDate:         derefDate(rec.DueDate),
		PaymentDate:     norm.ParseDate(m.Pick(rec.Payload, norm.ColPaymentDate), norm.LocaleEU),
		Country:         m.Pick(rec.Payload, norm.ColCountry),
		Project:         m.Pick(rec.Payload, norm.ColProject),
		PaymentTermDays: termDays,
	}
}

func billFrom(snap *domain.Snapshot, rec *domain.CanonicalRecord) *domain.VendorBill {
	m := payloadMapping(rec)
	docNumber := m.Pick(rec.Payload, norm.ColDocumentNumber)
	if docNumber == "" {
		docNumber = rec.ExternalID
	}
	termDays, _ := strconv.Atoi(m.Pick(rec.Payload, norm.ColPaymentTermsDays))
	return &domain.VendorBill{
		SnapshotID:      snap.ID,
		CanonicalID:     rec.CanonicalID,
		DocumentNumber:  docNumber,
		Counterparty:    rec.Counterparty,
		Amount:          rec.Amount,
		Currency:        rec.Currency,
		IssueDate:       derefDate(rec.RecordDate),
		DueDate:         derefDate(rec.DueDate),
		PaymentDate:     norm.ParseDate(m.Pick(rec.Payload, norm.ColPaymentDate), norm.LocaleEU),
		Country:         m.Pick(rec.Payload, norm.ColCountry),
		Project:         m.Pick(rec.Payload, norm.ColProject),
		Category:        rec.Payload["category"],
		PaymentTermDays: termDays,
	}
}

func txnFrom(snap *domain.Snapshot, rec *domain.CanonicalRecord) *domain.BankTransaction {
	m := payloadMapping(rec)
	return &domain.BankTransaction{
		SnapshotID:   snap.ID,
		CanonicalID:  rec.CanonicalID,
		TxnDate:      derefDate(rec.RecordDate),
		ValueDate:    derefDate(rec.RecordDate),
		Amount:       rec.Amount,
		Currency:     rec.Currency,
		Reference:    m.Pick(rec.Payload, norm.ColDescription),
		Counterparty: rec.Counterparty,
		Fee:          decimal.Zero,
		Writeoff:     decimal.Zero,
		ReconStatus:  domain.ReconNone,
		ReconType:    domain.TierNone,
	}
}

func fxFrom(snap *domain.Snapshot, rec *domain.CanonicalRecord) *domain.FXRate {
	to := rec.Payload["to_currency"]
	if to == "" {
		to = snap.BaseCurrency
	}
	return &domain.FXRate{
		SnapshotID: snap.ID,
		FromCcy:    rec.Currency,
		ToCcy:      to,
		Rate:       rec.Amount,
	}
}
