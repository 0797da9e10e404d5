package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/persistence"
	"github.com/ledgerline/cashops/internal/telemetry"
)

// Engine fits payment-delay distributions from the paid invoices of a
// snapshot and writes predicted payment dates onto the open ones.
type Engine struct {
	store persistence.Store
	now   func() time.Time
}

// NewEngine creates a forecast engine over a store.
func NewEngine(store persistence.Store) *Engine {
	return &Engine{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Diagnostics reports fit quality for one run.
type Diagnostics struct {
	TotalSegments        int            `json:"total_segments"`
	UsableSegments       int            `json:"usable_segments"`
	MeanCoverage         float64        `json:"mean_coverage"`
	MeanCalibrationError float64        `json:"mean_calibration_error"`
	SampleSizes          map[string]int `json:"sample_sizes"`
	DriftWarnings        []string       `json:"drift_warnings"`
}

// Result summarizes one forecast run.
type Result struct {
	SnapshotID string `json:"snapshot_id"`

	PaidCount      int `json:"paid_count"`
	OpenCount      int `json:"open_count"`
	PredictedCount int `json:"predicted_count"`

	// TotalOpenBase is the net open exposure in the snapshot's base
	// currency. Credit notes net against invoices; the total never goes
	// below zero and excludes invoices with no usable FX rate.
	TotalOpenBase     decimal.Decimal `json:"total_open_base"`
	ExcludedMissingFX int             `json:"excluded_missing_fx"`

	Diagnostics Diagnostics `json:"diagnostics"`
}

// Run refits every segment of the snapshot, backtests calibration and
// applies predictions to open invoices. The snapshot must not be locked.
func (e *Engine) Run(ctx context.Context, snapshotID string) (*Result, error) {
	snap, err := e.store.Snapshots().Get(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", snapshotID, err)
	}
	if err := snap.AssertNotLocked(); err != nil {
		return nil, err
	}

	invoices, err := e.store.Documents().ListInvoices(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}

	var paid []*domain.Invoice
	var open []*domain.Invoice
	for _, inv := range invoices {
		if inv.IsPaid() {
			paid = append(paid, inv)
		} else if !inv.DueDate.IsZero() {
			open = append(open, inv)
		}
	}

	samples := e.buildSamples(paid)
	groups := buildGroups(paid, samples)

	segments := make([]*domain.Segment, 0, len(groups))
	calibrations := make([]*domain.CalibrationRecord, 0, len(groups))
	byKey := make(map[string]*domain.Segment, len(groups))
	for _, g := range groups {
		seg := summarize(snapshotID, g)
		if g.Key != domain.SegmentKey(nil, nil) && seg.Count < domain.MinSegmentSample {
			continue
		}
		segments = append(segments, seg)
		byKey[seg.Key] = seg
		if rec := calibrate(snapshotID, g); rec != nil {
			calibrations = append(calibrations, rec)
		}
	}

	if err := e.store.Forecast().ReplaceSegments(ctx, snapshotID, segments); err != nil {
		return nil, err
	}
	if err := e.store.Forecast().ReplaceCalibrations(ctx, snapshotID, calibrations); err != nil {
		return nil, err
	}

	res := &Result{
		SnapshotID: snapshotID,
		PaidCount:  len(paid),
		OpenCount:  len(open),
	}

	for _, inv := range open {
		seg := chooseSegment(inv, byKey)
		if seg == nil {
			continue
		}
		applyPrediction(inv, seg)
		if err := e.store.Documents().UpdateInvoicePrediction(ctx, inv); err != nil {
			return nil, err
		}
		res.PredictedCount++
	}

	res.TotalOpenBase, res.ExcludedMissingFX, err = e.openExposureBase(ctx, snap, open)
	if err != nil {
		return nil, err
	}

	res.Diagnostics = e.diagnose(groups, segments, calibrations)
	telemetry.ForecastCalibrationError.WithLabelValues(snapshotID).Set(res.Diagnostics.MeanCalibrationError)

	log.Info().
		Str("snapshot_id", snapshotID).
		Int("paid", res.PaidCount).
		Int("open", res.OpenCount).
		Int("predicted", res.PredictedCount).
		Int("segments", len(segments)).
		Float64("mean_calibration_error", res.Diagnostics.MeanCalibrationError).
		Msg("forecast run complete")
	return res, nil
}

// buildSamples converts paid invoices into clipped, winsorized, recency
// weighted delay observations. Index i corresponds to paid[i].
func (e *Engine) buildSamples(paid []*domain.Invoice) []sample {
	now := e.now()
	samples := make([]sample, len(paid))
	for i, inv := range paid {
		delay := clipDelay(float64(inv.DelayDays()))
		age := now.Sub(*inv.PaymentDate).Hours() / 24
		samples[i] = sample{Delay: delay, Weight: recencyWeight(age)}
	}
	return winsorize(samples)
}

// applyPrediction writes the segment's delay quantiles onto an open invoice
// as dates relative to its due date.
func applyPrediction(inv *domain.Invoice, seg *domain.Segment) {
	shift := func(days float64) *time.Time {
		d := inv.DueDate.AddDate(0, 0, int(math.Round(days)))
		return &d
	}
	inv.PredictedPaymentDate = shift(seg.P50)
	inv.ConfidenceP25Date = shift(seg.P25)
	inv.ConfidenceP75Date = shift(seg.P75)
	inv.SegmentKey = seg.Key
}

// openExposureBase nets the open invoices into the snapshot base currency.
// Credit notes (negative amounts) reduce the total; invoices in a foreign
// currency with no stored rate are excluded, never defaulted to 1.0.
func (e *Engine) openExposureBase(ctx context.Context, snap *domain.Snapshot, open []*domain.Invoice) (decimal.Decimal, int, error) {
	total := decimal.Zero
	excluded := 0
	for _, inv := range open {
		if inv.Currency == snap.BaseCurrency || inv.Currency == "" {
			total = total.Add(inv.Amount)
			continue
		}
		rate, err := e.store.FX().Find(ctx, snap.ID, inv.Currency, snap.BaseCurrency)
		if err != nil {
			excluded++
			log.Warn().
				Str("invoice_id", inv.ID).
				Str("currency", inv.Currency).
				Str("base", snap.BaseCurrency).
				Msg("no fx rate, invoice excluded from forecast total")
			continue
		}
		total = total.Add(inv.Amount.Mul(rate.Rate))
	}
	if total.Sign() < 0 {
		total = decimal.Zero
	}
	return total, excluded, nil
}

// diagnose summarizes segment and calibration quality and flags drift.
func (e *Engine) diagnose(groups map[string]*segmentGroup, segments []*domain.Segment, recs []*domain.CalibrationRecord) Diagnostics {
	d := Diagnostics{
		TotalSegments: len(groups),
		SampleSizes:   make(map[string]int),
	}
	for _, g := range groups {
		d.SampleSizes[sizeBucket(len(g.Samples))]++
	}
	for _, seg := range segments {
		if seg.Count >= domain.MinSegmentSample {
			d.UsableSegments++
		}
	}

	for _, rec := range recs {
		d.MeanCoverage += rec.Coverage25
		d.MeanCalibrationError += rec.CalibrationError
		if rec.Coverage25 < 0.40 || rec.Coverage25 > 0.60 {
			d.DriftWarnings = append(d.DriftWarnings,
				fmt.Sprintf("segment %s band coverage %.2f outside [0.40, 0.60]", rec.SegmentKey, rec.Coverage25))
		}
		if rec.CalibrationError > 0.10 {
			d.DriftWarnings = append(d.DriftWarnings,
				fmt.Sprintf("segment %s calibration error %.2f above 0.10", rec.SegmentKey, rec.CalibrationError))
		}
	}
	if len(recs) > 0 {
		d.MeanCoverage /= float64(len(recs))
		d.MeanCalibrationError /= float64(len(recs))
	}
	return d
}

func sizeBucket(n int) string {
	switch {
	case n < domain.MinSegmentSample:
		return "<15"
	case n < 30:
		return "15-29"
	case n < 100:
		return "30-99"
	default:
		return "100+"
	}
}
