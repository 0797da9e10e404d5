package forecast

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/persistence/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	store  *memory.Store
	engine *Engine
	snap   *domain.Snapshot
	seq    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	entity := &domain.Entity{Name: "Test GmbH", BaseCurrency: "EUR"}
	require.NoError(t, store.Entities().Create(ctx, entity))
	snap := &domain.Snapshot{EntityID: entity.ID, BaseCurrency: "EUR"}
	require.NoError(t, store.Snapshots().Create(ctx, snap))

	engine := NewEngine(store)
	engine.now = func() time.Time { return day(2026, 3, 1) }
	return &fixture{store: store, engine: engine, snap: snap}
}

func (f *fixture) addPaid(t *testing.T, customer, country string, terms int, due time.Time, delayDays int) {
	t.Helper()
	f.seq++
	paidAt := due.AddDate(0, 0, delayDays)
	inv := &domain.Invoice{
		SnapshotID:      f.snap.ID,
		CanonicalID:     fmt.Sprintf("paid-%d", f.seq),
		DocumentNumber:  fmt.Sprintf("INV-P%d", f.seq),
		Counterparty:    customer,
		Country:         country,
		PaymentTermDays: terms,
		Amount:          dec("1000"),
		Currency:        "EUR",
		DueDate:         due,
		PaymentDate:     &paidAt,
	}
	require.NoError(t, f.store.Documents().InsertInvoice(context.Background(), inv))
}

func (f *fixture) addOpen(t *testing.T, customer, country string, terms int, amount string, currency string, due time.Time) *domain.Invoice {
	t.Helper()
	f.seq++
	inv := &domain.Invoice{
		SnapshotID:      f.snap.ID,
		CanonicalID:     fmt.Sprintf("open-%d", f.seq),
		DocumentNumber:  fmt.Sprintf("INV-O%d", f.seq),
		Counterparty:    customer,
		Country:         country,
		PaymentTermDays: terms,
		Amount:          dec(amount),
		Currency:        currency,
		DueDate:         due,
	}
	require.NoError(t, f.store.Documents().InsertInvoice(context.Background(), inv))
	return inv
}

func TestHierarchicalSegmentChoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := day(2026, 1, 10)

	// 20 paid invoices for (ACME, DE, 30): enough for the most specific
	// level, all paid 10 days late.
	for i := 0; i < 20; i++ {
		f.addPaid(t, "ACME", "DE", 30, due.AddDate(0, 0, -i), 10)
	}
	open := f.addOpen(t, "ACME", "DE", 30, "500", "EUR", day(2026, 3, 10))

	res, err := f.engine.Run(ctx, f.snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, res.PaidCount)
	assert.Equal(t, 1, res.PredictedCount)

	got, err := f.store.Documents().GetInvoice(ctx, open.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PredictedPaymentDate)
	assert.Equal(t, day(2026, 3, 20), *got.PredictedPaymentDate)
	assert.Equal(t, "customer,country,terms_of_payment=ACME|DE|30", got.SegmentKey)
}

func TestFallbackToGlobalForUnknownCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := day(2026, 1, 10)

	for i := 0; i < 20; i++ {
		f.addPaid(t, "ACME", "DE", 30, due.AddDate(0, 0, -i), 5)
	}
	open := f.addOpen(t, "Nobody GmbH", "FR", 14, "500", "EUR", day(2026, 3, 10))

	_, err := f.engine.Run(ctx, f.snap.ID)
	require.NoError(t, err)

	got, err := f.store.Documents().GetInvoice(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, "GLOBAL", got.SegmentKey)
	require.NotNil(t, got.PredictedPaymentDate)
	assert.Equal(t, day(2026, 3, 15), *got.PredictedPaymentDate)
}

func TestEmptyPaidSetFallsBackToGlobal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	open := f.addOpen(t, "ACME", "DE", 30, "500", "EUR", day(2026, 3, 10))

	res, err := f.engine.Run(ctx, f.snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.PaidCount)
	assert.Equal(t, 1, res.PredictedCount)

	got, err := f.store.Documents().GetInvoice(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, "GLOBAL", got.SegmentKey)
	// With no delay evidence, the prediction is the due date itself.
	require.NotNil(t, got.PredictedPaymentDate)
	assert.Equal(t, day(2026, 3, 10), *got.PredictedPaymentDate)
}

func TestCreditNoteNetsAgainstInvoices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := day(2026, 3, 10)

	f.addOpen(t, "ACME", "DE", 30, "5000", "EUR", due)
	f.addOpen(t, "ACME", "DE", 30, "-2000", "EUR", due)

	res, err := f.engine.Run(ctx, f.snap.ID)
	require.NoError(t, err)
	assert.True(t, res.TotalOpenBase.Equal(dec("3000")), "got %s", res.TotalOpenBase)
}

func TestOpenTotalNeverNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := day(2026, 3, 10)

	f.addOpen(t, "ACME", "DE", 30, "1000", "EUR", due)
	f.addOpen(t, "ACME", "DE", 30, "-4000", "EUR", due)

	res, err := f.engine.Run(ctx, f.snap.ID)
	require.NoError(t, err)
	assert.True(t, res.TotalOpenBase.IsZero(), "got %s", res.TotalOpenBase)
}

func TestMissingFXExcludesInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := day(2026, 3, 10)

	f.addOpen(t, "ACME", "DE", 30, "2000", "EUR", due)
	f.addOpen(t, "US Corp", "US", 30, "1000", "USD", due)

	res, err := f.engine.Run(ctx, f.snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExcludedMissingFX)
	assert.True(t, res.TotalOpenBase.Equal(dec("2000")), "got %s", res.TotalOpenBase)
}

func TestStoredFXRateConverts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := day(2026, 3, 10)

	require.NoError(t, f.store.FX().Insert(ctx, &domain.FXRate{
		SnapshotID: f.snap.ID, FromCcy: "USD", ToCcy: "EUR", Rate: dec("0.9"),
	}))
	f.addOpen(t, "US Corp", "US", 30, "1000", "USD", due)

	res, err := f.engine.Run(ctx, f.snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExcludedMissingFX)
	assert.True(t, res.TotalOpenBase.Equal(dec("900")), "got %s", res.TotalOpenBase)
}

func TestCalibrationRecordsWritten(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := day(2026, 1, 10)

	// 40 paid invoices with spread-out delays, enough for 5-fold
	// backtesting of the segment.
	for i := 0; i < 40; i++ {
		f.addPaid(t, "ACME", "DE", 30, due.AddDate(0, 0, -i), i%20)
	}

	res, err := f.engine.Run(ctx, f.snap.ID)
	require.NoError(t, err)

	recs, err := f.store.Forecast().ListCalibrations(ctx, f.snap.ID)
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	for _, rec := range recs {
		assert.Equal(t, 40, rec.SampleSize)
		assert.GreaterOrEqual(t, rec.Coverage25, 0.0)
		assert.LessOrEqual(t, rec.Coverage25, 1.0)
		assert.InDelta(t, rec.CalibrationError, 0.0, 0.5)
	}
	assert.GreaterOrEqual(t, res.Diagnostics.TotalSegments, 1)
	assert.GreaterOrEqual(t, res.Diagnostics.UsableSegments, 1)
}

func TestDelayClipping(t *testing.T) {
	assert.Equal(t, -30.0, clipDelay(-90))
	assert.Equal(t, 180.0, clipDelay(365))
	assert.Equal(t, 12.0, clipDelay(12))
}

func TestWinsorizeCapsOutliers(t *testing.T) {
	samples := make([]sample, 0, 101)
	for i := 0; i <= 99; i++ {
		samples = append(samples, sample{Delay: float64(i % 20), Weight: 1})
	}
	samples = append(samples, sample{Delay: 170, Weight: 1})

	out := winsorize(samples)
	for _, s := range out {
		assert.LessOrEqual(t, s.Delay, 150.0)
	}
}

func TestWeightedPercentileRespectsWeights(t *testing.T) {
	samples := []sample{
		{Delay: 0, Weight: 0.05},
		{Delay: 10, Weight: 1},
		{Delay: 20, Weight: 1},
	}
	// The near-zero-weight early sample barely moves the median.
	assert.Equal(t, 10.0, weightedPercentile(samples, 50))
}

func TestRecencyWeightHalvesEvery90Days(t *testing.T) {
	assert.InDelta(t, 1.0, recencyWeight(0), 1e-9)
	assert.InDelta(t, 0.5, recencyWeight(90), 1e-9)
	assert.InDelta(t, 0.25, recencyWeight(180), 1e-9)
}

func TestLockedSnapshotRefusesForecast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := time.Now().UTC()
	f.snap.Status = domain.SnapshotLocked
	f.snap.LockedAt = &now
	f.snap.LockedBy = "cfo-1"
	require.NoError(t, f.store.Snapshots().Update(ctx, f.snap))

	_, err := f.engine.Run(ctx, f.snap.ID)
	require.Error(t, err)
	assert.True(t, domain.IsState(err))
}
