package calendar

import (
	"context"
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

func ptr(t time.Time) *time.Time { return &t }

type fixture struct {
	store   *memory.Store
	builder *Builder
	entity  *domain.Entity
	snap    *domain.Snapshot
	seq     int
}

// Monday 2026-03-02 anchors every test clock.
var testToday = day(2026, 3, 2)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	entity := &domain.Entity{Name: "Test GmbH", BaseCurrency: "EUR", PaymentRunDay: 3} // Thursday
	require.NoError(t, store.Entities().Create(ctx, entity))
	snap := &domain.Snapshot{
		EntityID:           entity.ID,
		BaseCurrency:       "EUR",
		OpeningBankBalance: dec("10000"),
		MinCashThreshold:   dec("2000"),
	}
	require.NoError(t, store.Snapshots().Create(ctx, snap))

	builder := NewBuilder(store)
	builder.now = func() time.Time { return testToday }
	return &fixture{store: store, builder: builder, entity: entity, snap: snap}
}

func (f *fixture) addForecastInvoice(t *testing.T, amount string, predicted time.Time) {
	t.Helper()
	f.seq++
	require.NoError(t, f.store.Documents().InsertInvoice(context.Background(), &domain.Invoice{
		SnapshotID:           f.snap.ID,
		CanonicalID:          canon("inv", f.seq),
		DocumentNumber:       canon("INV", f.seq),
		Amount:               dec(amount),
		Currency:             "EUR",
		DueDate:              predicted.AddDate(0, 0, -10),
		PredictedPaymentDate: ptr(predicted),
		ConfidenceP25Date:    ptr(predicted.AddDate(0, 0, -7)),
		ConfidenceP75Date:    ptr(predicted.AddDate(0, 0, 7)),
	}))
}

func (f *fixture) addBill(t *testing.T, b domain.VendorBill) {
	t.Helper()
	f.seq++
	b.SnapshotID = f.snap.ID
	b.CanonicalID = canon("bill", f.seq)
	b.DocumentNumber = canon("BILL", f.seq)
	if b.Currency == "" {
		b.Currency = "EUR"
	}
	require.NoError(t, f.store.Documents().InsertBill(context.Background(), &b))
}

func canon(prefix string, n int) string {
	return prefix + "-" + string(rune('A'+n))
}

func TestMondayOf(t *testing.T) {
	assert.Equal(t, day(2026, 3, 2), mondayOf(day(2026, 3, 2)))  // Monday
	assert.Equal(t, day(2026, 3, 2), mondayOf(day(2026, 3, 5)))  // Thursday
	assert.Equal(t, day(2026, 3, 2), mondayOf(day(2026, 3, 8)))  // Sunday
	assert.Equal(t, day(2026, 3, 9), mondayOf(day(2026, 3, 9)))  // next Monday
}

func TestNextRunDayShiftsForward(t *testing.T) {
	// Thursday rule: run day 3.
	assert.Equal(t, day(2026, 3, 5), nextRunDay(day(2026, 3, 2), 3)) // Mon -> Thu
	assert.Equal(t, day(2026, 3, 5), nextRunDay(day(2026, 3, 5), 3)) // Thu stays
	assert.Equal(t, day(2026, 3, 12), nextRunDay(day(2026, 3, 6), 3)) // Fri -> next Thu
}

func TestGridStartsAtEarliestForecastWeek(t *testing.T) {
	f := newFixture(t)
	f.addForecastInvoice(t, "1000", day(2026, 3, 18)) // Wednesday of W12

	grid, err := f.builder.Build(context.Background(), f.snap.ID)
	require.NoError(t, err)
	assert.Equal(t, day(2026, 3, 16), grid.Start)
	assert.Len(t, grid.Weeks, 13)
	assert.True(t, grid.Weeks[0].InflowP50.Equal(dec("1000")))
}

func TestGridStartsAtCurrentWeekWithoutForecast(t *testing.T) {
	f := newFixture(t)
	grid, err := f.builder.Build(context.Background(), f.snap.ID)
	require.NoError(t, err)
	assert.Equal(t, testToday, grid.Start)
}

func TestConfidenceBandsBucketSeparately(t *testing.T) {
	f := newFixture(t)
	f.addForecastInvoice(t, "1000", day(2026, 3, 11))

	grid, err := f.builder.Build(context.Background(), f.snap.ID)
	require.NoError(t, err)
	// Grid starts at the P50 week; the earlier P25 date clamps into week
	// zero, the P75 date lands a week later.
	assert.Equal(t, day(2026, 3, 9), grid.Start)
	assert.True(t, grid.Weeks[0].InflowP25.Equal(dec("1000")))
	assert.True(t, grid.Weeks[0].InflowP50.Equal(dec("1000")))
	assert.True(t, grid.Weeks[1].InflowP75.Equal(dec("1000")))
}

func TestBillUsesScheduleOverThursdayRule(t *testing.T) {
	f := newFixture(t)
	f.addBill(t, domain.VendorBill{
		Amount:               dec("500"),
		Category:             "rent",
		DueDate:              day(2026, 3, 3),
		ScheduledPaymentDate: ptr(day(2026, 3, 20)),
	})

	grid, err := f.builder.Build(context.Background(), f.snap.ID)
	require.NoError(t, err)
	// Scheduled Friday 2026-03-20 lands in week 2, ignoring the run day.
	assert.True(t, grid.Weeks[2].OutflowTotal.Equal(dec("500")))
}

func TestBillShiftsToPaymentRunDay(t *testing.T) {
	f := newFixture(t)
	// Due Friday 2026-03-06; the Thursday rule pushes cash-out to the
	// next run day, 2026-03-12 (week 1).
	f.addBill(t, domain.VendorBill{
		Amount:   dec("700"),
		Category: "suppliers",
		DueDate:  day(2026, 3, 6),
	})

	grid, err := f.builder.Build(context.Background(), f.snap.ID)
	require.NoError(t, err)
	assert.True(t, grid.Weeks[0].OutflowTotal.IsZero())
	assert.True(t, grid.Weeks[1].OutflowTotal.Equal(dec("700")))
}

func TestOverdueBillClampsToToday(t *testing.T) {
	f := newFixture(t)
	// Due long before today: cash-out = today shifted to Thursday
	// 2026-03-05, week 0.
	f.addBill(t, domain.VendorBill{
		Amount:   dec("300"),
		Category: "suppliers",
		DueDate:  day(2026, 1, 10),
	})

	grid, err := f.builder.Build(context.Background(), f.snap.ID)
	require.NoError(t, err)
	assert.True(t, grid.Weeks[0].OutflowTotal.Equal(dec("300")))
}

func TestOnHoldBillExcluded(t *testing.T) {
	f := newFixture(t)
	f.addBill(t, domain.VendorBill{
		Amount:  dec("900"),
		DueDate: day(2026, 3, 4),
		OnHold:  true,
	})

	grid, err := f.builder.Build(context.Background(), f.snap.ID)
	require.NoError(t, err)
	for _, w := range grid.Weeks {
		assert.True(t, w.OutflowTotal.IsZero())
	}
}

func TestActualBillOverridesTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Template rent in week 0 and week 1.
	for _, planned := range []time.Time{day(2026, 3, 4), day(2026, 3, 11)} {
		require.NoError(t, f.store.Documents().InsertOutflowTemplate(ctx, &domain.OutflowTemplateItem{
			EntityID: f.entity.ID, Category: "rent", Amount: dec("2000"), Currency: "EUR", PlannedDate: planned,
		}))
	}
	// Actual rent bill lands in week 0 (due Wed 2026-03-04 -> Thu 03-05).
	f.addBill(t, domain.VendorBill{
		Amount:   dec("2150"),
		Category: "rent",
		DueDate:  day(2026, 3, 4),
	})

	grid, err := f.builder.Build(ctx, f.snap.ID)
	require.NoError(t, err)
	// Week 0: actual only. Week 1: template.
	assert.True(t, grid.Weeks[0].OutflowTotal.Equal(dec("2150")), "got %s", grid.Weeks[0].OutflowTotal)
	assert.True(t, grid.Weeks[1].OutflowTotal.Equal(dec("2000")), "got %s", grid.Weeks[1].OutflowTotal)
	assert.False(t, grid.Weeks[0].Outflows["rent"].FromTemplate)
	assert.True(t, grid.Weeks[1].Outflows["rent"].FromTemplate)
}

func TestCommittedDiscretionarySplit(t *testing.T) {
	f := newFixture(t)
	f.addBill(t, domain.VendorBill{
		Amount: dec("400"), Category: "suppliers", DueDate: day(2026, 3, 4),
	})
	f.addBill(t, domain.VendorBill{
		Amount: dec("250"), Category: "marketing", DueDate: day(2026, 3, 4), IsDiscretionary: true,
	})

	grid, err := f.builder.Build(context.Background(), f.snap.ID)
	require.NoError(t, err)
	w := grid.Weeks[0]
	assert.True(t, w.CommittedTotal.Equal(dec("400")))
	assert.True(t, w.DiscretionaryTotal.Equal(dec("250")))
	assert.True(t, w.OutflowTotal.Equal(dec("650")))
}

func TestClosingCashChainsAndFlagsCritical(t *testing.T) {
	f := newFixture(t)
	// Opening 10000, threshold 2000. A 9000 outflow in week 0 drops the
	// chain below threshold until the week-2 inflow.
	f.addForecastInvoice(t, "100", day(2026, 3, 4))
	f.addForecastInvoice(t, "6000", day(2026, 3, 16))
	f.addBill(t, domain.VendorBill{
		Amount: dec("9000"), Category: "tax", DueDate: day(2026, 3, 4),
	})

	grid, err := f.builder.Build(context.Background(), f.snap.ID)
	require.NoError(t, err)
	require.Equal(t, day(2026, 3, 2), grid.Start)

	w0 := grid.Weeks[0]
	assert.True(t, w0.ClosingCash.Equal(dec("1100")), "got %s", w0.ClosingCash)
	assert.True(t, w0.IsCritical)

	w1 := grid.Weeks[1]
	assert.True(t, w1.OpeningCash.Equal(dec("1100")))
	assert.True(t, w1.IsCritical)

	w2 := grid.Weeks[2]
	assert.True(t, w2.ClosingCash.Equal(dec("7100")), "got %s", w2.ClosingCash)
	assert.False(t, w2.IsCritical)
}

func TestMissingFXExcludesBill(t *testing.T) {
	f := newFixture(t)
	f.addBill(t, domain.VendorBill{
		Amount: dec("1000"), Currency: "USD", Category: "suppliers", DueDate: day(2026, 3, 4),
	})

	grid, err := f.builder.Build(context.Background(), f.snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, grid.ExcludedMissingFX)
	assert.True(t, grid.Weeks[0].OutflowTotal.IsZero())
}
