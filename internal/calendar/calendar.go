// Package calendar builds the 13-week cash grid: forecast inflows by
// confidence band, precedence-aware outflows with the payment-run-day
// shift, and the chained closing-cash line against the minimum threshold.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/persistence"
)

// Horizon is the number of weeks in the grid.
const Horizon = 13

// CategoryOutflow is the per-category split of one week's outflows.
type CategoryOutflow struct {
	Category      string          `json:"category"`
	Committed     decimal.Decimal `json:"committed"`
	Discretionary decimal.Decimal `json:"discretionary"`
	FromTemplate  bool            `json:"from_template"`
}

// Week is one column of the grid.
type Week struct {
	Start time.Time `json:"start"`

	InflowP50 decimal.Decimal `json:"inflow_p50"`
	InflowP25 decimal.Decimal `json:"inflow_p25"` // upside
	InflowP75 decimal.Decimal `json:"inflow_p75"` // downside

	Outflows           map[string]*CategoryOutflow `json:"outflows"`
	CommittedTotal     decimal.Decimal             `json:"committed_total"`
	DiscretionaryTotal decimal.Decimal             `json:"discretionary_total"`
	OutflowTotal       decimal.Decimal             `json:"outflow_total"`

	OpeningCash decimal.Decimal `json:"opening_cash"`
	ClosingCash decimal.Decimal `json:"closing_cash"`
	IsCritical  bool            `json:"is_critical"`
}

// Grid is the full 13-week calendar of one snapshot.
type Grid struct {
	SnapshotID string    `json:"snapshot_id"`
	Start      time.Time `json:"start"`
	Weeks      []*Week   `json:"weeks"`

	// ExcludedMissingFX counts documents left out for lack of a rate.
	ExcludedMissingFX int `json:"excluded_missing_fx"`
}

// CriticalWeeks returns the starts of weeks below the minimum threshold.
func (g *Grid) CriticalWeeks() []time.Time {
	var out []time.Time
	for _, w := range g.Weeks {
		if w.IsCritical {
			out = append(out, w.Start)
		}
	}
	return out
}

// Builder assembles grids from the store.
type Builder struct {
	store persistence.Store
	now   func() time.Time
}

// NewBuilder creates a calendar builder.
func NewBuilder(store persistence.Store) *Builder {
	return &Builder{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// mondayOf truncates a date to the Monday of its ISO week.
func mondayOf(t time.Time) time.Time {
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

// nextRunDay shifts a date forward to the next occurrence of the entity's
// payment run day (0=Monday .. 6=Sunday). A date already on the run day
// stays put.
func nextRunDay(t time.Time, runDay int) time.Time {
	current := (int(t.Weekday()) + 6) % 7
	delta := (runDay - current + 7) % 7
	return t.AddDate(0, 0, delta)
}

// Build assembles the grid for a snapshot.
func (b *Builder) Build(ctx context.Context, snapshotID string) (*Grid, error) {
	snap, err := b.store.Snapshots().Get(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", snapshotID, err)
	}
	entity, err := b.store.Entities().Get(ctx, snap.EntityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %s: %w", snap.EntityID, err)
	}
	invoices, err := b.store.Documents().ListInvoices(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	bills, err := b.store.Documents().ListBills(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	templates, err := b.store.Documents().ListOutflowTemplates(ctx, snap.EntityID)
	if err != nil {
		return nil, err
	}

	grid := &Grid{SnapshotID: snapshotID}
	grid.Start = b.gridStart(invoices)
	for i := 0; i < Horizon; i++ {
		grid.Weeks = append(grid.Weeks, &Week{
			Start:              grid.Start.AddDate(0, 0, 7*i),
			InflowP50:          decimal.Zero,
			InflowP25:          decimal.Zero,
			InflowP75:          decimal.Zero,
			Outflows:           make(map[string]*CategoryOutflow),
			CommittedTotal:     decimal.Zero,
			DiscretionaryTotal: decimal.Zero,
			OutflowTotal:       decimal.Zero,
		})
	}

	b.addInflows(ctx, snap, grid, invoices)
	b.addBillOutflows(ctx, snap, entity, grid, bills)
	b.addTemplateOutflows(grid, templates)
	b.chainClosings(snap, grid)

	log.Info().
		Str("snapshot_id", snapshotID).
		Time("start", grid.Start).
		Int("critical_weeks", len(grid.CriticalWeeks())).
		Msg("cash calendar built")
	return grid, nil
}

// gridStart is the Monday of the earliest predicted payment week, or of the
// current week when no forecast exists.
func (b *Builder) gridStart(invoices []*domain.Invoice) time.Time {
	var earliest *time.Time
	for _, inv := range invoices {
		if inv.IsPaid() || inv.PredictedPaymentDate == nil {
			continue
		}
		if earliest == nil || inv.PredictedPaymentDate.Before(*earliest) {
			earliest = inv.PredictedPaymentDate
		}
	}
	if earliest == nil {
		return mondayOf(b.now())
	}
	return mondayOf(*earliest)
}

// weekIndex buckets a date into the grid. Dates before the start clamp to
// week zero; dates past the horizon return -1.
func (g *Grid) weekIndex(t time.Time) int {
	days := int(t.Sub(g.Start).Hours() / 24)
	if days < 0 {
		return 0
	}
	idx := days / 7
	if idx >= Horizon {
		return -1
	}
	return idx
}

// toBase converts an amount into the snapshot base currency, reporting
// false when no rate is stored. Rates are never defaulted.
func (b *Builder) toBase(ctx context.Context, snap *domain.Snapshot, amount decimal.Decimal, currency string) (decimal.Decimal, bool) {
	if currency == "" || currency == snap.BaseCurrency {
		return amount, true
	}
	rate, err := b.store.FX().Find(ctx, snap.ID, currency, snap.BaseCurrency)
	if err != nil {
		return decimal.Zero, false
	}
	return amount.Mul(rate.Rate), true
}

func (b *Builder) addInflows(ctx context.Context, snap *domain.Snapshot, grid *Grid, invoices []*domain.Invoice) {
	for _, inv := range invoices {
		if inv.IsPaid() || inv.PredictedPaymentDate == nil {
			continue
		}
		amount, ok := b.toBase(ctx, snap, inv.Amount, inv.Currency)
		if !ok {
			grid.ExcludedMissingFX++
			continue
		}
		bucket := func(t *time.Time, add func(w *Week, amt decimal.Decimal)) {
			if t == nil {
				return
			}
			if idx := grid.weekIndex(*t); idx >= 0 {
				add(grid.Weeks[idx], amount)
			}
		}
		bucket(inv.PredictedPaymentDate, func(w *Week, amt decimal.Decimal) { w.InflowP50 = w.InflowP50.Add(amt) })
		bucket(inv.ConfidenceP25Date, func(w *Week, amt decimal.Decimal) { w.InflowP25 = w.InflowP25.Add(amt) })
		bucket(inv.ConfidenceP75Date, func(w *Week, amt decimal.Decimal) { w.InflowP75 = w.InflowP75.Add(amt) })
	}
}

// addBillOutflows buckets unpaid, not-on-hold bills by their cash-out date:
// the explicit schedule when present, otherwise max(due, approved, today)
// shifted to the entity's payment run day.
func (b *Builder) addBillOutflows(ctx context.Context, snap *domain.Snapshot, entity *domain.Entity, grid *Grid, bills []*domain.VendorBill) {
	today := b.now()
	for _, bill := range bills {
		if bill.OnHold || bill.PaymentDate != nil {
			continue
		}

		var cashOut time.Time
		if bill.ScheduledPaymentDate != nil {
			cashOut = *bill.ScheduledPaymentDate
		} else {
			cashOut = bill.DueDate
			if bill.ApprovedAt != nil && bill.ApprovedAt.After(cashOut) {
				cashOut = *bill.ApprovedAt
			}
			if today.After(cashOut) {
				cashOut = today
			}
			cashOut = nextRunDay(cashOut, entity.PaymentRunDay)
		}

		amount, ok := b.toBase(ctx, snap, bill.Amount.Abs(), bill.Currency)
		if !ok {
			grid.ExcludedMissingFX++
			continue
		}
		idx := grid.weekIndex(cashOut)
		if idx < 0 {
			continue
		}
		addOutflow(grid.Weeks[idx], bill.Category, amount, bill.IsDiscretionary, false)
	}
}

// addTemplateOutflows fills weeks from the planning template, skipping any
// (week, category) already covered by an actual bill.
func (b *Builder) addTemplateOutflows(grid *Grid, templates []*domain.OutflowTemplateItem) {
	for _, item := range templates {
		idx := grid.weekIndex(item.PlannedDate)
		if idx < 0 {
			continue
		}
		week := grid.Weeks[idx]
		if existing, ok := week.Outflows[categoryKey(item.Category)]; ok && !existing.FromTemplate {
			continue
		}
		// Template amounts are planned in base currency.
		addOutflow(week, item.Category, item.Amount.Abs(), item.IsDiscretionary, true)
	}
}

func categoryKey(category string) string {
	if category == "" {
		return "uncategorized"
	}
	return category
}

func addOutflow(w *Week, category string, amount decimal.Decimal, discretionary, fromTemplate bool) {
	key := categoryKey(category)
	co := w.Outflows[key]
	if co == nil {
		co = &CategoryOutflow{Category: key, Committed: decimal.Zero, Discretionary: decimal.Zero, FromTemplate: fromTemplate}
		w.Outflows[key] = co
	}
	if !fromTemplate {
		co.FromTemplate = false
	}
	if discretionary {
		co.Discretionary = co.Discretionary.Add(amount)
		w.DiscretionaryTotal = w.DiscretionaryTotal.Add(amount)
	} else {
		co.Committed = co.Committed.Add(amount)
		w.CommittedTotal = w.CommittedTotal.Add(amount)
	}
	w.OutflowTotal = w.OutflowTotal.Add(amount)
}

// chainClosings runs the cash line through the grid and flags weeks below
// the minimum threshold.
func (b *Builder) chainClosings(snap *domain.Snapshot, grid *Grid) {
	opening := snap.OpeningBankBalance
	for _, w := range grid.Weeks {
		w.OpeningCash = opening
		w.ClosingCash = opening.Add(w.InflowP50).Sub(w.OutflowTotal)
		w.IsCritical = w.ClosingCash.Cmp(snap.MinCashThreshold) < 0
		opening = w.ClosingCash
	}
}
