package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OutflowTemplateItem is a planned recurring outflow (rent, payroll, tax
// prepayments) used to pre-fill calendar weeks. An actual vendor bill for
// the same week and category always overrides the template.
type OutflowTemplateItem struct {
	ID       string `db:"id"`
	EntityID string `db:"entity_id"`

	Category        string          `db:"category"`
	Amount          decimal.Decimal `db:"amount"`
	Currency        string          `db:"currency"`
	PlannedDate     time.Time       `db:"planned_date"`
	IsDiscretionary bool            `db:"is_discretionary"`
}
