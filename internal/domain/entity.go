package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role is the privilege class attached to every mutating operation. It is
// always an explicit input, never inferred from ambient state.
type Role string

const (
	// RoleLockCapable may lock snapshots, approve scenarios/actions and
	// override lock gates. In practice this is the CFO seat.
	RoleLockCapable Role = "LOCK_CAPABLE"
	// RoleRegular may perform all other mutations.
	RoleRegular Role = "REGULAR"
)

// CanLock reports whether the role may lock snapshots and approve
// privileged workflow transitions.
func (r Role) CanLock() bool { return r == RoleLockCapable }

// Actor identifies who performed a mutating operation, for audit purposes.
type Actor struct {
	UserID string
	Name   string
	Email  string
	Role   Role
	IP     string
}

// Entity is a legal or operating unit. Created once; identity is stable
// thereafter (renames allowed).
type Entity struct {
	ID               string   `db:"id"`
	Name             string   `db:"name"`
	BaseCurrency     string   `db:"base_currency"`
	PaymentRunDay    int      `db:"payment_run_day"` // weekday 0=Monday .. 6=Sunday
	InternalAccounts []string `db:"-"`

	CreatedAt time.Time `db:"created_at"`
}

// SnapshotStatus is the lifecycle state of a snapshot.
type SnapshotStatus string

const (
	SnapshotDraft          SnapshotStatus = "DRAFT"
	SnapshotReadyForReview SnapshotStatus = "READY_FOR_REVIEW"
	SnapshotLocked         SnapshotStatus = "LOCKED"
)

// Snapshot is a point-in-time captured state for one entity. Once LOCKED,
// no attribute or child row may mutate.
type Snapshot struct {
	ID       string         `db:"id"`
	EntityID string         `db:"entity_id"`
	Status   SnapshotStatus `db:"status"`

	OpeningBankBalance decimal.Decimal `db:"opening_bank_balance"`
	MinCashThreshold   decimal.Decimal `db:"min_cash_threshold"`
	BaseCurrency       string          `db:"base_currency"`

	// Source dataset this snapshot was refreshed from, if any.
	DatasetID string `db:"dataset_id"`

	LockedAt   *time.Time `db:"locked_at"`
	LockedBy   string     `db:"locked_by"`
	LockReason string     `db:"lock_reason"`

	// PoliciesJSON is the matching-policy freeze written once at lock time.
	PoliciesJSON string `db:"policies_json"`

	CreatedAt time.Time `db:"created_at"`
}

// IsLocked reports whether the snapshot has been locked.
func (s *Snapshot) IsLocked() bool { return s.Status == SnapshotLocked }

// AssertNotLocked is the guard every write path calls before mutating the
// snapshot or any child row.
func (s *Snapshot) AssertNotLocked() error {
	if s.IsLocked() {
		return ErrSnapshotLocked()
	}
	return nil
}
