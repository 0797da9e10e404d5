package domain

import "time"

// Severity grades exceptions and invariant findings.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ExceptionStatus is the lifecycle of a flagged condition.
type ExceptionStatus string

const (
	ExceptionOpen      ExceptionStatus = "OPEN"
	ExceptionInReview  ExceptionStatus = "IN_REVIEW"
	ExceptionEscalated ExceptionStatus = "ESCALATED"
	ExceptionResolved  ExceptionStatus = "RESOLVED"
	ExceptionWontFix   ExceptionStatus = "WONT_FIX"
)

// EvidenceLink points a workflow record at the row that substantiates it.
type EvidenceLink struct {
	EvidenceType string `json:"evidence_type"`
	EvidenceID   string `json:"evidence_id"`
}

// Exception is a flagged condition on a snapshot. Critical exceptions block
// snapshot readiness; warning/info ones do not.
type Exception struct {
	ID         string `db:"id"`
	SnapshotID string `db:"snapshot_id"`

	Type     string          `db:"type"`
	Severity Severity        `db:"severity"`
	Amount   string          `db:"amount"`
	Currency string          `db:"currency"`
	Status   ExceptionStatus `db:"status"`
	Evidence []EvidenceLink  `db:"-"`

	Assignee   string     `db:"assignee"`
	AssignedBy string     `db:"assigned_by"`
	SLADue     *time.Time `db:"sla_due"`

	ResolutionType string `db:"resolution_type"`
	ResolutionNote string `db:"resolution_note"`

	CreatedAt time.Time `db:"created_at"`
}

// ScenarioStatus is the lifecycle of a planning scenario.
type ScenarioStatus string

const (
	ScenarioDraft    ScenarioStatus = "DRAFT"
	ScenarioProposed ScenarioStatus = "PROPOSED"
	ScenarioApproved ScenarioStatus = "APPROVED"
	ScenarioRejected ScenarioStatus = "REJECTED"
)

// Scenario is a what-if plan derived from a base snapshot. The base is a
// parent_id reference, never an embedded object graph.
type Scenario struct {
	ID             string         `db:"id"`
	SnapshotID     string         `db:"snapshot_id"`
	BaseScenarioID string         `db:"base_scenario_id"`
	Name           string         `db:"name"`
	Status         ScenarioStatus `db:"status"`

	// StartingCash is a planning input only; the authoritative opening
	// balance lives on the snapshot.
	StartingCash string `db:"starting_cash"`

	CreatedBy  string     `db:"created_by"`
	DecidedBy  string     `db:"decided_by"`
	DecidedAt  *time.Time `db:"decided_at"`
	CreatedAt  time.Time  `db:"created_at"`
	DecideNote string     `db:"decide_note"`
}

// ActionStatus is the lifecycle of a tracked remediation action.
type ActionStatus string

const (
	ActionDraft      ActionStatus = "DRAFT"
	ActionPending    ActionStatus = "PENDING_APPROVAL"
	ActionApproved   ActionStatus = "APPROVED"
	ActionInProgress ActionStatus = "IN_PROGRESS"
	ActionDone       ActionStatus = "DONE"
	ActionCancelled  ActionStatus = "CANCELLED"
)

// Action is a tracked task attached to a snapshot.
type Action struct {
	ID         string       `db:"id"`
	SnapshotID string       `db:"snapshot_id"`
	Title      string       `db:"title"`
	Status     ActionStatus `db:"status"`

	RequiresApproval bool       `db:"requires_approval"`
	Owner            string     `db:"owner"`
	DueAt            *time.Time `db:"due_at"`
	CreatedAt        time.Time  `db:"created_at"`
}

// Comment is a threaded note on any workflow parent. Soft-delete only.
type Comment struct {
	ID         string `db:"id"`
	ParentType string `db:"parent_type"`
	ParentID   string `db:"parent_id"`

	Author   string         `db:"author"`
	Body     string         `db:"body"`
	ReplyTo  string         `db:"reply_to"`
	Evidence []EvidenceLink `db:"-"`

	CreatedAt time.Time  `db:"created_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

// AuditLog is one append-only record of a mutating action.
type AuditLog struct {
	ID         string `db:"id"`
	SnapshotID string `db:"snapshot_id"`

	ActorID      string `db:"actor_id"`
	ActorRole    Role   `db:"actor_role"`
	Action       string `db:"action"` // verb: Create, Update, Delete, Lock, Approve, ...
	ResourceType string `db:"resource_type"`
	ResourceID   string `db:"resource_id"`

	BeforeJSON string `db:"before_json"`
	AfterJSON  string `db:"after_json"`
	IP         string `db:"ip"`
	Note       string `db:"note"`

	CreatedAt time.Time `db:"created_at"`
}

// LockGateOverrideLog is the append-only record of a CFO gate override.
type LockGateOverrideLog struct {
	ID         string `db:"id"`
	SnapshotID string `db:"snapshot_id"`

	UserID string `db:"user_id"`
	Role   Role   `db:"role"`
	Email  string `db:"email"`
	IP     string `db:"ip"`

	FailedGatesJSON string `db:"failed_gates_json"`
	Acknowledgment  string `db:"acknowledgment"`
	Reason          string `db:"reason"`

	CreatedAt time.Time `db:"created_at"`
}
