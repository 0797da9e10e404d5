package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/persistence"
)

type workflowRepo struct{ s *Store }

func (r *workflowRepo) CreateException(ctx context.Context, e *domain.Exception) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&e.ID)
	if e.Status == "" {
		e.Status = domain.ExceptionOpen
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	evidence, err := json.Marshal(e.Evidence)
	if err != nil {
		return domain.NewInfraError("DB_ENCODE", err)
	}
	_, err = r.s.db.ExecContext(ctx, `
		INSERT INTO exceptions (id, snapshot_id, type, severity, amount, currency,
			status, evidence, assignee, assigned_by, sla_due, resolution_type,
			resolution_note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.SnapshotID, e.Type, e.Severity, e.Amount, e.Currency,
		e.Status, evidence, e.Assignee, e.AssignedBy, e.SLADue,
		e.ResolutionType, e.ResolutionNote, e.CreatedAt)
	if err != nil {
		return mapInsertErr(err, "EXCEPTION_EXISTS", "exception %s already exists", e.ID)
	}
	return nil
}

func (r *workflowRepo) GetException(ctx context.Context, id string) (*domain.Exception, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	rows, err := r.listExceptions(ctx, `id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, persistence.ErrNotFound
	}
	return rows[0], nil
}

func (r *workflowRepo) UpdateException(ctx context.Context, e *domain.Exception) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	evidence, err := json.Marshal(e.Evidence)
	if err != nil {
		return domain.NewInfraError("DB_ENCODE", err)
	}
	res, err := r.s.db.ExecContext(ctx, `
		UPDATE exceptions SET severity = $2, status = $3, evidence = $4, assignee = $5,
			assigned_by = $6, sla_due = $7, resolution_type = $8, resolution_note = $9
		WHERE id = $1`,
		e.ID, e.Severity, e.Status, evidence, e.Assignee, e.AssignedBy, e.SLADue,
		e.ResolutionType, e.ResolutionNote)
	if err != nil {
		return domain.NewInfraError("DB_UPDATE", err)
	}
	return requireRow(res)
}

func (r *workflowRepo) ListExceptions(ctx context.Context, snapshotID string) ([]*domain.Exception, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	return r.listExceptions(ctx, `snapshot_id = $1`, snapshotID)
}

func (r *workflowRepo) listExceptions(ctx context.Context, where string, args ...interface{}) ([]*domain.Exception, error) {
	rows, err := r.s.db.QueryxContext(ctx, `
		SELECT id, snapshot_id, type, severity, amount, currency, status, evidence,
			assignee, assigned_by, sla_due, resolution_type, resolution_note, created_at
		FROM exceptions WHERE `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	defer rows.Close()

	var out []*domain.Exception
	for rows.Next() {
		var (
			e        domain.Exception
			evidence []byte
		)
		if err := rows.Scan(&e.ID, &e.SnapshotID, &e.Type, &e.Severity, &e.Amount,
			&e.Currency, &e.Status, &evidence, &e.Assignee, &e.AssignedBy, &e.SLADue,
			&e.ResolutionType, &e.ResolutionNote, &e.CreatedAt); err != nil {
			return nil, domain.NewInfraError("DB_SCAN", err)
		}
		if len(evidence) > 0 {
			if err := json.Unmarshal(evidence, &e.Evidence); err != nil {
				return nil, domain.NewInfraError("DB_DECODE", err)
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	return out, nil
}

const scenarioColumns = `id, snapshot_id, base_scenario_id, name, status,
	starting_cash, created_by, decided_by, decided_at, created_at, decide_note`

func (r *workflowRepo) CreateScenario(ctx context.Context, sc *domain.Scenario) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&sc.ID)
	if sc.Status == "" {
		sc.Status = domain.ScenarioDraft
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	_, err := r.s.db.NamedExecContext(ctx, `
		INSERT INTO scenarios (`+scenarioColumns+`)
		VALUES (:id, :snapshot_id, :base_scenario_id, :name, :status,
			:starting_cash, :created_by, :decided_by, :decided_at, :created_at, :decide_note)`, sc)
	if err != nil {
		return mapInsertErr(err, "SCENARIO_EXISTS", "scenario %s already exists", sc.ID)
	}
	return nil
}

func (r *workflowRepo) GetScenario(ctx context.Context, id string) (*domain.Scenario, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var sc domain.Scenario
	err := r.s.db.GetContext(ctx, &sc,
		`SELECT `+scenarioColumns+` FROM scenarios WHERE id = $1`, id)
	if err != nil {
		return nil, mapGetErr(err)
	}
	return &sc, nil
}

func (r *workflowRepo) UpdateScenario(ctx context.Context, sc *domain.Scenario) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	res, err := r.s.db.NamedExecContext(ctx, `
		UPDATE scenarios SET name = :name, status = :status, starting_cash = :starting_cash,
			decided_by = :decided_by, decided_at = :decided_at, decide_note = :decide_note
		WHERE id = :id`, sc)
	if err != nil {
		return domain.NewInfraError("DB_UPDATE", err)
	}
	return requireRow(res)
}

const actionColumns = `id, snapshot_id, title, status, requires_approval, owner, due_at, created_at`

func (r *workflowRepo) CreateAction(ctx context.Context, a *domain.Action) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&a.ID)
	if a.Status == "" {
		a.Status = domain.ActionDraft
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.s.db.NamedExecContext(ctx, `
		INSERT INTO actions (`+actionColumns+`)
		VALUES (:id, :snapshot_id, :title, :status, :requires_approval, :owner, :due_at, :created_at)`, a)
	if err != nil {
		return mapInsertErr(err, "ACTION_EXISTS", "action %s already exists", a.ID)
	}
	return nil
}

func (r *workflowRepo) GetAction(ctx context.Context, id string) (*domain.Action, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var a domain.Action
	err := r.s.db.GetContext(ctx, &a,
		`SELECT `+actionColumns+` FROM actions WHERE id = $1`, id)
	if err != nil {
		return nil, mapGetErr(err)
	}
	return &a, nil
}

func (r *workflowRepo) UpdateAction(ctx context.Context, a *domain.Action) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	res, err := r.s.db.NamedExecContext(ctx, `
		UPDATE actions SET title = :title, status = :status,
			requires_approval = :requires_approval, owner = :owner, due_at = :due_at
		WHERE id = :id`, a)
	if err != nil {
		return domain.NewInfraError("DB_UPDATE", err)
	}
	return requireRow(res)
}

func (r *workflowRepo) CreateComment(ctx context.Context, c *domain.Comment) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&c.ID)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	evidence, err := json.Marshal(c.Evidence)
	if err != nil {
		return domain.NewInfraError("DB_ENCODE", err)
	}
	_, err = r.s.db.ExecContext(ctx, `
		INSERT INTO comments (id, parent_type, parent_id, author, body, reply_to,
			evidence, created_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.ParentType, c.ParentID, c.Author, c.Body, c.ReplyTo,
		evidence, c.CreatedAt, c.DeletedAt)
	if err != nil {
		return mapInsertErr(err, "COMMENT_EXISTS", "comment %s already exists", c.ID)
	}
	return nil
}

func (r *workflowRepo) SoftDeleteComment(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	res, err := r.s.db.ExecContext(ctx,
		`UPDATE comments SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return domain.NewInfraError("DB_UPDATE", err)
	}
	return requireRow(res)
}

func (r *workflowRepo) ListComments(ctx context.Context, parentType, parentID string) ([]*domain.Comment, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	rows, err := r.s.db.QueryxContext(ctx, `
		SELECT id, parent_type, parent_id, author, body, reply_to, evidence, created_at, deleted_at
		FROM comments WHERE parent_type = $1 AND parent_id = $2 ORDER BY created_at, id`,
		parentType, parentID)
	if err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	defer rows.Close()

	var out []*domain.Comment
	for rows.Next() {
		var (
			c        domain.Comment
			evidence []byte
		)
		if err := rows.Scan(&c.ID, &c.ParentType, &c.ParentID, &c.Author, &c.Body,
			&c.ReplyTo, &evidence, &c.CreatedAt, &c.DeletedAt); err != nil {
			return nil, domain.NewInfraError("DB_SCAN", err)
		}
		if len(evidence) > 0 {
			if err := json.Unmarshal(evidence, &c.Evidence); err != nil {
				return nil, domain.NewInfraError("DB_DECODE", err)
			}
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	return out, nil
}

// auditRepo is append-only. There are no update or delete statements on the
// audit tables anywhere in this package.
type auditRepo struct{ s *Store }

const auditColumns = `id, snapshot_id, actor_id, actor_role, action, resource_type,
	resource_id, before_json, after_json, ip, note, created_at`

func (r *auditRepo) Append(ctx context.Context, a *domain.AuditLog) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&a.ID)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.s.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (`+auditColumns+`)
		VALUES (:id, :snapshot_id, :actor_id, :actor_role, :action, :resource_type,
			:resource_id, :before_json, :after_json, :ip, :note, :created_at)`, a)
	if err != nil {
		return mapInsertErr(err, "AUDIT_EXISTS", "audit log %s already exists", a.ID)
	}
	return nil
}

func (r *auditRepo) List(ctx context.Context, snapshotID string) ([]*domain.AuditLog, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var out []*domain.AuditLog
	err := r.s.db.SelectContext(ctx, &out,
		`SELECT `+auditColumns+` FROM audit_logs WHERE snapshot_id = $1 ORDER BY created_at, id`, snapshotID)
	if err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	return out, nil
}

const overrideColumns = `id, snapshot_id, user_id, role, email, ip,
	failed_gates_json, acknowledgment, reason, created_at`

func (r *auditRepo) AppendOverride(ctx context.Context, o *domain.LockGateOverrideLog) error {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	ensureID(&o.ID)
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := r.s.db.NamedExecContext(ctx, `
		INSERT INTO lock_gate_overrides (`+overrideColumns+`)
		VALUES (:id, :snapshot_id, :user_id, :role, :email, :ip,
			:failed_gates_json, :acknowledgment, :reason, :created_at)`, o)
	if err != nil {
		return mapInsertErr(err, "OVERRIDE_EXISTS", "override %s already exists", o.ID)
	}
	return nil
}

func (r *auditRepo) ListOverrides(ctx context.Context, snapshotID string) ([]*domain.LockGateOverrideLog, error) {
	ctx, cancel := context.WithTimeout(ctx, r.s.timeout)
	defer cancel()

	var out []*domain.LockGateOverrideLog
	err := r.s.db.SelectContext(ctx, &out,
		`SELECT `+overrideColumns+` FROM lock_gate_overrides WHERE snapshot_id = $1 ORDER BY created_at, id`, snapshotID)
	if err != nil {
		return nil, domain.NewInfraError("DB_QUERY", err)
	}
	return out, nil
}
