package workflow

import (
	"context"

	"github.com/ledgerline/cashops/internal/domain"
)

// CreateScenario records a what-if plan in DRAFT state.
func (s *Service) CreateScenario(ctx context.Context, sc *domain.Scenario, actor domain.Actor) error {
	if _, err := s.guarded(ctx, sc.SnapshotID); err != nil {
		return err
	}
	sc.Status = domain.ScenarioDraft
	sc.CreatedBy = actor.UserID
	if err := s.store.Workflow().CreateScenario(ctx, sc); err != nil {
		return err
	}
	return s.audit(ctx, sc.SnapshotID, actor, "Create", "scenario", sc.ID, sc.Name)
}

// ProposeScenario moves DRAFT to PROPOSED.
func (s *Service) ProposeScenario(ctx context.Context, scenarioID string, actor domain.Actor) error {
	sc, err := s.store.Workflow().GetScenario(ctx, scenarioID)
	if err != nil {
		return err
	}
	if _, err := s.guarded(ctx, sc.SnapshotID); err != nil {
		return err
	}
	if sc.Status != domain.ScenarioDraft {
		return domain.NewStateError(domain.CodeBadTransition,
			"scenario %s is %s, expected %s", sc.ID, sc.Status, domain.ScenarioDraft)
	}
	sc.Status = domain.ScenarioProposed
	if err := s.store.Workflow().UpdateScenario(ctx, sc); err != nil {
		return err
	}
	return s.audit(ctx, sc.SnapshotID, actor, "Update", "scenario", sc.ID, "proposed")
}

// DecideScenario moves PROPOSED to APPROVED or REJECTED. Only the
// lock-capable role may decide.
func (s *Service) DecideScenario(ctx context.Context, scenarioID string, approve bool, note string, actor domain.Actor) error {
	if !actor.Role.CanLock() {
		return domain.NewPolicyError(domain.CodeRoleForbidden,
			"role %s may not decide scenarios", actor.Role)
	}
	sc, err := s.store.Workflow().GetScenario(ctx, scenarioID)
	if err != nil {
		return err
	}
	if _, err := s.guarded(ctx, sc.SnapshotID); err != nil {
		return err
	}
	if sc.Status != domain.ScenarioProposed {
		return domain.NewStateError(domain.CodeBadTransition,
			"scenario %s is %s, expected %s", sc.ID, sc.Status, domain.ScenarioProposed)
	}

	now := s.now()
	if approve {
		sc.Status = domain.ScenarioApproved
	} else {
		sc.Status = domain.ScenarioRejected
	}
	sc.DecidedBy = actor.UserID
	sc.DecidedAt = &now
	sc.DecideNote = note
	if err := s.store.Workflow().UpdateScenario(ctx, sc); err != nil {
		return err
	}
	return s.audit(ctx, sc.SnapshotID, actor, "Approve", "scenario", sc.ID, string(sc.Status))
}

// actionTransitions enumerates the legal action state machine edges.
var actionTransitions = map[domain.ActionStatus][]domain.ActionStatus{
	domain.ActionDraft:      {domain.ActionPending, domain.ActionCancelled},
	domain.ActionPending:    {domain.ActionApproved, domain.ActionCancelled},
	domain.ActionApproved:   {domain.ActionInProgress, domain.ActionCancelled},
	domain.ActionInProgress: {domain.ActionDone, domain.ActionCancelled},
}

// CreateAction records a remediation task in DRAFT state.
func (s *Service) CreateAction(ctx context.Context, a *domain.Action, actor domain.Actor) error {
	if _, err := s.guarded(ctx, a.SnapshotID); err != nil {
		return err
	}
	a.Status = domain.ActionDraft
	if err := s.store.Workflow().CreateAction(ctx, a); err != nil {
		return err
	}
	return s.audit(ctx, a.SnapshotID, actor, "Create", "action", a.ID, a.Title)
}

// TransitionAction moves an action along its state machine. The approval
// edge of an approval-requiring action is restricted to the lock-capable
// role.
func (s *Service) TransitionAction(ctx context.Context, actionID string, to domain.ActionStatus, actor domain.Actor) error {
	a, err := s.store.Workflow().GetAction(ctx, actionID)
	if err != nil {
		return err
	}
	if _, err := s.guarded(ctx, a.SnapshotID); err != nil {
		return err
	}

	legal := false
	for _, next := range actionTransitions[a.Status] {
		if next == to {
			legal = true
			break
		}
	}
	if !legal {
		return domain.NewStateError(domain.CodeBadTransition,
			"action %s cannot move from %s to %s", a.ID, a.Status, to)
	}
	if to == domain.ActionApproved && a.RequiresApproval && !actor.Role.CanLock() {
		return domain.NewPolicyError(domain.CodeRoleForbidden,
			"role %s may not approve actions", actor.Role)
	}

	a.Status = to
	if err := s.store.Workflow().UpdateAction(ctx, a); err != nil {
		return err
	}
	return s.audit(ctx, a.SnapshotID, actor, "Update", "action", a.ID, string(to))
}
