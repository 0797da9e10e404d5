package workflow

import (
	"context"
	"time"

	"github.com/ledgerline/cashops/internal/domain"
)

// slaHours is the default exception SLA applied at assignment.
const slaHours = 24

// RaiseException records a new flagged condition in OPEN state.
func (s *Service) RaiseException(ctx context.Context, exc *domain.Exception, actor domain.Actor) error {
	if _, err := s.guarded(ctx, exc.SnapshotID); err != nil {
		return err
	}
	exc.Status = domain.ExceptionOpen
	if err := s.store.Workflow().CreateException(ctx, exc); err != nil {
		return err
	}
	return s.audit(ctx, exc.SnapshotID, actor, "Create", "exception", exc.ID, exc.Type)
}

// AssignException moves OPEN to IN_REVIEW, sets the assignee and starts the
// SLA clock.
func (s *Service) AssignException(ctx context.Context, exceptionID, assignee string, actor domain.Actor) error {
	exc, err := s.store.Workflow().GetException(ctx, exceptionID)
	if err != nil {
		return err
	}
	if _, err := s.guarded(ctx, exc.SnapshotID); err != nil {
		return err
	}
	if exc.Status != domain.ExceptionOpen {
		return domain.NewStateError(domain.CodeBadTransition,
			"exception %s is %s, expected %s", exc.ID, exc.Status, domain.ExceptionOpen)
	}

	due := s.now().Add(slaHours * time.Hour)
	exc.Status = domain.ExceptionInReview
	exc.Assignee = assignee
	exc.AssignedBy = actor.UserID
	exc.SLADue = &due
	if err := s.store.Workflow().UpdateException(ctx, exc); err != nil {
		return err
	}
	return s.audit(ctx, exc.SnapshotID, actor, "Update", "exception", exc.ID, "assigned to "+assignee)
}

// CloseException moves IN_REVIEW to RESOLVED, ESCALATED or WONT_FIX.
// Resolution type and note are mandatory.
func (s *Service) CloseException(ctx context.Context, exceptionID string, outcome domain.ExceptionStatus,
	resolutionType, resolutionNote string, actor domain.Actor) error {

	switch outcome {
	case domain.ExceptionResolved, domain.ExceptionEscalated, domain.ExceptionWontFix:
	default:
		return domain.NewInputError("BAD_OUTCOME", "%s is not a terminal exception state", outcome)
	}
	if resolutionType == "" || resolutionNote == "" {
		return domain.NewInputError("RESOLUTION_REQUIRED",
			"resolution type and note are required to close an exception")
	}

	exc, err := s.store.Workflow().GetException(ctx, exceptionID)
	if err != nil {
		return err
	}
	if _, err := s.guarded(ctx, exc.SnapshotID); err != nil {
		return err
	}
	if exc.Status != domain.ExceptionInReview {
		return domain.NewStateError(domain.CodeBadTransition,
			"exception %s is %s, expected %s", exc.ID, exc.Status, domain.ExceptionInReview)
	}

	exc.Status = outcome
	exc.ResolutionType = resolutionType
	exc.ResolutionNote = resolutionNote
	if err := s.store.Workflow().UpdateException(ctx, exc); err != nil {
		return err
	}
	return s.audit(ctx, exc.SnapshotID, actor, "Update", "exception", exc.ID, string(outcome))
}
