package workflow

import (
	"context"

	"github.com/ledgerline/cashops/internal/domain"
)

// AddComment attaches a threaded note to a workflow parent. The snapshot id
// anchors the locked-snapshot guard and the audit trail.
func (s *Service) AddComment(ctx context.Context, snapshotID string, c *domain.Comment, actor domain.Actor) error {
	if _, err := s.guarded(ctx, snapshotID); err != nil {
		return err
	}
	if c.Body == "" {
		return domain.NewInputError("EMPTY_COMMENT", "comment body is required")
	}
	c.Author = actor.UserID
	if err := s.store.Workflow().CreateComment(ctx, c); err != nil {
		return err
	}
	return s.audit(ctx, snapshotID, actor, "Create", "comment", c.ID, c.ParentType)
}

// DeleteComment soft-deletes a comment; the row and its audit trail remain.
func (s *Service) DeleteComment(ctx context.Context, snapshotID, commentID string, actor domain.Actor) error {
	if _, err := s.guarded(ctx, snapshotID); err != nil {
		return err
	}
	if err := s.store.Workflow().SoftDeleteComment(ctx, commentID, s.now()); err != nil {
		return err
	}
	return s.audit(ctx, snapshotID, actor, "Delete", "comment", commentID, "")
}
