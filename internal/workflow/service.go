// Package workflow implements the snapshot lifecycle and the collaboration
// state machines around it: exceptions, scenarios, actions and comments.
// Every mutation checks the locked-snapshot guard first and appends one
// audit row.
package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/persistence"
)

// GateChecker reports which lock gates currently fail for a snapshot. The
// trust package provides the production implementation.
type GateChecker interface {
	FailedGates(ctx context.Context, snapshotID string) ([]string, error)
}

// Service coordinates workflow transitions over the store.
type Service struct {
	store persistence.Store
	gates GateChecker
	now   func() time.Time
}

// NewService creates a workflow service. gates may be nil, in which case
// locking never fails a gate (used by tests and offline tooling).
func NewService(store persistence.Store, gates GateChecker) *Service {
	return &Service{
		store: store,
		gates: gates,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Override carries the CFO acknowledgment for locking past failed gates.
type Override struct {
	AcknowledgmentText string
	OverrideReason     string
}

// minAcknowledgment is the shortest acceptable override acknowledgment.
const minAcknowledgment = 20

// SubmitForReview transitions DRAFT to READY_FOR_REVIEW. Denied while any
// open or in-review critical exception exists.
func (s *Service) SubmitForReview(ctx context.Context, snapshotID string, actor domain.Actor) error {
	snap, err := s.store.Snapshots().Get(ctx, snapshotID)
	if err != nil {
		return err
	}
	if err := snap.AssertNotLocked(); err != nil {
		return err
	}
	if snap.Status != domain.SnapshotDraft {
		return domain.NewStateError(domain.CodeBadTransition,
			"snapshot %s is %s, expected %s", snap.ID, snap.Status, domain.SnapshotDraft)
	}

	exceptions, err := s.store.Workflow().ListExceptions(ctx, snapshotID)
	if err != nil {
		return err
	}
	for _, exc := range exceptions {
		open := exc.Status == domain.ExceptionOpen || exc.Status == domain.ExceptionInReview
		if open && exc.Severity == domain.SeverityCritical {
			return domain.NewStateError("CRITICAL_EXCEPTIONS_OPEN",
				"critical exception %s (%s) blocks review readiness", exc.ID, exc.Type)
		}
	}

	snap.Status = domain.SnapshotReadyForReview
	if err := s.store.Snapshots().Update(ctx, snap); err != nil {
		return err
	}
	return s.audit(ctx, snapshotID, actor, "Update", "snapshot", snap.ID, "submitted for review")
}

// Lock transitions READY_FOR_REVIEW to LOCKED. Restricted to the
// lock-capable role; all gates must pass unless a valid override is
// supplied. Locking freezes the entity's matching policies onto the
// snapshot.
func (s *Service) Lock(ctx context.Context, snapshotID string, actor domain.Actor, reason string, override *Override) error {
	snap, err := s.store.Snapshots().Get(ctx, snapshotID)
	if err != nil {
		return err
	}
	if err := snap.AssertNotLocked(); err != nil {
		return err
	}
	if snap.Status != domain.SnapshotReadyForReview {
		return domain.NewStateError(domain.CodeBadTransition,
			"snapshot %s is %s, expected %s", snap.ID, snap.Status, domain.SnapshotReadyForReview)
	}
	if !actor.Role.CanLock() {
		return domain.NewPolicyError(domain.CodeRoleForbidden,
			"role %s may not lock snapshots", actor.Role)
	}

	var failed []string
	if s.gates != nil {
		failed, err = s.gates.FailedGates(ctx, snapshotID)
		if err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		if err := s.applyOverride(ctx, snap, actor, failed, override); err != nil {
			return err
		}
	}

	frozen, err := s.freezePolicies(ctx, snap.EntityID)
	if err != nil {
		return err
	}

	now := s.now()
	snap.Status = domain.SnapshotLocked
	snap.LockedAt = &now
	snap.LockedBy = actor.UserID
	snap.LockReason = reason
	snap.PoliciesJSON = frozen
	if err := s.store.Snapshots().Update(ctx, snap); err != nil {
		return err
	}

	log.Info().
		Str("snapshot_id", snap.ID).
		Str("locked_by", actor.UserID).
		Int("failed_gates", len(failed)).
		Msg("snapshot locked")
	return s.audit(ctx, snapshotID, actor, "Lock", "snapshot", snap.ID, reason)
}

// applyOverride validates the CFO acknowledgment and records the override.
func (s *Service) applyOverride(ctx context.Context, snap *domain.Snapshot, actor domain.Actor, failed []string, o *Override) error {
	if o == nil {
		return domain.NewPolicyError(domain.CodeGateFailed,
			"lock gates failed: %v", failed)
	}
	if len(o.AcknowledgmentText) < minAcknowledgment {
		return domain.NewInputError("ACK_TOO_SHORT",
			"override acknowledgment must be at least %d characters", minAcknowledgment)
	}
	if o.OverrideReason == "" {
		return domain.NewInputError("REASON_REQUIRED", "override reason is required")
	}

	gatesJSON, err := json.Marshal(failed)
	if err != nil {
		return err
	}
	return s.store.Audit().AppendOverride(ctx, &domain.LockGateOverrideLog{
		SnapshotID:      snap.ID,
		UserID:          actor.UserID,
		Role:            actor.Role,
		Email:           actor.Email,
		IP:              actor.IP,
		FailedGatesJSON: string(gatesJSON),
		Acknowledgment:  o.AcknowledgmentText,
		Reason:          o.OverrideReason,
	})
}

// freezePolicies serializes the entity's matching policies so a locked
// snapshot reproduces deterministically.
func (s *Service) freezePolicies(ctx context.Context, entityID string) (string, error) {
	policies, err := s.store.Policies().ListByEntity(ctx, entityID)
	if err != nil {
		return "", err
	}
	if len(policies) == 0 {
		def := domain.DefaultMatchingPolicy()
		def.EntityID = entityID
		policies = []*domain.MatchingPolicy{&def}
	}
	b, err := json.Marshal(policies)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// guarded loads a snapshot and refuses the mutation when locked.
func (s *Service) guarded(ctx context.Context, snapshotID string) (*domain.Snapshot, error) {
	snap, err := s.store.Snapshots().Get(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if err := snap.AssertNotLocked(); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Service) audit(ctx context.Context, snapshotID string, actor domain.Actor, action, resourceType, resourceID, note string) error {
	return s.store.Audit().Append(ctx, &domain.AuditLog{
		SnapshotID:   snapshotID,
		ActorID:      actor.UserID,
		ActorRole:    actor.Role,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IP:           actor.IP,
		Note:         note,
	})
}
