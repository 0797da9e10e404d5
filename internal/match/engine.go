package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/cashops/internal/domain"
	"github.com/ledgerline/cashops/internal/persistence"
	"github.com/ledgerline/cashops/internal/telemetry"
)

// Engine runs tiered matching over one snapshot and persists the outcome.
type Engine struct {
	store persistence.Store
}

// NewEngine creates a matching engine over a store.
func NewEngine(store persistence.Store) *Engine {
	return &Engine{store: store}
}

// Result summarizes one matching run.
type Result struct {
	SnapshotID string `json:"snapshot_id"`

	Transactions int `json:"transactions"`
	AutoApplied  int `json:"auto_applied"`
	Suggested    int `json:"suggested"`
	Manual       int `json:"manual"`
	Failed       int `json:"failed"`

	CashExplainedPct float64 `json:"cash_explained_pct"`
}

// Run matches every unreconciled transaction of the snapshot. The snapshot
// must not be locked.
func (e *Engine) Run(ctx context.Context, snapshotID string) (*Result, error) {
	snap, err := e.store.Snapshots().Get(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", snapshotID, err)
	}
	if err := snap.AssertNotLocked(); err != nil {
		return nil, err
	}

	idx, err := e.buildIndex(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	txns, err := e.store.BankTxns().List(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	res := &Result{SnapshotID: snapshotID}
	for _, txn := range txns {
		if txn.ReconStatus != domain.ReconNone {
			continue
		}
		res.Transactions++

		policy := e.policyFor(ctx, snap, txn.Currency)
		cands := ScoreCandidates(txn, idx.Candidates(txn, policy.DateWindowDays), policy)
		if len(cands) == 0 {
			res.Manual++
			telemetry.MatchOutcomes.WithLabelValues(string(domain.TierManual)).Inc()
			continue
		}

		outcome, err := e.apply(ctx, snap, txn, cands, policy, idx)
		if err != nil {
			res.Failed++
			log.Warn().Err(err).Str("txn_id", txn.ID).Msg("matching failed, transaction left unreconciled")
			e.recordFailure(ctx, snap, txn, err)
			continue
		}
		switch outcome {
		case domain.TierDeterministic, domain.TierRule:
			res.AutoApplied++
		case domain.TierSuggested:
			res.Suggested++
		default:
			res.Manual++
		}
		telemetry.MatchOutcomes.WithLabelValues(string(outcome)).Inc()
	}

	res.CashExplainedPct, err = e.CashExplainedPct(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	telemetry.CashExplained.WithLabelValues(snapshotID).Set(res.CashExplainedPct)

	log.Info().
		Str("snapshot_id", snapshotID).
		Int("transactions", res.Transactions).
		Int("auto_applied", res.AutoApplied).
		Int("suggested", res.Suggested).
		Int("manual", res.Manual).
		Float64("cash_explained_pct", res.CashExplainedPct).
		Msg("matching run complete")
	return res, nil
}

// buildIndex loads open invoices with their open amounts.
func (e *Engine) buildIndex(ctx context.Context, snapshotID string) (*BlockingIndex, error) {
	invoices, err := e.store.Documents().ListInvoices(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	var open []*OpenInvoice
	for _, inv := range invoices {
		if inv.PaymentDate != nil {
			continue
		}
		allocs, err := e.store.Allocations().ListByTarget(ctx, domain.TargetInvoice, inv.ID)
		if err != nil {
			return nil, err
		}
		approved := decimal.Zero
		for _, a := range allocs {
			if a.Status == domain.AllocationReconciled {
				approved = approved.Add(a.AllocatedAmount)
			}
		}
		open = append(open, &OpenInvoice{Invoice: inv, OpenAmount: inv.Amount.Sub(approved)})
	}
	return BuildIndex(open), nil
}

func (e *Engine) policyFor(ctx context.Context, snap *domain.Snapshot, currency string) domain.MatchingPolicy {
	p, err := e.store.Policies().Find(ctx, snap.EntityID, currency)
	if err != nil {
		def := domain.DefaultMatchingPolicy()
		def.EntityID = snap.EntityID
		def.Currency = currency
		return def
	}
	return *p
}

// apply executes the application policy for a scored transaction and
// returns the driving tier of whatever was persisted.
func (e *Engine) apply(ctx context.Context, snap *domain.Snapshot, txn *domain.BankTransaction,
	cands []*Candidate, policy domain.MatchingPolicy, idx *BlockingIndex) (domain.MatchTier, error) {

	best := cands[0]

	// Single-candidate fast path for auto-applicable tiers.
	autoAllowed := (best.Tier == domain.TierDeterministic && policy.AutoApplyTier1) ||
		(best.Tier == domain.TierRule && policy.AutoApplyTier2)
	if autoAllowed {
		sol, err := Solve(txn, cands[:1])
		if err == nil && sol.Complete() {
			return best.Tier, e.persistSolution(ctx, snap, txn, sol, best.Tier, domain.AllocationReconciled)
		}
	}

	// Bundled payments: one transaction settling several invoices the
	// reference text names. Only ref-matched candidates enter the auto
	// solver, so a weak suggestion can never ride along into an
	// auto-applied reconciliation.
	if policy.AutoApplyTier1 {
		var refCands []*Candidate
		for _, c := range cands {
			if c.RefMatch {
				refCands = append(refCands, c)
			}
		}
		if len(refCands) >= 2 {
			sol, err := Solve(txn, refCands)
			if err == nil && sol.Complete() && len(sol.Allocations) >= 2 {
				return domain.TierDeterministic,
					e.persistSolution(ctx, snap, txn, sol, domain.TierDeterministic, domain.AllocationReconciled)
			}
		}
	}

	if best.Tier == domain.TierManual {
		return domain.TierManual, nil
	}
	// Tier 3, or tier 1/2 that could not be fully explained or has
	// auto-apply disabled: pending approval, never reconciled without an
	// explicit human action.
	return domain.TierSuggested, e.persistSuggestion(ctx, snap, txn, best)
}

// persistSolution writes reconciled allocations, flips the transaction and
// labels the invoices.
func (e *Engine) persistSolution(ctx context.Context, snap *domain.Snapshot, txn *domain.BankTransaction,
	sol *Solution, tier domain.MatchTier, status domain.AllocationStatus) error {

	for _, line := range sol.Allocations {
		alloc := &domain.ReconciliationAllocation{
			SnapshotID:      snap.ID,
			TransactionID:   txn.ID,
			TargetKind:      domain.TargetInvoice,
			TargetID:        line.Candidate.Open.Invoice.ID,
			AllocatedAmount: line.Amount,
			Tier:            tier,
			Confidence:      line.Candidate.Confidence,
			Status:          status,
		}
		if err := e.store.Allocations().Insert(ctx, alloc); err != nil {
			return err
		}
		if status == domain.AllocationReconciled {
			if err := e.store.Documents().SetInvoiceTruthLabel(ctx, line.Candidate.Open.Invoice.ID, "reconciled"); err != nil {
				return err
			}
		}
	}

	txn.ReconStatus = domain.ReconReconciled
	txn.ReconType = tier
	if err := e.store.BankTxns().UpdateRecon(ctx, txn); err != nil {
		return err
	}

	for _, line := range sol.Allocations {
		line.Candidate.Open.OpenAmount = line.Candidate.Open.OpenAmount.Sub(line.Amount)
	}

	return e.audit(ctx, snap.ID, "Reconcile", txn.ID, map[string]interface{}{
		"tier": tier, "allocations": len(sol.Allocations),
	})
}

// persistSuggestion writes a pending allocation for the best candidate and
// marks the transaction suggested. Suggestions never flip allocation state
// to reconciled without an explicit approval.
func (e *Engine) persistSuggestion(ctx context.Context, snap *domain.Snapshot, txn *domain.BankTransaction, best *Candidate) error {
	target := txn.Amount.Abs().Sub(txn.Fee).Sub(txn.Writeoff)
	amount := decimal.Min(target, best.Open.OpenAmount)

	alloc := &domain.ReconciliationAllocation{
		SnapshotID:      snap.ID,
		TransactionID:   txn.ID,
		TargetKind:      domain.TargetInvoice,
		TargetID:        best.Open.Invoice.ID,
		AllocatedAmount: amount,
		Tier:            domain.TierSuggested,
		Confidence:      best.Confidence,
		Status:          domain.AllocationPending,
	}
	if err := e.store.Allocations().Insert(ctx, alloc); err != nil {
		return err
	}

	txn.ReconStatus = domain.ReconSuggested
	txn.ReconType = domain.TierSuggested
	if err := e.store.BankTxns().UpdateRecon(ctx, txn); err != nil {
		return err
	}
	return e.audit(ctx, snap.ID, "Suggest", txn.ID, map[string]interface{}{
		"invoice_id": best.Open.Invoice.ID, "confidence": best.Confidence,
	})
}

func (e *Engine) recordFailure(ctx context.Context, snap *domain.Snapshot, txn *domain.BankTransaction, cause error) {
	exc := &domain.Exception{
		SnapshotID: snap.ID,
		Type:       "allocation_failed",
		Severity:   domain.SeverityError,
		Amount:     txn.Amount.StringFixed(2),
		Currency:   txn.Currency,
		Evidence:   []domain.EvidenceLink{{EvidenceType: "bank_transaction", EvidenceID: txn.ID}},
	}
	if err := e.store.Workflow().CreateException(ctx, exc); err != nil {
		log.Error().Err(err).Str("txn_id", txn.ID).Msg("failed to record allocation exception")
	}
	_ = e.audit(ctx, snap.ID, "MatchFailure", txn.ID, map[string]interface{}{"error": cause.Error()})
}

// ApproveSuggested transitions a pending allocation to RECONCILED. Any role
// may approve; the locked-snapshot check runs first.
func (e *Engine) ApproveSuggested(ctx context.Context, allocationID string, actor domain.Actor) error {
	alloc, err := e.store.Allocations().Get(ctx, allocationID)
	if err != nil {
		return err
	}
	snap, err := e.store.Snapshots().Get(ctx, alloc.SnapshotID)
	if err != nil {
		return err
	}
	if err := snap.AssertNotLocked(); err != nil {
		return err
	}
	if alloc.Status != domain.AllocationPending {
		return domain.NewStateError(domain.CodeBadTransition,
			"allocation %s is %s, expected %s", alloc.ID, alloc.Status, domain.AllocationPending)
	}

	now := time.Now().UTC()
	alloc.Status = domain.AllocationReconciled
	alloc.DecidedAt = &now
	alloc.DecidedBy = actor.UserID
	if err := e.store.Allocations().Update(ctx, alloc); err != nil {
		return err
	}

	txn, err := e.store.BankTxns().Get(ctx, alloc.TransactionID)
	if err != nil {
		return err
	}
	siblings, err := e.store.Allocations().ListByTransaction(ctx, alloc.TransactionID)
	if err != nil {
		return err
	}
	settled := txn.Fee.Add(txn.Writeoff)
	for _, a := range siblings {
		if a.Status == domain.AllocationReconciled {
			settled = settled.Add(a.AllocatedAmount)
		}
	}

	// A suggestion is capped at the invoice's open amount, so approval can
	// settle short of the transaction. The shortfall becomes a writeoff;
	// a reconciled transaction must conserve value.
	var after map[string]interface{}
	if residual := txn.Amount.Abs().Sub(settled); residual.Cmp(domain.Tolerance) > 0 {
		txn.Writeoff = txn.Writeoff.Add(residual)
		after = map[string]interface{}{"residual_writeoff": residual.StringFixed(2)}
	}

	txn.ReconStatus = domain.ReconReconciled
	txn.ReconType = domain.TierSuggested
	if err := e.store.BankTxns().UpdateRecon(ctx, txn); err != nil {
		return err
	}

	if alloc.TargetKind == domain.TargetInvoice {
		if err := e.store.Documents().SetInvoiceTruthLabel(ctx, alloc.TargetID, "reconciled"); err != nil {
			return err
		}
	}
	return e.auditActor(ctx, snap.ID, actor, "Approve", alloc.ID, after)
}

// RejectSuggested transitions a pending allocation to REJECTED and returns
// the transaction to the unreconciled pool if nothing else is pending.
func (e *Engine) RejectSuggested(ctx context.Context, allocationID string, actor domain.Actor, note string) error {
	alloc, err := e.store.Allocations().Get(ctx, allocationID)
	if err != nil {
		return err
	}
	snap, err := e.store.Snapshots().Get(ctx, alloc.SnapshotID)
	if err != nil {
		return err
	}
	if err := snap.AssertNotLocked(); err != nil {
		return err
	}
	if alloc.Status != domain.AllocationPending {
		return domain.NewStateError(domain.CodeBadTransition,
			"allocation %s is %s, expected %s", alloc.ID, alloc.Status, domain.AllocationPending)
	}

	now := time.Now().UTC()
	alloc.Status = domain.AllocationRejected
	alloc.DecidedAt = &now
	alloc.DecidedBy = actor.UserID
	alloc.DecideNote = note
	if err := e.store.Allocations().Update(ctx, alloc); err != nil {
		return err
	}

	pending, err := e.store.Allocations().ListByTransaction(ctx, alloc.TransactionID)
	if err != nil {
		return err
	}
	hasPending := false
	for _, a := range pending {
		if a.Status == domain.AllocationPending {
			hasPending = true
			break
		}
	}
	if !hasPending {
		txn, err := e.store.BankTxns().Get(ctx, alloc.TransactionID)
		if err != nil {
			return err
		}
		txn.ReconStatus = domain.ReconNone
		txn.ReconType = domain.TierNone
		if err := e.store.BankTxns().UpdateRecon(ctx, txn); err != nil {
			return err
		}
	}
	return e.auditActor(ctx, snap.ID, actor, "Reject", alloc.ID, map[string]interface{}{"note": note})
}

// CashExplainedPct is reconciled allocation volume over positive inflows,
// clamped to [0,100].
func (e *Engine) CashExplainedPct(ctx context.Context, snapshotID string) (float64, error) {
	allocs, err := e.store.Allocations().ListBySnapshot(ctx, snapshotID)
	if err != nil {
		return 0, err
	}
	explained := decimal.Zero
	for _, a := range allocs {
		if a.Status == domain.AllocationReconciled {
			explained = explained.Add(a.AllocatedAmount)
		}
	}

	txns, err := e.store.BankTxns().List(ctx, snapshotID)
	if err != nil {
		return 0, err
	}
	inflows := decimal.Zero
	for _, t := range txns {
		if t.IsInflow() {
			inflows = inflows.Add(t.Amount)
		}
	}
	if inflows.Sign() <= 0 {
		return 0, nil
	}
	pct, _ := explained.Div(inflows).Mul(decimal.NewFromInt(100)).Float64()
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

// CashExplainedLevel buckets the KPI: healthy >= 95, warning >= 80, else
// critical.
func CashExplainedLevel(pct float64) string {
	switch {
	case pct >= 95:
		return "healthy"
	case pct >= 80:
		return "warning"
	default:
		return "critical"
	}
}

func (e *Engine) audit(ctx context.Context, snapshotID, action, resourceID string, after map[string]interface{}) error {
	return e.auditActor(ctx, snapshotID, domain.Actor{UserID: "match-engine", Role: domain.RoleRegular}, action, resourceID, after)
}

func (e *Engine) auditActor(ctx context.Context, snapshotID string, actor domain.Actor, action, resourceID string, after map[string]interface{}) error {
	var afterJSON string
	if after != nil {
		b, err := json.Marshal(after)
		if err == nil {
			afterJSON = string(b)
		}
	}
	err := e.store.Audit().Append(ctx, &domain.AuditLog{
		SnapshotID:   snapshotID,
		ActorID:      actor.UserID,
		ActorRole:    actor.Role,
		Action:       action,
		ResourceType: "reconciliation",
		ResourceID:   resourceID,
		AfterJSON:    afterJSON,
		IP:           actor.IP,
	})
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return err
	}
	return nil
}
