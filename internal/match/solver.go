package match

import (
	"github.com/shopspring/decimal"

	"github.com/ledgerline/cashops/internal/domain"
)

// SolvedAllocation is one line of a solver solution.
type SolvedAllocation struct {
	Candidate *Candidate
	Amount    decimal.Decimal
}

// Solution is a validated assignment of a transaction across candidates.
type Solution struct {
	Allocations []SolvedAllocation
	Unallocated decimal.Decimal
}

// Solve distributes |txn amount| - fees - writeoffs across the candidates,
// maximizing the allocated total subject to per-invoice open-amount bounds.
// With no LP backend linked in, the greedy descent by confidence is the
// production path; it is optimal here because the objective is a plain sum
// with independent upper bounds.
func Solve(txn *domain.BankTransaction, candidates []*Candidate) (*Solution, error) {
	target := txn.Amount.Abs().Sub(txn.Fee).Sub(txn.Writeoff)
	if target.Sign() < 0 {
		return nil, domain.NewInputError("BAD_TARGET",
			"fees and writeoffs exceed transaction amount for %s", txn.ID)
	}

	remaining := target
	sol := &Solution{}
	for _, c := range candidates {
		if remaining.Cmp(domain.Tolerance) <= 0 {
			break
		}
		take := decimal.Min(remaining, c.Open.OpenAmount)
		if take.Cmp(domain.Tolerance) <= 0 {
			continue
		}
		sol.Allocations = append(sol.Allocations, SolvedAllocation{Candidate: c, Amount: take})
		remaining = remaining.Sub(take)
	}
	sol.Unallocated = remaining

	if err := validate(txn, sol); err != nil {
		return nil, err
	}
	return sol, nil
}

// validate enforces the conservation and non-overmatch constraints before
// anything is persisted. A violation is a hard error.
func validate(txn *domain.BankTransaction, sol *Solution) error {
	total := decimal.Zero
	for _, a := range sol.Allocations {
		if a.Amount.Sign() < 0 {
			return domain.NewStateError(domain.CodeSolverInfeasible,
				"negative allocation for invoice %s", a.Candidate.Open.Invoice.ID)
		}
		if a.Amount.Cmp(a.Candidate.Open.OpenAmount.Add(domain.Tolerance)) > 0 {
			return domain.NewStateError(domain.CodeSolverInfeasible,
				"allocation exceeds open amount for invoice %s", a.Candidate.Open.Invoice.ID)
		}
		total = total.Add(a.Amount)
	}
	settled := total.Add(txn.Fee).Add(txn.Writeoff).Add(sol.Unallocated)
	if !domain.WithinTolerance(settled, txn.Amount.Abs()) {
		return domain.NewStateError(domain.CodeSolverInfeasible,
			"conservation violated for transaction %s", txn.ID)
	}
	return nil
}

// Complete reports whether the solution fully explains the transaction,
// i.e. nothing is left unallocated beyond tolerance.
func (s *Solution) Complete() bool {
	return s.Unallocated.Cmp(domain.Tolerance) <= 0
}
