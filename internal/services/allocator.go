package services

import (
	"sort"

	"github.com/cantina/credit-ledger/internal/model"
)

// epsilon absorbs floating-point drift when comparing stored amounts against
// recomputed ones. Differences below a cent are not discrepancies.
const epsilon = 0.01

// Allocation maps a purchase transaction id to the amount the available pool
// covers for it.
type Allocation map[int64]float64

// Allocate distributes the customer's total pool of funds across purchases,
// oldest first. The pool is a single aggregate over the whole history:
//
//	available = initialBalance + deposits + refunds - withdrawals
//
// Purchases are then walked in created-at order (ties broken by id) and each
// takes as much of the pool as its amount allows. The pool is reduced by the
// FULL purchase amount, paid or not, so later purchases see the correctly
// diminished remainder. A deposit recorded after an old unpaid purchase
// therefore settles that purchase retroactively.
func Allocate(initialBalance float64, txns []*model.Transaction) Allocation {
	available := initialBalance
	var purchases []*model.Transaction

	for _, t := range txns {
		switch t.Type {
		case model.TransactionDeposit, model.TransactionRefund:
			available += t.Amount
		case model.TransactionWithdrawal:
			available -= t.Amount
		case model.TransactionPurchase:
			purchases = append(purchases, t)
		}
	}

	sort.SliceStable(purchases, func(i, j int) bool {
		if !purchases[i].CreatedAt.Equal(purchases[j].CreatedAt) {
			return purchases[i].CreatedAt.Before(purchases[j].CreatedAt)
		}
		return purchases[i].ID < purchases[j].ID
	})

	alloc := make(Allocation, len(purchases))
	for _, p := range purchases {
		alloc[p.ID] = clamp(available, 0, p.Amount)
		available -= p.Amount
	}

	// Invariant: available now equals ComputeBalance over the same history.
	return alloc
}

// ComputeBalance derives the signed running balance: positive means prepaid
// credit, negative means debt. Purchases count in full regardless of how much
// of each was actually collected.
func ComputeBalance(initialBalance float64, txns []*model.Transaction) float64 {
	balance := initialBalance
	for _, t := range txns {
		switch t.Type {
		case model.TransactionDeposit, model.TransactionRefund:
			balance += t.Amount
		case model.TransactionWithdrawal, model.TransactionPurchase:
			balance -= t.Amount
		}
	}
	return balance
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
