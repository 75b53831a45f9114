// Package calculator computes net balances and settlement suggestions
// from expense snapshots. Everything here is a pure function of its
// input: no state, no side effects, deterministic for a given multiset
// of expenses regardless of order.
package calculator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/splitledger/splitledger/internal/models"
)

// DebtEdge represents a debt from one participant to another.
type DebtEdge struct {
	From   string // participant who owes
	To     string // participant who is owed
	Amount decimal.Decimal
}

// centThreshold filters transfer suggestions smaller than the display
// precision; residue below one cent is rounding drift, not debt.
var centThreshold = decimal.New(1, -2)

// Balances computes the net balance for every participant referenced
// across the snapshot.
//
// For each expense the payer is credited total minus the stored split
// (the amount fronted for others; the payer's own share is excluded),
// and every other participant is debited the stored split. The stored
// SplitAmount is used as-is, never recomputed from the total, so the
// result honors the split frozen at creation time.
//
// Participants who net to zero are kept in the map so callers can
// render "settled" explicitly. Arithmetic runs at full precision; the
// only rounding in play happened when each SplitAmount was assigned,
// which is why the sum over all balances may miss zero by up to
// 0.01*(n-1) per expense.
func Balances(expenses []models.Expense) map[string]decimal.Decimal {
	balances := make(map[string]decimal.Decimal)

	for _, e := range expenses {
		for _, p := range e.ParticipantIDs {
			if _, ok := balances[p]; !ok {
				balances[p] = decimal.Zero
			}
		}
		if _, ok := balances[e.PayerID]; !ok {
			balances[e.PayerID] = decimal.Zero
		}

		balances[e.PayerID] = balances[e.PayerID].Add(e.TotalAmount.Sub(e.SplitAmount))
		for _, p := range e.ParticipantIDs {
			if p == e.PayerID {
				continue
			}
			balances[p] = balances[p].Sub(e.SplitAmount)
		}
	}

	return balances
}

// ExpenseDebts returns the per-expense debt view: every participant
// other than the payer owes the stored split to the payer. This is a
// local statement about one expense, distinct from the accumulated net
// balance; a net creditor can still owe money on a specific expense.
func ExpenseDebts(e models.Expense) []DebtEdge {
	var edges []DebtEdge
	for _, p := range e.ParticipantIDs {
		if p == e.PayerID {
			continue
		}
		edges = append(edges, DebtEdge{From: p, To: e.PayerID, Amount: e.SplitAmount})
	}
	return edges
}

// Settlements suggests a minimal set of transfers that clears all net
// balances, greedily matching the largest debtors against the largest
// creditors. Transfers below one cent are dropped as rounding residue.
// Output order is deterministic: inputs are sorted by magnitude, then
// name.
func Settlements(balances map[string]decimal.Decimal) []DebtEdge {
	type stake struct {
		name   string
		amount decimal.Decimal // always positive
	}

	var debtors, creditors []stake
	for name, bal := range balances {
		switch bal.Sign() {
		case -1:
			debtors = append(debtors, stake{name: name, amount: bal.Neg()})
		case 1:
			creditors = append(creditors, stake{name: name, amount: bal})
		}
	}

	byMagnitude := func(s []stake) func(i, j int) bool {
		return func(i, j int) bool {
			if c := s[i].amount.Cmp(s[j].amount); c != 0 {
				return c > 0
			}
			return s[i].name < s[j].name
		}
	}
	sort.Slice(debtors, byMagnitude(debtors))
	sort.Slice(creditors, byMagnitude(creditors))

	var edges []DebtEdge
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := decimal.Min(debtors[i].amount, creditors[j].amount)

		if amount.Cmp(centThreshold) >= 0 {
			edges = append(edges, DebtEdge{
				From:   debtors[i].name,
				To:     creditors[j].name,
				Amount: amount.Round(2),
			})
		}

		debtors[i].amount = debtors[i].amount.Sub(amount)
		creditors[j].amount = creditors[j].amount.Sub(amount)

		if debtors[i].amount.Cmp(centThreshold) < 0 {
			i++
		}
		if creditors[j].amount.Cmp(centThreshold) < 0 {
			j++
		}
	}

	return edges
}
