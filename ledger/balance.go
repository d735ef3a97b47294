/*
balance.go - Balance Ledger

PURPOSE:
  Owns the mutation rules for Group.Balances. Functions here operate on an
  in-memory Group read at a known version; the caller persists the result
  with a version precondition, so a concurrent writer forces a re-read
  instead of a lost update.

RULES:
  Expense approval:      balances[d.userId] -= d.amount for every division
                         balances[paidBy]   += expense.amount
                         totalGasto         += expense.amount
  Payment confirmation:  balances[payer]    += payment.amount
                         balances[creditor] -= payment.amount
  Rejections:            no balance effect

  A user missing from the map starts at zero. Both legs of a rule are always
  applied together; the sum of all balances is unchanged by every rule.

SEE ALSO:
  - expense.go: ApproveExpense
  - payment.go: ConfirmPayment
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApplyExpenseApproval books an approved expense into the group.
func ApplyExpenseApproval(g *Group, e *Expense) {
	for _, d := range e.Divisions {
		adjust(g, d.UserID, d.Amount.Neg())
	}
	adjust(g, e.PaidBy, e.Amount)
	g.TotalSpent = g.TotalSpent.Add(e.Amount)
	refreshStatus(g)
}

// ApplyPaymentConfirmation books a confirmed payment: the payer's debt shrinks
// and the creditor's credit shrinks by the same amount.
func ApplyPaymentConfirmation(g *Group, p *Payment, creditorID string) {
	adjust(g, p.UserID, p.Amount)
	adjust(g, creditorID, p.Amount.Neg())
	refreshStatus(g)
}

func adjust(g *Group, userID string, delta decimal.Decimal) {
	if g.Balances == nil {
		g.Balances = make(map[string]decimal.Decimal)
	}
	g.Balances[userID] = g.Balances[userID].Add(delta)
}

// BalanceSum adds every balance; it is zero for a consistent group.
func BalanceSum(balances map[string]decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, b := range balances {
		sum = sum.Add(b)
	}
	return sum
}

// Settled reports whether every balance is zero within tolerance.
func (g *Group) Settled() bool {
	for _, b := range g.Balances {
		if b.Abs().GreaterThan(Tolerance) {
			return false
		}
	}
	return true
}

func refreshStatus(g *Group) {
	if g.Settled() {
		g.Status = GroupSettled
	} else {
		g.Status = GroupUnsettled
	}
}

// ledgerFields is the patch that persists a group's ledger state.
func ledgerFields(g *Group, now time.Time) map[string]any {
	return map[string]any{
		"balances":       g.Balances,
		"totalGasto":     g.TotalSpent,
		"status":         g.Status,
		"updatedAt":      now,
		"lastActivityAt": now,
	}
}
