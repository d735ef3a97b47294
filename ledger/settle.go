package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// Transfer is one suggested payment that moves a group towards SETTLED.
type Transfer struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// SuggestTransfers matches the largest debtors with the largest creditors
// until every balance is within Tolerance of zero. Balances are
// signed as in Group.Balances: negative owes, positive is owed. The result
// is deterministic for a given map.
func SuggestTransfers(balances map[string]decimal.Decimal) []Transfer {
	type node struct {
		id  string
		amt decimal.Decimal
	}
	var creditors, debtors []node
	for id, b := range balances {
		switch {
		case b.GreaterThan(Tolerance):
			creditors = append(creditors, node{id, b})
		case b.LessThan(Tolerance.Neg()):
			debtors = append(debtors, node{id, b.Neg()})
		}
	}
	byAmount := func(n []node) func(i, j int) bool {
		return func(i, j int) bool {
			if c := n[i].amt.Cmp(n[j].amt); c != 0 {
				return c > 0
			}
			return n[i].id < n[j].id
		}
	}
	sort.Slice(creditors, byAmount(creditors))
	sort.Slice(debtors, byAmount(debtors))

	var out []Transfer
	i, j := 0, 0
	for i < len(creditors) && j < len(debtors) {
		pay := decimal.Min(creditors[i].amt, debtors[j].amt)
		if pay.GreaterThan(Tolerance) {
			out = append(out, Transfer{From: debtors[j].id, To: creditors[i].id, Amount: pay.Round(2)})
		}
		creditors[i].amt = creditors[i].amt.Sub(pay)
		debtors[j].amt = debtors[j].amt.Sub(pay)
		if creditors[i].amt.LessThanOrEqual(Tolerance) {
			i++
		}
		if debtors[j].amt.LessThanOrEqual(Tolerance) {
			j++
		}
	}
	return out
}

// SuggestSettlements returns the transfers that would settle a group.
func (s *Service) SuggestSettlements(ctx context.Context, groupID string) ([]Transfer, error) {
	balances, err := s.GetGroupBalances(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return SuggestTransfers(balances), nil
}
