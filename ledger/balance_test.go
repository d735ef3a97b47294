package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/expense-ledger/ledger"
)

func TestApplyExpenseApproval(t *testing.T) {
	// GIVEN: a group of three with zero balances
	// WHEN: an expense of 90 fronted by A is approved
	// THEN: A is owed 60, B and C owe 30 each, and the sum stays zero

	g := &ledger.Group{
		MemberIDs: []string{"A", "B", "C"},
		Balances:  map[string]decimal.Decimal{"A": decimal.Zero, "B": decimal.Zero, "C": decimal.Zero},
	}
	divisions, err := ledger.Split(dec("90"), ledger.DivisionEqual, g.MemberIDs, nil, "A", splitNow)
	require.NoError(t, err)
	e := &ledger.Expense{Amount: dec("90"), PaidBy: "A", Divisions: divisions}

	ledger.ApplyExpenseApproval(g, e)

	assert.True(t, g.Balances["A"].Equal(dec("60")))
	assert.True(t, g.Balances["B"].Equal(dec("-30")))
	assert.True(t, g.Balances["C"].Equal(dec("-30")))
	assert.True(t, g.TotalSpent.Equal(dec("90")))
	assert.True(t, ledger.BalanceSum(g.Balances).IsZero())
	assert.Equal(t, ledger.GroupUnsettled, g.Status)
}

func TestApplyPaymentConfirmation_SettlesAgainstCreditor(t *testing.T) {
	g := &ledger.Group{
		MemberIDs: []string{"A", "B"},
		Balances:  map[string]decimal.Decimal{"A": dec("30"), "B": dec("-30")},
	}

	ledger.ApplyPaymentConfirmation(g, &ledger.Payment{UserID: "B", Amount: dec("30")}, "A")

	assert.True(t, g.Balances["A"].IsZero())
	assert.True(t, g.Balances["B"].IsZero())
	assert.Equal(t, ledger.GroupSettled, g.Status)
}

func TestApply_MissingBalanceEntryStartsAtZero(t *testing.T) {
	// GIVEN: a group whose balances map lacks B
	// WHEN: a payment by B is confirmed
	// THEN: B's entry is created instead of failing

	g := &ledger.Group{MemberIDs: []string{"A", "B"}}

	ledger.ApplyPaymentConfirmation(g, &ledger.Payment{UserID: "B", Amount: dec("5")}, "A")

	assert.True(t, g.Balances["B"].Equal(dec("5")))
	assert.True(t, g.Balances["A"].Equal(dec("-5")))
}

func TestGroupSettled_UsesTolerance(t *testing.T) {
	g := &ledger.Group{Balances: map[string]decimal.Decimal{"A": dec("0.01"), "B": dec("-0.01")}}
	assert.True(t, g.Settled())

	g.Balances["A"] = dec("0.02")
	assert.False(t, g.Settled())
}

// =============================================================================
// SUGGESTED TRANSFERS
// =============================================================================

func TestSuggestTransfers(t *testing.T) {
	tests := []struct {
		name     string
		balances map[string]string
		want     []ledger.Transfer
	}{
		{
			name:     "settled",
			balances: map[string]string{"A": "0", "B": "0.01"},
			want:     nil,
		},
		{
			name:     "one creditor",
			balances: map[string]string{"A": "60", "B": "-30", "C": "-30"},
			want: []ledger.Transfer{
				{From: "B", To: "A", Amount: dec("30")},
				{From: "C", To: "A", Amount: dec("30")},
			},
		},
		{
			name:     "largest first",
			balances: map[string]string{"A": "50", "B": "25", "C": "-70", "D": "-5"},
			want: []ledger.Transfer{
				{From: "C", To: "A", Amount: dec("50")},
				{From: "C", To: "B", Amount: dec("20")},
				{From: "D", To: "B", Amount: dec("5")},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			balances := make(map[string]decimal.Decimal, len(tt.balances))
			for id, b := range tt.balances {
				balances[id] = dec(b)
			}

			got := ledger.SuggestTransfers(balances)

			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, tt.want[i].From, got[i].From)
				assert.Equal(t, tt.want[i].To, got[i].To)
				assert.True(t, tt.want[i].Amount.Equal(got[i].Amount), "transfer %d: %s", i, got[i].Amount)
			}
		})
	}
}
