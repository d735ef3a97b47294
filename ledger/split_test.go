package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/expense-ledger/ledger"
)

var splitNow = time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sumDivisions(divisions []ledger.Division) decimal.Decimal {
	sum := decimal.Zero
	for _, d := range divisions {
		sum = sum.Add(d.Amount)
	}
	return sum
}

// =============================================================================
// EQUAL
// =============================================================================

func TestSplit_Equal_AllMembers(t *testing.T) {
	// GIVEN: three members and an expense of 90 paid by A
	// WHEN: splitting EQUAL without explicit participants
	// THEN: everyone owes 30 and A's share is already paid

	divisions, err := ledger.Split(dec("90"), ledger.DivisionEqual, []string{"A", "B", "C"}, nil, "A", splitNow)
	require.NoError(t, err)
	require.Len(t, divisions, 3)

	for _, d := range divisions {
		assert.True(t, d.Amount.Equal(dec("30")), "share of %s", d.UserID)
	}
	assert.True(t, divisions[0].Paid)
	assert.True(t, divisions[0].PaidAmount.Equal(dec("30")))
	require.NotNil(t, divisions[0].PaidAt)
	assert.Equal(t, splitNow, *divisions[0].PaidAt)
	assert.False(t, divisions[1].Paid)
	assert.True(t, divisions[1].PaidAmount.IsZero())
}

func TestSplit_Equal_RemainderGoesToFirstParticipant(t *testing.T) {
	// GIVEN: 100 split three ways
	// WHEN: splitting EQUAL
	// THEN: 33.34 + 33.33 + 33.33, summing exactly to 100

	divisions, err := ledger.Split(dec("100"), ledger.DivisionEqual, []string{"A", "B", "C"}, nil, "B", splitNow)
	require.NoError(t, err)

	assert.True(t, divisions[0].Amount.Equal(dec("33.34")), "got %s", divisions[0].Amount)
	assert.True(t, divisions[1].Amount.Equal(dec("33.33")))
	assert.True(t, divisions[2].Amount.Equal(dec("33.33")))
	assert.True(t, sumDivisions(divisions).Equal(dec("100")))
	assert.True(t, divisions[1].Paid, "payer share is settled")
}

func TestSplit_Equal_ExplicitParticipants(t *testing.T) {
	inputs := []ledger.DivisionInput{{UserID: "B"}, {UserID: "C"}}

	divisions, err := ledger.Split(dec("10.01"), ledger.DivisionEqual, []string{"A", "B", "C"}, inputs, "A", splitNow)
	require.NoError(t, err)
	require.Len(t, divisions, 2)

	assert.True(t, divisions[0].Amount.Equal(dec("5.01")))
	assert.True(t, divisions[1].Amount.Equal(dec("5.00")))
	for _, d := range divisions {
		assert.False(t, d.Paid, "payer has no share, nobody is pre-paid")
	}
}

// =============================================================================
// CUSTOM
// =============================================================================

func TestSplit_Custom(t *testing.T) {
	tests := []struct {
		name    string
		amounts []string
		wantErr bool
	}{
		{"exact", []string{"50", "30", "20"}, false},
		{"within tolerance", []string{"50", "30", "19.99"}, false},
		{"short by one", []string{"50", "30", "19"}, true},
		{"negative share", []string{"120", "-20", "0"}, true},
		{"sub-cent share", []string{"50.005", "30", "19.995"}, true},
		{"last share driven negative", []string{"50.01", "50", "0"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inputs := make([]ledger.DivisionInput, len(tt.amounts))
			for i, a := range tt.amounts {
				inputs[i] = ledger.DivisionInput{UserID: string(rune('A' + i)), Value: dec(a)}
			}

			divisions, err := ledger.Split(dec("100"), ledger.DivisionCustom, []string{"A", "B", "C"}, inputs, "A", splitNow)
			if tt.wantErr {
				assert.ErrorIs(t, err, ledger.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.True(t, sumDivisions(divisions).Equal(dec("100")), "shares sum to %s", sumDivisions(divisions))
			assert.True(t, divisions[0].Amount.Equal(dec(tt.amounts[0])), "only the last share is adjusted")
		})
	}
}

// =============================================================================
// PERCENTAGE
// =============================================================================

func TestSplit_Percentage_LastParticipantAbsorbsRounding(t *testing.T) {
	// GIVEN: 100 split 33.33 / 33.33 / 33.34 percent
	// WHEN: splitting PERCENTAGE
	// THEN: amounts keep their percentages and sum exactly to the total

	inputs := []ledger.DivisionInput{
		{UserID: "A", Value: dec("33.33")},
		{UserID: "B", Value: dec("33.33")},
		{UserID: "C", Value: dec("33.34")},
	}

	divisions, err := ledger.Split(dec("10"), ledger.DivisionPercentage, []string{"A", "B", "C"}, inputs, "C", splitNow)
	require.NoError(t, err)

	assert.True(t, divisions[0].Amount.Equal(dec("3.33")))
	assert.True(t, divisions[1].Amount.Equal(dec("3.33")))
	assert.True(t, divisions[2].Amount.Equal(dec("3.34")))
	require.NotNil(t, divisions[0].Percentage)
	assert.True(t, divisions[0].Percentage.Equal(dec("33.33")))
	assert.True(t, sumDivisions(divisions).Equal(dec("10")))
}

func TestSplit_Percentage_Invalid(t *testing.T) {
	tests := []struct {
		name string
		pcts []string
	}{
		{"sum below 100", []string{"50", "40"}},
		{"sum above 100", []string{"60", "50"}},
		{"above 100", []string{"120", "-20"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inputs := []ledger.DivisionInput{
				{UserID: "A", Value: dec(tt.pcts[0])},
				{UserID: "B", Value: dec(tt.pcts[1])},
			}
			_, err := ledger.Split(dec("100"), ledger.DivisionPercentage, []string{"A", "B"}, inputs, "A", splitNow)
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}
}

// =============================================================================
// INPUT VALIDATION
// =============================================================================

func TestSplit_RejectsBadInput(t *testing.T) {
	members := []string{"A", "B"}

	tests := []struct {
		name   string
		amount string
		typ    ledger.DivisionType
		inputs []ledger.DivisionInput
	}{
		{"zero amount", "0", ledger.DivisionEqual, nil},
		{"negative amount", "-5", ledger.DivisionEqual, nil},
		{"sub-cent amount", "10.001", ledger.DivisionEqual, nil},
		{"unknown type", "10", ledger.DivisionType("SHARES"), nil},
		{"custom without inputs", "10", ledger.DivisionCustom, nil},
		{"non-member", "10", ledger.DivisionEqual, []ledger.DivisionInput{{UserID: "Z"}}},
		{"duplicate", "10", ledger.DivisionEqual, []ledger.DivisionInput{{UserID: "A"}, {UserID: "A"}}},
		{"empty user", "10", ledger.DivisionEqual, []ledger.DivisionInput{{UserID: ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.Split(dec(tt.amount), tt.typ, members, tt.inputs, "A", splitNow)
			var verr *ledger.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestSplitterFor(t *testing.T) {
	for _, typ := range []ledger.DivisionType{ledger.DivisionEqual, ledger.DivisionCustom, ledger.DivisionPercentage} {
		s, err := ledger.SplitterFor(typ)
		require.NoError(t, err)
		assert.Equal(t, typ, s.Type())
	}
}
