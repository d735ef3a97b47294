/*
split.go - Expense Splitter

PURPOSE:
  Turns an expense total plus a division type into the list of per-member
  shares. Pure: no store access, "now" is passed in.

STRATEGIES:
  EQUAL       share = floor_cents(amount / n); the leftover cents go to the
              first participant so the shares always add up to amount.
  CUSTOM      caller supplies each amount; |sum - amount| <= 0.01. The
              last participant absorbs the difference.
  PERCENTAGE  caller supplies each percentage; |sum - 100| <= 0.01. Amounts
              are rounded to cents and the last participant absorbs the
              rounding difference.

PAYER:
  The division belonging to paidBy is created paid (paidAmount = amount,
  paidAt = now): the payer's own share is settled by fronting the bill.

SEE ALSO:
  - expense.go: CreateExpense calls Split
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DivisionInput is a caller-supplied share. Value is an amount for CUSTOM,
// a percentage for PERCENTAGE, and ignored for EQUAL.
type DivisionInput struct {
	UserID string          `json:"userId"`
	Value  decimal.Decimal `json:"value"`
}

// Splitter computes the divisions for one division type.
type Splitter interface {
	Type() DivisionType
	Split(amount decimal.Decimal, participants []DivisionInput) ([]Division, error)
}

// SplitterFor returns the strategy for t.
func SplitterFor(t DivisionType) (Splitter, error) {
	switch t {
	case DivisionEqual:
		return equalSplitter{}, nil
	case DivisionCustom:
		return customSplitter{}, nil
	case DivisionPercentage:
		return percentageSplitter{}, nil
	default:
		return nil, invalid("divisionType", "unknown division type %q", t)
	}
}

// Split validates the inputs against the group's members and computes the
// divisions. When divisionType is EQUAL and inputs is empty, every member
// participates.
func Split(amount decimal.Decimal, divisionType DivisionType, memberIDs []string, inputs []DivisionInput, paidBy string, now time.Time) ([]Division, error) {
	if !amount.IsPositive() {
		return nil, invalid("amount", "must be positive")
	}
	if !amount.Equal(amount.Round(2)) {
		return nil, invalid("amount", "must have at most two decimal places")
	}
	splitter, err := SplitterFor(divisionType)
	if err != nil {
		return nil, err
	}

	participants := inputs
	if divisionType == DivisionEqual && len(participants) == 0 {
		participants = make([]DivisionInput, len(memberIDs))
		for i, id := range memberIDs {
			participants[i] = DivisionInput{UserID: id}
		}
	}
	if len(participants) == 0 {
		return nil, invalid("divisions", "at least one participant is required")
	}

	members := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		members[id] = true
	}
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		switch {
		case p.UserID == "":
			return nil, invalid("divisions", "participant user id is required")
		case !members[p.UserID]:
			return nil, invalid("divisions", "user %q is not a group member", p.UserID)
		case seen[p.UserID]:
			return nil, invalid("divisions", "user %q appears more than once", p.UserID)
		}
		seen[p.UserID] = true
	}

	divisions, err := splitter.Split(amount, participants)
	if err != nil {
		return nil, err
	}
	for i := range divisions {
		divisions[i].PaidAmount = decimal.Zero
		if divisions[i].UserID == paidBy {
			paidAt := now
			divisions[i].Paid = true
			divisions[i].PaidAmount = divisions[i].Amount
			divisions[i].PaidAt = &paidAt
		}
	}
	return divisions, nil
}

// =============================================================================
// EQUAL
// =============================================================================

type equalSplitter struct{}

func (equalSplitter) Type() DivisionType { return DivisionEqual }

func (equalSplitter) Split(amount decimal.Decimal, participants []DivisionInput) ([]Division, error) {
	n := decimal.NewFromInt(int64(len(participants)))
	share := amount.Div(n).RoundDown(2)
	remainder := amount.Sub(share.Mul(n))

	divisions := make([]Division, len(participants))
	for i, p := range participants {
		divisions[i] = Division{UserID: p.UserID, Amount: share}
	}
	divisions[0].Amount = share.Add(remainder)
	return divisions, nil
}

// =============================================================================
// CUSTOM
// =============================================================================

type customSplitter struct{}

func (customSplitter) Type() DivisionType { return DivisionCustom }

func (customSplitter) Split(amount decimal.Decimal, participants []DivisionInput) ([]Division, error) {
	sum := decimal.Zero
	divisions := make([]Division, len(participants))
	for i, p := range participants {
		if p.Value.IsNegative() {
			return nil, invalid("divisions", "amount for %q cannot be negative", p.UserID)
		}
		if !p.Value.Equal(p.Value.Round(2)) {
			return nil, invalid("divisions", "amount for %q must have at most two decimal places", p.UserID)
		}
		sum = sum.Add(p.Value)
		divisions[i] = Division{UserID: p.UserID, Amount: p.Value}
	}
	if sum.Sub(amount).Abs().GreaterThan(Tolerance) {
		return nil, invalid("divisions", "amounts sum to %s, expected %s", sum, amount)
	}

	// The last participant absorbs the accepted drift so the shares add up
	// to amount exactly.
	last := &divisions[len(divisions)-1]
	last.Amount = last.Amount.Add(amount.Sub(sum))
	if last.Amount.IsNegative() {
		return nil, invalid("divisions", "amounts do not add up for %q", last.UserID)
	}
	return divisions, nil
}

// =============================================================================
// PERCENTAGE
// =============================================================================

type percentageSplitter struct{}

func (percentageSplitter) Type() DivisionType { return DivisionPercentage }

func (percentageSplitter) Split(amount decimal.Decimal, participants []DivisionInput) ([]Division, error) {
	total := decimal.Zero
	for _, p := range participants {
		if p.Value.IsNegative() || p.Value.GreaterThan(hundred) {
			return nil, invalid("divisions", "percentage for %q must be between 0 and 100", p.UserID)
		}
		total = total.Add(p.Value)
	}
	if total.Sub(hundred).Abs().GreaterThan(Tolerance) {
		return nil, invalid("divisions", "percentages sum to %s, expected 100", total)
	}

	divisions := make([]Division, len(participants))
	allocated := decimal.Zero
	for i, p := range participants {
		pct := p.Value
		share := amount.Mul(pct).Div(hundred).Round(2)
		if i == len(participants)-1 {
			share = amount.Sub(allocated)
		}
		if share.IsNegative() {
			return nil, invalid("divisions", "percentages do not add up for %q", p.UserID)
		}
		allocated = allocated.Add(share)
		divisions[i] = Division{UserID: p.UserID, Amount: share, Percentage: &pct}
	}
	return divisions, nil
}
