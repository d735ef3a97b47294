/*
dto.go - Request and response bodies of the HTTP API

PURPOSE:
  Request types decouple the wire format from ledger inputs. Responses reuse
  the ledger and notify entities, whose JSON tags are the stored document
  layout, and wrap scalars in small envelopes.

NAMING CONVENTION:
  - *Request:  request bodies
  - *Response: response envelopes

MONEY:
  Amounts are decimal strings ("12.50"). Numbers are accepted on input.

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/expense-ledger/ledger"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreateGroupRequest creates a group owned by the caller.
type CreateGroupRequest struct {
	Name        string `json:"name" example:"Lisbon trip"`
	Description string `json:"description,omitempty"`
	Currency    string `json:"currency,omitempty" example:"EUR"`
}

// AddMemberRequest adds a friend of the owner to a group.
type AddMemberRequest struct {
	UserID string `json:"userId" example:"u2"`
}

// DivisionRequest is one participant of a split. Value is the amount for
// CUSTOM and the percentage for PERCENTAGE; it is ignored for EQUAL.
type DivisionRequest struct {
	UserID string          `json:"userId"`
	Value  decimal.Decimal `json:"value" swaggertype:"string" example:"25.00"`
}

// CreateExpenseRequest logs an expense in a group.
type CreateExpenseRequest struct {
	Description  string            `json:"description" example:"Dinner"`
	Amount       decimal.Decimal   `json:"amount" swaggertype:"string" example:"90.00"`
	PaidBy       string            `json:"paidBy,omitempty"`
	DivisionType string            `json:"divisionType" enums:"EQUAL,CUSTOM,PERCENTAGE"`
	Divisions    []DivisionRequest `json:"divisions,omitempty"`
}

func (r CreateExpenseRequest) toInput(groupID, actorID string) ledger.NewExpense {
	in := ledger.NewExpense{
		GroupID:      groupID,
		CreatedBy:    actorID,
		Description:  r.Description,
		Amount:       r.Amount,
		PaidBy:       r.PaidBy,
		DivisionType: ledger.DivisionType(r.DivisionType),
	}
	for _, d := range r.Divisions {
		in.Divisions = append(in.Divisions, ledger.DivisionInput{UserID: d.UserID, Value: d.Value})
	}
	return in
}

// RejectRequest carries an optional reason.
type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CreatePaymentRequest pays part or all of the caller's division.
type CreatePaymentRequest struct {
	Amount        decimal.Decimal `json:"amount" swaggertype:"string" example:"30.00"`
	PaymentMethod string          `json:"paymentMethod,omitempty" example:"PIX"`
	Comment       string          `json:"comment,omitempty"`
}

// FriendRequestRequest sends a friend request from the caller.
type FriendRequestRequest struct {
	ToUserID string `json:"toUserId" example:"u2"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// IDResponse returns the id of a created record.
type IDResponse struct {
	ID string `json:"id"`
}

// StatusResponse acknowledges a transition.
type StatusResponse struct {
	Status string `json:"status"`
}

// BalancesResponse lists signed balances per member.
type BalancesResponse struct {
	GroupID  string                     `json:"groupId"`
	Currency string                     `json:"currency"`
	Balances map[string]decimal.Decimal `json:"balances" swaggertype:"object,string"`
}

// SettlementsResponse suggests transfers that settle a group.
type SettlementsResponse struct {
	GroupID   string            `json:"groupId"`
	Transfers []ledger.Transfer `json:"transfers"`
}

// CountResponse carries a count.
type CountResponse struct {
	Count int `json:"count"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
