/*
types.go - Persisted entities of the expense ledger

PURPOSE:
  Defines the documents the ledger reads and writes through the Document
  Store: groups (with the per-member balance map), expenses (with their
  divisions), payments, friend requests and friends.

MONEY:
  All amounts are shopspring decimals rounded to cents. Decimals serialize
  as JSON strings, so balances survive a round-trip through any backend
  without float drift.

SCHEMA:
  Every document carries schemaVersion. SchemaVersion is the only layout the
  ledger reads; older documents are upgraded by migrate.go, never by
  fallbacks at read time.

SIGN CONVENTION:
  balances[user] > 0  the group owes the user (they fronted money)
  balances[user] < 0  the user owes the group

SEE ALSO:
  - split.go:   Builds Expense.Divisions
  - balance.go: Mutates Group.Balances
  - migrate.go: Upgrades legacy documents
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// SchemaVersion is the current document layout.
const SchemaVersion = 2

// Collection names.
const (
	CollectionGroups         = "group"
	CollectionExpenses       = "expenses"
	CollectionPayments       = "payments"
	CollectionFriends        = "friends"
	CollectionFriendRequests = "friendRequests"
	CollectionFriendPairs    = "friendPairs"
	CollectionOutbox         = "outbox"

	// CollectionLegacyPayments holds schema v1 payments awaiting migration.
	CollectionLegacyPayments = "pagamentos"
)

// DefaultCurrency is used when a group is created without one.
const DefaultCurrency = "EUR"

// Tolerance is the accepted rounding slack for money comparisons.
var Tolerance = decimal.New(1, -2)

// =============================================================================
// GROUP
// =============================================================================

// MemberRole is a member's role within a group.
type MemberRole string

const (
	RoleOwner  MemberRole = "OWNER"
	RoleMember MemberRole = "MEMBER"
)

// MemberStatus is a member's participation status.
type MemberStatus string

const (
	MemberActive MemberStatus = "ACTIVE"
)

// GroupStatus summarizes whether a group still has open balances.
type GroupStatus string

const (
	GroupUnsettled GroupStatus = "UNSETTLED"
	GroupSettled   GroupStatus = "SETTLED"
)

// Member describes one user's membership.
type Member struct {
	Role     MemberRole   `json:"role"`
	Status   MemberStatus `json:"status"`
	JoinedAt time.Time    `json:"joinedAt"`
}

// Group is a set of members sharing expenses, with their signed balances.
type Group struct {
	ID             string                     `json:"id"`
	SchemaVersion  int                        `json:"schemaVersion"`
	Name           string                     `json:"name"`
	Description    string                     `json:"description,omitempty"`
	Currency       string                     `json:"currency"`
	OwnerID        string                     `json:"ownerId"`
	MemberIDs      []string                   `json:"memberIds"`
	Members        map[string]Member          `json:"members"`
	Balances       map[string]decimal.Decimal `json:"balances"`
	TotalSpent     decimal.Decimal            `json:"totalGasto"`
	Status         GroupStatus                `json:"status"`
	IsActive       bool                       `json:"isActive"`
	CreatedBy      string                     `json:"createdBy"`
	CreatedAt      time.Time                  `json:"createdAt"`
	UpdatedAt      time.Time                  `json:"updatedAt"`
	LastActivityAt time.Time                  `json:"lastActivityAt"`

	// Version is the store version this value was read at.
	Version int64 `json:"-"`
}

// IsMember reports whether userID belongs to the group.
func (g *Group) IsMember(userID string) bool {
	for _, id := range g.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// =============================================================================
// EXPENSE
// =============================================================================

// DivisionType selects how an expense is split.
type DivisionType string

const (
	DivisionEqual      DivisionType = "EQUAL"
	DivisionCustom     DivisionType = "CUSTOM"
	DivisionPercentage DivisionType = "PERCENTAGE"
)

// ExpenseStatus is the approval state of an expense.
type ExpenseStatus string

const (
	ExpensePending  ExpenseStatus = "PENDING_APPROVAL"
	ExpenseApproved ExpenseStatus = "APPROVED"
	ExpenseRejected ExpenseStatus = "REJECTED"
)

// Division is one member's share of an expense.
type Division struct {
	UserID     string           `json:"userId"`
	Amount     decimal.Decimal  `json:"amount"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
	Paid       bool             `json:"paid"`
	PaidAmount decimal.Decimal  `json:"paidAmount"`
	PaidAt     *time.Time       `json:"paidAt,omitempty"`
}

// Remaining is the unpaid part of the share.
func (d Division) Remaining() decimal.Decimal {
	r := d.Amount.Sub(d.PaidAmount)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Expense is a bill fronted by one member and shared among several.
type Expense struct {
	ID              string          `json:"id"`
	SchemaVersion   int             `json:"schemaVersion"`
	GroupID         string          `json:"groupId"`
	Description     string          `json:"description"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaidBy          string          `json:"paidBy"`
	DivisionType    DivisionType    `json:"divisionType"`
	Divisions       []Division      `json:"divisions"`
	Status          ExpenseStatus   `json:"status"`
	CreatedBy       string          `json:"createdBy"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	ApprovedBy      string          `json:"approvedBy,omitempty"`
	ApprovedAt      *time.Time      `json:"approvedAt,omitempty"`
	RejectedBy      string          `json:"rejectedBy,omitempty"`
	RejectedAt      *time.Time      `json:"rejectedAt,omitempty"`
	RejectionReason string          `json:"rejectionReason,omitempty"`

	Version int64 `json:"-"`
}

// Division returns the share of userID, if any.
func (e *Expense) Division(userID string) (int, *Division) {
	for i := range e.Divisions {
		if e.Divisions[i].UserID == userID {
			return i, &e.Divisions[i]
		}
	}
	return -1, nil
}

// Involves reports whether userID paid for or shares in the expense.
func (e *Expense) Involves(userID string) bool {
	if e.PaidBy == userID || e.CreatedBy == userID {
		return true
	}
	_, d := e.Division(userID)
	return d != nil
}

// =============================================================================
// PAYMENT
// =============================================================================

// PaymentStatus is the confirmation state of a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING_CONFIRMATION"
	PaymentConfirmed PaymentStatus = "CONFIRMED"
	PaymentRejected  PaymentStatus = "REJECTED"
)

// Payment is a debtor's settlement of (part of) their division.
type Payment struct {
	ID            string          `json:"id"`
	SchemaVersion int             `json:"schemaVersion"`
	ExpenseID     string          `json:"expenseId"`
	GroupID       string          `json:"groupId"`
	UserID        string          `json:"userId"`
	ToUserID      string          `json:"toUserId"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
	Comment       string          `json:"comment,omitempty"`
	Status        PaymentStatus   `json:"status"`
	CreatedBy     string          `json:"createdBy"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	ConfirmedBy   string          `json:"confirmedBy,omitempty"`
	ConfirmedAt   *time.Time      `json:"confirmedAt,omitempty"`
	RejectedBy    string          `json:"rejectedBy,omitempty"`
	RejectedAt    *time.Time      `json:"rejectedAt,omitempty"`

	Version int64 `json:"-"`
}

// =============================================================================
// FRIENDS
// =============================================================================

// FriendStatus is shared by friend requests and friend records.
type FriendStatus string

const (
	FriendPending  FriendStatus = "PENDING"
	FriendAccepted FriendStatus = "ACCEPTED"
	FriendRejected FriendStatus = "REJECTED"
)

// FriendRequest asks ToUserID to become FromUserID's friend.
type FriendRequest struct {
	ID            string       `json:"id"`
	SchemaVersion int          `json:"schemaVersion"`
	FromUserID    string       `json:"fromUserId"`
	ToUserID      string       `json:"toUserId"`
	Status        FriendStatus `json:"status"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`

	Version int64 `json:"-"`
}

// Friend is one direction of an accepted friendship.
type Friend struct {
	ID            string       `json:"id"`
	SchemaVersion int          `json:"schemaVersion"`
	UserID        string       `json:"userId"`
	FriendID      string       `json:"friendId"`
	Status        FriendStatus `json:"status"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// friendID is deterministic so repeated accepts cannot duplicate records.
func friendID(userID, friendID string) string {
	return userID + "_" + friendID
}

// friendPair serializes friend requests between two users. Its id is the
// sorted pair, so concurrent requests in either direction collide on it.
type friendPair struct {
	ID               string    `json:"id"`
	UserIDs          []string  `json:"userIds"`
	PendingRequestID string    `json:"pendingRequestId"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func friendPairID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return friendID(a, b)
}
