package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/expense-ledger/docstore"
)

// NewExpense describes an expense to log. Divisions carries the per-member
// amounts (CUSTOM) or percentages (PERCENTAGE); for EQUAL it optionally
// restricts the participants.
type NewExpense struct {
	GroupID      string
	CreatedBy    string
	Description  string
	Amount       decimal.Decimal
	PaidBy       string
	DivisionType DivisionType
	Divisions    []DivisionInput
}

// CreateExpense logs an expense as PENDING_APPROVAL and asks the group owner
// to approve it. Balances are untouched until approval.
func (s *Service) CreateExpense(ctx context.Context, in NewExpense) (id string, err error) {
	defer func() { s.finish("create_expense", err, "group_id", in.GroupID, "actor_id", in.CreatedBy, "expense_id", id) }()

	description := strings.TrimSpace(in.Description)
	if description == "" {
		return "", invalid("description", "is required")
	}
	if in.CreatedBy == "" {
		return "", invalid("createdBy", "is required")
	}
	paidBy := in.PaidBy
	if paidBy == "" {
		paidBy = in.CreatedBy
	}

	newID := s.newID()
	err = s.commit(ctx, txn{
		op: "create_expense",
		build: func(ctx context.Context) (*plan, error) {
			g, err := s.loadGroup(ctx, in.GroupID)
			if err != nil {
				return nil, err
			}
			if !g.IsMember(in.CreatedBy) {
				return nil, &AuthorizationError{ActorID: in.CreatedBy, Action: "add expenses to this group", Required: "group member"}
			}
			if !g.IsMember(paidBy) {
				return nil, invalid("paidBy", "user %q is not a group member", paidBy)
			}

			now := s.now()
			divisions, err := Split(in.Amount, in.DivisionType, g.MemberIDs, in.Divisions, paidBy, now)
			if err != nil {
				return nil, err
			}
			e := Expense{
				ID:            newID,
				SchemaVersion: SchemaVersion,
				GroupID:       g.ID,
				Description:   description,
				Amount:        in.Amount,
				Currency:      g.Currency,
				PaidBy:        paidBy,
				DivisionType:  in.DivisionType,
				Divisions:     divisions,
				Status:        ExpensePending,
				CreatedBy:     in.CreatedBy,
				CreatedAt:     now,
				UpdatedAt:     now,
			}

			p := &plan{}
			p.add(
				docstore.Create(CollectionExpenses, newID, e),
				docstore.Update(CollectionGroups, g.ID, map[string]any{
					"lastActivityAt": now,
				}).IfVersionIs(g.Version),
			)
			p.enqueue(outboxID("expense-created", newID), Event{
				UserID:  g.OwnerID,
				Type:    EventExpensePendingApproval,
				Linkage: Linkage{GroupID: g.ID, ExpenseID: newID, FromUserID: in.CreatedBy},
				Params:  expenseParams(&e, g),
			}, now)
			return p, nil
		},
		committed: func(ctx context.Context) (bool, error) {
			return s.exists(ctx, CollectionExpenses, newID)
		},
	})
	if err != nil {
		return "", err
	}
	return newID, nil
}

// ApproveExpense moves a pending expense to APPROVED and books it into the
// group balances in the same batch. Only the group owner may approve.
func (s *Service) ApproveExpense(ctx context.Context, expenseID, actorID string) (err error) {
	defer func() { s.finish("approve_expense", err, "expense_id", expenseID, "actor_id", actorID) }()

	eventID := outboxID("expense-approved", expenseID)
	err = s.commit(ctx, txn{
		op: "approve_expense",
		build: func(ctx context.Context) (*plan, error) {
			e, g, err := s.loadDecision(ctx, expenseID, actorID, "approve expenses")
			if err != nil {
				return nil, err
			}

			now := s.now()
			ApplyExpenseApproval(g, e)

			p := &plan{}
			p.add(
				docstore.Update(CollectionExpenses, e.ID, map[string]any{
					"status":     ExpenseApproved,
					"approvedBy": actorID,
					"approvedAt": now,
					"updatedAt":  now,
				}).IfVersionIs(e.Version),
				docstore.Update(CollectionGroups, g.ID, ledgerFields(g, now)).IfVersionIs(g.Version),
			)
			p.enqueue(eventID, Event{
				UserID:  e.CreatedBy,
				Type:    EventExpenseApproved,
				Linkage: Linkage{GroupID: g.ID, ExpenseID: e.ID, FromUserID: actorID},
				Params:  expenseParams(e, g),
			}, now)
			return p, nil
		},
		committed: func(ctx context.Context) (bool, error) {
			return s.exists(ctx, CollectionOutbox, eventID)
		},
	})
	s.redeliverDecision(ctx, err, expenseID)
	return err
}

// RejectExpense moves a pending expense to REJECTED. Balances are untouched.
func (s *Service) RejectExpense(ctx context.Context, expenseID, actorID, reason string) (err error) {
	defer func() { s.finish("reject_expense", err, "expense_id", expenseID, "actor_id", actorID) }()

	reason = strings.TrimSpace(reason)
	eventID := outboxID("expense-rejected", expenseID)
	err = s.commit(ctx, txn{
		op: "reject_expense",
		build: func(ctx context.Context) (*plan, error) {
			e, g, err := s.loadDecision(ctx, expenseID, actorID, "reject expenses")
			if err != nil {
				return nil, err
			}

			now := s.now()
			fields := map[string]any{
				"status":     ExpenseRejected,
				"rejectedBy": actorID,
				"rejectedAt": now,
				"updatedAt":  now,
			}
			if reason != "" {
				fields["rejectionReason"] = reason
			}
			params := expenseParams(e, g)
			params["reason"] = reason

			p := &plan{}
			p.add(docstore.Update(CollectionExpenses, e.ID, fields).IfVersionIs(e.Version))
			p.enqueue(eventID, Event{
				UserID:  e.CreatedBy,
				Type:    EventExpenseRejected,
				Linkage: Linkage{GroupID: g.ID, ExpenseID: e.ID, FromUserID: actorID},
				Params:  params,
			}, now)
			return p, nil
		},
		committed: func(ctx context.Context) (bool, error) {
			return s.exists(ctx, CollectionOutbox, eventID)
		},
	})
	s.redeliverDecision(ctx, err, expenseID)
	return err
}

// loadDecision reads an expense and its group and checks, in order, that
// both exist, that actorID owns the group, and that the expense is pending.
func (s *Service) loadDecision(ctx context.Context, expenseID, actorID, action string) (*Expense, *Group, error) {
	e, err := s.loadExpense(ctx, expenseID)
	if err != nil {
		return nil, nil, err
	}
	g, err := s.loadGroup(ctx, e.GroupID)
	if err != nil {
		return nil, nil, err
	}
	if actorID != g.OwnerID {
		return nil, nil, &AuthorizationError{ActorID: actorID, Action: action, Required: "group owner"}
	}
	if e.Status != ExpensePending {
		return nil, nil, &AlreadyProcessedError{Kind: "expense", ID: expenseID, Status: string(e.Status)}
	}
	return e, g, nil
}

// redeliverDecision finishes the notification of an expense that was
// already decided by an earlier call.
func (s *Service) redeliverDecision(ctx context.Context, err error, expenseID string) {
	var ap *AlreadyProcessedError
	if !errors.As(err, &ap) {
		return
	}
	switch ExpenseStatus(ap.Status) {
	case ExpenseApproved:
		s.redeliver(ctx, outboxID("expense-approved", expenseID))
	case ExpenseRejected:
		s.redeliver(ctx, outboxID("expense-rejected", expenseID))
	}
}

func expenseParams(e *Expense, g *Group) map[string]string {
	return map[string]string{
		"description": e.Description,
		"amount":      e.Amount.StringFixed(2),
		"currency":    e.Currency,
		"group":       g.Name,
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// GetExpense returns one expense.
func (s *Service) GetExpense(ctx context.Context, expenseID string) (*Expense, error) {
	return s.loadExpense(ctx, expenseID)
}

// ListGroupExpenses returns a group's expenses, newest first.
func (s *Service) ListGroupExpenses(ctx context.Context, groupID string) ([]Expense, error) {
	if _, err := s.loadGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return s.listExpenses(ctx, groupID, "")
}

func (s *Service) listExpenses(ctx context.Context, groupID string, status ExpenseStatus) ([]Expense, error) {
	filters := []docstore.Filter{docstore.Where("groupId", docstore.OpEqual, groupID)}
	if status != "" {
		filters = append(filters, docstore.Where("status", docstore.OpEqual, status))
	}
	docs, err := s.query(ctx, CollectionExpenses, docstore.Query{
		Filters:    filters,
		OrderBy:    "createdAt",
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(e *Expense, v int64) { e.Version = v })
}

// TotalPaidInMonth sums what userID paid out during a calendar month (UTC):
// the full amount of approved expenses they fronted, plus what they have
// paid towards their share of other approved expenses created that month.
func (s *Service) TotalPaidInMonth(ctx context.Context, userID string, year int, month time.Month) (decimal.Decimal, error) {
	if month < time.January || month > time.December {
		return decimal.Zero, invalid("month", "must be between 1 and 12")
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	docs, err := s.query(ctx, CollectionExpenses, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("status", docstore.OpEqual, ExpenseApproved),
			docstore.Where("createdAt", docstore.OpGreaterEqual, start),
			docstore.Where("createdAt", docstore.OpLess, end),
		},
	})
	if err != nil {
		return decimal.Zero, err
	}
	expenses, err := decodeAll[Expense](docs, nil)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, e := range expenses {
		if e.PaidBy == userID {
			total = total.Add(e.Amount)
			continue
		}
		if _, d := e.Division(userID); d != nil {
			total = total.Add(d.PaidAmount)
		}
	}
	return total, nil
}
