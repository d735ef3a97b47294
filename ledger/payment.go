package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/expense-ledger/docstore"
)

// NewPayment describes a debtor's payment towards their share of an expense.
type NewPayment struct {
	ExpenseID     string
	PayerID       string
	Amount        decimal.Decimal
	PaymentMethod string
	Comment       string
}

// CreatePayment records a PENDING_CONFIRMATION payment from the payer to the
// expense creator. The expense must be APPROVED and the payer must still owe
// at least amount on their division, counting other pending payments.
func (s *Service) CreatePayment(ctx context.Context, in NewPayment) (id string, err error) {
	defer func() { s.finish("create_payment", err, "expense_id", in.ExpenseID, "actor_id", in.PayerID, "payment_id", id) }()

	if in.PayerID == "" {
		return "", invalid("userId", "is required")
	}
	if !in.Amount.IsPositive() {
		return "", invalid("amount", "must be positive")
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return "", invalid("amount", "must have at most two decimal places")
	}

	newID := s.newID()
	err = s.commit(ctx, txn{
		op: "create_payment",
		build: func(ctx context.Context) (*plan, error) {
			e, err := s.loadExpense(ctx, in.ExpenseID)
			if err != nil {
				return nil, err
			}
			if e.Status != ExpenseApproved {
				return nil, invalid("expenseId", "expense is %s, payments need an approved expense", e.Status)
			}
			if in.PayerID == e.CreatedBy {
				return nil, invalid("userId", "the expense creator cannot pay themselves")
			}
			_, d := e.Division(in.PayerID)
			if d == nil {
				return nil, invalid("userId", "user %q has no share in this expense", in.PayerID)
			}
			if d.Paid {
				return nil, invalid("userId", "share is already paid")
			}

			pending, err := s.pendingPayments(ctx, e.ID, in.PayerID)
			if err != nil {
				return nil, err
			}
			remaining := d.Remaining().Sub(pending)
			if in.Amount.GreaterThan(remaining.Add(Tolerance)) {
				return nil, invalid("amount", "exceeds the remaining %s", remaining.StringFixed(2))
			}

			now := s.now()
			pay := Payment{
				ID:            newID,
				SchemaVersion: SchemaVersion,
				ExpenseID:     e.ID,
				GroupID:       e.GroupID,
				UserID:        in.PayerID,
				ToUserID:      e.CreatedBy,
				Amount:        in.Amount,
				PaymentMethod: strings.TrimSpace(in.PaymentMethod),
				Comment:       strings.TrimSpace(in.Comment),
				Status:        PaymentPending,
				CreatedBy:     in.PayerID,
				CreatedAt:     now,
				UpdatedAt:     now,
			}

			p := &plan{}
			p.add(docstore.Create(CollectionPayments, newID, pay))
			p.enqueue(outboxID("payment-created", newID), Event{
				UserID:  e.CreatedBy,
				Type:    EventPaymentPendingConfirmation,
				Linkage: Linkage{GroupID: e.GroupID, ExpenseID: e.ID, PaymentID: newID, FromUserID: in.PayerID},
				Params:  paymentParams(&pay, e),
			}, now)
			return p, nil
		},
		committed: func(ctx context.Context) (bool, error) {
			return s.exists(ctx, CollectionPayments, newID)
		},
	})
	if err != nil {
		return "", err
	}
	return newID, nil
}

func (s *Service) pendingPayments(ctx context.Context, expenseID, userID string) (decimal.Decimal, error) {
	docs, err := s.query(ctx, CollectionPayments, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("expenseId", docstore.OpEqual, expenseID),
			docstore.Where("userId", docstore.OpEqual, userID),
			docstore.Where("status", docstore.OpEqual, PaymentPending),
		},
	})
	if err != nil {
		return decimal.Zero, err
	}
	payments, err := decodeAll[Payment](docs, nil)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, p := range payments {
		sum = sum.Add(p.Amount)
	}
	return sum, nil
}

// ConfirmPayment moves a pending payment to CONFIRMED, credits the payer's
// division and books the payment into the group balances, all in one batch.
// Only the expense creator may confirm. A payment larger than what is still
// owed on the share is refused with a ValidationError and stays pending, so
// the creator can reject it.
func (s *Service) ConfirmPayment(ctx context.Context, paymentID, actorID string) (err error) {
	defer func() { s.finish("confirm_payment", err, "payment_id", paymentID, "actor_id", actorID) }()

	eventID := outboxID("payment-confirmed", paymentID)
	err = s.commit(ctx, txn{
		op: "confirm_payment",
		build: func(ctx context.Context) (*plan, error) {
			pay, e, err := s.loadSettlement(ctx, paymentID, actorID, "confirm this payment")
			if err != nil {
				return nil, err
			}
			g, err := s.loadGroup(ctx, e.GroupID)
			if err != nil {
				return nil, err
			}
			i, d := e.Division(pay.UserID)
			if d == nil {
				return nil, invalid("userId", "user %q has no share in expense %q", pay.UserID, e.ID)
			}
			if !g.IsMember(pay.UserID) || !g.IsMember(e.CreatedBy) {
				return nil, invalid("groupId", "payer and creditor must both still be group members")
			}
			// Checked against the versioned expense, so payments created
			// concurrently can never over-pay a share.
			if d.Paid || pay.Amount.GreaterThan(d.Remaining().Add(Tolerance)) {
				return nil, invalid("amount", "payment of %s exceeds the remaining %s", pay.Amount.StringFixed(2), d.Remaining().StringFixed(2))
			}

			now := s.now()
			d.PaidAmount = d.PaidAmount.Add(pay.Amount)
			if d.Amount.Sub(d.PaidAmount).LessThanOrEqual(Tolerance) {
				paidAt := now
				d.Paid = true
				d.PaidAt = &paidAt
			}
			e.Divisions[i] = *d
			ApplyPaymentConfirmation(g, pay, e.CreatedBy)

			p := &plan{}
			p.add(
				docstore.Update(CollectionPayments, pay.ID, map[string]any{
					"status":      PaymentConfirmed,
					"confirmedBy": actorID,
					"confirmedAt": now,
					"updatedAt":   now,
				}).IfVersionIs(pay.Version),
				docstore.Update(CollectionExpenses, e.ID, map[string]any{
					"divisions": e.Divisions,
					"updatedAt": now,
				}).IfVersionIs(e.Version),
				docstore.Update(CollectionGroups, g.ID, ledgerFields(g, now)).IfVersionIs(g.Version),
			)
			p.enqueue(eventID, Event{
				UserID:  pay.UserID,
				Type:    EventPaymentConfirmed,
				Linkage: Linkage{GroupID: g.ID, ExpenseID: e.ID, PaymentID: pay.ID, FromUserID: actorID},
				Params:  paymentParams(pay, e),
			}, now)
			return p, nil
		},
		committed: func(ctx context.Context) (bool, error) {
			return s.exists(ctx, CollectionOutbox, eventID)
		},
	})
	s.redeliverSettlement(ctx, err, paymentID)
	return err
}

// RejectPayment moves a pending payment to REJECTED. Balances and divisions
// are untouched.
func (s *Service) RejectPayment(ctx context.Context, paymentID, actorID string) (err error) {
	defer func() { s.finish("reject_payment", err, "payment_id", paymentID, "actor_id", actorID) }()

	eventID := outboxID("payment-rejected", paymentID)
	err = s.commit(ctx, txn{
		op: "reject_payment",
		build: func(ctx context.Context) (*plan, error) {
			pay, e, err := s.loadSettlement(ctx, paymentID, actorID, "reject this payment")
			if err != nil {
				return nil, err
			}

			now := s.now()
			p := &plan{}
			p.add(docstore.Update(CollectionPayments, pay.ID, map[string]any{
				"status":     PaymentRejected,
				"rejectedBy": actorID,
				"rejectedAt": now,
				"updatedAt":  now,
			}).IfVersionIs(pay.Version))
			p.enqueue(eventID, Event{
				UserID:  pay.UserID,
				Type:    EventPaymentRejected,
				Linkage: Linkage{GroupID: e.GroupID, ExpenseID: e.ID, PaymentID: pay.ID, FromUserID: actorID},
				Params:  paymentParams(pay, e),
			}, now)
			return p, nil
		},
		committed: func(ctx context.Context) (bool, error) {
			return s.exists(ctx, CollectionOutbox, eventID)
		},
	})
	s.redeliverSettlement(ctx, err, paymentID)
	return err
}

// loadSettlement reads a payment and its expense and checks that actorID
// created the expense and that the payment is still pending.
func (s *Service) loadSettlement(ctx context.Context, paymentID, actorID, action string) (*Payment, *Expense, error) {
	pay, err := s.loadPayment(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	e, err := s.loadExpense(ctx, pay.ExpenseID)
	if err != nil {
		return nil, nil, err
	}
	if actorID != e.CreatedBy {
		return nil, nil, &AuthorizationError{ActorID: actorID, Action: action, Required: "expense creator"}
	}
	if pay.Status != PaymentPending {
		return nil, nil, &AlreadyProcessedError{Kind: "payment", ID: paymentID, Status: string(pay.Status)}
	}
	return pay, e, nil
}

func (s *Service) redeliverSettlement(ctx context.Context, err error, paymentID string) {
	var ap *AlreadyProcessedError
	if !errors.As(err, &ap) {
		return
	}
	switch PaymentStatus(ap.Status) {
	case PaymentConfirmed:
		s.redeliver(ctx, outboxID("payment-confirmed", paymentID))
	case PaymentRejected:
		s.redeliver(ctx, outboxID("payment-rejected", paymentID))
	}
}

func paymentParams(p *Payment, e *Expense) map[string]string {
	return map[string]string{
		"description": e.Description,
		"amount":      p.Amount.StringFixed(2),
		"currency":    e.Currency,
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// GetPayment returns one payment.
func (s *Service) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	return s.loadPayment(ctx, paymentID)
}

// ListExpensePayments returns the payments made against an expense, newest
// first.
func (s *Service) ListExpensePayments(ctx context.Context, expenseID string) ([]Payment, error) {
	if _, err := s.loadExpense(ctx, expenseID); err != nil {
		return nil, err
	}
	docs, err := s.query(ctx, CollectionPayments, docstore.Query{
		Filters:    []docstore.Filter{docstore.Where("expenseId", docstore.OpEqual, expenseID)},
		OrderBy:    "createdAt",
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	return decodeAll(docs, func(p *Payment, v int64) { p.Version = v })
}
