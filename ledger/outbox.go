/*
outbox.go - Notifier interface and transactional outbox

PURPOSE:
  Every state transition that should inform a user writes an outbox entry
  in the same batch as the state change. After the batch commits the entry
  is handed to the Notifier. Delivery failures never fail the operation:
  the entry stays PENDING and RecoverOutbox redelivers it later.

EXACTLY ONCE:
  Outbox ids are deterministic per transition (e.g. expense-approved-<id>)
  and the Event carries that id. Notifier implementations that persist
  events use it as their document id, so a redelivery is a no-op.

LIFECYCLE:
  PENDING --delivered--> DELIVERED
  PENDING --attempts exhausted--> FAILED

SEE ALSO:
  - notify/service.go: the store-backed Notifier
  - api/scheduler.go:  runs RecoverOutbox periodically
*/
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/warp/expense-ledger/docstore"
)

// EventType tags a notification.
type EventType string

const (
	EventExpensePendingApproval     EventType = "EXPENSE_PENDING_APPROVAL"
	EventExpenseApproved            EventType = "EXPENSE_APPROVED"
	EventExpenseRejected            EventType = "EXPENSE_REJECTED"
	EventPaymentPendingConfirmation EventType = "PAYMENT_PENDING_CONFIRMATION"
	EventPaymentConfirmed           EventType = "PAYMENT_CONFIRMED"
	EventPaymentRejected            EventType = "PAYMENT_REJECTED"
	EventFriendRequest              EventType = "FRIEND_REQUEST"
	EventMemberAdded                EventType = "MEMBER_ADDED"
	EventGroupCreated               EventType = "GROUP_CREATED"
)

// Activity reports whether the type is informational only. Activity
// notifications are stored as already read and never pushed.
func (t EventType) Activity() bool {
	return t == EventMemberAdded || t == EventGroupCreated
}

// Linkage points a notification at the records it concerns.
type Linkage struct {
	GroupID         string `json:"groupId,omitempty"`
	ExpenseID       string `json:"expenseId,omitempty"`
	PaymentID       string `json:"paymentId,omitempty"`
	FriendRequestID string `json:"friendRequestId,omitempty"`
	FromUserID      string `json:"fromUserId,omitempty"`
}

// Event is one notification addressed to UserID. Params feed the message
// templates (description, amount, currency, group, reason).
type Event struct {
	ID         string            `json:"id"`
	UserID     string            `json:"userId"`
	Type       EventType         `json:"type"`
	Linkage    Linkage           `json:"linkage"`
	Params     map[string]string `json:"params,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Notifier receives events after their transition committed.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// LogNotifier only logs events.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "id", ev.ID, "user_id", ev.UserID, "type", ev.Type)
	return nil
}

// =============================================================================
// OUTBOX ENTRIES
// =============================================================================

// OutboxStatus is the delivery state of an outbox entry.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxDelivered OutboxStatus = "DELIVERED"
	OutboxFailed    OutboxStatus = "FAILED"
)

// OutboxEntry is a notification waiting for delivery.
type OutboxEntry struct {
	ID            string       `json:"id"`
	SchemaVersion int          `json:"schemaVersion"`
	Event         Event        `json:"event"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	LastError     string       `json:"lastError,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	DeliveredAt   *time.Time   `json:"deliveredAt,omitempty"`
}

// Outbox ids, one per transition.
func outboxID(kind, id string) string { return kind + "-" + id }

// enqueue adds the outbox entry for ev to the plan.
func (p *plan) enqueue(id string, ev Event, now time.Time) {
	ev.ID = id
	ev.OccurredAt = now
	p.add(docstore.Create(CollectionOutbox, id, OutboxEntry{
		ID:            id,
		SchemaVersion: SchemaVersion,
		Event:         ev,
		Status:        OutboxPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
	p.outbox = append(p.outbox, id)
}

// =============================================================================
// DELIVERY
// =============================================================================

func (s *Service) dispatch(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	for _, id := range ids {
		s.deliver(ctx, id)
	}
}

// deliver hands one pending entry to the Notifier. It reports whether the
// entry ended up DELIVERED.
func (s *Service) deliver(ctx context.Context, id string) bool {
	var entry OutboxEntry
	version, err := s.read(ctx, CollectionOutbox, id, "outbox entry", &entry)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("outbox read failed", "outbox_id", id, "error", err)
		}
		return false
	}
	if entry.Status != OutboxPending {
		return entry.Status == OutboxDelivered
	}

	now := s.now()
	if err := s.notifier.Notify(ctx, entry.Event); err != nil {
		attempts := entry.Attempts + 1
		fields := map[string]any{
			"attempts":  attempts,
			"lastError": err.Error(),
			"updatedAt": now,
		}
		result := "retry"
		if attempts >= s.outboxMaxAttempts {
			fields["status"] = OutboxFailed
			result = "failed"
		}
		s.metrics.outboxResult(result)
		s.logger.Warn("notification delivery failed",
			"outbox_id", id, "user_id", entry.Event.UserID, "type", entry.Event.Type,
			"attempts", attempts, "error", err)
		if werr := s.store.RunBatch(ctx, []docstore.Write{
			docstore.Update(CollectionOutbox, id, fields).IfVersionIs(version),
		}); werr != nil {
			s.logger.Warn("outbox update failed", "outbox_id", id, "error", werr)
		}
		return false
	}

	err = s.store.RunBatch(ctx, []docstore.Write{
		docstore.Update(CollectionOutbox, id, map[string]any{
			"status":      OutboxDelivered,
			"attempts":    entry.Attempts + 1,
			"updatedAt":   now,
			"deliveredAt": now,
		}).IfVersionIs(version),
	})
	if err != nil {
		// The notifier deduplicates by event id, so a later redelivery is harmless.
		s.logger.Warn("outbox update failed", "outbox_id", id, "error", err)
	}
	s.metrics.outboxResult("delivered")
	return true
}

// RecoverOutbox redelivers PENDING entries older than grace and returns how
// many were delivered.
func (s *Service) RecoverOutbox(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := s.now().Add(-grace)
	docs, err := s.query(ctx, CollectionOutbox, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("status", docstore.OpEqual, OutboxPending),
			docstore.Where("createdAt", docstore.OpLessEqual, cutoff),
		},
		OrderBy: "createdAt",
	})
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, d := range docs {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if s.deliver(ctx, d.ID) {
			delivered++
		}
	}
	if len(docs) > 0 {
		s.logger.Info("outbox sweep", "pending", len(docs), "delivered", delivered)
	}
	return delivered, nil
}

// ListOutbox returns entries in the given status, oldest first.
func (s *Service) ListOutbox(ctx context.Context, status OutboxStatus) ([]OutboxEntry, error) {
	docs, err := s.query(ctx, CollectionOutbox, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("status", docstore.OpEqual, status)},
		OrderBy: "createdAt",
	})
	if err != nil {
		return nil, err
	}
	return decodeAll[OutboxEntry](docs, nil)
}

// redeliver finishes the pending outbox entry of an already processed
// transition, if any.
func (s *Service) redeliver(ctx context.Context, id string) {
	if ok, err := s.exists(ctx, CollectionOutbox, id); err == nil && ok {
		s.dispatch(ctx, id)
	}
}
