/*
service.go - Store-backed Notifier and the user's notification inbox

PURPOSE:
  Service is the ledger.Notifier used in production. Every event becomes a
  document in the notifications collection whose id is the event id, so an
  outbox redelivery finds the document already there and succeeds without
  creating a duplicate.

STATUS:
  UNREAD   requires attention (approvals, confirmations, friend requests)
  READ     seen, or activity-only (MEMBER_ADDED, GROUP_CREATED)
  ARCHIVED hidden from the inbox after the related action completed

SEE ALSO:
  - counter.go:       realtime unread count over store subscriptions
  - ledger/outbox.go: produces the events
  - i18n/catalog.go:  titles and messages
*/
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warp/expense-ledger/docstore"
	"github.com/warp/expense-ledger/i18n"
	"github.com/warp/expense-ledger/ledger"
)

// Collection holds notification documents.
const Collection = "notifications"

// DefaultListLimit bounds List when the caller passes no limit.
const DefaultListLimit = 50

const maxAttempts = 5

// Status is the read state of a notification.
type Status string

const (
	StatusUnread   Status = "UNREAD"
	StatusRead     Status = "READ"
	StatusArchived Status = "ARCHIVED"
)

// Notification is one stored message for a user.
type Notification struct {
	ID            string           `json:"id"`
	SchemaVersion int              `json:"schemaVersion"`
	UserID        string           `json:"userId"`
	Type          ledger.EventType `json:"type"`
	Status        Status           `json:"status"`
	Title         string           `json:"title"`
	Message       string           `json:"message"`

	GroupID         string `json:"groupId,omitempty"`
	ExpenseID       string `json:"expenseId,omitempty"`
	PaymentID       string `json:"paymentId,omitempty"`
	FriendRequestID string `json:"friendRequestId,omitempty"`
	FromUserID      string `json:"fromUserId,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	ReadAt    *time.Time `json:"readAt,omitempty"`

	Version int64 `json:"-"`
}

// Service stores and serves notifications.
type Service struct {
	store      docstore.Store
	translator *i18n.Translator
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service. A nil translator renders in the default
// language.
func NewService(store docstore.Store, translator *i18n.Translator, opts ...Option) *Service {
	if translator == nil {
		translator, _ = i18n.New(i18n.DefaultLanguage, nil)
	}
	s := &Service{
		store:      store,
		translator: translator,
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ledger.Notifier = (*Service)(nil)

// =============================================================================
// NOTIFIER
// =============================================================================

// Notify stores ev as a notification. Delivering the same event twice is a
// no-op.
func (s *Service) Notify(ctx context.Context, ev ledger.Event) error {
	if ev.ID == "" || ev.UserID == "" {
		return fmt.Errorf("notify: event id and user id are required")
	}
	msg, err := s.translator.Render(string(ev.Type), ev.Params)
	if err != nil {
		return fmt.Errorf("notify %s: %w", ev.ID, err)
	}

	created := ev.OccurredAt
	if created.IsZero() {
		created = s.now()
	}
	n := Notification{
		ID:              ev.ID,
		SchemaVersion:   ledger.SchemaVersion,
		UserID:          ev.UserID,
		Type:            ev.Type,
		Status:          StatusUnread,
		Title:           msg.Title,
		Message:         msg.Body,
		GroupID:         ev.Linkage.GroupID,
		ExpenseID:       ev.Linkage.ExpenseID,
		PaymentID:       ev.Linkage.PaymentID,
		FriendRequestID: ev.Linkage.FriendRequestID,
		FromUserID:      ev.Linkage.FromUserID,
		CreatedAt:       created,
	}
	if ev.Type.Activity() {
		n.Status = StatusRead
		n.ReadAt = &created
	}

	err = s.store.RunBatch(ctx, []docstore.Write{docstore.Create(Collection, n.ID, n)})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		s.logger.Debug("notification already stored", "notification_id", n.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("notify %s: %w", ev.ID, err)
	}
	s.logger.Info("notification stored",
		"notification_id", n.ID, "user_id", n.UserID, "type", n.Type, "status", n.Status)
	return nil
}

// =============================================================================
// INBOX
// =============================================================================

// List returns the user's notifications that are not archived, newest first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if userID == "" {
		return nil, &ledger.ValidationError{Field: "userId", Reason: "is required"}
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	docs, err := s.store.Query(ctx, Collection, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("userId", docstore.OpEqual, userID),
			docstore.Where("status", docstore.OpNotEqual, StatusArchived),
		},
		OrderBy:    "createdAt",
		Descending: true,
		Limit:      limit,
	})
	if err != nil {
		return nil, storeError("list notifications", err)
	}
	return decode(docs)
}

// UnreadCount returns how many UNREAD notifications the user has.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	docs, err := s.store.Query(ctx, Collection, docstore.Query{Filters: unreadFilters(userID)})
	if err != nil {
		return 0, storeError("count unread", err)
	}
	return len(docs), nil
}

// Get returns one notification owned by actorID.
func (s *Service) Get(ctx context.Context, id, actorID string) (*Notification, error) {
	return s.load(ctx, id, actorID, "read notification")
}

// MarkRead marks one notification as read. Archived notifications stay
// archived.
func (s *Service) MarkRead(ctx context.Context, id, actorID string) error {
	return s.mutate(ctx, id, actorID, "mark notification read", func(n *Notification) map[string]any {
		if n.Status != StatusUnread {
			return nil
		}
		return map[string]any{"status": StatusRead, "readAt": s.now()}
	})
}

// Archive hides a notification from the inbox.
func (s *Service) Archive(ctx context.Context, id, actorID string) error {
	return s.mutate(ctx, id, actorID, "archive notification", func(n *Notification) map[string]any {
		if n.Status == StatusArchived {
			return nil
		}
		return map[string]any{"status": StatusArchived}
	})
}

// Delete removes a notification. Only its recipient may delete it.
func (s *Service) Delete(ctx context.Context, id, actorID string) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		n, err := s.load(ctx, id, actorID, "delete notification")
		if err != nil {
			if lastErr != nil && errors.Is(err, ledger.ErrNotFound) {
				// The previous attempt landed.
				return nil
			}
			if errors.Is(err, ledger.ErrStoreUnavailable) {
				lastErr = err
				continue
			}
			return err
		}
		err = s.store.RunBatch(ctx, []docstore.Write{docstore.Delete(Collection, id).IfVersionIs(n.Version)})
		if err == nil {
			s.logger.Info("notification deleted", "notification_id", id, "user_id", actorID)
			return nil
		}
		if !docstore.IsTransient(err) {
			return storeError("delete notification", err)
		}
		lastErr = err
	}
	return &ledger.StoreUnavailableError{Op: "delete notification", Err: lastErr}
}

// MarkAllRead marks every UNREAD notification of the user as read and
// returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, &ledger.ValidationError{Field: "userId", Reason: "is required"}
	}
	var lastErr error
	marked := 0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		docs, err := s.store.Query(ctx, Collection, docstore.Query{Filters: unreadFilters(userID)})
		if err != nil {
			lastErr = err
			continue
		}
		if len(docs) == 0 {
			return marked, nil
		}

		now := s.now()
		for start := 0; start < len(docs); start += docstore.MaxBatchSize {
			end := min(start+docstore.MaxBatchSize, len(docs))
			writes := make([]docstore.Write, 0, end-start)
			for _, d := range docs[start:end] {
				writes = append(writes, docstore.Update(Collection, d.ID, map[string]any{
					"status": StatusRead,
					"readAt": now,
				}).IfVersionIs(d.Version))
			}
			if err = s.store.RunBatch(ctx, writes); err != nil {
				break
			}
			marked += len(writes)
		}
		if err == nil {
			s.logger.Info("notifications marked read", "user_id", userID, "count", marked)
			return marked, nil
		}
		if !docstore.IsTransient(err) {
			return marked, storeError("mark all read", err)
		}
		// Re-query: the remaining UNREAD set is the source of truth.
		lastErr = err
	}
	return marked, &ledger.StoreUnavailableError{Op: "mark all read", Err: lastErr}
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) load(ctx context.Context, id, actorID, action string) (*Notification, error) {
	if id == "" {
		return nil, &ledger.ValidationError{Field: "id", Reason: "notification id is required"}
	}
	doc, err := s.store.Get(ctx, Collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, &ledger.NotFoundError{Kind: "notification", ID: id}
	}
	if err != nil {
		return nil, storeError(action, err)
	}
	var n Notification
	if err := doc.DataTo(&n); err != nil {
		return nil, err
	}
	n.Version = doc.Version
	if n.UserID != actorID {
		return nil, &ledger.AuthorizationError{ActorID: actorID, Action: action, Required: "recipient"}
	}
	return &n, nil
}

// mutate applies the fields returned by change with a version check,
// re-reading on conflict. A nil map means nothing to do.
func (s *Service) mutate(ctx context.Context, id, actorID, action string, change func(*Notification) map[string]any) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		n, err := s.load(ctx, id, actorID, action)
		if err != nil {
			if errors.Is(err, ledger.ErrStoreUnavailable) {
				lastErr = err
				continue
			}
			return err
		}
		fields := change(n)
		if fields == nil {
			return nil
		}
		err = s.store.RunBatch(ctx, []docstore.Write{
			docstore.Update(Collection, id, fields).IfVersionIs(n.Version),
		})
		if err == nil {
			return nil
		}
		if !docstore.IsTransient(err) {
			return storeError(action, err)
		}
		lastErr = err
	}
	return &ledger.StoreUnavailableError{Op: action, Err: lastErr}
}

func unreadFilters(userID string) []docstore.Filter {
	return []docstore.Filter{
		docstore.Where("userId", docstore.OpEqual, userID),
		docstore.Where("status", docstore.OpEqual, StatusUnread),
	}
}

func decode(docs []*docstore.Document) ([]Notification, error) {
	out := make([]Notification, 0, len(docs))
	for _, d := range docs {
		var n Notification
		if err := d.DataTo(&n); err != nil {
			return nil, err
		}
		n.Version = d.Version
		out = append(out, n)
	}
	return out, nil
}

func storeError(op string, err error) error {
	if errors.Is(err, docstore.ErrUnavailable) {
		return &ledger.StoreUnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
