package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/expense-ledger/docstore"
	"github.com/warp/expense-ledger/docstore/memory"
	"github.com/warp/expense-ledger/i18n"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/notify"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*notify.Service, *memory.Store) {
	t.Helper()
	tr, err := i18n.New(i18n.English, nil)
	require.NoError(t, err)
	store := memory.New()
	t.Cleanup(func() { store.Close() })
	return notify.NewService(store, tr, notify.WithClock(func() time.Time { return t0 })), store
}

func approvalEvent(id, user string, at time.Time) ledger.Event {
	return ledger.Event{
		ID:     id,
		UserID: user,
		Type:   ledger.EventExpensePendingApproval,
		Linkage: ledger.Linkage{
			GroupID:    "g1",
			ExpenseID:  "e1",
			FromUserID: "B",
		},
		Params: map[string]string{
			"description": "Dinner",
			"amount":      "30.00",
			"currency":    "EUR",
			"group":       "Trip",
		},
		OccurredAt: at,
	}
}

func TestNotify_StoresRenderedNotification(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	require.NoError(t, svc.Notify(ctx, approvalEvent("expense-created-e1", "A", t0)))

	n, err := svc.Get(ctx, "expense-created-e1", "A")
	require.NoError(t, err)
	assert.Equal(t, notify.StatusUnread, n.Status)
	assert.Equal(t, "Expense awaiting approval", n.Title)
	assert.Equal(t, `New expense of 30.00 EUR in "Trip": Dinner`, n.Message)
	assert.Equal(t, "g1", n.GroupID)
	assert.Equal(t, "e1", n.ExpenseID)
	assert.Equal(t, "B", n.FromUserID)
	assert.True(t, n.CreatedAt.Equal(t0))
	assert.Nil(t, n.ReadAt)
}

func TestNotify_RedeliveryIsNoOp(t *testing.T) {
	// GIVEN: an event already stored and then marked read
	// WHEN: the outbox delivers the same event again
	// THEN: the call succeeds and the stored notification is untouched

	ctx := context.Background()
	svc, store := newService(t)
	ev := approvalEvent("expense-created-e1", "A", t0)

	require.NoError(t, svc.Notify(ctx, ev))
	require.NoError(t, svc.MarkRead(ctx, ev.ID, "A"))
	require.NoError(t, svc.Notify(ctx, ev))

	assert.Equal(t, 1, store.Len(notify.Collection))
	n, err := svc.Get(ctx, ev.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, notify.StatusRead, n.Status)
}

func TestNotify_ActivityIsCreatedRead(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	require.NoError(t, svc.Notify(ctx, ledger.Event{
		ID:         "member-added-B",
		UserID:     "B",
		Type:       ledger.EventMemberAdded,
		Params:     map[string]string{"group": "Trip"},
		OccurredAt: t0,
	}))

	n, err := svc.Get(ctx, "member-added-B", "B")
	require.NoError(t, err)
	assert.Equal(t, notify.StatusRead, n.Status)
	require.NotNil(t, n.ReadAt)

	count, err := svc.UnreadCount(ctx, "B")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNotify_RejectsIncompleteEvents(t *testing.T) {
	svc, _ := newService(t)
	err := svc.Notify(context.Background(), ledger.Event{Type: ledger.EventFriendRequest})
	assert.Error(t, err)

	err = svc.Notify(context.Background(), ledger.Event{ID: "x", UserID: "A", Type: "UNKNOWN"})
	assert.ErrorIs(t, err, i18n.ErrUnknownMessage)
}

func TestList_NewestFirstWithoutArchived(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	for i, id := range []string{"n1", "n2", "n3"} {
		require.NoError(t, svc.Notify(ctx, approvalEvent(id, "A", t0.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, svc.Notify(ctx, approvalEvent("other", "B", t0)))
	require.NoError(t, svc.Archive(ctx, "n2", "A"))

	list, err := svc.List(ctx, "A", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n3", list[0].ID)
	assert.Equal(t, "n1", list[1].ID)

	list, err = svc.List(ctx, "A", 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMarkRead_AndMarkAllRead(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	for _, id := range []string{"n1", "n2", "n3"} {
		require.NoError(t, svc.Notify(ctx, approvalEvent(id, "A", t0)))
	}

	require.NoError(t, svc.MarkRead(ctx, "n1", "A"))
	count, err := svc.UnreadCount(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Marking twice is harmless.
	require.NoError(t, svc.MarkRead(ctx, "n1", "A"))

	marked, err := svc.MarkAllRead(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	count, err = svc.UnreadCount(ctx, "A")
	require.NoError(t, err)
	assert.Zero(t, count)

	marked, err = svc.MarkAllRead(ctx, "A")
	require.NoError(t, err)
	assert.Zero(t, marked)
}

func TestArchivedStaysArchivedOnMarkRead(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	require.NoError(t, svc.Notify(ctx, approvalEvent("n1", "A", t0)))

	require.NoError(t, svc.Archive(ctx, "n1", "A"))
	require.NoError(t, svc.MarkRead(ctx, "n1", "A"))

	n, err := svc.Get(ctx, "n1", "A")
	require.NoError(t, err)
	assert.Equal(t, notify.StatusArchived, n.Status)
}

func TestRecipientOnly(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	require.NoError(t, svc.Notify(ctx, approvalEvent("n1", "A", t0)))

	assert.ErrorIs(t, svc.MarkRead(ctx, "n1", "B"), ledger.ErrUnauthorized)
	assert.ErrorIs(t, svc.Archive(ctx, "n1", "B"), ledger.ErrUnauthorized)
	assert.ErrorIs(t, svc.Delete(ctx, "n1", "B"), ledger.ErrUnauthorized)
	assert.ErrorIs(t, svc.Delete(ctx, "missing", "A"), ledger.ErrNotFound)

	require.NoError(t, svc.Delete(ctx, "n1", "A"))
	assert.Zero(t, store.Len(notify.Collection))
}

func TestLedgerIntegration(t *testing.T) {
	// GIVEN: a ledger service whose Notifier is the notification service
	// WHEN: a group is created and a friend request is sent
	// THEN: the owner gets a read activity item and the recipient an unread request

	ctx := context.Background()
	svc, store := newService(t)
	lsvc := ledger.NewService(store, svc, ledger.WithBackoff(0))

	g, err := lsvc.CreateGroup(ctx, ledger.NewGroup{Name: "Trip", OwnerID: "A"})
	require.NoError(t, err)
	reqID, err := lsvc.SendFriendRequest(ctx, "A", "B")
	require.NoError(t, err)

	list, err := svc.List(ctx, "A", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ledger.EventGroupCreated, list[0].Type)
	assert.Equal(t, notify.StatusRead, list[0].Status)
	assert.Equal(t, g.ID, list[0].GroupID)

	list, err = svc.List(ctx, "B", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ledger.EventFriendRequest, list[0].Type)
	assert.Equal(t, notify.StatusUnread, list[0].Status)
	assert.Equal(t, reqID, list[0].FriendRequestID)

	pending, err := lsvc.ListOutbox(ctx, ledger.OutboxPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStoreUnavailableIsMapped(t *testing.T) {
	ctx := context.Background()
	tr, err := i18n.New(i18n.English, nil)
	require.NoError(t, err)
	svc := notify.NewService(downStore{memory.New()}, tr)

	_, err = svc.UnreadCount(ctx, "A")
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
}

type downStore struct {
	docstore.Store
}

func (downStore) Query(context.Context, string, docstore.Query) ([]*docstore.Document, error) {
	return nil, &docstore.UnavailableError{Op: "query", Err: context.DeadlineExceeded}
}
