package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/expense-ledger/docstore"
	"github.com/warp/expense-ledger/notify"
)

func snapshot(seq uint64, n int) docstore.Snapshot {
	return docstore.Snapshot{Seq: seq, Documents: make([]*docstore.Document, n)}
}

func TestUnreadCounter_IgnoresStaleSnapshots(t *testing.T) {
	var c notify.UnreadCounter

	assert.True(t, c.Apply(snapshot(0, 2)), "first snapshot always applies")
	assert.Equal(t, 2, c.Count())

	assert.True(t, c.Apply(snapshot(3, 4)))
	assert.Equal(t, 4, c.Count())

	// Redelivered and out-of-order snapshots are dropped.
	assert.False(t, c.Apply(snapshot(3, 9)))
	assert.False(t, c.Apply(snapshot(2, 1)))
	assert.Equal(t, 4, c.Count())
	assert.Equal(t, uint64(3), c.Seq())

	assert.True(t, c.Apply(snapshot(5, 0)))
	assert.Zero(t, c.Count())
}

func TestWatchUnread(t *testing.T) {
	// GIVEN: a user watching the unread count
	// WHEN: notifications arrive and get read
	// THEN: the stream reports every new count in order

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc, _ := newService(t)

	counts, err := svc.WatchUnread(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 0, next(t, counts))

	require.NoError(t, svc.Notify(ctx, approvalEvent("n1", "A", t0)))
	assert.Equal(t, 1, next(t, counts))

	require.NoError(t, svc.Notify(ctx, approvalEvent("n2", "A", t0)))
	assert.Equal(t, 2, next(t, counts))

	_, err = svc.MarkAllRead(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 0, next(t, counts))

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-counts:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func next(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "stream closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unread count")
		return -1
	}
}
