package notify

import (
	"context"
	"sync"

	"github.com/warp/expense-ledger/docstore"
)

// UnreadCounter tracks the unread count of one user from subscription
// snapshots. Snapshots whose Seq is not newer than the last applied one are
// ignored, so redelivered or reordered snapshots never move the count
// backwards.
type UnreadCounter struct {
	mu      sync.Mutex
	seq     uint64
	applied bool
	count   int
}

// Apply folds snap into the counter and reports whether it was used.
func (c *UnreadCounter) Apply(snap docstore.Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.applied && snap.Seq <= c.seq {
		return false
	}
	c.applied = true
	c.seq = snap.Seq
	c.count = len(snap.Documents)
	return true
}

// Count returns the last applied count.
func (c *UnreadCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Seq returns the sequence of the last applied snapshot.
func (c *UnreadCounter) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// WatchUnread streams the user's unread count. The first value arrives
// immediately; later values only when the count changes. The channel closes
// when ctx ends or the store closes the subscription.
func (s *Service) WatchUnread(ctx context.Context, userID string) (<-chan int, error) {
	sub, err := s.store.Subscribe(ctx, Collection, unreadFilters(userID)...)
	if err != nil {
		return nil, storeError("watch unread", err)
	}

	out := make(chan int, 1)
	go func() {
		defer close(out)
		defer sub.Close()

		var counter UnreadCounter
		last := -1
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-sub.C:
				if !ok {
					return
				}
				if !counter.Apply(snap) || counter.Count() == last {
					continue
				}
				last = counter.Count()
				select {
				case out <- last:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
