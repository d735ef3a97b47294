package docstore

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Loader runs the query backing a subscription.
type Loader func(ctx context.Context, collection string, q Query) ([]*Document, error)

// Hub fans committed writes out to subscriptions. Backends call Publish after
// every successful commit; each matching subscriber re-runs its query and
// receives the fresh snapshot. Delivery coalesces: a slow consumer only ever
// sees the latest pending snapshot.
type Hub struct {
	load   Loader
	logger *slog.Logger

	seq  atomic.Uint64
	mu   sync.Mutex
	next uint64
	subs map[uint64]*subscriber
}

type subscriber struct {
	ctx        context.Context
	collection string
	filters    []Filter

	mu     sync.Mutex
	closed bool
	ch     chan Snapshot
}

// NewHub creates a hub that loads snapshots through load.
func NewHub(load Loader, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{load: load, logger: logger, subs: make(map[uint64]*subscriber)}
}

// Subscribe registers a subscription and delivers its first snapshot.
func (h *Hub) Subscribe(ctx context.Context, collection string, filters []Filter) (*Subscription, error) {
	if err := validate(filters); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &subscriber{
		ctx:        ctx,
		collection: collection,
		filters:    append([]Filter(nil), filters...),
		ch:         make(chan Snapshot, 1),
	}

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = s
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.remove(id)
	}()

	h.deliver(s, h.seq.Load())
	return &Subscription{C: s.ch, cancel: cancel}, nil
}

// Publish notifies subscribers of the given collections that a write committed.
func (h *Hub) Publish(collections ...string) {
	seq := h.seq.Add(1)

	touched := make(map[string]bool, len(collections))
	for _, c := range collections {
		touched[c] = true
	}

	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		if touched[s.collection] {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	for _, s := range targets {
		h.deliver(s, seq)
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// CloseAll terminates every subscription.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uint64]*subscriber)
	h.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	s := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if s != nil {
		s.close()
	}
}

func (h *Hub) deliver(s *subscriber, seq uint64) {
	if s.ctx.Err() != nil {
		return
	}
	docs, err := h.load(s.ctx, s.collection, Query{Filters: s.filters})
	if err != nil {
		h.logger.Warn("subscription snapshot failed",
			"collection", s.collection, "seq", seq, "error", err)
		return
	}

	snap := Snapshot{Seq: seq, Documents: docs}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- snap:
	default:
		// Replace the stale pending snapshot.
		select {
		case <-s.ch:
		default:
		}
		s.ch <- snap
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
