// Package memory provides an in-memory Document Store (for testing/dev).
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/expense-ledger/docstore"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store keeps documents in maps guarded by a single RWMutex. Batches are
// staged against a private view and committed only when every write applies.
type Store struct {
	mu       sync.RWMutex
	docs     map[string]map[string]*docstore.Document
	closed   bool
	now      func() time.Time
	maxBatch int
	hub      *docstore.Hub
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMaxBatchSize overrides docstore.MaxBatchSize.
func WithMaxBatchSize(n int) Option {
	return func(s *Store) { s.maxBatch = n }
}

// WithLogger sets the logger used for subscription failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.hub = docstore.NewHub(s.Query, logger) }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		docs:     make(map[string]map[string]*docstore.Document),
		now:      func() time.Time { return time.Now().UTC() },
		maxBatch: docstore.MaxBatchSize,
	}
	s.hub = docstore.NewHub(s.Query, nil)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ docstore.Store = (*Store)(nil)

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}
	doc, ok := s.docs[collection][id]
	if !ok {
		return nil, &notFoundError{collection: collection, id: id}
	}
	return doc.Clone(), nil
}

func (s *Store) Set(ctx context.Context, collection, id string, data any, merge bool) error {
	w := docstore.Set(collection, id, data)
	if merge {
		w = docstore.SetMerge(collection, id, data)
	}
	return s.RunBatch(ctx, []docstore.Write{w})
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.RunBatch(ctx, []docstore.Write{docstore.Update(collection, id, fields)})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.RunBatch(ctx, []docstore.Write{docstore.Delete(collection, id)})
}

func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, docstore.ErrClosed
	}
	docs := make([]*docstore.Document, 0, len(s.docs[collection]))
	for _, d := range s.docs[collection] {
		docs = append(docs, d.Clone())
	}
	s.mu.RUnlock()
	return docstore.Select(docs, q)
}

func (s *Store) Subscribe(ctx context.Context, collection string, filters ...docstore.Filter) (*docstore.Subscription, error) {
	return s.hub.Subscribe(ctx, collection, filters)
}

// RunBatch applies writes all-or-nothing.
func (s *Store) RunBatch(ctx context.Context, writes []docstore.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}
	if len(writes) > s.maxBatch {
		return docstore.ErrBatchTooLarge
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}

	type key struct{ collection, id string }
	staged := make(map[key]*docstore.Document)
	order := make([]key, 0, len(writes))
	now := s.now()

	for _, w := range writes {
		k := key{w.Collection, w.ID}
		cur, seen := staged[k]
		if !seen {
			cur = s.docs[w.Collection][w.ID]
			order = append(order, k)
		}
		next, err := docstore.Apply(cur, w, now)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		staged[k] = next
	}

	collections := make([]string, 0, len(order))
	for _, k := range order {
		doc := staged[k]
		if doc == nil {
			delete(s.docs[k.collection], k.id)
		} else {
			if s.docs[k.collection] == nil {
				s.docs[k.collection] = make(map[string]*docstore.Document)
			}
			s.docs[k.collection][k.id] = doc
		}
		collections = append(collections, k.collection)
	}
	s.mu.Unlock()

	s.hub.Publish(collections...)
	return nil
}

// Len returns the number of documents in a collection.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[collection])
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.CloseAll()
	return nil
}

type notFoundError struct {
	collection, id string
}

func (e *notFoundError) Error() string {
	return "document not found: " + e.collection + "/" + e.id
}

func (e *notFoundError) Unwrap() error { return docstore.ErrNotFound }
