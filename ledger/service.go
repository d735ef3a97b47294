/*
service.go - Ledger Service and its optimistic commit loop

PURPOSE:
  Service is the entry point for every ledger operation: groups, expenses,
  payments, friend requests. Each mutating operation is expressed as a
  read-validate-compute step that yields one batch of writes; commit runs
  that step until the batch lands.

COMMIT LOOP:
  1. build: read current documents (with their versions), check guards,
     compute new state, return writes carrying IfVersion preconditions
  2. RunBatch: all-or-nothing
  3. on docstore.ErrConflict: another writer changed a document we read;
     back off and rebuild from fresh reads
  4. on docstore.ErrUnavailable: the outcome is unknown; before building
     again ask committed() whether the previous attempt landed
  5. after success: dispatch the outbox entries written by the batch

  Because status, balances, division flags and the outbox entry share one
  batch, no partially applied transition is ever visible.

READS:
  Idempotent reads are retried on transient failures with the same backoff.

SEE ALSO:
  - outbox.go: notification outbox written inside each batch
  - errors.go: taxonomy returned by every operation
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/warp/expense-ledger/docstore"
)

// Defaults for Service options.
const (
	DefaultMaxAttempts       = 8
	DefaultBackoff           = 10 * time.Millisecond
	DefaultOutboxMaxAttempts = 5
	maxBackoff               = time.Second
)

// Service implements the ledger operations on top of a Document Store.
type Service struct {
	store    docstore.Store
	notifier Notifier
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
	newID    func() string

	maxAttempts       int
	backoff           time.Duration
	outboxMaxAttempts int
	notifyTimeout     time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides document id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithMaxAttempts bounds the commit and read retry loops.
func WithMaxAttempts(n int) Option {
	return func(s *Service) { s.maxAttempts = n }
}

// WithBackoff sets the base retry delay. Zero disables sleeping.
func WithBackoff(d time.Duration) Option {
	return func(s *Service) { s.backoff = d }
}

// WithOutboxMaxAttempts sets how many deliveries an outbox entry gets
// before it is marked FAILED.
func WithOutboxMaxAttempts(n int) Option {
	return func(s *Service) { s.outboxMaxAttempts = n }
}

// NewService creates a Service. A nil notifier logs events instead.
func NewService(store docstore.Store, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:             store,
		notifier:          notifier,
		logger:            slog.Default(),
		now:               func() time.Time { return time.Now().UTC() },
		newID:             uuid.NewString,
		maxAttempts:       DefaultMaxAttempts,
		backoff:           DefaultBackoff,
		outboxMaxAttempts: DefaultOutboxMaxAttempts,
		notifyTimeout:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}
	if s.notifier == nil {
		s.notifier = &LogNotifier{Logger: s.logger}
	}
	return s
}

// Store returns the underlying Document Store.
func (s *Service) Store() docstore.Store {
	return s.store
}

// =============================================================================
// COMMIT LOOP
// =============================================================================

// plan is the outcome of one build step.
type plan struct {
	writes []docstore.Write
	outbox []string
}

func (p *plan) add(w ...docstore.Write) {
	p.writes = append(p.writes, w...)
}

// txn is one optimistic read-modify-write.
type txn struct {
	op string

	// build reads fresh state and returns the writes to commit. Any error
	// aborts the loop unchanged.
	build func(ctx context.Context) (*plan, error)

	// committed reports whether an attempt whose outcome was unknown landed.
	// Nil means the writes are safe to repeat.
	committed func(ctx context.Context) (bool, error)

	// sharedCreates marks plans whose Create writes use ids other operations
	// also create. ErrAlreadyExists then means another writer won, and the
	// build is retried like a version conflict.
	sharedCreates bool
}

func (s *Service) commit(ctx context.Context, t txn) error {
	var (
		lastErr error
		pending *plan
	)
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			s.metrics.retry(t.op)
			if err := s.sleep(ctx, attempt); err != nil {
				return err
			}
		}

		if pending != nil && t.committed != nil {
			done, err := t.committed(ctx)
			if err != nil {
				lastErr = err
				continue
			}
			if done {
				s.logger.Info("write committed despite transient error", "op", t.op, "attempt", attempt)
				s.dispatch(ctx, pending.outbox...)
				return nil
			}
			pending = nil
		}

		p, err := t.build(ctx)
		if err != nil {
			return err
		}
		err = s.store.RunBatch(ctx, p.writes)
		switch {
		case err == nil:
			s.dispatch(ctx, p.outbox...)
			return nil
		case errors.Is(err, docstore.ErrConflict),
			t.sharedCreates && errors.Is(err, docstore.ErrAlreadyExists):
			s.logger.Debug("version conflict, retrying", "op", t.op, "attempt", attempt, "error", err)
			lastErr = err
		case errors.Is(err, docstore.ErrUnavailable):
			s.logger.Warn("write outcome unknown, will verify", "op", t.op, "attempt", attempt, "error", err)
			pending = p
			lastErr = err
		default:
			return fmt.Errorf("%s: %w", t.op, err)
		}
	}
	return &StoreUnavailableError{Op: t.op, Err: lastErr}
}

func (s *Service) sleep(ctx context.Context, attempt int) error {
	if s.backoff <= 0 {
		return ctx.Err()
	}
	d := s.backoff << (attempt - 2)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	d += time.Duration(rand.Int64N(int64(d)/2 + 1))

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// =============================================================================
// READS
// =============================================================================

// read loads one document into v and returns its version.
func (s *Service) read(ctx context.Context, collection, id, kind string, v any) (int64, error) {
	if id == "" {
		return 0, invalid("id", "%s id is required", kind)
	}
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, attempt); err != nil {
				return 0, err
			}
		}
		doc, err := s.store.Get(ctx, collection, id)
		switch {
		case err == nil:
			if err := doc.DataTo(v); err != nil {
				return 0, err
			}
			return doc.Version, nil
		case errors.Is(err, docstore.ErrNotFound):
			return 0, &NotFoundError{Kind: kind, ID: id}
		case errors.Is(err, docstore.ErrUnavailable):
			lastErr = err
		default:
			return 0, err
		}
	}
	return 0, &StoreUnavailableError{Op: "read " + kind, Err: lastErr}
}

// exists reports whether a document is present.
func (s *Service) exists(ctx context.Context, collection, id string) (bool, error) {
	var raw map[string]any
	_, err := s.read(ctx, collection, id, collection, &raw)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// query runs a query with read retries.
func (s *Service) query(ctx context.Context, collection string, q docstore.Query) ([]*docstore.Document, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, attempt); err != nil {
				return nil, err
			}
		}
		docs, err := s.store.Query(ctx, collection, q)
		switch {
		case err == nil:
			return docs, nil
		case errors.Is(err, docstore.ErrUnavailable):
			lastErr = err
		default:
			return nil, err
		}
	}
	return nil, &StoreUnavailableError{Op: "query " + collection, Err: lastErr}
}

func decodeAll[T any](docs []*docstore.Document, setVersion func(*T, int64)) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := d.DataTo(&v); err != nil {
			return nil, err
		}
		if setVersion != nil {
			setVersion(&v, d.Version)
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Service) loadGroup(ctx context.Context, id string) (*Group, error) {
	var g Group
	v, err := s.read(ctx, CollectionGroups, id, "group", &g)
	if err != nil {
		return nil, err
	}
	g.Version = v
	return &g, nil
}

func (s *Service) loadExpense(ctx context.Context, id string) (*Expense, error) {
	var e Expense
	v, err := s.read(ctx, CollectionExpenses, id, "expense", &e)
	if err != nil {
		return nil, err
	}
	e.Version = v
	return &e, nil
}

func (s *Service) loadPayment(ctx context.Context, id string) (*Payment, error) {
	var p Payment
	v, err := s.read(ctx, CollectionPayments, id, "payment", &p)
	if err != nil {
		return nil, err
	}
	p.Version = v
	return &p, nil
}

func (s *Service) loadFriendRequest(ctx context.Context, id string) (*FriendRequest, error) {
	var r FriendRequest
	v, err := s.read(ctx, CollectionFriendRequests, id, "friend request", &r)
	if err != nil {
		return nil, err
	}
	r.Version = v
	return &r, nil
}

// finish records the outcome of a public operation.
func (s *Service) finish(kind string, err error, attrs ...any) {
	s.metrics.transition(kind, outcome(err))
	attrs = append(attrs, "op", kind, "outcome", outcome(err))
	switch {
	case err == nil:
		s.logger.Info("ledger operation", attrs...)
	case IsClientError(err) || IsNotFound(err):
		s.logger.Info("ledger operation refused", append(attrs, "error", err)...)
	default:
		s.logger.Error("ledger operation failed", append(attrs, "error", err)...)
	}
}
