/*
scheduler.go - Outbox recovery scheduler

PURPOSE:
  Periodically redelivers notifications whose immediate dispatch failed.
  Every ledger transition writes its outbox entry in the same batch as the
  state change; this sweep is what eventually delivers entries left PENDING
  by a notifier outage or a crash between commit and dispatch.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Only entries older than Grace are retried, so the sweep does not race
    the dispatch that follows every commit
  - Entries that keep failing are marked FAILED by the ledger after the
    configured number of attempts

USAGE:
  scheduler := NewOutboxScheduler(svc, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/outbox.go: RecoverOutbox
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// OutboxRecoverer redelivers pending outbox entries.
type OutboxRecoverer interface {
	RecoverOutbox(ctx context.Context, grace time.Duration) (int, error)
}

// OutboxScheduler drives periodic outbox recovery.
type OutboxScheduler struct {
	Recoverer OutboxRecoverer
	Interval  time.Duration
	Grace     time.Duration
	Timeout   time.Duration
	Enabled   bool
	Logger    *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastRun time.Time
}

// NewOutboxScheduler creates a scheduler with default timings.
func NewOutboxScheduler(rec OutboxRecoverer, logger *slog.Logger) *OutboxScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxScheduler{
		Recoverer: rec,
		Interval:  time.Minute,
		Grace:     30 * time.Second,
		Timeout:   30 * time.Second,
		Enabled:   true,
		Logger:    logger,
	}
}

// Start begins the periodic sweep. Calling Start twice is a no-op.
func (s *OutboxScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("outbox scheduler disabled")
		return
	}
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)

	s.Logger.Info("outbox scheduler started", "interval", s.Interval, "grace", s.Grace)
}

// Stop ends the sweep and waits for a running pass to finish.
func (s *OutboxScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
		s.Logger.Info("outbox scheduler stopped")
	}
}

func (s *OutboxScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run immediately on start
	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow performs one sweep synchronously and returns how many entries
// were delivered.
func (s *OutboxScheduler) RunNow(ctx context.Context) (int, error) {
	return s.sweep(ctx)
}

// LastRun returns when the last sweep started.
func (s *OutboxScheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *OutboxScheduler) sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	delivered, err := s.Recoverer.RecoverOutbox(ctx, s.Grace)
	if err != nil {
		s.Logger.Warn("outbox sweep failed", "delivered", delivered, "error", err)
		return delivered, err
	}
	if delivered > 0 {
		s.Logger.Info("outbox sweep delivered notifications", "delivered", delivered)
	}
	return delivered, nil
}
