package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecoverer struct {
	mu     sync.Mutex
	calls  int
	grace  time.Duration
	result int
	err    error
}

func (f *fakeRecoverer) RecoverOutbox(_ context.Context, grace time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.grace = grace
	return f.result, f.err
}

func (f *fakeRecoverer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestOutboxScheduler_RunNow(t *testing.T) {
	rec := &fakeRecoverer{result: 3}
	s := NewOutboxScheduler(rec, nil)
	s.Grace = 5 * time.Second

	n, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 5*time.Second, rec.grace)
	assert.False(t, s.LastRun().IsZero())

	rec.err = errors.New("store down")
	_, err = s.RunNow(context.Background())
	assert.Error(t, err)
}

func TestOutboxScheduler_StartSweepsImmediately(t *testing.T) {
	// GIVEN: a scheduler with a long interval
	// WHEN: it is started twice and stopped
	// THEN: exactly one immediate sweep ran

	rec := &fakeRecoverer{}
	s := NewOutboxScheduler(rec, nil)
	s.Interval = time.Hour

	s.Start()
	s.Start()
	require.Eventually(t, func() bool { return rec.Calls() == 1 }, 2*time.Second, 10*time.Millisecond)
	s.Stop()
	s.Stop()

	assert.Equal(t, 1, rec.Calls())
}

func TestOutboxScheduler_Disabled(t *testing.T) {
	rec := &fakeRecoverer{}
	s := NewOutboxScheduler(rec, nil)
	s.Enabled = false

	s.Start()
	s.Stop()
	assert.Zero(t, rec.Calls())
}
