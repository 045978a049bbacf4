package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStoreGetCreatesDefaultSession(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))

	sess, err := store.Get(context.Background(), "+919800000001")
	require.NoError(t, err)
	assert.Equal(t, "+919800000001", sess.Address)
	assert.Equal(t, StepLanguageSelection, sess.Step)
	assert.Equal(t, LanguageUnset, sess.Language)
	assert.Equal(t, clock.Now(), sess.LastActivity)
}

func TestMemoryStoreMutationsPersistWithinIdleWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))

	_, err := store.Update(ctx, "addr", func(s *Session) {
		s.Language = LanguageKannada
		s.Step = StepAwaitingDate
		s.Draft.PatientName = "Asha"
	})
	require.NoError(t, err)

	clock.Advance(29 * time.Minute)
	first, err := store.Get(ctx, "addr")
	require.NoError(t, err)
	clock.Advance(29 * time.Minute)
	second, err := store.Get(ctx, "addr")
	require.NoError(t, err)

	assert.Equal(t, StepAwaitingDate, second.Step)
	assert.Equal(t, LanguageKannada, second.Language)
	assert.Equal(t, "Asha", second.Draft.PatientName)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.LastActivity.After(first.LastActivity))
}

func TestMemoryStoreExpiredSessionIsReset(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))

	_, err := store.Update(ctx, "addr", func(s *Session) { s.Step = StepAwaitingTime })
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	sess, err := store.Get(ctx, "addr")
	require.NoError(t, err)
	assert.Equal(t, StepLanguageSelection, sess.Step)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess, err := store.Get(ctx, "addr")
	require.NoError(t, err)
	sess.Step = StepAwaitingName

	again, err := store.Get(ctx, "addr")
	require.NoError(t, err)
	assert.Equal(t, StepLanguageSelection, again.Step)
}

func TestMemoryStoreLookup(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now), WithIdleTimeout(time.Minute))

	_, err := store.Lookup(ctx, "CA123")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, "CA123")
	require.NoError(t, err)
	sess, err := store.Lookup(ctx, "CA123")
	require.NoError(t, err)
	assert.Equal(t, "CA123", sess.Address)

	clock.Advance(2 * time.Minute)
	_, err = store.Lookup(ctx, "CA123")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Update(ctx, "addr", func(s *Session) { s.Step = StepAwaitingConfirmation })
	require.NoError(t, err)
	require.NoError(t, store.Clear(ctx, "addr"))
	assert.Equal(t, 0, store.Len())

	sess, err := store.Get(ctx, "addr")
	require.NoError(t, err)
	assert.Equal(t, StepLanguageSelection, sess.Step)
}

func TestMemoryStoreSweepExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))

	_, _ = store.Get(ctx, "old-1")
	_, _ = store.Get(ctx, "old-2")
	clock.Advance(20 * time.Minute)
	_, _ = store.Get(ctx, "fresh")
	clock.Advance(15 * time.Minute)

	removed, err := store.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, store.Len())
}

func TestSweeperRunsUntilCancelled(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	_, _ = store.Get(context.Background(), "stale")
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(store, 5*time.Millisecond, nil).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestStepTextRoundTripRecoversUnknown(t *testing.T) {
	var step Step
	require.NoError(t, step.UnmarshalText([]byte("awaiting_time")))
	assert.Equal(t, StepAwaitingTime, step)

	require.NoError(t, step.UnmarshalText([]byte("awaiting_payment")))
	assert.Equal(t, StepUnknown, step)
	assert.False(t, step.Valid())
	assert.Equal(t, "unknown", Step(99).String())
}

func TestParseLanguage(t *testing.T) {
	assert.Equal(t, LanguageKannada, ParseLanguage("kn-IN"))
	assert.Equal(t, LanguageEnglish, ParseLanguage("en"))
	assert.Equal(t, LanguageUnset, ParseLanguage("fr"))
	assert.Equal(t, LanguageEnglish, LanguageUnset.OrDefault())
}
