package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingSweepStore struct {
	*MemoryStore
	calls atomic.Int32
	err   error
}

func (c *countingSweepStore) SweepExpired(ctx context.Context) (int, error) {
	c.calls.Add(1)
	if c.err != nil {
		return 0, c.err
	}
	return c.MemoryStore.SweepExpired(ctx)
}

func TestSweeperRemovesIdleSessions(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := &countingSweepStore{MemoryStore: NewMemoryStore(WithClock(clock.Now), WithIdleTimeout(time.Minute))}

	_, err := store.Get(ctx, "+919800000001")
	assert.NoError(t, err)
	clock.Advance(2 * time.Minute)

	NewSweeper(store, time.Hour, nil).sweep(ctx)

	assert.Equal(t, int32(1), store.calls.Load())
	assert.Empty(t, store.MemoryStore.sessions)
}

func TestSweeperSurvivesStoreErrors(t *testing.T) {
	store := &countingSweepStore{MemoryStore: NewMemoryStore(), err: errors.New("boom")}
	NewSweeper(store, time.Hour, nil).sweep(context.Background())
	assert.Equal(t, int32(1), store.calls.Load())
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	store := &countingSweepStore{MemoryStore: NewMemoryStore()}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		NewSweeper(store, 5*time.Millisecond, nil).Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return store.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop after cancel")
	}
}

func TestNewSweeperDefaultsInterval(t *testing.T) {
	s := NewSweeper(NewMemoryStore(), 0, nil)
	if s.interval != DefaultSweepInterval {
		t.Fatalf("expected default interval, got %s", s.interval)
	}
}
