package session

import (
	"context"
	"errors"
	"time"
)

// DefaultIdleTimeout is how long a session survives without activity.
const DefaultIdleTimeout = 30 * time.Minute

// ErrNotFound is returned by Lookup when no live session exists.
var ErrNotFound = errors.New("session: not found")

// Store keeps conversation sessions keyed by channel address.
type Store interface {
	// Get returns the live session for address, creating a fresh one if it is
	// missing or expired. Every call refreshes LastActivity.
	Get(ctx context.Context, address string) (*Session, error)
	// Lookup is Get without creation.
	Lookup(ctx context.Context, address string) (*Session, error)
	// Update applies fn to the stored session (created if absent) and persists it.
	Update(ctx context.Context, address string, fn func(*Session)) (*Session, error)
	Clear(ctx context.Context, address string) error
	// SweepExpired removes idle sessions and reports how many were dropped.
	SweepExpired(ctx context.Context) (int, error)
}

// Option configures a store.
type Option func(*options)

type options struct {
	idle time.Duration
	now  func() time.Time
}

// WithIdleTimeout overrides DefaultIdleTimeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idle = d
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{idle: DefaultIdleTimeout, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
