package session

import (
	"context"
	"time"

	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// DefaultSweepInterval is how often idle sessions are purged.
const DefaultSweepInterval = 10 * time.Minute

// Sweeper periodically calls SweepExpired, independent of request traffic.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *logging.Logger
}

func NewSweeper(store Store, interval time.Duration, logger *logging.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	removed, err := s.store.SweepExpired(ctx)
	if err != nil {
		s.logger.Warn("session sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("expired sessions removed", "count", removed)
	}
}
