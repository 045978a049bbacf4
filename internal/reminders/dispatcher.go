package reminders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-assistant/internal/booking"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

const (
	DefaultPollInterval = time.Minute
	DefaultBatchSize    = 10
)

// Notifier delivers a reminder to the patient and returns the provider message id.
type Notifier interface {
	SendReminder(ctx context.Context, appt *booking.Appointment) (string, error)
}

type dueStore interface {
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]Due, error)
	MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// Dispatcher polls for due reminders and sends them. Failed sends are not retried.
type Dispatcher struct {
	store    dueStore
	notifier Notifier
	logger   *logging.Logger
	interval time.Duration
	batch    int
	now      func() time.Time
	observer OutcomeObserver

	wg sync.WaitGroup
}

// OutcomeObserver counts reminders by final status.
type OutcomeObserver interface {
	ObserveReminder(status string)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithPollInterval(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.interval = d
		}
	}
}

func WithBatchSize(n int) DispatcherOption {
	return func(disp *Dispatcher) {
		if n > 0 {
			disp.batch = n
		}
	}
}

func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(disp *Dispatcher) { disp.now = now }
}

func WithOutcomeObserver(o OutcomeObserver) DispatcherOption {
	return func(disp *Dispatcher) { disp.observer = o }
}

func NewDispatcher(store dueStore, notifier Notifier, logger *logging.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		store:    store,
		notifier: notifier,
		logger:   logger,
		interval: DefaultPollInterval,
		batch:    DefaultBatchSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs the polling loop in a goroutine until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Run(ctx)
	}()
}

// Wait blocks until the loop started by Start has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Run processes due reminders immediately and then on every tick.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("reminder dispatcher started", "interval", d.interval, "batch", d.batch)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.ProcessDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("reminder dispatcher: tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			d.logger.Info("reminder dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// ProcessDue handles one batch and returns how many reminders were sent.
func (d *Dispatcher) ProcessDue(ctx context.Context) (int, error) {
	due, err := d.store.ListDue(ctx, d.now().UTC(), d.batch)
	if err != nil {
		return 0, fmt.Errorf("reminders: list due: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}
	d.logger.Info("processing due reminders", "count", len(due))

	sent := 0
	for i := range due {
		if d.processOne(ctx, &due[i]) {
			sent++
		}
	}
	return sent, nil
}

func (d *Dispatcher) processOne(ctx context.Context, item *Due) bool {
	id := item.Reminder.ID
	switch {
	case item.Appointment == nil:
		d.fail(ctx, id, "appointment not found")
		return false
	case item.Appointment.Status == booking.StatusCancelled:
		d.fail(ctx, id, "appointment cancelled")
		return false
	}

	msgID, err := d.notifier.SendReminder(ctx, item.Appointment)
	if err != nil {
		d.logger.Error("reminder send failed", "reminder_id", id, "appointment_id", item.Appointment.ID, "error", err)
		d.fail(ctx, id, err.Error())
		return false
	}
	if err := d.store.MarkSent(ctx, id, msgID); err != nil {
		d.logger.Error("reminder sent but not marked", "reminder_id", id, "error", err)
		return false
	}
	d.observe(StatusSent)
	d.logger.Info("reminder sent", "reminder_id", id, "appointment_id", item.Appointment.ID, "message_id", msgID)
	return true
}

func (d *Dispatcher) fail(ctx context.Context, id uuid.UUID, reason string) {
	d.observe(StatusFailed)
	if err := d.store.MarkFailed(ctx, id, reason); err != nil {
		d.logger.Error("failed to mark reminder failed", "reminder_id", id, "error", err)
	}
}

func (d *Dispatcher) observe(status Status) {
	if d.observer != nil {
		d.observer.ObserveReminder(string(status))
	}
}
