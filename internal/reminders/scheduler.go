package reminders

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

type reminderCreator interface {
	Create(ctx context.Context, r *Reminder) error
}

// Scheduler creates the reminder row when an appointment is booked.
type Scheduler struct {
	store  reminderCreator
	logger *logging.Logger
}

func NewScheduler(store reminderCreator, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{store: store, logger: logger}
}

// Schedule records one pending reminder for appointmentID at the given time.
func (s *Scheduler) Schedule(ctx context.Context, appointmentID uuid.UUID, at time.Time) error {
	r := &Reminder{AppointmentID: appointmentID, ScheduledFor: at.UTC()}
	if err := s.store.Create(ctx, r); err != nil {
		return err
	}
	s.logger.Info("reminder scheduled", "reminder_id", r.ID, "appointment_id", appointmentID, "scheduled_for", r.ScheduledFor)
	return nil
}
