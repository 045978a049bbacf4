// Package reminders stores appointment reminders and dispatches the due ones.
package reminders

import (
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-assistant/internal/booking"
)

// Status is the reminder lifecycle state. Sent and failed are terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Reminder is one scheduled notification for an appointment.
type Reminder struct {
	ID                uuid.UUID  `json:"id"`
	AppointmentID     uuid.UUID  `json:"appointment_id"`
	ScheduledFor      time.Time  `json:"scheduled_for"`
	Status            Status     `json:"status"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Due is a pending reminder joined with its appointment. Appointment is nil
// when the referenced row no longer exists.
type Due struct {
	Reminder    Reminder
	Appointment *booking.Appointment
}
