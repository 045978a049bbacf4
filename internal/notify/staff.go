package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-booking-assistant/internal/booking"
	"github.com/wolfman30/clinic-booking-assistant/internal/clinic"
	"github.com/wolfman30/clinic-booking-assistant/internal/events"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

type clinicLookup interface {
	GetByID(ctx context.Context, id string) (*clinic.Clinic, error)
}

// StaffNotifier emails clinic staff when appointments are booked or cancelled.
// It is an events.DeliveryHandler for the outbox deliverer.
type StaffNotifier struct {
	email   EmailSender
	clinics clinicLookup
	logger  *logging.Logger
}

func NewStaffNotifier(email EmailSender, clinics clinicLookup, logger *logging.Logger) *StaffNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &StaffNotifier{email: email, clinics: clinics, logger: logger}
}

var _ events.DeliveryHandler = (*StaffNotifier)(nil)

// Handle sends one email per appointment event. Unknown event types and
// clinics without a staff address are acknowledged without sending.
func (n *StaffNotifier) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if entry.Type != events.TypeAppointmentBooked && entry.Type != events.TypeAppointmentCancelled {
		return nil
	}
	var appt booking.Appointment
	if err := json.Unmarshal(entry.Payload, &appt); err != nil {
		return fmt.Errorf("notify: decode %s payload: %w", entry.Type, err)
	}

	c, err := n.clinics.GetByID(ctx, appt.ClinicID)
	if err != nil {
		return fmt.Errorf("notify: clinic %s: %w", appt.ClinicID, err)
	}
	if strings.TrimSpace(c.Email) == "" {
		n.logger.Debug("notify: clinic has no staff email", "clinic_id", c.ID)
		return nil
	}

	msg := staffEmail(entry.Type, c, &appt)
	if err := n.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: staff email for %s: %w", appt.ID, err)
	}
	n.logger.Info("staff notified", "clinic_id", c.ID, "appointment_id", appt.ID, "type", entry.Type)
	return nil
}

func staffEmail(eventType string, c *clinic.Clinic, appt *booking.Appointment) EmailMessage {
	subject := fmt.Sprintf("New appointment: %s on %s at %s", appt.PatientName, appt.Date, appt.Time)
	heading := "A new appointment was booked."
	if eventType == events.TypeAppointmentCancelled {
		subject = fmt.Sprintf("Appointment cancelled: %s on %s at %s", appt.PatientName, appt.Date, appt.Time)
		heading = "An appointment was cancelled."
	}

	var b strings.Builder
	b.WriteString(heading + "\n\n")
	fmt.Fprintf(&b, "Patient: %s\n", appt.PatientName)
	fmt.Fprintf(&b, "Phone: %s\n", appt.PatientPhone)
	fmt.Fprintf(&b, "Date: %s\n", appt.Date)
	fmt.Fprintf(&b, "Time: %s\n", appt.Time)
	fmt.Fprintf(&b, "Booked via: %s\n", appt.CreatedVia)
	fmt.Fprintf(&b, "Reference: %s\n", appt.ShortID())
	if appt.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", appt.Notes)
	}
	if appt.CancellationReason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", appt.CancellationReason)
	}

	return EmailMessage{
		To:        c.Email,
		ToName:    c.Name,
		Subject:   subject,
		Body:      b.String(),
		Event:     eventType,
		Reference: appt.ShortID(),
	}
}
