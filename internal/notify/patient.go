// Package notify delivers outbound messages: reminders and confirmations to
// patients, and booking emails to clinic staff.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/clinic-booking-assistant/internal/booking"
	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// ErrNoChannel is returned when neither WhatsApp nor SMS is configured.
var ErrNoChannel = errors.New("notify: no patient channel configured")

// WhatsAppSender sends a plain text WhatsApp message and returns its id.
type WhatsAppSender interface {
	SendText(ctx context.Context, to, body string) (string, error)
}

// SMSSender sends an SMS and returns the provider message id.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}

// PatientNotifier sends reminders and out-of-band confirmations to patients.
// Appointments booked over WhatsApp are answered on WhatsApp; everything
// else goes by SMS. Either channel may be nil.
type PatientNotifier struct {
	whatsapp WhatsAppSender
	sms      SMSSender
	logger   *logging.Logger
}

func NewPatientNotifier(whatsapp WhatsAppSender, sms SMSSender, logger *logging.Logger) *PatientNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &PatientNotifier{whatsapp: whatsapp, sms: sms, logger: logger}
}

// SendReminder sends the reminder in the appointment's language.
func (n *PatientNotifier) SendReminder(ctx context.Context, appt *booking.Appointment) (string, error) {
	if appt == nil {
		return "", errors.New("notify: appointment required")
	}
	body := conversation.ReminderText(appt.Language, appt.PatientName, appt.Date, appt.Time)
	id, err := n.send(ctx, appt, body)
	if err != nil {
		return "", fmt.Errorf("notify: reminder %s: %w", appt.ID, err)
	}
	return id, nil
}

// SendConfirmation texts the booking reference for calls. Chat bookings are
// confirmed inside the conversation and are skipped.
func (n *PatientNotifier) SendConfirmation(ctx context.Context, appt *booking.Appointment) error {
	if appt == nil || appt.CreatedVia != session.ChannelVoice {
		return nil
	}
	if n.sms == nil {
		n.logger.Debug("notify: sms not configured, skipping confirmation", "appointment_id", appt.ID)
		return nil
	}
	body := conversation.ConfirmationText(appt.Language, appt.Date, appt.Time, appt.ShortID())
	if _, err := n.sms.SendSMS(ctx, appt.PatientPhone, body); err != nil {
		return fmt.Errorf("notify: confirmation %s: %w", appt.ID, err)
	}
	return nil
}

func (n *PatientNotifier) send(ctx context.Context, appt *booking.Appointment, body string) (string, error) {
	useWhatsApp := n.whatsapp != nil && (appt.CreatedVia == session.ChannelWhatsApp || n.sms == nil)
	switch {
	case useWhatsApp:
		return n.whatsapp.SendText(ctx, appt.PatientPhone, body)
	case n.sms != nil:
		return n.sms.SendSMS(ctx, appt.PatientPhone, body)
	default:
		return "", ErrNoChannel
	}
}
