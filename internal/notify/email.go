package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// EmailSender delivers a staff notification to the clinic front desk.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is a plain-text booked or cancelled notice for one clinic.
// Event and Reference are attached as provider tags so the desk can filter
// its mailbox by event and look up the appointment.
type EmailMessage struct {
	To        string
	ToName    string
	Subject   string
	Body      string
	Event     string
	Reference string
}

// tag turns an outbox event type into a provider-safe label:
// appointment.booked.v1 becomes appointment_booked.
func (m EmailMessage) tag() string {
	ev := strings.TrimSuffix(m.Event, ".v1")
	return strings.ReplaceAll(ev, ".", "_")
}

type sendgridAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender sends staff notices through SendGrid.
type SendGridSender struct {
	client    sendgridAPI
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

const defaultFromName = "Clinic Booking Assistant"

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil when no API key is configured so callers can
// fall back to LogEmailSender.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)
	message := mail.NewV3MailInit(from, msg.Subject, to, mail.NewContent("text/plain", msg.Body))
	if tag := msg.tag(); tag != "" {
		message.AddCategories(tag)
	}
	if msg.Reference != "" {
		message.SetCustomArg("appointment_ref", msg.Reference)
	}

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid staff notice failed", "error", err, "to", msg.To, "ref", msg.Reference)
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid rejected staff notice", "status", response.StatusCode, "body", response.Body, "to", msg.To)
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info("staff notice sent via sendgrid", "to", msg.To, "event", msg.Event, "ref", msg.Reference)
	return nil
}

// LogEmailSender writes staff notices to the log instead of mailing them.
// Used when no email provider is configured.
type LogEmailSender struct {
	logger *logging.Logger
}

func NewLogEmailSender(logger *logging.Logger) *LogEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogEmailSender{logger: logger}
}

func (s *LogEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info("staff notice (email disabled)", "to", msg.To, "event", msg.Event, "ref", msg.Reference, "subject", msg.Subject)
	return nil
}
