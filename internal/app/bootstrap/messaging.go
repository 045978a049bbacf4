package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/clinic-booking-assistant/internal/channels/whatsapp"
	appconfig "github.com/wolfman30/clinic-booking-assistant/internal/config"
	"github.com/wolfman30/clinic-booking-assistant/internal/notify"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// Messengers groups the outbound patient channels. Nil fields are disabled.
type Messengers struct {
	WhatsApp *whatsapp.Client
	SMS      *notify.TwilioSMSSender
	Patient  *notify.PatientNotifier
}

// BuildMessengers creates the WhatsApp and SMS senders and the patient
// notifier that routes between them.
func BuildMessengers(cfg *appconfig.Config, metrics whatsapp.OutboundObserver, logger *logging.Logger) Messengers {
	if logger == nil {
		logger = logging.Default()
	}
	var m Messengers

	m.WhatsApp = whatsapp.NewClient(whatsapp.Config{
		AccessToken:   cfg.WhatsAppAccessToken,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		APIBase:       cfg.WhatsAppAPIBase,
	}, metrics, logger)
	if m.WhatsApp == nil {
		logger.Warn("whatsapp credentials missing; whatsapp replies disabled")
	}

	m.SMS = notify.NewTwilioSMSSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger)
	if m.SMS == nil {
		logger.Warn("twilio credentials missing; sms disabled")
	}

	// Typed nil pointers must not reach the notifier's interface fields.
	var wa notify.WhatsAppSender
	if m.WhatsApp != nil {
		wa = m.WhatsApp
	}
	var sms notify.SMSSender
	if m.SMS != nil {
		sms = m.SMS
	}
	m.Patient = notify.NewPatientNotifier(wa, sms, logger)
	return m
}

// BuildEmailSender selects the staff email provider. It falls back to the
// log-only sender when the chosen provider is not configured.
func BuildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.EmailProvider {
	case "ses":
		if cfg.SESFromEmail != "" {
			logger.Info("staff email via ses", "from", cfg.SESFromEmail)
			return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
				FromEmail:        cfg.SESFromEmail,
				FromName:         cfg.SendGridFromName,
				ConfigurationSet: cfg.SESConfigSet,
			}, logger)
		}
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			logger.Info("staff email via sendgrid", "from", cfg.SendGridFromEmail)
			return sender
		}
	}
	logger.Warn("email provider not configured; staff emails are logged only", "provider", cfg.EmailProvider)
	return notify.NewLogEmailSender(logger)
}
