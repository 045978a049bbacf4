package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-booking-assistant/internal/clinic"
	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

const businessAccountObject = "whatsapp_business_account"

type turnEnqueuer interface {
	EnqueueTurn(ctx context.Context, turn conversation.Turn, opts ...conversation.PublishOption) (string, error)
}

type clinicResolver interface {
	GetByWhatsAppPhoneID(ctx context.Context, phoneID string) (*clinic.Clinic, error)
}

type messenger interface {
	SendText(ctx context.Context, to, body string) (string, error)
	MarkRead(ctx context.Context, messageID string) error
}

// InboundObserver counts inbound webhook events.
type InboundObserver interface {
	ObserveInbound(channel, eventType, status string)
	ObserveWebhookLatency(channel, eventType string, seconds float64)
}

// WebhookConfig holds the Meta webhook secrets.
type WebhookConfig struct {
	VerifyToken string
	AppSecret   string
	// DefaultClinicID is used when the receiving phone number id maps to no clinic.
	DefaultClinicID string
}

// Webhook handles WhatsApp webhook verification and inbound messages.
type Webhook struct {
	cfg       WebhookConfig
	publisher turnEnqueuer
	clinics   clinicResolver
	messenger messenger
	metrics   InboundObserver
	logger    *logging.Logger
}

// NewWebhook builds the handler. clinics, messenger and metrics may be nil.
func NewWebhook(cfg WebhookConfig, publisher turnEnqueuer, clinics clinicResolver, messenger messenger, metrics InboundObserver, logger *logging.Logger) *Webhook {
	if logger == nil {
		logger = logging.Default()
	}
	return &Webhook{
		cfg:       cfg,
		publisher: publisher,
		clinics:   clinics,
		messenger: messenger,
		metrics:   metrics,
		logger:    logger,
	}
}

func (h *Webhook) RegisterRoutes(r chi.Router) {
	r.Get("/webhooks/whatsapp", h.HandleVerification)
	r.Post("/webhooks/whatsapp", h.HandleInbound)
}

// HandleVerification answers Meta's subscription challenge.
func (h *Webhook) HandleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && h.cfg.VerifyToken != "" && q.Get("hub.verify_token") == h.cfg.VerifyToken {
		h.logger.Info("whatsapp webhook verified")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, q.Get("hub.challenge"))
		return
	}
	h.logger.Warn("whatsapp webhook verification failed", "mode", q.Get("hub.mode"))
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleInbound acknowledges the event and enqueues each inbound message.
func (h *Webhook) HandleInbound(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if h.cfg.AppSecret != "" && !VerifySignature(h.cfg.AppSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		h.observe("signature", "rejected")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.observe("payload", "invalid")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if event.Object != businessAccountObject {
		h.observe("payload", "ignored")
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "EVENT_RECEIVED")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	h.process(r.Context(), event)
	if h.metrics != nil {
		h.metrics.ObserveWebhookLatency("whatsapp", "event", time.Since(start).Seconds())
	}
}

func (h *Webhook) process(ctx context.Context, event WebhookEvent) {
	for _, entry := range event.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			for _, st := range value.Statuses {
				h.logger.Info("whatsapp message status", "message_id", st.ID, "status", st.Status)
				h.observe("status", st.Status)
			}
			for _, msg := range value.Messages {
				h.handleMessage(ctx, value, msg)
			}
		}
	}
}

func (h *Webhook) handleMessage(ctx context.Context, value ChangeValue, msg Message) {
	turn, ok := TurnFromMessage(msg)
	if !ok {
		h.observe("message", "unsupported")
		h.logger.Info("unsupported whatsapp message type", "type", msg.Type, "from", msg.From)
		if h.messenger != nil {
			if _, err := h.messenger.SendText(ctx, msg.From, conversation.TextOnlyText(session.LanguageUnset)); err != nil {
				h.logger.Warn("failed to send text-only notice", "to", msg.From, "error", err)
			}
		}
		return
	}
	turn.DisplayName = displayName(value.Contacts, msg.From)
	turn.ClinicID = h.resolveClinic(ctx, value.Metadata.PhoneNumberID)

	jobID, err := h.publisher.EnqueueTurn(ctx, turn, conversation.WithJobID(msg.ID))
	if err != nil {
		h.observe("message", "enqueue_failed")
		h.logger.Error("failed to enqueue whatsapp turn", "message_id", msg.ID, "from", msg.From, "error", err)
		return
	}
	h.observe("message", "enqueued")
	h.logger.Info("whatsapp turn enqueued", "job_id", jobID, "from", msg.From, "clinic_id", turn.ClinicID)

	if h.messenger != nil {
		if err := h.messenger.MarkRead(ctx, msg.ID); err != nil {
			h.logger.Warn("failed to mark whatsapp message read", "message_id", msg.ID, "error", err)
		}
	}
}

func (h *Webhook) resolveClinic(ctx context.Context, phoneNumberID string) string {
	if h.clinics == nil || phoneNumberID == "" {
		return h.cfg.DefaultClinicID
	}
	c, err := h.clinics.GetByWhatsAppPhoneID(ctx, phoneNumberID)
	if err != nil {
		h.logger.Warn("no clinic for whatsapp number, using default", "phone_number_id", phoneNumberID, "error", err)
		return h.cfg.DefaultClinicID
	}
	return c.ID
}

func (h *Webhook) observe(eventType, status string) {
	if h.metrics != nil {
		h.metrics.ObserveInbound("whatsapp", eventType, status)
	}
}

// TurnFromMessage normalizes text, template button and interactive button
// replies. Other message types report false.
func TurnFromMessage(msg Message) (conversation.Turn, bool) {
	turn := conversation.Turn{
		Channel:      session.ChannelWhatsApp,
		Address:      msg.From,
		PatientPhone: conversation.NormalizePhone(msg.From, ""),
		MessageID:    msg.ID,
	}
	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return turn, false
		}
		turn.Text = msg.Text.Body
	case "button":
		if msg.Button == nil {
			return turn, false
		}
		turn.Text = msg.Button.Text
		turn.ChoiceID = msg.Button.Payload
	case "interactive":
		if msg.Interactive == nil || msg.Interactive.Type != "button_reply" || msg.Interactive.ButtonReply == nil {
			return turn, false
		}
		turn.Text = msg.Interactive.ButtonReply.Title
		turn.ChoiceID = msg.Interactive.ButtonReply.ID
	default:
		return turn, false
	}
	return turn, true
}

func displayName(contacts []Contact, from string) string {
	for _, c := range contacts {
		if c.WaID == from || len(contacts) == 1 {
			return c.Profile.Name
		}
	}
	return ""
}

// VerifySignature verifies the X-Hub-Signature-256 header.
func VerifySignature(appSecret string, body []byte, signature string) bool {
	if appSecret == "" || signature == "" {
		return false
	}
	const prefix = "sha256="
	if len(signature) <= len(prefix) || signature[:len(prefix)] != prefix {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature[len(prefix):]))
}
