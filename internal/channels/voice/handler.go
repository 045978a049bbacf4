// Package voice serves the Twilio IVR: it turns call webhooks into
// conversation turns and answers with TwiML.
package voice

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-assistant/internal/archive"
	"github.com/wolfman30/clinic-booking-assistant/internal/calllog"
	"github.com/wolfman30/clinic-booking-assistant/internal/clinic"
	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

var tracer = otel.Tracer("clinicbooking.internal.channels.voice")

const (
	kannadaVoice    = "Google.kn-IN-Standard-A"
	defaultVoice    = "alice"
	gatherPath      = "/webhooks/voice/gather/"
	noInputPath     = "/webhooks/voice/no-input/"
	recordingMarker = "[recording]"
)

type turnHandler interface {
	Handle(ctx context.Context, turn conversation.Turn) (conversation.Reply, error)
}

type clinicByPhone interface {
	GetByPhone(ctx context.Context, phone string) (*clinic.Clinic, error)
}

type sessionLookup interface {
	Lookup(ctx context.Context, address string) (*session.Session, error)
	Clear(ctx context.Context, address string) error
}

type callRecorder interface {
	Insert(ctx context.Context, c *calllog.CallLog) error
	AppendTranscript(ctx context.Context, callSID string, lines ...string) error
	SetAppointment(ctx context.Context, callSID, appointmentID string) error
	Finalize(ctx context.Context, callSID string, status calllog.Status, durationSeconds int) error
	Get(ctx context.Context, callSID string) (*calllog.CallLog, error)
}

type callArchiver interface {
	ArchiveCall(ctx context.Context, record *archive.CallRecord) error
}

// InboundObserver counts voice webhook events.
type InboundObserver interface {
	ObserveInbound(channel, eventType, status string)
	ObserveWebhookLatency(channel, eventType string, seconds float64)
}

// Config controls TwiML rendering and request validation.
type Config struct {
	// AuthToken enables X-Twilio-Signature validation when set.
	AuthToken string
	// PublicBaseURL makes action URLs absolute and fixes the URL used for
	// signature validation behind proxies.
	PublicBaseURL  string
	VoiceName      string
	GatherTimeout  int
	NameMaxSeconds int
	CountryCode    string
}

// Handler serves the voice webhooks.
type Handler struct {
	cfg      Config
	engine   turnHandler
	clinics  clinicByPhone
	sessions sessionLookup
	calls    callRecorder
	archive  callArchiver
	metrics  InboundObserver
	logger   *logging.Logger
}

type Option func(*Handler)

// WithCallLog records calls and their transcripts.
func WithCallLog(calls callRecorder) Option {
	return func(h *Handler) { h.calls = calls }
}

// WithArchive stores finished calls.
func WithArchive(a callArchiver) Option {
	return func(h *Handler) { h.archive = a }
}

func WithMetrics(m InboundObserver) Option {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(cfg Config, engine turnHandler, clinics clinicByPhone, sessions sessionLookup, logger *logging.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.VoiceName == "" {
		cfg.VoiceName = defaultVoice
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = 5
	}
	if cfg.NameMaxSeconds <= 0 {
		cfg.NameMaxSeconds = 10
	}
	h := &Handler{
		cfg:      cfg,
		engine:   engine,
		clinics:  clinics,
		sessions: sessions,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/webhooks/voice", func(r chi.Router) {
		r.Use(h.verify)
		r.Post("/incoming", h.HandleIncoming)
		r.Post("/gather/{callSid}", h.HandleGather)
		r.Post("/no-input/{callSid}", h.HandleNoInput)
		r.Post("/status", h.HandleStatus)
	})
}

func (h *Handler) verify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.AuthToken != "" && !ValidateSignature(r, h.cfg.AuthToken, absoluteURL(r, h.cfg.PublicBaseURL)) {
			h.logger.Warn("invalid twilio voice signature", "path", r.URL.Path)
			h.observe("signature", "rejected")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleIncoming answers a new call with the language menu.
func (h *Handler) HandleIncoming(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracer.Start(r.Context(), "voice.incoming")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	callSid := strings.TrimSpace(r.PostFormValue("CallSid"))
	from := strings.TrimSpace(r.PostFormValue("From"))
	to := strings.TrimSpace(r.PostFormValue("To"))
	if callSid == "" {
		h.observe("incoming", "invalid")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("clinicbooking.voice.call_sid", callSid))

	c, err := h.clinics.GetByPhone(ctx, to)
	if err != nil {
		if !errors.Is(err, clinic.ErrNotFound) {
			h.logger.Error("clinic lookup failed", "to", to, "error", err)
		}
		h.logger.Warn("call to unknown clinic number", "call_sid", callSid, "to", to)
		h.observe("incoming", "clinic_not_found")
		resp := &Response{}
		voice, language := h.sayParams(session.LanguageEnglish)
		resp.Say(voice, language, conversation.ClinicNotFoundText()).Hangup()
		h.write(w, resp)
		return
	}

	if h.calls != nil {
		if err := h.calls.Insert(ctx, &calllog.CallLog{
			CallSID:  callSid,
			ClinicID: c.ID,
			From:     from,
			To:       to,
			Status:   calllog.StatusInProgress,
		}); err != nil {
			h.logger.Error("failed to insert call log", "call_sid", callSid, "error", err)
		}
	}

	turn := conversation.Turn{
		Channel:      session.ChannelVoice,
		Address:      callSid,
		ClinicID:     c.ID,
		PatientPhone: conversation.NormalizePhone(from, h.cfg.CountryCode),
	}
	reply, err := h.engine.Handle(ctx, turn)
	if err != nil {
		h.logger.Error("voice turn failed", "call_sid", callSid, "error", err)
	}
	h.record(ctx, callSid, "", reply)
	h.observe("incoming", "answered")
	h.write(w, h.render(callSid, reply))
	if h.metrics != nil {
		h.metrics.ObserveWebhookLatency("voice", "incoming", time.Since(start).Seconds())
	}
}

// HandleGather feeds keypad digits, speech or a recording into the call's
// conversation.
func (h *Handler) HandleGather(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracer.Start(r.Context(), "voice.gather")
	defer span.End()

	callSid := chi.URLParam(r, "callSid")
	span.SetAttributes(attribute.String("clinicbooking.voice.call_sid", callSid))
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if _, err := h.sessions.Lookup(ctx, callSid); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			h.logger.Info("voice callback without session", "call_sid", callSid)
			h.observe("gather", "session_expired")
			resp := &Response{}
			voice, language := h.sayParams(session.LanguageEnglish)
			resp.Say(voice, language, conversation.SessionExpiredText(session.LanguageEnglish)).Hangup()
			h.write(w, resp)
			return
		}
		h.logger.Warn("session lookup failed", "call_sid", callSid, "error", err)
	}

	turn := conversation.Turn{
		Channel:      session.ChannelVoice,
		Address:      callSid,
		Digits:       strings.TrimSpace(r.PostFormValue("Digits")),
		Text:         strings.TrimSpace(r.PostFormValue("SpeechResult")),
		RecordingURL: strings.TrimSpace(r.PostFormValue("RecordingUrl")),
	}
	reply, err := h.engine.Handle(ctx, turn)
	if err != nil {
		h.logger.Error("voice turn failed", "call_sid", callSid, "error", err)
		h.observe("gather", "error")
	} else {
		h.observe("gather", "ok")
	}

	h.record(ctx, callSid, callerLine(turn), reply)
	if reply.AppointmentID != "" && h.calls != nil {
		if err := h.calls.SetAppointment(ctx, callSid, reply.AppointmentID); err != nil {
			h.logger.Warn("failed to link appointment to call", "call_sid", callSid, "appointment_id", reply.AppointmentID, "error", err)
		}
	}
	h.write(w, h.render(callSid, reply))
	if h.metrics != nil {
		h.metrics.ObserveWebhookLatency("voice", "gather", time.Since(start).Seconds())
	}
}

// HandleNoInput says goodbye when a gather timed out.
func (h *Handler) HandleNoInput(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callSid := chi.URLParam(r, "callSid")

	lang := session.LanguageEnglish
	if sess, err := h.sessions.Lookup(ctx, callSid); err == nil {
		lang = sess.Language.OrDefault()
	}
	if err := h.sessions.Clear(ctx, callSid); err != nil {
		h.logger.Warn("failed to clear voice session", "call_sid", callSid, "error", err)
	}
	h.observe("no_input", "hangup")

	text := conversation.NoInputText(lang)
	if h.calls != nil {
		if err := h.calls.AppendTranscript(ctx, callSid, "assistant: "+text); err != nil {
			h.logger.Warn("failed to append transcript", "call_sid", callSid, "error", err)
		}
	}
	resp := &Response{}
	voice, language := h.sayParams(lang)
	resp.Say(voice, language, text).Hangup()
	h.write(w, resp)
}

// HandleStatus finalizes the call log when Twilio reports the call ended.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	callSid := strings.TrimSpace(r.PostFormValue("CallSid"))
	status := calllog.Status(strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))))
	duration, _ := strconv.Atoi(r.PostFormValue("CallDuration"))
	if callSid == "" || status == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	h.observe("status", string(status))

	if h.calls != nil {
		if err := h.calls.Finalize(ctx, callSid, status, duration); err != nil {
			h.logger.Warn("failed to finalize call log", "call_sid", callSid, "status", status, "error", err)
		}
	}
	if status.Terminal() {
		if err := h.sessions.Clear(ctx, callSid); err != nil {
			h.logger.Warn("failed to clear voice session", "call_sid", callSid, "error", err)
		}
		h.archiveCall(ctx, callSid)
	}
	h.logger.Info("call status", "call_sid", callSid, "status", status, "duration", duration)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) archiveCall(ctx context.Context, callSid string) {
	if h.archive == nil || h.calls == nil {
		return
	}
	call, err := h.calls.Get(ctx, callSid)
	if err != nil {
		h.logger.Warn("call log unavailable for archive", "call_sid", callSid, "error", err)
		return
	}
	record := &archive.CallRecord{
		CallSID:         call.CallSID,
		ClinicID:        call.ClinicID,
		CallerHash:      archive.HashPhone(call.From),
		Status:          string(call.Status),
		DurationSeconds: call.DurationSeconds,
		AppointmentID:   call.AppointmentID,
		StartedAt:       call.StartedAt,
		EndedAt:         call.EndedAt,
		Transcript:      call.Transcript,
	}
	if err := h.archive.ArchiveCall(ctx, record); err != nil {
		h.logger.Error("failed to archive call", "call_sid", callSid, "error", err)
	}
}

// render turns an engine reply into TwiML. Digit prompts are spoken inside a
// Gather; a silent caller falls through to the no-input redirect.
func (h *Handler) render(callSid string, reply conversation.Reply) *Response {
	resp := &Response{}
	says := h.says(reply.Prompts)

	if reply.Hangup {
		resp.Verbs = append(resp.Verbs, sayVerbs(says)...)
		return resp.Hangup()
	}

	switch reply.Expect.Input {
	case conversation.InputRecording:
		resp.Verbs = append(resp.Verbs, sayVerbs(says)...)
		resp.Record(h.actionURL(gatherPath+callSid), h.cfg.NameMaxSeconds, "#")
		// Twilio skips the action on an empty recording; continue without a name.
		resp.Redirect(h.actionURL(gatherPath + callSid))
	default:
		numDigits := reply.Expect.NumDigits
		if numDigits <= 0 {
			numDigits = 1
		}
		g := Gather{
			Input:     "dtmf",
			NumDigits: numDigits,
			Action:    h.actionURL(gatherPath + callSid),
			Timeout:   h.cfg.GatherTimeout,
			Says:      says,
		}
		if numDigits > 1 {
			g.FinishOnKey = "#"
		}
		resp.Gather(g)
		resp.Redirect(h.actionURL(noInputPath + callSid))
	}
	return resp
}

func (h *Handler) says(prompts []conversation.Prompt) []Say {
	out := make([]Say, 0, len(prompts))
	for _, p := range prompts {
		voice, language := h.sayParams(p.Language)
		out = append(out, Say{Voice: voice, Language: language, Text: conversation.SpokenPrompt(p)})
	}
	return out
}

func sayVerbs(says []Say) []any {
	out := make([]any, 0, len(says))
	for _, s := range says {
		out = append(out, s)
	}
	return out
}

func (h *Handler) sayParams(lang session.Language) (voice, language string) {
	if lang == session.LanguageKannada {
		return kannadaVoice, "kn-IN"
	}
	return h.cfg.VoiceName, "en-IN"
}

func (h *Handler) actionURL(path string) string {
	return h.cfg.PublicBaseURL + path
}

// record appends the caller input and spoken replies to the call transcript.
func (h *Handler) record(ctx context.Context, callSid, caller string, reply conversation.Reply) {
	if h.calls == nil {
		return
	}
	lines := make([]string, 0, len(reply.Prompts)+1)
	if caller != "" {
		lines = append(lines, "caller: "+caller)
	}
	for _, p := range reply.Prompts {
		lines = append(lines, "assistant: "+p.Text)
	}
	if err := h.calls.AppendTranscript(ctx, callSid, lines...); err != nil {
		h.logger.Warn("failed to append transcript", "call_sid", callSid, "error", err)
	}
}

func (h *Handler) write(w http.ResponseWriter, resp *Response) {
	body, err := resp.Render()
	if err != nil {
		h.logger.Error("failed to render twiml", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) observe(eventType, status string) {
	if h.metrics != nil {
		h.metrics.ObserveInbound("voice", eventType, status)
	}
}

func callerLine(t conversation.Turn) string {
	switch {
	case t.Text != "":
		return t.Text
	case t.Digits != "":
		return t.Digits
	case t.RecordingURL != "":
		return recordingMarker
	}
	return ""
}
