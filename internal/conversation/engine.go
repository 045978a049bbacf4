// Package conversation drives the booking dialogue shared by every channel:
// the per-turn state machine, input classification and the chat turn queue.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-assistant/internal/availability"
	"github.com/wolfman30/clinic-booking-assistant/internal/booking"
	"github.com/wolfman30/clinic-booking-assistant/internal/clinic"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// Quick-reply ids understood by the engine.
const (
	ChoiceEnglish        = "lang_en"
	ChoiceKannada        = "lang_kn"
	ChoiceBook           = "book_apt"
	ChoiceCancel         = "cancel_apt"
	ChoiceChangeLanguage = "change_lang"
	ChoiceYes            = "confirm_yes"
	ChoiceNo             = "confirm_no"
)

const (
	// ConfirmationTemplate is the pre-approved WhatsApp template sent on booking.
	ConfirmationTemplate = "appointment_confirmation"
	defaultService       = "General Consultation"
	defaultPatientName   = "Patient"
	defaultClinicName    = "our clinic"
	maxSuggestedSlots    = 5
	cancelAnyKeyword     = "any"
)

// ClinicDirectory resolves the clinic a conversation belongs to.
type ClinicDirectory interface {
	GetByID(ctx context.Context, id string) (*clinic.Clinic, error)
}

// Confirmer sends an out-of-band confirmation for bookings made on channels
// that cannot show one themselves.
type Confirmer interface {
	SendConfirmation(ctx context.Context, appt *booking.Appointment) error
}

// Engine runs one conversation turn at a time against the session store.
type Engine struct {
	sessions      session.Store
	booker        booking.Booker
	classifier    Classifier
	clinics       ClinicDirectory
	confirmer     Confirmer
	defaultClinic string
	countryCode   string
	now           func() time.Time
	logger        *logging.Logger
}

type EngineOption func(*Engine)

func WithClinicDirectory(d ClinicDirectory) EngineOption {
	return func(e *Engine) { e.clinics = d }
}

// WithConfirmer sends confirmations for voice bookings.
func WithConfirmer(c Confirmer) EngineOption {
	return func(e *Engine) { e.confirmer = c }
}

// WithDefaultClinic is used when neither the turn nor the session names a clinic.
func WithDefaultClinic(id string) EngineOption {
	return func(e *Engine) { e.defaultClinic = strings.TrimSpace(id) }
}

// WithCountryCode is prefixed to ten-digit phone numbers keyed in on voice.
func WithCountryCode(code string) EngineOption {
	return func(e *Engine) { e.countryCode = strings.TrimPrefix(code, "+") }
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(sessions session.Store, booker booking.Booker, classifier Classifier, logger *logging.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	if classifier == nil {
		classifier = NewKeywordClassifier()
	}
	e := &Engine{
		sessions:    sessions,
		booker:      booker,
		classifier:  classifier,
		countryCode: "91",
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// turnState is the working copy of a session for one turn.
type turnState struct {
	sess     *session.Session
	turn     Turn
	clinic   *clinic.Clinic
	reply    Reply
	terminal bool
}

func (t *turnState) lang() session.Language {
	return t.sess.Language.OrDefault()
}

func (t *turnState) voice() bool {
	return t.sess.Channel == session.ChannelVoice
}

// Handle processes one turn. The session is persisted only when the turn
// succeeds; on a collaborator error the returned Reply is a localized apology
// and the stored step is left untouched.
func (e *Engine) Handle(ctx context.Context, turn Turn) (Reply, error) {
	sess, err := e.sessions.Get(ctx, turn.Address)
	if err != nil {
		return e.apology(session.LanguageUnset, session.StepUnknown, turn.Channel), fmt.Errorf("conversation: load session: %w", err)
	}
	original := sess.Step

	st := &turnState{sess: sess, turn: turn}
	e.bind(st)
	st.clinic = e.lookupClinic(ctx, sess.ClinicID)

	if err := e.step(ctx, st); err != nil {
		e.logger.Error("conversation turn failed",
			"address", turn.Address, "channel", turn.Channel, "step", original, "error", err)
		return e.apology(sess.Language, original, sess.Channel), err
	}

	if st.terminal {
		if err := e.sessions.Clear(ctx, turn.Address); err != nil {
			e.logger.Warn("failed to clear session", "address", turn.Address, "error", err)
		}
		st.reply.Step = session.StepLanguageSelection
		st.reply.Hangup = st.voice()
		return st.reply, nil
	}

	saved, err := e.sessions.Update(ctx, turn.Address, func(s *session.Session) {
		*s = *st.sess
	})
	if err != nil {
		e.logger.Error("failed to save session", "address", turn.Address, "error", err)
		return e.apology(sess.Language, original, sess.Channel), fmt.Errorf("conversation: save session: %w", err)
	}
	st.reply.Step = saved.Step
	st.reply.Expect = expectFor(saved.Step, saved.Channel)
	return st.reply, nil
}

// bind copies routing context from the turn onto the session.
func (e *Engine) bind(st *turnState) {
	s, t := st.sess, st.turn
	if t.Channel != "" {
		s.Channel = t.Channel
	}
	if t.ClinicID != "" {
		s.ClinicID = t.ClinicID
	}
	if s.ClinicID == "" {
		s.ClinicID = e.defaultClinic
	}
	if t.PatientPhone != "" {
		s.PatientPhone = t.PatientPhone
	}
	if t.DisplayName != "" {
		s.DisplayName = t.DisplayName
	}
}

func (e *Engine) step(ctx context.Context, st *turnState) error {
	switch st.sess.Step {
	case session.StepLanguageSelection:
		e.promptLanguage(st)
		return nil
	case session.StepAwaitingLanguage:
		return e.onLanguage(ctx, st)
	case session.StepMainMenu:
		return e.onMenu(ctx, st)
	case session.StepAwaitingName:
		e.onName(st)
		return nil
	case session.StepAwaitingDate:
		e.onDate(st)
		return nil
	case session.StepAwaitingTime:
		e.onTime(st)
		return nil
	case session.StepAwaitingConfirmation:
		return e.onConfirmation(ctx, st)
	case session.StepAwaitingCancelLookup:
		return e.onCancelLookup(ctx, st)
	case session.StepAwaitingCancelConfirmation:
		return e.onCancelConfirmation(ctx, st)
	default:
		e.logger.Warn("unknown conversation step, restarting", "address", st.sess.Address, "step", st.sess.Step)
		st.sess.ResetFlow(session.StepLanguageSelection)
		e.promptLanguage(st)
		return nil
	}
}

func (e *Engine) promptLanguage(st *turnState) {
	name := defaultClinicName
	if st.clinic != nil && st.clinic.Name != "" {
		name = st.clinic.Name
	}
	if st.voice() {
		st.reply.text(session.LanguageEnglish, msg(session.LanguageEnglish, msgWelcomeVoice, name))
	} else {
		st.reply.choices(session.LanguageEnglish, msg(session.LanguageEnglish, msgWelcome, name, name), languageChoices()...)
	}
	st.sess.Step = session.StepAwaitingLanguage
}

func (e *Engine) onLanguage(ctx context.Context, st *turnState) error {
	var lang session.Language
	switch choiceOf(st.turn, languageChoices()) {
	case ChoiceEnglish:
		lang = session.LanguageEnglish
	case ChoiceKannada:
		lang = session.LanguageKannada
	default:
		if text := strings.TrimSpace(st.turn.Text); text != "" {
			c, err := e.classifier.Classify(ctx, KindLanguage, text, st.sess.Language)
			if err != nil {
				return err
			}
			lang = session.ParseLanguage(c.Value)
		}
	}
	st.sess.Language = lang.OrDefault()
	e.showMenu(st)
	return nil
}

func (e *Engine) showMenu(st *turnState) {
	st.sess.ResetFlow(session.StepMainMenu)
	st.reply.choices(st.lang(), msg(st.lang(), msgMainMenu), menuChoices(st.lang())...)
}

func (e *Engine) onMenu(ctx context.Context, st *turnState) error {
	intent := IntentUnknown
	switch choiceOf(st.turn, menuChoices(st.lang())) {
	case ChoiceBook:
		intent = IntentBook
	case ChoiceCancel:
		intent = IntentCancel
	case ChoiceChangeLanguage:
		intent = IntentChangeLanguage
	default:
		if text := strings.TrimSpace(st.turn.Text); text != "" {
			c, err := e.classifier.Classify(ctx, KindIntent, text, st.sess.Language)
			if err != nil {
				return err
			}
			intent = c.Value
		}
	}

	switch intent {
	case IntentBook:
		st.sess.ResetFlow(session.StepAwaitingName)
		st.reply.text(st.lang(), e.voiceOr(st, msgNamePromptVoice, msgNamePrompt))
	case IntentCancel:
		st.sess.ResetFlow(session.StepAwaitingCancelLookup)
		st.reply.text(st.lang(), e.voiceOr(st, msgCancelLookupVoice, msgCancelLookup))
	case IntentChangeLanguage:
		st.sess.ResetFlow(session.StepLanguageSelection)
		e.promptLanguage(st)
	default:
		st.reply.text(st.lang(), msg(st.lang(), msgNotUnderstood))
		st.reply.choices(st.lang(), msg(st.lang(), msgMainMenu), menuChoices(st.lang())...)
	}
	return nil
}

func (e *Engine) onName(st *turnState) {
	name := strings.TrimSpace(st.turn.Text)
	if name == "" {
		name = strings.TrimSpace(st.sess.DisplayName)
	}
	if name == "" {
		name = defaultPatientName
	}
	st.sess.Draft.PatientName = name
	if st.turn.RecordingURL != "" {
		st.sess.Draft.Notes = "name recording: " + st.turn.RecordingURL
	}
	st.sess.Step = session.StepAwaitingDate
	st.reply.text(st.lang(), e.voiceOr(st, msgDatePromptVoice, msgDatePrompt))
}

func (e *Engine) onDate(st *turnState) {
	date, err := parseDate(inputOf(st.turn), e.today(st))
	switch {
	case errors.Is(err, errPastDate):
		st.reply.text(st.lang(), msg(st.lang(), msgDatePast))
		return
	case err != nil:
		st.reply.text(st.lang(), msg(st.lang(), msgDateInvalid))
		return
	}
	st.sess.Draft.Date = date
	st.sess.Step = session.StepAwaitingTime
	st.reply.text(st.lang(), e.voiceOr(st, msgTimePromptVoice, msgTimePrompt))
}

func (e *Engine) onTime(st *turnState) {
	clock, err := parseClock(inputOf(st.turn))
	if err != nil {
		st.reply.text(st.lang(), msg(st.lang(), msgTimeInvalid))
		return
	}
	if e.timePassed(st, st.sess.Draft.Date, clock) {
		st.reply.text(st.lang(), msg(st.lang(), msgTimePast))
		return
	}
	st.sess.Draft.Time = clock
	st.sess.Step = session.StepAwaitingConfirmation
	d := st.sess.Draft
	st.reply.choices(st.lang(), msg(st.lang(), msgConfirmSummary, d.PatientName, d.Date, d.Time), confirmChoices(st.lang())...)
}

func (e *Engine) onConfirmation(ctx context.Context, st *turnState) error {
	if !e.affirmed(st) {
		st.reply.text(st.lang(), msg(st.lang(), msgBookingAborted))
		e.showMenu(st)
		return nil
	}

	d := st.sess.Draft
	if e.timePassed(st, d.Date, d.Time) {
		st.sess.Draft.Time = ""
		st.sess.Step = session.StepAwaitingTime
		st.reply.text(st.lang(), msg(st.lang(), msgTimePast))
		return nil
	}
	phone := st.sess.PatientPhone
	if phone == "" {
		phone = st.sess.Address
	}
	res, err := e.booker.CreateAppointment(ctx, booking.Request{
		ClinicID:     st.sess.ClinicID,
		PatientName:  d.PatientName,
		PatientPhone: phone,
		Date:         d.Date,
		Time:         d.Time,
		Language:     st.lang(),
		Channel:      st.sess.Channel,
		Notes:        d.Notes,
	})
	if errors.Is(err, booking.ErrSlotLocked) {
		st.reply.choices(st.lang(), msg(st.lang(), msgSlotBusy), confirmChoices(st.lang())...)
		return nil
	}
	if err != nil {
		return fmt.Errorf("conversation: create appointment: %w", err)
	}

	switch {
	case res.Success:
		e.booked(ctx, st, res.Appointment)
	case res.Reason == availability.ReasonClinicClosed:
		st.sess.Draft.Date, st.sess.Draft.Time = "", ""
		st.sess.Step = session.StepAwaitingDate
		st.reply.text(st.lang(), msg(st.lang(), msgClinicClosed, d.Date))
	case res.Reason == availability.ReasonOutsideHours:
		st.sess.Draft.Time = ""
		st.sess.Step = session.StepAwaitingTime
		st.reply.text(st.lang(), msg(st.lang(), msgOutsideHours, d.Time, strings.Join(res.WorkingHours, ", ")))
	case res.Reason == availability.ReasonSlotBooked:
		return e.suggestSlots(ctx, st)
	default:
		return fmt.Errorf("conversation: booking rejected: %s %s", res.Reason, res.Detail)
	}
	return nil
}

func (e *Engine) booked(ctx context.Context, st *turnState, appt *booking.Appointment) {
	st.terminal = true
	st.reply.AppointmentID = appt.ID.String()
	lang := st.lang()
	spoken := msg(lang, msgBookedVoice, appt.Date, appt.Time, appt.ShortID())
	if st.voice() {
		st.reply.text(lang, spoken)
		if e.confirmer != nil {
			if err := e.confirmer.SendConfirmation(ctx, appt); err != nil {
				e.logger.Warn("failed to send booking confirmation", "appointment_id", appt.ID, "error", err)
			}
		}
		return
	}
	st.reply.Prompts = append(st.reply.Prompts, Prompt{
		Kind:     PromptTemplate,
		Text:     spoken,
		Language: lang,
		Template: &Template{
			Name:     ConfirmationTemplate,
			Language: string(lang),
			Params:   []string{appt.PatientName, appt.ShortID(), defaultService, appt.Date, appt.Time},
		},
	})
	st.reply.text(lang, msg(lang, msgThankYou))
}

func (e *Engine) suggestSlots(ctx context.Context, st *turnState) error {
	d := st.sess.Draft
	slots, err := e.booker.GetAvailableSlots(ctx, st.sess.ClinicID, d.Date)
	if err != nil {
		return fmt.Errorf("conversation: available slots: %w", err)
	}
	if len(slots) == 0 {
		st.sess.Draft.Date, st.sess.Draft.Time = "", ""
		st.sess.Step = session.StepAwaitingDate
		st.reply.text(st.lang(), msg(st.lang(), msgSlotBookedNoAlternatives, d.Date))
		return nil
	}
	if len(slots) > maxSuggestedSlots {
		slots = slots[:maxSuggestedSlots]
	}
	st.sess.Draft.Time = ""
	st.sess.Step = session.StepAwaitingTime
	st.reply.text(st.lang(), msg(st.lang(), msgSlotBooked, d.Time, strings.Join(slots, ", ")))
	return nil
}

func (e *Engine) onCancelLookup(ctx context.Context, st *turnState) error {
	phone, date, ok := e.cancelCriteria(st)
	if ok {
		appt, err := e.booker.FindUpcomingByPhone(ctx, st.sess.ClinicID, phone, date)
		switch {
		case err == nil:
			st.sess.CancelCandidateID = appt.ID.String()
			st.sess.Step = session.StepAwaitingCancelConfirmation
			st.reply.choices(st.lang(), msg(st.lang(), msgCancelConfirm, appt.PatientName, appt.Date, appt.Time), confirmChoices(st.lang())...)
			return nil
		case !errors.Is(err, booking.ErrAppointmentNotFound):
			return fmt.Errorf("conversation: find appointment: %w", err)
		}
	}

	if st.sess.Retries < 1 {
		st.sess.Retries++
		st.reply.text(st.lang(), msg(st.lang(), msgCancelNotFound))
		return nil
	}
	st.reply.text(st.lang(), msg(st.lang(), msgCancelGiveUp))
	e.showMenu(st)
	return nil
}

// cancelCriteria extracts the lookup key. Chat matches the sender's number
// and an optional date; voice collects the number on the keypad.
func (e *Engine) cancelCriteria(st *turnState) (phone, date string, ok bool) {
	if st.voice() {
		digits := strings.TrimSpace(inputOf(st.turn))
		if len(digits) != 10 {
			return "", "", false
		}
		return normalizePhone(digits, e.countryCode), "", true
	}

	phone = st.sess.PatientPhone
	if phone == "" {
		phone = st.sess.Address
	}
	input := strings.TrimSpace(inputOf(st.turn))
	if strings.EqualFold(input, cancelAnyKeyword) {
		return phone, "", true
	}
	date, err := parseDate(input, e.today(st))
	if err != nil {
		return "", "", false
	}
	return phone, date, true
}

func (e *Engine) onCancelConfirmation(ctx context.Context, st *turnState) error {
	if !e.affirmed(st) {
		st.reply.text(st.lang(), msg(st.lang(), msgCancelKept))
		e.showMenu(st)
		return nil
	}
	id, err := uuid.Parse(st.sess.CancelCandidateID)
	if err != nil {
		e.logger.Warn("cancel candidate missing from session", "address", st.sess.Address)
		e.showMenu(st)
		return nil
	}
	reason := fmt.Sprintf("cancelled by patient via %s", st.sess.Channel)
	if _, err := e.booker.CancelAppointment(ctx, id, reason); err != nil {
		return fmt.Errorf("conversation: cancel appointment: %w", err)
	}
	st.terminal = true
	st.reply.text(st.lang(), msg(st.lang(), msgCancelled))
	return nil
}

func (e *Engine) affirmed(st *turnState) bool {
	switch choiceOf(st.turn, confirmChoices(st.lang())) {
	case ChoiceYes:
		return true
	case ChoiceNo:
		return false
	}
	return isAffirmative(st.turn.Text, st.sess.Language)
}

func (e *Engine) voiceOr(st *turnState, voiceKey, chatKey msgKey) string {
	if st.voice() {
		return msg(st.lang(), voiceKey)
	}
	return msg(st.lang(), chatKey)
}

func (e *Engine) today(st *turnState) time.Time {
	var loc *time.Location
	if st.clinic != nil {
		loc = st.clinic.Location()
	} else {
		loc = time.UTC
	}
	return e.now().In(loc)
}

// timePassed reports whether clock on date is already behind the clinic's
// local time. Both values are zero-padded, so string order is time order.
func (e *Engine) timePassed(st *turnState, date, clock string) bool {
	now := e.today(st)
	return date == now.Format("2006-01-02") && clock <= now.Format("15:04")
}

func (e *Engine) lookupClinic(ctx context.Context, id string) *clinic.Clinic {
	if e.clinics == nil || id == "" {
		return nil
	}
	c, err := e.clinics.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, clinic.ErrNotFound) {
			e.logger.Warn("clinic lookup failed", "clinic_id", id, "error", err)
		}
		return nil
	}
	return c
}

func (e *Engine) apology(lang session.Language, step session.Step, channel session.Channel) Reply {
	r := Reply{Step: step, Expect: expectFor(step, channel)}
	r.text(lang.OrDefault(), msg(lang, msgApology))
	return r
}

// choiceOf resolves an explicit selection: a button id, a keypad digit or a
// typed digit matching one of choices.
func choiceOf(t Turn, choices []Choice) string {
	if t.ChoiceID != "" {
		for _, c := range choices {
			if c.ID == t.ChoiceID {
				return c.ID
			}
		}
	}
	for _, in := range []string{t.Digits, strings.TrimSpace(t.Text)} {
		if in == "" {
			continue
		}
		for _, c := range choices {
			if c.Digit == in {
				return c.ID
			}
		}
	}
	return ""
}

func inputOf(t Turn) string {
	if strings.TrimSpace(t.Text) != "" {
		return t.Text
	}
	return t.Digits
}

// expectFor tells keypad channels what to collect for step.
func expectFor(step session.Step, channel session.Channel) Expect {
	if channel != session.ChannelVoice {
		return Expect{Input: InputText}
	}
	switch step {
	case session.StepAwaitingName:
		return Expect{Input: InputRecording}
	case session.StepAwaitingDate:
		return Expect{Input: InputDigits, NumDigits: 8}
	case session.StepAwaitingTime:
		return Expect{Input: InputDigits, NumDigits: 4}
	case session.StepAwaitingCancelLookup:
		return Expect{Input: InputDigits, NumDigits: 10}
	default:
		return Expect{Input: InputDigits, NumDigits: 1}
	}
}
