package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-assistant/internal/availability"
	"github.com/wolfman30/clinic-booking-assistant/internal/booking"
	"github.com/wolfman30/clinic-booking-assistant/internal/clinic"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
)

var (
	engineNow   = time.Date(2025, 3, 1, 4, 0, 0, 0, time.UTC)
	bookedID    = uuid.MustParse("3f2b8c1e-9d4a-4c1b-8e2f-0a1b2c3d4e5f")
	chatAddress = "+919800000001"
)

type findCall struct {
	clinicID, phone, date string
}

type fakeBooker struct {
	mu        sync.Mutex
	requests  []booking.Request
	create    func(booking.Request) (booking.Result, error)
	slots     []string
	slotsErr  error
	upcoming  *booking.Appointment
	finds     []findCall
	cancelled map[uuid.UUID]string
}

func newFakeBooker() *fakeBooker {
	return &fakeBooker{cancelled: make(map[uuid.UUID]string)}
}

func (f *fakeBooker) CreateAppointment(_ context.Context, req booking.Request) (booking.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.create != nil {
		return f.create(req)
	}
	return booking.Result{Success: true, Appointment: &booking.Appointment{
		ID:           bookedID,
		ClinicID:     req.ClinicID,
		PatientName:  req.PatientName,
		PatientPhone: req.PatientPhone,
		Date:         req.Date,
		Time:         req.Time,
		Status:       booking.StatusConfirmed,
		CreatedVia:   req.Channel,
		Language:     req.Language,
	}}, nil
}

func (f *fakeBooker) CancelAppointment(_ context.Context, id uuid.UUID, reason string) (*booking.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled[id] = reason
	return &booking.Appointment{ID: id, Status: booking.StatusCancelled}, nil
}

func (f *fakeBooker) FindUpcomingByPhone(_ context.Context, clinicID, phone, date string) (*booking.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds = append(f.finds, findCall{clinicID, phone, date})
	if f.upcoming == nil {
		return nil, booking.ErrAppointmentNotFound
	}
	return f.upcoming, nil
}

func (f *fakeBooker) GetAvailableSlots(context.Context, string, string) ([]string, error) {
	return f.slots, f.slotsErr
}

type fakeDirectory struct{}

func (fakeDirectory) GetByID(_ context.Context, id string) (*clinic.Clinic, error) {
	if id != "clinic-1" {
		return nil, clinic.ErrNotFound
	}
	return &clinic.Clinic{ID: id, Name: "Sunrise Clinic", Timezone: "Asia/Kolkata", Active: true}, nil
}

type recordingConfirmer struct {
	sent []*booking.Appointment
}

func (r *recordingConfirmer) SendConfirmation(_ context.Context, appt *booking.Appointment) error {
	r.sent = append(r.sent, appt)
	return nil
}

func newTestEngine(booker booking.Booker, opts ...EngineOption) (*Engine, *session.MemoryStore) {
	clock := func() time.Time { return engineNow }
	store := session.NewMemoryStore(session.WithClock(clock))
	opts = append([]EngineOption{WithClinicDirectory(fakeDirectory{}), WithEngineClock(clock)}, opts...)
	return NewEngine(store, booker, NewKeywordClassifier(), nil, opts...), store
}

func chatTurn() Turn {
	return Turn{Channel: session.ChannelWhatsApp, Address: chatAddress, ClinicID: "clinic-1", PatientPhone: chatAddress, DisplayName: "Asha K"}
}

func say(t *testing.T, e *Engine, turn Turn) Reply {
	t.Helper()
	reply, err := e.Handle(context.Background(), turn)
	require.NoError(t, err)
	return reply
}

func withText(text string) Turn {
	t := chatTurn()
	t.Text = text
	return t
}

func withChoice(id string) Turn {
	t := chatTurn()
	t.ChoiceID = id
	return t
}

// bookingScript drives a fresh chat session to awaiting_confirmation for Asha
// on 10/03/2025 at 10:00 AM. Each entry names the step its turn leads to.
var bookingScript = []struct {
	turn Turn
	step session.Step
}{
	{withText("hi"), session.StepAwaitingLanguage},
	{withChoice(ChoiceEnglish), session.StepMainMenu},
	{withChoice(ChoiceBook), session.StepAwaitingName},
	{withText("Asha"), session.StepAwaitingDate},
	{withText("10/03/2025"), session.StepAwaitingTime},
	{withText("10:00 AM"), session.StepAwaitingConfirmation},
}

// advanceTo drives a fresh chat session until it reaches step.
func advanceTo(t *testing.T, e *Engine, step session.Step) Reply {
	t.Helper()
	return runScript(t, e, 0, step)
}

// continueTo resumes the booking script from a session already sitting at from.
func continueTo(t *testing.T, e *Engine, from, step session.Step) Reply {
	t.Helper()
	for i, s := range bookingScript {
		if s.step == from {
			return runScript(t, e, i+1, step)
		}
	}
	t.Fatalf("step %s is not part of the booking script", from)
	return Reply{}
}

func runScript(t *testing.T, e *Engine, start int, step session.Step) Reply {
	t.Helper()
	var reply Reply
	for _, s := range bookingScript[start:] {
		reply = say(t, e, s.turn)
		require.Equal(t, s.step, reply.Step)
		if s.step == step {
			return reply
		}
	}
	t.Fatalf("step %s not reached", step)
	return reply
}

func TestEngineBookingFlowClearsSessionAndRestarts(t *testing.T) {
	booker := newFakeBooker()
	e, store := newTestEngine(booker)

	welcome := advanceTo(t, e, session.StepAwaitingLanguage)
	require.Len(t, welcome.Prompts, 1)
	assert.Contains(t, welcome.Prompts[0].Text, "Sunrise Clinic")
	assert.Equal(t, languageChoices(), welcome.Prompts[0].Choices)

	confirm := continueTo(t, e, session.StepAwaitingLanguage, session.StepAwaitingConfirmation)
	require.Len(t, confirm.Prompts, 1)
	assert.Equal(t, PromptChoices, confirm.Prompts[0].Kind)
	assert.Contains(t, confirm.Prompts[0].Text, "Name: Asha")
	assert.Contains(t, confirm.Prompts[0].Text, "Date: 2025-03-10")
	assert.Contains(t, confirm.Prompts[0].Text, "Time: 10:00")

	done := say(t, e, withChoice(ChoiceYes))
	require.Len(t, booker.requests, 1)
	req := booker.requests[0]
	assert.Equal(t, "clinic-1", req.ClinicID)
	assert.Equal(t, "Asha", req.PatientName)
	assert.Equal(t, chatAddress, req.PatientPhone)
	assert.Equal(t, "2025-03-10", req.Date)
	assert.Equal(t, "10:00", req.Time)
	assert.Equal(t, session.ChannelWhatsApp, req.Channel)
	assert.Equal(t, session.LanguageEnglish, req.Language)

	require.Len(t, done.Prompts, 2)
	tmpl := done.Prompts[0].Template
	require.NotNil(t, tmpl)
	assert.Equal(t, ConfirmationTemplate, tmpl.Name)
	assert.Equal(t, []string{"Asha", "3f2b8c1e", "General Consultation", "2025-03-10", "10:00"}, tmpl.Params)
	assert.Equal(t, msg(session.LanguageEnglish, msgThankYou), done.Prompts[1].Text)
	assert.False(t, done.Hangup)
	assert.Equal(t, bookedID.String(), done.AppointmentID)

	_, err := store.Lookup(context.Background(), chatAddress)
	assert.ErrorIs(t, err, session.ErrNotFound)

	again := say(t, e, withChoice(ChoiceYes))
	assert.Equal(t, session.StepAwaitingLanguage, again.Step)
	assert.Equal(t, languageChoices(), again.Prompts[0].Choices)
	assert.Len(t, booker.requests, 1)
}

func TestEngineInvalidCalendarDateReprompts(t *testing.T) {
	e, store := newTestEngine(newFakeBooker())
	advanceTo(t, e, session.StepAwaitingDate)

	reply := say(t, e, withText("31-02-2025"))
	assert.Equal(t, session.StepAwaitingDate, reply.Step)
	assert.Equal(t, []string{msg(session.LanguageEnglish, msgDateInvalid)}, reply.Texts())

	sess, err := store.Lookup(context.Background(), chatAddress)
	require.NoError(t, err)
	assert.Empty(t, sess.Draft.Date)
	assert.Equal(t, "Asha", sess.Draft.PatientName)
}

func TestEnginePastDateReprompts(t *testing.T) {
	e, _ := newTestEngine(newFakeBooker())
	advanceTo(t, e, session.StepAwaitingDate)

	reply := say(t, e, withText("15/02/2025"))
	assert.Equal(t, session.StepAwaitingDate, reply.Step)
	assert.Equal(t, []string{msg(session.LanguageEnglish, msgDatePast)}, reply.Texts())
}

func TestEngineUnparseableTimeReprompts(t *testing.T) {
	e, _ := newTestEngine(newFakeBooker())
	advanceTo(t, e, session.StepAwaitingTime)

	reply := say(t, e, withText("10"))
	assert.Equal(t, session.StepAwaitingTime, reply.Step)
	assert.Equal(t, []string{msg(session.LanguageEnglish, msgTimeInvalid)}, reply.Texts())
}

func TestEnginePastTimeTodayReprompts(t *testing.T) {
	booker := newFakeBooker()
	e, _ := newTestEngine(booker)
	advanceTo(t, e, session.StepAwaitingDate)

	// 04:00 UTC is 09:30 at the clinic.
	require.Equal(t, session.StepAwaitingTime, say(t, e, withText("01/03/2025")).Step)

	reply := say(t, e, withText("09:00 AM"))
	assert.Equal(t, session.StepAwaitingTime, reply.Step)
	assert.Equal(t, []string{msg(session.LanguageEnglish, msgTimePast)}, reply.Texts())

	reply = say(t, e, withText("10:00 AM"))
	assert.Equal(t, session.StepAwaitingConfirmation, reply.Step)
}

func TestEngineConfirmationRejectsTimeThatPassedMeanwhile(t *testing.T) {
	booker := newFakeBooker()
	now := engineNow
	e, _ := newTestEngine(booker, WithEngineClock(func() time.Time { return now }))
	advanceTo(t, e, session.StepAwaitingDate)
	say(t, e, withText("01/03/2025"))
	require.Equal(t, session.StepAwaitingConfirmation, say(t, e, withText("10:00 AM")).Step)

	now = engineNow.Add(time.Hour)
	reply := say(t, e, withChoice(ChoiceYes))

	assert.Empty(t, booker.requests)
	assert.Equal(t, session.StepAwaitingTime, reply.Step)
	assert.Equal(t, []string{msg(session.LanguageEnglish, msgTimePast)}, reply.Texts())
}

func TestEngineLanguageSelection(t *testing.T) {
	tests := []struct {
		name string
		turn Turn
		want session.Language
	}{
		{"button", withChoice(ChoiceKannada), session.LanguageKannada},
		{"typed digit", withText("2"), session.LanguageKannada},
		{"kannada script", withText("ನಮಸ್ಕಾರ"), session.LanguageKannada},
		{"keyword", withText("english"), session.LanguageEnglish},
		{"unrecognized defaults to english", withText("bonjour"), session.LanguageEnglish},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, store := newTestEngine(newFakeBooker())
			say(t, e, withText("hi"))

			reply := say(t, e, tc.turn)
			assert.Equal(t, session.StepMainMenu, reply.Step)
			assert.Equal(t, menuChoices(tc.want), reply.Prompts[0].Choices)

			sess, err := store.Lookup(context.Background(), chatAddress)
			require.NoError(t, err)
			assert.Equal(t, tc.want, sess.Language)
		})
	}
}

func TestEngineMenuIntents(t *testing.T) {
	e, _ := newTestEngine(newFakeBooker())
	advanceTo(t, e, session.StepMainMenu)

	reply := say(t, e, withText("what are your prices?"))
	assert.Equal(t, session.StepMainMenu, reply.Step)
	assert.Equal(t, msg(session.LanguageEnglish, msgNotUnderstood), reply.Prompts[0].Text)

	reply = say(t, e, withText("I'd like to book an appointment"))
	assert.Equal(t, session.StepAwaitingName, reply.Step)
}

func TestEngineChangeLanguageFromMenu(t *testing.T) {
	e, _ := newTestEngine(newFakeBooker())
	advanceTo(t, e, session.StepMainMenu)

	reply := say(t, e, withChoice(ChoiceChangeLanguage))
	assert.Equal(t, session.StepAwaitingLanguage, reply.Step)

	reply = say(t, e, withChoice(ChoiceKannada))
	assert.Equal(t, session.StepMainMenu, reply.Step)
	assert.Equal(t, session.LanguageKannada, reply.Prompts[0].Language)
}

func TestEngineBlankNameFallsBackToDisplayName(t *testing.T) {
	e, store := newTestEngine(newFakeBooker())
	advanceTo(t, e, session.StepAwaitingName)

	say(t, e, withText("   "))
	sess, err := store.Lookup(context.Background(), chatAddress)
	require.NoError(t, err)
	assert.Equal(t, "Asha K", sess.Draft.PatientName)
}

func TestEngineNegativeConfirmationReturnsToMenu(t *testing.T) {
	booker := newFakeBooker()
	e, store := newTestEngine(booker)
	advanceTo(t, e, session.StepAwaitingConfirmation)

	reply := say(t, e, withText("no thanks"))
	assert.Equal(t, session.StepMainMenu, reply.Step)
	assert.Equal(t, msg(session.LanguageEnglish, msgBookingAborted), reply.Prompts[0].Text)
	assert.Empty(t, booker.requests)

	sess, err := store.Lookup(context.Background(), chatAddress)
	require.NoError(t, err)
	assert.Equal(t, session.LanguageEnglish, sess.Language)
	assert.Empty(t, sess.Draft.PatientName)
}

func TestEngineBookingConflictRouting(t *testing.T) {
	tests := []struct {
		name     string
		result   booking.Result
		slots    []string
		wantStep session.Step
		wantText string
	}{
		{
			name:     "clinic closed",
			result:   booking.Result{Reason: availability.ReasonClinicClosed},
			wantStep: session.StepAwaitingDate,
			wantText: "closed on 2025-03-10",
		},
		{
			name:     "outside hours",
			result:   booking.Result{Reason: availability.ReasonOutsideHours, WorkingHours: []string{"09:00-13:00", "14:00-17:00"}},
			wantStep: session.StepAwaitingTime,
			wantText: "(09:00-13:00, 14:00-17:00)",
		},
		{
			name:     "slot booked suggests five",
			result:   booking.Result{Reason: availability.ReasonSlotBooked},
			slots:    []string{"09:00", "09:30", "10:30", "11:00", "11:30", "12:00", "12:30"},
			wantStep: session.StepAwaitingTime,
			wantText: "Available times: 09:00, 09:30, 10:30, 11:00, 11:30.",
		},
		{
			name:     "slot booked with a full day",
			result:   booking.Result{Reason: availability.ReasonSlotBooked},
			wantStep: session.StepAwaitingDate,
			wantText: "no free times left on 2025-03-10",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			booker := newFakeBooker()
			booker.slots = tc.slots
			booker.create = func(booking.Request) (booking.Result, error) { return tc.result, nil }
			e, store := newTestEngine(booker)
			advanceTo(t, e, session.StepAwaitingConfirmation)

			reply := say(t, e, withChoice(ChoiceYes))
			assert.Equal(t, tc.wantStep, reply.Step)
			require.Len(t, reply.Prompts, 1)
			assert.Contains(t, reply.Prompts[0].Text, tc.wantText)

			sess, err := store.Lookup(context.Background(), chatAddress)
			require.NoError(t, err)
			assert.Equal(t, "Asha", sess.Draft.PatientName)
		})
	}
}

func TestEngineCollaboratorErrorPreservesSession(t *testing.T) {
	booker := newFakeBooker()
	booker.create = func(booking.Request) (booking.Result, error) {
		return booking.Result{Reason: availability.ReasonError}, errors.New("db down")
	}
	e, store := newTestEngine(booker)
	advanceTo(t, e, session.StepAwaitingConfirmation)

	reply, err := e.Handle(context.Background(), withChoice(ChoiceYes))
	require.Error(t, err)
	assert.Equal(t, session.StepAwaitingConfirmation, reply.Step)
	assert.Equal(t, []string{msg(session.LanguageEnglish, msgApology)}, reply.Texts())

	sess, err := store.Lookup(context.Background(), chatAddress)
	require.NoError(t, err)
	assert.Equal(t, session.StepAwaitingConfirmation, sess.Step)
	assert.Equal(t, "2025-03-10", sess.Draft.Date)
}

func TestEngineSlotLockedAsksToConfirmAgain(t *testing.T) {
	booker := newFakeBooker()
	booker.create = func(booking.Request) (booking.Result, error) { return booking.Result{}, booking.ErrSlotLocked }
	e, _ := newTestEngine(booker)
	advanceTo(t, e, session.StepAwaitingConfirmation)

	reply := say(t, e, withChoice(ChoiceYes))
	assert.Equal(t, session.StepAwaitingConfirmation, reply.Step)
	assert.Equal(t, msg(session.LanguageEnglish, msgSlotBusy), reply.Prompts[0].Text)
}

func TestEngineRecoversFromUnknownStep(t *testing.T) {
	e, store := newTestEngine(newFakeBooker())
	_, err := store.Update(context.Background(), chatAddress, func(s *session.Session) {
		s.Step = session.ParseStep("awaiting_payment")
		s.Draft.PatientName = "stale"
	})
	require.NoError(t, err)

	reply := say(t, e, withText("hello"))
	assert.Equal(t, session.StepAwaitingLanguage, reply.Step)

	sess, err := store.Lookup(context.Background(), chatAddress)
	require.NoError(t, err)
	assert.Empty(t, sess.Draft.PatientName)
}

func TestEngineCancelFlowChat(t *testing.T) {
	booker := newFakeBooker()
	booker.upcoming = &booking.Appointment{ID: bookedID, PatientName: "Asha", Date: "2025-03-10", Time: "10:00", Status: booking.StatusConfirmed}
	e, store := newTestEngine(booker)
	advanceTo(t, e, session.StepMainMenu)

	reply := say(t, e, withChoice(ChoiceCancel))
	assert.Equal(t, session.StepAwaitingCancelLookup, reply.Step)

	reply = say(t, e, withText("10/03/2025"))
	assert.Equal(t, session.StepAwaitingCancelConfirmation, reply.Step)
	assert.Contains(t, reply.Prompts[0].Text, "Asha on 2025-03-10 at 10:00")
	assert.Equal(t, []findCall{{"clinic-1", chatAddress, "2025-03-10"}}, booker.finds)

	reply = say(t, e, withText("yes"))
	assert.Equal(t, []string{msg(session.LanguageEnglish, msgCancelled)}, reply.Texts())
	assert.Equal(t, "cancelled by patient via whatsapp", booker.cancelled[bookedID])

	_, err := store.Lookup(context.Background(), chatAddress)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestEngineCancelDeclinedKeepsAppointment(t *testing.T) {
	booker := newFakeBooker()
	booker.upcoming = &booking.Appointment{ID: bookedID, PatientName: "Asha", Date: "2025-03-10", Time: "10:00"}
	e, _ := newTestEngine(booker)
	advanceTo(t, e, session.StepMainMenu)
	say(t, e, withChoice(ChoiceCancel))
	say(t, e, withText("any"))

	reply := say(t, e, withChoice(ChoiceNo))
	assert.Equal(t, session.StepMainMenu, reply.Step)
	assert.Equal(t, msg(session.LanguageEnglish, msgCancelKept), reply.Prompts[0].Text)
	assert.Empty(t, booker.cancelled)
	assert.Equal(t, "", booker.finds[0].date)
}

func TestEngineCancelLookupGivesUpAfterOneRetry(t *testing.T) {
	booker := newFakeBooker()
	e, _ := newTestEngine(booker)
	advanceTo(t, e, session.StepMainMenu)
	say(t, e, withChoice(ChoiceCancel))

	reply := say(t, e, withText("ANY"))
	assert.Equal(t, session.StepAwaitingCancelLookup, reply.Step)
	assert.Equal(t, []string{msg(session.LanguageEnglish, msgCancelNotFound)}, reply.Texts())

	reply = say(t, e, withText("not a date"))
	assert.Equal(t, session.StepMainMenu, reply.Step)
	assert.Equal(t, msg(session.LanguageEnglish, msgCancelGiveUp), reply.Prompts[0].Text)
	assert.Len(t, booker.finds, 1)
}

func voiceTurn(digits string) Turn {
	return Turn{Channel: session.ChannelVoice, Address: "CA123", ClinicID: "clinic-1", PatientPhone: "+919811111111", Digits: digits}
}

func TestEngineVoiceBookingFlow(t *testing.T) {
	booker := newFakeBooker()
	confirmer := &recordingConfirmer{}
	e, _ := newTestEngine(booker, WithConfirmer(confirmer))

	reply := say(t, e, voiceTurn(""))
	assert.Equal(t, Expect{Input: InputDigits, NumDigits: 1}, reply.Expect)
	assert.Equal(t, PromptText, reply.Prompts[0].Kind)

	reply = say(t, e, voiceTurn("2"))
	assert.Equal(t, session.StepMainMenu, reply.Step)
	assert.Contains(t, SpokenPrompt(reply.Prompts[0]), "1 ಒತ್ತಿ")

	reply = say(t, e, voiceTurn("1"))
	assert.Equal(t, Expect{Input: InputRecording}, reply.Expect)

	name := voiceTurn("")
	name.RecordingURL = "https://api.twilio.com/rec/RE1"
	reply = say(t, e, name)
	assert.Equal(t, Expect{Input: InputDigits, NumDigits: 8}, reply.Expect)

	reply = say(t, e, voiceTurn("10032025"))
	assert.Equal(t, Expect{Input: InputDigits, NumDigits: 4}, reply.Expect)

	reply = say(t, e, voiceTurn("1030"))
	assert.Equal(t, session.StepAwaitingConfirmation, reply.Step)

	reply = say(t, e, voiceTurn("1"))
	assert.True(t, reply.Hangup)
	assert.Contains(t, reply.Prompts[0].Text, "3f2b8c1e")

	require.Len(t, booker.requests, 1)
	req := booker.requests[0]
	assert.Equal(t, "Patient", req.PatientName)
	assert.Equal(t, "+919811111111", req.PatientPhone)
	assert.Equal(t, "10:30", req.Time)
	assert.Equal(t, session.LanguageKannada, req.Language)
	assert.True(t, strings.HasSuffix(req.Notes, "RE1"))
	assert.Len(t, confirmer.sent, 1)
}

func TestEngineVoiceCancelNormalizesKeyedPhone(t *testing.T) {
	booker := newFakeBooker()
	booker.upcoming = &booking.Appointment{ID: bookedID, PatientName: "Asha", Date: "2025-03-10", Time: "10:00"}
	e, _ := newTestEngine(booker)
	say(t, e, voiceTurn(""))
	say(t, e, voiceTurn("1"))

	reply := say(t, e, voiceTurn("2"))
	assert.Equal(t, Expect{Input: InputDigits, NumDigits: 10}, reply.Expect)

	reply = say(t, e, voiceTurn("9876543210"))
	assert.Equal(t, session.StepAwaitingCancelConfirmation, reply.Step)
	assert.Equal(t, []findCall{{"clinic-1", "+919876543210", ""}}, booker.finds)

	reply = say(t, e, voiceTurn("1"))
	assert.True(t, reply.Hangup)
	assert.Equal(t, "cancelled by patient via voice", booker.cancelled[bookedID])
}
