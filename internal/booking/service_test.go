package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-assistant/internal/availability"
	"github.com/wolfman30/clinic-booking-assistant/internal/clinic"
	"github.com/wolfman30/clinic-booking-assistant/internal/events"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
)

// memoryStore is an in-memory appointmentStore that also serves as the
// availability engine's booking source.
type memoryStore struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*Appointment
	err   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{appts: map[uuid.UUID]*Appointment{}}
}

func (m *memoryStore) Insert(_ context.Context, a *Appointment) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *memoryStore) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memoryStore) Cancel(_ context.Context, id uuid.UUID, reason string) (*Appointment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != StatusConfirmed {
		return nil, false, nil
	}
	now := time.Now()
	a.Status = StatusCancelled
	a.CancellationReason = reason
	a.CancelledAt = &now
	cp := *a
	return &cp, true, nil
}

func (m *memoryStore) FindUpcomingByPhone(_ context.Context, clinicID, phone, date, today string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Appointment
	for _, a := range m.appts {
		if a.ClinicID != clinicID || a.PatientPhone != phone || a.Status != StatusConfirmed || a.Date < today {
			continue
		}
		if date != "" && a.Date != date {
			continue
		}
		if best == nil || a.Date+a.Time < best.Date+best.Time {
			best = a
		}
	}
	if best == nil {
		return nil, ErrAppointmentNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memoryStore) List(context.Context, string, ListFilter) (Page, error) {
	return Page{}, nil
}

func (m *memoryStore) ConfirmedBookings(_ context.Context, clinicID string, date time.Time) ([]availability.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []availability.Booking
	for _, a := range m.appts {
		if a.ClinicID == clinicID && a.Date == date.Format(availability.DateLayout) && a.Status == StatusConfirmed {
			out = append(out, availability.Booking{Start: availability.MustTimeOfDay(a.Time), Duration: a.Duration()})
		}
	}
	return out, nil
}

type weekdaySlots struct{}

func (weekdaySlots) ActiveWindows(_ context.Context, _ string, day time.Weekday) ([]availability.Window, error) {
	if day == time.Sunday {
		return nil, nil
	}
	return []availability.Window{{
		Start:       availability.MustTimeOfDay("09:00"),
		End:         availability.MustTimeOfDay("17:00"),
		Granularity: 30 * time.Minute,
	}}, nil
}

type recordingScheduler struct {
	calls []time.Time
	err   error
}

func (r *recordingScheduler) Schedule(_ context.Context, _ uuid.UUID, at time.Time) error {
	r.calls = append(r.calls, at)
	return r.err
}

type recordingEvents struct {
	types []string
}

func (r *recordingEvents) Record(_ context.Context, _ string, eventType string, _ any) error {
	r.types = append(r.types, eventType)
	return nil
}

type recordingOutcomes struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingOutcomes) ObserveBooking(_ string, outcome string) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()
}

type fixedClinics struct{ tz string }

func (f fixedClinics) GetByID(_ context.Context, id string) (*clinic.Clinic, error) {
	return &clinic.Clinic{ID: id, Timezone: f.tz}, nil
}

func fixedNow() time.Time {
	return time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
}

func newTestService(store *memoryStore, opts ...Option) *Service {
	engine := availability.NewEngine(weekdaySlots{}, store)
	opts = append([]Option{WithClock(fixedNow)}, opts...)
	return NewService(store, engine, nil, opts...)
}

func bookingRequest(clock string) Request {
	return Request{
		ClinicID:     "clinic-blr",
		PatientName:  "Asha",
		PatientPhone: "+919800000001",
		Date:         "2025-03-10",
		Time:         clock,
		Language:     session.LanguageKannada,
		Channel:      session.ChannelWhatsApp,
	}
}

func TestCreateAppointmentSchedulesReminderAndRecordsEvent(t *testing.T) {
	store := newMemoryStore()
	reminders := &recordingScheduler{}
	evts := &recordingEvents{}
	outcomes := &recordingOutcomes{}
	svc := newTestService(store,
		WithReminderScheduler(reminders),
		WithEventRecorder(evts),
		WithOutcomeRecorder(outcomes),
		WithClinicLookup(fixedClinics{tz: "Asia/Kolkata"}),
	)

	res, err := svc.CreateAppointment(context.Background(), bookingRequest("10:00"))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, StatusConfirmed, res.Appointment.Status)
	assert.Equal(t, 30, res.Appointment.DurationMinutes)
	assert.Equal(t, session.LanguageKannada, res.Appointment.Language)

	require.Len(t, reminders.calls, 1)
	// 2025-03-10 10:00 IST is 04:30 UTC; minus 24h.
	assert.Equal(t, time.Date(2025, 3, 9, 4, 30, 0, 0, time.UTC), reminders.calls[0])
	assert.Equal(t, []string{events.TypeAppointmentBooked}, evts.types)
	assert.Equal(t, []string{"booked"}, outcomes.outcomes)
}

func TestCreateAppointmentReturnsNegativeAvailabilityVerbatim(t *testing.T) {
	store := newMemoryStore()
	reminders := &recordingScheduler{}
	svc := newTestService(store, WithReminderScheduler(reminders))
	ctx := context.Background()

	_, err := svc.CreateAppointment(ctx, bookingRequest("10:00"))
	require.NoError(t, err)

	res, err := svc.CreateAppointment(ctx, bookingRequest("10:00"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, availability.ReasonSlotBooked, res.Reason)

	res, err = svc.CreateAppointment(ctx, bookingRequest("18:00"))
	require.NoError(t, err)
	assert.Equal(t, availability.ReasonOutsideHours, res.Reason)
	assert.Equal(t, []string{"09:00-17:00"}, res.WorkingHours)

	sunday := bookingRequest("10:00")
	sunday.Date = "2025-03-09"
	res, err = svc.CreateAppointment(ctx, sunday)
	require.NoError(t, err)
	assert.Equal(t, availability.ReasonClinicClosed, res.Reason)

	assert.Len(t, store.appts, 1)
	assert.Len(t, reminders.calls, 1)
}

func TestCreateAppointmentSurvivesReminderFailure(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, WithReminderScheduler(&recordingScheduler{err: errors.New("db timeout")}))

	res, err := svc.CreateAppointment(context.Background(), bookingRequest("11:00"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, store.appts, 1)
}

func TestCreateAppointmentMalformedInput(t *testing.T) {
	svc := newTestService(newMemoryStore())

	res, err := svc.CreateAppointment(context.Background(), bookingRequest("10:00 AM"))
	assert.ErrorIs(t, err, availability.ErrInvalidTime)
	assert.Equal(t, availability.ReasonError, res.Reason)

	req := bookingRequest("10:00")
	req.PatientPhone = ""
	_, err = svc.CreateAppointment(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCreateAppointmentInsertFailure(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("connection reset")
	svc := newTestService(store)

	res, err := svc.CreateAppointment(context.Background(), bookingRequest("10:00"))
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, availability.ReasonError, res.Reason)
}

func TestConcurrentBookingsOfSameSlotYieldOneAppointment(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = svc.CreateAppointment(context.Background(), bookingRequest("15:00"))
		}(i)
	}
	wg.Wait()

	booked := 0
	for _, r := range results {
		if r.Success {
			booked++
		} else {
			assert.Equal(t, availability.ReasonSlotBooked, r.Reason)
		}
	}
	assert.Equal(t, 1, booked)
}

func TestCancelAppointmentIsNoOpWhenRepeated(t *testing.T) {
	store := newMemoryStore()
	evts := &recordingEvents{}
	svc := newTestService(store, WithEventRecorder(evts))
	ctx := context.Background()

	res, err := svc.CreateAppointment(ctx, bookingRequest("10:00"))
	require.NoError(t, err)
	id := res.Appointment.ID

	first, err := svc.CancelAppointment(ctx, id, "patient request")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, first.Status)
	require.NotNil(t, first.CancelledAt)

	second, err := svc.CancelAppointment(ctx, id, "second attempt")
	require.NoError(t, err)
	assert.Equal(t, "patient request", second.CancellationReason)
	assert.Equal(t, *first.CancelledAt, *second.CancelledAt)

	fetched, err := svc.GetAppointment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, fetched.Status)
	assert.NotNil(t, fetched.CancelledAt)

	assert.Equal(t, []string{events.TypeAppointmentBooked, events.TypeAppointmentCancelled}, evts.types)

	_, err = svc.CancelAppointment(ctx, uuid.New(), "x")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestFindUpcomingByPhone(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	ctx := context.Background()

	later := bookingRequest("12:00")
	later.Date = "2025-03-11"
	_, err := svc.CreateAppointment(ctx, later)
	require.NoError(t, err)
	_, err = svc.CreateAppointment(ctx, bookingRequest("09:30"))
	require.NoError(t, err)

	appt, err := svc.FindUpcomingByPhone(ctx, "clinic-blr", "+919800000001", "")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", appt.Date)

	appt, err = svc.FindUpcomingByPhone(ctx, "clinic-blr", "+919800000001", "2025-03-11")
	require.NoError(t, err)
	assert.Equal(t, "12:00", appt.Time)

	_, err = svc.FindUpcomingByPhone(ctx, "clinic-blr", "+910000000000", "")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestRedisLockerRejectsWhileHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := NewRedisLocker(client, time.Second)
	locker.attempts = 2
	locker.backoff = time.Millisecond
	ctx := context.Background()

	err := locker.WithSlotLock(ctx, "clinic-blr:2025-03-10", func(ctx context.Context) error {
		assert.True(t, mr.Exists("lock:slot:clinic-blr:2025-03-10"))
		inner := locker.WithSlotLock(ctx, "clinic-blr:2025-03-10", func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrSlotLocked)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:slot:clinic-blr:2025-03-10"))
}

func TestRedisLockerDoesNotReleaseForeignToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := NewRedisLocker(client, time.Second)

	err := locker.WithSlotLock(context.Background(), "k", func(context.Context) error {
		// Simulate expiry and takeover by another holder.
		return mr.Set("lock:slot:k", "someone-else")
	})
	require.NoError(t, err)
	got, err := mr.Get("lock:slot:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestLocalLockerSerialisesAndForgetsIdleKeys(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithSlotLock(ctx, "clinic-blr:2025-03-10", func(context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)

	for d := 1; d <= 30; d++ {
		key := "clinic-blr:" + time.Date(2025, 4, d, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
		require.NoError(t, locker.WithSlotLock(ctx, key, func(context.Context) error {
			assert.Equal(t, 1, locker.size())
			return nil
		}))
	}
	assert.Equal(t, 0, locker.size())
}
