package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-assistant/internal/availability"
	"github.com/wolfman30/clinic-booking-assistant/internal/clinic"
	"github.com/wolfman30/clinic-booking-assistant/internal/events"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// DefaultReminderLead is how far ahead of the appointment the reminder fires.
const DefaultReminderLead = 24 * time.Hour

// Booker is what channel adapters and the dashboard consume.
type Booker interface {
	CreateAppointment(ctx context.Context, req Request) (Result, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error)
	FindUpcomingByPhone(ctx context.Context, clinicID, phone, date string) (*Appointment, error)
	GetAvailableSlots(ctx context.Context, clinicID, date string) ([]string, error)
}

// ReminderScheduler creates the reminder row for a new appointment.
type ReminderScheduler interface {
	Schedule(ctx context.Context, appointmentID uuid.UUID, at time.Time) error
}

// EventRecorder writes appointment lifecycle events.
type EventRecorder interface {
	Record(ctx context.Context, clinicID, eventType string, payload any) error
}

// OutcomeRecorder counts booking attempts by outcome.
type OutcomeRecorder interface {
	ObserveBooking(channel, outcome string)
}

type appointmentStore interface {
	Insert(ctx context.Context, a *Appointment) error
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, bool, error)
	FindUpcomingByPhone(ctx context.Context, clinicID, phone, date, today string) (*Appointment, error)
	List(ctx context.Context, clinicID string, f ListFilter) (Page, error)
}

type clinicLookup interface {
	GetByID(ctx context.Context, id string) (*clinic.Clinic, error)
}

// Service orchestrates availability, persistence and reminder scheduling.
type Service struct {
	store        appointmentStore
	checker      availability.Checker
	locker       Locker
	reminders    ReminderScheduler
	events       EventRecorder
	outcomes     OutcomeRecorder
	clinics      clinicLookup
	reminderLead time.Duration
	duration     time.Duration
	now          func() time.Time
	logger       *logging.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithReminderScheduler(r ReminderScheduler) Option {
	return func(s *Service) { s.reminders = r }
}

func WithEventRecorder(e EventRecorder) Option {
	return func(s *Service) { s.events = e }
}

func WithOutcomeRecorder(o OutcomeRecorder) Option {
	return func(s *Service) { s.outcomes = o }
}

func WithClinicLookup(c clinicLookup) Option {
	return func(s *Service) { s.clinics = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithReminderLead overrides DefaultReminderLead.
func WithReminderLead(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.reminderLead = d
		}
	}
}

// WithDefaultDuration sets the duration used when a request leaves it empty.
func WithDefaultDuration(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.duration = d
		}
	}
}

func NewService(store appointmentStore, checker availability.Checker, logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		store:        store,
		checker:      checker,
		locker:       NewLocalLocker(),
		reminderLead: DefaultReminderLead,
		duration:     availability.DefaultDuration,
		now:          time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAppointment checks availability and inserts the appointment under a
// per clinic-day lock. A negative check is returned as Result.Reason.
func (s *Service) CreateAppointment(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{Reason: availability.ReasonError, Detail: err.Error()}, err
	}
	if req.Duration <= 0 {
		req.Duration = s.duration
	}

	var res Result
	err := s.locker.WithSlotLock(ctx, req.ClinicID+":"+req.Date, func(ctx context.Context) error {
		check, err := s.checker.CheckAvailability(ctx, req.ClinicID, req.Date, req.Time, req.Duration)
		if err != nil {
			res = Result{Reason: availability.ReasonError, Detail: check.Detail}
			return err
		}
		if !check.Available {
			res = Result{Reason: check.Reason, Detail: check.Detail, WorkingHours: check.WorkingHours}
			return nil
		}

		appt := &Appointment{
			ClinicID:        req.ClinicID,
			PatientName:     strings.TrimSpace(req.PatientName),
			PatientPhone:    strings.TrimSpace(req.PatientPhone),
			Date:            req.Date,
			Time:            req.Time,
			DurationMinutes: int(req.Duration / time.Minute),
			Status:          StatusConfirmed,
			CreatedVia:      req.Channel,
			Language:        req.Language.OrDefault(),
			Notes:           req.Notes,
		}
		if err := s.store.Insert(ctx, appt); err != nil {
			return err
		}
		res = Result{Success: true, Appointment: appt}
		return nil
	})
	if err != nil {
		s.observe(req, string(availability.ReasonError))
		if res.Reason == "" {
			res.Reason = availability.ReasonError
		}
		return res, err
	}
	if !res.Success {
		s.observe(req, string(res.Reason))
		return res, nil
	}

	s.observe(req, "booked")
	s.logger.Info("appointment booked",
		"appointment_id", res.Appointment.ID, "clinic_id", req.ClinicID,
		"date", req.Date, "time", req.Time, "channel", req.Channel)

	s.scheduleReminder(ctx, res.Appointment)
	s.record(ctx, events.TypeAppointmentBooked, res.Appointment)
	return res, nil
}

// CancelAppointment cancels a confirmed appointment. Cancelling an already
// cancelled appointment returns it unchanged.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	appt, changed, err := s.store.Cancel(ctx, id, strings.TrimSpace(reason))
	if err != nil {
		return nil, err
	}
	if !changed {
		existing, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("appointment already cancelled", "appointment_id", id)
		return existing, nil
	}
	s.logger.Info("appointment cancelled", "appointment_id", id, "clinic_id", appt.ClinicID)
	s.record(ctx, events.TypeAppointmentCancelled, appt)
	return appt, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.store.Get(ctx, id)
}

// FindUpcomingByPhone locates the earliest confirmed appointment from today on.
func (s *Service) FindUpcomingByPhone(ctx context.Context, clinicID, phone, date string) (*Appointment, error) {
	today := s.now().In(s.location(ctx, clinicID)).Format(availability.DateLayout)
	return s.store.FindUpcomingByPhone(ctx, clinicID, phone, date, today)
}

func (s *Service) ListAppointments(ctx context.Context, clinicID string, f ListFilter) (Page, error) {
	return s.store.List(ctx, clinicID, f)
}

func (s *Service) GetAvailableSlots(ctx context.Context, clinicID, date string) ([]string, error) {
	return s.checker.GetAvailableSlots(ctx, clinicID, date)
}

// scheduleReminder never fails the booking; errors are only logged.
func (s *Service) scheduleReminder(ctx context.Context, appt *Appointment) {
	if s.reminders == nil {
		return
	}
	start, err := appt.StartsAt(s.location(ctx, appt.ClinicID))
	if err != nil {
		s.logger.Error("failed to compute reminder time", "appointment_id", appt.ID, "error", err)
		return
	}
	at := start.Add(-s.reminderLead)
	if now := s.now(); at.Before(now) {
		at = now
	}
	if err := s.reminders.Schedule(ctx, appt.ID, at.UTC()); err != nil {
		s.logger.Error("failed to schedule reminder", "appointment_id", appt.ID, "error", err)
	}
}

func (s *Service) record(ctx context.Context, eventType string, appt *Appointment) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(ctx, appt.ClinicID, eventType, appt); err != nil {
		s.logger.Error("failed to record appointment event", "type", eventType, "appointment_id", appt.ID, "error", err)
	}
}

func (s *Service) observe(req Request, outcome string) {
	if s.outcomes != nil {
		s.outcomes.ObserveBooking(string(req.Channel), outcome)
	}
}

func (s *Service) location(ctx context.Context, clinicID string) *time.Location {
	if s.clinics == nil {
		return time.UTC
	}
	c, err := s.clinics.GetByID(ctx, clinicID)
	if err != nil {
		if !errors.Is(err, clinic.ErrNotFound) {
			s.logger.Warn("clinic lookup failed, using UTC", "clinic_id", clinicID, "error", err)
		}
		return time.UTC
	}
	return c.Location()
}

var _ Booker = (*Service)(nil)
