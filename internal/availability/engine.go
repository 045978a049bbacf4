package availability

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// DefaultDuration is used when a caller passes a zero duration.
const DefaultDuration = 30 * time.Minute

// Reason explains a negative availability result.
type Reason string

const (
	ReasonClinicClosed Reason = "clinic_closed"
	ReasonOutsideHours Reason = "outside_hours"
	ReasonSlotBooked   Reason = "slot_booked"
	ReasonError        Reason = "error"
)

// Result is the outcome of CheckAvailability.
type Result struct {
	Available    bool     `json:"available"`
	Reason       Reason   `json:"reason,omitempty"`
	Detail       string   `json:"detail,omitempty"`
	WorkingHours []string `json:"working_hours,omitempty"`
}

// Window is one recurring working-hours block of a clinic.
type Window struct {
	Start       TimeOfDay
	End         TimeOfDay
	Granularity time.Duration
}

func (w Window) contains(t TimeOfDay) bool {
	return t >= w.Start && t < w.End
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// Booking is an occupied interval on a given day.
type Booking struct {
	Start    TimeOfDay
	Duration time.Duration
}

// SlotSource returns the active windows of a clinic for a weekday.
type SlotSource interface {
	ActiveWindows(ctx context.Context, clinicID string, weekday time.Weekday) ([]Window, error)
}

// BookingSource returns confirmed appointments of a clinic on a date.
type BookingSource interface {
	ConfirmedBookings(ctx context.Context, clinicID string, date time.Time) ([]Booking, error)
}

// Checker is the read side the booking service and adapters depend on.
type Checker interface {
	CheckAvailability(ctx context.Context, clinicID, date, clock string, duration time.Duration) (Result, error)
	GetAvailableSlots(ctx context.Context, clinicID, date string) ([]string, error)
}

// Engine decides whether a clinic can take an appointment.
type Engine struct {
	slots    SlotSource
	bookings BookingSource
	margin   time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSafetyMargin widens the requested interval on both sides when looking for
// conflicts. A margin equal to the appointment duration reproduces the
// symmetric ±duration buffer.
func WithSafetyMargin(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.margin = d
		}
	}
}

func NewEngine(slots SlotSource, bookings BookingSource, opts ...EngineOption) *Engine {
	e := &Engine{slots: slots, bookings: bookings}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckAvailability reports whether clock on date is bookable for duration.
// Malformed input and source failures return an error with Reason set to ReasonError.
func (e *Engine) CheckAvailability(ctx context.Context, clinicID, date, clock string, duration time.Duration) (Result, error) {
	day, err := ParseDate(date)
	if err != nil {
		return Result{Reason: ReasonError, Detail: err.Error()}, err
	}
	start, err := ParseTimeOfDay(clock)
	if err != nil {
		return Result{Reason: ReasonError, Detail: err.Error()}, err
	}
	if duration <= 0 {
		duration = DefaultDuration
	}

	windows, err := e.slots.ActiveWindows(ctx, clinicID, day.Weekday())
	if err != nil {
		return Result{Reason: ReasonError}, fmt.Errorf("availability: load windows: %w", err)
	}
	if len(windows) == 0 {
		return Result{Reason: ReasonClinicClosed}, nil
	}

	if !anyContains(windows, start) {
		return Result{
			Reason:       ReasonOutsideHours,
			WorkingHours: workingHours(windows),
		}, nil
	}

	booked, err := e.bookings.ConfirmedBookings(ctx, clinicID, day)
	if err != nil {
		return Result{Reason: ReasonError}, fmt.Errorf("availability: load bookings: %w", err)
	}
	if b, ok := e.conflict(booked, start, duration); ok {
		return Result{
			Reason: ReasonSlotBooked,
			Detail: fmt.Sprintf("overlaps appointment at %s", b.Start),
		}, nil
	}
	return Result{Available: true}, nil
}

// GetAvailableSlots lists bookable start times on date, ascending and unique.
// A time is listed only if CheckAvailability would accept it with the default duration.
func (e *Engine) GetAvailableSlots(ctx context.Context, clinicID, date string) ([]string, error) {
	day, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	windows, err := e.slots.ActiveWindows(ctx, clinicID, day.Weekday())
	if err != nil {
		return nil, fmt.Errorf("availability: load windows: %w", err)
	}
	if len(windows) == 0 {
		return []string{}, nil
	}
	booked, err := e.bookings.ConfirmedBookings(ctx, clinicID, day)
	if err != nil {
		return nil, fmt.Errorf("availability: load bookings: %w", err)
	}

	seen := make(map[TimeOfDay]struct{})
	for _, w := range windows {
		step := w.Granularity
		if step <= 0 {
			step = DefaultDuration
		}
		for t := w.Start; t < w.End; t = t.Add(step) {
			if _, ok := e.conflict(booked, t, DefaultDuration); ok {
				continue
			}
			seen[t] = struct{}{}
		}
	}

	starts := make([]TimeOfDay, 0, len(seen))
	for t := range seen {
		starts = append(starts, t)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	out := make([]string, len(starts))
	for i, t := range starts {
		out[i] = t.String()
	}
	return out, nil
}

// conflict uses half-open intervals: [a, a+d) and [b, b+e) overlap iff a < b+e && b < a+d.
func (e *Engine) conflict(booked []Booking, start TimeOfDay, duration time.Duration) (Booking, bool) {
	reqStart := start.Add(-e.margin)
	reqEnd := start.Add(duration + e.margin)
	for _, b := range booked {
		d := b.Duration
		if d <= 0 {
			d = DefaultDuration
		}
		if b.Start < reqEnd && reqStart < b.Start.Add(d) {
			return b, true
		}
	}
	return Booking{}, false
}

func anyContains(windows []Window, t TimeOfDay) bool {
	for _, w := range windows {
		if w.contains(t) {
			return true
		}
	}
	return false
}

func workingHours(windows []Window) []string {
	sorted := append([]Window(nil), windows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	out := make([]string, len(sorted))
	for i, w := range sorted {
		out[i] = w.String()
	}
	return out
}
