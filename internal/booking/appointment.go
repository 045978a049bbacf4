// Package booking owns appointments: creating them against the availability
// engine, cancelling them, and querying them for channels and the dashboard.
package booking

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-assistant/internal/availability"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
)

var (
	ErrAppointmentNotFound = errors.New("booking: appointment not found")
	ErrSlotLocked          = errors.New("booking: slot is being booked by another request")
	ErrInvalidRequest      = errors.New("booking: invalid request")
)

// Status is the appointment lifecycle state. Cancelled is terminal.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Appointment is a booked visit. Rows are never hard-deleted.
type Appointment struct {
	ID                 uuid.UUID        `json:"id"`
	ClinicID           string           `json:"clinic_id"`
	PatientName        string           `json:"patient_name"`
	PatientPhone       string           `json:"patient_phone"`
	Date               string           `json:"appointment_date"`
	Time               string           `json:"appointment_time"`
	DurationMinutes    int              `json:"duration_minutes"`
	Status             Status           `json:"status"`
	CreatedVia         session.Channel  `json:"created_via"`
	Language           session.Language `json:"language"`
	Notes              string           `json:"notes,omitempty"`
	CancellationReason string           `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time       `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Duration returns the booked length, defaulting to 30 minutes.
func (a *Appointment) Duration() time.Duration {
	if a.DurationMinutes <= 0 {
		return availability.DefaultDuration
	}
	return time.Duration(a.DurationMinutes) * time.Minute
}

// StartsAt combines date and time in loc.
func (a *Appointment) StartsAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(availability.DateLayout+" 15:04", a.Date+" "+a.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("booking: appointment %s start: %w", a.ID, err)
	}
	return t, nil
}

// ShortID is the human-facing reference sent in confirmations.
func (a *Appointment) ShortID() string {
	return a.ID.String()[:8]
}

// Request carries the fields needed to create an appointment.
type Request struct {
	ClinicID     string           `json:"clinic_id"`
	PatientName  string           `json:"patient_name"`
	PatientPhone string           `json:"patient_phone"`
	Date         string           `json:"date"`
	Time         string           `json:"time"`
	Duration     time.Duration    `json:"-"`
	Language     session.Language `json:"language"`
	Channel      session.Channel  `json:"channel"`
	Notes        string           `json:"notes,omitempty"`
}

func (r Request) validate() error {
	switch {
	case r.ClinicID == "":
		return fmt.Errorf("%w: clinic id required", ErrInvalidRequest)
	case r.PatientName == "":
		return fmt.Errorf("%w: patient name required", ErrInvalidRequest)
	case r.PatientPhone == "":
		return fmt.Errorf("%w: patient phone required", ErrInvalidRequest)
	}
	return nil
}

// Result is the outcome of CreateAppointment. A negative availability check is
// a result, not an error.
type Result struct {
	Success      bool                `json:"success"`
	Appointment  *Appointment        `json:"appointment,omitempty"`
	Reason       availability.Reason `json:"reason,omitempty"`
	Detail       string              `json:"detail,omitempty"`
	WorkingHours []string            `json:"working_hours,omitempty"`
}

// ListFilter narrows ListAppointments.
type ListFilter struct {
	Status Status
	Date   string
	Page   int
	Limit  int
}

func (f *ListFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
}

// Page is a page of appointments plus paging totals.
type Page struct {
	Appointments []Appointment `json:"appointments"`
	Page         int           `json:"page"`
	Limit        int           `json:"limit"`
	Total        int           `json:"total"`
	TotalPages   int           `json:"totalPages"`
}
