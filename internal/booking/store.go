package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/clinic-booking-assistant/internal/availability"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const appointmentColumns = `id, clinic_id, patient_name, patient_phone, appointment_date::text,
	to_char(appointment_time, 'HH24:MI'), duration_minutes, status, created_via, language,
	COALESCE(notes, ''), COALESCE(cancellation_reason, ''), cancelled_at, created_at, updated_at`

// Store persists appointments in Postgres.
type Store struct {
	db  DB
	now func() time.Time
}

func NewStore(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Insert writes a confirmed appointment, assigning id and timestamps.
func (s *Store) Insert(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := s.now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = StatusConfirmed
	}
	if a.DurationMinutes <= 0 {
		a.DurationMinutes = int(availability.DefaultDuration / time.Minute)
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO appointments (id, clinic_id, patient_name, patient_phone, appointment_date, appointment_time,
			duration_minutes, status, created_via, language, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::date, $6::time, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.ClinicID, a.PatientName, a.PatientPhone, a.Date, a.Time,
		a.DurationMinutes, string(a.Status), string(a.CreatedVia), string(a.Language), a.Notes, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("booking: insert appointment: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("booking: get appointment: %w", err)
	}
	return a, nil
}

// Cancel moves a confirmed appointment to cancelled. It reports false when
// no confirmed row matched (missing or already cancelled).
func (s *Store) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, bool, error) {
	now := s.now().UTC()
	row := s.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled', cancellation_reason = $1, cancelled_at = $2, updated_at = $2
		WHERE id = $3 AND status = 'confirmed'
		RETURNING `+appointmentColumns, reason, now, id)
	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("booking: cancel appointment: %w", err)
	}
	return a, true, nil
}

// FindUpcomingByPhone returns the earliest confirmed appointment for phone on
// or after today, optionally restricted to one date.
func (s *Store) FindUpcomingByPhone(ctx context.Context, clinicID, phone, date string, today string) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE clinic_id = $1 AND patient_phone = $2 AND status = 'confirmed' AND appointment_date >= $3::date`
	args := []any{clinicID, phone, today}
	if date != "" {
		query += ` AND appointment_date = $4::date`
		args = append(args, date)
	}
	query += ` ORDER BY appointment_date, appointment_time LIMIT 1`

	a, err := scanAppointment(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("booking: find by phone: %w", err)
	}
	return a, nil
}

// ConfirmedBookings implements availability.BookingSource.
func (s *Store) ConfirmedBookings(ctx context.Context, clinicID string, date time.Time) ([]availability.Booking, error) {
	rows, err := s.db.Query(ctx, `
		SELECT to_char(appointment_time, 'HH24:MI'), duration_minutes
		FROM appointments
		WHERE clinic_id = $1 AND appointment_date = $2::date AND status = 'confirmed'`,
		clinicID, date.Format(availability.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("booking: confirmed bookings: %w", err)
	}
	defer rows.Close()

	var out []availability.Booking
	for rows.Next() {
		var clock string
		var minutes int
		if err := rows.Scan(&clock, &minutes); err != nil {
			return nil, fmt.Errorf("booking: scan booking: %w", err)
		}
		start, err := availability.ParseTimeOfDay(clock)
		if err != nil {
			return nil, fmt.Errorf("booking: scan booking: %w", err)
		}
		out = append(out, availability.Booking{Start: start, Duration: time.Duration(minutes) * time.Minute})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("booking: iterate bookings: %w", err)
	}
	return out, nil
}

// List returns one page of a clinic's appointments, newest date first.
func (s *Store) List(ctx context.Context, clinicID string, f ListFilter) (Page, error) {
	f.normalize()

	where := []string{"clinic_id = $1"}
	args := []any{clinicID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Date != "" {
		args = append(args, f.Date)
		where = append(where, fmt.Sprintf("appointment_date = $%d::date", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE `+cond, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("booking: count appointments: %w", err)
	}

	pageArgs := append(append([]any(nil), args...), f.Limit, (f.Page-1)*f.Limit)
	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM appointments WHERE %s
		ORDER BY appointment_date DESC, appointment_time DESC LIMIT $%d OFFSET $%d`,
		appointmentColumns, cond, len(args)+1, len(args)+2), pageArgs...)
	if err != nil {
		return Page{}, fmt.Errorf("booking: list appointments: %w", err)
	}
	defer rows.Close()

	page := Page{Appointments: []Appointment{}, Page: f.Page, Limit: f.Limit, Total: total}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return Page{}, fmt.Errorf("booking: scan appointment: %w", err)
		}
		page.Appointments = append(page.Appointments, *a)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("booking: iterate appointments: %w", err)
	}
	page.TotalPages = (total + f.Limit - 1) / f.Limit
	return page, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status, via, lang string
	err := row.Scan(
		&a.ID, &a.ClinicID, &a.PatientName, &a.PatientPhone, &a.Date,
		&a.Time, &a.DurationMinutes, &status, &via, &lang,
		&a.Notes, &a.CancellationReason, &a.CancelledAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	a.CreatedVia = session.Channel(via)
	a.Language = session.ParseLanguage(lang)
	return &a, nil
}
