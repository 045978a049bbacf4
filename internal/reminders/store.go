package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/clinic-booking-assistant/internal/booking"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store persists reminders in Postgres.
type Store struct {
	db  DB
	now func() time.Time
}

func NewStore(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Create inserts a pending reminder.
func (s *Store) Create(ctx context.Context, r *Reminder) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = s.now().UTC()
	if r.Status == "" {
		r.Status = StatusPending
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO reminders (id, appointment_id, scheduled_for, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.AppointmentID, r.ScheduledFor, string(r.Status), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("reminders: create: %w", err)
	}
	return nil
}

// ListDue returns up to limit pending reminders scheduled at or before asOf,
// oldest first, joined with their appointment.
func (s *Store) ListDue(ctx context.Context, asOf time.Time, limit int) ([]Due, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	rows, err := s.db.Query(ctx, `
		SELECT r.id, r.appointment_id, r.scheduled_for, r.status, r.created_at,
			a.clinic_id, a.patient_name, a.patient_phone, a.appointment_date::text,
			to_char(a.appointment_time, 'HH24:MI'), a.duration_minutes, a.status, a.created_via, a.language
		FROM reminders r
		LEFT JOIN appointments a ON a.id = r.appointment_id
		WHERE r.status = 'pending' AND r.scheduled_for <= $1
		ORDER BY r.scheduled_for ASC
		LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("reminders: list due: %w", err)
	}
	defer rows.Close()

	var out []Due
	for rows.Next() {
		var d Due
		var status string
		var clinicID, name, phone, date, clock, apptStatus, via, lang *string
		var minutes *int
		err := rows.Scan(
			&d.Reminder.ID, &d.Reminder.AppointmentID, &d.Reminder.ScheduledFor, &status, &d.Reminder.CreatedAt,
			&clinicID, &name, &phone, &date,
			&clock, &minutes, &apptStatus, &via, &lang,
		)
		if err != nil {
			return nil, fmt.Errorf("reminders: scan due: %w", err)
		}
		d.Reminder.Status = Status(status)
		if clinicID != nil {
			d.Appointment = &booking.Appointment{
				ID:           d.Reminder.AppointmentID,
				ClinicID:     *clinicID,
				PatientName:  deref(name),
				PatientPhone: deref(phone),
				Date:         deref(date),
				Time:         deref(clock),
				Status:       booking.Status(deref(apptStatus)),
				CreatedVia:   session.Channel(deref(via)),
				Language:     session.ParseLanguage(deref(lang)),
			}
			if minutes != nil {
				d.Appointment.DurationMinutes = *minutes
			}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reminders: iterate due: %w", err)
	}
	return out, nil
}

// MarkSent transitions a pending reminder to sent.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminders SET status = 'sent', sent_at = $1, provider_message_id = $2
		WHERE id = $3 AND status = 'pending'`, s.now().UTC(), providerMessageID, id)
	if err != nil {
		return fmt.Errorf("reminders: mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reminders: mark sent: no pending reminder with id %s", id)
	}
	return nil
}

// MarkFailed transitions a pending reminder to failed with the error text.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reminders SET status = 'failed', error_message = $1
		WHERE id = $2 AND status = 'pending'`, reason, id)
	if err != nil {
		return fmt.Errorf("reminders: mark failed: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Stats counts a clinic's reminders by status.
type Stats struct {
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// ListByClinic returns a clinic's most recent reminders, optionally filtered by status.
func (s *Store) ListByClinic(ctx context.Context, clinicID string, status Status, limit int) ([]Reminder, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT r.id, r.appointment_id, r.scheduled_for, r.status, r.sent_at,
			COALESCE(r.provider_message_id, ''), COALESCE(r.error_message, ''), r.created_at
		FROM reminders r
		JOIN appointments a ON a.id = r.appointment_id
		WHERE a.clinic_id = $1`
	args := []any{clinicID}
	if status != "" {
		query += ` AND r.status = $2`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY r.scheduled_for DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reminders: list by clinic: %w", err)
	}
	defer rows.Close()

	out := []Reminder{}
	for rows.Next() {
		var r Reminder
		var st string
		if err := rows.Scan(&r.ID, &r.AppointmentID, &r.ScheduledFor, &st, &r.SentAt,
			&r.ProviderMessageID, &r.ErrorMessage, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("reminders: scan reminder: %w", err)
		}
		r.Status = Status(st)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats aggregates reminder outcomes for the dashboard.
func (s *Store) Stats(ctx context.Context, clinicID string) (*Stats, error) {
	rows, err := s.db.Query(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE r.status = 'pending'),
			COUNT(*) FILTER (WHERE r.status = 'sent'),
			COUNT(*) FILTER (WHERE r.status = 'failed')
		FROM reminders r
		JOIN appointments a ON a.id = r.appointment_id
		WHERE a.clinic_id = $1`, clinicID)
	if err != nil {
		return nil, fmt.Errorf("reminders: stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	if rows.Next() {
		if err := rows.Scan(&stats.Pending, &stats.Sent, &stats.Failed); err != nil {
			return nil, fmt.Errorf("reminders: stats: %w", err)
		}
	}
	return &stats, rows.Err()
}
