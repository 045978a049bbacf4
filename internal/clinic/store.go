package clinic

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// Directory is the read side the channel adapters use to route inbound traffic.
type Directory interface {
	GetByID(ctx context.Context, id string) (*Clinic, error)
	GetByPhone(ctx context.Context, phone string) (*Clinic, error)
	GetByWhatsAppPhoneID(ctx context.Context, phoneID string) (*Clinic, error)
}

const clinicColumns = `id, name, phone, COALESCE(whatsapp_phone_id, ''), COALESCE(email, ''), COALESCE(address, ''),
	language_preference, timezone, active, created_at`

// Store reads clinics and availability slots from Postgres.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetByID(ctx context.Context, id string) (*Clinic, error) {
	return s.getOne(ctx, "id", `SELECT `+clinicColumns+` FROM clinics WHERE id = $1 AND active = TRUE`, id)
}

// GetByPhone matches the number a caller dialled.
func (s *Store) GetByPhone(ctx context.Context, phone string) (*Clinic, error) {
	return s.getOne(ctx, "phone", `SELECT `+clinicColumns+` FROM clinics WHERE phone = $1 AND active = TRUE`, phone)
}

// GetByWhatsAppPhoneID matches the business number id carried in WhatsApp webhooks.
func (s *Store) GetByWhatsAppPhoneID(ctx context.Context, phoneID string) (*Clinic, error) {
	return s.getOne(ctx, "whatsapp phone id", `SELECT `+clinicColumns+` FROM clinics WHERE whatsapp_phone_id = $1 AND active = TRUE`, phoneID)
}

func (s *Store) getOne(ctx context.Context, by, query string, arg string) (*Clinic, error) {
	var c Clinic
	var lang string
	err := s.db.QueryRow(ctx, query, arg).Scan(
		&c.ID, &c.Name, &c.Phone, &c.WhatsAppPhoneID, &c.Email, &c.Address,
		&lang, &c.Timezone, &c.Active, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("clinic: get by %s: %w", by, err)
	}
	c.DefaultLanguage = session.ParseLanguage(lang)
	return &c, nil
}

// ListSlots returns every slot of a clinic, inactive ones included.
func (s *Store) ListSlots(ctx context.Context, clinicID string) ([]AvailabilitySlot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id::text, clinic_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), slot_duration, is_active
		FROM availability_slots
		WHERE clinic_id = $1
		ORDER BY day_of_week, start_time`, clinicID)
	if err != nil {
		return nil, fmt.Errorf("clinic: list slots: %w", err)
	}
	defer rows.Close()
	return scanSlots(rows)
}

// ActiveWindows implements availability.SlotSource.
func (s *Store) ActiveWindows(ctx context.Context, clinicID string, weekday time.Weekday) ([]availability.Window, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id::text, clinic_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), slot_duration, is_active
		FROM availability_slots
		WHERE clinic_id = $1 AND day_of_week = $2 AND is_active = TRUE
		ORDER BY start_time`, clinicID, int(weekday))
	if err != nil {
		return nil, fmt.Errorf("clinic: active windows: %w", err)
	}
	defer rows.Close()

	slots, err := scanSlots(rows)
	if err != nil {
		return nil, err
	}
	windows := make([]availability.Window, 0, len(slots))
	for _, slot := range slots {
		w, err := slot.Window()
		if err != nil {
			return nil, fmt.Errorf("clinic: active windows: %w", err)
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// UpsertSlot creates or replaces a weekly slot.
func (s *Store) UpsertSlot(ctx context.Context, slot AvailabilitySlot) error {
	if _, err := slot.Window(); err != nil {
		return err
	}
	if slot.SlotDuration <= 0 {
		slot.SlotDuration = int(availability.DefaultDuration / time.Minute)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO availability_slots (clinic_id, day_of_week, start_time, end_time, slot_duration, is_active)
		VALUES ($1, $2, $3::time, $4::time, $5, $6)
		ON CONFLICT (clinic_id, day_of_week, start_time)
		DO UPDATE SET end_time = EXCLUDED.end_time, slot_duration = EXCLUDED.slot_duration, is_active = EXCLUDED.is_active`,
		slot.ClinicID, slot.DayOfWeek, slot.StartTime, slot.EndTime, slot.SlotDuration, slot.Active,
	)
	if err != nil {
		return fmt.Errorf("clinic: upsert slot: %w", err)
	}
	return nil
}

func scanSlots(rows pgx.Rows) ([]AvailabilitySlot, error) {
	var out []AvailabilitySlot
	for rows.Next() {
		var slot AvailabilitySlot
		if err := rows.Scan(&slot.ID, &slot.ClinicID, &slot.DayOfWeek, &slot.StartTime, &slot.EndTime, &slot.SlotDuration, &slot.Active); err != nil {
			return nil, fmt.Errorf("clinic: scan slot: %w", err)
		}
		out = append(out, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clinic: iterate slots: %w", err)
	}
	return out, nil
}
