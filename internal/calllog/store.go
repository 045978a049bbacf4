package calllog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Status mirrors the Twilio CallStatus values.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no-answer"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// ErrNotFound is returned when no call log exists for a call sid.
var ErrNotFound = errors.New("calllog: not found")

// CallLog is one inbound voice call.
type CallLog struct {
	CallSID         string     `json:"callSid"`
	ClinicID        string     `json:"clinicId"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	Status          Status     `json:"status"`
	DurationSeconds int        `json:"durationSeconds"`
	Transcript      []string   `json:"transcript"`
	AppointmentID   string     `json:"appointmentId,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
}

// Terminal reports whether the status ends a call.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusNoAnswer, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Page is a page of call logs.
type Page struct {
	Calls      []CallLog `json:"calls"`
	Page       int       `json:"page"`
	Limit      int       `json:"limit"`
	Total      int       `json:"total"`
	TotalPages int       `json:"totalPages"`
}

// Store persists call logs in Postgres through database/sql.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const selectColumns = `call_sid, clinic_id, from_number, to_number, status, duration_seconds,
	       transcript, COALESCE(appointment_id::text, ''), started_at, ended_at`

// Insert records a new call. A repeated call sid is ignored.
func (s *Store) Insert(ctx context.Context, c *CallLog) error {
	if c.StartedAt.IsZero() {
		c.StartedAt = s.now().UTC()
	}
	if c.Status == "" {
		c.Status = StatusInProgress
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_logs (call_sid, clinic_id, from_number, to_number, status, transcript, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (call_sid) DO NOTHING`,
		c.CallSID, c.ClinicID, c.From, c.To, string(c.Status), pq.Array(c.Transcript), c.StartedAt)
	if err != nil {
		return fmt.Errorf("calllog: insert %s: %w", c.CallSID, err)
	}
	return nil
}

// AppendTranscript adds lines to the end of a call's transcript.
func (s *Store) AppendTranscript(ctx context.Context, callSID string, lines ...string) error {
	if len(lines) == 0 {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE call_logs SET transcript = transcript || $2::text[]
		WHERE call_sid = $1`, callSID, pq.Array(lines))
	if err != nil {
		return fmt.Errorf("calllog: append transcript %s: %w", callSID, err)
	}
	return expectRow(res, callSID)
}

// SetAppointment links a booked appointment to the call.
func (s *Store) SetAppointment(ctx context.Context, callSID, appointmentID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE call_logs SET appointment_id = $2::uuid WHERE call_sid = $1`, callSID, appointmentID)
	if err != nil {
		return fmt.Errorf("calllog: set appointment %s: %w", callSID, err)
	}
	return expectRow(res, callSID)
}

// Finalize stores the final status and duration. ended_at is only set for terminal statuses.
func (s *Store) Finalize(ctx context.Context, callSID string, status Status, durationSeconds int) error {
	var endedAt *time.Time
	if status.Terminal() {
		t := s.now().UTC()
		endedAt = &t
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE call_logs SET status = $2, duration_seconds = $3, ended_at = COALESCE($4, ended_at)
		WHERE call_sid = $1`, callSID, string(status), durationSeconds, endedAt)
	if err != nil {
		return fmt.Errorf("calllog: finalize %s: %w", callSID, err)
	}
	return expectRow(res, callSID)
}

func (s *Store) Get(ctx context.Context, callSID string) (*CallLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM call_logs WHERE call_sid = $1`, callSID)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("calllog: get %s: %w", callSID, err)
	}
	return c, nil
}

// List returns a clinic's calls, newest first. Page is 1-based; limit defaults to 20 and caps at 100.
func (s *Store) List(ctx context.Context, clinicID string, page, limit int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM call_logs WHERE clinic_id = $1`, clinicID).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("calllog: count: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM call_logs
		WHERE clinic_id = $1 ORDER BY started_at DESC LIMIT $2 OFFSET $3`,
		clinicID, limit, (page-1)*limit)
	if err != nil {
		return Page{}, fmt.Errorf("calllog: list: %w", err)
	}
	defer rows.Close()

	out := Page{Calls: []CallLog{}, Page: page, Limit: limit, Total: total}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return Page{}, fmt.Errorf("calllog: scan: %w", err)
		}
		out.Calls = append(out.Calls, *c)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("calllog: iterate: %w", err)
	}
	out.TotalPages = (total + limit - 1) / limit
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(row scanner) (*CallLog, error) {
	var (
		c       CallLog
		status  string
		endedAt sql.NullTime
	)
	if err := row.Scan(&c.CallSID, &c.ClinicID, &c.From, &c.To, &status, &c.DurationSeconds,
		pq.Array(&c.Transcript), &c.AppointmentID, &c.StartedAt, &endedAt); err != nil {
		return nil, err
	}
	c.Status = Status(status)
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	if c.Transcript == nil {
		c.Transcript = []string{}
	}
	return &c, nil
}

func expectRow(res sql.Result, callSID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("calllog: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("calllog: %s: %w", callSID, ErrNotFound)
	}
	return nil
}
