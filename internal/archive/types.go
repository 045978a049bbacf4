package archive

import "time"

// CallRecord is one finished voice call as archived to S3.
type CallRecord struct {
	Version         string     `json:"version"` // "1.0"
	CallSID         string     `json:"call_sid"`
	ClinicID        string     `json:"clinic_id"`
	CallerHash      string     `json:"caller_hash"` // sha256 of the caller number
	Status          string     `json:"status"`
	DurationSeconds int        `json:"duration_seconds"`
	AppointmentID   string     `json:"appointment_id,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	ArchivedAt      time.Time  `json:"archived_at"`
	Transcript      []string   `json:"transcript"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	CallSID         string `json:"call_sid"`
	ClinicID        string `json:"clinic_id"`
	S3Key           string `json:"s3_key"`
	Status          string `json:"status"`
	Booked          bool   `json:"booked"`
	DurationSeconds int    `json:"duration_seconds"`
	ArchivedAt      string `json:"archived_at"`
	Lines           int    `json:"lines"`
}
