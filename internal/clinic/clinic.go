// Package clinic provides the clinic directory: clinic records, their weekly
// availability windows and per-clinic dashboard figures.
package clinic

import (
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/clinic-booking-assistant/internal/availability"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
)

// ErrNotFound is returned when no active clinic matches a lookup.
var ErrNotFound = errors.New("clinic: not found")

// Clinic is the tenant owning slots, appointments and channel numbers.
type Clinic struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Phone           string           `json:"phone"`
	WhatsAppPhoneID string           `json:"whatsapp_phone_id,omitempty"`
	Email           string           `json:"email,omitempty"`
	Address         string           `json:"address,omitempty"`
	DefaultLanguage session.Language `json:"default_language"`
	Timezone        string           `json:"timezone"`
	Active          bool             `json:"active"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Location resolves the clinic timezone, falling back to UTC.
func (c *Clinic) Location() *time.Location {
	if c == nil || c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AvailabilitySlot is one recurring weekly window. Several may exist per weekday.
type AvailabilitySlot struct {
	ID           string `json:"id"`
	ClinicID     string `json:"clinic_id"`
	DayOfWeek    int    `json:"day_of_week"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	SlotDuration int    `json:"slot_duration"`
	Active       bool   `json:"active"`
}

// Window converts the slot into the availability engine's representation.
func (s AvailabilitySlot) Window() (availability.Window, error) {
	start, err := availability.ParseTimeOfDay(s.StartTime)
	if err != nil {
		return availability.Window{}, err
	}
	end, err := availability.ParseTimeOfDay(s.EndTime)
	if err != nil {
		return availability.Window{}, err
	}
	if start >= end {
		return availability.Window{}, fmt.Errorf("clinic: slot %s starts at or after its end", s.ID)
	}
	granularity := time.Duration(s.SlotDuration) * time.Minute
	if granularity <= 0 {
		granularity = availability.DefaultDuration
	}
	return availability.Window{Start: start, End: end, Granularity: granularity}, nil
}
