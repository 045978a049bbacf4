package session

import (
	"fmt"
	"time"
)

// Language is the conversation language. It is chosen once per session.
type Language string

const (
	LanguageUnset   Language = ""
	LanguageEnglish Language = "en"
	LanguageKannada Language = "kn"
)

// ParseLanguage maps a stored or configured code ("en", "kn-IN", ...) to a Language.
func ParseLanguage(v string) Language {
	if len(v) >= 2 {
		switch v[:2] {
		case "en", "EN":
			return LanguageEnglish
		case "kn", "KN":
			return LanguageKannada
		}
	}
	return LanguageUnset
}

// OrDefault returns English for an unset language.
func (l Language) OrDefault() Language {
	if l == LanguageUnset {
		return LanguageEnglish
	}
	return l
}

// Channel identifies the transport a conversation arrives on.
type Channel string

const (
	ChannelVoice     Channel = "voice"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelWebChat   Channel = "webchat"
	ChannelDashboard Channel = "dashboard"
)

// Draft accumulates appointment fields across turns.
type Draft struct {
	PatientName string `json:"patient_name,omitempty"`
	Date        string `json:"date,omitempty"`
	Time        string `json:"time,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// Session is the per-address conversation state.
type Session struct {
	Address           string    `json:"address"`
	Channel           Channel   `json:"channel,omitempty"`
	ClinicID          string    `json:"clinic_id,omitempty"`
	Language          Language  `json:"language,omitempty"`
	Step              Step      `json:"step"`
	Draft             Draft     `json:"draft"`
	PatientPhone      string    `json:"patient_phone,omitempty"`
	DisplayName       string    `json:"display_name,omitempty"`
	CancelCandidateID string    `json:"cancel_candidate_id,omitempty"`
	Retries           int       `json:"retries,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	LastActivity      time.Time `json:"last_activity"`
}

// New returns a session seeded with the default state.
func New(address string, now time.Time) *Session {
	return &Session{
		Address:      address,
		Step:         StepLanguageSelection,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Clone returns an independent copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// Expired reports whether the session has been idle longer than idle.
func (s *Session) Expired(now time.Time, idle time.Duration) bool {
	return idle > 0 && now.Sub(s.LastActivity) > idle
}

// ResetFlow drops the draft and flow bookkeeping but keeps language and routing context.
func (s *Session) ResetFlow(step Step) {
	s.Step = step
	s.Draft = Draft{}
	s.CancelCandidateID = ""
	s.Retries = 0
}

func (s *Session) String() string {
	return fmt.Sprintf("session(%s %s step=%s lang=%s)", s.Channel, s.Address, s.Step, s.Language)
}
