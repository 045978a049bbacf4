package conversation

import (
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
)

// Turn is one inbound user action, normalized across channels.
type Turn struct {
	Channel      session.Channel `json:"channel"`
	Address      string          `json:"address"`
	ClinicID     string          `json:"clinic_id,omitempty"`
	Text         string          `json:"text,omitempty"`
	ChoiceID     string          `json:"choice_id,omitempty"`
	Digits       string          `json:"digits,omitempty"`
	RecordingURL string          `json:"recording_url,omitempty"`
	DisplayName  string          `json:"display_name,omitempty"`
	PatientPhone string          `json:"patient_phone,omitempty"`
	MessageID    string          `json:"message_id,omitempty"`
}

// PromptKind selects how a prompt is rendered by the channel.
type PromptKind string

const (
	PromptText     PromptKind = "text"
	PromptChoices  PromptKind = "choices"
	PromptTemplate PromptKind = "template"
)

// Choice is a quick-reply option. Digit is the keypad equivalent on voice.
type Choice struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Digit string `json:"digit"`
}

// Template is a pre-approved parameterized message.
type Template struct {
	Name     string   `json:"name"`
	Language string   `json:"language"`
	Params   []string `json:"params"`
}

// Prompt is one outbound message. Text is always set so channels that cannot
// render choices or templates can fall back to it.
type Prompt struct {
	Kind     PromptKind       `json:"kind"`
	Text     string           `json:"text"`
	Language session.Language `json:"language"`
	Choices  []Choice         `json:"choices,omitempty"`
	Template *Template        `json:"template,omitempty"`
}

// InputKind tells keypad channels what to collect next.
type InputKind string

const (
	InputNone      InputKind = ""
	InputDigits    InputKind = "digits"
	InputRecording InputKind = "recording"
	InputText      InputKind = "text"
)

// Expect describes the input the next turn should carry.
type Expect struct {
	Input     InputKind `json:"input,omitempty"`
	NumDigits int       `json:"num_digits,omitempty"`
}

// Reply is the engine's answer to a turn.
type Reply struct {
	Prompts []Prompt     `json:"prompts"`
	Expect  Expect       `json:"expect"`
	Step    session.Step `json:"step"`
	Hangup  bool         `json:"hangup,omitempty"`

	// AppointmentID is set on the turn that completes a booking.
	AppointmentID string `json:"appointment_id,omitempty"`
}

func (r *Reply) text(lang session.Language, text string) {
	r.Prompts = append(r.Prompts, Prompt{Kind: PromptText, Text: text, Language: lang})
}

func (r *Reply) choices(lang session.Language, text string, choices ...Choice) {
	r.Prompts = append(r.Prompts, Prompt{Kind: PromptChoices, Text: text, Language: lang, Choices: choices})
}

// Texts returns the text of every prompt in order.
func (r Reply) Texts() []string {
	out := make([]string, 0, len(r.Prompts))
	for _, p := range r.Prompts {
		out = append(out, p.Text)
	}
	return out
}
