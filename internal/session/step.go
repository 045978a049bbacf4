package session

// Step is a node of the conversation state machine. The set is closed;
// StepUnknown is what any unrecognised stored value decodes to.
type Step int

const (
	StepUnknown Step = iota
	StepLanguageSelection
	StepAwaitingLanguage
	StepMainMenu
	StepAwaitingName
	StepAwaitingDate
	StepAwaitingTime
	StepAwaitingConfirmation
	StepAwaitingCancelLookup
	StepAwaitingCancelConfirmation
)

var stepNames = [...]string{
	StepUnknown:                    "unknown",
	StepLanguageSelection:          "language_selection",
	StepAwaitingLanguage:           "awaiting_language",
	StepMainMenu:                   "main_menu",
	StepAwaitingName:               "awaiting_name",
	StepAwaitingDate:               "awaiting_date",
	StepAwaitingTime:               "awaiting_time",
	StepAwaitingConfirmation:       "awaiting_confirmation",
	StepAwaitingCancelLookup:       "awaiting_cancel_lookup",
	StepAwaitingCancelConfirmation: "awaiting_cancel_confirmation",
}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return stepNames[StepUnknown]
	}
	return stepNames[s]
}

// Valid reports whether s is a known, non-recovery step.
func (s Step) Valid() bool {
	return s > StepUnknown && int(s) < len(stepNames)
}

// ParseStep returns the step named v, or StepUnknown.
func ParseStep(v string) Step {
	for i, name := range stepNames {
		if name == v && Step(i) != StepUnknown {
			return Step(i)
		}
	}
	return StepUnknown
}

func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText never fails; unknown names decode to StepUnknown so the
// state machine can recover instead of rejecting the session.
func (s *Step) UnmarshalText(b []byte) error {
	*s = ParseStep(string(b))
	return nil
}
