package conversation

import (
	"context"
	"strings"
	"unicode"

	"github.com/wolfman30/clinic-booking-assistant/internal/session"
)

// Kind selects what a classifier is asked to recognize.
type Kind string

const (
	KindLanguage Kind = "language"
	KindIntent   Kind = "intent"
)

// Intent values returned for KindIntent.
const (
	IntentUnknown        = ""
	IntentBook           = "book"
	IntentCancel         = "cancel"
	IntentChangeLanguage = "change_language"
)

// Classification is a typed classifier verdict. An empty Value means unrecognized.
type Classification struct {
	Kind       Kind    `json:"kind"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Classifier interprets free text the engine could not match to an explicit choice.
type Classifier interface {
	Classify(ctx context.Context, kind Kind, text string, lang session.Language) (Classification, error)
}

// KeywordClassifier recognizes language by script and keywords, and intents by keyword tables.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

var intentKeywords = []struct {
	intent   string
	keywords []string
}{
	// Cancel first: "cancel my appointment" must not match book. Book before
	// language: "book appointment in english" is a booking request.
	{IntentCancel, []string{"cancel", "ರದ್ದು"}},
	{IntentBook, []string{"book", "appointment", "schedule", "ಬುಕ್", "ಅಪಾಯಿಂಟ್"}},
	{IntentChangeLanguage, []string{"language", "ಭಾಷೆ", "kannada", "english"}},
}

func (KeywordClassifier) Classify(_ context.Context, kind Kind, text string, _ session.Language) (Classification, error) {
	lower := strings.ToLower(strings.TrimSpace(text))
	switch kind {
	case KindLanguage:
		return classifyLanguage(lower), nil
	case KindIntent:
		for _, entry := range intentKeywords {
			for _, kw := range entry.keywords {
				if strings.Contains(lower, kw) {
					return Classification{Kind: KindIntent, Value: entry.intent, Confidence: 0.8}, nil
				}
			}
		}
		return Classification{Kind: KindIntent}, nil
	}
	return Classification{Kind: kind}, nil
}

func classifyLanguage(lower string) Classification {
	switch {
	case strings.Contains(lower, "kannada"), strings.Contains(lower, "ಕನ್ನಡ"):
		return Classification{Kind: KindLanguage, Value: string(session.LanguageKannada), Confidence: 1}
	case strings.Contains(lower, "english"), strings.Contains(lower, "eng"):
		return Classification{Kind: KindLanguage, Value: string(session.LanguageEnglish), Confidence: 1}
	case containsKannadaScript(lower):
		return Classification{Kind: KindLanguage, Value: string(session.LanguageKannada), Confidence: 0.9}
	}
	return Classification{Kind: KindLanguage}
}

var kannadaScript = &unicode.RangeTable{R16: []unicode.Range16{{Lo: 0x0C80, Hi: 0x0CFF, Stride: 1}}}

func containsKannadaScript(s string) bool {
	for _, r := range s {
		if unicode.Is(kannadaScript, r) {
			return true
		}
	}
	return false
}
