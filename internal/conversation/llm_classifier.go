package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-booking-assistant/internal/session"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

const classifierSystemPrompt = `You classify short messages sent to a clinic appointment assistant in Karnataka.
Messages may be in English, Kannada or a mix of both.
Respond ONLY with JSON of the form {"value": "...", "confidence": 0.0-1.0}.`

var classifierTasks = map[Kind]struct {
	instruction string
	allowed     []string
}{
	KindLanguage: {
		instruction: `Which language does the user want to continue in? value must be "en", "kn" or "" if unclear.`,
		allowed:     []string{string(session.LanguageEnglish), string(session.LanguageKannada)},
	},
	KindIntent: {
		instruction: `What does the user want? value must be "book", "cancel", "change_language" or "" if none apply.`,
		allowed:     []string{IntentBook, IntentCancel, IntentChangeLanguage},
	},
}

// LLMClassifier asks an LLM for a JSON verdict. When the call fails and a
// fallback is configured, the fallback answers instead.
type LLMClassifier struct {
	client   LLMClient
	model    string
	fallback Classifier
	logger   *logging.Logger
}

func NewLLMClassifier(client LLMClient, model string, fallback Classifier, logger *logging.Logger) *LLMClassifier {
	if client == nil {
		panic("conversation: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LLMClassifier{client: client, model: model, fallback: fallback, logger: logger}
}

func (c *LLMClassifier) Classify(ctx context.Context, kind Kind, text string, lang session.Language) (Classification, error) {
	task, ok := classifierTasks[kind]
	if !ok {
		return Classification{Kind: kind}, nil
	}

	resp, err := c.client.Complete(ctx, LLMRequest{
		Model:       c.model,
		System:      []string{classifierSystemPrompt, task.instruction},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: text}},
		MaxTokens:   64,
		Temperature: 0,
	})
	if err != nil {
		if c.fallback != nil {
			c.logger.Warn("llm classifier failed, using fallback", "kind", kind, "error", err)
			return c.fallback.Classify(ctx, kind, text, lang)
		}
		return Classification{}, fmt.Errorf("conversation: classify %s: %w", kind, err)
	}

	verdict, err := parseVerdict(resp.Text)
	if err != nil {
		c.logger.Warn("llm classifier returned unparseable output", "kind", kind, "output", resp.Text)
		if c.fallback != nil {
			return c.fallback.Classify(ctx, kind, text, lang)
		}
		return Classification{Kind: kind}, nil
	}

	out := Classification{Kind: kind, Confidence: verdict.Confidence}
	value := strings.ToLower(strings.TrimSpace(verdict.Value))
	for _, allowed := range task.allowed {
		if value == allowed {
			out.Value = value
			break
		}
	}
	if out.Value == "" {
		out.Confidence = 0
	}
	return out, nil
}

type verdict struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// parseVerdict extracts the first JSON object from text, tolerating code
// fences and surrounding prose.
func parseVerdict(text string) (verdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return verdict{}, errUnparseable
	}
	var v verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return verdict{}, err
	}
	return v, nil
}
