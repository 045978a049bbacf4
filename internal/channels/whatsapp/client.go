// Package whatsapp is the WhatsApp Cloud API channel: an outbound client and
// the inbound webhook that feeds chat turns to the conversation workers.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

var tracer = otel.Tracer("clinicbooking.internal.channels.whatsapp")

const (
	defaultAPIBase     = "https://graph.facebook.com/v21.0"
	defaultHTTPTimeout = 15 * time.Second
	maxButtons         = 3
	maxButtonTitle     = 20
)

// OutboundObserver counts outbound sends.
type OutboundObserver interface {
	ObserveOutbound(channel, kind, status string)
}

// Config holds Cloud API credentials.
type Config struct {
	AccessToken   string
	PhoneNumberID string
	APIBase       string
}

// Client sends messages via the WhatsApp Cloud API.
type Client struct {
	accessToken   string
	phoneNumberID string
	apiBase       string
	httpClient    *http.Client
	metrics       OutboundObserver
	logger        *logging.Logger
}

// NewClient returns nil when the access token or phone number id is missing.
func NewClient(cfg Config, metrics OutboundObserver, logger *logging.Logger) *Client {
	if cfg.AccessToken == "" || cfg.PhoneNumberID == "" {
		return nil
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		apiBase:       strings.TrimRight(cfg.APIBase, "/"),
		httpClient:    &http.Client{Timeout: defaultHTTPTimeout},
		metrics:       metrics,
		logger:        logger,
	}
}

var _ conversation.ReplySender = (*Client)(nil)

// SendText sends a plain text message and returns the WhatsApp message id.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	return c.send(ctx, "text", &sendRequest{
		RecipientType: "individual",
		To:            recipient(to),
		Type:          "text",
		Text:          &textBody{Body: body},
	})
}

// SendButtons sends up to three quick-reply buttons.
func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []Button) (string, error) {
	if len(buttons) == 0 {
		return "", errors.New("whatsapp: at least one button required")
	}
	if len(buttons) > maxButtons {
		buttons = buttons[:maxButtons]
	}
	action := interactiveAction{Buttons: make([]replyButton, 0, len(buttons))}
	for _, b := range buttons {
		var rb replyButton
		rb.Type = "reply"
		rb.Reply.ID = b.ID
		rb.Reply.Title = truncate(b.Title, maxButtonTitle)
		action.Buttons = append(action.Buttons, rb)
	}
	return c.send(ctx, "buttons", &sendRequest{
		To:   recipient(to),
		Type: "interactive",
		Interactive: &interactiveBody{
			Type:   "button",
			Body:   textField{Text: body},
			Action: action,
		},
	})
}

// SendTemplate sends a pre-approved template with positional body parameters.
func (c *Client) SendTemplate(ctx context.Context, to, name, language string, params []string) (string, error) {
	tmpl := &templateBody{Name: name}
	tmpl.Language.Code = language
	if len(params) > 0 {
		comp := templateComponent{Type: "body"}
		for _, p := range params {
			comp.Parameters = append(comp.Parameters, templateParameter{Type: "text", Text: p})
		}
		tmpl.Components = []templateComponent{comp}
	}
	return c.send(ctx, "template", &sendRequest{
		To:       recipient(to),
		Type:     "template",
		Template: tmpl,
	})
}

// MarkRead sends a read receipt for an inbound message.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	_, err := c.send(ctx, "read", &sendRequest{Status: "read", MessageID: messageID})
	return err
}

// SendReply renders every prompt of a conversation reply. A failed template
// falls back to its text.
func (c *Client) SendReply(ctx context.Context, to string, reply conversation.Reply) error {
	for _, p := range reply.Prompts {
		var err error
		switch {
		case p.Kind == conversation.PromptTemplate && p.Template != nil:
			_, err = c.SendTemplate(ctx, to, p.Template.Name, p.Template.Language, p.Template.Params)
			if err != nil {
				c.logger.Warn("whatsapp template failed, sending text", "template", p.Template.Name, "error", err)
				_, err = c.SendText(ctx, to, p.Text)
			}
		case p.Kind == conversation.PromptChoices && len(p.Choices) > 0 && len(p.Choices) <= maxButtons:
			buttons := make([]Button, 0, len(p.Choices))
			for _, ch := range p.Choices {
				buttons = append(buttons, Button{ID: ch.ID, Title: ch.Title})
			}
			_, err = c.SendButtons(ctx, to, p.Text, buttons)
		case p.Kind == conversation.PromptChoices:
			_, err = c.SendText(ctx, to, numberedChoices(p))
		default:
			_, err = c.SendText(ctx, to, p.Text)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, kind string, req *sendRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "whatsapp.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicbooking.whatsapp.kind", kind),
		attribute.String("clinicbooking.to", req.To),
	)

	id, err := c.post(ctx, req)
	status := "sent"
	if err != nil {
		status = "failed"
		span.RecordError(err)
	}
	if c.metrics != nil {
		c.metrics.ObserveOutbound("whatsapp", kind, status)
	}
	return id, err
}

func (c *Client) post(ctx context.Context, req *sendRequest) (string, error) {
	req.MessagingProduct = "whatsapp"
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp: marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.apiBase, c.phoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("whatsapp: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("whatsapp: send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("whatsapp: read response: %w", err)
	}

	var parsed sendResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return "", fmt.Errorf("whatsapp: unmarshal response: %w", err)
		}
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("whatsapp: API error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whatsapp: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	if len(parsed.Messages) > 0 {
		return parsed.Messages[0].ID, nil
	}
	return "", nil
}

func recipient(to string) string {
	return strings.TrimPrefix(strings.TrimSpace(to), "+")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func numberedChoices(p conversation.Prompt) string {
	var b strings.Builder
	b.WriteString(p.Text)
	for i, ch := range p.Choices {
		digit := ch.Digit
		if digit == "" {
			digit = fmt.Sprint(i + 1)
		}
		fmt.Fprintf(&b, "\n%s. %s", digit, ch.Title)
	}
	return b.String()
}
