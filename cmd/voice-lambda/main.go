// Command voice-lambda sits behind API Gateway and relays IVR callbacks to
// the booking API. When the API cannot answer a call-flow callback the
// caller hears an apology and the call ends cleanly.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/clinic-booking-assistant/internal/channels/voice"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

const voicePrefix = "/webhooks/voice/"

type callbackKind int

const (
	notVoice callbackKind = iota
	// callFlow callbacks must be answered with TwiML or the call drops.
	callFlow
	statusCallback
)

type relay struct {
	baseURL   string
	timeout   time.Duration
	voiceName string
	client    *http.Client
	logger    *logging.Logger
}

func newRelay(getenv func(string) string) (*relay, error) {
	baseURL := strings.TrimSpace(getenv("UPSTREAM_BASE_URL"))
	if baseURL == "" {
		return nil, errors.New("UPSTREAM_BASE_URL is required")
	}

	timeout := 5 * time.Second
	if raw := strings.TrimSpace(getenv("UPSTREAM_TIMEOUT")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid UPSTREAM_TIMEOUT: %w", err)
		}
		timeout = parsed
	}

	return &relay{
		baseURL:   strings.TrimRight(baseURL, "/"),
		timeout:   timeout,
		voiceName: strings.TrimSpace(getenv("VOICE_NAME")),
		client:    &http.Client{Timeout: timeout},
		logger:    logging.New(getenv("LOG_LEVEL")).With("component", "voice-relay"),
	}, nil
}

func main() {
	r, err := newRelay(os.Getenv)
	if err != nil {
		panic(err)
	}
	lambda.Start(r.handle)
}

func (r *relay) handle(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	path := strings.TrimSpace(evt.RawPath)
	if path == "" {
		path = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}

	if path == "/health" || path == "/_health" {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusOK, Body: "ok"}, nil
	}
	if method != http.MethodPost {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusMethodNotAllowed}, nil
	}
	kind := classify(path)
	if kind == notVoice {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusNotFound}, nil
	}

	body, err := decodeBody(evt)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid body"}, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := r.upstreamRequest(reqCtx, path, evt, body)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusInternalServerError}, nil
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("booking api unreachable", "path", path, "call_sid", callSid(body), "error", err)
		return r.failed(kind), nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		r.logger.Warn("booking api failed callback", "path", path, "call_sid", callSid(body), "status", resp.StatusCode)
		return r.failed(kind), nil
	}

	out := events.APIGatewayV2HTTPResponse{
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
		Headers:    map[string]string{},
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		out.Headers["content-type"] = ct
	}
	return out, nil
}

// upstreamRequest forwards the Twilio form body with the headers the API
// needs to rebuild the public URL covered by X-Twilio-Signature.
func (r *relay) upstreamRequest(ctx context.Context, path string, evt events.APIGatewayV2HTTPRequest, body []byte) (*http.Request, error) {
	target := r.baseURL + path
	if qs := strings.TrimSpace(evt.RawQueryString); qs != "" {
		target += "?" + qs
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	if ct := headerValue(evt.Headers, "content-type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	copyHeader(req.Header, evt.Headers, "x-twilio-signature")

	host := strings.TrimSpace(evt.RequestContext.DomainName)
	if host == "" {
		host = strings.TrimSpace(headerValue(evt.Headers, "host"))
	}
	if host != "" {
		req.Header.Set("X-Forwarded-Host", host)
	}
	proto := strings.TrimSpace(headerValue(evt.Headers, "x-forwarded-proto"))
	if proto == "" {
		proto = "https"
	}
	req.Header.Set("X-Forwarded-Proto", proto)
	return req, nil
}

// failed answers call-flow callbacks with the apology TwiML. Status
// callbacks carry no caller audio, so they report the gateway error.
func (r *relay) failed(kind callbackKind) events.APIGatewayV2HTTPResponse {
	if kind != callFlow {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadGateway, Body: "upstream error"}
	}
	twiml, err := voice.UnavailableResponse(r.voiceName).Render()
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadGateway, Body: "upstream error"}
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"content-type": "text/xml"},
		Body:       string(twiml),
	}
}

func classify(path string) callbackKind {
	switch {
	case path == voicePrefix+"status":
		return statusCallback
	case path == voicePrefix+"incoming":
		return callFlow
	case strings.HasPrefix(path, voicePrefix+"gather/"), strings.HasPrefix(path, voicePrefix+"no-input/"):
		return callFlow
	default:
		return notVoice
	}
}

func callSid(form []byte) string {
	for _, pair := range strings.Split(string(form), "&") {
		if v, ok := strings.CutPrefix(pair, "CallSid="); ok {
			return v
		}
	}
	return ""
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	return base64.StdEncoding.DecodeString(evt.Body)
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func copyHeader(dst http.Header, src map[string]string, header string) {
	if value := strings.TrimSpace(headerValue(src, header)); value != "" {
		dst.Set(header, value)
	}
}
