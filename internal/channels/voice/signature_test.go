package voice

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestValidateSignature(t *testing.T) {
	const token = "auth-token"
	const webhookURL = "https://ivr.example.com/webhooks/voice/incoming"
	form := url.Values{"CallSid": {"CA1"}, "From": {"+919812345678"}, "To": {"+918000000000"}}

	tests := []struct {
		name      string
		token     string
		signature string
		want      bool
	}{
		{"valid", token, ComputeSignature(token, webhookURL, form), true},
		{"wrong token", token, ComputeSignature("other", webhookURL, form), false},
		{"missing header", token, "", false},
		{"no token configured", "", ComputeSignature(token, webhookURL, form), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/voice/incoming", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tt.signature != "" {
				req.Header.Set("X-Twilio-Signature", tt.signature)
			}
			if got := ValidateSignature(req, tt.token, webhookURL); got != tt.want {
				t.Errorf("ValidateSignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeSignature_OrderIndependent(t *testing.T) {
	a := url.Values{"b": {"2"}, "a": {"1"}}
	b := url.Values{"a": {"1"}, "b": {"2"}}
	if ComputeSignature("t", "https://x", a) != ComputeSignature("t", "https://x", b) {
		t.Fatal("signature must not depend on map order")
	}
}

func TestAbsoluteURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice/status?x=1", nil)
	req.Host = "internal:8080"
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "ivr.example.com")

	if got := absoluteURL(req, ""); got != "https://ivr.example.com/webhooks/voice/status?x=1" {
		t.Errorf("absoluteURL() = %q", got)
	}
	if got := absoluteURL(req, "https://public.example.com/"); got != "https://public.example.com/webhooks/voice/status?x=1" {
		t.Errorf("absoluteURL() with base = %q", got)
	}
}
