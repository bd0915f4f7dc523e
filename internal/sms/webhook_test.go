package sms

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTwilioSignature(t *testing.T) {
	authToken := "secret-token"
	webhookURL := "https://app.leadpilot.dev/webhooks/twilio"

	form := url.Values{}
	form.Set("From", "+15551230000")
	form.Set("Body", "SEND")

	payload := buildSignaturePayload(webhookURL, form)
	sig := computeSignature(payload, authToken)

	req := httptest.NewRequest("POST", webhookURL, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", sig)

	assert.True(t, ValidateTwilioSignature(req, authToken, webhookURL))
}

func TestValidateTwilioSignatureRejectsTampered(t *testing.T) {
	authToken := "secret-token"
	webhookURL := "https://app.leadpilot.dev/webhooks/twilio"

	form := url.Values{}
	form.Set("Body", "SEND")
	payload := buildSignaturePayload(webhookURL, form)
	sig := computeSignature(payload, authToken)

	tampered := url.Values{}
	tampered.Set("Body", "SKIP")
	req := httptest.NewRequest("POST", webhookURL, strings.NewReader(tampered.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", sig)

	assert.False(t, ValidateTwilioSignature(req, authToken, webhookURL))
}

func TestValidateTwilioSignatureMissingHeader(t *testing.T) {
	req := httptest.NewRequest("POST", "https://x", nil)
	assert.False(t, ValidateTwilioSignature(req, "tok", "https://x"))
}

func TestParseInbound(t *testing.T) {
	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("From", "+15551230000")
	form.Set("To", "+15559870000")
	form.Set("Body", "SEND")

	req := httptest.NewRequest("POST", "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	msg, err := ParseInbound(req)
	require.NoError(t, err)
	assert.Equal(t, "SM123", msg.MessageSid)
	assert.Equal(t, "+15551230000", msg.From)
	assert.Equal(t, "SEND", msg.Body)
}

func TestNewTwilioSenderRequiresCreds(t *testing.T) {
	assert.Nil(t, NewTwilioSender("", "", "+1555", nil))
	assert.NotNil(t, NewTwilioSender("AC1", "tok", "+1555", nil))
}
