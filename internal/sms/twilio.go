package sms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brightreach/leadpilot/pkg/logging"
)

// Sender delivers short operator-facing texts. Failures are the
// caller's to log; notification sends are best-effort.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// TwilioSender posts SMS messages using Twilio's REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewTwilioSender builds a sender with sane defaults, or nil when the
// credentials are not configured.
func NewTwilioSender(accountSID, authToken, from string, logger *logging.Logger) *TwilioSender {
	if accountSID == "" || authToken == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

var _ Sender = (*TwilioSender)(nil)

// Send dispatches a single SMS.
func (s *TwilioSender) Send(ctx context.Context, to, body string) error {
	if to == "" {
		return errors.New("sms: to required")
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("sms: body required")
	}
	if s.from == "" {
		return errors.New("sms: from number not configured")
	}

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", s.from)
	payload.Set("Body", body)

	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return fmt.Errorf("sms: build request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms: twilio request: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms: twilio send failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	s.logger.Info("twilio sms sent", "to", to)
	return nil
}
