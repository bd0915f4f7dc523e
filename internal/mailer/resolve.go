package mailer

import (
	"github.com/brightreach/leadpilot/internal/creds"
	"github.com/brightreach/leadpilot/pkg/logging"
)

// Resolver picks the right sender for each client at send time.
type Resolver struct {
	platform *SendGridSender
	logger   *logging.Logger
}

// NewResolver builds a resolver over the optional platform sender.
func NewResolver(platform *SendGridSender, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{platform: platform, logger: logger}
}

// For prefers the client's own SMTP account and falls back to the
// platform SendGrid sender. Returns nil when neither exists; the
// caller surfaces that as a configuration error, not a panic.
func (r *Resolver) For(smtpCreds *creds.SMTPCredentials) Sender {
	if smtpCreds != nil {
		return NewSMTPSender(smtpCreds, r.logger)
	}
	if r.platform != nil {
		return r.platform
	}
	return nil
}
