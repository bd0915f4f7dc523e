package mailer

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/brightreach/leadpilot/internal/creds"
	"github.com/brightreach/leadpilot/pkg/logging"
)

// SMTPSender sends through a client's own SMTP account so replies come
// from the client's domain.
type SMTPSender struct {
	creds  *creds.SMTPCredentials
	logger *logging.Logger

	// send is swappable for tests; defaults to gomail DialAndSend.
	send func(m *gomail.Message) error
}

// NewSMTPSender builds a sender for one client's credentials.
func NewSMTPSender(c *creds.SMTPCredentials, logger *logging.Logger) *SMTPSender {
	if logger == nil {
		logger = logging.Default()
	}
	s := &SMTPSender{creds: c, logger: logger}
	s.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(c.Host, c.Port, c.User, c.Pass)
		return d.DialAndSend(m)
	}
	return s
}

var _ Sender = (*SMTPSender)(nil)

// Send delivers one message over SMTP.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if s.creds == nil {
		return ErrNoSender
	}

	fromEmail := msg.FromEmail
	if fromEmail == "" {
		fromEmail = s.creds.FromEmail
	}
	fromName := msg.FromName
	if fromName == "" {
		fromName = s.creds.FromName
	}

	m := gomail.NewMessage()
	if fromName != "" {
		m.SetAddressHeader("From", fromEmail, fromName)
	} else {
		m.SetHeader("From", fromEmail)
	}
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.InReplyTo != "" {
		m.SetHeader("In-Reply-To", msg.InReplyTo)
		m.SetHeader("References", msg.InReplyTo)
	}
	m.SetBody("text/plain", msg.Body)

	if err := s.send(m); err != nil {
		return fmt.Errorf("mailer: smtp send: %w", err)
	}
	s.logger.Info("email sent via smtp", "to", msg.To, "subject", msg.Subject)
	return nil
}
