package mailer

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrMissingRecipient is returned when a message has no To address.
	ErrMissingRecipient = errors.New("mailer: recipient required")

	// ErrEmptyBody is returned when a message has no body. The
	// pipeline never sends an empty reply.
	ErrEmptyBody = errors.New("mailer: body required")

	// ErrNoSender is returned when neither client SMTP nor the
	// platform sender is configured.
	ErrNoSender = errors.New("mailer: no sender configured")
)

// Message is one outbound email.
type Message struct {
	To        string
	ToName    string
	Subject   string
	Body      string
	FromEmail string
	FromName  string
	InReplyTo string
}

// Validate enforces the non-negotiables before any adapter is invoked.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return ErrMissingRecipient
	}
	if strings.TrimSpace(m.Body) == "" {
		return ErrEmptyBody
	}
	return nil
}

// Sender delivers a drafted message. Implementations are deterministic
// wrappers around a transport; retry policy lives with callers.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
