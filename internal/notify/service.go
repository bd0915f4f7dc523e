package notify

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/brightreach/leadpilot/internal/automations"
	"github.com/brightreach/leadpilot/internal/mailer"
	"github.com/brightreach/leadpilot/internal/runs"
	"github.com/brightreach/leadpilot/internal/sms"
	"github.com/brightreach/leadpilot/pkg/logging"
)

const previewLen = 160

// Service sends best-effort notifications to automation owners. Every
// channel failure is logged and swallowed; a notification must never
// fail the primary operation that produced it.
type Service struct {
	email  mailer.Sender
	sms    sms.Sender
	logger *logging.Logger
}

// NewService creates a notification service. Either channel may be nil.
func NewService(email mailer.Sender, smsSender sms.Sender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, sms: smsSender, logger: logger}
}

// ApprovalRequested tells the owner a draft is waiting, with a short
// preview and the reply keywords the SMS gateway understands.
func (s *Service) ApprovalRequested(ctx context.Context, cfg *automations.Config, run *runs.Run) {
	lead := run.Payload.LeadReply
	if lead == nil {
		return
	}
	preview := truncate(run.DraftContent, previewLen)

	if cfg.NotifyPhone != "" && s.sms != nil {
		body := fmt.Sprintf("New lead from %s. Draft: %q. Reply SEND to approve or SKIP to discard.", lead.To, preview)
		if err := s.sms.Send(ctx, cfg.NotifyPhone, body); err != nil {
			s.logger.Warn("approval sms notify failed", "error", err, "client_id", cfg.ClientID)
		}
	}

	if cfg.NotifyEmail != "" && s.email != nil {
		msg := mailer.Message{
			To:      cfg.NotifyEmail,
			Subject: fmt.Sprintf("Draft reply awaiting approval — %s", lead.To),
			Body: fmt.Sprintf("A reply to %s is waiting for your approval.\n\nLead message:\n%s\n\nDraft:\n%s\n\nApprove or discard it from your dashboard.",
				lead.To, lead.Message, run.DraftContent),
		}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Warn("approval email notify failed", "error", err, "client_id", cfg.ClientID)
		}
	}
}

// ReplySent is the FYI notification after an auto-send; nothing is
// being asked of the owner.
func (s *Service) ReplySent(ctx context.Context, cfg *automations.Config, to, content string) {
	preview := truncate(content, previewLen)

	if cfg.NotifyPhone != "" && s.sms != nil {
		body := fmt.Sprintf("Auto-replied to %s: %q", to, preview)
		if err := s.sms.Send(ctx, cfg.NotifyPhone, body); err != nil {
			s.logger.Warn("sent sms notify failed", "error", err, "client_id", cfg.ClientID)
		}
	}

	if cfg.NotifyEmail != "" && s.email != nil {
		msg := mailer.Message{
			To:      cfg.NotifyEmail,
			Subject: fmt.Sprintf("Auto-reply sent to %s", to),
			Body:    fmt.Sprintf("The lead-reply automation answered %s:\n\n%s", to, content),
		}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Warn("sent email notify failed", "error", err, "client_id", cfg.ClientID)
		}
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary so the cut never produces invalid UTF-8.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
