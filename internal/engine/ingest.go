package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brightreach/leadpilot/internal/ai"
	"github.com/brightreach/leadpilot/internal/automations"
	"github.com/brightreach/leadpilot/internal/conversations"
	"github.com/brightreach/leadpilot/internal/leads"
	"github.com/brightreach/leadpilot/internal/runs"
)

// Skip reasons recorded on Outcome and in the inbox skip metric.
const (
	SkipDuplicate        = "duplicate"
	SkipReturningContact = "returning_contact"
	SkipUnparseable      = "unparseable"
)

// InboundEmail is one inbound message as seen at an ingest boundary,
// before AI extraction. Raw carries the full text handed to the
// parser; the envelope fields are fallbacks when extraction fails.
type InboundEmail struct {
	Raw         string
	MessageID   string
	InReplyTo   string
	Subject     string
	FromAddress string
	FromName    string
	ReceivedAt  time.Time
}

// HandleNewLead runs the full ingest path for one inbound email:
// dedup, returning-contact suppression, AI extraction, lead and
// conversation persistence, then queue or execute per the client's
// delay setting. A non-nil parsed skips the AI extraction step for
// callers that already have structured fields.
func (e *Executor) HandleNewLead(ctx context.Context, cfg *automations.Config, em InboundEmail, parsed *ai.ParsedEmail) (*Outcome, error) {
	if em.MessageID != "" {
		seen, err := e.ledger.HasMessageID(ctx, cfg.ID, em.MessageID)
		if err != nil {
			return nil, fmt.Errorf("dedup check: %w", err)
		}
		if seen {
			e.metrics.ObserveInboxSkip(SkipDuplicate)
			e.logger.Info("duplicate message skipped", "client_id", cfg.ClientID, "message_id", em.MessageID)
			return &Outcome{Skipped: true, SkipReason: SkipDuplicate}, nil
		}
	}

	if parsed == nil {
		var err error
		parsed, err = e.parser.Parse(ctx, em.Raw)
		if err != nil {
			parsed = envelopeFallback(em)
			if parsed == nil {
				e.metrics.ObserveInboxSkip(SkipUnparseable)
				e.logger.Warn("inbound email unparseable", "error", err, "client_id", cfg.ClientID, "message_id", em.MessageID)
				return &Outcome{Skipped: true, SkipReason: SkipUnparseable}, nil
			}
			e.logger.Warn("extraction failed, using envelope fields", "error", err, "client_id", cfg.ClientID)
		}
	}

	fromEmail := strings.ToLower(strings.TrimSpace(parsed.FromEmail))

	if prior, err := e.leads.FindRepliedByEmail(ctx, cfg.ClientID, fromEmail); err != nil {
		return nil, fmt.Errorf("returning-contact check: %w", err)
	} else if prior != nil {
		e.appendInbound(ctx, cfg, &prior.ID, parsed, em)
		e.metrics.ObserveInboxSkip(SkipReturningContact)
		e.logger.Info("returning contact, auto-reply suppressed",
			"client_id", cfg.ClientID, "lead_id", prior.ID, "email", fromEmail)
		return &Outcome{Skipped: true, SkipReason: SkipReturningContact, Lead: prior}, nil
	}

	lead, err := e.leads.Create(ctx, &leads.CreateLeadRequest{
		ClientID:   cfg.ClientID,
		Name:       parsed.FromName,
		Email:      fromEmail,
		Subject:    parsed.Subject,
		Message:    parsed.Message,
		RawExcerpt: truncate(em.Raw, 2000),
	})
	if err != nil {
		return nil, fmt.Errorf("create lead: %w", err)
	}
	e.metrics.ObserveLeadCreated()
	e.appendInbound(ctx, cfg, &lead.ID, parsed, em)

	payload := &runs.LeadReplyPayload{
		LeadID:    lead.ID,
		To:        fromEmail,
		ToName:    parsed.FromName,
		Subject:   parsed.Subject,
		Message:   parsed.Message,
		MessageID: em.MessageID,
	}

	if cfg.ReplyDelayMinutes > 0 {
		run, err := e.Enqueue(ctx, cfg, payload)
		if err != nil {
			return nil, err
		}
		return &Outcome{Run: run, Lead: lead}, nil
	}

	out, err := e.Execute(ctx, cfg, payload, nil)
	if err != nil {
		return nil, err
	}
	out.Lead = lead
	return out, nil
}

// SeenMessage reports whether this Message-ID was already recorded for
// the automation. Ingest boundaries that run their own pre-checks call
// this first so a redelivered message stays a full no-op.
func (e *Executor) SeenMessage(ctx context.Context, cfg *automations.Config, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	return e.ledger.HasMessageID(ctx, cfg.ID, messageID)
}

// appendInbound logs the inbound message in the lead's thread.
// Best-effort: the reply path does not depend on it.
func (e *Executor) appendInbound(ctx context.Context, cfg *automations.Config, leadID *uuid.UUID, parsed *ai.ParsedEmail, em InboundEmail) {
	subject := parsed.Subject
	if subject == "" {
		subject = em.Subject
	}
	entry := &conversations.Entry{
		ClientID:    cfg.ClientID,
		LeadID:      leadID,
		Direction:   conversations.DirectionInbound,
		FromAddress: strings.ToLower(strings.TrimSpace(parsed.FromEmail)),
		ToAddress:   cfg.FromEmail,
		Subject:     subject,
		Content:     parsed.Message,
		MessageID:   em.MessageID,
		InReplyTo:   em.InReplyTo,
	}
	if err := e.thread.Append(ctx, entry); err != nil {
		e.logger.Error("append inbound entry failed", "error", err, "client_id", cfg.ClientID)
	}
}

// envelopeFallback builds parsed fields from MIME headers when AI
// extraction fails. Returns nil when the sender address is missing,
// which is the one field nothing downstream can work without.
func envelopeFallback(em InboundEmail) *ai.ParsedEmail {
	if strings.TrimSpace(em.FromAddress) == "" {
		return nil
	}
	return &ai.ParsedEmail{
		FromName:  em.FromName,
		FromEmail: em.FromAddress,
		Subject:   em.Subject,
		Message:   em.Raw,
	}
}
