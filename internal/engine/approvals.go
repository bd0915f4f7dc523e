package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/brightreach/leadpilot/internal/automations"
	"github.com/brightreach/leadpilot/internal/mailer"
	"github.com/brightreach/leadpilot/internal/runs"
)

var (
	// ErrNotPending is returned when a decision targets a run that is
	// not awaiting approval.
	ErrNotPending = errors.New("engine: run is not pending approval")

	// ErrEmptyContent is returned when approval would send an empty
	// body: no edited content and no stored draft.
	ErrEmptyContent = errors.New("engine: approved content is empty")

	// ErrUnknownAction is returned for a draft decision other than
	// approve or discard.
	ErrUnknownAction = errors.New("engine: unknown draft action")
)

// Gateway applies owner decisions to pending drafts. A send failure
// leaves the run pending so approval can be retried; the guarded
// status update keeps exactly one decision in the ledger.
type Gateway struct {
	exec    *Executor
	ledger  RunLedger
	configs ConfigStore
}

// NewGateway wires the approval gateway around the executor's send
// path.
func NewGateway(exec *Executor) *Gateway {
	return &Gateway{exec: exec, ledger: exec.ledger, configs: exec.configs}
}

// Resolve dispatches a draft decision by action name. Used by the
// draft PATCH endpoint.
func (g *Gateway) Resolve(ctx context.Context, clientID, runID uuid.UUID, action, content string) (*runs.Run, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "approve":
		return g.Approve(ctx, clientID, runID, content)
	case "discard":
		return g.Discard(ctx, clientID, runID)
	default:
		g.exec.metrics.ObserveApproval("rejected")
		return nil, ErrUnknownAction
	}
}

// Approve sends the draft (optionally replaced by editedContent) and
// marks the run approved. The send happens first: a delivery failure
// returns the error with the run still pending.
func (g *Gateway) Approve(ctx context.Context, clientID, runID uuid.UUID, editedContent string) (*runs.Run, error) {
	run, err := g.ledger.GetForClient(ctx, clientID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != runs.StatusPendingApproval {
		return nil, ErrNotPending
	}

	final := strings.TrimSpace(editedContent)
	edited := final != "" && final != strings.TrimSpace(run.DraftContent)
	if final == "" {
		final = strings.TrimSpace(run.DraftContent)
	}
	if final == "" {
		g.exec.metrics.ObserveApproval("rejected")
		return nil, ErrEmptyContent
	}

	payload := run.Payload.LeadReply
	if payload == nil || strings.TrimSpace(payload.To) == "" {
		g.exec.metrics.ObserveApproval("rejected")
		return nil, runs.ErrInvalidPayload
	}

	cfg, err := g.configs.GetForClient(ctx, clientID, automations.KeyLeadReply)
	if err != nil {
		return nil, err
	}

	sender, fromEmail, fromName, err := g.exec.resolveSender(ctx, cfg)
	if err != nil {
		return nil, err
	}
	msg := mailer.Message{
		To:        payload.To,
		ToName:    payload.ToName,
		Subject:   replySubject(payload.Subject),
		Body:      final,
		FromEmail: fromEmail,
		FromName:  fromName,
		InReplyTo: payload.MessageID,
	}
	if err := sender.Send(ctx, msg); err != nil {
		g.exec.metrics.ObserveSend("error")
		g.exec.logger.Error("approved send failed", "error", err, "run_id", run.ID)
		return nil, err
	}
	g.exec.metrics.ObserveSend("ok")

	if err := g.ledger.MarkApproved(ctx, run.ID, final); err != nil {
		// The reply is already delivered; surface the ledger problem
		// rather than hide it.
		g.exec.logger.Error("mark approved failed after send", "error", err, "run_id", run.ID)
		return nil, err
	}
	run.Status = runs.StatusApproved
	run.DraftContent = final

	g.exec.applySendEffects(ctx, cfg, payload, run, msg, edited)
	g.exec.metrics.ObserveApproval("approved")
	g.exec.logger.Info("draft approved", "run_id", run.ID, "client_id", clientID, "edited", edited)
	return run, nil
}

// Discard marks a pending draft discarded. Nothing is sent and the
// lead's replied_at stays untouched.
func (g *Gateway) Discard(ctx context.Context, clientID, runID uuid.UUID) (*runs.Run, error) {
	run, err := g.ledger.GetForClient(ctx, clientID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != runs.StatusPendingApproval {
		return nil, ErrNotPending
	}
	if err := g.ledger.MarkDiscarded(ctx, run.ID); err != nil {
		return nil, err
	}
	run.Status = runs.StatusDiscarded
	g.exec.metrics.ObserveApproval("discarded")
	g.exec.logger.Info("draft discarded", "run_id", run.ID, "client_id", clientID)
	return run, nil
}

// SMS keyword replies. Kept short: carriers truncate, owners skim.
const (
	smsReplySent      = "Sent ✓"
	smsReplyDiscarded = "Draft discarded"
	smsReplyNoPending = "No pending draft found"
	smsReplyUnknown   = "Reply SEND to approve the draft or SKIP to discard it"
	smsReplyNoClient  = "This number is not linked to an account"
)

// HandleSMSReply maps an inbound owner text to a draft decision and
// returns the message to text back. It never returns an error; every
// outcome has a human-readable reply.
func (g *Gateway) HandleSMSReply(ctx context.Context, fromPhone, body string) string {
	cfg, err := g.configs.FindByNotifyPhone(ctx, fromPhone)
	if err != nil || cfg == nil {
		g.exec.logger.Warn("sms from unknown number", "from", fromPhone)
		return smsReplyNoClient
	}

	var approve bool
	switch firstWordUpper(body) {
	case "SEND", "YES", "APPROVE":
		approve = true
	case "SKIP", "NO", "DISCARD":
		approve = false
	default:
		return smsReplyUnknown
	}

	run, err := g.ledger.LatestPendingForClient(ctx, cfg.ClientID)
	if err != nil {
		if errors.Is(err, runs.ErrRunNotFound) {
			return smsReplyNoPending
		}
		g.exec.logger.Error("pending draft lookup failed", "error", err, "client_id", cfg.ClientID)
		return smsReplyNoPending
	}

	if approve {
		if _, err := g.Approve(ctx, cfg.ClientID, run.ID, ""); err != nil {
			g.exec.logger.Error("sms approval failed", "error", err, "run_id", run.ID)
			return "Couldn't send the draft, reply SEND to try again"
		}
		return smsReplySent
	}
	if _, err := g.Discard(ctx, cfg.ClientID, run.ID); err != nil {
		g.exec.logger.Error("sms discard failed", "error", err, "run_id", run.ID)
		return smsReplyNoPending
	}
	return smsReplyDiscarded
}

func firstWordUpper(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(strings.Trim(fields[0], ".,!"))
}
