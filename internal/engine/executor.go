package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/brightreach/leadpilot/internal/ai"
	"github.com/brightreach/leadpilot/internal/automations"
	"github.com/brightreach/leadpilot/internal/conversations"
	"github.com/brightreach/leadpilot/internal/creds"
	"github.com/brightreach/leadpilot/internal/leads"
	"github.com/brightreach/leadpilot/internal/mailer"
	"github.com/brightreach/leadpilot/internal/observability/metrics"
	"github.com/brightreach/leadpilot/internal/runs"
	"github.com/brightreach/leadpilot/pkg/logging"
)

// ErrNoSenderConfigured is a configuration failure: the client has no
// SMTP account and no platform sender exists. Operator action needed.
var ErrNoSenderConfigured = errors.New("engine: no outbound email sender configured for client")

// RunLedger is the slice of the run store the executor needs.
type RunLedger interface {
	Create(ctx context.Context, r *runs.Run) error
	GetForClient(ctx context.Context, clientID, id uuid.UUID) (*runs.Run, error)
	LatestPendingForClient(ctx context.Context, clientID uuid.UUID) (*runs.Run, error)
	ListDueQueued(ctx context.Context, asOf time.Time, limit int) ([]runs.Run, error)
	HasMessageID(ctx context.Context, automationID uuid.UUID, messageID string) (bool, error)
	MarkPendingApproval(ctx context.Context, id uuid.UUID, draft string) error
	MarkSuccess(ctx context.Context, id uuid.UUID, output string) error
	MarkError(ctx context.Context, id uuid.UUID, errMsg string) error
	MarkApproved(ctx context.Context, id uuid.UUID, finalContent string) error
	MarkDiscarded(ctx context.Context, id uuid.UUID) error
}

// LeadStore is the slice of the lead store the executor needs.
type LeadStore interface {
	Create(ctx context.Context, req *leads.CreateLeadRequest) (*leads.Lead, error)
	GetByID(ctx context.Context, clientID, id uuid.UUID) (*leads.Lead, error)
	FindRepliedByEmail(ctx context.Context, clientID uuid.UUID, email string) (*leads.Lead, error)
	MarkReplied(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ThreadLog appends conversation entries.
type ThreadLog interface {
	Append(ctx context.Context, e *conversations.Entry) error
}

// ConfigStore is the slice of the automation store the engine needs.
type ConfigStore interface {
	GetForClient(ctx context.Context, clientID uuid.UUID, key string) (*automations.Config, error)
	FindByNotifyPhone(ctx context.Context, phone string) (*automations.Config, error)
	ResolveClientSlug(ctx context.Context, slug string) (uuid.UUID, error)
	EmailAccount(ctx context.Context, clientID uuid.UUID) ([]byte, error)
	IncrementActions(ctx context.Context, id uuid.UUID) error
}

// Drafter produces reply text for a persona.
type Drafter interface {
	Draft(ctx context.Context, persona ai.Persona, leadName, leadMessage string) (string, error)
}

// LeadParser extracts structured lead fields from raw email text.
type LeadParser interface {
	Parse(ctx context.Context, raw string) (*ai.ParsedEmail, error)
}

// SenderResolver picks the outbound email adapter per client.
type SenderResolver interface {
	For(smtpCreds *creds.SMTPCredentials) mailer.Sender
}

// Notifier delivers best-effort owner notifications.
type Notifier interface {
	ApprovalRequested(ctx context.Context, cfg *automations.Config, run *runs.Run)
	ReplySent(ctx context.Context, cfg *automations.Config, to, content string)
}

// Outcome summarizes one unit of lead-reply work.
type Outcome struct {
	Run             *runs.Run
	Lead            *leads.Lead
	Sent            bool
	PendingApproval bool
	Skipped         bool
	SkipReason      string
	Output          string
}

// Executor owns the draft → approve-or-send path shared by the inbox
// poller, the delay queue, and webhook ingest.
type Executor struct {
	ledger   RunLedger
	leads    LeadStore
	thread   ThreadLog
	configs  ConfigStore
	parser   LeadParser
	drafter  Drafter
	senders  SenderResolver
	notifier Notifier
	metrics  *metrics.PipelineMetrics
	logger   *logging.Logger
}

// NewExecutor wires the executor.
func NewExecutor(
	ledger RunLedger,
	leadStore LeadStore,
	thread ThreadLog,
	configs ConfigStore,
	parser LeadParser,
	drafter Drafter,
	senders SenderResolver,
	notifier Notifier,
	m *metrics.PipelineMetrics,
	logger *logging.Logger,
) *Executor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Executor{
		ledger:   ledger,
		leads:    leadStore,
		thread:   thread,
		configs:  configs,
		parser:   parser,
		drafter:  drafter,
		senders:  senders,
		notifier: notifier,
		metrics:  m,
		logger:   logger.Component("engine"),
	}
}

// Enqueue persists a queued run to be picked up once the configured
// delay elapses. Nothing is drafted or sent yet.
func (e *Executor) Enqueue(ctx context.Context, cfg *automations.Config, payload *runs.LeadReplyPayload) (*runs.Run, error) {
	after := time.Now().UTC().Add(time.Duration(cfg.ReplyDelayMinutes) * time.Minute)
	run := &runs.Run{
		AutomationID: cfg.ID,
		ClientID:     cfg.ClientID,
		Status:       runs.StatusQueued,
		MessageID:    payload.MessageID,
		InputSummary: inputSummary(payload),
		ProcessAfter: &after,
		Payload: runs.Payload{
			Kind:      runs.PayloadKindLeadReply,
			LeadReply: payload,
		},
	}
	if err := e.ledger.Create(ctx, run); err != nil {
		return nil, err
	}
	e.metrics.ObserveRun("queued")
	e.logger.Info("run queued", "run_id", run.ID, "client_id", cfg.ClientID, "process_after", after)
	return run, nil
}

// Execute runs the draft → approve-or-send path. When existing is nil
// a fresh run row is created in its resulting state (the immediate
// path); otherwise the existing queued run is transitioned (the delay
// queue path). Every failure lands in the ledger as error before it is
// returned.
func (e *Executor) Execute(ctx context.Context, cfg *automations.Config, payload *runs.LeadReplyPayload, existing *runs.Run) (*Outcome, error) {
	draft, err := e.drafter.Draft(ctx, personaFor(cfg), payload.ToName, payload.Message)
	if err != nil {
		e.recordFailure(ctx, cfg, payload, existing, fmt.Sprintf("draft generation failed: %v", err))
		return nil, err
	}

	if cfg.RequireApproval {
		run, err := e.holdForApproval(ctx, cfg, payload, existing, draft)
		if err != nil {
			return nil, err
		}
		e.metrics.ObserveRun("pending_approval")
		e.notifier.ApprovalRequested(ctx, cfg, run)
		return &Outcome{Run: run, PendingApproval: true}, nil
	}

	run, sendErr := e.sendDraft(ctx, cfg, payload, existing, draft, false)
	if sendErr != nil {
		return nil, sendErr
	}
	e.notifier.ReplySent(ctx, cfg, payload.To, draft)
	return &Outcome{Run: run, Sent: true, Output: run.OutputSummary}, nil
}

// holdForApproval persists the draft as pending_approval.
func (e *Executor) holdForApproval(ctx context.Context, cfg *automations.Config, payload *runs.LeadReplyPayload, existing *runs.Run, draft string) (*runs.Run, error) {
	if existing != nil {
		if err := e.ledger.MarkPendingApproval(ctx, existing.ID, draft); err != nil {
			return nil, err
		}
		existing.Status = runs.StatusPendingApproval
		existing.DraftContent = draft
		return existing, nil
	}
	run := &runs.Run{
		AutomationID: cfg.ID,
		ClientID:     cfg.ClientID,
		Status:       runs.StatusPendingApproval,
		DraftContent: draft,
		MessageID:    payload.MessageID,
		InputSummary: inputSummary(payload),
		Payload: runs.Payload{
			Kind:      runs.PayloadKindLeadReply,
			LeadReply: payload,
		},
	}
	if err := e.ledger.Create(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// sendDraft resolves the sender, delivers the reply, and applies the
// success side effects: outbound entry, replied_at, counter. The
// edited flag marks approval-path sends whose content was changed by
// the owner.
func (e *Executor) sendDraft(ctx context.Context, cfg *automations.Config, payload *runs.LeadReplyPayload, existing *runs.Run, content string, edited bool) (*runs.Run, error) {
	sender, fromEmail, fromName, err := e.resolveSender(ctx, cfg)
	if err != nil {
		e.recordFailure(ctx, cfg, payload, existing, err.Error())
		return nil, err
	}
	if payload.FromEmail != "" {
		fromEmail = payload.FromEmail
	}
	if payload.FromName != "" {
		fromName = payload.FromName
	}

	msg := mailer.Message{
		To:        payload.To,
		ToName:    payload.ToName,
		Subject:   replySubject(payload.Subject),
		Body:      content,
		FromEmail: fromEmail,
		FromName:  fromName,
		InReplyTo: payload.MessageID,
	}
	if err := sender.Send(ctx, msg); err != nil {
		e.metrics.ObserveSend("error")
		e.recordFailure(ctx, cfg, payload, existing, fmt.Sprintf("send failed: %v", err))
		return nil, err
	}
	e.metrics.ObserveSend("ok")

	output := fmt.Sprintf("replied to %s", payload.To)
	run := existing
	if run != nil {
		if err := e.ledger.MarkSuccess(ctx, run.ID, output); err != nil {
			e.logger.Error("mark success failed", "error", err, "run_id", run.ID)
		} else {
			run.Status = runs.StatusSuccess
			run.OutputSummary = output
		}
	} else {
		run = &runs.Run{
			AutomationID:  cfg.ID,
			ClientID:      cfg.ClientID,
			Status:        runs.StatusSuccess,
			DraftContent:  content,
			MessageID:     payload.MessageID,
			InputSummary:  inputSummary(payload),
			OutputSummary: output,
			Payload: runs.Payload{
				Kind:      runs.PayloadKindLeadReply,
				LeadReply: payload,
			},
		}
		if err := e.ledger.Create(ctx, run); err != nil {
			e.logger.Error("record success run failed", "error", err, "client_id", cfg.ClientID)
		}
	}

	e.metrics.ObserveRun("success")
	e.applySendEffects(ctx, cfg, payload, run, msg, edited)
	return run, nil
}

// applySendEffects performs the post-send bookkeeping. Each step is
// independent; a failure is logged and the rest still run so the
// ledger stays as close to reality as possible.
func (e *Executor) applySendEffects(ctx context.Context, cfg *automations.Config, payload *runs.LeadReplyPayload, run *runs.Run, msg mailer.Message, edited bool) {
	runID := run.ID
	entry := &conversations.Entry{
		ClientID:       cfg.ClientID,
		RunID:          &runID,
		Direction:      conversations.DirectionOutbound,
		FromAddress:    msg.FromEmail,
		ToAddress:      msg.To,
		Subject:        msg.Subject,
		Content:        msg.Body,
		InReplyTo:      msg.InReplyTo,
		WasAIGenerated: true,
		WasEdited:      edited,
	}
	if payload.LeadID != uuid.Nil {
		leadID := payload.LeadID
		entry.LeadID = &leadID
	}
	if err := e.thread.Append(ctx, entry); err != nil {
		e.logger.Error("append outbound entry failed", "error", err, "run_id", runID)
	}

	if payload.LeadID != uuid.Nil {
		if err := e.leads.MarkReplied(ctx, payload.LeadID, time.Now().UTC()); err != nil {
			e.logger.Error("mark replied failed", "error", err, "lead_id", payload.LeadID)
		}
	}

	if err := e.configs.IncrementActions(ctx, cfg.ID); err != nil {
		e.logger.Error("increment actions failed", "error", err, "automation_id", cfg.ID)
	}
}

// resolveSender prefers the client's stored SMTP account, then the
// automation config's from identity over the platform sender.
func (e *Executor) resolveSender(ctx context.Context, cfg *automations.Config) (mailer.Sender, string, string, error) {
	account, err := e.configs.EmailAccount(ctx, cfg.ClientID)
	if err != nil {
		e.logger.Warn("email account lookup failed", "error", err, "client_id", cfg.ClientID)
	}
	smtpCreds := creds.ResolveSMTP(account, cfg.SettingsJSON)

	sender := e.senders.For(smtpCreds)
	if sender == nil {
		return nil, "", "", ErrNoSenderConfigured
	}

	fromEmail := cfg.FromEmail
	fromName := cfg.FromName
	if smtpCreds != nil {
		if smtpCreds.FromEmail != "" {
			fromEmail = smtpCreds.FromEmail
		}
		if smtpCreds.FromName != "" {
			fromName = smtpCreds.FromName
		}
	}
	return sender, fromEmail, fromName, nil
}

// recordFailure lands the failure in the ledger: transition an
// existing run to error, or create the run directly in error state so
// the invocation is still visible to operators.
func (e *Executor) recordFailure(ctx context.Context, cfg *automations.Config, payload *runs.LeadReplyPayload, existing *runs.Run, msg string) {
	e.metrics.ObserveRun("error")
	if existing != nil {
		if err := e.ledger.MarkError(ctx, existing.ID, msg); err != nil {
			e.logger.Error("mark error failed", "error", err, "run_id", existing.ID)
		}
		return
	}
	run := &runs.Run{
		AutomationID: cfg.ID,
		ClientID:     cfg.ClientID,
		Status:       runs.StatusError,
		ErrorMessage: msg,
		MessageID:    payload.MessageID,
		InputSummary: inputSummary(payload),
		Payload: runs.Payload{
			Kind:      runs.PayloadKindLeadReply,
			LeadReply: payload,
		},
	}
	if err := e.ledger.Create(ctx, run); err != nil {
		e.logger.Error("record error run failed", "error", err, "client_id", cfg.ClientID)
	}
}

func personaFor(cfg *automations.Config) ai.Persona {
	return ai.Persona{
		OwnerName:          cfg.OwnerName,
		BusinessName:       cfg.BusinessName,
		VoiceSamples:       cfg.VoiceSamples,
		Signature:          cfg.Signature,
		CustomInstructions: cfg.CustomInstructions,
	}
}

func inputSummary(p *runs.LeadReplyPayload) string {
	who := p.To
	if p.ToName != "" {
		who = p.ToName + " <" + p.To + ">"
	}
	return fmt.Sprintf("lead %s: %s", who, truncate(p.Message, 120))
}

func replySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "Re: your inquiry"
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
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
