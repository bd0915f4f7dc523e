package inbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brightreach/leadpilot/internal/automations"
	"github.com/brightreach/leadpilot/internal/conversations"
	"github.com/brightreach/leadpilot/internal/creds"
	"github.com/brightreach/leadpilot/internal/engine"
	"github.com/brightreach/leadpilot/internal/leads"
	"github.com/brightreach/leadpilot/internal/observability/metrics"
	"github.com/brightreach/leadpilot/pkg/logging"
)

type configSource interface {
	ListEnabled(ctx context.Context, key string) ([]automations.Config, error)
	EmailAccount(ctx context.Context, clientID uuid.UUID) ([]byte, error)
}

type leadSource interface {
	FindRepliedByEmail(ctx context.Context, clientID uuid.UUID, email string) (*leads.Lead, error)
}

type threadLog interface {
	Append(ctx context.Context, e *conversations.Entry) error
}

// Poller sweeps every enabled client mailbox for unseen messages and
// feeds new leads into the engine. One client's broken mailbox never
// stops the others.
type Poller struct {
	configs configSource
	leadsrc leadSource
	thread  threadLog
	engine  *engine.Executor
	dial    Dialer
	lock    Locker
	window  time.Duration
	lockTTL time.Duration
	metrics *metrics.PipelineMetrics
	logger  *logging.Logger
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Configs configSource
	Leads   leadSource
	Thread  threadLog
	Engine  *engine.Executor
	Dial    Dialer
	Lock    Locker
	Window  time.Duration
	LockTTL time.Duration
	Metrics *metrics.PipelineMetrics
	Logger  *logging.Logger
}

// NewPoller wires a poller. Dial defaults to the TLS IMAP dialer and
// Lock to a no-op lease.
func NewPoller(opts PollerOptions) *Poller {
	if opts.Dial == nil {
		opts.Dial = Dial
	}
	if opts.Lock == nil {
		opts.Lock = NoopLocker()
	}
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 4 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Poller{
		configs: opts.Configs,
		leadsrc: opts.Leads,
		thread:  opts.Thread,
		engine:  opts.Engine,
		dial:    opts.Dial,
		lock:    opts.Lock,
		window:  opts.Window,
		lockTTL: opts.LockTTL,
		metrics: opts.Metrics,
		logger:  opts.Logger.Component("poller"),
	}
}

// Poll runs one sweep across all enabled clients. Per-client failures
// are logged and counted, never returned, so the cycle always covers
// every mailbox.
func (p *Poller) Poll(ctx context.Context) error {
	start := time.Now()
	defer func() { p.metrics.ObservePollDuration(time.Since(start)) }()

	cfgs, err := p.configs.ListEnabled(ctx, automations.KeyLeadReply)
	if err != nil {
		return fmt.Errorf("list enabled automations: %w", err)
	}
	for i := range cfgs {
		cfg := &cfgs[i]
		if err := p.pollClient(ctx, cfg); err != nil {
			p.logger.Error("poll client failed", "error", err, "client", cfg.ClientSlug)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// pollClient opens one client's mailbox under a lease and processes
// its unseen messages.
func (p *Poller) pollClient(ctx context.Context, cfg *automations.Config) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	account, err := p.configs.EmailAccount(ctx, cfg.ClientID)
	if err != nil {
		return fmt.Errorf("load email account: %w", err)
	}
	imapCreds := creds.ResolveIMAP(account, cfg.SettingsJSON)
	if imapCreds == nil {
		// No mailbox on file; push-based ingest only for this client.
		return nil
	}

	release, ok := p.lock.Acquire(ctx, cfg.ClientSlug, p.lockTTL)
	if !ok {
		p.logger.Info("mailbox lease held elsewhere, skipping", "client", cfg.ClientSlug)
		return nil
	}
	defer release()

	mbox, err := p.dial(ctx, imapCreds)
	if err != nil {
		return fmt.Errorf("open mailbox: %w", err)
	}
	defer mbox.Close()

	msgs, err := mbox.ListUnseen(ctx, time.Now().UTC().Add(-p.window))
	if err != nil {
		return fmt.Errorf("list unseen: %w", err)
	}

	for i := range msgs {
		p.processMessage(ctx, cfg, imapCreds, mbox, &msgs[i])
	}
	return nil
}

// processMessage handles one message end to end. The message is marked
// seen no matter what happened: a poison message must not be retried
// forever.
func (p *Poller) processMessage(ctx context.Context, cfg *automations.Config, imapCreds *creds.IMAPCredentials, mbox Mailbox, msg *Message) {
	defer func() {
		if err := mbox.MarkSeen(ctx, msg.SeqNum); err != nil {
			p.logger.Error("mark seen failed", "error", err, "client", cfg.ClientSlug, "seq", msg.SeqNum)
		}
	}()

	if msg.FromAddress == "" || strings.TrimSpace(msg.Body) == "" {
		p.metrics.ObserveInboxSkip("empty")
		return
	}
	if p.isSelf(cfg, imapCreds, msg.FromAddress) {
		p.metrics.ObserveInboxSkip("self")
		return
	}

	// Dedup before the returning-contact branch: a redelivered message
	// must be a full no-op, not a second inbound entry.
	if msg.MessageID != "" {
		seen, err := p.engine.SeenMessage(ctx, cfg, msg.MessageID)
		if err != nil {
			p.logger.Error("dedup check failed", "error", err, "client", cfg.ClientSlug, "message_id", msg.MessageID)
			return
		}
		if seen {
			p.metrics.ObserveInboxSkip(engine.SkipDuplicate)
			return
		}
	}

	// Envelope-level returning-contact check, before any model call.
	if prior, err := p.leadsrc.FindRepliedByEmail(ctx, cfg.ClientID, msg.FromAddress); err == nil && prior != nil {
		entry := &conversations.Entry{
			ClientID:    cfg.ClientID,
			LeadID:      &prior.ID,
			Direction:   conversations.DirectionInbound,
			FromAddress: msg.FromAddress,
			ToAddress:   cfg.FromEmail,
			Subject:     msg.Subject,
			Content:     msg.Body,
			MessageID:   msg.MessageID,
			InReplyTo:   msg.InReplyTo,
		}
		if err := p.thread.Append(ctx, entry); err != nil {
			p.logger.Error("append inbound entry failed", "error", err, "client", cfg.ClientSlug)
		}
		p.metrics.ObserveInboxSkip(engine.SkipReturningContact)
		p.logger.Info("returning contact, auto-reply suppressed", "client", cfg.ClientSlug, "email", msg.FromAddress)
		return
	}

	out, err := p.engine.HandleNewLead(ctx, cfg, engine.InboundEmail{
		Raw:         rawText(msg),
		MessageID:   msg.MessageID,
		InReplyTo:   msg.InReplyTo,
		Subject:     msg.Subject,
		FromAddress: msg.FromAddress,
		FromName:    msg.FromName,
		ReceivedAt:  msg.Date,
	}, nil)
	if err != nil {
		p.logger.Error("process inbound email failed", "error", err,
			"client", cfg.ClientSlug, "message_id", msg.MessageID)
		return
	}
	switch {
	case out.Skipped:
		p.logger.Info("inbound email skipped", "client", cfg.ClientSlug, "reason", out.SkipReason)
	case out.Sent:
		p.logger.Info("auto-reply sent", "client", cfg.ClientSlug, "run_id", out.Run.ID)
	case out.PendingApproval:
		p.logger.Info("draft awaiting approval", "client", cfg.ClientSlug, "run_id", out.Run.ID)
	default:
		p.logger.Info("reply queued", "client", cfg.ClientSlug, "run_id", out.Run.ID)
	}
}

// isSelf guards against reply loops: never process mail sent from the
// client's own sending identity or mailbox login.
func (p *Poller) isSelf(cfg *automations.Config, imapCreds *creds.IMAPCredentials, from string) bool {
	from = strings.ToLower(from)
	if cfg.FromEmail != "" && from == strings.ToLower(cfg.FromEmail) {
		return true
	}
	if imapCreds.User != "" && from == strings.ToLower(imapCreds.User) {
		return true
	}
	return false
}

// rawText rebuilds a minimal header block plus body for the extraction
// model, which expects full email text.
func rawText(msg *Message) string {
	var b strings.Builder
	if msg.FromName != "" {
		fmt.Fprintf(&b, "From: %s <%s>\n", msg.FromName, msg.FromAddress)
	} else {
		fmt.Fprintf(&b, "From: %s\n", msg.FromAddress)
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	if !msg.Date.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", msg.Date.Format(time.RFC1123Z))
	}
	b.WriteString("\n")
	b.WriteString(msg.Body)
	return b.String()
}
