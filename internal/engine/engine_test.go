package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightreach/leadpilot/internal/ai"
	"github.com/brightreach/leadpilot/internal/automations"
	"github.com/brightreach/leadpilot/internal/conversations"
	"github.com/brightreach/leadpilot/internal/creds"
	"github.com/brightreach/leadpilot/internal/leads"
	"github.com/brightreach/leadpilot/internal/mailer"
	"github.com/brightreach/leadpilot/internal/runs"
)

// --- in-memory doubles ---

type fakeLedger struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*runs.Run
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: make(map[uuid.UUID]*runs.Run)}
}

func (f *fakeLedger) Create(ctx context.Context, r *runs.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := r.Payload.Validate(); err != nil {
		return err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = time.Now().UTC()
	cp := *r
	f.rows[r.ID] = &cp
	return nil
}

func (f *fakeLedger) GetForClient(ctx context.Context, clientID, id uuid.UUID) (*runs.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok || r.ClientID != clientID {
		return nil, runs.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeLedger) LatestPendingForClient(ctx context.Context, clientID uuid.UUID) (*runs.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []*runs.Run
	for _, r := range f.rows {
		if r.ClientID == clientID && r.Status == runs.StatusPendingApproval {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		return nil, runs.ErrRunNotFound
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.After(pending[j].CreatedAt) })
	cp := *pending[0]
	return &cp, nil
}

func (f *fakeLedger) ListDueQueued(ctx context.Context, asOf time.Time, limit int) ([]runs.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []runs.Run
	for _, r := range f.rows {
		if r.Status == runs.StatusQueued && r.ProcessAfter != nil && !r.ProcessAfter.After(asOf) {
			out = append(out, *r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeLedger) HasMessageID(ctx context.Context, automationID uuid.UUID, messageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if messageID == "" {
		return false, nil
	}
	for _, r := range f.rows {
		if r.AutomationID == automationID && r.MessageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedger) transition(id uuid.UUID, to runs.Status, apply func(*runs.Run)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return runs.ErrRunNotFound
	}
	if !runs.Allowed(r.Status, to) {
		return runs.ErrInvalidTransition
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	apply(r)
	return nil
}

func (f *fakeLedger) MarkPendingApproval(ctx context.Context, id uuid.UUID, draft string) error {
	return f.transition(id, runs.StatusPendingApproval, func(r *runs.Run) { r.DraftContent = draft })
}

func (f *fakeLedger) MarkSuccess(ctx context.Context, id uuid.UUID, output string) error {
	return f.transition(id, runs.StatusSuccess, func(r *runs.Run) { r.OutputSummary = output })
}

func (f *fakeLedger) MarkError(ctx context.Context, id uuid.UUID, errMsg string) error {
	return f.transition(id, runs.StatusError, func(r *runs.Run) { r.ErrorMessage = errMsg })
}

func (f *fakeLedger) MarkApproved(ctx context.Context, id uuid.UUID, final string) error {
	return f.transition(id, runs.StatusApproved, func(r *runs.Run) { r.DraftContent = final })
}

func (f *fakeLedger) MarkDiscarded(ctx context.Context, id uuid.UUID) error {
	return f.transition(id, runs.StatusDiscarded, func(r *runs.Run) {})
}

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeLedger) get(id uuid.UUID) *runs.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.rows[id]
	return &cp
}

type fakeLeads struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*leads.Lead
}

func newFakeLeads() *fakeLeads { return &fakeLeads{rows: make(map[uuid.UUID]*leads.Lead)} }

func (f *fakeLeads) Create(ctx context.Context, req *leads.CreateLeadRequest) (*leads.Lead, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l := &leads.Lead{
		ID:        uuid.New(),
		ClientID:  req.ClientID,
		Name:      req.Name,
		Email:     strings.ToLower(req.Email),
		Subject:   req.Subject,
		Message:   req.Message,
		CreatedAt: time.Now().UTC(),
	}
	f.rows[l.ID] = l
	cp := *l
	return &cp, nil
}

func (f *fakeLeads) GetByID(ctx context.Context, clientID, id uuid.UUID) (*leads.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.rows[id]
	if !ok || l.ClientID != clientID {
		return nil, leads.ErrLeadNotFound
	}
	cp := *l
	return &cp, nil
}

func (f *fakeLeads) FindRepliedByEmail(ctx context.Context, clientID uuid.UUID, email string) (*leads.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.rows {
		if l.ClientID == clientID && l.Email == strings.ToLower(email) && l.RepliedAt != nil {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeLeads) MarkReplied(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.rows[id]
	if !ok {
		return nil
	}
	if l.RepliedAt == nil {
		l.RepliedAt = &at
	}
	return nil
}

type fakeThread struct {
	mu      sync.Mutex
	entries []conversations.Entry
}

func (f *fakeThread) Append(ctx context.Context, e *conversations.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeThread) byDirection(d conversations.Direction) []conversations.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []conversations.Entry
	for _, e := range f.entries {
		if e.Direction == d {
			out = append(out, e)
		}
	}
	return out
}

type fakeConfigs struct {
	mu      sync.Mutex
	cfg     *automations.Config
	account []byte
}

func (f *fakeConfigs) GetForClient(ctx context.Context, clientID uuid.UUID, key string) (*automations.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cfg == nil || f.cfg.ClientID != clientID || f.cfg.Key != key {
		return nil, automations.ErrConfigNotFound
	}
	cp := *f.cfg
	return &cp, nil
}

func (f *fakeConfigs) FindByNotifyPhone(ctx context.Context, phone string) (*automations.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cfg != nil && f.cfg.NotifyPhone == phone {
		cp := *f.cfg
		return &cp, nil
	}
	return nil, automations.ErrConfigNotFound
}

func (f *fakeConfigs) ResolveClientSlug(ctx context.Context, slug string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cfg != nil && f.cfg.ClientSlug == slug {
		return f.cfg.ClientID, nil
	}
	return uuid.Nil, automations.ErrConfigNotFound
}

func (f *fakeConfigs) EmailAccount(ctx context.Context, clientID uuid.UUID) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.account, nil
}

func (f *fakeConfigs) IncrementActions(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cfg != nil && f.cfg.ID == id {
		f.cfg.ActionsCount++
	}
	return nil
}

func (f *fakeConfigs) actions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.ActionsCount
}

type stubParser struct {
	parsed *ai.ParsedEmail
	err    error
}

func (s *stubParser) Parse(ctx context.Context, raw string) (*ai.ParsedEmail, error) {
	return s.parsed, s.err
}

type stubDrafter struct {
	text string
	err  error
}

func (s *stubDrafter) Draft(ctx context.Context, p ai.Persona, leadName, leadMessage string) (string, error) {
	return s.text, s.err
}

type recordingSender struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (s *recordingSender) Send(ctx context.Context, msg mailer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type stubResolver struct {
	sender mailer.Sender
}

func (s *stubResolver) For(smtpCreds *creds.SMTPCredentials) mailer.Sender { return s.sender }

type recordingNotifier struct {
	mu        sync.Mutex
	approvals int
	sent      int
}

func (n *recordingNotifier) ApprovalRequested(ctx context.Context, cfg *automations.Config, run *runs.Run) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approvals++
}

func (n *recordingNotifier) ReplySent(ctx context.Context, cfg *automations.Config, to, content string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent++
}

type env struct {
	ledger   *fakeLedger
	leads    *fakeLeads
	thread   *fakeThread
	configs  *fakeConfigs
	parser   *stubParser
	drafter  *stubDrafter
	sender   *recordingSender
	notifier *recordingNotifier
	exec     *Executor
	cfg      *automations.Config
}

func newEnv(t *testing.T, mutate func(*automations.Config)) *env {
	t.Helper()
	cfg := &automations.Config{
		ID:           uuid.New(),
		ClientID:     uuid.New(),
		ClientSlug:   "brightside",
		Key:          automations.KeyLeadReply,
		Enabled:      true,
		OwnerName:    "Dana",
		BusinessName: "Brightside Pilates",
		FromEmail:    "dana@brightsidepilates.com",
		FromName:     "Dana",
		NotifyPhone:  "+15550001111",
	}
	if mutate != nil {
		mutate(cfg)
	}
	e := &env{
		ledger:  newFakeLedger(),
		leads:   newFakeLeads(),
		thread:  &fakeThread{},
		configs: &fakeConfigs{cfg: cfg},
		parser: &stubParser{parsed: &ai.ParsedEmail{
			FromName:  "Pat Rivera",
			FromEmail: "new@customer.com",
			Subject:   "Class inquiry",
			Message:   "Do you offer beginner classes?",
		}},
		drafter:  &stubDrafter{text: "Hi Pat, yes we do! Dana"},
		sender:   &recordingSender{},
		notifier: &recordingNotifier{},
		cfg:      cfg,
	}
	e.exec = NewExecutor(e.ledger, e.leads, e.thread, e.configs, e.parser, e.drafter,
		&stubResolver{sender: e.sender}, e.notifier, nil, nil)
	return e
}

func inbound(msgID string) InboundEmail {
	return InboundEmail{
		Raw:         "From: Pat Rivera <new@customer.com>\nSubject: Class inquiry\n\nDo you offer beginner classes?",
		MessageID:   msgID,
		Subject:     "Class inquiry",
		FromAddress: "new@customer.com",
		FromName:    "Pat Rivera",
		ReceivedAt:  time.Now().UTC(),
	}
}

// --- scenarios ---

func TestImmediateReplyHappyPath(t *testing.T) {
	e := newEnv(t, nil)

	out, err := e.exec.HandleNewLead(context.Background(), e.cfg, inbound("<m1@mail>"), nil)
	require.NoError(t, err)
	require.True(t, out.Sent)
	require.NotNil(t, out.Lead)

	assert.Len(t, e.leads.rows, 1)
	assert.NotNil(t, e.leads.rows[out.Lead.ID].RepliedAt, "lead should be marked replied")

	in := e.thread.byDirection(conversations.DirectionInbound)
	outEntries := e.thread.byDirection(conversations.DirectionOutbound)
	require.Len(t, in, 1)
	require.Len(t, outEntries, 1)
	assert.True(t, outEntries[0].WasAIGenerated)
	assert.Equal(t, "new@customer.com", outEntries[0].ToAddress)
	assert.Equal(t, "<m1@mail>", outEntries[0].InReplyTo)

	assert.Equal(t, 1, e.configs.actions())
	assert.Equal(t, runs.StatusSuccess, e.ledger.get(out.Run.ID).Status)
	assert.Equal(t, 1, e.notifier.sent)
}

func TestApprovalRequiredHoldsDraft(t *testing.T) {
	e := newEnv(t, func(c *automations.Config) { c.RequireApproval = true })

	out, err := e.exec.HandleNewLead(context.Background(), e.cfg, inbound("<m2@mail>"), nil)
	require.NoError(t, err)
	require.True(t, out.PendingApproval)

	run := e.ledger.get(out.Run.ID)
	assert.Equal(t, runs.StatusPendingApproval, run.Status)
	assert.NotEmpty(t, run.DraftContent)

	assert.Empty(t, e.thread.byDirection(conversations.DirectionOutbound), "nothing sent before approval")
	assert.Equal(t, 0, e.sender.count())
	assert.Equal(t, 0, e.configs.actions())
	assert.Equal(t, 1, e.notifier.approvals)
}

func TestApproveWithEditedContent(t *testing.T) {
	e := newEnv(t, func(c *automations.Config) { c.RequireApproval = true })

	out, err := e.exec.HandleNewLead(context.Background(), e.cfg, inbound("<m3@mail>"), nil)
	require.NoError(t, err)

	gw := NewGateway(e.exec)
	run, err := gw.Approve(context.Background(), e.cfg.ClientID, out.Run.ID, "Hello there")
	require.NoError(t, err)
	assert.Equal(t, runs.StatusApproved, run.Status)

	outEntries := e.thread.byDirection(conversations.DirectionOutbound)
	require.Len(t, outEntries, 1)
	assert.Equal(t, "Hello there", outEntries[0].Content, "edited content overrides the draft")
	assert.True(t, outEntries[0].WasEdited)
	assert.Equal(t, 1, e.configs.actions())
	assert.NotNil(t, e.leads.rows[out.Lead.ID].RepliedAt)
}

func TestReturningContactSuppressed(t *testing.T) {
	e := newEnv(t, nil)

	// First contact gets the auto-reply and replied_at.
	first, err := e.exec.HandleNewLead(context.Background(), e.cfg, inbound("<m4@mail>"), nil)
	require.NoError(t, err)
	require.True(t, first.Sent)
	runsBefore := e.ledger.count()

	second, err := e.exec.HandleNewLead(context.Background(), e.cfg, inbound("<m5@mail>"), nil)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, SkipReturningContact, second.SkipReason)

	assert.Equal(t, runsBefore, e.ledger.count(), "no new run for returning contact")
	assert.Len(t, e.thread.byDirection(conversations.DirectionInbound), 2, "inbound entry still appended")
	assert.Len(t, e.thread.byDirection(conversations.DirectionOutbound), 1)
	assert.Equal(t, 1, e.sender.count())
}

func TestDuplicateMessageIDIsNoOp(t *testing.T) {
	e := newEnv(t, func(c *automations.Config) { c.RequireApproval = true })

	_, err := e.exec.HandleNewLead(context.Background(), e.cfg, inbound("<dup@mail>"), nil)
	require.NoError(t, err)
	leadsBefore := len(e.leads.rows)
	entriesBefore := len(e.thread.entries)
	runsBefore := e.ledger.count()

	out, err := e.exec.HandleNewLead(context.Background(), e.cfg, inbound("<dup@mail>"), nil)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, SkipDuplicate, out.SkipReason)
	assert.Equal(t, leadsBefore, len(e.leads.rows))
	assert.Equal(t, entriesBefore, len(e.thread.entries))
	assert.Equal(t, runsBefore, e.ledger.count())
}

func TestDelayedRunWaitsForProcessAfter(t *testing.T) {
	e := newEnv(t, func(c *automations.Config) { c.ReplyDelayMinutes = 30 })

	start := time.Now().UTC()
	out, err := e.exec.HandleNewLead(context.Background(), e.cfg, inbound("<m6@mail>"), nil)
	require.NoError(t, err)
	require.NotNil(t, out.Run)

	run := e.ledger.get(out.Run.ID)
	require.Equal(t, runs.StatusQueued, run.Status)
	require.NotNil(t, run.ProcessAfter)
	assert.WithinDuration(t, start.Add(30*time.Minute), *run.ProcessAfter, 5*time.Second)

	p := NewQueueProcessor(e.exec, 10, nil)

	// Ten minutes in: not due yet.
	due, err := e.ledger.ListDueQueued(context.Background(), start.Add(10*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	assert.Equal(t, runs.StatusQueued, e.ledger.get(out.Run.ID).Status)

	// Past the delay: the sweep picks it up and it lands terminal.
	run.ProcessAfter = &start
	e.ledger.rows[run.ID].ProcessAfter = &start
	n, err := p.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, runs.StatusSuccess, e.ledger.get(out.Run.ID).Status)
	assert.Equal(t, 1, e.sender.count())
}

func TestSMSSkipDiscardsDraft(t *testing.T) {
	e := newEnv(t, func(c *automations.Config) { c.RequireApproval = true })

	out, err := e.exec.HandleNewLead(context.Background(), e.cfg, inbound("<m7@mail>"), nil)
	require.NoError(t, err)

	gw := NewGateway(e.exec)
	reply := gw.HandleSMSReply(context.Background(), "+15550001111", "SKIP")
	assert.Equal(t, "Draft discarded", reply)
	assert.Equal(t, runs.StatusDiscarded, e.ledger.get(out.Run.ID).Status)
	assert.Equal(t, 0, e.sender.count())
}

func TestSMSSendApprovesDraft(t *testing.T) {
	e := newEnv(t, func(c *automations.Config) { c.RequireApproval = true })

	out, err := e.exec.HandleNewLead(context.Background(), e.cfg, inbound("<m8@mail>"), nil)
	require.NoError(t, err)

	gw := NewGateway(e.exec)
	assert.Equal(t, "Sent ✓", gw.HandleSMSReply(context.Background(), "+15550001111", "send"))
	assert.Equal(t, runs.StatusApproved, e.ledger.get(out.Run.ID).Status)
	assert.Equal(t, 1, e.sender.count())

	assert.Equal(t, "No pending draft found", gw.HandleSMSReply(context.Background(), "+15550001111", "SEND"))
}

func TestSMSUnknownNumberAndKeyword(t *testing.T) {
	e := newEnv(t, func(c *automations.Config) { c.RequireApproval = true })
	gw := NewGateway(e.exec)

	assert.Equal(t, smsReplyNoClient, gw.HandleSMSReply(context.Background(), "+19998887777", "SEND"))
	assert.Equal(t, smsReplyUnknown, gw.HandleSMSReply(context.Background(), "+15550001111", "maybe later"))
}

func TestApproveValidation(t *testing.T) {
	e := newEnv(t, func(c *automations.Config) { c.RequireApproval = true })
	gw := NewGateway(e.exec)

	_, err := gw.Approve(context.Background(), e.cfg.ClientID, uuid.New(), "")
	assert.ErrorIs(t, err, runs.ErrRunNotFound)

	out, err := e.exec.HandleNewLead(context.Background(), e.cfg, inbound("<m9@mail>"), nil)
	require.NoError(t, err)

	_, err = gw.Resolve(context.Background(), e.cfg.ClientID, out.Run.ID, "tweet", "")
	assert.ErrorIs(t, err, ErrUnknownAction)

	// Blank out the draft: approval without content must be rejected.
	e.ledger.rows[out.Run.ID].DraftContent = ""
	_, err = gw.Approve(context.Background(), e.cfg.ClientID, out.Run.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyContent)
	assert.Equal(t, runs.StatusPendingApproval, e.ledger.get(out.Run.ID).Status)
}

func TestApproveSendFailureLeavesRunPending(t *testing.T) {
	e := newEnv(t, func(c *automations.Config) { c.RequireApproval = true })

	out, err := e.exec.HandleNewLead(context.Background(), e.cfg, inbound("<m10@mail>"), nil)
	require.NoError(t, err)

	e.sender.err = errors.New("smtp 451 temporary failure")
	gw := NewGateway(e.exec)
	_, err = gw.Approve(context.Background(), e.cfg.ClientID, out.Run.ID, "")
	require.Error(t, err)
	assert.Equal(t, runs.StatusPendingApproval, e.ledger.get(out.Run.ID).Status, "approval stays retryable")

	e.sender.err = nil
	_, err = gw.Approve(context.Background(), e.cfg.ClientID, out.Run.ID, "")
	require.NoError(t, err)
	assert.Equal(t, runs.StatusApproved, e.ledger.get(out.Run.ID).Status)
}

func TestDiscardThenApproveRejected(t *testing.T) {
	e := newEnv(t, func(c *automations.Config) { c.RequireApproval = true })

	out, err := e.exec.HandleNewLead(context.Background(), e.cfg, inbound("<m11@mail>"), nil)
	require.NoError(t, err)

	gw := NewGateway(e.exec)
	_, err = gw.Discard(context.Background(), e.cfg.ClientID, out.Run.ID)
	require.NoError(t, err)

	_, err = gw.Approve(context.Background(), e.cfg.ClientID, out.Run.ID, "")
	assert.ErrorIs(t, err, ErrNotPending)
	assert.Equal(t, 0, e.sender.count())
}

func TestSendFailureRecordsErrorRun(t *testing.T) {
	e := newEnv(t, nil)
	e.sender.err = errors.New("smtp connection refused")

	_, err := e.exec.HandleNewLead(context.Background(), e.cfg, inbound("<m12@mail>"), nil)
	require.Error(t, err)

	// The lead exists but was never marked replied, so a later inbound
	// message still gets a fresh attempt.
	require.Len(t, e.leads.rows, 1)
	for _, l := range e.leads.rows {
		assert.Nil(t, l.RepliedAt)
	}
	var errRuns int
	for _, r := range e.ledger.rows {
		if r.Status == runs.StatusError {
			errRuns++
			assert.Contains(t, r.ErrorMessage, "send failed")
		}
	}
	assert.Equal(t, 1, errRuns)
	assert.Equal(t, 0, e.configs.actions())
}

func TestDraftFailureOnQueuedRunMarksError(t *testing.T) {
	e := newEnv(t, func(c *automations.Config) { c.ReplyDelayMinutes = 1 })

	out, err := e.exec.HandleNewLead(context.Background(), e.cfg, inbound("<m13@mail>"), nil)
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Minute)
	e.ledger.rows[out.Run.ID].ProcessAfter = &past
	e.drafter.err = errors.New("model overloaded")

	p := NewQueueProcessor(e.exec, 10, nil)
	n, err := p.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	run := e.ledger.get(out.Run.ID)
	assert.Equal(t, runs.StatusError, run.Status)
	assert.Contains(t, run.ErrorMessage, "draft generation failed")
}

func TestNoSenderConfigured(t *testing.T) {
	e := newEnv(t, nil)
	e.exec.senders = &stubResolver{sender: nil}

	_, err := e.exec.HandleNewLead(context.Background(), e.cfg, inbound("<m14@mail>"), nil)
	assert.ErrorIs(t, err, ErrNoSenderConfigured)
}

func TestParseFallbackToEnvelope(t *testing.T) {
	e := newEnv(t, nil)
	e.parser.parsed = nil
	e.parser.err = errors.New("model returned prose")

	out, err := e.exec.HandleNewLead(context.Background(), e.cfg, inbound("<m15@mail>"), nil)
	require.NoError(t, err)
	require.True(t, out.Sent)
	assert.Equal(t, "new@customer.com", out.Lead.Email)
}

func TestParseFailureWithoutEnvelopeSkips(t *testing.T) {
	e := newEnv(t, nil)
	e.parser.parsed = nil
	e.parser.err = errors.New("model returned prose")

	em := inbound("<m16@mail>")
	em.FromAddress = ""
	out, err := e.exec.HandleNewLead(context.Background(), e.cfg, em, nil)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, SkipUnparseable, out.SkipReason)
	assert.Equal(t, 0, e.ledger.count())
}

func TestTriggerHandler(t *testing.T) {
	e := newEnv(t, nil)
	h := NewLeadReplyAutomation(e.exec, e.configs, nil)
	require.Equal(t, automations.KeyLeadReply, h.Key())

	res, err := h.Trigger(context.Background(), e.cfg.ClientID,
		[]byte(`{"from_name":"Pat","from_email":"new@customer.com","subject":"Hi","message":"Interested in classes"}`))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, res.RunID)
	assert.False(t, res.PendingApproval)
	assert.Equal(t, 1, e.sender.count())

	_, err = h.Trigger(context.Background(), e.cfg.ClientID, []byte(`{}`))
	assert.ErrorIs(t, err, ErrEmptyTriggerPayload)

	_, err = h.Trigger(context.Background(), uuid.New(), []byte(`{"raw_email":"hi"}`))
	assert.ErrorIs(t, err, automations.ErrConfigNotFound)
}

func TestTriggerDisabledAutomation(t *testing.T) {
	e := newEnv(t, func(c *automations.Config) { c.Enabled = false })
	h := NewLeadReplyAutomation(e.exec, e.configs, nil)

	_, err := h.Trigger(context.Background(), e.cfg.ClientID, []byte(`{"raw_email":"hello"}`))
	assert.ErrorIs(t, err, ErrAutomationDisabled)
}

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: Class inquiry", replySubject("Class inquiry"))
	assert.Equal(t, "Re: Class inquiry", replySubject("Re: Class inquiry"))
	assert.Equal(t, "RE: pricing", replySubject("RE: pricing"))
	assert.Equal(t, "Re: your inquiry", replySubject("  "))
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	got := truncate("héllo there", 2)
	assert.Equal(t, "h…", got)
	assert.True(t, utf8.ValidString(got))

	got = truncate("ありがとうございます", 4)
	assert.Equal(t, "あ…", got)
	assert.True(t, utf8.ValidString(got))

	assert.Equal(t, "plain", truncate("plain", 10))
}
