package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightreach/leadpilot/internal/ai"
	"github.com/brightreach/leadpilot/internal/automations"
	"github.com/brightreach/leadpilot/internal/conversations"
	"github.com/brightreach/leadpilot/internal/creds"
	"github.com/brightreach/leadpilot/internal/engine"
	"github.com/brightreach/leadpilot/internal/http/handlers"
	"github.com/brightreach/leadpilot/internal/leads"
	"github.com/brightreach/leadpilot/internal/mailer"
	"github.com/brightreach/leadpilot/internal/runs"
)

const triggerSecret = "trigger-secret"
const cronSecret = "cron-secret"

// --- doubles ---

type memLedger struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*runs.Run
}

func (m *memLedger) Create(ctx context.Context, r *runs.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now().UTC()
	cp := *r
	m.rows[r.ID] = &cp
	return nil
}

func (m *memLedger) GetForClient(ctx context.Context, clientID, id uuid.UUID) (*runs.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.ClientID != clientID {
		return nil, runs.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memLedger) LatestPendingForClient(ctx context.Context, clientID uuid.UUID) (*runs.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ClientID == clientID && r.Status == runs.StatusPendingApproval {
			cp := *r
			return &cp, nil
		}
	}
	return nil, runs.ErrRunNotFound
}

func (m *memLedger) ListDueQueued(ctx context.Context, asOf time.Time, limit int) ([]runs.Run, error) {
	return nil, nil
}

func (m *memLedger) HasMessageID(ctx context.Context, automationID uuid.UUID, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if messageID != "" && r.AutomationID == automationID && r.MessageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memLedger) move(id uuid.UUID, to runs.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return runs.ErrRunNotFound
	}
	if !runs.Allowed(r.Status, to) {
		return runs.ErrInvalidTransition
	}
	r.Status = to
	return nil
}

func (m *memLedger) MarkPendingApproval(ctx context.Context, id uuid.UUID, draft string) error {
	if err := m.move(id, runs.StatusPendingApproval); err != nil {
		return err
	}
	m.mu.Lock()
	m.rows[id].DraftContent = draft
	m.mu.Unlock()
	return nil
}

func (m *memLedger) MarkSuccess(ctx context.Context, id uuid.UUID, output string) error {
	return m.move(id, runs.StatusSuccess)
}

func (m *memLedger) MarkError(ctx context.Context, id uuid.UUID, errMsg string) error {
	return m.move(id, runs.StatusError)
}

func (m *memLedger) MarkApproved(ctx context.Context, id uuid.UUID, final string) error {
	return m.move(id, runs.StatusApproved)
}

func (m *memLedger) MarkDiscarded(ctx context.Context, id uuid.UUID) error {
	return m.move(id, runs.StatusDiscarded)
}

type memLeads struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*leads.Lead
}

func (m *memLeads) Create(ctx context.Context, req *leads.CreateLeadRequest) (*leads.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := &leads.Lead{ID: uuid.New(), ClientID: req.ClientID, Name: req.Name, Email: req.Email}
	m.rows[l.ID] = l
	cp := *l
	return &cp, nil
}

func (m *memLeads) GetByID(ctx context.Context, clientID, id uuid.UUID) (*leads.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rows[id]
	if !ok {
		return nil, leads.ErrLeadNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *memLeads) FindRepliedByEmail(ctx context.Context, clientID uuid.UUID, email string) (*leads.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.rows {
		if l.ClientID == clientID && l.Email == email && l.RepliedAt != nil {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memLeads) MarkReplied(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.rows[id]; ok && l.RepliedAt == nil {
		l.RepliedAt = &at
	}
	return nil
}

type memThread struct {
	mu      sync.Mutex
	entries []conversations.Entry
}

func (m *memThread) Append(ctx context.Context, e *conversations.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

type memConfigs struct {
	mu  sync.Mutex
	cfg *automations.Config
}

func (m *memConfigs) GetForClient(ctx context.Context, clientID uuid.UUID, key string) (*automations.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.ClientID != clientID || m.cfg.Key != key {
		return nil, automations.ErrConfigNotFound
	}
	cp := *m.cfg
	return &cp, nil
}

func (m *memConfigs) FindByNotifyPhone(ctx context.Context, phone string) (*automations.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.NotifyPhone == phone {
		cp := *m.cfg
		return &cp, nil
	}
	return nil, automations.ErrConfigNotFound
}

func (m *memConfigs) ResolveClientSlug(ctx context.Context, slug string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.ClientSlug == slug {
		return m.cfg.ClientID, nil
	}
	return uuid.Nil, automations.ErrClientNotFound
}

func (m *memConfigs) EmailAccount(ctx context.Context, clientID uuid.UUID) ([]byte, error) {
	return nil, nil
}

func (m *memConfigs) IncrementActions(ctx context.Context, id uuid.UUID) error { return nil }

type stubParser struct{}

func (stubParser) Parse(ctx context.Context, raw string) (*ai.ParsedEmail, error) {
	return &ai.ParsedEmail{FromName: "Pat", FromEmail: "new@customer.com", Subject: "Hi", Message: raw}, nil
}

type stubDrafter struct{}

func (stubDrafter) Draft(ctx context.Context, p ai.Persona, leadName, leadMessage string) (string, error) {
	return "Thanks for reaching out! Dana", nil
}

type countSender struct {
	mu   sync.Mutex
	sent int
}

func (s *countSender) Send(ctx context.Context, msg mailer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++
	return nil
}

type passResolver struct{ s mailer.Sender }

func (r passResolver) For(c *creds.SMTPCredentials) mailer.Sender { return r.s }

type nullNotifier struct{}

func (nullNotifier) ApprovalRequested(ctx context.Context, cfg *automations.Config, run *runs.Run) {}
func (nullNotifier) ReplySent(ctx context.Context, cfg *automations.Config, to, content string)    {}

type stubPoller struct{ polls int }

func (p *stubPoller) Poll(ctx context.Context) error {
	p.polls++
	return nil
}

type stubQueue struct{ processed int }

func (q *stubQueue) ProcessDue(ctx context.Context) (int, error) {
	q.processed++
	return 3, nil
}

type testStack struct {
	handler http.Handler
	ledger  *memLedger
	sender  *countSender
	poller  *stubPoller
	queue   *stubQueue
	cfg     *automations.Config
}

func newStack(t *testing.T, mutate func(*automations.Config)) *testStack {
	t.Helper()
	cfg := &automations.Config{
		ID:          uuid.New(),
		ClientID:    uuid.New(),
		ClientSlug:  "brightside",
		Key:         automations.KeyLeadReply,
		Enabled:     true,
		OwnerName:   "Dana",
		FromEmail:   "dana@brightsidepilates.com",
		NotifyPhone: "+15550001111",
	}
	if mutate != nil {
		mutate(cfg)
	}
	s := &testStack{
		ledger: &memLedger{rows: make(map[uuid.UUID]*runs.Run)},
		sender: &countSender{},
		poller: &stubPoller{},
		queue:  &stubQueue{},
		cfg:    cfg,
	}
	configs := &memConfigs{cfg: cfg}
	exec := engine.NewExecutor(s.ledger, &memLeads{rows: make(map[uuid.UUID]*leads.Lead)}, &memThread{},
		configs, stubParser{}, stubDrafter{}, passResolver{s: s.sender}, nullNotifier{}, nil, nil)
	gateway := engine.NewGateway(exec)
	registry := automations.NewRegistry(engine.NewLeadReplyAutomation(exec, configs, nil))

	s.handler = New(&Config{
		Automations:   handlers.NewAutomationHandler(registry, gateway, configs, nil),
		Webhooks:      handlers.NewWebhookHandler(exec, gateway, configs, configs, "", "", nil),
		Cron:          handlers.NewCronHandler(s.poller, s.queue, nil),
		TriggerSecret: triggerSecret,
		CronSecret:    cronSecret,
	})
	return s
}

func doJSON(t *testing.T, h http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// --- tests ---

func TestHealth(t *testing.T) {
	s := newStack(t, nil)
	rec := doJSON(t, s.handler, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestTriggerRequiresBearer(t *testing.T) {
	s := newStack(t, nil)
	body := map[string]any{"client_slug": "brightside", "payload": map[string]string{"raw_email": "hello"}}

	rec := doJSON(t, s.handler, http.MethodPost, "/automations/lead_reply/trigger", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, s.handler, http.MethodPost, "/automations/lead_reply/trigger", "wrong", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTriggerImmediateSend(t *testing.T) {
	s := newStack(t, nil)
	body := map[string]any{
		"client_slug": "brightside",
		"payload":     map[string]string{"raw_email": "From: Pat\n\nDo you have openings?"},
	}
	rec := doJSON(t, s.handler, http.MethodPost, "/automations/lead_reply/trigger", triggerSecret, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res automations.TriggerResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.PendingApproval)
	assert.NotEqual(t, uuid.Nil, res.RunID)
	assert.Equal(t, 1, s.sender.sent)
}

func TestTriggerUnknownAutomation(t *testing.T) {
	s := newStack(t, nil)
	rec := doJSON(t, s.handler, http.MethodPost, "/automations/nope/trigger", triggerSecret,
		map[string]any{"client_slug": "brightside"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerUnknownClient(t *testing.T) {
	s := newStack(t, nil)
	rec := doJSON(t, s.handler, http.MethodPost, "/automations/lead_reply/trigger", triggerSecret,
		map[string]any{"client_slug": "ghost", "payload": map[string]string{"raw_email": "x"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDraftApproveFlow(t *testing.T) {
	s := newStack(t, func(c *automations.Config) { c.RequireApproval = true })

	body := map[string]any{
		"client_slug": "brightside",
		"payload":     map[string]string{"raw_email": "From: Pat\n\nPricing please"},
	}
	rec := doJSON(t, s.handler, http.MethodPost, "/automations/lead_reply/trigger", triggerSecret, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var res automations.TriggerResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.PendingApproval)
	require.Equal(t, 0, s.sender.sent)

	patch := map[string]any{"action": "approve", "client_slug": "brightside", "content": "Hello there"}
	rec = doJSON(t, s.handler, http.MethodPatch, "/automations/drafts/"+res.RunID.String(), triggerSecret, patch)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, s.sender.sent)
	assert.Contains(t, rec.Body.String(), string(runs.StatusApproved))

	// Second decision on the same run conflicts.
	rec = doJSON(t, s.handler, http.MethodPatch, "/automations/drafts/"+res.RunID.String(), triggerSecret, patch)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDraftBadAction(t *testing.T) {
	s := newStack(t, func(c *automations.Config) { c.RequireApproval = true })
	rec := doJSON(t, s.handler, http.MethodPatch, "/automations/drafts/"+uuid.NewString(), triggerSecret,
		map[string]any{"action": "forward", "client_slug": "brightside"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInboundLeadWebhook(t *testing.T) {
	s := newStack(t, nil)
	body := map[string]string{
		"to":        "leads+brightside@in.leadpilot.io",
		"raw_email": "From: Pat <new@customer.com>\n\nInterested in classes",
	}
	rec := doJSON(t, s.handler, http.MethodPost, "/webhooks/inbound-lead", "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"sent":true`)
	assert.Equal(t, 1, s.sender.sent)
}

func TestInboundLeadUnknownSlug(t *testing.T) {
	s := newStack(t, nil)
	body := map[string]string{"to": "leads+ghost@in.leadpilot.io", "raw_email": "hello"}
	rec := doJSON(t, s.handler, http.MethodPost, "/webhooks/inbound-lead", "", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTwilioWebhookDiscard(t *testing.T) {
	s := newStack(t, func(c *automations.Config) { c.RequireApproval = true })

	trig := map[string]any{
		"client_slug": "brightside",
		"payload":     map[string]string{"raw_email": "From: Pat\n\nHi"},
	}
	rec := doJSON(t, s.handler, http.MethodPost, "/automations/lead_reply/trigger", triggerSecret, trig)
	require.Equal(t, http.StatusOK, rec.Code)

	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("From", "+15550001111")
	form.Set("To", "+15559990000")
	form.Set("Body", "SKIP")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Draft discarded")
	assert.Equal(t, 0, s.sender.sent)

	for _, r := range s.ledger.rows {
		assert.Equal(t, runs.StatusDiscarded, r.Status)
	}
}

func TestCronTick(t *testing.T) {
	s := newStack(t, nil)

	rec := doJSON(t, s.handler, http.MethodGet, "/internal/cron/tick", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, s.handler, http.MethodGet, "/internal/cron/tick", cronSecret, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, s.poller.polls)
	assert.Equal(t, 1, s.queue.processed)
	assert.Contains(t, rec.Body.String(), fmt.Sprintf(`"processed":%d`, 3))
}
