package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brightreach/leadpilot/internal/ai"
	"github.com/brightreach/leadpilot/internal/automations"
)

var (
	// ErrEmptyTriggerPayload is returned when a trigger carries neither
	// raw email text, a body URL, nor structured lead fields.
	ErrEmptyTriggerPayload = errors.New("engine: trigger payload has no email content")

	// ErrAutomationDisabled is returned when the client's automation
	// config exists but is switched off.
	ErrAutomationDisabled = errors.New("engine: automation is disabled for client")
)

// TriggerPayload is the body of a push-based lead-reply trigger.
// Callers supply raw email text, a URL the full body can be fetched
// from, or already-structured fields.
type TriggerPayload struct {
	RawEmail  string `json:"raw_email,omitempty"`
	BodyURL   string `json:"body_url,omitempty"`
	FromName  string `json:"from_name,omitempty"`
	FromEmail string `json:"from_email,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Message   string `json:"message,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// BodyFetcher retrieves a full email body referenced by URL.
type BodyFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// HTTPBodyFetcher fetches bodies over plain HTTP with a bounded read.
type HTTPBodyFetcher struct {
	Client *http.Client
}

// Fetch GETs the URL and returns the body, capped at 1 MiB.
func (f *HTTPBodyFetcher) Fetch(ctx context.Context, url string) (string, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch body: unexpected status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// LeadReplyAutomation adapts the executor to the automation registry
// for push-based triggers.
type LeadReplyAutomation struct {
	exec    *Executor
	configs ConfigStore
	fetcher BodyFetcher
}

// NewLeadReplyAutomation wires the trigger handler. fetcher may be nil
// when body-by-URL triggers are not expected.
func NewLeadReplyAutomation(exec *Executor, configs ConfigStore, fetcher BodyFetcher) *LeadReplyAutomation {
	return &LeadReplyAutomation{exec: exec, configs: configs, fetcher: fetcher}
}

// Key returns the registry key this handler serves.
func (a *LeadReplyAutomation) Key() string { return automations.KeyLeadReply }

// Trigger runs one lead-reply invocation synchronously.
func (a *LeadReplyAutomation) Trigger(ctx context.Context, clientID uuid.UUID, payload json.RawMessage) (*automations.TriggerResult, error) {
	cfg, err := a.configs.GetForClient(ctx, clientID, automations.KeyLeadReply)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, ErrAutomationDisabled
	}

	var tp TriggerPayload
	if err := json.Unmarshal(payload, &tp); err != nil {
		return nil, fmt.Errorf("decode trigger payload: %w", err)
	}

	raw := tp.RawEmail
	if raw == "" && tp.BodyURL != "" && a.fetcher != nil {
		raw, err = a.fetcher.Fetch(ctx, tp.BodyURL)
		if err != nil {
			return nil, fmt.Errorf("fetch email body: %w", err)
		}
	}

	var parsed *ai.ParsedEmail
	if strings.TrimSpace(tp.FromEmail) != "" && strings.TrimSpace(tp.Message) != "" {
		parsed = &ai.ParsedEmail{
			FromName:  tp.FromName,
			FromEmail: tp.FromEmail,
			Subject:   tp.Subject,
			Message:   tp.Message,
		}
	} else if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyTriggerPayload
	}

	out, err := a.exec.HandleNewLead(ctx, cfg, InboundEmail{
		Raw:         raw,
		MessageID:   tp.MessageID,
		Subject:     tp.Subject,
		FromAddress: tp.FromEmail,
		FromName:    tp.FromName,
		ReceivedAt:  time.Now().UTC(),
	}, parsed)
	if err != nil {
		return nil, err
	}

	res := &automations.TriggerResult{PendingApproval: out.PendingApproval}
	if out.Run != nil {
		res.RunID = out.Run.ID
	}
	switch {
	case out.Skipped:
		res.Summary = "skipped: " + out.SkipReason
	case out.PendingApproval:
		res.Summary = "draft awaiting approval"
	case out.Sent:
		res.Summary = out.Output
	default:
		res.Summary = "reply queued"
	}
	return res, nil
}
