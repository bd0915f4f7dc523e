package handlers

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/brightreach/leadpilot/internal/automations"
	"github.com/brightreach/leadpilot/internal/engine"
	"github.com/brightreach/leadpilot/internal/sms"
	"github.com/brightreach/leadpilot/pkg/logging"
)

// WebhookHandler serves the push-based ingest endpoints: inbound lead
// email and Twilio SMS replies.
type WebhookHandler struct {
	exec        *engine.Executor
	gateway     *engine.Gateway
	configs     engine.ConfigStore
	clients     ClientResolver
	authToken   string
	callbackURL string
	logger      *logging.Logger
}

// NewWebhookHandler wires the webhook endpoints. authToken and
// callbackURL feed Twilio signature validation; empty authToken skips
// it (dev only).
func NewWebhookHandler(exec *engine.Executor, gateway *engine.Gateway, configs engine.ConfigStore, clients ClientResolver, authToken, callbackURL string, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		exec:        exec,
		gateway:     gateway,
		configs:     configs,
		clients:     clients,
		authToken:   authToken,
		callbackURL: callbackURL,
		logger:      logger.Component("webhooks"),
	}
}

type inboundLeadRequest struct {
	To        string `json:"to"`
	From      string `json:"from,omitempty"`
	FromName  string `json:"from_name,omitempty"`
	Subject   string `json:"subject,omitempty"`
	RawEmail  string `json:"raw_email"`
	MessageID string `json:"message_id,omitempty"`
}

// InboundLead handles POST /webhooks/inbound-lead. The client is
// derived from the recipient address slug: leads+<slug>@ or <slug>@.
func (h *WebhookHandler) InboundLead(w http.ResponseWriter, r *http.Request) {
	var req inboundLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.RawEmail) == "" {
		writeError(w, http.StatusBadRequest, "raw_email is required")
		return
	}

	slug := slugFromRecipient(req.To)
	if slug == "" {
		writeError(w, http.StatusBadRequest, "cannot derive client from recipient address")
		return
	}
	clientID, err := h.clients.ResolveClientSlug(r.Context(), slug)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown client")
		return
	}
	cfg, err := h.configs.GetForClient(r.Context(), clientID, automations.KeyLeadReply)
	if err != nil {
		if errors.Is(err, automations.ErrConfigNotFound) {
			writeError(w, http.StatusNotFound, "automation not configured for client")
			return
		}
		h.logger.Error("load config failed", "error", err, "slug", slug)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !cfg.Enabled {
		writeError(w, http.StatusConflict, "automation is disabled")
		return
	}

	out, err := h.exec.HandleNewLead(r.Context(), cfg, engine.InboundEmail{
		Raw:         req.RawEmail,
		MessageID:   req.MessageID,
		Subject:     req.Subject,
		FromAddress: req.From,
		FromName:    req.FromName,
		ReceivedAt:  time.Now().UTC(),
	}, nil)
	if err != nil {
		h.logger.Error("inbound lead failed", "error", err, "slug", slug)
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	resp := map[string]any{
		"skipped":          out.Skipped,
		"pending_approval": out.PendingApproval,
		"sent":             out.Sent,
	}
	if out.SkipReason != "" {
		resp["skip_reason"] = out.SkipReason
	}
	if out.Run != nil {
		resp["run_id"] = out.Run.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// slugFromRecipient extracts the client slug from the inbound address
// local part: "leads+brightside@in.leadpilot.io" → "brightside",
// "brightside@in.leadpilot.io" → "brightside".
func slugFromRecipient(to string) string {
	to = strings.TrimSpace(strings.ToLower(to))
	if to == "" {
		return ""
	}
	if i := strings.LastIndex(to, "<"); i >= 0 {
		to = strings.Trim(to[i:], "<>")
	}
	local, _, ok := strings.Cut(to, "@")
	if !ok {
		return ""
	}
	if _, tag, ok := strings.Cut(local, "+"); ok {
		return tag
	}
	return local
}

// twiML is the minimal response envelope Twilio expects.
type twiML struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// TwilioSMS handles POST /webhooks/twilio. The free-text body maps to
// an approve or discard of the client's latest pending draft.
func (h *WebhookHandler) TwilioSMS(w http.ResponseWriter, r *http.Request) {
	if h.authToken != "" && !sms.ValidateTwilioSignature(r, h.authToken, h.callbackURL) {
		h.logger.Warn("twilio signature rejected", "remote_ip", r.RemoteAddr)
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}

	in, err := sms.ParseInbound(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	reply := h.gateway.HandleSMSReply(r.Context(), in.From, in.Body)

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	out, _ := xml.Marshal(twiML{Message: reply})
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(out)
}
