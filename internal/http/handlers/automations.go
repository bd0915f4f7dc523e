package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brightreach/leadpilot/internal/automations"
	"github.com/brightreach/leadpilot/internal/engine"
	"github.com/brightreach/leadpilot/internal/runs"
	"github.com/brightreach/leadpilot/pkg/logging"
)

// ClientResolver maps external client identifiers to client IDs.
type ClientResolver interface {
	ResolveClientSlug(ctx context.Context, slug string) (uuid.UUID, error)
}

// AutomationHandler serves the trigger and draft-decision endpoints.
type AutomationHandler struct {
	registry *automations.Registry
	gateway  *engine.Gateway
	clients  ClientResolver
	logger   *logging.Logger
}

// NewAutomationHandler wires the handler.
func NewAutomationHandler(registry *automations.Registry, gateway *engine.Gateway, clients ClientResolver, logger *logging.Logger) *AutomationHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AutomationHandler{
		registry: registry,
		gateway:  gateway,
		clients:  clients,
		logger:   logger.Component("http"),
	}
}

type triggerRequest struct {
	ClientID   uuid.UUID       `json:"client_id,omitempty"`
	ClientSlug string          `json:"client_slug,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// Trigger handles POST /automations/{key}/trigger.
func (h *AutomationHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	handler, err := h.registry.Lookup(key)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown automation")
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	clientID := req.ClientID
	if clientID == uuid.Nil && req.ClientSlug != "" {
		clientID, err = h.clients.ResolveClientSlug(r.Context(), req.ClientSlug)
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown client")
			return
		}
	}
	if clientID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "client_id or client_slug required")
		return
	}

	result, err := handler.Trigger(r.Context(), clientID, req.Payload)
	if err != nil {
		h.writeTriggerError(w, r, key, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AutomationHandler) writeTriggerError(w http.ResponseWriter, r *http.Request, key string, err error) {
	switch {
	case errors.Is(err, automations.ErrConfigNotFound):
		writeError(w, http.StatusNotFound, "automation not configured for client")
	case errors.Is(err, engine.ErrAutomationDisabled):
		writeError(w, http.StatusConflict, "automation is disabled")
	case errors.Is(err, engine.ErrEmptyTriggerPayload):
		writeError(w, http.StatusBadRequest, "payload has no email content")
	default:
		h.logger.Error("trigger failed", "error", err, "automation", key)
		writeError(w, http.StatusInternalServerError, "automation failed")
	}
}

type draftDecisionRequest struct {
	Action     string    `json:"action"`
	ClientID   uuid.UUID `json:"client_id,omitempty"`
	ClientSlug string    `json:"client_slug,omitempty"`
	Content    string    `json:"content,omitempty"`
}

// ResolveDraft handles PATCH /automations/drafts/{runID}.
func (h *AutomationHandler) ResolveDraft(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	var req draftDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	clientID := req.ClientID
	if clientID == uuid.Nil && req.ClientSlug != "" {
		clientID, err = h.clients.ResolveClientSlug(r.Context(), req.ClientSlug)
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown client")
			return
		}
	}
	if clientID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "client_id or client_slug required")
		return
	}

	run, err := h.gateway.Resolve(r.Context(), clientID, runID, req.Action, req.Content)
	if err != nil {
		h.writeDraftError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": run.ID,
		"status": run.Status,
	})
}

func (h *AutomationHandler) writeDraftError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runs.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, engine.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, "action must be approve or discard")
	case errors.Is(err, engine.ErrEmptyContent), errors.Is(err, runs.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, "draft has no sendable content")
	case errors.Is(err, engine.ErrNotPending):
		writeError(w, http.StatusConflict, "run is not awaiting approval")
	default:
		h.logger.Error("draft decision failed", "error", err)
		writeError(w, http.StatusBadGateway, "could not deliver the reply")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
