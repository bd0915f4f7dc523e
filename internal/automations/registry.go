package automations

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// ErrUnknownAutomation is returned for an unregistered automation key.
var ErrUnknownAutomation = errors.New("automations: unknown automation key")

// TriggerResult is the synchronous outcome of a webhook-triggered run.
type TriggerResult struct {
	Summary         string    `json:"summary,omitempty"`
	RunID           uuid.UUID `json:"run_id,omitempty"`
	PendingApproval bool      `json:"pending_approval,omitempty"`
}

// Handler executes one automation kind for a push-based trigger.
type Handler interface {
	Key() string
	Trigger(ctx context.Context, clientID uuid.UUID, payload json.RawMessage) (*TriggerResult, error)
}

// Registry is an immutable lookup table from automation key to handler,
// constructed once at process start. No runtime mutation.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds the table. Later duplicates of a key overwrite
// earlier ones, matching registration order in main.
func NewRegistry(handlers ...Handler) *Registry {
	m := make(map[string]Handler, len(handlers))
	for _, h := range handlers {
		m[h.Key()] = h
	}
	return &Registry{handlers: m}
}

// Lookup returns the handler for a key.
func (r *Registry) Lookup(key string) (Handler, error) {
	h, ok := r.handlers[key]
	if !ok {
		return nil, ErrUnknownAutomation
	}
	return h, nil
}

// Keys lists registered automation keys.
func (r *Registry) Keys() []string {
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}
