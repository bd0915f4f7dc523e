package handlers

import (
	"context"
	"net/http"

	"github.com/brightreach/leadpilot/pkg/logging"
)

// InboxPoller runs one mailbox sweep.
type InboxPoller interface {
	Poll(ctx context.Context) error
}

// QueueDrainer executes due queued runs.
type QueueDrainer interface {
	ProcessDue(ctx context.Context) (int, error)
}

// CronHandler serves GET /internal/cron/tick for deployments that
// drive the pipeline from an external scheduler instead of the worker
// binary.
type CronHandler struct {
	poller InboxPoller
	queue  QueueDrainer
	logger *logging.Logger
}

// NewCronHandler wires the tick endpoint. Either dependency may be nil
// when that half of the pipeline runs elsewhere.
func NewCronHandler(poller InboxPoller, queue QueueDrainer, logger *logging.Logger) *CronHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CronHandler{poller: poller, queue: queue, logger: logger.Component("cron")}
}

// Tick runs the inbox poller and the delay queue once, in that order.
// Each half reports independently; a poll failure never blocks the
// queue sweep.
func (h *CronHandler) Tick(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{}

	if h.poller != nil {
		if err := h.poller.Poll(r.Context()); err != nil {
			h.logger.Error("poll cycle failed", "error", err)
			resp["poll_error"] = err.Error()
		} else {
			resp["polled"] = true
		}
	}

	if h.queue != nil {
		n, err := h.queue.ProcessDue(r.Context())
		if err != nil {
			h.logger.Error("queue sweep failed", "error", err)
			resp["queue_error"] = err.Error()
		} else {
			resp["processed"] = n
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
