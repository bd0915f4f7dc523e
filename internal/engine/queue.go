package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/brightreach/leadpilot/internal/automations"
	"github.com/brightreach/leadpilot/internal/runs"
	"github.com/brightreach/leadpilot/pkg/logging"
)

// QueueProcessor drains due queued runs. One bad run is marked error
// and never blocks the rest of the batch.
type QueueProcessor struct {
	exec      *Executor
	batchSize int
	logger    *logging.Logger
}

// NewQueueProcessor wires the processor. batchSize caps one sweep.
func NewQueueProcessor(exec *Executor, batchSize int, logger *logging.Logger) *QueueProcessor {
	if batchSize <= 0 {
		batchSize = 50
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &QueueProcessor{exec: exec, batchSize: batchSize, logger: logger.Component("queue")}
}

// ProcessDue executes every queued run whose process_after has passed.
// Returns how many runs were picked up.
func (p *QueueProcessor) ProcessDue(ctx context.Context) (int, error) {
	due, err := p.exec.ledger.ListDueQueued(ctx, time.Now().UTC(), p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due runs: %w", err)
	}
	for i := range due {
		run := &due[i]
		p.processOne(ctx, run)
	}
	if len(due) > 0 {
		p.logger.Info("processed due runs", "count", len(due))
	}
	return len(due), nil
}

// processOne handles a single due run, converting any panic or error
// into an error-status run so the queue keeps moving.
func (p *QueueProcessor) processOne(ctx context.Context, run *runs.Run) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic processing run", "run_id", run.ID, "panic", r)
			if err := p.exec.ledger.MarkError(ctx, run.ID, fmt.Sprintf("panic: %v", r)); err != nil {
				p.logger.Error("mark error after panic failed", "error", err, "run_id", run.ID)
			}
		}
	}()

	payload := run.Payload.LeadReply
	if run.Payload.Kind != runs.PayloadKindLeadReply || payload == nil {
		p.markBad(ctx, run, "unsupported payload kind "+run.Payload.Kind)
		return
	}

	cfg, err := p.exec.configs.GetForClient(ctx, run.ClientID, automations.KeyLeadReply)
	if err != nil {
		p.markBad(ctx, run, fmt.Sprintf("load automation config: %v", err))
		return
	}
	if !cfg.Enabled {
		p.markBad(ctx, run, "automation disabled before run became due")
		return
	}

	if _, err := p.exec.Execute(ctx, cfg, payload, run); err != nil {
		// Execute already moved the run to error; just log.
		p.logger.Error("due run failed", "error", err, "run_id", run.ID, "client_id", run.ClientID)
	}
}

func (p *QueueProcessor) markBad(ctx context.Context, run *runs.Run, msg string) {
	p.logger.Error("due run rejected", "run_id", run.ID, "reason", msg)
	if err := p.exec.ledger.MarkError(ctx, run.ID, msg); err != nil {
		p.logger.Error("mark error failed", "error", err, "run_id", run.ID)
	}
}
