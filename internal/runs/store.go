package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides ledger operations for automation_runs.
type Store struct {
	db DB
}

// NewStore creates a run ledger store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const runColumns = `id, automation_id, client_id, status, payload, draft_content,
		input_summary, output_summary, error_message, message_id,
		process_after, ran_at, created_at, updated_at`

// Create inserts a new run. The payload is validated here; a run may
// only be born queued, pending_approval, or directly in a terminal
// state for the immediate path.
func (s *Store) Create(ctx context.Context, r *Run) error {
	if err := r.Payload.Validate(); err != nil {
		return err
	}
	switch r.Status {
	case StatusQueued, StatusPendingApproval, StatusSuccess, StatusError:
	default:
		return fmt.Errorf("%w: cannot create run as %q", ErrInvalidTransition, r.Status)
	}
	if r.Status == StatusQueued && r.ProcessAfter == nil {
		return errors.New("runs: queued run requires process_after")
	}

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.RanAt.IsZero() {
		r.RanAt = now
	}

	payloadJSON, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("runs: marshal payload: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO automation_runs (id, automation_id, client_id, status, payload, draft_content,
			input_summary, output_summary, error_message, message_id,
			process_after, ran_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, r.AutomationID, r.ClientID, string(r.Status), payloadJSON, r.DraftContent,
		r.InputSummary, r.OutputSummary, r.ErrorMessage, r.MessageID,
		r.ProcessAfter, r.RanAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("runs: create: %w", err)
	}
	return nil
}

// GetForClient fetches a run scoped to the owning client.
func (s *Store) GetForClient(ctx context.Context, clientID, id uuid.UUID) (*Run, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM automation_runs
		WHERE id = $1 AND client_id = $2`, id, clientID)
	return scanRun(row)
}

// LatestPendingForClient returns the most recent pending_approval run
// for a client, used by the SMS approval path where no run id travels
// with the reply.
func (s *Store) LatestPendingForClient(ctx context.Context, clientID uuid.UUID) (*Run, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM automation_runs
		WHERE client_id = $1 AND status = 'pending_approval'
		ORDER BY created_at DESC
		LIMIT 1`, clientID)
	return scanRun(row)
}

// ListDueQueued returns queued runs whose process_after has elapsed.
func (s *Store) ListDueQueued(ctx context.Context, asOf time.Time, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+runColumns+`
		FROM automation_runs
		WHERE status = 'queued' AND process_after <= $1
		ORDER BY process_after ASC
		LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("runs: list due: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRunFromRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runs: list due: %w", err)
	}
	return out, nil
}

// HasMessageID reports whether any run for the automation already
// recorded this inbound Message-ID. This is the dedup gate that makes
// provider redeliveries a no-op.
func (s *Store) HasMessageID(ctx context.Context, automationID uuid.UUID, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM automation_runs
			WHERE automation_id = $1 AND message_id = $2
		)`, automationID, messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("runs: message id lookup: %w", err)
	}
	return exists, nil
}

// MarkPendingApproval moves queued → pending_approval, storing the
// draft awaiting review.
func (s *Store) MarkPendingApproval(ctx context.Context, id uuid.UUID, draft string) error {
	return s.transition(ctx, id, StatusQueued, StatusPendingApproval, `
		UPDATE automation_runs
		SET status = $2, draft_content = $3, updated_at = $4
		WHERE id = $1 AND status = $5`,
		id, string(StatusPendingApproval), draft, time.Now().UTC(), string(StatusQueued))
}

// MarkSuccess moves queued → success with an output summary.
func (s *Store) MarkSuccess(ctx context.Context, id uuid.UUID, output string) error {
	now := time.Now().UTC()
	return s.transition(ctx, id, StatusQueued, StatusSuccess, `
		UPDATE automation_runs
		SET status = $2, output_summary = $3, error_message = '', ran_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5`,
		id, string(StatusSuccess), output, now, string(StatusQueued))
}

// MarkError moves queued → error, recording the failure for operator
// intervention. The queue never silently drops a run.
func (s *Store) MarkError(ctx context.Context, id uuid.UUID, errMsg string) error {
	now := time.Now().UTC()
	return s.transition(ctx, id, StatusQueued, StatusError, `
		UPDATE automation_runs
		SET status = $2, error_message = $3, ran_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5`,
		id, string(StatusError), errMsg, now, string(StatusQueued))
}

// MarkApproved moves pending_approval → approved, persisting the final
// (possibly edited) content that was actually sent.
func (s *Store) MarkApproved(ctx context.Context, id uuid.UUID, finalContent string) error {
	now := time.Now().UTC()
	return s.transition(ctx, id, StatusPendingApproval, StatusApproved, `
		UPDATE automation_runs
		SET status = $2, draft_content = $3, ran_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5`,
		id, string(StatusApproved), finalContent, now, string(StatusPendingApproval))
}

// MarkDiscarded moves pending_approval → discarded. No other side
// effects; discard is not reversible.
func (s *Store) MarkDiscarded(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, StatusPendingApproval, StatusDiscarded, `
		UPDATE automation_runs
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4`,
		id, string(StatusDiscarded), time.Now().UTC(), string(StatusPendingApproval))
}

// transition executes a guarded update and turns a zero-row result into
// ErrRunNotFound or ErrInvalidTransition depending on whether the row
// exists. The WHERE status clause is what enforces the table under
// concurrent approvers.
func (s *Store) transition(ctx context.Context, id uuid.UUID, from, to Status, query string, args ...any) error {
	if !Allowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("runs: transition %s -> %s: %w", from, to, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRow(ctx, `SELECT status FROM automation_runs WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRunNotFound
		}
		return fmt.Errorf("runs: transition check: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
}

func scanRun(row pgx.Row) (*Run, error) {
	r, err := scanRunFromRows(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return r, nil
}

func scanRunFromRows(row pgx.Row) (*Run, error) {
	var (
		r           Run
		status      string
		payloadJSON []byte
	)
	if err := row.Scan(
		&r.ID, &r.AutomationID, &r.ClientID, &status, &payloadJSON, &r.DraftContent,
		&r.InputSummary, &r.OutputSummary, &r.ErrorMessage, &r.MessageID,
		&r.ProcessAfter, &r.RanAt, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("runs: scan: %w", err)
	}
	r.Status = Status(status)
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &r.Payload); err != nil {
			return nil, fmt.Errorf("runs: decode payload: %w", err)
		}
	}
	return &r, nil
}
