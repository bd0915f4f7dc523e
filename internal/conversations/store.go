package conversations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrMissingDirection is returned when an entry has no direction.
var ErrMissingDirection = errors.New("conversations: direction is required")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store appends and reads conversation entries.
type Store struct {
	db DB
}

// NewStore creates a conversation store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Append inserts one entry. Every inbound poll and every outbound send
// appends exactly one row through here.
func (s *Store) Append(ctx context.Context, e *Entry) error {
	switch e.Direction {
	case DirectionInbound, DirectionOutbound:
	default:
		return ErrMissingDirection
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO conversation_entries (id, client_id, lead_id, run_id, direction,
			from_address, to_address, subject, content, message_id, in_reply_to,
			was_ai_generated, was_edited, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.ClientID, e.LeadID, e.RunID, string(e.Direction),
		e.FromAddress, e.ToAddress, e.Subject, e.Content, e.MessageID, e.InReplyTo,
		e.WasAIGenerated, e.WasEdited, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("conversations: append: %w", err)
	}
	return nil
}

// ListByLead returns a lead's thread oldest-first.
func (s *Store) ListByLead(ctx context.Context, clientID, leadID uuid.UUID, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, client_id, lead_id, run_id, direction,
			from_address, to_address, subject, content, message_id, in_reply_to,
			was_ai_generated, was_edited, created_at
		FROM conversation_entries
		WHERE client_id = $1 AND lead_id = $2
		ORDER BY created_at ASC
		LIMIT $3`, clientID, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversations: list by lead: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var direction string
		if err := rows.Scan(
			&e.ID, &e.ClientID, &e.LeadID, &e.RunID, &direction,
			&e.FromAddress, &e.ToAddress, &e.Subject, &e.Content, &e.MessageID, &e.InReplyTo,
			&e.WasAIGenerated, &e.WasEdited, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("conversations: scan: %w", err)
		}
		e.Direction = Direction(direction)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversations: list by lead: %w", err)
	}
	return out, nil
}
