package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

// Store persists leads in the relational database.
type Store struct {
	db DB
}

// NewStore creates a lead store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const leadColumns = `id, client_id, name, email, subject, message, raw_excerpt, replied_at, created_at`

// Create inserts a new lead row.
func (s *Store) Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	lead := &Lead{
		ID:         uuid.New(),
		ClientID:   req.ClientID,
		Name:       req.Name,
		Email:      normalizeEmail(req.Email),
		Subject:    req.Subject,
		Message:    req.Message,
		RawExcerpt: req.RawExcerpt,
		CreatedAt:  time.Now().UTC(),
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO leads (id, client_id, name, email, subject, message, raw_excerpt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		lead.ID, lead.ClientID, lead.Name, lead.Email, lead.Subject, lead.Message, lead.RawExcerpt, lead.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("leads: insert failed: %w", err)
	}
	return lead, nil
}

// GetByID fetches a lead scoped to the owning client.
func (s *Store) GetByID(ctx context.Context, clientID, id uuid.UUID) (*Lead, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE id = $1 AND client_id = $2`, id, clientID)
	return scanLead(row)
}

// FindRepliedByEmail returns the most recent lead for this sender that
// has already received a reply, or nil. This is the returning-contact
// gate: a non-nil result suppresses any further auto-reply for the
// sender, with no time decay.
func (s *Store) FindRepliedByEmail(ctx context.Context, clientID uuid.UUID, email string) (*Lead, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE client_id = $1 AND email = $2 AND replied_at IS NOT NULL
		ORDER BY created_at DESC
		LIMIT 1`, clientID, normalizeEmail(email))
	lead, err := scanLead(row)
	if errors.Is(err, ErrLeadNotFound) {
		return nil, nil
	}
	return lead, err
}

// MarkReplied sets replied_at exactly once. A lead already marked stays
// at its original timestamp; the call is still a success so concurrent
// send paths do not surface spurious failures.
func (s *Store) MarkReplied(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE leads
		SET replied_at = $2
		WHERE id = $1 AND replied_at IS NULL`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("leads: mark replied: %w", err)
	}
	return nil
}

func scanLead(row pgx.Row) (*Lead, error) {
	var lead Lead
	if err := row.Scan(
		&lead.ID, &lead.ClientID, &lead.Name, &lead.Email,
		&lead.Subject, &lead.Message, &lead.RawExcerpt,
		&lead.RepliedAt, &lead.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}
	return &lead, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
