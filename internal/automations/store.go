package automations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConfigNotFound is returned when no automation config matches.
	ErrConfigNotFound = errors.New("automations: config not found")

	// ErrClientNotFound is returned when a client slug resolves nothing.
	ErrClientNotFound = errors.New("automations: client not found")
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads automation configs and performs counter increments.
type Store struct {
	db DB
}

// NewStore creates an automation config store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const configColumns = `a.id, a.client_id, c.slug, a.key, a.enabled, a.owner_name, a.business_name,
		a.voice_samples, a.signature, a.custom_instructions, a.from_email, a.from_name,
		a.notify_email, a.notify_phone, a.reply_delay_minutes, a.require_approval,
		a.actions_count, a.settings, a.updated_at`

const configJoin = `FROM automation_configs a JOIN clients c ON c.id = a.client_id`

// ListEnabled returns every enabled config for the given automation
// key, one per client. The poller iterates this set.
func (s *Store) ListEnabled(ctx context.Context, key string) ([]Config, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+configColumns+`
		`+configJoin+`
		WHERE a.key = $1 AND a.enabled
		ORDER BY c.slug ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("automations: list enabled: %w", err)
	}
	defer rows.Close()

	var out []Config
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("automations: list enabled: %w", err)
	}
	return out, nil
}

// GetForClient fetches one client's config for an automation key.
func (s *Store) GetForClient(ctx context.Context, clientID uuid.UUID, key string) (*Config, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+configColumns+`
		`+configJoin+`
		WHERE a.client_id = $1 AND a.key = $2`, clientID, key)
	cfg, err := scanConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return cfg, nil
}

// FindByNotifyPhone maps an inbound SMS sender to the automation config
// whose owner registered that number.
func (s *Store) FindByNotifyPhone(ctx context.Context, phone string) (*Config, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+configColumns+`
		`+configJoin+`
		WHERE a.notify_phone = $1 AND a.enabled
		LIMIT 1`, strings.TrimSpace(phone))
	cfg, err := scanConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return cfg, nil
}

// ResolveClientSlug returns the client id for a slug, used by the
// inbound-lead webhook which derives the client from a recipient
// address like acme@inbound.leadpilot.dev.
func (s *Store) ResolveClientSlug(ctx context.Context, slug string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `SELECT id FROM clients WHERE slug = $1`, strings.ToLower(strings.TrimSpace(slug))).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrClientNotFound
		}
		return uuid.Nil, fmt.Errorf("automations: resolve slug: %w", err)
	}
	return id, nil
}

// EmailAccount returns the raw stored email-account blob for a client,
// or nil when none exists. The creds resolver owns interpretation.
func (s *Store) EmailAccount(ctx context.Context, clientID uuid.UUID) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRow(ctx, `SELECT account FROM email_accounts WHERE client_id = $1`, clientID).Scan(&blob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("automations: email account: %w", err)
	}
	return blob, nil
}

// IncrementActions bumps the automation's action counter. The
// increment happens in SQL so concurrent approval/send paths cannot
// lose updates to a read-modify-write race.
func (s *Store) IncrementActions(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE automation_configs
		SET actions_count = actions_count + 1, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("automations: increment actions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConfigNotFound
	}
	return nil
}

func scanConfig(row pgx.Row) (*Config, error) {
	var cfg Config
	if err := row.Scan(
		&cfg.ID, &cfg.ClientID, &cfg.ClientSlug, &cfg.Key, &cfg.Enabled, &cfg.OwnerName, &cfg.BusinessName,
		&cfg.VoiceSamples, &cfg.Signature, &cfg.CustomInstructions, &cfg.FromEmail, &cfg.FromName,
		&cfg.NotifyEmail, &cfg.NotifyPhone, &cfg.ReplyDelayMinutes, &cfg.RequireApproval,
		&cfg.ActionsCount, &cfg.SettingsJSON, &cfg.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("automations: scan config: %w", err)
	}
	return &cfg, nil
}
