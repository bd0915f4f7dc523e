package leads

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Lead represents a prospective customer captured from an inbound email.
type Lead struct {
	ID         uuid.UUID  `json:"id"`
	ClientID   uuid.UUID  `json:"client_id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Subject    string     `json:"subject"`
	Message    string     `json:"message"`
	RawExcerpt string     `json:"raw_excerpt,omitempty"`
	RepliedAt  *time.Time `json:"replied_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CreateLeadRequest represents the fields persisted on first contact.
type CreateLeadRequest struct {
	ClientID   uuid.UUID
	Name       string
	Email      string
	Subject    string
	Message    string
	RawExcerpt string
}

// Validate validates the create lead request. Email is the dedup and
// threading key so it is the one hard requirement.
func (r *CreateLeadRequest) Validate() error {
	if r.ClientID == uuid.Nil {
		return ErrMissingClientID
	}
	if strings.TrimSpace(r.Email) == "" {
		return ErrMissingEmail
	}
	return nil
}
