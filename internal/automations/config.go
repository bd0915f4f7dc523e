package automations

import (
	"time"

	"github.com/google/uuid"
)

// KeyLeadReply identifies the lead-reply automation.
const KeyLeadReply = "lead_reply"

// Config is the per-client configuration of one automation. Read-only
// from the pipeline's perspective except for the action counter.
type Config struct {
	ID                 uuid.UUID `json:"id"`
	ClientID           uuid.UUID `json:"client_id"`
	ClientSlug         string    `json:"client_slug"`
	Key                string    `json:"key"`
	Enabled            bool      `json:"enabled"`
	OwnerName          string    `json:"owner_name"`
	BusinessName       string    `json:"business_name"`
	VoiceSamples       []string  `json:"voice_samples"`
	Signature          string    `json:"signature"`
	CustomInstructions string    `json:"custom_instructions,omitempty"`
	FromEmail          string    `json:"from_email,omitempty"`
	FromName           string    `json:"from_name,omitempty"`
	NotifyEmail        string    `json:"notify_email,omitempty"`
	NotifyPhone        string    `json:"notify_phone,omitempty"`
	ReplyDelayMinutes  int       `json:"reply_delay_minutes"`
	RequireApproval    bool      `json:"require_approval"`
	ActionsCount       int       `json:"actions_count"`
	SettingsJSON       []byte    `json:"-"`
	UpdatedAt          time.Time `json:"updated_at"`
}
