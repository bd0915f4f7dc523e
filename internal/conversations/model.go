package conversations

import (
	"time"

	"github.com/google/uuid"
)

// Direction marks which way a message travelled.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Entry is one message in a lead's thread. The table is append-only;
// it doubles as the corpus used later for voice-profile extraction.
type Entry struct {
	ID             uuid.UUID  `json:"id"`
	ClientID       uuid.UUID  `json:"client_id"`
	LeadID         *uuid.UUID `json:"lead_id,omitempty"`
	RunID          *uuid.UUID `json:"run_id,omitempty"`
	Direction      Direction  `json:"direction"`
	FromAddress    string     `json:"from_address"`
	ToAddress      string     `json:"to_address"`
	Subject        string     `json:"subject"`
	Content        string     `json:"content"`
	MessageID      string     `json:"message_id,omitempty"`
	InReplyTo      string     `json:"in_reply_to,omitempty"`
	WasAIGenerated bool       `json:"was_ai_generated"`
	WasEdited      bool       `json:"was_edited"`
	CreatedAt      time.Time  `json:"created_at"`
}
