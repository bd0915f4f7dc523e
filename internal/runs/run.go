package runs

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an automation run. Transitions are
// monotonic and validated by the store; see Allowed.
type Status string

const (
	StatusQueued          Status = "queued"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusDiscarded       Status = "discarded"
	StatusSuccess         Status = "success"
	StatusError           Status = "error"
)

var (
	// ErrRunNotFound is returned when a run does not exist or is not
	// owned by the requesting client.
	ErrRunNotFound = errors.New("runs: run not found")

	// ErrInvalidTransition is returned when a status change violates
	// the transition table.
	ErrInvalidTransition = errors.New("runs: invalid status transition")

	// ErrInvalidPayload is returned when a payload fails validation at
	// the ledger-write boundary.
	ErrInvalidPayload = errors.New("runs: invalid payload")
)

// transitions is the full table of legal status moves. Anything not
// listed is rejected at the data layer.
var transitions = map[Status][]Status{
	StatusQueued:          {StatusPendingApproval, StatusSuccess, StatusError},
	StatusPendingApproval: {StatusApproved, StatusDiscarded},
}

// Allowed reports whether from → to is a legal transition.
func Allowed(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist from s.
func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}

// PayloadKindLeadReply tags payloads produced by the lead-reply
// automation.
const PayloadKindLeadReply = "lead_reply"

// LeadReplyPayload is everything needed to resume a lead-reply unit of
// work without re-parsing the source email.
type LeadReplyPayload struct {
	LeadID    uuid.UUID `json:"lead_id"`
	To        string    `json:"to"`
	ToName    string    `json:"to_name,omitempty"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	MessageID string    `json:"message_id,omitempty"`
	FromEmail string    `json:"from_email,omitempty"`
	FromName  string    `json:"from_name,omitempty"`
}

// Payload is a tagged union over automation payload kinds. Each kind
// owns its own schema, validated when the run is written.
type Payload struct {
	Kind      string            `json:"kind"`
	LeadReply *LeadReplyPayload `json:"lead_reply,omitempty"`
}

// Validate checks the union invariants before a ledger write.
func (p *Payload) Validate() error {
	switch p.Kind {
	case PayloadKindLeadReply:
		if p.LeadReply == nil {
			return ErrInvalidPayload
		}
		if strings.TrimSpace(p.LeadReply.To) == "" {
			return ErrInvalidPayload
		}
		return nil
	default:
		return ErrInvalidPayload
	}
}

// Run is one persisted unit of automation work.
type Run struct {
	ID            uuid.UUID  `json:"id"`
	AutomationID  uuid.UUID  `json:"automation_id"`
	ClientID      uuid.UUID  `json:"client_id"`
	Status        Status     `json:"status"`
	Payload       Payload    `json:"payload"`
	DraftContent  string     `json:"draft_content,omitempty"`
	InputSummary  string     `json:"input_summary,omitempty"`
	OutputSummary string     `json:"output_summary,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	MessageID     string     `json:"message_id,omitempty"`
	ProcessAfter  *time.Time `json:"process_after,omitempty"`
	RanAt         time.Time  `json:"ran_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
