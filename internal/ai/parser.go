package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ParsedEmail holds the structured lead fields extracted from a raw
// inbound email.
type ParsedEmail struct {
	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
}

// EmailParser turns raw email text into structured lead fields with a
// small-model extraction call.
type EmailParser struct {
	gen   TextGenerator
	model string
}

// NewEmailParser builds a parser on the given generator and model.
func NewEmailParser(gen TextGenerator, model string) *EmailParser {
	return &EmailParser{gen: gen, model: model}
}

// Parse extracts lead fields. A response that is not JSON, or JSON
// without a usable from_email, is an error; callers treat that as a
// hard skip for the message.
func (p *EmailParser) Parse(ctx context.Context, raw string) (*ParsedEmail, error) {
	prompt := buildParsePrompt(raw)
	text, err := p.gen.Generate(ctx, p.model, prompt, 512)
	if err != nil {
		return nil, err
	}
	return parseExtraction(text)
}

func buildParsePrompt(raw string) string {
	var sb strings.Builder
	sb.WriteString(`You extract lead contact details from inbound emails for a marketing agency.

Read the email below and respond with a JSON object:

{
  "from_name": "sender's name, or empty string",
  "from_email": "sender's email address",
  "subject": "the email subject",
  "message": "the sender's message, stripped of quoted history and signatures"
}

Respond with only the JSON object, no other text.

Email:
`)
	sb.WriteString(raw)
	return sb.String()
}

func parseExtraction(text string) (*ParsedEmail, error) {
	cleaned := stripCodeFence(text)
	var parsed ParsedEmail
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("ai: invalid extraction JSON: %w", err)
	}
	parsed.FromEmail = strings.ToLower(strings.TrimSpace(parsed.FromEmail))
	if parsed.FromEmail == "" || !strings.Contains(parsed.FromEmail, "@") {
		return nil, fmt.Errorf("ai: extraction yielded no usable sender email")
	}
	return &parsed, nil
}
