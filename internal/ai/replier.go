package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Persona carries everything that conditions a reply to sound like the
// client's owner rather than a bot.
type Persona struct {
	OwnerName          string
	BusinessName       string
	VoiceSamples       []string
	Signature          string
	CustomInstructions string
}

// ReplyGenerator drafts voice-consistent replies with the larger model.
type ReplyGenerator struct {
	gen   TextGenerator
	model string
}

// NewReplyGenerator builds a generator on the given model.
func NewReplyGenerator(gen TextGenerator, model string) *ReplyGenerator {
	return &ReplyGenerator{gen: gen, model: model}
}

// Draft produces a reply body for the lead's message. The result is
// plain text ready to send or to hold for approval.
func (g *ReplyGenerator) Draft(ctx context.Context, persona Persona, leadName, leadMessage string) (string, error) {
	if strings.TrimSpace(leadMessage) == "" {
		return "", errors.New("ai: lead message is empty")
	}
	prompt := buildReplyPrompt(persona, leadName, leadMessage)
	text, err := g.gen.Generate(ctx, g.model, prompt, 1024)
	if err != nil {
		return "", err
	}
	draft := strings.TrimSpace(text)
	if draft == "" {
		return "", errors.New("ai: generator returned an empty draft")
	}
	return draft, nil
}

func buildReplyPrompt(p Persona, leadName, leadMessage string) string {
	var sb strings.Builder
	owner := p.OwnerName
	if owner == "" {
		owner = "the business owner"
	}
	fmt.Fprintf(&sb, "You are %s", owner)
	if p.BusinessName != "" {
		fmt.Fprintf(&sb, ", who runs %s", p.BusinessName)
	}
	sb.WriteString(`. Write a reply to the inquiry below in your own voice.

Rules:
- Write only the reply body, no subject line and no commentary.
- Match the tone and phrasing of the writing samples.
- Keep it concise and personal; answer what was asked.
- Never mention that you are an AI or that this reply is automated.
`)
	if p.CustomInstructions != "" {
		sb.WriteString("- ")
		sb.WriteString(strings.TrimSpace(p.CustomInstructions))
		sb.WriteString("\n")
	}

	if len(p.VoiceSamples) > 0 {
		sb.WriteString("\nWriting samples:\n")
		for i, sample := range p.VoiceSamples {
			fmt.Fprintf(&sb, "--- sample %d ---\n%s\n", i+1, strings.TrimSpace(sample))
		}
	}

	if p.Signature != "" {
		fmt.Fprintf(&sb, "\nEnd the reply with this signature exactly:\n%s\n", p.Signature)
	}

	sb.WriteString("\nInquiry")
	if leadName != "" {
		fmt.Fprintf(&sb, " from %s", leadName)
	}
	sb.WriteString(":\n")
	sb.WriteString(leadMessage)
	return sb.String()
}
