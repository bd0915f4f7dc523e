package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/brightreach/leadpilot/pkg/logging"
)

// ErrNoAPIKey is returned when the client is constructed without a key.
var ErrNoAPIKey = errors.New("ai: no API key configured")

// TextGenerator is the narrow surface the pipeline consumes; the
// concrete Client talks to Anthropic, tests stub it.
type TextGenerator interface {
	Generate(ctx context.Context, model, prompt string, maxTokens int) (string, error)
}

// Client wraps the Anthropic API for the two call shapes the pipeline
// needs: structured extraction and persona replies.
type Client struct {
	api    *anthropic.Client
	logger *logging.Logger
}

// NewClient builds an Anthropic-backed client.
func NewClient(apiKey string, logger *logging.Logger) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNoAPIKey
	}
	if logger == nil {
		logger = logging.Default()
	}
	api := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Client{api: api, logger: logger}, nil
}

var _ TextGenerator = (*Client)(nil)

// Generate sends one user-turn prompt and returns the text of the
// first text block in the response.
func (c *Client) Generate(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	resp, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(model),
		MaxTokens: anthropic.Int(int64(maxTokens)),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		}),
	})
	if err != nil {
		return "", fmt.Errorf("ai: anthropic call: %w", err)
	}

	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		c.logger.Debug("anthropic token usage",
			"model", model,
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
		)
	}

	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			return block.Text, nil
		}
	}
	return "", errors.New("ai: empty response")
}

// stripCodeFence removes a surrounding markdown code fence so JSON
// buried in ```json blocks still parses.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	var out []string
	inBlock := false
	for _, line := range lines {
		if strings.HasPrefix(line, "```") {
			inBlock = !inBlock
			continue
		}
		if inBlock {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
