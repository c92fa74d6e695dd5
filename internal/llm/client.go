// Package llm wraps the Anthropic API for similarity refinement during
// cleanup: when string distance alone is inconclusive, the model is asked
// whether two messages describe the same underlying issue.
package llm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mattes337/logsink/internal/config"
	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/observability"
)

// Refiner scores how likely two messages name the same issue.
type Refiner interface {
	RefineSimilarity(ctx context.Context, a, b string) (float64, error)
}

// Client implements Refiner over the Anthropic Messages API.
type Client struct {
	client      anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
	logger      observability.Logger
}

// New creates a Client from configuration. Returns ErrUnavailable when the
// feature is disabled or no key is configured.
func New(cfg config.LLMConfig, logger observability.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("%w: LLM refinement is disabled", models.ErrUnavailable)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: LLM API key is not configured", models.ErrUnavailable)
	}
	if logger == nil {
		logger = observability.NewLogger("llm.client")
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &Client{
		client:      anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:       anthropic.Model(cfg.Model),
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

const similarityPrompt = `You compare two application error messages and decide whether they describe the same underlying issue.

Message A:
%s

Message B:
%s

Respond with only a number between 0.0 and 1.0, where 1.0 means certainly the same issue and 0.0 means certainly different. No other text.`

// RefineSimilarity asks the model for a similarity score in [0,1].
func (c *Client) RefineSimilarity(ctx context.Context, a, b string) (float64, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(fmt.Sprintf(similarityPrompt, a, b))),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("LLM similarity request failed: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, fmt.Errorf("LLM returned unparseable score %q: %w", text, err)
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}
