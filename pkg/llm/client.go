// Package llm provides the OpenAI-compatible client used by the
// classification stages.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/pulseboard/creator-engine/pkg/apperrors"
)

// Client generates structured completions against an OpenAI-compatible
// endpoint.
type Client interface {
	// CompleteJSON runs a chat completion in JSON mode and returns the raw
	// JSON content of the first choice.
	CompleteJSON(ctx context.Context, systemMessage, prompt string) (string, error)
}

// Config holds configuration for creating an LLM client.
type Config struct {
	BaseURL string // e.g. "https://api.openai.com/v1"
	Model   string // e.g. "gpt-4o-mini"
	APIKey  string // optional for local endpoints
}

type openaiClient struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewClient creates a new OpenAI-compatible LLM client.
func NewClient(cfg *Config, logger *zap.Logger) (Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &openaiClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		logger: logger.Named("llm"),
	}, nil
}

var _ Client = (*openaiClient)(nil)

func (c *openaiClient) CompleteJSON(ctx context.Context, systemMessage, prompt string) (string, error) {
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature:    0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return "", classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return "", apperrors.Transient(fmt.Errorf("llm returned no choices"))
	}

	c.logger.Debug("LLM completion",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)))

	return resp.Choices[0].Message.Content, nil
}

// classifyError maps go-openai errors onto the transient/permanent taxonomy.
// Rate limits and upstream outages are retried; auth and request-shape errors
// are not.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500:
			return apperrors.Transient(fmt.Errorf("llm unavailable: %w", err))
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403 || apiErr.HTTPStatusCode == 400:
			return apperrors.Permanent(fmt.Errorf("llm rejected request: %w", err))
		}
	}
	// Network-level errors come through untyped; treat them as transient.
	return apperrors.Transient(fmt.Errorf("llm call failed: %w", err))
}
