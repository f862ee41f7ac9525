// Package llm provides the text-generation capability behind PM responses.
// The engine never depends on it for correctness: every generation has a
// deterministic template fallback carrying the same structured decision.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"accordo/internal/logger"
)

// TurnRole marks who spoke a history turn.
type TurnRole string

const (
	TurnVendor TurnRole = "vendor"
	TurnPM     TurnRole = "pm"
)

// Turn is one prior exchange handed to the model as context.
type Turn struct {
	Role    TurnRole
	Content string
}

// Options bound a single generation request.
type Options struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client generates negotiation prose. Implementation errors are non-fatal
// to the engine; callers fall back to templates.
type Client interface {
	Generate(ctx context.Context, systemPrompt string, history []Turn, opts Options) (string, error)
}

// maxAttempts bounds retries against transient completion failures.
const maxAttempts = 2

// OpenAIClient is a Client backed by an OpenAI-compatible chat endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client for the configured endpoint. baseURL may
// point at any OpenAI-compatible server; empty uses the public API.
func NewOpenAIClient(apiKey, baseURL, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("llm: API key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Generate renders the history into a chat completion request and returns
// the model's text. The request is bounded by opts.Timeout.
func (c *OpenAIClient) Generate(ctx context.Context, systemPrompt string, history []Turn, opts Options) (string, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == TurnPM {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
			logger.Warn("LLM", fmt.Sprintf("Retrying completion (attempt %d): %v", attempt+1, lastErr))
		}
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("llm: empty completion")
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("llm: completion failed: %w", lastErr)
}
