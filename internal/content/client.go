// Package content asks a text-generation service for flavor records
// (companies and news) and turns its free-form replies into validated
// domain values. Failures never escape: callers get a built-in company list
// or an empty news batch instead.
package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ErrGenerationFailure wraps every transport or parse failure.
var ErrGenerationFailure = errors.New("content: generation failed")

const (
	DefaultBaseURL   = "https://api.anthropic.com/"
	DefaultModel     = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens = 4096
)

// Generator turns a natural-language instruction into free-form text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// AnthropicClient generates text with the Anthropic Messages API.
type AnthropicClient struct {
	Model     string
	MaxTokens int64

	apiKey string
	client anthropic.Client
}

// NewAnthropicClient creates a client for apiKey. An empty baseURL uses the
// public API. Extra options are passed to the SDK.
func NewAnthropicClient(apiKey, baseURL string, opts ...option.RequestOption) *AnthropicClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	}, opts...)

	return &AnthropicClient{
		Model:     DefaultModel,
		MaxTokens: DefaultMaxTokens,
		apiKey:    apiKey,
		client:    anthropic.NewClient(opts...),
	}
}

// Generate sends prompt as a single user message and returns the first text
// block of the reply.
func (c *AnthropicClient) Generate(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: api key is not set", ErrGenerationFailure)
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.Model),
		MaxTokens: c.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailure, err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("%w: reply has no text content", ErrGenerationFailure)
}
