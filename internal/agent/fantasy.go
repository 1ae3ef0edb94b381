package agent

import (
	"context"
	"fmt"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/anthropic"
	"charm.land/fantasy/providers/openrouter"
)

// Generation defaults shared by the fantasy backends.
const (
	DefaultMaxOutputTokens int64   = 4096
	DefaultTemperature     float64 = 0.7
)

// FantasyBackend sends calls through a fantasy provider.
type FantasyBackend struct {
	provider  fantasy.Provider
	model     string
	maxTokens int64
}

// NewFantasyBackend wraps an existing provider for one model.
func NewFantasyBackend(provider fantasy.Provider, model string) (*FantasyBackend, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &FantasyBackend{
		provider:  provider,
		model:     model,
		maxTokens: DefaultMaxOutputTokens,
	}, nil
}

// NewOpenRouterBackend creates a backend routed through OpenRouter.
func NewOpenRouterBackend(apiKey, model string) (*FantasyBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenRouter API key is required")
	}
	provider, err := openrouter.New(openrouter.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create openrouter provider: %w", err)
	}
	return NewFantasyBackend(provider, model)
}

// NewAnthropicBackend creates a backend speaking the Anthropic messages
// API. A non-empty baseURL points it at a compatible proxy.
func NewAnthropicBackend(apiKey, baseURL, model string) (*FantasyBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	opts := []anthropic.Option{anthropic.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	provider, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create anthropic provider: %w", err)
	}
	return NewFantasyBackend(provider, model)
}

// Model returns the model identifier.
func (b *FantasyBackend) Model() string {
	return b.model
}

// Send implements Backend.
func (b *FantasyBackend) Send(ctx context.Context, instruction, text string) (string, error) {
	lm, err := b.provider.LanguageModel(ctx, b.model)
	if err != nil {
		return "", fmt.Errorf("get language model %s: %w", b.model, err)
	}

	prompt := fantasy.Prompt{}
	if instruction != "" {
		prompt = append(prompt, fantasy.NewSystemMessage(instruction))
	}
	prompt = append(prompt, fantasy.NewUserMessage(text))

	maxTokens := b.maxTokens
	temperature := DefaultTemperature
	resp, err := lm.Generate(ctx, fantasy.Call{
		Prompt:          prompt,
		MaxOutputTokens: &maxTokens,
		Temperature:     &temperature,
	})
	if err != nil {
		if IsRateLimited(err) {
			return "", fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return "", fmt.Errorf("generate: %w", err)
	}
	return resp.Content.Text(), nil
}
