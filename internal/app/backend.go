package app

import (
	"fmt"
	"log/slog"

	"github.com/rand/devchain/internal/agent"
	"github.com/rand/devchain/internal/config"
)

// backendMaker returns the constructor for the configured provider. The
// provider is fixed for the process; only the model varies per role.
func backendMaker(p config.ProviderConfig) (agent.BackendMaker, error) {
	switch p.Type {
	case config.ProviderOpenRouter:
		if p.APIKey == "" {
			return nil, fmt.Errorf("OPENROUTER_API_KEY is not set")
		}
		return func(model string) (agent.Backend, error) {
			return agent.NewOpenRouterBackend(p.APIKey, model)
		}, nil

	case config.ProviderAnthropic:
		if p.BaseURL != "" {
			slog.Info("Using Anthropic-compatible proxy", "url", p.BaseURL)
		}
		return func(model string) (agent.Backend, error) {
			return agent.NewAnthropicBackend(p.APIKey, p.BaseURL, model)
		}, nil

	case config.ProviderOpenAI:
		return func(model string) (agent.Backend, error) {
			return agent.NewOpenAIBackend(p.APIKey, p.BaseURL, model)
		}, nil

	default:
		return nil, fmt.Errorf("unknown provider %q", p.Type)
	}
}
