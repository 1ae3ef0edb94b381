package agent

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/rand/devchain/internal/prompt"
	"github.com/rand/devchain/internal/resilience"
)

// BackendMaker builds the backend for one model.
type BackendMaker func(model string) (Backend, error)

// Factory builds agents for the pipeline roles. Backends are created once
// per model and shared by every role using it.
type Factory struct {
	// NewBackend creates a backend for a model. Required.
	NewBackend BackendMaker

	// ModelFor resolves the model of a role. Required.
	ModelFor func(role string) string

	Retry    resilience.RetryPolicy
	Limiter  *rate.Limiter
	Breakers *resilience.BreakerRegistry
	Observer Observer

	mu       sync.Mutex
	backends map[string]Backend
}

// Agent returns a new agent for role with its fixed instruction.
func (f *Factory) Agent(role string) (*Agent, error) {
	instruction := prompt.Instruction(role)
	if instruction == "" {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	model := f.ModelFor(role)
	if model == "" {
		return nil, fmt.Errorf("no model configured for role %s", role)
	}

	backend, err := f.backend(model)
	if err != nil {
		return nil, fmt.Errorf("backend for %s: %w", role, err)
	}

	opts := []Option{WithRetry(f.Retry)}
	if f.Limiter != nil {
		opts = append(opts, WithLimiter(f.Limiter))
	}
	if f.Breakers != nil {
		opts = append(opts, WithBreaker(f.Breakers.Get(model)))
	}
	if f.Observer != nil {
		opts = append(opts, WithObserver(f.Observer))
	}

	return New(Spec{Role: role, Model: model, Instruction: instruction}, backend, opts...), nil
}

func (f *Factory) backend(model string) (Backend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.backends[model]; ok {
		return b, nil
	}
	b, err := f.NewBackend(model)
	if err != nil {
		return nil, err
	}
	if f.backends == nil {
		f.backends = make(map[string]Backend)
	}
	f.backends[model] = b
	return b, nil
}
