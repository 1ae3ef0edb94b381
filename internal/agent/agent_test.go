package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rand/devchain/internal/agent/agenttest"
	"github.com/rand/devchain/internal/prompt"
	"github.com/rand/devchain/internal/resilience"
)

var fastRetry = resilience.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}

func testSpec() Spec {
	return Spec{Role: "Reviewer", Model: "test-model", Instruction: "review things"}
}

type countingBackend struct {
	mu      sync.Mutex
	calls   int
	results []error
	text    string
}

func (b *countingBackend) Send(ctx context.Context, instruction, text string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.calls
	b.calls++
	if i < len(b.results) && b.results[i] != nil {
		return "", b.results[i]
	}
	return b.text, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	calls   []Reply
	retries int
}

func (o *recordingObserver) ObserveCall(role, model string, reply Reply) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, reply)
}

func (o *recordingObserver) ObserveRetry(role, model string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func TestAgent_PassesInstructionAndText(t *testing.T) {
	var gotInstruction, gotText string
	backend := BackendFunc(func(ctx context.Context, instruction, text string) (string, error) {
		gotInstruction, gotText = instruction, text
		return "looks fine", nil
	})

	reply := New(testSpec(), backend).Ask(context.Background(), "the code")

	assert.True(t, reply.OK())
	assert.Equal(t, "looks fine", reply.Text)
	assert.Equal(t, 1, reply.Attempts)
	assert.Equal(t, "review things", gotInstruction)
	assert.Equal(t, "the code", gotText)
}

func TestAgent_RetriesRateLimits(t *testing.T) {
	backend := &countingBackend{
		results: []error{errors.New("HTTP 429: slow down"), ErrRateLimited},
		text:    "done",
	}
	obs := &recordingObserver{}

	reply := New(testSpec(), backend, WithRetry(fastRetry), WithObserver(obs)).Ask(context.Background(), "x")

	require.True(t, reply.OK())
	assert.Equal(t, "done", reply.Text)
	assert.Equal(t, 3, reply.Attempts)
	assert.Equal(t, 3, backend.calls)
	assert.Equal(t, 2, obs.retries)
	assert.Len(t, obs.calls, 1)
}

func TestAgent_RateLimitExhausted(t *testing.T) {
	rl := errors.New("429 Too Many Requests")
	backend := &countingBackend{results: []error{rl, rl, rl, rl}}

	reply := New(testSpec(), backend, WithRetry(fastRetry)).Ask(context.Background(), "x")

	assert.False(t, reply.OK())
	assert.Equal(t, FailureRateLimited, reply.Failure)
	assert.Equal(t, 3, backend.calls)
	assert.True(t, strings.HasPrefix(reply.Text, "Error: Rate limit exceeded after 3 attempts."), reply.Text)
	assert.ErrorIs(t, reply.Err, rl)
}

func TestAgent_PermanentFailureNotRetried(t *testing.T) {
	backend := &countingBackend{results: []error{errors.New("invalid api key")}}

	reply := New(testSpec(), backend, WithRetry(fastRetry)).Ask(context.Background(), "x")

	assert.Equal(t, FailurePermanent, reply.Failure)
	assert.Equal(t, 1, backend.calls)
	assert.True(t, strings.HasPrefix(reply.Text, "Error: "), reply.Text)
	assert.Contains(t, reply.Text, "invalid api key")
}

func TestAgent_EmptyResponseIsFailure(t *testing.T) {
	backend := &countingBackend{text: "   "}

	reply := New(testSpec(), backend).Ask(context.Background(), "x")

	assert.Equal(t, FailurePermanent, reply.Failure)
	assert.ErrorIs(t, reply.Err, ErrEmptyResponse)
	assert.Equal(t, "Error: No response from Reviewer", reply.Text)
}

func TestAgent_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := BackendFunc(func(context.Context, string, string) (string, error) {
		cancel()
		return "", ErrRateLimited
	})

	reply := New(testSpec(), backend, WithRetry(resilience.RetryPolicy{BaseDelay: time.Hour})).Ask(ctx, "x")

	assert.Equal(t, FailurePermanent, reply.Failure)
	assert.ErrorIs(t, reply.Err, context.Canceled)
}

func TestAgent_OpenBreakerSkipsBackend(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test-model", resilience.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	backend := &countingBackend{results: []error{errors.New("boom")}}
	a := New(testSpec(), backend, WithBreaker(cb))

	first := a.Ask(context.Background(), "x")
	second := a.Ask(context.Background(), "x")

	assert.Equal(t, FailurePermanent, first.Failure)
	assert.Equal(t, FailureUnavailable, second.Failure)
	assert.ErrorIs(t, second.Err, resilience.ErrCircuitOpen)
	assert.Equal(t, 1, backend.calls)
}

func TestAgent_EmptyRepliesKeepBreakerClosed(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test-model", resilience.BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour})
	backend := &countingBackend{text: ""}
	a := New(testSpec(), backend, WithBreaker(cb))

	for range 5 {
		reply := a.Ask(context.Background(), "x")
		assert.ErrorIs(t, reply.Err, ErrEmptyResponse)
	}

	assert.Equal(t, resilience.StateClosed, cb.State())
	assert.Equal(t, 5, backend.calls)
}

func TestAgent_CancelledCallKeepsBreakerClosed(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test-model", resilience.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	backend := BackendFunc(func(ctx context.Context, _, _ string) (string, error) {
		return "", ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reply := New(testSpec(), backend, WithBreaker(cb)).Ask(ctx, "x")

	assert.ErrorIs(t, reply.Err, context.Canceled)
	assert.Equal(t, resilience.StateClosed, cb.State())
}

func TestIsRateLimited(t *testing.T) {
	assert.False(t, IsRateLimited(nil))
	assert.True(t, IsRateLimited(fmt.Errorf("wrap: %w", ErrRateLimited)))
	assert.True(t, IsRateLimited(errors.New("RESOURCE_EXHAUSTED: quota")))
	assert.True(t, IsRateLimited(errors.New("Rate limit reached")))
	assert.False(t, IsRateLimited(errors.New("connection refused")))
}

func TestFailureKind_String(t *testing.T) {
	assert.Equal(t, "none", FailureNone.String())
	assert.Equal(t, "rate_limited", FailureRateLimited.String())
	assert.Equal(t, "permanent", FailurePermanent.String())
	assert.Equal(t, "unavailable", FailureUnavailable.String())
	assert.Equal(t, "unknown", FailureKind(9).String())
}

func TestFactory_SharesBackendPerModel(t *testing.T) {
	made := map[string]int{}
	f := &Factory{
		NewBackend: func(model string) (Backend, error) {
			made[model]++
			return agenttest.NewScripted(), nil
		},
		ModelFor: func(role string) string {
			if role == prompt.RoleProgrammer {
				return "big"
			}
			return "small"
		},
		Breakers: resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig()),
	}

	ceo, err := f.Agent(prompt.RoleCEO)
	require.NoError(t, err)
	_, err = f.Agent(prompt.RoleCPO)
	require.NoError(t, err)
	programmer, err := f.Agent(prompt.RoleProgrammer)
	require.NoError(t, err)

	assert.Equal(t, "small", ceo.Model())
	assert.Equal(t, "big", programmer.Model())
	assert.Equal(t, map[string]int{"small": 1, "big": 1}, made)
}

func TestFactory_Errors(t *testing.T) {
	f := &Factory{
		NewBackend: func(string) (Backend, error) { return nil, errors.New("no key") },
		ModelFor:   func(string) string { return "m" },
	}

	_, err := f.Agent("Janitor")
	assert.ErrorContains(t, err, "unknown role")

	_, err = f.Agent(prompt.RoleCEO)
	assert.ErrorContains(t, err, "no key")

	f.ModelFor = func(string) string { return "" }
	_, err = f.Agent(prompt.RoleCEO)
	assert.ErrorContains(t, err, "no model configured")
}

func TestScripted_RoleQueues(t *testing.T) {
	s := agenttest.NewScripted().
		OnRole(prompt.RoleCEO, agenttest.Reply("one"), agenttest.Reply("two")).
		OnRole(prompt.RoleCPO, agenttest.Fail(ErrRateLimited))

	ceo := New(Spec{Role: prompt.RoleCEO, Model: "m", Instruction: prompt.Instruction(prompt.RoleCEO)}, s)

	assert.Equal(t, "one", ceo.Ask(context.Background(), "a").Text)
	assert.Equal(t, "two", ceo.Ask(context.Background(), "b").Text)
	assert.Equal(t, "two", ceo.Ask(context.Background(), "c").Text)
	assert.Equal(t, 3, s.CallsFor(prompt.RoleCEO))
	assert.Equal(t, 0, s.CallsFor(prompt.RoleCPO))
}

func TestNewBackends_Validation(t *testing.T) {
	_, err := NewOpenRouterBackend("", "m")
	assert.Error(t, err)
	_, err = NewAnthropicBackend("", "", "m")
	assert.Error(t, err)
	_, err = NewFantasyBackend(nil, "m")
	assert.Error(t, err)
	_, err = NewOpenAIBackend("k", "", "")
	assert.Error(t, err)

	b, err := NewOpenAIBackend("k", "http://localhost:1234/v1", "gpt-test")
	require.NoError(t, err)
	assert.Equal(t, "gpt-test", b.Model())
}
