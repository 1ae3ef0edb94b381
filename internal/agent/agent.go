// Package agent wraps a chat backend with a fixed role, model and system
// instruction, and turns transport failures into explicit replies.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/rand/devchain/internal/resilience"
)

// Backend sends one system instruction plus one user message to a model
// and returns the completion text. Each provider implements it once.
type Backend interface {
	Send(ctx context.Context, instruction, text string) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, instruction, text string) (string, error)

// Send implements Backend.
func (f BackendFunc) Send(ctx context.Context, instruction, text string) (string, error) {
	return f(ctx, instruction, text)
}

// ErrRateLimited marks a backend error as a rate-limit rejection. Backends
// wrap it when the transport reports one.
var ErrRateLimited = errors.New("rate limited")

// ErrEmptyResponse is returned when a backend produces no text.
var ErrEmptyResponse = errors.New("empty response")

var rateLimitHints = []string{"429", "too many requests", "rate limit", "resource exhausted", "resource_exhausted"}

// IsRateLimited reports whether err signals a rate-limit rejection.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range rateLimitHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// FailureKind classifies an unsuccessful reply.
type FailureKind int

const (
	// FailureNone means the reply is a real completion.
	FailureNone FailureKind = iota
	// FailureRateLimited means retries were exhausted on rate-limit errors.
	FailureRateLimited
	// FailurePermanent means the backend failed in a way retries don't fix.
	FailurePermanent
	// FailureUnavailable means the call was refused without reaching the
	// backend because its circuit is open.
	FailureUnavailable
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureRateLimited:
		return "rate_limited"
	case FailurePermanent:
		return "permanent"
	case FailureUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Reply is the outcome of one Ask. Failed replies still carry a readable
// "Error: ..." text so they can be logged and shown like any other reply.
type Reply struct {
	Text     string
	Failure  FailureKind
	Err      error
	Attempts int
	Duration time.Duration
}

// OK reports whether the reply is a real completion.
func (r Reply) OK() bool {
	return r.Failure == FailureNone
}

// Spec identifies an agent.
type Spec struct {
	Role        string
	Model       string
	Instruction string
}

// Observer is notified after every Ask. It is how metrics are collected
// without the agent knowing about them.
type Observer interface {
	ObserveCall(role, model string, reply Reply)
	ObserveRetry(role, model string)
}

// Agent is a role-bound client over a Backend.
type Agent struct {
	spec    Spec
	backend Backend
	retry   resilience.RetryPolicy
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	obs     Observer
}

// Option configures an Agent.
type Option func(*Agent)

// WithRetry overrides the rate-limit retry policy.
func WithRetry(p resilience.RetryPolicy) Option {
	return func(a *Agent) { a.retry = p.WithDefaults() }
}

// WithLimiter paces calls through a limiter shared across agents.
func WithLimiter(l *rate.Limiter) Option {
	return func(a *Agent) { a.limiter = l }
}

// WithBreaker guards the backend with a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(a *Agent) { a.breaker = cb }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(a *Agent) { a.obs = o }
}

// New creates an agent.
func New(spec Spec, backend Backend, opts ...Option) *Agent {
	a := &Agent{
		spec:    spec,
		backend: backend,
		retry:   resilience.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Role returns the agent's role name.
func (a *Agent) Role() string { return a.spec.Role }

// Model returns the model identifier.
func (a *Agent) Model() string { return a.spec.Model }

// Ask sends text under the agent's instruction. It never returns an error;
// failures are reported through Reply.Failure.
func (a *Agent) Ask(ctx context.Context, text string) Reply {
	ctx, span := otel.Tracer("devchain/agent").Start(ctx, "agent.ask")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.role", a.spec.Role),
		attribute.String("agent.model", a.spec.Model),
	)

	start := time.Now()
	reply := a.ask(ctx, text)
	reply.Duration = time.Since(start)

	span.SetAttributes(attribute.Int("agent.attempts", reply.Attempts))
	if !reply.OK() {
		span.RecordError(reply.Err)
		span.SetStatus(codes.Error, reply.Failure.String())
	}
	if a.obs != nil {
		a.obs.ObserveCall(a.spec.Role, a.spec.Model, reply)
	}
	return reply
}

func (a *Agent) ask(ctx context.Context, text string) Reply {
	if a.breaker == nil {
		return a.attempt(ctx, text)
	}
	var reply Reply
	err := a.breaker.Do(func() error {
		reply = a.attempt(ctx, text)
		return backendFault(reply.Err)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		slog.Warn("agent call refused", "role", a.spec.Role, "model", a.spec.Model)
		return a.failure(FailureUnavailable, 0, resilience.ErrCircuitOpen)
	}
	return reply
}

// backendFault returns err when it says the backend itself is failing.
// Empty completions and cancellation are not held against the backend.
func backendFault(err error) error {
	switch {
	case err == nil,
		errors.Is(err, ErrEmptyResponse),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return nil
	default:
		return err
	}
}

func (a *Agent) attempt(ctx context.Context, text string) Reply {
	var lastErr error
	for attempt := 1; attempt <= a.retry.MaxAttempts; attempt++ {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return a.failure(FailurePermanent, attempt, fmt.Errorf("wait for call slot: %w", err))
			}
		}

		out, err := a.backend.Send(ctx, a.spec.Instruction, text)
		if err == nil && strings.TrimSpace(out) == "" {
			err = ErrEmptyResponse
		}
		if err == nil {
			return Reply{Text: out, Attempts: attempt}
		}
		if !IsRateLimited(err) {
			slog.Error("agent call failed", "role", a.spec.Role, "model", a.spec.Model, "error", err)
			return a.failure(FailurePermanent, attempt, err)
		}

		lastErr = err
		if attempt == a.retry.MaxAttempts {
			break
		}
		delay := a.retry.Delay(attempt)
		slog.Warn("agent rate limited, backing off",
			"role", a.spec.Role,
			"attempt", attempt,
			"max_attempts", a.retry.MaxAttempts,
			"delay", delay)
		if a.obs != nil {
			a.obs.ObserveRetry(a.spec.Role, a.spec.Model)
		}
		if err := resilience.Sleep(ctx, delay); err != nil {
			return a.failure(FailurePermanent, attempt, fmt.Errorf("backoff interrupted: %w", err))
		}
	}
	return a.failure(FailureRateLimited, a.retry.MaxAttempts, lastErr)
}

func (a *Agent) failure(kind FailureKind, attempts int, err error) Reply {
	var text string
	switch kind {
	case FailureRateLimited:
		text = fmt.Sprintf("Error: Rate limit exceeded after %d attempts. %v", attempts, err)
	case FailureUnavailable:
		text = fmt.Sprintf("Error: %s backend unavailable: %v", a.spec.Role, err)
	default:
		if errors.Is(err, ErrEmptyResponse) {
			text = fmt.Sprintf("Error: No response from %s", a.spec.Role)
		} else {
			text = fmt.Sprintf("Error: %s request failed: %v", a.spec.Role, err)
		}
	}
	return Reply{Text: text, Failure: kind, Err: err, Attempts: attempts}
}
