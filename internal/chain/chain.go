// Package chain runs the development phases in order over one project
// state and folds every failure into a partial result.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rand/devchain/internal/agent"
	"github.com/rand/devchain/internal/heal"
	"github.com/rand/devchain/internal/phase"
	"github.com/rand/devchain/internal/project"
	"github.com/rand/devchain/internal/prompt"
	"github.com/rand/devchain/internal/testrun"
)

// PhaseResult is the output of one completed phase.
type PhaseResult struct {
	Name     string
	Output   string
	Duration time.Duration
}

// Result is the outcome of a run. Err is set when a phase failed or the
// run was cancelled; Phases then holds what completed before it.
type Result struct {
	RunID      string
	Phases     []PhaseResult
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Summary renders the per-phase outputs, prefixed by the error when the
// run stopped early.
func (r *Result) Summary() string {
	blocks := make([]string, 0, len(r.Phases))
	for _, p := range r.Phases {
		blocks = append(blocks, p.Name+":\n"+p.Output)
	}
	joined := strings.Join(blocks, "\n\n")
	if r.Err != nil {
		return fmt.Sprintf("Error in development chain: %v\n\nPartial results:\n%s", r.Err, joined)
	}
	return joined
}

// Options configures the phases built by New.
type Options struct {
	MaxReviewIterations int
	MaxTestIterations   int

	// SelfHealing heals Python projects with Healer instead of Runner.
	SelfHealing bool
	Healer      *heal.Healer
	Runner      phase.TestRunner

	Observer phase.Observer
}

// Chain is an ordered list of phases.
type Chain struct {
	Phases []phase.Phase

	// OnPhaseStart and OnPhaseDone report progress. Both are optional.
	OnPhaseStart func(n int, name string)
	OnPhaseDone  func(res PhaseResult, st *project.State)
}

// New builds the standard chain: demand analysis, coding, code review
// and testing, with agents from f.
func New(f *agent.Factory, opts Options) (*Chain, error) {
	agents := make(map[string]*agent.Agent, len(prompt.Roles))
	for _, role := range prompt.Roles {
		a, err := f.Agent(role)
		if err != nil {
			return nil, fmt.Errorf("create %s agent: %w", role, err)
		}
		agents[role] = a
	}
	runner := opts.Runner
	if runner == nil {
		runner = testrun.NewRunner(heal.DefaultSandboxConfig())
	}

	return &Chain{Phases: []phase.Phase{
		&phase.DemandAnalysis{
			CEO: agents[prompt.RoleCEO],
			CPO: agents[prompt.RoleCPO],
		},
		&phase.Coding{
			CTO:        agents[prompt.RoleCTO],
			Programmer: agents[prompt.RoleProgrammer],
		},
		&phase.Review{
			Reviewer:      agents[prompt.RoleReviewer],
			Programmer:    agents[prompt.RoleProgrammer],
			MaxIterations: opts.MaxReviewIterations,
			Observer:      opts.Observer,
		},
		&phase.Testing{
			Tester:        agents[prompt.RoleTester],
			Programmer:    agents[prompt.RoleProgrammer],
			MaxIterations: opts.MaxTestIterations,
			Runner:        runner,
			SelfHealing:   opts.SelfHealing,
			Healer:        opts.Healer,
			Debugger:      agents[prompt.RoleDebugger],
			Observer:      opts.Observer,
		},
	}}, nil
}

// Run executes the phases in order. It never returns an error and never
// panics; failures end the run with a partial result.
func (c *Chain) Run(ctx context.Context, st *project.State) *Result {
	ctx, span := otel.Tracer("devchain/chain").Start(ctx, "chain.run")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", st.RunID))

	res := &Result{RunID: st.RunID, StartedAt: time.Now()}
	for i, p := range c.Phases {
		if err := ctx.Err(); err != nil {
			res.Err = fmt.Errorf("cancelled before %s: %w", p.Name(), err)
			break
		}
		if c.OnPhaseStart != nil {
			c.OnPhaseStart(i+1, p.Name())
		}

		pr, err := c.runPhase(ctx, p, st)
		if err != nil {
			res.Err = fmt.Errorf("%s: %w", p.Name(), err)
			break
		}
		res.Phases = append(res.Phases, pr)
		if c.OnPhaseDone != nil {
			c.OnPhaseDone(pr, st)
		}
	}
	res.FinishedAt = time.Now()

	if res.Err != nil {
		slog.Error("development chain stopped", "run", st.RunID, "completed", len(res.Phases), "error", res.Err)
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "chain stopped")
	} else {
		slog.Info("development chain finished", "run", st.RunID, "duration", res.FinishedAt.Sub(res.StartedAt))
	}
	return res
}

func (c *Chain) runPhase(ctx context.Context, p phase.Phase, st *project.State) (pr PhaseResult, err error) {
	ctx, span := otel.Tracer("devchain/chain").Start(ctx, "chain.phase")
	defer span.End()
	span.SetAttributes(attribute.String("phase.name", p.Name()))

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("phase panicked", "phase", p.Name(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	slog.Info("phase started", "run", st.RunID, "phase", p.Name())
	out, err := p.Run(ctx, st)
	if err != nil {
		return PhaseResult{}, err
	}
	pr = PhaseResult{Name: p.Name(), Output: out, Duration: time.Since(start)}
	slog.Info("phase finished", "run", st.RunID, "phase", p.Name(), "duration", pr.Duration)
	return pr, nil
}
