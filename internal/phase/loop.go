package phase

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rand/devchain/internal/agent"
	"github.com/rand/devchain/internal/marker"
	"github.com/rand/devchain/internal/project"
	"github.com/rand/devchain/internal/prompt"
)

// DefaultMaxIterations bounds a loop when no limit is configured.
const DefaultMaxIterations = 3

// LoopOutcome is what a critique loop did.
type LoopOutcome struct {
	Rounds      int
	CriticCalls int
	FixerCalls  int
	// Completed is set when the critic emitted the completion marker. An
	// exhausted budget is not an error but leaves Completed false.
	Completed bool
	Message   string
}

// Loop alternates a critic and a fixer until the critic emits Marker or
// MaxIterations rounds have run.
type Loop struct {
	// Name is the phase the loop belongs to.
	Name string
	// Label prefixes the critic reply in the round message.
	Label         string
	MaxIterations int
	Marker        marker.Marker

	Critic *agent.Agent
	Fixer  *agent.Agent

	// Prepare runs at the start of every round, before the critic.
	Prepare func(ctx context.Context, st *project.State) error
	// CriticPrompt builds the critic request from current state.
	CriticPrompt func(st *project.State) string
	// OnVerdict runs after every critic reply.
	OnVerdict func(st *project.State, v marker.Verdict)
}

func (l *Loop) maxIterations() int {
	if l.MaxIterations < 1 {
		return 1
	}
	return l.MaxIterations
}

// Execute runs the loop. Errors are limited to cancellation and failures
// to persist files; agent failures are folded into the outcome.
func (l *Loop) Execute(ctx context.Context, st *project.State) (LoopOutcome, error) {
	ctx, span := otel.Tracer("devchain/phase").Start(ctx, "phase.loop")
	defer span.End()

	critic := Caller{Agent: l.Critic, Phase: l.Name, State: st}
	fixer := Caller{Agent: l.Fixer, Phase: l.Name, State: st}
	limit := l.maxIterations()

	var out LoopOutcome
	for out.Rounds < limit {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.Rounds++

		if l.Prepare != nil {
			if err := l.Prepare(ctx, st); err != nil {
				return out, fmt.Errorf("%s round %d: %w", l.Name, out.Rounds, err)
			}
		}

		reply := critic.Ask(ctx, l.CriticPrompt(st))
		out.CriticCalls++
		verdict := marker.Judge(reply.Text, reply.OK(), l.Marker)
		if l.OnVerdict != nil {
			l.OnVerdict(st, verdict)
		}
		slog.Info("critic verdict", "run", st.RunID, "phase", l.Name, "round", out.Rounds, "verdict", verdict.Kind.String())

		if verdict.Kind == marker.Completed {
			out.Completed = true
			out.Message = reply.Text
			break
		}
		if verdict.Kind == marker.Unparseable {
			// Nothing to fix against; the round is spent.
			out.Message = l.Label + ": " + reply.Text
			continue
		}

		fix := fixer.Ask(ctx, prompt.FixCode(st.TaskPrompt(), st.Language, verdict.Feedback, st.FormattedFiles()))
		out.FixerCalls++
		if fix.OK() {
			st.UpdateFiles(fix.Text)
			if err := st.Persist(ctx); err != nil {
				return out, err
			}
		}
		out.Message = fmt.Sprintf("%s: %s\n\nFixes applied: %s", l.Label, reply.Text, fix.Text)
	}

	span.SetAttributes(
		attribute.String("phase.name", l.Name),
		attribute.Int("phase.rounds", out.Rounds),
		attribute.Bool("phase.completed", out.Completed),
	)
	if !out.Completed {
		slog.Warn("loop budget exhausted", "run", st.RunID, "phase", l.Name, "rounds", out.Rounds)
	}
	return out, nil
}
