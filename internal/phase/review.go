package phase

import (
	"context"

	"github.com/rand/devchain/internal/agent"
	"github.com/rand/devchain/internal/marker"
	"github.com/rand/devchain/internal/project"
	"github.com/rand/devchain/internal/prompt"
)

// ReviewPassed is stored as review feedback once the reviewer finishes.
const ReviewPassed = "Code review passed"

// Review runs the Reviewer/Programmer loop.
type Review struct {
	Reviewer      *agent.Agent
	Programmer    *agent.Agent
	MaxIterations int
	Observer      Observer
}

// Name implements Phase.
func (p *Review) Name() string { return NameCodeReview }

// Run implements Phase.
func (p *Review) Run(ctx context.Context, st *project.State) (string, error) {
	loop := &Loop{
		Name:          p.Name(),
		Label:         "Review",
		MaxIterations: p.MaxIterations,
		Marker:        marker.Finished,
		Critic:        p.Reviewer,
		Fixer:         p.Programmer,
		CriticPrompt: func(st *project.State) string {
			return prompt.CodeReview(st.TaskPrompt(), st.Language, st.FormattedFiles())
		},
		OnVerdict: func(st *project.State, v marker.Verdict) {
			if v.Kind == marker.Completed {
				st.ReviewFeedback = ReviewPassed
			} else {
				st.ReviewFeedback = v.Raw
			}
		},
	}

	out, err := loop.Execute(ctx, st)
	if p.Observer != nil {
		p.Observer.ObserveLoop(p.Name(), out)
	}
	if err != nil {
		return "", err
	}
	return out.Message, nil
}
