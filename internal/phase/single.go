package phase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rand/devchain/internal/agent"
	"github.com/rand/devchain/internal/marker"
	"github.com/rand/devchain/internal/project"
	"github.com/rand/devchain/internal/prompt"
)

// ErrNoModality is returned by Coding when demand analysis has not run.
var ErrNoModality = errors.New("modality not determined")

// DemandAnalysis asks the CEO to analyze the task and the CPO to decide the
// product modality.
type DemandAnalysis struct {
	CEO *agent.Agent
	CPO *agent.Agent
}

// Name implements Phase.
func (p *DemandAnalysis) Name() string { return NameDemandAnalysis }

// Run implements Phase.
func (p *DemandAnalysis) Run(ctx context.Context, st *project.State) (string, error) {
	ceo := Caller{Agent: p.CEO, Phase: p.Name(), State: st}
	cpo := Caller{Agent: p.CPO, Phase: p.Name(), State: st}

	analysis := ceo.Ask(ctx, prompt.DemandAnalysis(st.TaskPrompt()))
	// A failed reply still flows into the CPO prompt; its error text is
	// what the operator sees in the summary.
	decision := cpo.Ask(ctx, prompt.ProductDecision(st.TaskPrompt(), analysis.Text))
	if err := ctx.Err(); err != nil {
		return "", err
	}

	st.Modality = marker.Modality(decision.Text)
	slog.Info("modality determined", "run", st.RunID, "modality", st.Modality)

	return fmt.Sprintf("Modality determined: %s\n\nCPO Response: %s", st.Modality, decision.Text), nil
}

// Coding asks the CTO for a language and the Programmer for the initial
// file set.
type Coding struct {
	CTO        *agent.Agent
	Programmer *agent.Agent
}

// Name implements Phase.
func (p *Coding) Name() string { return NameCoding }

// Run implements Phase.
func (p *Coding) Run(ctx context.Context, st *project.State) (string, error) {
	if !st.HasModality() {
		return "", ErrNoModality
	}
	cto := Caller{Agent: p.CTO, Phase: p.Name(), State: st}
	programmer := Caller{Agent: p.Programmer, Phase: p.Name(), State: st}

	selection := cto.Ask(ctx, prompt.LanguageSelection(st.TaskPrompt(), st.Modality))
	if err := ctx.Err(); err != nil {
		return "", err
	}
	st.Language = marker.Language(selection.Text)
	slog.Info("language selected", "run", st.RunID, "language", st.Language)

	code := programmer.Ask(ctx, prompt.Coding(st.TaskPrompt(), st.Modality, st.Language))
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if code.OK() {
		keys := st.UpdateFiles(code.Text)
		slog.Info("code generated", "run", st.RunID, "files", keys)
	}
	if err := st.Persist(ctx); err != nil {
		return "", err
	}

	return fmt.Sprintf("Language selected: %s\n\nCode generated:\n%s", st.Language, code.Text), nil
}
