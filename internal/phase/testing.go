package phase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/rand/devchain/internal/agent"
	"github.com/rand/devchain/internal/heal"
	"github.com/rand/devchain/internal/marker"
	"github.com/rand/devchain/internal/project"
	"github.com/rand/devchain/internal/prompt"
	"github.com/rand/devchain/internal/testrun"
)

// TestsNotRun is the test report when there is nothing to run against.
const TestsNotRun = "Tests not run (missing directory or language)"

// TestRunner executes a project's tests. testrun.Runner implements it.
type TestRunner interface {
	Run(ctx context.Context, dir, language, modality string) (bool, string)
}

// Testing runs the tests every round and lets the Tester decide whether
// the Programmer must fix anything.
type Testing struct {
	Tester        *agent.Agent
	Programmer    *agent.Agent
	MaxIterations int
	Runner        TestRunner

	// SelfHealing replaces the test runner with Healer for Python
	// projects. Debugger answers the healer's repair requests.
	SelfHealing bool
	Healer      *heal.Healer
	Debugger    *agent.Agent

	Observer Observer
}

// Name implements Phase.
func (p *Testing) Name() string { return NameTesting }

// Run implements Phase.
func (p *Testing) Run(ctx context.Context, st *project.State) (string, error) {
	loop := &Loop{
		Name:          p.Name(),
		Label:         "Test Analysis",
		MaxIterations: p.MaxIterations,
		Marker:        marker.NoErrors,
		Critic:        p.Tester,
		Fixer:         p.Programmer,
		Prepare:       p.prepare,
		CriticPrompt: func(st *project.State) string {
			return prompt.Testing(st.TaskPrompt(), st.Language, st.TestReport, st.ErrorSummary, st.FormattedFiles())
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

func (p *Testing) healing(st *project.State) bool {
	return p.SelfHealing && p.Healer != nil && p.Debugger != nil &&
		strings.EqualFold(st.Language, marker.LanguagePython)
}

// prepare runs the tests and stores the report on st.
func (p *Testing) prepare(ctx context.Context, st *project.State) error {
	if st.OutputDir() == "" || !st.HasLanguage() {
		st.TestReport = TestsNotRun
		st.ErrorSummary = ""
		return nil
	}

	var (
		ok     bool
		report string
	)
	if p.healing(st) {
		var err error
		ok, report, err = p.healAll(ctx, st)
		if err != nil {
			return err
		}
	} else {
		ok, report = p.Runner.Run(ctx, st.OutputDir(), st.Language, st.Modality)
	}

	st.TestReport = report
	if ok {
		st.ErrorSummary = ""
	} else {
		st.ErrorSummary = testrun.ParseErrors(report)
	}
	slog.Info("tests run", "run", st.RunID, "success", ok, "healing", p.healing(st))
	return nil
}

// healAll heals every Python file of the project in order and pulls the
// repaired contents back into st.
func (p *Testing) healAll(ctx context.Context, st *project.State) (bool, string, error) {
	if err := st.Persist(ctx); err != nil {
		return false, "", err
	}

	h := *p.Healer
	h.Repair = Caller{Agent: p.Debugger, Phase: p.Name(), State: st}

	var lines []string
	success := true
	for _, key := range st.Files.Keys() {
		if strings.ToLower(filepath.Ext(key)) != ".py" {
			continue
		}
		path, err := st.Workspace().Path(key)
		if err != nil {
			return false, "", err
		}

		res := h.Heal(ctx, path)
		if p.Observer != nil {
			p.Observer.ObserveHeal(res)
		}
		if err := ctx.Err(); err != nil {
			return false, "", err
		}
		if res.Repairs() > 0 {
			if err := st.Reload(key); err != nil {
				return false, "", fmt.Errorf("reload healed %s: %w", key, err)
			}
		}

		line := key + ": " + res.Outcome()
		if !res.Success {
			success = false
			if n := len(res.Attempts); n > 0 {
				line += "\n" + strings.TrimSpace(res.Attempts[n-1].Execution.ErrorOutput())
			}
		}
		lines = append(lines, line)
	}

	if len(lines) == 0 {
		return true, "No Python files to run", nil
	}
	return success, strings.Join(lines, "\n"), nil
}
