// Package app wires configuration, backends, history and metrics into
// runnable development chains.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/rand/devchain/internal/agent"
	"github.com/rand/devchain/internal/chain"
	"github.com/rand/devchain/internal/config"
	"github.com/rand/devchain/internal/heal"
	"github.com/rand/devchain/internal/history"
	"github.com/rand/devchain/internal/metrics"
	"github.com/rand/devchain/internal/phase"
	"github.com/rand/devchain/internal/project"
	"github.com/rand/devchain/internal/prompt"
	"github.com/rand/devchain/internal/resilience"
	"github.com/rand/devchain/internal/testrun"
	"github.com/rand/devchain/internal/usage"
)

// DefaultProjectName is used when a run is started without a name.
const DefaultProjectName = "my_new_project"

// PhaseHealing labels usage records of stand-alone healing.
const PhaseHealing = "Healing"

// App holds the long-lived services of one process.
type App struct {
	config *config.Config

	Metrics  *metrics.Metrics
	History  *history.Store
	Breakers *resilience.BreakerRegistry

	newBackend agent.BackendMaker
	limiter    *rate.Limiter

	cleanupFuncs []func() error
}

// New creates the application. newBackend may be nil, in which case the
// configured provider is used.
func New(ctx context.Context, cfg *config.Config, newBackend agent.BackendMaker) (*App, error) {
	if newBackend == nil {
		var err error
		newBackend, err = backendMaker(cfg.Provider)
		if err != nil {
			return nil, err
		}
	}

	store, err := history.Open(ctx, filepath.Join(cfg.Options.DataDirectory, history.DefaultFileName))
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}

	app := &App{
		config:     cfg,
		Metrics:    metrics.New(),
		History:    store,
		Breakers:   resilience.NewBreakerRegistry(cfg.Breaker),
		newBackend: newBackend,
	}
	if cfg.Provider.CallInterval > 0 {
		app.limiter = rate.NewLimiter(rate.Every(cfg.Provider.CallInterval), 1)
	}
	app.cleanupFuncs = append(app.cleanupFuncs, store.Close)
	if err := app.Metrics.WatchBreakers(app.Breakers); err != nil {
		store.Close()
		return nil, fmt.Errorf("register breaker metrics: %w", err)
	}

	slog.Info("Application initialized",
		"provider", cfg.Provider.Type,
		"model", cfg.Models.Default,
		"data_dir", cfg.Options.DataDirectory)
	return app, nil
}

// Config returns the effective configuration.
func (app *App) Config() *config.Config {
	return app.config
}

// Shutdown releases resources and writes the metrics file when one is
// configured.
func (app *App) Shutdown() error {
	var errs []error
	if path := app.config.Options.MetricsFile; path != "" {
		if err := app.Metrics.WriteTextfile(path); err != nil {
			errs = append(errs, err)
		} else {
			slog.Info("Metrics written", "path", path)
		}
	}
	for _, fn := range app.cleanupFuncs {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	app.cleanupFuncs = nil
	return errors.Join(errs...)
}

// factory builds an agent factory. A non-empty model overrides every role.
func (app *App) factory(model string) *agent.Factory {
	return &agent.Factory{
		NewBackend: app.newBackend,
		ModelFor: func(role string) string {
			if model != "" {
				return model
			}
			return app.config.ModelFor(role)
		},
		Retry:    app.config.Retry,
		Limiter:  app.limiter,
		Breakers: app.Breakers,
		Observer: app.Metrics,
	}
}

func (app *App) healer() *heal.Healer {
	sandbox := app.config.Sandbox
	return &heal.Healer{
		Exec:         heal.NewProcessExecutor(sandbox),
		Validators:   heal.DefaultValidators(sandbox),
		MaxRetries:   app.config.Heal.MaxRetries,
		MinGuardSize: app.config.Heal.MinGuardSize,
	}
}

// RunRequest describes one development run.
type RunRequest struct {
	Task string
	Name string

	// OnPhaseStart and OnPhaseDone report progress. Both are optional.
	OnPhaseStart func(n int, name string)
	OnPhaseDone  func(res chain.PhaseResult, st *project.State)
}

// RunReport is the outcome of Run.
type RunReport struct {
	State  *project.State
	Result *chain.Result
	Usage  usage.Summary
}

// Run executes the development chain for one task and records it in the
// run history. The returned error covers setup only; chain failures are
// reported in RunReport.Result.
func (app *App) Run(ctx context.Context, req RunRequest) (*RunReport, error) {
	if req.Task == "" {
		return nil, errors.New("task description cannot be empty")
	}
	name := req.Name
	if name == "" {
		name = DefaultProjectName
	}

	pipeline := app.config.Pipeline
	c, err := chain.New(app.factory(""), chain.Options{
		MaxReviewIterations: pipeline.MaxReviewIterations,
		MaxTestIterations:   pipeline.MaxTestIterations,
		SelfHealing:         pipeline.SelfHealing,
		Healer:              app.healer(),
		Runner:              testrun.NewRunner(app.config.Sandbox),
		Observer:            app.Metrics,
	})
	if err != nil {
		return nil, err
	}
	c.OnPhaseStart = req.OnPhaseStart
	c.OnPhaseDone = req.OnPhaseDone

	st := project.New(req.Task, name, filepath.Join(app.config.Options.OutputDir, name))
	slog.Info("Run started", "run", st.RunID, "project", name, "output", st.OutputDir())

	res := c.Run(ctx, st)
	report := &RunReport{
		State:  st,
		Result: res,
		Usage:  usage.Summarize(st.Usage, res.FinishedAt),
	}

	// History is best effort; the generated project is already on disk.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := app.History.Save(saveCtx, historyRun(st, res), st.Usage.Records()); err != nil {
		slog.Warn("Failed to save run history", "run", st.RunID, "error", err)
	}
	return report, nil
}

func historyRun(st *project.State, res *chain.Result) history.Run {
	run := history.Run{
		ID:         st.RunID,
		Name:       st.ProjectName,
		Task:       st.TaskPrompt(),
		Modality:   st.Modality,
		Language:   st.Language,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Summary:    res.Summary(),
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}
	return run
}

// HealRequest describes stand-alone healing of one file.
type HealRequest struct {
	Path string
	// Model overrides the debugger model.
	Model string
	// MaxRetries overrides the configured execution count when positive.
	MaxRetries int
}

// HealReport is the outcome of Heal.
type HealReport struct {
	Result heal.Result
	Usage  usage.Summary
}

// Heal runs the execute-repair loop on a single file.
func (app *App) Heal(ctx context.Context, req HealRequest) (*HealReport, error) {
	path, err := filepath.Abs(req.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", req.Path, err)
	}
	debugger, err := app.factory(req.Model).Agent(prompt.RoleDebugger)
	if err != nil {
		return nil, err
	}

	st := project.New("", filepath.Base(path), "")
	h := app.healer()
	h.Repair = phase.Caller{Agent: debugger, Phase: PhaseHealing, State: st}
	if req.MaxRetries > 0 {
		h.MaxRetries = req.MaxRetries
	}

	res := h.Heal(ctx, path)
	app.Metrics.ObserveHeal(res)
	return &HealReport{Result: res, Usage: usage.Summarize(st.Usage, time.Now())}, nil
}
