// Package heal runs a generated program and, when it crashes, asks a
// repair agent for a corrected version until it runs cleanly or the retry
// budget is spent.
//
// A candidate is written only after it passes the language's syntax check
// and is not drastically shorter than the code it replaces, so the file on
// disk always holds the last accepted version.
package heal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rand/devchain/internal/agent"
	"github.com/rand/devchain/internal/extract"
	"github.com/rand/devchain/internal/prompt"
)

// Defaults for Healer.
const (
	DefaultMaxRetries   = 3
	DefaultMinGuardSize = 500
)

// Asker is the slice of agent.Agent the healer needs.
type Asker interface {
	Ask(ctx context.Context, text string) agent.Reply
}

// Attempt records one execution and what happened after it.
type Attempt struct {
	Number    int
	Execution Execution
	// Applied is set when a repair was validated and written.
	Applied bool
	// Rejected explains why no repair was written after a failed run.
	Rejected string
	// Diff is the unified diff of an applied repair.
	Diff string
}

// Result is the outcome of Heal.
type Result struct {
	Path     string
	Success  bool
	Attempts []Attempt
	// Err is set when healing stopped early: launch failure, I/O error or
	// cancellation.
	Err error
}

// Repairs counts applied repairs.
func (r Result) Repairs() int {
	n := 0
	for _, a := range r.Attempts {
		if a.Applied {
			n++
		}
	}
	return n
}

// Summary is a one-line description of the result.
func (r Result) Summary() string {
	return filepath.Base(r.Path) + ": " + r.Outcome()
}

// Outcome describes the result without naming the file.
func (r Result) Outcome() string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("not run (%v)", r.Err)
	case r.Success && r.Repairs() == 0:
		return "OK"
	case r.Success:
		return fmt.Sprintf("healed after %d repair(s)", r.Repairs())
	default:
		last := r.Attempts[len(r.Attempts)-1].Execution
		return fmt.Sprintf("still failing after %d attempt(s): %s", len(r.Attempts), lastLine(last.ErrorOutput()))
	}
}

// Healer drives the execute-repair loop.
type Healer struct {
	Repair     Asker
	Exec       Executor
	Validators map[string]Validator

	// MaxRetries is the number of executions. Default: 3
	MaxRetries int
	// MinGuardSize is the size above which the shrink guard applies.
	// Default: 500
	MinGuardSize int
}

func (h *Healer) maxRetries() int {
	if h.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return h.MaxRetries
}

func (h *Healer) minGuardSize() int {
	if h.MinGuardSize <= 0 {
		return DefaultMinGuardSize
	}
	return h.MinGuardSize
}

// Heal executes path and repairs it until it exits cleanly. No repair is
// requested after the final execution since nothing would verify it.
func (h *Healer) Heal(ctx context.Context, path string) Result {
	ctx, span := otel.Tracer("devchain/heal").Start(ctx, "heal.file")
	defer span.End()
	span.SetAttributes(attribute.String("heal.path", path))

	res := h.heal(ctx, path)

	span.SetAttributes(
		attribute.Bool("heal.success", res.Success),
		attribute.Int("heal.attempts", len(res.Attempts)),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "heal aborted")
	}
	return res
}

func (h *Healer) heal(ctx context.Context, path string) Result {
	res := Result{Path: path}
	limit := h.maxRetries()

	for n := 1; n <= limit; n++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		exe, err := h.Exec.Run(ctx, path)
		if err != nil {
			slog.Error("heal: cannot execute", "path", path, "error", err)
			res.Err = err
			return res
		}
		att := Attempt{Number: n, Execution: exe}

		if !exe.Failed() {
			res.Attempts = append(res.Attempts, att)
			res.Success = true
			slog.Info("heal: program ran cleanly", "path", path, "attempt", n)
			return res
		}

		slog.Warn("heal: program failed", "path", path, "attempt", n, "exit_code", exe.ExitCode, "timed_out", exe.TimedOut)
		if n == limit {
			res.Attempts = append(res.Attempts, att)
			break
		}

		if err := h.repair(ctx, path, &att); err != nil {
			res.Attempts = append(res.Attempts, att)
			res.Err = err
			return res
		}
		res.Attempts = append(res.Attempts, att)
	}

	slog.Warn("heal: retries exhausted", "path", path, "attempts", len(res.Attempts))
	return res
}

// repair asks for a fix and writes it if it passes validation. Rejections
// are recorded on att; only I/O failures are returned.
func (h *Healer) repair(ctx context.Context, path string, att *Attempt) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	source := string(data)

	reply := h.Repair.Ask(ctx, prompt.Repair(filepath.Base(path), att.Execution.ErrorOutput(), source))
	if !reply.OK() {
		att.Rejected = "repair request failed: " + reply.Text
		return nil
	}

	candidate, ok := extract.FirstBlock(reply.Text)
	if !ok {
		att.Rejected = "reply contained no code block"
		return nil
	}

	if v := h.Validators[strings.ToLower(filepath.Ext(path))]; v != nil {
		if err := v.Validate(ctx, path, candidate); err != nil {
			att.Rejected = err.Error()
			slog.Warn("heal: candidate rejected", "path", path, "reason", att.Rejected)
			return nil
		}
	}

	if Degraded(source, candidate, h.minGuardSize()) {
		att.Rejected = fmt.Sprintf("candidate shrank from %d to %d bytes", len(source), len(candidate))
		slog.Warn("heal: candidate rejected", "path", path, "reason", att.Rejected)
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(candidate), info.Mode().Perm()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	att.Applied = true
	att.Diff = udiff.Unified("a/"+filepath.Base(path), "b/"+filepath.Base(path), source, candidate)
	slog.Info("heal: repair applied", "path", path, "attempt", att.Number, "bytes", len(candidate))
	return nil
}
