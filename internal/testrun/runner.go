// Package testrun runs a generated project's test suite, falling back to
// executing its source files directly when no test tool is installed.
package testrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/rand/devchain/internal/heal"
)

// Default timeouts.
const (
	DefaultSuiteTimeout = 30 * time.Second
	DefaultFileTimeout  = 10 * time.Second
)

// NotImplemented is reported for languages without a runner.
const NotImplemented = "Syntax check not implemented for this language"

// pytestNoTests is pytest's exit status when it collected nothing.
const pytestNoTests = 5

type commandFunc func(ctx context.Context, sandbox heal.SandboxConfig, dir string, argv []string, stdin []byte) (heal.Execution, error)

// Runner runs tests for a project directory.
type Runner struct {
	// Sandbox supplies interpreters and environment. Its Timeout is ignored
	// in favor of SuiteTimeout and FileTimeout.
	Sandbox heal.SandboxConfig

	// SuiteTimeout bounds pytest, unittest and npm. Default: 30s
	SuiteTimeout time.Duration
	// FileTimeout bounds each directly executed file. Default: 10s
	FileTimeout time.Duration

	command commandFunc
}

// NewRunner creates a runner with default timeouts.
func NewRunner(sandbox heal.SandboxConfig) *Runner {
	sandbox = sandbox.WithDefaults()
	return &Runner{
		Sandbox:      sandbox,
		SuiteTimeout: DefaultSuiteTimeout,
		FileTimeout:  DefaultFileTimeout,
		command:      heal.Command,
	}
}

// Run tests dir for the given language. Modality is recorded but does not
// change how tests are found.
func (r *Runner) Run(ctx context.Context, dir, language, modality string) (bool, string) {
	slog.Debug("testrun: running", "dir", dir, "language", language, "modality", modality)

	switch strings.ToLower(strings.TrimSpace(language)) {
	case "python":
		return r.python(ctx, dir)
	case "javascript", "js", "typescript", "ts":
		return r.node(ctx, dir)
	default:
		return true, NotImplemented
	}
}

func (r *Runner) python(ctx context.Context, dir string) (bool, string) {
	exe, err := r.exec(ctx, dir, r.suiteTimeout(), "pytest", dir, "-v")
	switch {
	case err == nil && exe.ExitCode == pytestNoTests && !exe.TimedOut:
		slog.Debug("testrun: pytest collected no tests", "dir", dir)
		return r.direct(ctx, dir, "*.py", []string{r.sandbox().Python}, isPackageInit)
	case err == nil:
		if !exe.Failed() {
			return true, exe.Stdout
		}
		return false, exe.Stdout + exe.Stderr
	case !errors.Is(err, heal.ErrLaunch):
		return false, err.Error()
	}

	slog.Debug("testrun: pytest unavailable, trying unittest", "error", err)
	exe, err = r.exec(ctx, dir, r.suiteTimeout(), r.sandbox().Python, "-m", "unittest", "discover", "-s", dir, "-v")
	if err == nil {
		return !exe.Failed(), exe.Stdout + exe.Stderr
	}
	if !errors.Is(err, heal.ErrLaunch) {
		return false, err.Error()
	}

	slog.Debug("testrun: unittest unavailable, running files directly", "error", err)
	return r.direct(ctx, dir, "*.py", []string{r.sandbox().Python}, isPackageInit)
}

func (r *Runner) node(ctx context.Context, dir string) (bool, string) {
	exe, err := r.exec(ctx, dir, r.suiteTimeout(), "npm", "test")
	if err == nil {
		return !exe.Failed(), exe.Stdout + exe.Stderr
	}
	if !errors.Is(err, heal.ErrLaunch) {
		return false, err.Error()
	}

	slog.Debug("testrun: npm unavailable, running files directly", "error", err)
	return r.direct(ctx, dir, "*.js", []string{r.sandbox().Node}, isJSTest)
}

// direct runs every file under dir matching ext, in path order.
func (r *Runner) direct(ctx context.Context, dir, ext string, interp []string, skip func(string) bool) (bool, string) {
	files, err := doublestar.Glob(os.DirFS(dir), "**/"+ext)
	if err != nil {
		return false, fmt.Sprintf("Error listing files: %v", err)
	}
	sort.Strings(files)

	var out []string
	success := true
	for _, rel := range files {
		if skip(rel) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return false, strings.Join(append(out, err.Error()), "\n")
		}
		argv := append(append([]string{}, interp...), filepath.Join(dir, filepath.FromSlash(rel)))
		exe, err := r.exec(ctx, dir, r.fileTimeout(), argv...)
		switch {
		case err != nil:
			success = false
			out = append(out, fmt.Sprintf("Error running %s: %v", rel, err))
		case exe.Failed():
			success = false
			out = append(out, fmt.Sprintf("Error in %s: %s", rel, exe.ErrorOutput()))
		default:
			out = append(out, rel+": OK")
		}
	}
	return success, strings.Join(out, "\n")
}

func (r *Runner) exec(ctx context.Context, dir string, timeout time.Duration, argv ...string) (heal.Execution, error) {
	sandbox := r.sandbox()
	sandbox.Timeout = timeout
	command := r.command
	if command == nil {
		command = heal.Command
	}
	return command(ctx, sandbox, dir, argv, nil)
}

func (r *Runner) sandbox() heal.SandboxConfig {
	return r.Sandbox.WithDefaults()
}

func isPackageInit(rel string) bool { return filepath.Base(rel) == "__init__.py" }

func isJSTest(rel string) bool { return strings.HasSuffix(rel, ".test.js") }

func (r *Runner) suiteTimeout() time.Duration {
	if r.SuiteTimeout <= 0 {
		return DefaultSuiteTimeout
	}
	return r.SuiteTimeout
}

func (r *Runner) fileTimeout() time.Duration {
	if r.FileTimeout <= 0 {
		return DefaultFileTimeout
	}
	return r.FileTimeout
}
