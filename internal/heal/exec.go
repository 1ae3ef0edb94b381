package heal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// ErrLaunch means the program could not be started at all. It is not
// something a code repair can fix.
var ErrLaunch = errors.New("launch failed")

// Execution is the observed outcome of running a program once.
type Execution struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// Failed reports whether the program exited unsuccessfully.
func (e Execution) Failed() bool {
	return e.ExitCode != 0 || e.TimedOut
}

// ErrorOutput returns stderr, or stdout when the program wrote nothing to
// stderr.
func (e Execution) ErrorOutput() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	return e.Stdout
}

// Executor runs a program file. A returned error is a launch failure;
// a program that starts and fails is reported through Execution.
type Executor interface {
	Run(ctx context.Context, path string) (Execution, error)
}

// ProcessExecutor runs files as child processes without a shell.
type ProcessExecutor struct {
	sandbox SandboxConfig
}

// NewProcessExecutor creates an executor with the given sandbox settings.
func NewProcessExecutor(sandbox SandboxConfig) *ProcessExecutor {
	sandbox = sandbox.WithDefaults()
	return &ProcessExecutor{sandbox: sandbox}
}

// Run implements Executor. The working directory is the file's directory
// and stdin is empty.
func (p *ProcessExecutor) Run(ctx context.Context, path string) (Execution, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Execution{}, fmt.Errorf("%w: resolve %s: %w", ErrLaunch, path, err)
	}
	argv, ok := p.sandbox.Interpreter(abs)
	if !ok {
		return Execution{}, fmt.Errorf("%w: no interpreter for %s", ErrLaunch, filepath.Base(abs))
	}
	if _, err := os.Stat(abs); err != nil {
		return Execution{}, fmt.Errorf("%w: %w", ErrLaunch, err)
	}
	return Command(ctx, p.sandbox, filepath.Dir(abs), append(argv, abs), nil)
}

// Command executes argv in dir under the sandbox timeout and classifies
// the result. A nil stdin leaves standard input empty. The returned error
// wraps ErrLaunch when the process could not be started, or is the context
// error when ctx ended first.
func Command(ctx context.Context, sandbox SandboxConfig, dir string, argv []string, stdin []byte) (Execution, error) {
	sandbox = sandbox.WithDefaults()
	runCtx, cancel := context.WithTimeout(ctx, sandbox.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), sandbox.ToEnv()...)
	cmd.WaitDelay = time.Second
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	exe := Execution{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case err == nil:
		return exe, nil
	case ctx.Err() != nil:
		return exe, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		exe.TimedOut = true
		exe.ExitCode = -1
		exe.Stderr += fmt.Sprintf("\nexecution timed out after %s", sandbox.Timeout)
		return exe, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exe.ExitCode = exitErr.ExitCode()
		return exe, nil
	}
	return exe, fmt.Errorf("%w: %s: %w", ErrLaunch, argv[0], err)
}
