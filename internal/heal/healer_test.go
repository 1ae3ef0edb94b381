package heal

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rand/devchain/internal/agent"
)

type execStep struct {
	exe Execution
	err error
}

type scriptedExec struct {
	mu    sync.Mutex
	steps []execStep
	calls int
}

func (s *scriptedExec) Run(ctx context.Context, path string) (Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i].exe, s.steps[i].err
}

func fail(stderr string) execStep { return execStep{exe: Execution{ExitCode: 1, Stderr: stderr}} }

func pass() execStep { return execStep{exe: Execution{}} }

type scriptedRepair struct {
	mu      sync.Mutex
	replies []agent.Reply
	prompts []string
}

func (s *scriptedRepair) Ask(ctx context.Context, text string) agent.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, text)
	i := len(s.prompts) - 1
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return s.replies[i]
}

func ok(text string) agent.Reply { return agent.Reply{Text: text} }

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestHeal_CleanRunLeavesFileAlone(t *testing.T) {
	path := writeFile(t, "ok.py", "print('hi')\n")
	repair := &scriptedRepair{replies: []agent.Reply{ok("unused")}}
	h := &Healer{Repair: repair, Exec: &scriptedExec{steps: []execStep{pass()}}}

	res := h.Heal(context.Background(), path)

	assert.True(t, res.Success)
	assert.Len(t, res.Attempts, 1)
	assert.Empty(t, repair.prompts)
	assert.Equal(t, "print('hi')\n", readFile(t, path))
	assert.Equal(t, "ok.py: OK", res.Summary())
}

func TestHeal_RepairsThenSucceeds(t *testing.T) {
	path := writeFile(t, "bad.py", "print(1/0)\n")
	repair := &scriptedRepair{replies: []agent.Reply{ok("Fixed:\n```python\nprint(1)\n```")}}
	validated := 0
	h := &Healer{
		Repair: repair,
		Exec:   &scriptedExec{steps: []execStep{fail("ZeroDivisionError: division by zero"), pass()}},
		Validators: map[string]Validator{".py": ValidatorFunc(func(context.Context, string, string) error {
			validated++
			return nil
		})},
	}

	res := h.Heal(context.Background(), path)

	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	require.Len(t, res.Attempts, 2)
	assert.True(t, res.Attempts[0].Applied)
	assert.Contains(t, res.Attempts[0].Diff, "+print(1)")
	assert.Equal(t, 1, validated)
	assert.Equal(t, "print(1)", readFile(t, path))
	assert.Equal(t, 1, res.Repairs())
	assert.Equal(t, "bad.py: healed after 1 repair(s)", res.Summary())

	require.Len(t, repair.prompts, 1)
	assert.Contains(t, repair.prompts[0], "ZeroDivisionError")
	assert.Contains(t, repair.prompts[0], "print(1/0)")
}

func TestHeal_InvalidCandidatesNeverWritten(t *testing.T) {
	original := "print(1/0)\n"
	path := writeFile(t, "bad.py", original)
	runner := &scriptedExec{steps: []execStep{fail("boom")}}
	repair := &scriptedRepair{replies: []agent.Reply{ok("```python\ndef broken(:\n```")}}
	h := &Healer{
		Repair: repair,
		Exec:   runner,
		Validators: map[string]Validator{".py": ValidatorFunc(func(context.Context, string, string) error {
			return ErrInvalidSyntax
		})},
	}

	res := h.Heal(context.Background(), path)

	assert.False(t, res.Success)
	assert.NoError(t, res.Err)
	assert.Len(t, res.Attempts, 3)
	assert.Equal(t, 3, runner.calls)
	assert.Len(t, repair.prompts, 2, "no repair after the last run")
	for _, a := range res.Attempts[:2] {
		assert.False(t, a.Applied)
		assert.Contains(t, a.Rejected, "invalid syntax")
	}
	assert.Equal(t, original, readFile(t, path))
	assert.Contains(t, res.Summary(), "still failing after 3 attempt(s): boom")
}

func TestHeal_DegradationGuard(t *testing.T) {
	original := strings.Repeat("# important logic\n", 40) // 720 bytes
	path := writeFile(t, "big.py", original)
	h := &Healer{
		Repair: &scriptedRepair{replies: []agent.Reply{ok("```python\npass\n```")}},
		Exec:   &scriptedExec{steps: []execStep{fail("err"), fail("err")}},
	}

	res := h.Heal(context.Background(), path)

	assert.False(t, res.Success)
	assert.Contains(t, res.Attempts[0].Rejected, "shrank")
	assert.Equal(t, original, readFile(t, path))
}

func TestHeal_GuardSkippedForSmallFiles(t *testing.T) {
	original := strings.Repeat("x = 1\n", 50) // 300 bytes
	path := writeFile(t, "small.py", original)
	h := &Healer{
		Repair: &scriptedRepair{replies: []agent.Reply{ok("```\nx = 2\n```")}},
		Exec:   &scriptedExec{steps: []execStep{fail("err"), pass()}},
	}

	res := h.Heal(context.Background(), path)

	assert.True(t, res.Success)
	assert.Equal(t, "x = 2", readFile(t, path))
}

func TestHeal_RejectsFailedReplyAndMissingBlock(t *testing.T) {
	path := writeFile(t, "bad.py", "raise SystemExit(1)\n")
	repair := &scriptedRepair{replies: []agent.Reply{
		{Text: "Error: Rate limit exceeded after 3 attempts.", Failure: agent.FailureRateLimited},
		ok("I think you should remove the exit."),
	}}
	h := &Healer{
		Repair: repair,
		Exec:   &scriptedExec{steps: []execStep{fail(""), fail(""), fail("")}},
	}

	res := h.Heal(context.Background(), path)

	assert.False(t, res.Success)
	assert.Contains(t, res.Attempts[0].Rejected, "repair request failed")
	assert.Equal(t, "reply contained no code block", res.Attempts[1].Rejected)
}

func TestHeal_LaunchFailureIsFatal(t *testing.T) {
	path := writeFile(t, "bad.py", "x")
	repair := &scriptedRepair{replies: []agent.Reply{ok("```\ny\n```")}}
	h := &Healer{
		Repair: repair,
		Exec:   &scriptedExec{steps: []execStep{{err: ErrLaunch}}},
	}

	res := h.Heal(context.Background(), path)

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrLaunch)
	assert.Empty(t, repair.prompts)
	assert.Empty(t, res.Attempts)
	assert.Contains(t, res.Summary(), "not run")
}

func TestHeal_UsesStdoutWhenStderrEmpty(t *testing.T) {
	path := writeFile(t, "bad.py", "x")
	repair := &scriptedRepair{replies: []agent.Reply{ok("no block")}}
	h := &Healer{
		Repair:     repair,
		Exec:       &scriptedExec{steps: []execStep{{exe: Execution{ExitCode: 2, Stdout: "usage: prog"}}}},
		MaxRetries: 2,
	}

	h.Heal(context.Background(), path)

	require.Len(t, repair.prompts, 1)
	assert.Contains(t, repair.prompts[0], "usage: prog")
}

func TestDegraded(t *testing.T) {
	big := strings.Repeat("a", 600)
	assert.True(t, Degraded(big, strings.Repeat("a", 299), 500))
	assert.False(t, Degraded(big, strings.Repeat("a", 300), 500))
	assert.False(t, Degraded(strings.Repeat("a", 500), "", 500))
}

func TestDegraded_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prev := rapid.IntRange(0, 3000).Draw(t, "prev")
		cand := rapid.IntRange(0, 3000).Draw(t, "cand")

		got := Degraded(strings.Repeat("p", prev), strings.Repeat("c", cand), 500)

		want := prev > 500 && float64(cand) < 0.5*float64(prev)
		assert.Equal(t, want, got)
	})
}

func TestSandboxConfig(t *testing.T) {
	c := SandboxConfig{}.WithDefaults()
	assert.Equal(t, 30*time.Second, c.Timeout)
	assert.Equal(t, "python3", c.Python)

	argv, ok := c.Interpreter("/tmp/a.PY")
	require.True(t, ok)
	assert.Equal(t, []string{"python3", "-u"}, argv)
	argv, ok = c.Interpreter("x.js")
	require.True(t, ok)
	assert.Equal(t, []string{"node"}, argv)
	_, ok = c.Interpreter("x.java")
	assert.False(t, ok)
}

func TestProcessExecutor_UnknownExtension(t *testing.T) {
	path := writeFile(t, "Main.java", "class Main {}")
	_, err := NewProcessExecutor(DefaultSandboxConfig()).Run(context.Background(), path)
	assert.ErrorIs(t, err, ErrLaunch)
}

func TestProcessExecutor_MissingInterpreter(t *testing.T) {
	path := writeFile(t, "a.py", "print(1)")
	cfg := DefaultSandboxConfig()
	cfg.Python = "definitely-not-a-python-binary"

	_, err := NewProcessExecutor(cfg).Run(context.Background(), path)

	assert.ErrorIs(t, err, ErrLaunch)
}

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func TestProcessExecutor_Python(t *testing.T) {
	requirePython(t)
	ex := NewProcessExecutor(DefaultSandboxConfig())

	exe, err := ex.Run(context.Background(), writeFile(t, "good.py", "print('hello')"))
	require.NoError(t, err)
	assert.False(t, exe.Failed())
	assert.Equal(t, "hello\n", exe.Stdout)

	exe, err = ex.Run(context.Background(), writeFile(t, "bad.py", "print(1/0)"))
	require.NoError(t, err)
	assert.True(t, exe.Failed())
	assert.Contains(t, exe.Stderr, "ZeroDivisionError")
}

func TestProcessExecutor_Timeout(t *testing.T) {
	requirePython(t)
	cfg := DefaultSandboxConfig()
	cfg.Timeout = 200 * time.Millisecond

	exe, err := NewProcessExecutor(cfg).Run(context.Background(), writeFile(t, "loop.py", "while True:\n    pass\n"))

	require.NoError(t, err)
	assert.True(t, exe.TimedOut)
	assert.True(t, exe.Failed())
	assert.Contains(t, exe.Stderr, "timed out")
}

func TestPythonSyntax(t *testing.T) {
	requirePython(t)
	v := PythonSyntax(DefaultSandboxConfig())

	assert.NoError(t, v.Validate(context.Background(), "a.py", "def f():\n    return 1\n"))
	err := v.Validate(context.Background(), "a.py", "def f(:\n")
	assert.ErrorIs(t, err, ErrInvalidSyntax)
}

func TestHeal_EndToEndWithPython(t *testing.T) {
	requirePython(t)
	path := writeFile(t, "bad_code.py", "print('Starting bad code...')\nprint(1 / 0)\n")
	sandbox := DefaultSandboxConfig()
	h := &Healer{
		Repair: &scriptedRepair{replies: []agent.Reply{
			ok("```python\nprint('Starting bad code...')\nprint(1 / 1)\n```"),
		}},
		Exec:       NewProcessExecutor(sandbox),
		Validators: DefaultValidators(sandbox),
	}

	res := h.Heal(context.Background(), path)

	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Len(t, res.Attempts, 2)
	assert.Contains(t, readFile(t, path), "1 / 1")
}

func TestResult_SummaryOnError(t *testing.T) {
	r := Result{Path: "/x/y.py", Err: errors.New("nope")}
	assert.Equal(t, "y.py: not run (nope)", r.Summary())
}
