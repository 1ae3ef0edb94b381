package testrun

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rand/devchain/internal/heal"
)

type call struct {
	argv    []string
	timeout time.Duration
}

// fakeCommands answers by program name; a program with no entry is
// reported as missing.
type fakeCommands struct {
	results map[string]heal.Execution
	calls   []call
}

func (f *fakeCommands) command(ctx context.Context, sandbox heal.SandboxConfig, dir string, argv []string, stdin []byte) (heal.Execution, error) {
	f.calls = append(f.calls, call{argv: argv, timeout: sandbox.Timeout})
	key := argv[0]
	if len(argv) > 1 && argv[1] == "-m" {
		key += " -m"
	}
	if len(argv) > 1 && strings.HasPrefix(filepath.Base(argv[len(argv)-1]), "prog_") {
		key = filepath.Base(argv[len(argv)-1])
	}
	exe, ok := f.results[key]
	if !ok {
		return heal.Execution{}, fmt.Errorf("%w: %s: executable file not found", heal.ErrLaunch, argv[0])
	}
	return exe, nil
}

func newFakeRunner(results map[string]heal.Execution) (*Runner, *fakeCommands) {
	f := &fakeCommands{results: results}
	r := NewRunner(heal.DefaultSandboxConfig())
	r.command = f.command
	return r, f
}

func project(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("pass\n"), 0o644))
	}
	return dir
}

func TestRun_PytestPasses(t *testing.T) {
	r, f := newFakeRunner(map[string]heal.Execution{
		"pytest": {Stdout: "2 passed", Stderr: "warning"},
	})
	dir := project(t)

	ok, out := r.Run(context.Background(), dir, "Python", "")

	assert.True(t, ok)
	assert.Equal(t, "2 passed", out)
	require.Len(t, f.calls, 1)
	assert.Equal(t, []string{"pytest", dir, "-v"}, f.calls[0].argv)
	assert.Equal(t, DefaultSuiteTimeout, f.calls[0].timeout)
}

func TestRun_PytestFails(t *testing.T) {
	r, _ := newFakeRunner(map[string]heal.Execution{
		"pytest": {ExitCode: 1, Stdout: "FAILED test_a.py\n", Stderr: "E assert 1 == 2"},
	})

	ok, out := r.Run(context.Background(), project(t), "python", "")

	assert.False(t, ok)
	assert.Equal(t, "FAILED test_a.py\nE assert 1 == 2", out)
}

func TestRun_FallsBackToUnittest(t *testing.T) {
	r, f := newFakeRunner(map[string]heal.Execution{
		"python3 -m": {ExitCode: 1, Stderr: "FAIL: test_x"},
	})
	dir := project(t)

	ok, out := r.Run(context.Background(), dir, "python", "")

	assert.False(t, ok)
	assert.Equal(t, "FAIL: test_x", out)
	require.Len(t, f.calls, 2)
	assert.Equal(t, []string{"python3", "-m", "unittest", "discover", "-s", dir, "-v"}, f.calls[1].argv)
}

func TestRun_FallsBackToDirectExecution(t *testing.T) {
	r, f := newFakeRunner(map[string]heal.Execution{
		"prog_b.py": {ExitCode: 1, Stderr: "NameError: x"},
		"prog_a.py": {},
	})
	// Neither pytest nor unittest resolve, only the direct runs.
	dir := project(t, "prog_b.py", "pkg/__init__.py", "prog_a.py", "README.md")

	ok, out := r.Run(context.Background(), dir, "python", "")

	assert.False(t, ok)
	assert.Equal(t, "prog_a.py: OK\nError in prog_b.py: NameError: x", out)
	require.Len(t, f.calls, 4)
	assert.Equal(t, DefaultFileTimeout, f.calls[2].timeout)
	assert.Equal(t, "python3", f.calls[2].argv[0])
}

func TestRun_PytestCollectedNothing(t *testing.T) {
	r, f := newFakeRunner(map[string]heal.Execution{
		"pytest":    {ExitCode: 5, Stdout: "no tests ran"},
		"prog_a.py": {},
	})
	dir := project(t, "prog_a.py")

	ok, out := r.Run(context.Background(), dir, "python", "")

	assert.True(t, ok)
	assert.Equal(t, "prog_a.py: OK", out)
	assert.Len(t, f.calls, 2)
}

func TestRun_DirectExecutionLaunchFailure(t *testing.T) {
	r, _ := newFakeRunner(map[string]heal.Execution{})
	dir := project(t, "prog_a.py")

	ok, out := r.Run(context.Background(), dir, "python", "")

	assert.False(t, ok)
	assert.Contains(t, out, "Error running prog_a.py:")
}

func TestRun_NodeFallbackSkipsTestFiles(t *testing.T) {
	r, f := newFakeRunner(map[string]heal.Execution{
		"prog_app.js": {},
	})
	dir := project(t, "prog_app.js", "prog_app.test.js")

	ok, out := r.Run(context.Background(), dir, "JavaScript", "website")

	assert.True(t, ok)
	assert.Equal(t, "prog_app.js: OK", out)
	require.Len(t, f.calls, 2)
	assert.Equal(t, []string{"npm", "test"}, f.calls[0].argv)
	assert.Equal(t, "node", f.calls[1].argv[0])
}

func TestRun_Npm(t *testing.T) {
	r, _ := newFakeRunner(map[string]heal.Execution{
		"npm": {ExitCode: 1, Stdout: "1 failing", Stderr: "npm ERR!"},
	})

	ok, out := r.Run(context.Background(), project(t), "ts", "")

	assert.False(t, ok)
	assert.Equal(t, "1 failingnpm ERR!", out)
}

func TestRun_UnsupportedLanguage(t *testing.T) {
	r, f := newFakeRunner(nil)

	ok, out := r.Run(context.Background(), project(t), "Rust", "")

	assert.True(t, ok)
	assert.Equal(t, NotImplemented, out)
	assert.Empty(t, f.calls)
}

func TestRun_DirectPython(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.py"), []byte("print('ok')\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.py"), []byte("raise ValueError('boom')\n"), 0o644))
	r := NewRunner(heal.DefaultSandboxConfig())

	ok, out := r.direct(context.Background(), dir, "*.py", []string{"python3"}, isPackageInit)

	assert.False(t, ok)
	assert.Contains(t, out, "Error in bad.py:")
	assert.Contains(t, out, "ValueError: boom")
	assert.Contains(t, out, "good.py: OK")
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"empty", "", ""},
		{"no errors", "all good\n3 passed", NoSpecificErrors},
		{
			"keywords",
			"collected 2 items\nTraceback (most recent call last):\n  File x\nValueError: bad\ntest_a FAILED\nException raised",
			"Traceback (most recent call last):\nValueError: bad\ntest_a FAILED\nException raised",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseErrors(tt.output))
		})
	}
}

func TestParseErrors_CapsAtTenLines(t *testing.T) {
	var lines []string
	for i := range 15 {
		lines = append(lines, fmt.Sprintf("Error %d", i))
	}

	got := strings.Split(ParseErrors(strings.Join(lines, "\n")), "\n")

	assert.Len(t, got, 10)
	assert.Equal(t, "Error 9", got[9])
}
