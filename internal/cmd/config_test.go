package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rand/devchain/internal/app"
	"github.com/rand/devchain/internal/chain"
	"github.com/rand/devchain/internal/config"
	"github.com/rand/devchain/internal/heal"
	"github.com/rand/devchain/internal/history"
	"github.com/rand/devchain/internal/project"
	"github.com/rand/devchain/internal/usage"
)

func TestConfigPathsExist(t *testing.T) {
	cwd := t.TempDir()
	dataDir := filepath.Join(cwd, ".devchain")

	paths := configPaths(cwd, dataDir)
	require.Len(t, paths, 3)
	for _, p := range paths {
		assert.False(t, p.exists, p.path)
	}

	require.NoError(t, os.WriteFile(filepath.Join(cwd, ".devchain.yml"), []byte("# test config\n"), 0o644))

	paths = configPaths(cwd, dataDir)
	assert.False(t, paths[0].exists)
	assert.True(t, paths[1].exists)
	assert.Equal(t, filepath.Join(dataDir, "config.yaml"), paths[2].path)
}

func TestCheckConfig(t *testing.T) {
	testCases := []struct {
		name        string
		provider    config.ProviderConfig
		expectError bool
	}{
		{"openrouter without key", config.ProviderConfig{Type: config.ProviderOpenRouter}, true},
		{"openrouter with key", config.ProviderConfig{Type: config.ProviderOpenRouter, APIKey: "sk-or"}, false},
		{"anthropic without key", config.ProviderConfig{Type: config.ProviderAnthropic}, true},
		{"openai local server", config.ProviderConfig{Type: config.ProviderOpenAI, BaseURL: "http://localhost:11434/v1"}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Options.DataDirectory = filepath.Join(t.TempDir(), "missing")
			cfg.Provider = tc.provider

			warnings, problems := checkConfig(cfg)

			if tc.expectError {
				assert.NotEmpty(t, problems)
			} else {
				assert.Empty(t, problems)
			}
			assert.NotEmpty(t, warnings, "missing data directory is a warning")
		})
	}
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", maskKey(""))
	assert.Equal(t, "abc...", maskKey("abc"))
	assert.Equal(t, "sk-or-v1...", maskKey("sk-or-v1-0123456789"))
}

func TestRoleName(t *testing.T) {
	assert.Equal(t, "Programmer", roleName("programmer"))
	assert.Equal(t, "CEO", roleName("ceo"))
	assert.Equal(t, "janitor", roleName("janitor"))
}

func TestPrintConfig_HidesKey(t *testing.T) {
	cfg := config.Default()
	cfg.Options.DataDirectory = "/data"
	cfg.Provider.APIKey = "sk-or-v1-secret-value"
	cfg.SetRoleModel("tester", "o3-mini")
	cfg.SetRoleModel("janitor", "x")

	var buf bytes.Buffer
	printConfig(&buf, cfg)

	out := buf.String()
	assert.Contains(t, out, "sk-or-v1...")
	assert.NotContains(t, out, "secret-value")
	assert.Contains(t, out, "o3-mini")
	assert.Contains(t, out, "janitor:")
	assert.Contains(t, out, "(unknown role)")
}

func TestApplyRunFlags(t *testing.T) {
	c := &cobra.Command{Use: "run"}
	addRunFlags(c)
	require.NoError(t, c.ParseFlags([]string{
		"--model", "gpt-4o-mini",
		"--max-review-iterations", "5",
		"--self-healing",
		"--call-interval", "20s",
		"--output-dir", "out",
	}))

	cfg := config.Default()
	cfg.SetRoleModel("Programmer", "claude-sonnet-4")
	cfg.Pipeline.MaxTestIterations = 7
	require.NoError(t, applyRunFlags(c, cfg))

	assert.Equal(t, "gpt-4o-mini", cfg.ModelFor("Programmer"))
	assert.Equal(t, 5, cfg.Pipeline.MaxReviewIterations)
	assert.Equal(t, 7, cfg.Pipeline.MaxTestIterations, "unset flags keep config values")
	assert.True(t, cfg.Pipeline.SelfHealing)
	assert.Equal(t, 20*time.Second, cfg.Provider.CallInterval)
	assert.True(t, filepath.IsAbs(cfg.Options.OutputDir))
	assert.Equal(t, "out", filepath.Base(cfg.Options.OutputDir))
}

type fakeRunner struct {
	req    app.RunRequest
	report *app.RunReport
}

func (f *fakeRunner) Run(ctx context.Context, req app.RunRequest) (*app.RunReport, error) {
	f.req = req
	req.OnPhaseStart(1, "Demand Analysis")
	req.OnPhaseDone(chain.PhaseResult{Name: "Demand Analysis", Duration: time.Second}, f.report.State)
	return f.report, nil
}

func fakeReport(err error) *app.RunReport {
	st := project.New("t", "greeter", "/tmp/out/greeter")
	st.Modality = "CLI Tool"
	st.Files.Set("main.py", "print(1)")
	return &app.RunReport{
		State: st,
		Result: &chain.Result{
			RunID:  st.RunID,
			Phases: []chain.PhaseResult{{Name: "Demand Analysis", Output: "Modality determined: CLI Tool"}},
			Err:    err,
		},
		Usage: usage.Summary{Calls: 2},
	}
}

func TestRunChain_Output(t *testing.T) {
	r := &fakeRunner{report: fakeReport(nil)}
	var stdout, stderr bytes.Buffer

	err := runChain(context.Background(), r, app.RunRequest{Task: "t", Name: "greeter"}, &stdout, &stderr)
	require.NoError(t, err)

	assert.Equal(t, "greeter", r.req.Name)
	assert.Equal(t, "Demand Analysis:\nModality determined: CLI Tool\n", stdout.String())
	assert.Contains(t, stderr.String(), "Demand Analysis...")
	assert.Contains(t, stderr.String(), "Development Complete!")
	assert.Contains(t, stderr.String(), "main.py")
	assert.Contains(t, stderr.String(), "=== Usage Summary ===")
}

func TestRunChain_StoppedRunFails(t *testing.T) {
	r := &fakeRunner{report: fakeReport(errors.New("Coding: modality not determined"))}
	var stdout, stderr bytes.Buffer

	err := runChain(context.Background(), r, app.RunRequest{Task: "t"}, &stdout, &stderr)

	assert.ErrorContains(t, err, "development chain stopped")
	assert.Contains(t, stdout.String(), "Error in development chain: Coding: modality not determined")
	assert.Contains(t, stderr.String(), "Development Stopped")
}

type fakeHealer struct{ res heal.Result }

func (f fakeHealer) Heal(ctx context.Context, req app.HealRequest) (*app.HealReport, error) {
	return &app.HealReport{Result: f.res}, nil
}

func TestHealFile(t *testing.T) {
	healed := heal.Result{
		Path:    "/tmp/broken.py",
		Success: true,
		Attempts: []heal.Attempt{
			{Number: 1, Execution: heal.Execution{ExitCode: 1}, Applied: true, Diff: "+print(1)"},
			{Number: 2},
		},
	}
	var stdout, stderr bytes.Buffer
	require.NoError(t, healFile(context.Background(), fakeHealer{healed}, app.HealRequest{Path: "broken.py"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "broken.py: healed after 1 repair(s)")
	assert.Contains(t, stderr.String(), "attempt 1: exit 1")
	assert.Contains(t, stderr.String(), "repair applied")

	failing := heal.Result{
		Path:     "/tmp/broken.py",
		Attempts: []heal.Attempt{{Number: 1, Execution: heal.Execution{TimedOut: true, ExitCode: -1}, Rejected: "no code block"}},
	}
	stdout.Reset()
	stderr.Reset()
	err := healFile(context.Background(), fakeHealer{failing}, app.HealRequest{Path: "broken.py"}, &stdout, &stderr)
	assert.ErrorContains(t, err, "still fails")
	assert.Contains(t, stderr.String(), "timed out")
	assert.Contains(t, stderr.String(), "repair rejected: no code block")
}

func TestHistoryListing(t *testing.T) {
	ctx := context.Background()
	store, err := history.Open(ctx, filepath.Join(t.TempDir(), history.DefaultFileName))
	require.NoError(t, err)
	defer store.Close()

	var buf bytes.Buffer
	require.NoError(t, listRuns(ctx, store, 10, false, &buf))
	assert.Equal(t, "No runs recorded yet.\n", buf.String())

	buf.Reset()
	require.NoError(t, listRuns(ctx, store, 10, true, &buf))
	assert.Equal(t, "[]\n", buf.String())

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
	run := history.Run{ID: "run-1", Name: "greeter", Task: "t", Language: "Python", StartedAt: started, FinishedAt: started.Add(time.Minute)}
	calls := []usage.Record{{Agent: "CEO", Phase: "Demand Analysis", Model: "m", InputTokens: 10, OutputTokens: 5, Timestamp: started}}
	require.NoError(t, store.Save(ctx, run, calls))

	buf.Reset()
	require.NoError(t, listRuns(ctx, store, 10, false, &buf))
	assert.Contains(t, buf.String(), "run-1")
	assert.Contains(t, buf.String(), "2026-01-02 03:04:05")

	buf.Reset()
	require.NoError(t, showRun(ctx, store, "run-1", false, &buf))
	assert.Contains(t, buf.String(), "Demand Analysis")
	assert.Contains(t, buf.String(), "CEO")

	buf.Reset()
	require.NoError(t, showRun(ctx, store, "run-1", true, &buf))
	assert.Contains(t, buf.String(), `"calls": [`)

	assert.ErrorIs(t, showRun(ctx, store, "nope", false, &buf), history.ErrNotFound)
}

func TestPrependReader(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, err = w.WriteString("piped requirements\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	defer r.Close()

	got, err := prependReader(r, "build it")
	require.NoError(t, err)
	assert.Equal(t, "piped requirements\n\nbuild it", got)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
