package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/rand/devchain/internal/app"
	"github.com/rand/devchain/internal/chain"
	"github.com/rand/devchain/internal/config"
	"github.com/rand/devchain/internal/log"
	"github.com/rand/devchain/internal/project"
	"github.com/rand/devchain/internal/usage"
)

var runCmd = &cobra.Command{
	Use:   "run [task...]",
	Short: "Run the development chain for a task",
	Long: heredoc.Doc(`
		Run the development chain for a task description:

		- Demand Analysis: the CEO and CPO pick the product modality
		- Coding: the CTO picks a language and the Programmer writes the code
		- Code Review: the Reviewer critiques until it is satisfied
		- Testing: tests run and the Tester decides what must be fixed

		Generated files are written to <output-dir>/<name>. The task can be
		provided as arguments or piped from stdin.
	`),
	Example: heredoc.Doc(`
		# Build a project
		devchain run --name snake "A terminal snake game"

		# Pipe a longer description
		cat requirements.md | devchain run --name service

		# Heal Python files by running them instead of running tests
		devchain run --self-healing --name scraper "Fetch a page and print its title"

		# Route every role through one model and pace calls
		devchain run --model gpt-4o-mini --call-interval 20s "A unit converter"
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		quiet, _ := cmd.Flags().GetBool("quiet")
		name, _ := cmd.Flags().GetString("name")

		// Cancel on SIGINT
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()

		task, err := MaybePrependStdin(strings.Join(args, " "))
		if err != nil {
			slog.Error("Failed to read from stdin", "error", err)
			return err
		}
		if strings.TrimSpace(task) == "" {
			return fmt.Errorf("no task provided")
		}

		a, err := setupApp(cmd, func(cfg *config.Config) error { return applyRunFlags(cmd, cfg) })
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Shutdown(); err != nil {
				slog.Warn("Shutdown failed", "error", err)
			}
		}()
		defer log.RecoverPanic("run", nil)

		stderr := io.Discard
		if !quiet {
			stderr = cmd.ErrOrStderr()
		}
		return runChain(ctx, a, app.RunRequest{Task: task, Name: name}, cmd.OutOrStdout(), stderr)
	},
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(c *cobra.Command) {
	c.Flags().StringP("name", "n", app.DefaultProjectName, "Project name, used as the output subdirectory")
	c.Flags().StringP("model", "m", "", "Model for every role")
	c.Flags().String("provider", "", "Backend: openrouter, anthropic or openai")
	c.Flags().StringP("output-dir", "o", "", "Base directory for generated projects")
	c.Flags().Int("max-review-iterations", 0, "Maximum code review rounds")
	c.Flags().Int("max-test-iterations", 0, "Maximum test rounds")
	c.Flags().Bool("self-healing", false, "Heal Python files by executing them")
	c.Flags().Duration("call-interval", 0, "Minimum time between agent calls")
	c.Flags().String("metrics-file", "", "Write Prometheus text metrics to this file")
	c.Flags().BoolP("quiet", "q", false, "Suppress progress output")
}

// applyRunFlags overlays explicitly set run flags onto cfg.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Models.Default, _ = flags.GetString("model")
		cfg.Models.Roles = nil
	}
	if flags.Changed("provider") {
		cfg.Provider.Type, _ = flags.GetString("provider")
	}
	if flags.Changed("output-dir") {
		dir, _ := flags.GetString("output-dir")
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("output dir: %w", err)
		}
		cfg.Options.OutputDir = abs
	}
	if flags.Changed("max-review-iterations") {
		cfg.Pipeline.MaxReviewIterations, _ = flags.GetInt("max-review-iterations")
	}
	if flags.Changed("max-test-iterations") {
		cfg.Pipeline.MaxTestIterations, _ = flags.GetInt("max-test-iterations")
	}
	if flags.Changed("self-healing") {
		cfg.Pipeline.SelfHealing, _ = flags.GetBool("self-healing")
	}
	if flags.Changed("call-interval") {
		cfg.Provider.CallInterval, _ = flags.GetDuration("call-interval")
	}
	if flags.Changed("metrics-file") {
		cfg.Options.MetricsFile, _ = flags.GetString("metrics-file")
	}
	return nil
}

// runner is the part of app.App used by runChain.
type runner interface {
	Run(ctx context.Context, req app.RunRequest) (*app.RunReport, error)
}

// runChain executes one run. The per-phase summary goes to stdout;
// progress and the usage report go to stderr.
func runChain(ctx context.Context, r runner, req app.RunRequest, stdout, stderr io.Writer) error {
	stderr = styled(stderr)
	req.OnPhaseStart = func(n int, name string) {
		fmt.Fprintf(stderr, "%s %s...\n", mutedStyle.Render(fmt.Sprintf("[%d]", n)), headingStyle.Render(name))
	}
	req.OnPhaseDone = func(res chain.PhaseResult, st *project.State) {
		fmt.Fprintf(stderr, "  %s %s in %s\n", check(true), res.Name, usage.FormatDuration(res.Duration))
	}

	report, err := r.Run(ctx, req)
	if err != nil {
		return err
	}
	res := report.Result

	fmt.Fprintln(stdout, res.Summary())
	printRunEpilogue(stderr, report)

	if res.Err != nil {
		return fmt.Errorf("development chain stopped: %w", res.Err)
	}
	return nil
}

func printRunEpilogue(w io.Writer, report *app.RunReport) {
	st := report.State
	title := titleStyle.Render("Development Complete!")
	if report.Result.Err != nil {
		title = errStyle.Bold(true).Render("Development Stopped")
	}

	var sb strings.Builder
	sb.WriteString(title + "\n")
	fmt.Fprintf(&sb, "Run:       %s\n", st.RunID)
	fmt.Fprintf(&sb, "Output:    %s\n", st.OutputDir())
	if st.Modality != "" {
		fmt.Fprintf(&sb, "Modality:  %s\n", st.Modality)
	}
	if st.Language != "" {
		fmt.Fprintf(&sb, "Language:  %s\n", st.Language)
	}
	fmt.Fprintf(&sb, "Files:     %d", st.Files.Len())
	for _, key := range st.Files.Keys() {
		sb.WriteString("\n  - " + key)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, boxStyle.Render(sb.String()))
	fmt.Fprintln(w)
	fmt.Fprint(w, report.Usage.Detailed())
}
