package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/rand/devchain/internal/app"
	"github.com/rand/devchain/internal/heal"
	"github.com/rand/devchain/internal/log"
)

var healCmd = &cobra.Command{
	Use:   "heal <file>",
	Short: "Execute a file and repair it until it runs cleanly",
	Long: heredoc.Doc(`
		Execute a Python, JavaScript or shell file and, while it fails, ask the
		Debugger for a corrected version. Candidates that do not parse or that
		drop more than half of a large file are rejected and never written.
	`),
	Example: heredoc.Doc(`
		# Heal a script with the default three executions
		devchain heal broken.py

		# Allow more attempts with a stronger model
		devchain heal --max-retries 5 --model claude-sonnet-4 broken.py
	`),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxRetries, _ := cmd.Flags().GetInt("max-retries")
		model, _ := cmd.Flags().GetString("model")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()

		a, err := setupApp(cmd, nil)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Shutdown(); err != nil {
				slog.Warn("Shutdown failed", "error", err)
			}
		}()
		defer log.RecoverPanic("heal", nil)

		return healFile(ctx, a, app.HealRequest{Path: args[0], Model: model, MaxRetries: maxRetries},
			cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	healCmd.Flags().Int("max-retries", 0, "Maximum executions (default from config)")
	healCmd.Flags().StringP("model", "m", "", "Debugger model")
}

// healer is the part of app.App used by healFile.
type healer interface {
	Heal(ctx context.Context, req app.HealRequest) (*app.HealReport, error)
}

func healFile(ctx context.Context, h healer, req app.HealRequest, stdout, stderr io.Writer) error {
	report, err := h.Heal(ctx, req)
	if err != nil {
		return err
	}
	res := report.Result
	stdout, stderr = styled(stdout), styled(stderr)

	for _, att := range res.Attempts {
		printAttempt(stderr, att)
	}
	fmt.Fprintf(stdout, "%s %s\n", check(res.Success), res.Summary())
	fmt.Fprintln(stderr, mutedStyle.Render(report.Usage.Line()))

	if res.Err != nil {
		return res.Err
	}
	if !res.Success {
		return fmt.Errorf("%s still fails", req.Path)
	}
	return nil
}

func printAttempt(w io.Writer, att heal.Attempt) {
	exe := att.Execution
	status := "exit 0"
	switch {
	case exe.TimedOut:
		status = "timed out"
	case exe.Failed():
		status = fmt.Sprintf("exit %d", exe.ExitCode)
	}
	fmt.Fprintf(w, "%s attempt %d: %s\n", check(!exe.Failed()), att.Number, status)
	switch {
	case att.Applied:
		fmt.Fprintln(w, okStyle.Render("  repair applied"))
		if att.Diff != "" {
			fmt.Fprintln(w, mutedStyle.Render(att.Diff))
		}
	case att.Rejected != "":
		fmt.Fprintln(w, errStyle.Render("  repair rejected: "+att.Rejected))
	}
}
