package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/rand/devchain/internal/history"
	"github.com/rand/devchain/internal/usage"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List previous runs",
	Long:  "List previous runs, newest first, or show one run with its agent calls",
	Example: heredoc.Doc(`
		# Show the last ten runs
		devchain history --limit 10

		# Export runs as JSON
		devchain history --json

		# Show one run in detail
		devchain history 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed
	`),
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := history.Open(cmd.Context(), filepath.Join(cfg.Options.DataDirectory, history.DefaultFileName))
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 1 {
			return showRun(cmd.Context(), store, args[0], asJSON, cmd.OutOrStdout())
		}
		return listRuns(cmd.Context(), store, limit, asJSON, cmd.OutOrStdout())
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "l", 20, "Maximum number of runs to list (0 for all)")
	historyCmd.Flags().BoolP("json", "j", false, "Output as JSON")
}

func listRuns(ctx context.Context, store *history.Store, limit int, asJSON bool, w io.Writer) error {
	runs, err := store.List(ctx, limit)
	if err != nil {
		return err
	}
	if asJSON {
		if runs == nil {
			runs = []history.Run{}
		}
		return writeJSON(w, runs)
	}
	w = styled(w)
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet.")
		return nil
	}

	fmt.Fprintln(w, headingStyle.Render(fmt.Sprintf("  %-36s  %-16s  %-19s  %-10s  %6s  %9s", "RUN", "NAME", "STARTED", "LANGUAGE", "CALLS", "COST")))
	for _, r := range runs {
		fmt.Fprintf(w, "%s %-36s  %-16s  %-19s  %-10s  %6d  $%8.4f\n",
			check(!r.Failed()), r.ID, truncate(r.Name, 16), r.StartedAt.Format("2006-01-02 15:04:05"),
			truncate(r.Language, 10), r.Calls, r.Cost)
	}
	return nil
}

func showRun(ctx context.Context, store *history.Store, id string, asJSON bool, w io.Writer) error {
	run, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	calls, err := store.Calls(ctx, id)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(w, struct {
			history.Run
			Summary string         `json:"summary"`
			Calls   []usage.Record `json:"calls"`
		}{run, run.Summary, calls})
	}
	w = styled(w)

	fmt.Fprintln(w, titleStyle.Render(run.Name)+" "+mutedStyle.Render(run.ID))
	fmt.Fprintf(w, "Task:      %s\n", run.Task)
	fmt.Fprintf(w, "Started:   %s (%s)\n", run.StartedAt.Format("2006-01-02 15:04:05"), usage.FormatDuration(run.Duration()))
	fmt.Fprintf(w, "Modality:  %s\n", run.Modality)
	fmt.Fprintf(w, "Language:  %s\n", run.Language)
	fmt.Fprintf(w, "Tokens:    %d in, %d out, $%.4f\n", run.InputTokens, run.OutputTokens, run.Cost)
	if run.Failed() {
		fmt.Fprintf(w, "Error:     %s\n", errStyle.Render(run.Error))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, headingStyle.Render("Calls:"))
	for _, c := range calls {
		fmt.Fprintf(w, "  %s  %-16s %-10s %-24s %6d in %6d out\n",
			c.Timestamp.Format("15:04:05"), c.Phase, c.Agent, truncate(c.Model, 24), c.InputTokens, c.OutputTokens)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
