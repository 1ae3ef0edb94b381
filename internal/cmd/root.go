// Package cmd implements the devchain command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/rand/devchain/internal/app"
	"github.com/rand/devchain/internal/config"
	"github.com/rand/devchain/internal/log"
)

// Version is set at build time.
var Version = "devel"

func init() {
	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	rootCmd.PersistentFlags().String("config", "", "Config file (default .devchain.yaml, then <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringP("data-dir", "D", "", "Custom devchain data directory")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug logging")

	rootCmd.AddCommand(
		runCmd,
		healCmd,
		historyCmd,
		configCmd,
	)
}

var rootCmd = &cobra.Command{
	Use:   "devchain",
	Short: "Build, review, test and repair software with a chain of LLM agents",
	Long: heredoc.Doc(`
		devchain turns a task description into a working project by passing it
		through a fixed chain of role-playing agents: demand analysis, coding,
		code review and testing. Review and testing loop until the critic is
		satisfied or the iteration budget runs out, and Python projects can be
		healed by executing each file and repairing it from its error output.
	`),
	Example: heredoc.Doc(`
		# Build a project
		devchain run --name todo "A command line todo list with add, list and done"

		# Heal a single script
		devchain heal broken.py

		# Show recent runs
		devchain history
	`),
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(Version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

// ResolveCwd returns the --cwd flag as an absolute path, or the process
// working directory. It changes into the directory when the flag is set.
func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		abs, err := filepath.Abs(cwd)
		if err != nil {
			return "", fmt.Errorf("resolve cwd: %w", err)
		}
		if err := os.Chdir(abs); err != nil {
			return "", fmt.Errorf("change directory: %w", err)
		}
		return abs, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}
	return cwd, nil
}

// loadConfig loads the configuration for cmd from the root flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cwd, err := ResolveCwd(cmd)
	if err != nil {
		return nil, err
	}
	path, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	debug, _ := cmd.Flags().GetBool("debug")

	cfg, err := config.Load(cwd, path, dataDir, debug)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setupApp loads configuration, applies override, starts logging and
// creates the application. override may be nil.
func setupApp(cmd *cobra.Command, override func(*config.Config) error) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if override != nil {
		if err := override(cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	log.Setup(filepath.Join(cfg.Options.DataDirectory, "logs", log.FileName), cfg.Options.Debug)

	a, err := app.New(cmd.Context(), cfg, nil)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// MaybePrependStdin prepends piped stdin to prompt.
func MaybePrependStdin(prompt string) (string, error) {
	return prependReader(os.Stdin, prompt)
}

func prependReader(f *os.File, prompt string) (string, error) {
	fi, err := f.Stat()
	if err != nil {
		return prompt, nil
	}
	if fi.Mode()&os.ModeCharDevice != 0 {
		return prompt, nil
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return prompt, err
	}
	piped := strings.TrimSpace(string(data))
	if piped == "" {
		return prompt, nil
	}
	if prompt == "" {
		return piped, nil
	}
	return piped + "\n\n" + prompt, nil
}
