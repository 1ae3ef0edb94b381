package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rand/devchain/internal/config"
	"github.com/rand/devchain/internal/prompt"
)

func init() {
	// config show flags
	configShowCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	configShowCmd.Flags().BoolP("yaml", "y", false, "Output as YAML")

	configCmd.AddCommand(
		configShowCmd,
		configEditCmd,
		configValidateCmd,
		configPathCmd,
	)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  "Commands for managing devchain configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long:  "Display the current effective configuration after merging all sources",
	Example: heredoc.Doc(`
		# Show config in human-readable format
		devchain config show

		# Show config as JSON
		devchain config show --json

		# Show config as YAML
		devchain config show --yaml
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		asYAML, _ := cmd.Flags().GetBool("yaml")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()

		if asJSON {
			encoder := json.NewEncoder(w)
			encoder.SetIndent("", "  ")
			return encoder.Encode(cfg)
		}

		if asYAML {
			redacted := *cfg
			redacted.Provider.APIKey = maskKey(cfg.Provider.APIKey)
			encoder := yaml.NewEncoder(w)
			encoder.SetIndent(2)
			return encoder.Encode(&redacted)
		}

		printConfig(w, cfg)
		return nil
	},
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "Effective Configuration")
	fmt.Fprintln(w, "=======================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Options:")
	fmt.Fprintf(w, "  Data Directory:    %s\n", cfg.Options.DataDirectory)
	fmt.Fprintf(w, "  Output Directory:  %s\n", cfg.Options.OutputDir)
	fmt.Fprintf(w, "  Debug:             %v\n", cfg.Options.Debug)
	if cfg.Options.MetricsFile != "" {
		fmt.Fprintf(w, "  Metrics File:      %s\n", cfg.Options.MetricsFile)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Provider:")
	fmt.Fprintf(w, "  Type:              %s\n", cfg.Provider.Type)
	if cfg.Provider.BaseURL != "" {
		fmt.Fprintf(w, "  Base URL:          %s\n", cfg.Provider.BaseURL)
	}
	if cfg.Provider.APIKey != "" {
		fmt.Fprintf(w, "  API Key:           %s\n", maskKey(cfg.Provider.APIKey))
	}
	fmt.Fprintf(w, "  Call Interval:     %s\n", cfg.Provider.CallInterval)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Models:")
	for _, role := range prompt.Roles {
		fmt.Fprintf(w, "  %-18s %s\n", role+":", cfg.ModelFor(role))
	}
	extra := make([]string, 0)
	for role := range cfg.Models.Roles {
		if prompt.Instruction(roleName(role)) == "" {
			extra = append(extra, role)
		}
	}
	sort.Strings(extra)
	for _, role := range extra {
		fmt.Fprintf(w, "  %-18s %s (unknown role)\n", role+":", cfg.Models.Roles[role])
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Pipeline:")
	fmt.Fprintf(w, "  Review Iterations: %d\n", cfg.Pipeline.MaxReviewIterations)
	fmt.Fprintf(w, "  Test Iterations:   %d\n", cfg.Pipeline.MaxTestIterations)
	fmt.Fprintf(w, "  Self Healing:      %v\n", cfg.Pipeline.SelfHealing)
	fmt.Fprintf(w, "  Heal Retries:      %d\n", cfg.Heal.MaxRetries)
	fmt.Fprintf(w, "  Exec Timeout:      %s\n", cfg.Sandbox.Timeout)
	fmt.Fprintln(w)
}

// roleName maps a lower-case config key back to its role name.
func roleName(key string) string {
	for _, role := range prompt.Roles {
		if strings.EqualFold(role, key) {
			return role
		}
	}
	return key
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	n := min(len(key), 8)
	return key[:n] + "..."
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config in editor",
	Long:  "Open the configuration file in your default editor",
	Example: heredoc.Doc(`
		# Edit config with $EDITOR
		devchain config edit
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := ResolveCwd(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		configPath := ""
		for _, p := range configPaths(cwd, cfg.Options.DataDirectory) {
			if p.exists {
				configPath = p.path
				break
			}
		}

		if configPath == "" {
			configPath = config.UserFile(cfg.Options.DataDirectory)
			if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
				return fmt.Errorf("create data directory: %w", err)
			}
			if err := os.WriteFile(configPath, []byte(defaultConfigFile), 0o644); err != nil {
				return fmt.Errorf("create default config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created new config file: %s\n", configPath)
		}

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = os.Getenv("VISUAL")
		}
		if editor == "" {
			editor = "vi"
		}

		execCmd := exec.Command(editor, configPath)
		execCmd.Stdin = os.Stdin
		execCmd.Stdout = os.Stdout
		execCmd.Stderr = os.Stderr

		return execCmd.Run()
	},
}

var defaultConfigFile = heredoc.Doc(`
	# devchain configuration
	# Environment variables and command-line flags override these values.

	# provider:
	#   type: openrouter        # openrouter, anthropic or openai
	#   base_url: ""
	#   call_interval: 0s

	# models:
	#   default: gemini-2.5-flash
	#   roles:
	#     programmer: claude-sonnet-4

	# pipeline:
	#   max_review_iterations: 3
	#   max_test_iterations: 3
	#   self_healing: false
`)

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Check the configuration for errors and warnings",
	Example: heredoc.Doc(`
		# Validate configuration
		devchain config validate
	`),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "✗ Configuration error: %v\n", err)
			return err
		}

		warnings, problems := checkConfig(cfg)

		if len(problems) > 0 {
			fmt.Fprintln(w, "Errors:")
			for _, e := range problems {
				fmt.Fprintf(w, "  ✗ %s\n", e)
			}
		}
		if len(warnings) > 0 {
			fmt.Fprintln(w, "Warnings:")
			for _, warning := range warnings {
				fmt.Fprintf(w, "  ⚠ %s\n", warning)
			}
		}

		if len(problems) == 0 && len(warnings) == 0 {
			fmt.Fprintln(w, "✓ Configuration is valid")
		} else if len(problems) == 0 {
			fmt.Fprintln(w, "\n✓ Configuration is valid with warnings")
		}

		if len(problems) > 0 {
			return fmt.Errorf("configuration has %d error(s)", len(problems))
		}
		return nil
	},
}

// checkConfig reports problems that Validate does not catch because they
// depend on the environment.
func checkConfig(cfg *config.Config) (warnings, problems []string) {
	switch cfg.Provider.Type {
	case config.ProviderOpenRouter:
		if cfg.Provider.APIKey == "" {
			problems = append(problems, "OPENROUTER_API_KEY is not set")
		}
	case config.ProviderAnthropic:
		if cfg.Provider.APIKey == "" {
			problems = append(problems, "Anthropic provider has no API key (set ANTHROPIC_AUTH_TOKEN or USE_PROXY)")
		}
	}

	if _, err := os.Stat(cfg.Options.DataDirectory); os.IsNotExist(err) {
		warnings = append(warnings, fmt.Sprintf("Data directory does not exist: %s (will be created)", cfg.Options.DataDirectory))
	}
	if _, err := exec.LookPath(cfg.Sandbox.Python); err != nil {
		warnings = append(warnings, fmt.Sprintf("Python interpreter %q not found; Python tests and healing will fail", cfg.Sandbox.Python))
	}
	return warnings, problems
}

type configPath struct {
	name   string
	path   string
	exists bool
}

func configPaths(cwd, dataDir string) []configPath {
	project := config.ProjectFiles(cwd)
	paths := []configPath{
		{name: "Project config", path: project[0]},
		{name: "Project config (alt)", path: project[1]},
		{name: "User config", path: config.UserFile(dataDir)},
	}
	for i := range paths {
		if _, err := os.Stat(paths[i].path); err == nil {
			paths[i].exists = true
		}
	}
	return paths
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file paths",
	Long:  "Display the paths where configuration files are loaded from",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := ResolveCwd(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()

		fmt.Fprintln(w, "Configuration Paths (in order of precedence):")
		fmt.Fprintln(w)
		for _, p := range configPaths(cwd, cfg.Options.DataDirectory) {
			status := "✗"
			if p.exists {
				status = "✓"
			}
			fmt.Fprintf(w, "  %s %s\n    %s\n", status, p.name, p.path)
		}
		fmt.Fprintln(w)
		_, envErr := os.Stat(filepath.Join(cwd, ".env"))
		fmt.Fprintf(w, "Environment file: %s %s\n", filepath.Join(cwd, ".env"), check(envErr == nil))
		fmt.Fprintf(w, "Data directory: %s\n", cfg.Options.DataDirectory)
		return nil
	},
}
