package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rand/devchain/internal/prompt"
)

const (
	appName       = "devchain"
	envPrefix     = "DEVCHAIN_"
	dataDirName   = "." + appName
	userFileName  = "config.yaml"
	dotEnvName    = ".env"
	modelEnvInfix = "MODEL_"
)

// ProjectFiles returns the project-local config files in precedence order.
func ProjectFiles(cwd string) []string {
	return []string{
		filepath.Join(cwd, dataDirName+".yaml"),
		filepath.Join(cwd, dataDirName+".yml"),
	}
}

// UserFile returns the config file inside the data directory.
func UserFile(dataDir string) string {
	return filepath.Join(dataDir, userFileName)
}

// DefaultDataDir returns the data directory used when none is configured.
func DefaultDataDir(cwd string) string {
	return filepath.Join(cwd, dataDirName)
}

// Load builds the effective configuration. Later sources win: defaults,
// the config file, .env in cwd, then the process environment. An explicit
// path must exist; otherwise the first existing project file, or the user
// file, is read. dataDir and debug come from command-line flags and are
// applied last when set.
func Load(cwd, path, dataDir string, debug bool) (*Config, error) {
	cfg := Default()
	cfg.Options.DataDirectory = dataDir
	if cfg.Options.DataDirectory == "" {
		cfg.Options.DataDirectory = os.Getenv(envPrefix + "DATA_DIR")
	}
	if cfg.Options.DataDirectory == "" {
		cfg.Options.DataDirectory = DefaultDataDir(cwd)
	}

	file, err := locate(cwd, path, cfg.Options.DataDirectory)
	if err != nil {
		return nil, err
	}
	if file != "" {
		if err := readFile(file, cfg); err != nil {
			return nil, err
		}
		slog.Debug("config file loaded", "path", file)
	}

	if err := loadDotEnv(cwd); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if dataDir != "" {
		cfg.Options.DataDirectory = dataDir
	}
	if debug {
		cfg.Options.Debug = true
	}
	cfg.Options.DataDirectory = absolute(cwd, cfg.Options.DataDirectory)
	cfg.Options.OutputDir = absolute(cwd, cfg.Options.OutputDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func locate(cwd, explicit, dataDir string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}
	for _, p := range append(ProjectFiles(cwd), UserFile(dataDir)) {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// loadDotEnv reads cwd/.env without overriding variables already set.
func loadDotEnv(cwd string) error {
	path := filepath.Join(cwd, dotEnvName)
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	slog.Debug("dotenv loaded", "path", path)
	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	boolean(envPrefix+"SELF_HEALING", &cfg.Pipeline.SelfHealing)
	integer(envPrefix+"MAX_REVIEW_ITERATIONS", &cfg.Pipeline.MaxReviewIterations)
	integer(envPrefix+"MAX_TEST_ITERATIONS", &cfg.Pipeline.MaxTestIterations)
	integer(envPrefix+"HEAL_MAX_RETRIES", &cfg.Heal.MaxRetries)
	str(envPrefix+"OUTPUT_DIR", &cfg.Options.OutputDir)
	str(envPrefix+"METRICS_FILE", &cfg.Options.MetricsFile)
	boolean(envPrefix+"DEBUG", &cfg.Options.Debug)
	str(envPrefix+"MODEL", &cfg.Models.Default)
	duration(envPrefix+"CALL_INTERVAL", &cfg.Provider.CallInterval)
	duration(envPrefix+"EXEC_TIMEOUT", &cfg.Sandbox.Timeout)
	str(envPrefix+"PYTHON", &cfg.Sandbox.Python)

	for _, role := range prompt.Roles {
		if v, ok := lookup(envPrefix + modelEnvInfix + strings.ToUpper(role)); ok && v != "" {
			cfg.SetRoleModel(role, v)
		}
	}

	str(envPrefix+"PROVIDER", &cfg.Provider.Type)
	var useProxy bool
	boolean("USE_PROXY", &useProxy)
	if useProxy {
		cfg.Provider.Type = ProviderAnthropic
		cfg.Provider.BaseURL = DefaultProxyURL
		str("PROXY_URL", &cfg.Provider.BaseURL)
		cfg.Provider.APIKey = "test"
	}

	switch cfg.Provider.Type {
	case ProviderOpenRouter:
		str("OPENROUTER_API_KEY", &cfg.Provider.APIKey)
	case ProviderOpenAI:
		str("OPENAI_API_KEY", &cfg.Provider.APIKey)
		str("OPENAI_BASE_URL", &cfg.Provider.BaseURL)
	case ProviderAnthropic:
		str("ANTHROPIC_AUTH_TOKEN", &cfg.Provider.APIKey)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func absolute(cwd, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cwd, p)
}
