// Package config loads devchain configuration from defaults, YAML files,
// .env files and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rand/devchain/internal/heal"
	"github.com/rand/devchain/internal/resilience"
)

// ErrInvalid is wrapped by validation failures.
var ErrInvalid = errors.New("invalid configuration")

// Provider types.
const (
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
	ProviderOpenAI     = "openai"
)

// DefaultModel is used for every role without an override.
const DefaultModel = "gemini-2.5-flash"

// DefaultProxyURL is the Anthropic-compatible proxy used with USE_PROXY.
const DefaultProxyURL = "http://localhost:8080"

// Config is the effective configuration of a run.
type Config struct {
	Options  Options                  `yaml:"options" json:"options"`
	Provider ProviderConfig           `yaml:"provider" json:"provider"`
	Models   ModelsConfig             `yaml:"models" json:"models"`
	Pipeline PipelineConfig           `yaml:"pipeline" json:"pipeline"`
	Heal     HealConfig               `yaml:"heal" json:"heal"`
	Sandbox  heal.SandboxConfig       `yaml:"sandbox" json:"sandbox"`
	Retry    resilience.RetryPolicy   `yaml:"retry" json:"retry"`
	Breaker  resilience.BreakerConfig `yaml:"breaker" json:"breaker"`
}

// Options are process-level settings.
type Options struct {
	// DataDirectory holds logs, run history and the user config file.
	DataDirectory string `yaml:"data_directory" json:"data_directory" validate:"required"`
	Debug         bool   `yaml:"debug" json:"debug"`
	// OutputDir is the base directory for generated projects.
	OutputDir string `yaml:"output_dir" json:"output_dir" validate:"required"`
	// MetricsFile, when set, receives Prometheus text metrics after a run.
	MetricsFile string `yaml:"metrics_file,omitempty" json:"metrics_file,omitempty"`
}

// ProviderConfig selects and authenticates the text-generation backend.
type ProviderConfig struct {
	Type    string `yaml:"type" json:"type" validate:"oneof=openrouter anthropic openai"`
	APIKey  string `yaml:"api_key,omitempty" json:"-"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"omitempty,url"`

	// CallInterval is the minimum spacing between agent calls. Zero
	// disables pacing.
	CallInterval time.Duration `yaml:"call_interval" json:"call_interval" validate:"min=0"`
}

// ModelsConfig maps roles to models.
type ModelsConfig struct {
	Default string `yaml:"default" json:"default" validate:"required"`
	// Roles holds per-role overrides keyed by lower-case role name.
	Roles map[string]string `yaml:"roles,omitempty" json:"roles,omitempty"`
}

// PipelineConfig bounds the loop phases.
type PipelineConfig struct {
	MaxReviewIterations int  `yaml:"max_review_iterations" json:"max_review_iterations" validate:"min=1,max=20"`
	MaxTestIterations   int  `yaml:"max_test_iterations" json:"max_test_iterations" validate:"min=1,max=20"`
	SelfHealing         bool `yaml:"self_healing" json:"self_healing"`
}

// HealConfig configures the execution healer.
type HealConfig struct {
	MaxRetries   int `yaml:"max_retries" json:"max_retries" validate:"min=1,max=20"`
	MinGuardSize int `yaml:"min_guard_size" json:"min_guard_size" validate:"min=0"`
}

// Default returns the built-in configuration. DataDirectory is filled in
// by Load.
func Default() *Config {
	return &Config{
		Options: Options{
			OutputDir: "output",
		},
		Provider: ProviderConfig{
			Type: ProviderOpenRouter,
		},
		Models: ModelsConfig{
			Default: DefaultModel,
		},
		Pipeline: PipelineConfig{
			MaxReviewIterations: 3,
			MaxTestIterations:   3,
		},
		Heal: HealConfig{
			MaxRetries:   heal.DefaultMaxRetries,
			MinGuardSize: heal.DefaultMinGuardSize,
		},
		Sandbox: heal.DefaultSandboxConfig(),
		Retry:   resilience.DefaultRetryPolicy(),
		Breaker: resilience.DefaultBreakerConfig(),
	}
}

// ModelFor returns the model configured for role, falling back to the
// default model.
func (c *Config) ModelFor(role string) string {
	if m := c.Models.Roles[strings.ToLower(role)]; m != "" {
		return m
	}
	return c.Models.Default
}

// SetRoleModel overrides the model of one role.
func (c *Config) SetRoleModel(role, model string) {
	if c.Models.Roles == nil {
		c.Models.Roles = make(map[string]string)
	}
	c.Models.Roles[strings.ToLower(role)] = model
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), describe(fe)))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Provider.Type == ProviderOpenAI && c.Provider.APIKey == "" && c.Provider.BaseURL == "" {
		return fmt.Errorf("%w: openai provider needs an API key or a base URL", ErrInvalid)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}
