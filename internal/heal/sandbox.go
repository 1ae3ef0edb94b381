package heal

import (
	"path/filepath"
	"strings"
	"time"
)

// SandboxConfig defines how generated programs are executed.
type SandboxConfig struct {
	// Timeout is the maximum run time of one execution.
	// Defaults to 30 seconds.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Python is the interpreter for .py files. Defaults to python3.
	Python string `yaml:"python" json:"python"`

	// Node is the interpreter for .js files. Defaults to node.
	Node string `yaml:"node" json:"node"`

	// Env holds extra KEY=VALUE pairs added to the inherited environment.
	Env []string `yaml:"env,omitempty" json:"env,omitempty"`
}

// DefaultSandboxConfig returns the default sandbox configuration.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Timeout: 30 * time.Second,
		Python:  "python3",
		Node:    "node",
	}
}

// WithDefaults fills in zero fields.
func (c SandboxConfig) WithDefaults() SandboxConfig {
	d := DefaultSandboxConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Python == "" {
		c.Python = d.Python
	}
	if c.Node == "" {
		c.Node = d.Node
	}
	return c
}

// Interpreter returns the argv prefix that runs path, chosen by extension.
func (c SandboxConfig) Interpreter(path string) ([]string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return []string{c.Python, "-u"}, true
	case ".js", ".mjs", ".cjs":
		return []string{c.Node}, true
	case ".sh":
		return []string{"bash"}, true
	default:
		return nil, false
	}
}

// ToEnv returns the extra environment for executed programs.
func (c SandboxConfig) ToEnv() []string {
	env := []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONUNBUFFERED=1"}
	return append(env, c.Env...)
}
