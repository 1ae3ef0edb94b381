package heal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidSyntax is returned when a candidate does not parse.
var ErrInvalidSyntax = errors.New("invalid syntax")

// Validator checks a candidate replacement for path before it is written.
type Validator interface {
	Validate(ctx context.Context, path, content string) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, path, content string) error

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, path, content string) error {
	return f(ctx, path, content)
}

const pythonParse = "import ast, sys; ast.parse(sys.stdin.read())"

// PythonSyntax parses the candidate with the interpreter's ast module.
func PythonSyntax(sandbox SandboxConfig) Validator {
	sandbox = sandbox.WithDefaults()
	return ValidatorFunc(func(ctx context.Context, path, content string) error {
		exe, err := Command(ctx, sandbox, os.TempDir(), []string{sandbox.Python, "-c", pythonParse}, []byte(content))
		if err != nil {
			return fmt.Errorf("run python parser: %w", err)
		}
		if exe.Failed() {
			return fmt.Errorf("%w: %s", ErrInvalidSyntax, lastLine(exe.Stderr))
		}
		return nil
	})
}

// NodeSyntax checks the candidate with node --check.
func NodeSyntax(sandbox SandboxConfig) Validator {
	sandbox = sandbox.WithDefaults()
	return ValidatorFunc(func(ctx context.Context, path, content string) error {
		dir, err := os.MkdirTemp("", "devchain-check-")
		if err != nil {
			return fmt.Errorf("create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)

		tmp := filepath.Join(dir, "candidate"+filepath.Ext(path))
		if err := os.WriteFile(tmp, []byte(content), 0o600); err != nil {
			return fmt.Errorf("write candidate: %w", err)
		}
		exe, err := Command(ctx, sandbox, dir, []string{sandbox.Node, "--check", tmp}, nil)
		if err != nil {
			return fmt.Errorf("run node check: %w", err)
		}
		if exe.Failed() {
			return fmt.Errorf("%w: %s", ErrInvalidSyntax, strings.TrimSpace(exe.Stderr))
		}
		return nil
	})
}

// DefaultValidators returns the syntax checkers keyed by file extension.
func DefaultValidators(sandbox SandboxConfig) map[string]Validator {
	node := NodeSyntax(sandbox)
	return map[string]Validator{
		".py":  PythonSyntax(sandbox),
		".js":  node,
		".mjs": node,
		".cjs": node,
	}
}

// Degraded reports whether candidate is suspiciously smaller than
// previous: under half its length, once previous exceeds minSize bytes.
func Degraded(previous, candidate string, minSize int) bool {
	return len(previous) > minSize && 2*len(candidate) < len(previous)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
