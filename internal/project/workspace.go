package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/rand/devchain/internal/extract"
)

// ErrUnsafePath is returned for file keys that would land outside the
// workspace root.
var ErrUnsafePath = errors.New("path escapes workspace")

// maxParallelWrites bounds concurrent file writes.
const maxParallelWrites = 4

// Workspace mirrors a file set into a directory. Each file is written as a
// whole; files whose content hash matches the last write are skipped.
type Workspace struct {
	root string

	mu      sync.Mutex
	written map[string]uint64
}

// NewWorkspace returns a workspace rooted at dir. Nothing is created until
// the first Write.
func NewWorkspace(dir string) *Workspace {
	return &Workspace{root: dir, written: make(map[string]uint64)}
}

// Root returns the workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// Path resolves a relative file key to its location on disk.
func (w *Workspace) Path(key string) (string, error) {
	clean, ok := cleanKey(key)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, key)
	}
	return filepath.Join(w.root, clean), nil
}

// cleanKey returns key as a cleaned OS path, or false when it is empty,
// absolute or climbs out of the workspace.
func cleanKey(key string) (string, bool) {
	if key == "" || filepath.IsAbs(key) || strings.HasPrefix(key, "/") {
		return "", false
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", false
	}
	return clean, true
}

// Write mirrors files to disk, creating directories as needed. It returns
// the keys actually written.
func (w *Workspace) Write(ctx context.Context, files *extract.Files) ([]string, error) {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	type pending struct {
		key, path, content string
		sum                uint64
	}
	var todo []pending
	var err error
	files.Each(func(key, content string) {
		if err != nil {
			return
		}
		var path string
		path, err = w.Path(key)
		if err != nil {
			return
		}
		sum := xxh3.HashString(content)
		w.mu.Lock()
		prev, seen := w.written[key]
		w.mu.Unlock()
		if seen && prev == sum {
			return
		}
		todo = append(todo, pending{key: key, path: path, content: content, sum: sum})
	})
	if err != nil {
		return nil, err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelWrites)
	for _, p := range todo {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
				return fmt.Errorf("create directory for %s: %w", p.key, err)
			}
			if err := os.WriteFile(p.path, []byte(p.content), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", p.key, err)
			}
			w.mu.Lock()
			w.written[p.key] = p.sum
			w.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	keys := make([]string, len(todo))
	for i, p := range todo {
		keys[i] = p.key
	}
	return keys, nil
}

// Read loads a file from disk and marks it as in sync.
func (w *Workspace) Read(key string) (string, error) {
	path, err := w.Path(key)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	content := string(data)
	w.mu.Lock()
	w.written[key] = xxh3.HashString(content)
	w.mu.Unlock()
	return content, nil
}
