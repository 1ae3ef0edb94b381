// Package project holds the state a development run accumulates.
package project

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aymanbagabas/go-udiff"
	"github.com/google/uuid"

	"github.com/rand/devchain/internal/extract"
	"github.com/rand/devchain/internal/usage"
)

// State is the single record threaded through every phase of one run.
// It is owned by the run and mutated only by its phase handlers.
type State struct {
	RunID       string
	ProjectName string
	StartedAt   time.Time

	taskPrompt string

	// Modality and Language are empty until the phase that sets them runs.
	Modality string
	Language string

	Files *extract.Files

	ReviewFeedback string
	TestReport     string
	ErrorSummary   string

	Usage *usage.Log

	workspace *Workspace
}

// New creates the state for a run. An empty outputDir disables mirroring.
func New(task, name, outputDir string) *State {
	st := &State{
		RunID:       uuid.NewString(),
		ProjectName: name,
		StartedAt:   time.Now(),
		taskPrompt:  task,
		Files:       extract.NewFiles(),
		Usage:       usage.NewLog(),
	}
	if outputDir != "" {
		st.workspace = NewWorkspace(outputDir)
	}
	return st
}

// TaskPrompt returns the task the run was started with.
func (s *State) TaskPrompt() string {
	return s.taskPrompt
}

// OutputDir returns the mirror directory, or "" when mirroring is off.
func (s *State) OutputDir() string {
	if s.workspace == nil {
		return ""
	}
	return s.workspace.Root()
}

// Workspace returns the disk mirror, or nil.
func (s *State) Workspace() *Workspace {
	return s.workspace
}

// HasModality reports whether demand analysis has run.
func (s *State) HasModality() bool { return s.Modality != "" }

// HasLanguage reports whether language selection has run.
func (s *State) HasLanguage() bool { return s.Language != "" }

// UpdateFiles extracts files from reply and merges them over the current
// set. It returns the keys touched, in reply order. Paths that would land
// outside the project directory are dropped with a warning.
func (s *State) UpdateFiles(reply string) []string {
	incoming := extract.NewFiles()
	extract.Extract(reply).Each(func(key, content string) {
		if _, ok := cleanKey(key); !ok {
			slog.Warn("dropping file outside project", "run", s.RunID, "file", key)
			return
		}
		s.logChange(key, content)
		incoming.Set(key, content)
	})
	s.Files.Merge(incoming)
	return incoming.Keys()
}

// SetFile replaces one file.
func (s *State) SetFile(key, content string) {
	s.logChange(key, content)
	s.Files.Set(key, content)
}

func (s *State) logChange(key, content string) {
	prev, ok := s.Files.Get(key)
	if !ok {
		slog.Debug("file added", "run", s.RunID, "file", key, "bytes", len(content))
		return
	}
	if prev == content || !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	slog.Debug("file superseded",
		"run", s.RunID,
		"file", key,
		"diff", udiff.Unified("a/"+key, "b/"+key, prev, content))
}

// FormattedFiles renders the file set for a prompt.
func (s *State) FormattedFiles() string {
	return extract.Format(s.Files)
}

// Persist mirrors the file set to the output directory. It is a no-op when
// mirroring is off.
func (s *State) Persist(ctx context.Context) error {
	if s.workspace == nil {
		return nil
	}
	written, err := s.workspace.Write(ctx, s.Files)
	if err != nil {
		return fmt.Errorf("persist project files: %w", err)
	}
	if len(written) > 0 {
		slog.Info("project files written", "run", s.RunID, "dir", s.workspace.Root(), "files", written)
	}
	return nil
}

// Reload replaces key's content with what is on disk.
func (s *State) Reload(key string) error {
	if s.workspace == nil {
		return fmt.Errorf("no output directory")
	}
	content, err := s.workspace.Read(key)
	if err != nil {
		return err
	}
	s.SetFile(key, content)
	return nil
}

// Record appends a usage record estimated from prompt and reply text.
func (s *State) Record(agent, phase, model, input, output string) {
	s.Usage.RecordText(agent, phase, model, input, output)
}
