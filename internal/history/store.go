// Package history persists finished runs and their agent calls in SQLite.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/rand/devchain/internal/usage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// DefaultFileName is the database file inside the data directory.
const DefaultFileName = "history.db"

// Run is the stored metadata of one run.
type Run struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Task       string    `json:"task"`
	Modality   string    `json:"modality,omitempty"`
	Language   string    `json:"language,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
	Summary    string    `json:"-"`

	// Filled in from the stored calls.
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"estimated_cost_usd"`
}

// Duration returns the wall time of the run.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failed reports whether the run stopped on an error.
func (r Run) Failed() bool {
	return r.Error != ""
}

// Store is a run history database.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens or creates the database at path and applies pending
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Save stores a run and its calls in one transaction. Saving the same id
// again replaces the earlier entry.
func (s *Store) Save(ctx context.Context, run Run, calls []usage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cost float64
	for _, c := range calls {
		cost += usage.PriceFor(c.Model).Cost(c.InputTokens, c.OutputTokens)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, run.ID); err != nil {
		return fmt.Errorf("replace run: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, name, task, modality, language, started_at, finished_at, error, summary, cost)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.Task, run.Modality, run.Language,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(), run.Error, run.Summary, cost)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO calls (run_id, seq, agent, phase, model, input_tokens, output_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare calls: %w", err)
	}
	defer stmt.Close()
	for i, c := range calls {
		if _, err := stmt.ExecContext(ctx, run.ID, i, c.Agent, c.Phase, c.Model,
			c.InputTokens, c.OutputTokens, c.Timestamp.UnixMilli()); err != nil {
			return fmt.Errorf("insert call %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const runColumns = `
	r.id, r.name, r.task, r.modality, r.language, r.started_at, r.finished_at,
	r.error, r.summary, r.cost,
	COUNT(c.id), COALESCE(SUM(c.input_tokens), 0), COALESCE(SUM(c.output_tokens), 0)`

// List returns the most recent runs first. A limit below 1 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit < 1 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+runColumns+`
		FROM runs r LEFT JOIN calls c ON c.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC, r.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get returns one run.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT`+runColumns+`
		FROM runs r LEFT JOIN calls c ON c.run_id = r.id
		WHERE r.id = ?
		GROUP BY r.id`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// Calls returns the calls of a run in the order they were made.
func (s *Store) Calls(ctx context.Context, runID string) ([]usage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT agent, phase, model, input_tokens, output_tokens, created_at
		FROM calls WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []usage.Record
	for rows.Next() {
		var rec usage.Record
		var created int64
		if err := rows.Scan(&rec.Agent, &rec.Phase, &rec.Model, &rec.InputTokens, &rec.OutputTokens, &created); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		rec.Timestamp = time.UnixMilli(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var started, finished int64
	err := sc.Scan(&r.ID, &r.Name, &r.Task, &r.Modality, &r.Language, &started, &finished,
		&r.Error, &r.Summary, &r.Cost, &r.Calls, &r.InputTokens, &r.OutputTokens)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.StartedAt = time.UnixMilli(started)
	r.FinishedAt = time.UnixMilli(finished)
	return r, nil
}
