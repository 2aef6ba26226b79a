// Package history keeps a sqlite log of agent runs and their steps.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/asukul/thatbrowser/internal/automation"
	. "github.com/asukul/thatbrowser/internal/logging"
	"github.com/asukul/thatbrowser/internal/paths"
)

const dbOpenOptions = "?_busy_timeout=5000&_foreign_keys=on"

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeFailed  Outcome = "failed"
	OutcomeStopped Outcome = "stopped"
)

// Run is one agent run: the instruction, the model's answer and what
// happened when its commands were executed.
type Run struct {
	ID          string            `json:"id"`
	Instruction string            `json:"instruction"`
	URL         string            `json:"url"`
	Provider    string            `json:"provider"`
	Model       string            `json:"model"`
	Response    string            `json:"response"`
	Cleaned     string            `json:"cleaned"`
	Steps       []automation.Step `json:"steps"`
	Outcome     Outcome           `json:"outcome"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
	Duration    time.Duration     `json:"duration"`
}

// ErrNotFound is returned by GetRun for an unknown id.
var ErrNotFound = errors.New("history: run not found")

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		instruction TEXT NOT NULL,
		url         TEXT NOT NULL,
		provider    TEXT NOT NULL,
		model       TEXT NOT NULL,
		response    TEXT NOT NULL,
		cleaned     TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		started_at  INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS runs_started ON runs(started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS steps (
		run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		idx         INTEGER NOT NULL,
		command     TEXT NOT NULL,
		description TEXT NOT NULL,
		status      TEXT NOT NULL,
		strategy    TEXT NOT NULL DEFAULT '',
		message     TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, idx)
	)`,
}

// Store is the run history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path. An empty
// path uses ~/.thatbrowser/history.db.
func Open(path string) (*Store, error) {
	if path == "" {
		p, err := paths.HistoryPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if err := paths.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("history: create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+dbOpenOptions)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: migrate: %w", err)
		}
	}
	L_debug("history: opened", "path", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores run and its steps in one transaction, assigning an ID if
// it has none. Saving an existing ID replaces it.
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO runs
		(id, instruction, url, provider, model, response, cleaned, outcome, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Instruction, run.URL, run.Provider, run.Model, run.Response, run.Cleaned,
		string(run.Outcome), run.Error, run.StartedAt.UnixMilli(), run.Duration.Milliseconds(),
	); err != nil {
		return fmt.Errorf("history: save run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE run_id = ?`, run.ID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO steps
		(run_id, idx, command, description, status, strategy, message, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, st := range run.Steps {
		cmd, err := json.Marshal(st.Command)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, run.ID, st.Index, string(cmd), st.Description,
			string(st.Status), string(st.Strategy), st.Message, st.Error, st.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("history: save step %d: %w", st.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	L_debug("history: run saved", "id", run.ID, "steps", len(run.Steps), "outcome", run.Outcome)
	return nil
}

const runColumns = `id, instruction, url, provider, model, response, cleaned, outcome, error, started_at, duration_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r                   Run
		outcome             string
		startedMs, duration int64
	)
	if err := row.Scan(&r.ID, &r.Instruction, &r.URL, &r.Provider, &r.Model, &r.Response, &r.Cleaned,
		&outcome, &r.Error, &startedMs, &duration); err != nil {
		return nil, err
	}
	r.Outcome = Outcome(outcome)
	r.StartedAt = time.UnixMilli(startedMs)
	r.Duration = time.Duration(duration) * time.Millisecond
	return &r, nil
}

// ListRuns returns up to limit runs, newest first, without their steps.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns a run with its steps in order.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT idx, command, description, status, strategy, message, error, duration_ms
		FROM steps WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			st       automation.Step
			cmd      string
			status   string
			strategy string
			ms       int64
		)
		if err := rows.Scan(&st.Index, &cmd, &st.Description, &status, &strategy, &st.Message, &st.Error, &ms); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cmd), &st.Command); err != nil {
			return nil, fmt.Errorf("history: step %d command: %w", st.Index, err)
		}
		st.Status = automation.Status(status)
		st.Strategy = automation.Strategy(strategy)
		st.Duration = time.Duration(ms) * time.Millisecond
		st.DurationMs = ms
		r.Steps = append(r.Steps, st)
	}
	return r, rows.Err()
}
