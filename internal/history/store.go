// Package history persists loop run history into SQLite. The Store attaches
// to any loop as a Listener; every lifecycle event it receives becomes a
// row, so a finished run can be reconstructed after the process exits.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/codefionn/agentloop/internal/logger"
	"github.com/codefionn/agentloop/internal/loop"
)

// Store handles SQLite operations for run history.
type Store struct {
	db     *sql.DB
	dbPath string
	log    *logger.Logger
}

// NewStore opens (or creates) the history database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &Store{
		db:     db,
		dbPath: dbPath,
		log:    logger.Global().WithPrefix("history"),
	}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate ensures the history schema exists.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		reason TEXT,
		error TEXT,
		total_tokens INTEGER DEFAULT 0,
		estimated_cost REAL DEFAULT 0.0
	);

	CREATE TABLE IF NOT EXISTS steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		tokens_used INTEGER DEFAULT 0,
		cost REAL DEFAULT 0.0,
		had_action BOOLEAN NOT NULL DEFAULT FALSE,
		signature TEXT,
		recorded_at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS trials (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		trial INTEGER NOT NULL,
		output TEXT,
		score REAL DEFAULT 0.0,
		passed BOOLEAN NOT NULL DEFAULT FALSE,
		reflection TEXT,
		duration_ms INTEGER DEFAULT 0,
		recorded_at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		output TEXT,
		reason TEXT,
		duration_ms INTEGER DEFAULT 0,
		recorded_at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_steps_run_id ON steps(run_id);
	CREATE INDEX IF NOT EXISTS idx_trials_run_id ON trials(run_id);
	CREATE INDEX IF NOT EXISTS idx_transitions_run_id ON transitions(run_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// OnEvent records a loop lifecycle event. Persistence failures are logged
// and swallowed; a broken history store must never disturb a running loop.
func (s *Store) OnEvent(event loop.Event) {
	var err error
	switch event.Type {
	case loop.EventLoopStarted:
		err = s.recordRunStarted(event)
	case loop.EventStepCompleted:
		err = s.recordStep(event)
	case loop.EventTrialRecorded:
		err = s.recordTrial(event)
	case loop.EventTransitionRecorded:
		err = s.recordTransition(event)
	case loop.EventLoopCompleted, loop.EventLoopFailed:
		err = s.recordRunFinished(event)
	}
	if err != nil {
		s.log.Warn("failed to persist %s event for run %s: %v", event.Type, event.RunID, err)
	}
}

func (s *Store) recordRunStarted(event loop.Event) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO runs (run_id, kind, started_at) VALUES (?, ?, ?)`,
		event.RunID, event.Kind, event.Time,
	)
	return err
}

func (s *Store) recordStep(event loop.Event) error {
	_, err := s.db.Exec(
		`INSERT INTO steps (run_id, step, tokens_used, cost, had_action, signature, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, event.Step.Step, event.Step.TokensUsed, event.Step.Cost,
		event.Step.HadAction, fmt.Sprintf("%x", event.Step.Signature), event.Time,
	)
	return err
}

func (s *Store) recordTrial(event loop.Event) error {
	if event.Trial == nil {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO trials (run_id, trial, output, score, passed, reflection, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, event.Trial.Trial, event.Trial.Output, event.Trial.Score,
		event.Trial.Passed, event.Trial.Reflection, event.Trial.Duration.Milliseconds(), event.Time,
	)
	return err
}

func (s *Store) recordTransition(event loop.Event) error {
	if event.Transition == nil {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO transitions (run_id, iteration, from_state, to_state, output, reason, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, event.Transition.Iteration, event.Transition.From, event.Transition.To,
		event.Transition.Output, event.Transition.Reason, event.Transition.Duration.Milliseconds(), event.Time,
	)
	return err
}

func (s *Store) recordRunFinished(event loop.Event) error {
	errText := ""
	if event.Err != nil {
		errText = event.Err.Error()
	}
	_, err := s.db.Exec(
		`UPDATE runs SET completed_at = ?, reason = ?, error = ?, total_tokens = ?, estimated_cost = ?
		 WHERE run_id = ?`,
		event.Time, string(event.Reason), errText,
		event.State.TotalTokensUsed(), event.State.EstimatedCost(), event.RunID,
	)
	return err
}

// RunRecord is one persisted run.
type RunRecord struct {
	RunID         string
	Kind          string
	StartedAt     time.Time
	CompletedAt   *time.Time
	Reason        string
	Error         string
	TotalTokens   int
	EstimatedCost float64
}

// GetRun loads one run by ID.
func (s *Store) GetRun(runID string) (*RunRecord, error) {
	row := s.db.QueryRow(
		`SELECT run_id, kind, started_at, completed_at, COALESCE(reason, ''), COALESCE(error, ''),
		        total_tokens, estimated_cost
		 FROM runs WHERE run_id = ?`, runID)

	var record RunRecord
	var completedAt sql.NullTime
	err := row.Scan(&record.RunID, &record.Kind, &record.StartedAt, &completedAt,
		&record.Reason, &record.Error, &record.TotalTokens, &record.EstimatedCost)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if completedAt.Valid {
		record.CompletedAt = &completedAt.Time
	}
	return &record, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT run_id, kind, started_at, completed_at, COALESCE(reason, ''), COALESCE(error, ''),
		        total_tokens, estimated_cost
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		var record RunRecord
		var completedAt sql.NullTime
		if err := rows.Scan(&record.RunID, &record.Kind, &record.StartedAt, &completedAt,
			&record.Reason, &record.Error, &record.TotalTokens, &record.EstimatedCost); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if completedAt.Valid {
			record.CompletedAt = &completedAt.Time
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// CountSteps returns the number of persisted steps for a run.
func (s *Store) CountSteps(runID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM steps WHERE run_id = ?`, runID).Scan(&count)
	return count, err
}

// CountTrials returns the number of persisted trials for a run.
func (s *Store) CountTrials(runID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM trials WHERE run_id = ?`, runID).Scan(&count)
	return count, err
}

// CountTransitions returns the number of persisted transitions for a run.
func (s *Store) CountTransitions(runID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM transitions WHERE run_id = ?`, runID).Scan(&count)
	return count, err
}
