// Package persistence stores cycle and task history in SQLite, so past runs
// stay inspectable after plan files are archived and overwritten.
package persistence

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"devloop/pkg/logx"
)

// CurrentSchemaVersion defines the schema version for migration support.
const CurrentSchemaVersion = 1

// CycleRecord is one row of cycle history.
type CycleRecord struct {
	Cycle        int
	StartedAt    time.Time
	CompletedAt  *time.Time
	IdeaFilename string
	Outcome      string
}

// TaskRecord is one executed or skipped task.
type TaskRecord struct {
	ID          int64
	Cycle       int
	Description string
	Skipped     bool
	RecordedAt  time.Time
}

// Store is the history database. SQLite supports a single writer, so the
// connection pool is pinned to one connection.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open creates or opens the history database at path and ensures the schema
// is current.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", path,
	))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logx.NewLogger("persistence")}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version == CurrentSchemaVersion {
		return nil
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, CurrentSchemaVersion)
	}
	if version == 0 {
		return s.createSchema()
	}
	// Future migrations slot in here, one version step at a time.
	return fmt.Errorf("no migration path from schema version %d", version)
}

func (s *Store) schemaVersion() (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("inspect schema: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	var version int
	if err := s.db.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE schema_version (
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE cycles (
			cycle INTEGER PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			idea_filename TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle INTEGER NOT NULL REFERENCES cycles(cycle),
			description TEXT NOT NULL,
			skipped INTEGER NOT NULL DEFAULT 0,
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX idx_tasks_cycle ON tasks(cycle)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// CycleStarted records a new cycle, or updates the idea attribution when the
// cycle row already exists from a resumed run.
func (s *Store) CycleStarted(cycle int, startedAt time.Time, ideaFilename string) error {
	_, err := s.db.Exec(`
		INSERT INTO cycles (cycle, started_at, idea_filename) VALUES (?, ?, ?)
		ON CONFLICT(cycle) DO UPDATE SET idea_filename = excluded.idea_filename`,
		cycle, startedAt.UTC(), ideaFilename,
	)
	if err != nil {
		return fmt.Errorf("record cycle start: %w", err)
	}
	return nil
}

// CycleCompleted marks a cycle finished with its eval outcome.
func (s *Store) CycleCompleted(cycle int, completedAt time.Time, outcome string) error {
	_, err := s.db.Exec(
		`UPDATE cycles SET completed_at = ?, outcome = ? WHERE cycle = ?`,
		completedAt.UTC(), outcome, cycle,
	)
	if err != nil {
		return fmt.Errorf("record cycle completion: %w", err)
	}
	return nil
}

// TaskRecorded appends one task outcome to the cycle's history.
func (s *Store) TaskRecorded(cycle int, description string, skipped bool, at time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO tasks (cycle, description, skipped, recorded_at) VALUES (?, ?, ?, ?)`,
		cycle, description, skipped, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record task: %w", err)
	}
	return nil
}

// RecentCycles returns up to limit cycles, newest first.
func (s *Store) RecentCycles(limit int) ([]CycleRecord, error) {
	rows, err := s.db.Query(`
		SELECT cycle, started_at, completed_at, idea_filename, outcome
		FROM cycles ORDER BY cycle DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []CycleRecord
	for rows.Next() {
		var rec CycleRecord
		var completed sql.NullTime
		if err := rows.Scan(&rec.Cycle, &rec.StartedAt, &completed, &rec.IdeaFilename, &rec.Outcome); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		if completed.Valid {
			t := completed.Time
			rec.CompletedAt = &t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// TasksForCycle returns the task history of one cycle in execution order.
func (s *Store) TasksForCycle(cycle int) ([]TaskRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, cycle, description, skipped, recorded_at
		FROM tasks WHERE cycle = ? ORDER BY id`, cycle)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		if err := rows.Scan(&rec.ID, &rec.Cycle, &rec.Description, &rec.Skipped, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
