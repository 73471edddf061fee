// Package history persists terminally finished tasks to a SQLite database
// so batch results survive process restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const dbFile = "history.db"

// timeLayout pads fractional seconds to a fixed width; RFC3339Nano trims
// trailing zeros, which breaks the lexicographic ordering the finished_at
// index relies on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record is one finished task as stored in the history table.
type Record struct {
	TaskID       string    `json:"task_id"`
	InputPath    string    `json:"input_path"`
	OutputPath   string    `json:"output_path,omitempty"`
	Priority     string    `json:"priority"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	RetryCount   int       `json:"retry_count"`
	CreatedAt    time.Time `json:"created_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Store manages the task history SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database under dataDir and ensures the
// schema exists.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			input_path TEXT NOT NULL,
			output_path TEXT,
			priority TEXT,
			status TEXT NOT NULL,
			error_message TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_finished_at ON tasks(finished_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", stmt[:30], err)
		}
	}
	return nil
}

// Append stores one finished task. Re-appending the same task ID overwrites
// the earlier row.
func (s *Store) Append(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tasks
			(task_id, input_path, output_path, priority, status, error_message, retry_count, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TaskID, r.InputPath, r.OutputPath, r.Priority, r.Status, r.ErrorMessage,
		r.RetryCount, r.CreatedAt.UTC().Format(timeLayout), r.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting task %s: %w", r.TaskID, err)
	}
	return nil
}

// Recent returns up to limit finished tasks, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, input_path, output_path, priority, status, error_message, retry_count, created_at, finished_at
		 FROM tasks ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var createdAt, finishedAt string
		if err := rows.Scan(&r.TaskID, &r.InputPath, &r.OutputPath, &r.Priority, &r.Status,
			&r.ErrorMessage, &r.RetryCount, &createdAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history rows: %w", err)
	}
	return records, nil
}
