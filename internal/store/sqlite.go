package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339

var migrations = []string{
	`CREATE TABLE control_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tool TEXT NOT NULL,
		device_id TEXT NOT NULL,
		device_name TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX idx_control_events_created ON control_events(created_at);`,
}

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, zero CGO).
type SQLiteStore struct {
	db            *sql.DB
	retentionDays int
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
// The database file is created with 0600 permissions and its parent directory with 0700.
func NewSQLiteStore(path string, retentionDays int) (*SQLiteStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}

		// Pre-create the file with restrictive permissions if it doesn't exist
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
			if err != nil {
				return nil, fmt.Errorf("creating database file: %w", err)
			}
			_ = f.Close()
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, retentionDays: retentionDays}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	// Ensure schema_version table exists
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		slog.Info("applying migration", "version", i+1)
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordControl persists one control outcome.
func (s *SQLiteStore) RecordControl(e *ControlEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(`INSERT INTO control_events (tool, device_id, device_name, success, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Tool, e.DeviceID, e.DeviceName, boolToInt(e.Success), e.Detail, e.CreatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("inserting control event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// ListControls returns control events matching the filter, newest first.
func (s *SQLiteStore) ListControls(f ControlFilter) ([]ControlEvent, error) {
	query := `SELECT id, tool, device_id, device_name, success, detail, created_at
		FROM control_events WHERE 1=1`
	var args []any

	if f.Tool != "" {
		query += " AND tool = ?"
		args = append(args, f.Tool)
	}
	if f.FailedOnly {
		query += " AND success = 0"
	}
	if !f.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, f.Since.UTC().Format(timeFormat))
	}

	query += " ORDER BY id DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing control events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []ControlEvent
	for rows.Next() {
		var e ControlEvent
		var success int
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Tool, &e.DeviceID, &e.DeviceName, &success, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning control event: %w", err)
		}
		e.Success = success != 0
		e.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Cleanup deletes control events older than the retention window.
func (s *SQLiteStore) Cleanup() error {
	if s.retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays).UTC().Format(timeFormat)
	res, err := s.db.Exec("DELETE FROM control_events WHERE created_at < ?", cutoff)
	if err != nil {
		return fmt.Errorf("cleaning up control events: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		slog.Info("pruned control events", "deleted", n, "retention_days", s.retentionDays)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
