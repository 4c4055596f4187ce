package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"signpad-agent/internal/domain"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("key not found")

// IdentityStore persists individual device identity fields so partial
// regeneration is possible. Only the identity provider writes to it.
type IdentityStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// HistoryStore mirrors the tracker's bounded request history so the recent
// requests view survives agent restarts.
type HistoryStore interface {
	Append(ctx context.Context, entry *domain.HistoryEntry, cap int) error
	MarkCompleted(ctx context.Context, requestID string, at time.Time) error
	List(ctx context.Context, limit int) ([]*domain.HistoryEntry, error)
}

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures baseline tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS identity_values (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE TABLE IF NOT EXISTS request_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			patron_id TEXT NOT NULL,
			patron_name TEXT,
			document_type TEXT,
			message TEXT,
			requested_at TEXT NOT NULL,
			expiry_minutes INTEGER NOT NULL DEFAULT 0,
			staff_device_id TEXT,
			completed INTEGER NOT NULL DEFAULT 0,
			completed_at TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE INDEX IF NOT EXISTS idx_request_history_request ON request_history(request_id);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}

	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string

	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM identity_values WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read identity value: %w", err)
	}

	return value, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identity_values (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write identity value: %w", err)
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM identity_values WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete identity value: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM identity_values`); err != nil {
		return fmt.Errorf("failed to clear identity values: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, entry *domain.HistoryEntry, cap int) error {
	var completedAt interface{}
	if entry.Completed {
		completedAt = entry.CompletedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_history
			(request_id, patron_id, patron_name, document_type, message,
			 requested_at, expiry_minutes, staff_device_id, completed, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Request.RequestID,
		entry.Request.PatronID,
		entry.Request.PatronName,
		entry.Request.DocumentType,
		entry.Request.Message,
		entry.Request.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.Request.ExpiryMinutes,
		entry.Request.StaffDeviceID,
		entry.Completed,
		completedAt)
	if err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}

	if cap > 0 {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM request_history WHERE id NOT IN
				(SELECT id FROM request_history ORDER BY id DESC LIMIT ?)`, cap)
		if err != nil {
			return fmt.Errorf("failed to trim history: %w", err)
		}
	}

	return nil
}

func (s *Store) MarkCompleted(ctx context.Context, requestID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE request_history SET completed = 1, completed_at = ?
		 WHERE request_id = ?`,
		at.UTC().Format(time.RFC3339Nano), requestID)
	if err != nil {
		return fmt.Errorf("failed to mark history entry completed: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, limit int) ([]*domain.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, patron_id, patron_name, document_type, message,
			requested_at, expiry_minutes, staff_device_id, completed, completed_at
		 FROM request_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []*domain.HistoryEntry
	for rows.Next() {
		var (
			entry       domain.HistoryEntry
			requestedAt string
			completedAt sql.NullString
		)

		if err := rows.Scan(
			&entry.Request.RequestID,
			&entry.Request.PatronID,
			&entry.Request.PatronName,
			&entry.Request.DocumentType,
			&entry.Request.Message,
			&requestedAt,
			&entry.Request.ExpiryMinutes,
			&entry.Request.StaffDeviceID,
			&entry.Completed,
			&completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}

		if ts, err := time.Parse(time.RFC3339Nano, requestedAt); err == nil {
			entry.Request.Timestamp = ts
		}
		if completedAt.Valid {
			if ts, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
				entry.CompletedAt = ts
			}
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}

	return entries, nil
}
