package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jmylchreest/motor-proxy/internal/models"
)

// SQLiteStore keeps the session record in a local SQLite database.
type SQLiteStore struct {
	db       *sql.DB
	logger   *slog.Logger
	isMemory bool
}

// NewSQLiteStore opens (and migrates) the database at dbPath. ":memory:"
// gives a shared in-memory database.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	var connStr string
	isMemory := dbPath == ":memory:"

	if isMemory {
		connStr = "file::memory:?cache=shared&_timeout=5000&_busy_timeout=5000"
	} else {
		dir := filepath.Dir(dbPath)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
		}
		connStr = dbPath + "?_journal=WAL&_timeout=5000&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:       db,
		logger:   logger,
		isMemory: isMemory,
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("SQLite session store initialized", "path", dbPath, "in_memory", isMemory)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS upstream_sessions (
		id TEXT PRIMARY KEY,
		cookies_json TEXT NOT NULL DEFAULT '[]',
		obtained_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`)
	return err
}

// Set upserts the record for id.
func (s *SQLiteStore) Set(ctx context.Context, id string, session *models.PersistedSession) error {
	cookiesJSON, err := json.Marshal(session.Cookies)
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO upstream_sessions (id, cookies_json, obtained_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		cookies_json = excluded.cookies_json,
		obtained_at = excluded.obtained_at,
		updated_at = excluded.updated_at
	`,
		id,
		string(cookiesJSON),
		session.Timestamp.UTC().Format(time.RFC3339Nano),
		session.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Debug("session persisted", "id", id, "cookies", len(session.Cookies))
	return nil
}

// Get loads the record for id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.PersistedSession, error) {
	var cookiesJSON, obtainedAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT cookies_json, obtained_at, updated_at FROM upstream_sessions WHERE id = ?`, id,
	).Scan(&cookiesJSON, &obtainedAt, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session models.PersistedSession
	session.Timestamp, _ = time.Parse(time.RFC3339Nano, obtainedAt)
	session.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	if err := json.Unmarshal([]byte(cookiesJSON), &session.Cookies); err != nil {
		s.logger.Warn("failed to unmarshal cookies", "id", id, "error", err)
		session.Cookies = nil
	}

	return &session, nil
}

// Delete removes the record for id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM upstream_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.logger.Debug("session deleted from store", "id", id)
	return nil
}

// Close checkpoints the WAL (file databases only) and closes the connection.
func (s *SQLiteStore) Close() error {
	if !s.isMemory {
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.logger.Warn("failed to checkpoint WAL before close", "error", err)
		}
	}
	return s.db.Close()
}
