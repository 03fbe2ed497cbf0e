package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/martinemde/aethel/agentloop"
	_ "modernc.org/sqlite"
)

// updatedFormat sorts lexically in time order.
const updatedFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore keeps each session as a row of the sessions table. Safe for
// concurrent use (SQLite serializes writes).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at dbPath and applies the
// schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		state_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load returns the record for sessionID.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*agentloop.SessionState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM sessions WHERE id = ?`, sessionID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, agentloop.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	var state agentloop.SessionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &state, nil
}

// Save upserts the record for state's session id.
func (s *SQLiteStore) Save(ctx context.Context, state *agentloop.SessionState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, status, state_json, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE
		 SET status = excluded.status, state_json = excluded.state_json, updated_at = excluded.updated_at`,
		state.Meta.SessionID, string(state.Meta.Status), string(data), time.Now().UTC().Format(updatedFormat),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", state.Meta.SessionID, err)
	}
	return nil
}

// SessionSummary is one row of List.
type SessionSummary struct {
	ID        string
	Status    string
	UpdatedAt time.Time
}

// List returns all stored sessions, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var updated string
		if err := rows.Scan(&sum.ID, &sum.Status, &updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.UpdatedAt, _ = time.Parse(updatedFormat, updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}
