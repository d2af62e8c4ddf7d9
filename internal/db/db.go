// Package db is the relay's SQLite event ledger. It stores ids, sizes and
// error classes of every handled update, never message text.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Process-level event types.
const (
	EventProcessStarted     = "process.started"
	EventProcessStopped     = "process.stopped"
	EventCircuitOpened      = "circuit.opened"
	EventCircuitHalfOpen    = "circuit.half_open"
	EventCircuitClosed      = "circuit.closed"
	EventOffsetBootstrapped = "offset.bootstrapped"
)

// Per-message event types.
const (
	EventMessageReceived     = "message.received"
	EventMessageFailed       = "message.failed"
	EventGenerationStarted   = "generation.started"
	EventAttemptCompleted    = "attempt.completed"
	EventAttemptFailed       = "attempt.failed"
	EventControlLimitReached = "control.limit_reached"
	EventGenerationCompleted = "generation.completed"
	EventReplySent           = "reply.sent"
	EventReplyFailed         = "reply.failed"
)

// Update statuses stored in the updates table.
const (
	UpdateIgnored  = "ignored"
	UpdateAccepted = "accepted"
	UpdateDone     = "done"
	UpdateFailed   = "failed"
)

// OpenDB opens (or creates) a SQLite database at the given path, ensuring
// that the parent directory exists.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	return db, nil
}

// InitSchema creates the events and updates tables.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			timestamp INTEGER NOT NULL DEFAULT (unixepoch()),
			parent_id INTEGER,
			event_type TEXT NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_parent_id ON events(parent_id);

		CREATE TABLE IF NOT EXISTS updates (
			update_id INTEGER PRIMARY KEY,
			chat_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (unixepoch()),
			updated_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
		CREATE INDEX IF NOT EXISTS idx_updates_status ON updates(status);
	`)
	return err
}

// DeriveOffset returns the next Telegram polling offset derived from the
// updates table. Returns 0 if no update was ever seen.
func DeriveOffset(database *sql.DB) (int64, error) {
	var offset int64
	err := database.QueryRow(`SELECT COALESCE(MAX(update_id) + 1, 0) FROM updates`).Scan(&offset)
	return offset, err
}

// MarkUpdate inserts or moves an update to status.
func MarkUpdate(database *sql.DB, updateID, chatID int64, status string) error {
	_, err := database.Exec(`
		INSERT INTO updates (update_id, chat_id, status) VALUES (?, ?, ?)
		ON CONFLICT(update_id) DO UPDATE SET status = excluded.status, updated_at = unixepoch()
	`, updateID, chatID, status)
	if err != nil {
		return fmt.Errorf("mark update %d %s: %w", updateID, status, err)
	}
	return nil
}

// UpdateStatus returns the stored status of an update, or "" if unknown.
func UpdateStatus(database *sql.DB, updateID int64) (string, error) {
	var status string
	err := database.QueryRow(`SELECT status FROM updates WHERE update_id = ?`, updateID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return status, err
}

// LogEvent inserts an event into the events table and returns its auto-generated id.
// parentID may be nil for root events. payload is serialized to JSON; nil payload stores NULL.
func LogEvent(db *sql.DB, parentID *int64, eventType string, payload map[string]any) (int64, error) {
	var payloadJSON any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		payloadJSON = string(data)
	}

	res, err := db.Exec(
		`INSERT INTO events (parent_id, event_type, payload) VALUES (?, ?, ?)`,
		parentID, eventType, payloadJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", eventType, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get event id: %w", err)
	}
	return id, nil
}
