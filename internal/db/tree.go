package db

import (
	"database/sql"
	"fmt"
	"sort"
)

// Event represents a row from the events table.
type Event struct {
	ID        int64
	Timestamp int64
	ParentID  sql.NullInt64
	EventType string
	Payload   sql.NullString
	Children  []*Event
}

// OpenReadOnly opens an existing ledger for inspection.
func OpenReadOnly(path string) (*sql.DB, error) {
	database, err := sql.Open("sqlite3", path+"?mode=ro&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return database, nil
}

// LatestProcessRoot finds the most recent process.started event.
func LatestProcessRoot(database *sql.DB) (int64, error) {
	var id int64
	err := database.QueryRow(
		`SELECT id FROM events WHERE event_type = ? ORDER BY id DESC LIMIT 1`,
		EventProcessStarted,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("no %s event found", EventProcessStarted)
	}
	return id, err
}

// QuerySubtree returns all events in the subtree rooted at rootID using a recursive CTE.
func QuerySubtree(database *sql.DB, rootID int64) ([]*Event, error) {
	rows, err := database.Query(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM events WHERE id = ?
			UNION ALL
			SELECT e.id FROM events e JOIN subtree s ON e.parent_id = s.id
		)
		SELECT e.id, e.timestamp, e.parent_id, e.event_type, e.payload
		FROM events e
		WHERE e.id IN (SELECT id FROM subtree)
		ORDER BY e.id ASC
	`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev := &Event{}
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.ParentID, &ev.EventType, &ev.Payload); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// BuildTree links a flat, id-ordered list of events and returns the node for
// rootID, or nil if it is absent.
func BuildTree(events []*Event, rootID int64) *Event {
	byID := make(map[int64]*Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}
	for _, ev := range events {
		if !ev.ParentID.Valid || ev.ParentID.Int64 == ev.ID {
			continue
		}
		if parent, ok := byID[ev.ParentID.Int64]; ok {
			parent.Children = append(parent.Children, ev)
		}
	}
	for _, ev := range events {
		sort.Slice(ev.Children, func(i, j int) bool {
			return ev.Children[i].ID < ev.Children[j].ID
		})
	}
	return byID[rootID]
}
