package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/longrelay/internal/db"
)

var (
	eventsDB        string
	eventsID        int64
	eventsDepth     int
	eventsJSON      bool
	eventsNoPayload bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print the ledger event tree of the latest (or a given) run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := eventsDB
		if path == "" {
			path = cfg.DBPath
		}
		if path == "" {
			return errors.New("no ledger: pass --db or set RELAY_DB_PATH")
		}
		return printEvents(cmd.OutOrStdout(), path, eventsID, eventsDepth, eventsJSON, eventsNoPayload)
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsDB, "db", "", "SQLite ledger path (default RELAY_DB_PATH)")
	eventsCmd.Flags().Int64Var(&eventsID, "id", 0, "show subtree of a specific event ID")
	eventsCmd.Flags().IntVarP(&eventsDepth, "depth", "L", 0, "limit display depth (0 = unlimited)")
	eventsCmd.Flags().BoolVar(&eventsJSON, "json", false, "output JSON format")
	eventsCmd.Flags().BoolVar(&eventsNoPayload, "no-payload", false, "hide payload details")
}

func printEvents(w io.Writer, path string, rootID int64, maxDepth int, jsonOut, noPayload bool) error {
	database, err := db.OpenReadOnly(path)
	if err != nil {
		return err
	}
	defer database.Close()

	if rootID == 0 {
		if rootID, err = db.LatestProcessRoot(database); err != nil {
			return fmt.Errorf("find process root: %w", err)
		}
	}
	events, err := db.QuerySubtree(database, rootID)
	if err != nil {
		return fmt.Errorf("query subtree: %w", err)
	}
	root := db.BuildTree(events, rootID)
	if root == nil {
		return fmt.Errorf("event %d not found", rootID)
	}

	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(toJSONEvent(root, 1, maxDepth, noPayload))
	}
	printTree(w, root, "", true, 1, maxDepth, noPayload)
	return nil
}

// printTree renders the event tree using box-drawing characters.
func printTree(w io.Writer, ev *db.Event, prefix string, isLast bool, depth, maxDepth int, noPayload bool) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}
	line := formatEvent(ev, noPayload)
	if depth == 1 {
		fmt.Fprintln(w, line)
	} else {
		fmt.Fprintln(w, prefix+connector+line)
	}

	childPrefix := prefix
	if depth > 1 {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}
	if maxDepth > 0 && depth >= maxDepth {
		if len(ev.Children) > 0 {
			fmt.Fprintln(w, childPrefix+"└── [...]")
		}
		return
	}
	for i, child := range ev.Children {
		printTree(w, child, childPrefix, i == len(ev.Children)-1, depth+1, maxDepth, noPayload)
	}
}

// formatEvent formats a single event line: [id] timestamp  event_type  key=value ...
func formatEvent(ev *db.Event, noPayload bool) string {
	ts := time.Unix(ev.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%d] %s  %s", ev.ID, ts, ev.EventType)
	if noPayload {
		return line
	}
	m := payloadMap(ev)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf("  %s=%s", k, formatValue(m[k]))
	}
	return line
}

func payloadMap(ev *db.Event) map[string]any {
	if !ev.Payload.Valid || ev.Payload.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ev.Payload.String), &m); err != nil {
		return nil
	}
	return m
}

// formatValue converts a payload value to a display string, truncating long text.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if len(val) > 80 {
			return fmt.Sprintf("%q", val[:80]+"...")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

type jsonEvent struct {
	ID        int64       `json:"id"`
	Timestamp int64       `json:"timestamp"`
	EventType string      `json:"event_type"`
	Payload   any         `json:"payload,omitempty"`
	Children  []jsonEvent `json:"children,omitempty"`
}

func toJSONEvent(ev *db.Event, depth, maxDepth int, noPayload bool) jsonEvent {
	je := jsonEvent{
		ID:        ev.ID,
		Timestamp: ev.Timestamp,
		EventType: ev.EventType,
	}
	if !noPayload {
		if m := payloadMap(ev); m != nil {
			je.Payload = m
		}
	}
	if maxDepth > 0 && depth >= maxDepth {
		return je
	}
	for _, child := range ev.Children {
		je.Children = append(je.Children, toJSONEvent(child, depth+1, maxDepth, noPayload))
	}
	return je
}
