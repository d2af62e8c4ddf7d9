package db

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
)

// Recorder appends events to the ledger. The parent event is taken from ctx
// (see WithParent). Write failures are logged and reported as id 0; the
// ledger never fails message handling.
type Recorder interface {
	Record(ctx context.Context, eventType string, payload map[string]any) int64
}

// Store is the ledger surface used by the poll loop.
type Store interface {
	Recorder
	Offset() (int64, error)
	MarkUpdate(updateID, chatID int64, status string)
}

type parentKey struct{}

// WithParent returns a context whose recorded events hang under eventID.
// A zero id leaves ctx unchanged.
func WithParent(ctx context.Context, eventID int64) context.Context {
	if eventID == 0 {
		return ctx
	}
	return context.WithValue(ctx, parentKey{}, eventID)
}

// ParentEvent returns the event id set by WithParent.
func ParentEvent(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(parentKey{}).(int64)
	return id, ok
}

// Ledger is the SQLite-backed Store.
type Ledger struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewLedger(database *sql.DB, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{db: database, logger: logger}
}

func (l *Ledger) Record(ctx context.Context, eventType string, payload map[string]any) int64 {
	var parent *int64
	if id, ok := ParentEvent(ctx); ok {
		parent = &id
	}
	id, err := LogEvent(l.db, parent, eventType, payload)
	if err != nil {
		l.logger.Warn("ledger write failed", zap.String("event_type", eventType), zap.Error(err))
		return 0
	}
	return id
}

func (l *Ledger) Offset() (int64, error) {
	return DeriveOffset(l.db)
}

func (l *Ledger) MarkUpdate(updateID, chatID int64, status string) {
	if err := MarkUpdate(l.db, updateID, chatID, status); err != nil {
		l.logger.Warn("ledger update mark failed", zap.Int64("update_id", updateID), zap.Error(err))
	}
}

// Nop is the Store used when no database is configured.
type Nop struct{}

func (Nop) Record(context.Context, string, map[string]any) int64 { return 0 }
func (Nop) Offset() (int64, error) { return 0, nil }
func (Nop) MarkUpdate(int64, int64, string) {}
