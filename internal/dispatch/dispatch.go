// Package dispatch delivers one logical reply to a chat as one or more
// transport messages.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/longrelay/internal/chunk"
	cmdpkg "github.com/stupiduntilnot/longrelay/internal/commander"
	"github.com/stupiduntilnot/longrelay/internal/db"
	"github.com/stupiduntilnot/longrelay/internal/tracing"
)

// DefaultMaxLen stays below Telegram's 4096 limit.
const DefaultMaxLen = 4000

// Dispatcher sends replies through a Sender, chunked to MaxLen units.
type Dispatcher struct {
	sender   cmdpkg.Sender
	maxLen   int
	unit     chunk.Unit
	logger   *zap.Logger
	recorder db.Recorder
}

func New(sender cmdpkg.Sender, maxLen int, unit chunk.Unit, logger *zap.Logger, recorder db.Recorder) (*Dispatcher, error) {
	if sender == nil {
		return nil, errors.New("dispatch: sender must not be nil")
	}
	if maxLen <= 0 {
		return nil, fmt.Errorf("dispatch: max message length must be positive, got %d", maxLen)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = db.Nop{}
	}
	return &Dispatcher{sender: sender, maxLen: maxLen, unit: unit, logger: logger, recorder: recorder}, nil
}

// Deliver sends text to chatID. Text within the limit goes out as a single
// unmodified message; longer text is split and sent chunk by chunk, each
// send awaited before the next. The first failed send stops delivery and is
// returned; chunks already sent stay sent.
func (d *Dispatcher) Deliver(ctx context.Context, chatID int64, text string) error {
	ctx, span := tracing.Tracer().Start(ctx, "dispatch.deliver")
	defer span.End()

	parts := []string{text}
	if d.unit.Len(text) > d.maxLen {
		parts = d.unit.Split(text, d.maxLen)
	}
	span.SetAttributes(attribute.Int("chunks", len(parts)), attribute.Int64("chat_id", chatID))

	for i, part := range parts {
		if err := d.sender.SendMessage(ctx, chatID, part); err != nil {
			d.logger.Warn("send failed",
				zap.Int64("chat_id", chatID),
				zap.Int("chunk", i+1),
				zap.Int("chunks", len(parts)),
				zap.Error(err),
			)
			d.recorder.Record(ctx, db.EventReplyFailed, map[string]any{
				"chunk":  i + 1,
				"chunks": len(parts),
				"error":  err.Error(),
			})
			span.RecordError(err)
			span.SetStatus(codes.Error, "send failed")
			return fmt.Errorf("deliver chunk %d/%d: %w", i+1, len(parts), err)
		}
	}
	d.logger.Debug("reply delivered", zap.Int64("chat_id", chatID), zap.Int("chunks", len(parts)))
	d.recorder.Record(ctx, db.EventReplySent, map[string]any{
		"chunks": len(parts),
		"length": d.unit.Len(text),
	})
	return nil
}
