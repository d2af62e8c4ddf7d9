// Package listener long-polls the chat transport and hands every plain text
// message to its own goroutine for generation and delivery.
package listener

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	cmdpkg "github.com/stupiduntilnot/longrelay/internal/commander"
	"github.com/stupiduntilnot/longrelay/internal/control"
	"github.com/stupiduntilnot/longrelay/internal/db"
	"github.com/stupiduntilnot/longrelay/internal/tracing"
)

// ErrorNotice is sent to the chat when a message cannot be answered.
const ErrorNotice = "Error talking to AI."

// errClassSource is the breaker class for getUpdates failures.
const errClassSource = "command_source_api"

// Replier produces the full reply for one user message.
type Replier interface {
	Generate(ctx context.Context, userText string) (string, error)
}

// Deliverer sends one reply to a chat.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, text string) error
}

// Options tunes the poll loop.
type Options struct {
	// PollTimeout is the getUpdates long-poll timeout in seconds.
	PollTimeout int
	// Sleep is the pause after a failed poll or while the breaker is open.
	Sleep       time.Duration

	// DropPending skips the backlog on a fresh start with no stored offset.
	DropPending        bool
	PendingWindow      time.Duration
	PendingMaxMessages int

	Breaker *control.CircuitBreaker
}

func DefaultOptions() Options {
	return Options{
		PollTimeout:        30,
		Sleep:              time.Second,
		DropPending:        true,
		PendingWindow:      10 * time.Minute,
		PendingMaxMessages: 50,
	}
}

type Listener struct {
	source    cmdpkg.Commander
	replier   Replier
	deliverer Deliverer
	store     db.Store
	opts      Options
	logger    *zap.Logger

	handlers errgroup.Group
}

func New(source cmdpkg.Commander, replier Replier, deliverer Deliverer, store db.Store, opts Options, logger *zap.Logger) (*Listener, error) {
	if source == nil || replier == nil || deliverer == nil {
		return nil, errors.New("listener: source, replier and deliverer are required")
	}
	if store == nil {
		store = db.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Breaker == nil {
		opts.Breaker = control.NewCircuitBreaker(0, 0)
	}
	if opts.Sleep <= 0 {
		opts.Sleep = time.Second
	}
	if opts.PollTimeout < 0 {
		opts.PollTimeout = 0
	}
	return &Listener{
		source:    source,
		replier:   replier,
		deliverer: deliverer,
		store:     store,
		opts:      opts,
		logger:    logger,
	}, nil
}

// Run polls until ctx is cancelled, then waits for in-flight handlers.
// Handlers run on a context detached from ctx's cancellation so a reply in
// progress is still delivered during shutdown.
func (l *Listener) Run(ctx context.Context) error {
	offset := l.startOffset(ctx)
	l.logger.Info("listener running", zap.Int64("offset", offset), zap.Int("poll_timeout", l.opts.PollTimeout))

	breaker := l.opts.Breaker
	for ctx.Err() == nil {
		allowed, halfOpened := breaker.Allow(time.Now())
		if !allowed {
			sleep(ctx, l.opts.Sleep)
			continue
		}
		if halfOpened {
			l.store.Record(ctx, db.EventCircuitHalfOpen, map[string]any{"error_class": breaker.OpenedClass()})
		}

		updates, err := l.source.GetUpdates(ctx, offset, l.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			l.logger.Warn("getUpdates failed", zap.Int64("offset", offset), zap.Error(err))
			if breaker.RecordFailure(errClassSource, time.Now()) {
				l.logger.Error("poll circuit opened", zap.Duration("cooldown", breaker.Cooldown))
				l.store.Record(ctx, db.EventCircuitOpened, map[string]any{
					"error_class":      errClassSource,
					"threshold":        breaker.Threshold,
					"cooldown_seconds": int(breaker.Cooldown.Seconds()),
				})
			}
			sleep(ctx, l.opts.Sleep)
			continue
		}
		if breaker.RecordSuccess() {
			l.logger.Info("poll circuit closed")
			l.store.Record(ctx, db.EventCircuitClosed, map[string]any{"recovered": true})
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			l.accept(ctx, update)
		}
	}

	l.logger.Info("listener stopping, waiting for in-flight messages")
	return l.handlers.Wait()
}

// accept records the update and, for plain text, starts its handler.
func (l *Listener) accept(ctx context.Context, update cmdpkg.Update) {
	text, ok := update.Message.PlainText()
	if !ok {
		var chatID int64
		if update.Message != nil {
			chatID = update.Message.Chat.ID
		}
		l.store.MarkUpdate(update.UpdateID, chatID, db.UpdateIgnored)
		return
	}
	chatID := update.Message.Chat.ID
	l.store.MarkUpdate(update.UpdateID, chatID, db.UpdateAccepted)

	hctx := context.WithoutCancel(ctx)
	l.handlers.Go(func() error {
		l.handle(hctx, update.UpdateID, chatID, text)
		return nil
	})
}

func (l *Listener) handle(ctx context.Context, updateID, chatID int64, text string) {
	handlingID := uuid.NewString()
	ctx, span := tracing.Tracer().Start(ctx, "listener.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("handling_id", handlingID),
		attribute.Int64("chat_id", chatID),
		attribute.Int64("update_id", updateID),
	)

	logger := l.logger.With(
		zap.String("handling_id", handlingID),
		zap.Int64("chat_id", chatID),
		zap.Int64("update_id", updateID),
	)
	logger.Info("message received", zap.Int("length", utf8.RuneCountInString(text)))
	eventID := l.store.Record(ctx, db.EventMessageReceived, map[string]any{
		"handling_id": handlingID,
		"chat_id":     chatID,
		"update_id":   updateID,
		"length":      utf8.RuneCountInString(text),
	})
	ctx = db.WithParent(ctx, eventID)

	stage := "generate"
	reply, err := l.replier.Generate(ctx, text)
	if err == nil {
		stage = "deliver"
		err = l.deliverer.Deliver(ctx, chatID, reply)
	}
	if err != nil {
		logger.Error("message failed", zap.String("stage", stage), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, stage+" failed")
		l.store.Record(ctx, db.EventMessageFailed, map[string]any{
			"stage": stage,
			"error": err.Error(),
		})
		if sendErr := l.source.SendMessage(ctx, chatID, ErrorNotice); sendErr != nil {
			logger.Warn("error notice not sent", zap.Error(sendErr))
		}
		l.store.MarkUpdate(updateID, chatID, db.UpdateFailed)
		return
	}
	logger.Info("reply delivered", zap.Int("length", utf8.RuneCountInString(reply)))
	l.store.MarkUpdate(updateID, chatID, db.UpdateDone)
}

// startOffset resumes from the ledger, or on a fresh start optionally skips
// the pending backlog.
func (l *Listener) startOffset(ctx context.Context) int64 {
	offset, err := l.store.Offset()
	if err != nil {
		l.logger.Warn("stored offset unavailable", zap.Error(err))
		offset = 0
	}
	if offset != 0 || !l.opts.DropPending {
		return offset
	}
	bootstrapped, err := l.bootstrapOffset(ctx)
	if err != nil {
		l.logger.Warn("bootstrap offset failed", zap.Error(err))
		return 0
	}
	l.store.Record(ctx, db.EventOffsetBootstrapped, map[string]any{"offset": bootstrapped})
	return bootstrapped
}

// bootstrapOffset peeks at the backlog and returns the offset of the oldest
// update worth answering: only messages inside the pending window, at most
// PendingMaxMessages of them. With nothing recent it skips the whole backlog.
func (l *Listener) bootstrapOffset(ctx context.Context) (int64, error) {
	updates, err := l.source.GetUpdates(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-l.opts.PendingWindow).Unix()
	var inWindow []cmdpkg.Update
	for _, u := range updates {
		if u.Message != nil && u.Message.Date >= cutoff {
			inWindow = append(inWindow, u)
		}
	}

	if len(inWindow) == 0 {
		return updates[len(updates)-1].UpdateID + 1, nil
	}
	if l.opts.PendingMaxMessages > 0 && len(inWindow) > l.opts.PendingMaxMessages {
		inWindow = inWindow[len(inWindow)-l.opts.PendingMaxMessages:]
	}
	return inWindow[0].UpdateID, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
