package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/longrelay/internal/chunk"
	cmdpkg "github.com/stupiduntilnot/longrelay/internal/commander"
	"github.com/stupiduntilnot/longrelay/internal/config"
	"github.com/stupiduntilnot/longrelay/internal/control"
	"github.com/stupiduntilnot/longrelay/internal/db"
	"github.com/stupiduntilnot/longrelay/internal/dispatch"
	"github.com/stupiduntilnot/longrelay/internal/dummy"
	"github.com/stupiduntilnot/longrelay/internal/generate"
	"github.com/stupiduntilnot/longrelay/internal/listener"
	"github.com/stupiduntilnot/longrelay/internal/model"
	"github.com/stupiduntilnot/longrelay/internal/openai"
	"github.com/stupiduntilnot/longrelay/internal/secrets"
	"github.com/stupiduntilnot/longrelay/internal/telegram"
)

// app is the wired relay. Every component is built once here and passed
// explicitly.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	database *sql.DB
	store    db.Store

	source     cmdpkg.Commander
	provider   model.Provider
	generator  *generate.Generator
	dispatcher *dispatch.Dispatcher
	listener   *listener.Listener
}

// prepareConfig resolves secrets from SSM when configured and validates the
// result.
func prepareConfig(ctx context.Context, c *config.Config) error {
	if c.SSMPrefix != "" {
		store, err := secrets.NewFromEnvironment(ctx, c.SSMPrefix)
		if err != nil {
			return err
		}
		if err := config.ResolveSecrets(ctx, c, store); err != nil {
			return err
		}
	}
	return c.Validate()
}

func newApp(c config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: c, logger: logger, store: db.Nop{}}

	if c.DBPath != "" {
		database, err := db.OpenDB(c.DBPath)
		if err != nil {
			return nil, err
		}
		if err := db.InitSchema(database); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to init schema: %w", err)
		}
		a.database = database
		a.store = db.NewLedger(database, logger)
	}

	var err error
	if a.source, err = newCommander(c); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init commander: %w", err)
	}
	if a.provider, err = newModelProvider(c); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init model provider: %w", err)
	}
	if a.generator, err = newGenerator(c, a.provider, logger, a.store); err != nil {
		a.Close()
		return nil, err
	}
	unit, err := chunk.ParseUnit(c.ChunkUnit)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("RELAY_CHUNK_UNIT: %w", err)
	}
	if a.dispatcher, err = dispatch.New(a.source, c.MaxMessageLen, unit, logger, a.store); err != nil {
		a.Close()
		return nil, err
	}
	a.listener, err = listener.New(a.source, a.generator, a.dispatcher, a.store, listener.Options{
		PollTimeout:        c.PollTimeout,
		Sleep:              time.Duration(c.SleepSeconds) * time.Second,
		DropPending:        c.DropPending,
		PendingWindow:      time.Duration(c.PendingWindowSeconds) * time.Second,
		PendingMaxMessages: c.PendingMaxMessages,
		Breaker:            control.NewCircuitBreaker(5, 30*time.Second),
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() error {
	if a.database == nil {
		return nil
	}
	return a.database.Close()
}

// run records the process lifetime in the ledger and polls until ctx ends.
func (a *app) run(ctx context.Context) error {
	processID := a.store.Record(ctx, db.EventProcessStarted, map[string]any{
		"pid":       os.Getpid(),
		"version":   version,
		"provider":  a.cfg.Provider,
		"commander": a.cfg.Commander,
		"model":     a.cfg.Model,
	})
	ctx = db.WithParent(ctx, processID)

	a.logger.Info("relay running",
		zap.String("provider", a.cfg.Provider),
		zap.String("commander", a.cfg.Commander),
		zap.String("model", a.cfg.Model),
	)
	err := a.listener.Run(ctx)
	a.store.Record(context.WithoutCancel(ctx), db.EventProcessStopped, map[string]any{"clean": err == nil})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newCommander(c config.Config) (cmdpkg.Commander, error) {
	switch c.Commander {
	case "telegram":
		return telegram.NewClient(c.TelegramAPIBase(), time.Duration(c.PollTimeout+20)*time.Second), nil
	case "dummy":
		return dummy.NewCommander(c.DummyPollScript, c.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", c.Commander)
	}
}

func newModelProvider(c config.Config) (model.Provider, error) {
	switch c.Provider {
	case "openai":
		return openai.NewClient(c.APIKey, c.CompletionsBaseURL, c.Model, time.Duration(c.HTTPTimeoutSeconds)*time.Second), nil
	case "dummy":
		return dummy.NewProvider(c.DummyScript)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", c.Provider)
	}
}

func newGenerator(c config.Config, provider model.Provider, logger *zap.Logger, recorder db.Recorder) (*generate.Generator, error) {
	done, err := generate.ParseStrategy(c.DoneStrategy, c.ContinueThreshold)
	if err != nil {
		return nil, fmt.Errorf("RELAY_DONE_STRATEGY: %w", err)
	}
	opts := generate.DefaultOptions()
	opts.Model = c.Model
	opts.Policy = control.Policy{MaxAttempts: c.MaxAttempts}
	opts.MaxTokens = c.MaxTokens
	opts.Temperature = c.Temperature
	opts.TopP = c.TopP
	opts.Prompts = c.Prompts
	opts.Done = done
	opts.CarryContext = c.CarryContext
	return generate.New(provider, opts, logger, recorder)
}
