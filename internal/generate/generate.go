// Package generate assembles one long reply from a bounded series of
// completion calls.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/longrelay/internal/control"
	"github.com/stupiduntilnot/longrelay/internal/db"
	"github.com/stupiduntilnot/longrelay/internal/model"
	"github.com/stupiduntilnot/longrelay/internal/prompt"
	"github.com/stupiduntilnot/longrelay/internal/tracing"
)

const (
	DefaultMaxAttempts = 3
	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.9
	DefaultThreshold   = 1500
	DefaultSeparator   = "\n\n"
)

// ErrEmptyInput is returned for empty user text.
var ErrEmptyInput = errors.New("generate: empty user text")

// Options configures a Generator.
type Options struct {
	Model       string
	Policy      control.Policy
	MaxTokens   int
	Temperature float32
	TopP        float32
	Separator   string
	Prompts     prompt.Prompts
	Done        DonePredicate

	// CarryContext sends the question and the reply so far with every
	// continuation instead of the bare continue instruction.
	CarryContext bool
}

// DefaultOptions returns three attempts of 2000 tokens at temperature 0.9,
// stopping once a partial reply is shorter than 1500 runes.
func DefaultOptions() Options {
	return Options{
		Policy:      control.Policy{MaxAttempts: DefaultMaxAttempts},
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		Separator:   DefaultSeparator,
		Prompts:     prompt.Default(),
		Done:        ShortReply(DefaultThreshold),
	}
}

// Generator is safe for concurrent use; every Generate call owns its
// accumulator.
type Generator struct {
	provider  model.Provider
	assembler prompt.Assembler
	opts      Options
	logger    *zap.Logger
	recorder  db.Recorder
}

func New(provider model.Provider, opts Options, logger *zap.Logger, recorder db.Recorder) (*Generator, error) {
	if provider == nil {
		return nil, errors.New("generate: provider must not be nil")
	}
	if opts.Policy.MaxAttempts <= 0 {
		return nil, fmt.Errorf("generate: max attempts must be positive, got %d", opts.Policy.MaxAttempts)
	}
	if opts.MaxTokens <= 0 {
		return nil, fmt.Errorf("generate: max tokens must be positive, got %d", opts.MaxTokens)
	}
	if opts.Done == nil {
		opts.Done = ShortReply(DefaultThreshold)
	}
	opts.Prompts = opts.Prompts.Merge(prompt.Default())
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = db.Nop{}
	}
	return &Generator{
		provider:  provider,
		assembler: &prompt.StandardAssembler{},
		opts:      opts,
		logger:    logger,
		recorder:  recorder,
	}, nil
}

// Generate runs the continuation loop for userText and returns the trimmed
// concatenation of all partial replies. The first failed call aborts the
// whole reply.
func (g *Generator) Generate(ctx context.Context, userText string) (string, error) {
	if userText == "" {
		return "", ErrEmptyInput
	}
	ctx, span := tracing.Tracer().Start(ctx, "generate")
	defer span.End()

	genID := g.recorder.Record(ctx, db.EventGenerationStarted, map[string]any{
		"model":        g.opts.Model,
		"input_length": utf8.RuneCountInString(userText),
		"max_attempts": g.opts.Policy.MaxAttempts,
	})
	ctx = db.WithParent(ctx, genID)

	var reply strings.Builder
	attempts := 0
	for {
		if err := control.CheckAttemptLimit(g.opts.Policy, attempts); err != nil {
			g.logger.Debug("continuation cap reached", zap.Int("attempts", attempts))
			g.recorder.Record(ctx, db.EventControlLimitReached, map[string]any{"error": err.Error()})
			break
		}
		attempts++

		resp, err := g.attempt(ctx, attempts, userText, &reply)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "completion failed")
			return "", fmt.Errorf("generate attempt %d: %w", attempts, err)
		}
		reply.WriteString(g.opts.Separator)
		reply.WriteString(resp.Content)

		if g.opts.Done(resp) {
			break
		}
	}

	out := strings.TrimSpace(reply.String())
	span.SetAttributes(attribute.Int("attempts", attempts), attribute.Int("reply_length", utf8.RuneCountInString(out)))
	g.recorder.Record(ctx, db.EventGenerationCompleted, map[string]any{
		"attempts":     attempts,
		"reply_length": utf8.RuneCountInString(out),
	})
	return out, nil
}

func (g *Generator) attempt(ctx context.Context, n int, userText string, reply *strings.Builder) (model.CompletionResponse, error) {
	ctx, span := tracing.Tracer().Start(ctx, "generate.attempt")
	defer span.End()
	span.SetAttributes(attribute.Int("attempt", n))

	var sofar *string
	if g.opts.CarryContext && n > 1 {
		s := strings.TrimSpace(reply.String())
		sofar = &s
	}
	resp, err := g.provider.Complete(ctx, model.CompletionRequest{
		Model:       g.opts.Model,
		Messages:    g.opts.Prompts.Turns(g.assembler, n, userText, sofar),
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
		TopP:        g.opts.TopP,
	})
	if err != nil {
		g.logger.Warn("completion failed", zap.Int("attempt", n), zap.Error(err))
		g.recorder.Record(ctx, db.EventAttemptFailed, map[string]any{
			"attempt": n,
			"error":   truncate(err.Error(), 500),
		})
		span.RecordError(err)
		return model.CompletionResponse{}, err
	}

	length := utf8.RuneCountInString(resp.Content)
	g.logger.Info("partial reply",
		zap.Int("attempt", n),
		zap.Int("length", length),
		zap.String("finish_reason", resp.FinishReason),
	)
	g.recorder.Record(ctx, db.EventAttemptCompleted, map[string]any{
		"attempt":       n,
		"length":        length,
		"finish_reason": resp.FinishReason,
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
	})
	span.SetAttributes(attribute.Int("length", length))
	return resp, nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
