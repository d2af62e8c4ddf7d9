package generate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stupiduntilnot/longrelay/internal/control"
	"github.com/stupiduntilnot/longrelay/internal/db"
	"github.com/stupiduntilnot/longrelay/internal/model"
	"github.com/stupiduntilnot/longrelay/internal/prompt"
	"github.com/stupiduntilnot/longrelay/internal/tracing"
)

type scriptedProvider struct {
	mu        sync.Mutex
	responses []model.CompletionResponse
	errs      []error
	requests  []model.CompletionRequest
}

func (p *scriptedProvider) Complete(_ context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := len(p.requests)
	p.requests = append(p.requests, req)
	if i < len(p.errs) && p.errs[i] != nil {
		return model.CompletionResponse{}, p.errs[i]
	}
	if i >= len(p.responses) {
		return model.CompletionResponse{}, errors.New("no scripted response")
	}
	return p.responses[i], nil
}

type eventLog struct {
	mu    sync.Mutex
	types []string
}

func (e *eventLog) Record(_ context.Context, eventType string, _ map[string]any) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, eventType)
	return int64(len(e.types))
}

func long(n int) model.CompletionResponse {
	return model.CompletionResponse{Content: strings.Repeat("x", n), FinishReason: "length"}
}

func short(s string) model.CompletionResponse {
	return model.CompletionResponse{Content: s, FinishReason: "stop"}
}

func newGenerator(t *testing.T, p model.Provider, mutate func(*Options)) *Generator {
	t.Helper()
	opts := DefaultOptions()
	opts.Model = "test-model"
	if mutate != nil {
		mutate(&opts)
	}
	g, err := New(p, opts, zap.NewNop(), nil)
	require.NoError(t, err)
	return g
}

func TestGenerate_SingleCallWhenFirstReplyIsShort(t *testing.T) {
	p := &scriptedProvider{responses: []model.CompletionResponse{short("  a short answer  ")}}
	g := newGenerator(t, p, nil)

	out, err := g.Generate(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "a short answer", out)
	require.Len(t, p.requests, 1)
}

func TestGenerate_StopsAtAttemptCap(t *testing.T) {
	p := &scriptedProvider{responses: []model.CompletionResponse{long(2000), long(1800), long(1700), long(1600)}}
	g := newGenerator(t, p, nil)

	out, err := g.Generate(context.Background(), "explain everything")
	require.NoError(t, err)
	require.Len(t, p.requests, 3)
	want := strings.Repeat("x", 2000) + "\n\n" + strings.Repeat("x", 1800) + "\n\n" + strings.Repeat("x", 1700)
	require.Equal(t, want, out)
}

func TestGenerate_StopsWhenContinuationIsShort(t *testing.T) {
	p := &scriptedProvider{responses: []model.CompletionResponse{long(1500), short("the end")}}
	g := newGenerator(t, p, nil)

	out, err := g.Generate(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, p.requests, 2)
	require.True(t, strings.HasSuffix(out, "\n\nthe end"))
}

func TestGenerate_FirstCallFailureAbortsImmediately(t *testing.T) {
	boom := errors.New("connection refused")
	p := &scriptedProvider{errs: []error{boom}}
	g := newGenerator(t, p, nil)

	out, err := g.Generate(context.Background(), "q")
	require.ErrorIs(t, err, boom)
	require.Empty(t, out)
	require.Len(t, p.requests, 1)
}

func TestGenerate_LaterFailureDropsPartialReply(t *testing.T) {
	boom := errors.New("502 bad gateway")
	p := &scriptedProvider{
		responses: []model.CompletionResponse{long(2000)},
		errs:      []error{nil, boom},
	}
	g := newGenerator(t, p, nil)

	out, err := g.Generate(context.Background(), "q")
	require.ErrorIs(t, err, boom)
	require.Empty(t, out)
	require.Len(t, p.requests, 2)
}

func TestGenerate_EmptyInput(t *testing.T) {
	p := &scriptedProvider{}
	g := newGenerator(t, p, nil)

	_, err := g.Generate(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptyInput)
	require.Empty(t, p.requests)
}

func TestGenerate_RequestShape(t *testing.T) {
	p := &scriptedProvider{responses: []model.CompletionResponse{long(1500), short("done")}}
	g := newGenerator(t, p, func(o *Options) { o.TopP = 0.95 })

	_, err := g.Generate(context.Background(), "what is a b-tree?")
	require.NoError(t, err)

	defaults := prompt.Default()
	first := p.requests[0]
	require.Equal(t, "test-model", first.Model)
	require.Equal(t, 2000, first.MaxTokens)
	require.InDelta(t, 0.9, first.Temperature, 1e-6)
	require.InDelta(t, 0.95, first.TopP, 1e-6)
	require.Len(t, first.Messages, 2)
	require.Equal(t, model.RoleSystem, first.Messages[0].Role)
	require.Equal(t, defaults.System, first.Messages[0].Content)
	require.Contains(t, first.Messages[1].Content, "what is a b-tree?")
	require.Contains(t, first.Messages[1].Content, defaults.Elaborate)

	second := p.requests[1]
	require.Len(t, second.Messages, 2)
	require.Equal(t, defaults.Continue, second.Messages[1].Content)
}

func TestGenerate_CarryContextSendsReplySoFar(t *testing.T) {
	p := &scriptedProvider{responses: []model.CompletionResponse{long(1500), short("done")}}
	g := newGenerator(t, p, func(o *Options) { o.CarryContext = true })

	_, err := g.Generate(context.Background(), "q")
	require.NoError(t, err)

	second := p.requests[1]
	require.Len(t, second.Messages, 4)
	require.Equal(t, model.RoleAssistant, second.Messages[2].Role)
	require.Equal(t, strings.Repeat("x", 1500), second.Messages[2].Content)
}

func TestGenerate_CustomDonePredicate(t *testing.T) {
	p := &scriptedProvider{responses: []model.CompletionResponse{
		{Content: "tiny", FinishReason: "length"},
		{Content: "also tiny", FinishReason: "stop"},
	}}
	g := newGenerator(t, p, func(o *Options) { o.Done = NotTruncated() })

	out, err := g.Generate(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, p.requests, 2)
	require.Equal(t, "tiny\n\nalso tiny", out)
}

func TestGenerate_RecordsEventsAndLogsLengths(t *testing.T) {
	p := &scriptedProvider{responses: []model.CompletionResponse{long(2000), long(2000), long(2000)}}
	events := &eventLog{}
	core, logs := observer.New(zap.InfoLevel)
	g, err := New(p, DefaultOptions(), zap.New(core), events)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "q")
	require.NoError(t, err)

	require.Equal(t, []string{
		db.EventGenerationStarted,
		db.EventAttemptCompleted,
		db.EventAttemptCompleted,
		db.EventAttemptCompleted,
		db.EventControlLimitReached,
		db.EventGenerationCompleted,
	}, events.types)

	partials := logs.FilterMessage("partial reply").All()
	require.Len(t, partials, 3)
	for i, entry := range partials {
		fields := entry.ContextMap()
		require.EqualValues(t, i+1, fields["attempt"])
		require.EqualValues(t, 2000, fields["length"])
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, DefaultOptions(), nil, nil)
	require.Error(t, err)

	opts := DefaultOptions()
	opts.Policy = control.Policy{}
	_, err = New(&scriptedProvider{}, opts, nil, nil)
	require.Error(t, err)

	opts = DefaultOptions()
	opts.MaxTokens = 0
	_, err = New(&scriptedProvider{}, opts, nil, nil)
	require.Error(t, err)
}

func TestGenerate_ConcurrentCallsDoNotShareState(t *testing.T) {
	p := &echoProvider{}
	g := newGenerator(t, p, nil)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := g.Generate(context.Background(), strings.Repeat("q", i+1))
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()
	for i, out := range results {
		require.Equal(t, strings.Repeat("q", i+1), out)
	}
}

// echoProvider answers with the user's original text, which is always short.
type echoProvider struct{}

func (echoProvider) Complete(_ context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	user := req.Messages[len(req.Messages)-1].Content
	return model.CompletionResponse{Content: strings.SplitN(user, "\n\n", 2)[0]}, nil
}

func TestGenerate_EmitsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := tracing.NewProvider(sdktrace.WithSpanProcessor(recorder), "test")
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})

	p := &scriptedProvider{responses: []model.CompletionResponse{long(1600), short("end")}}
	g := newGenerator(t, p, nil)
	_, err := g.Generate(context.Background(), "q")
	require.NoError(t, err)

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	require.ElementsMatch(t, []string{"generate.attempt", "generate.attempt", "generate"}, names)
}
