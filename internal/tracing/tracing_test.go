package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), "", "test")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestNewProvider_RecordsServiceName(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := NewProvider(sdktrace.WithSpanProcessor(recorder), "v1")
	defer func() { _ = provider.Shutdown(context.Background()) }()

	_, span := provider.Tracer(Name).Start(context.Background(), "generate")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "generate", spans[0].Name())

	var service string
	for _, kv := range spans[0].Resource().Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	require.Equal(t, Name, service)
}
