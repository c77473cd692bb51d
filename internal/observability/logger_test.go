package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func withLog(t *testing.T, l *zap.Logger) {
	t.Helper()
	prev := Log
	Log = l
	t.Cleanup(func() { Log = prev })
}

func TestGetLogger_NilIsNop(t *testing.T) {
	withLog(t, nil)
	l := GetLogger(context.Background())
	require.NotNil(t, l)
	l.Info("dropped")
	assert.Nil(t, Log)
}

func TestGetLogger_AddsTraceIDs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	withLog(t, zap.New(core))

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	GetLogger(ctx).Info("traced")
	GetLogger(context.Background()).Info("plain")

	entries := logs.All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, sc.TraceID().String(), fields["trace_id"])
	assert.Equal(t, sc.SpanID().String(), fields["span_id"])
	assert.NotContains(t, entries[1].ContextMap(), "trace_id")
}

func TestInitLogger_TagsService(t *testing.T) {
	withLog(t, nil)
	InitLogger("taskchat-server")
	require.NotNil(t, Log)

	withLog(t, nil)
	InitConsoleLogger("taskchat-cli", zapcore.DebugLevel)
	require.NotNil(t, Log)
	assert.True(t, Log.Core().Enabled(zapcore.DebugLevel))
}
