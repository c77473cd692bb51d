package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/taskboard/taskchat/internal/domain"
)

func TestRecordCarrier_InjectsTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	rec := &kgo.Record{}
	otel.GetTextMapPropagator().Inject(ctx, kgoRecordCarrier{record: rec})

	c := kgoRecordCarrier{record: rec}
	assert.Contains(t, c.Get("traceparent"), "4bf92f3577b34da6a3ce929d0e0e4736")
	assert.Contains(t, c.Keys(), "traceparent")
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.MessageCreated(context.Background(), "T1", domain.Message{ID: "1"}))
}
