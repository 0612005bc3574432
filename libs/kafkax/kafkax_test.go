package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestExtractEventMetaFallbacks(t *testing.T) {
	meta := ExtractEventMeta(kafka.Message{Topic: "task_posted", Key: []byte("42")})
	assert.Equal(t, "42", meta.EventID)
	assert.Equal(t, "task_posted", meta.EventType)
	assert.Equal(t, "42", meta.Key)

	meta = ExtractEventMeta(kafka.Message{
		Topic: "task_posted",
		Key:   []byte("42"),
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte("evt-1")},
			{Key: HeaderEventType, Value: []byte("freelancer_assigned")},
		},
	})
	assert.Equal(t, "evt-1", meta.EventID)
	assert.Equal(t, "freelancer_assigned", meta.EventType)
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"kafka:9092", "kafka-2:9092"}, SplitBrokers(" kafka:9092, ,kafka-2:9092"))
	assert.Empty(t, SplitBrokers(""))
}

func TestTraceHeadersRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, []kafka.Header{{Key: HeaderEventID, Value: []byte("evt-1")}})
	require.NotEmpty(t, HeaderValue(headers, "traceparent"))
	assert.Equal(t, "evt-1", HeaderValue(headers, HeaderEventID))

	got := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), kafka.Message{Headers: headers}))
	assert.Equal(t, traceID, got.TraceID())
	assert.Equal(t, spanID, got.SpanID())
}
