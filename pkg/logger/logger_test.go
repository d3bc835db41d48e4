package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewWithWriter_AddsService(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("stockledger", "info", &buf)
	l.Debug("hidden")
	l.Info("visible")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "stockledger", entry["service"])
	assert.Equal(t, "visible", entry["msg"])
	assert.NotContains(t, entry, "source")
}

func TestEnrich_AddsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter("stockledger", "info", &buf)

	ctx := WithCorrelationID(context.Background(), "corr-1")
	ctx = WithUserID(ctx, "user-1")
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{0x0a},
		SpanID:  trace.SpanID{0x0b},
	}))
	Enrich(ctx, base).Info("hello")

	assert.Contains(t, buf.String(), `"correlation_id":"corr-1"`)
	assert.Contains(t, buf.String(), `"user_id":"user-1"`)
	assert.Contains(t, buf.String(), `"trace_id":"0a000000000000000000000000000000"`)
}

func TestEnrich_NothingToAdd(t *testing.T) {
	base := NewWithWriter("stockledger", "info", &bytes.Buffer{})
	assert.Same(t, base, Enrich(context.Background(), base))
}

func TestFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background(), nil))

	fallback := NewWithWriter("fallback", "info", &bytes.Buffer{})
	assert.Same(t, fallback, FromContext(context.Background(), fallback))

	l := NewWithWriter("x", "info", &bytes.Buffer{})
	assert.Same(t, l, FromContext(NewContext(context.Background(), l), fallback))
}
