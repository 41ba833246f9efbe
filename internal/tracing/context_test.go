package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	ctx = WithTraceID(ctx, "trace-123")
	assert.Equal(t, "trace-123", GetTraceID(ctx))
}

func TestSessionIDRoundTrip(t *testing.T) {
	ctx := WithSessionID(context.Background(), "session-abc")
	assert.Equal(t, "session-abc", GetSessionID(ctx))
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background())
	require.NotEmpty(t, GetTraceID(ctx))

	other := NewRequestContext(context.Background())
	assert.NotEqual(t, GetTraceID(ctx), GetTraceID(other))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithSessionID(WithTraceID(context.Background(), "t1"), "s1")
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"trace_id":"t1"`)
	assert.Contains(t, out, `"session_id":"s1"`)
}
