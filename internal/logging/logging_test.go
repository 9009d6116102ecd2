package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture() (*bytes.Buffer, context.Context) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return &buf, WithLogger(context.Background(), logger)
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req_abc")
	assert.Equal(t, "req_abc", RequestID(ctx))
	assert.Empty(t, RequestID(context.Background()))
}

func TestL_AnnotatesRequestID(t *testing.T) {
	buf, ctx := capture()
	ctx = WithRequestID(ctx, "req_abc")

	L(ctx).Info("hello")
	assert.Contains(t, buf.String(), `"request_id":"req_abc"`)
}

func TestHTTPRequest_LevelsByStatus(t *testing.T) {
	buf, ctx := capture()

	HTTPRequest(ctx, "GET", "/v1/gigs", 200, 12*time.Millisecond, "10.0.0.1")
	line := buf.String()
	require.Contains(t, line, `"level":"INFO"`)
	assert.Contains(t, line, `"status":200`)
	assert.Contains(t, line, `"latency_ms":12`)
	assert.NotContains(t, line, "client_ip")

	buf.Reset()
	HTTPRequest(ctx, "POST", "/v1/gigs", 422, time.Millisecond, "10.0.0.1")
	assert.Contains(t, buf.String(), `"level":"WARN"`)

	buf.Reset()
	HTTPRequest(ctx, "POST", "/v1/payments/webhook", 503, time.Millisecond, "10.0.0.1")
	line = buf.String()
	assert.Contains(t, line, `"level":"ERROR"`)
	assert.Contains(t, line, `"client_ip":"10.0.0.1"`)
}
