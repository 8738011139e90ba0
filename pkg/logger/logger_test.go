package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// captureLog 把全局 Log 换成写 buffer 的 core
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	buffer := &bytes.Buffer{}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "msg"

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(buffer),
		zap.DebugLevel,
	)
	prev := Log
	Log = zap.New(core)
	t.Cleanup(func() { Log = prev })
	return buffer
}

func decode(t *testing.T, buffer *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &logEntry), "日志输出必须是合法的 JSON")
	return logEntry
}

func TestLogger_Info_WithConnAndTraceID(t *testing.T) {
	buffer := captureLog(t)

	ctx := context.WithValue(context.Background(), TraceIdKey, "test-trace-12345")
	ctx = WithConnID(ctx, "conn-1")

	Info(ctx, "feed connected", zap.String("market", "stocks"), zap.Int("subs", 3))

	logEntry := decode(t, buffer)
	assert.Equal(t, "info", logEntry["level"])
	assert.Equal(t, "feed connected", logEntry["msg"])
	assert.Equal(t, "stocks", logEntry["market"])
	assert.Equal(t, float64(3), logEntry["subs"])
	assert.Equal(t, "test-trace-12345", logEntry["trace_id"])
	assert.Equal(t, "conn-1", logEntry["conn_id"])
	assert.Equal(t, "conn-1", ConnIDFrom(ctx))
}

func TestLogger_Warn_TraceFromSpanContext(t *testing.T) {
	buffer := captureLog(t)

	tid, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	sid, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	Warn(ctx, "slow consumer")

	logEntry := decode(t, buffer)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", logEntry["trace_id"])
}

func TestLogger_Error_NoTraceID(t *testing.T) {
	buffer := captureLog(t)

	Error(context.Background(), "dial failed", zap.String("url", "wss://example"))

	logEntry := decode(t, buffer)
	_, exists := logEntry["trace_id"]
	assert.False(t, exists, "没有 TraceID 的 Context 不应该输出 trace_id 字段")
	_, exists = logEntry["conn_id"]
	assert.False(t, exists)
	assert.Equal(t, "error", logEntry["level"])
}

func TestSetLevel(t *testing.T) {
	SetLevel("warn")
	assert.Equal(t, zapcore.WarnLevel, Level())

	SetLevel("not-a-level")
	assert.Equal(t, zapcore.WarnLevel, Level())

	SetLevel("info")
	assert.Equal(t, zapcore.InfoLevel, Level())
}
