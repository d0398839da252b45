package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, cfg LogConfig) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	cfg.Output = &buf
	cfg.Format = "json"
	require.NoError(t, InitWithConfig(cfg))
	t.Cleanup(func() { _ = Shutdown(context.Background()) })
	return &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !strings.HasPrefix(l, "{\"time\"") {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		out = append(out, m)
	}
	return out
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, LogConfig{Level: "WARN"})
	ctx := context.Background()

	Debug(ctx, "debug")
	Info(ctx, "info")
	Warn(ctx, "warn")

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "warn", got[0]["msg"])
}

func TestDecisionRecordCarriesType(t *testing.T) {
	buf := capture(t, LogConfig{Level: "INFO"})

	Decision(context.Background(), "EURUSD", "BUY", 0.7, "ema crossover", "rsi", 41.2)

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "DECISION", got[0]["type"])
	assert.Equal(t, "EURUSD", got[0]["symbol"])
	assert.Equal(t, 41.2, got[0]["rsi"])
}

func TestTraceIDsAttachedInsideSpan(t *testing.T) {
	buf := capture(t, LogConfig{Level: "INFO", TracingEnabled: true})

	ctx, span := StartSpan(context.Background(), "step")
	Management(ctx, "GBPUSD", "breakeven", 42)
	span.End()

	got := lines(t, buf)
	require.NotEmpty(t, got)
	assert.Equal(t, "MANAGE", got[0]["type"])
	assert.NotEmpty(t, got[0]["trace_id"])
	assert.NotEmpty(t, got[0]["span_id"])
}

func TestDetailedLoggingReportsCaller(t *testing.T) {
	buf := capture(t, LogConfig{Level: "DEBUG", DetailedLogging: true})

	ErrorWithErr(context.Background(), "boom", errors.New("bridge down"))

	got := lines(t, buf)
	require.Len(t, got, 1)
	src, ok := got[0]["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, src["file"], "logger_test.go")
	assert.Equal(t, "bridge down", got[0]["error"])
}

func TestOperationTimerEndWithError(t *testing.T) {
	buf := capture(t, LogConfig{Level: "INFO"})

	op := StartOperation(context.Background(), "fetch_rates", "symbol", "USDJPY")
	op.EndWithError(errors.New("timeout"))

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "Operation failed", got[0]["msg"])
	assert.Equal(t, "USDJPY", got[0]["symbol"])
}
