package eod

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mt5-llm-trader/internal/tradelog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTrades(t *testing.T, dir string, day time.Time, entries ...tradelog.Entry) {
	t.Helper()
	var b strings.Builder
	for _, e := range entries {
		line, err := json.Marshal(e)
		require.NoError(t, err)
		fmt.Fprintln(&b, string(line))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, day.Format("2006-01-02")+".txt"), []byte(b.String()), 0o644))
}

func TestSummarizeDay(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)
	day := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)

	writeTrades(t, dir, day,
		tradelog.Entry{Event: tradelog.EventOpen, Symbol: "EURUSD", Side: "BUY", Volume: 0.02},
		tradelog.Entry{Event: tradelog.EventOpen, Symbol: "EURUSD", Side: "SELL", Volume: 0.01},
		tradelog.Entry{Event: tradelog.EventClose, Symbol: "EURUSD", Side: "BUY", Volume: 0.02, Profit: 12.5},
		tradelog.Entry{Event: tradelog.EventClose, Symbol: "EURUSD", Side: "SELL", Volume: 0.01, Profit: -4},
		tradelog.Entry{Event: tradelog.EventOpen, Symbol: "GBPUSD", Side: "BUY", Volume: 0.03},
	)

	s, err := newSummarizer("21:05", time.Now)
	require.NoError(t, err)
	path, err := s.SummarizeDay(ctx, day.Add(13 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "eod", "2025-06-03.csv"), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "symbol,entries,buy_lots,sell_lots,closes,wins,losses,realized_pnl", lines[0])
	assert.Equal(t, "EURUSD,2,0.02,0.01,2,1,1,8.50", lines[1])
	assert.Equal(t, "GBPUSD,1,0.03,0.00,0,0,0,0.00", lines[2])
	assert.Equal(t, "TOTAL,3,0.05,0.01,2,1,1,8.50", lines[3])
}

func TestSummarizeDayWithoutTrades(t *testing.T) {
	ctx := context.Background()
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	s, err := newSummarizer("", time.Now)
	require.NoError(t, err)
	path, err := s.SummarizeDay(ctx, time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestShouldRunNow(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)

	at := time.Date(2025, 6, 3, 21, 0, 0, 0, time.UTC)
	s, err := newSummarizer("21:05", func() time.Time { return at })
	require.NoError(t, err)

	run, _ := s.ShouldRunNow(ctx)
	assert.False(t, run, "before cutoff")

	at = at.Add(10 * time.Minute)
	run, path := s.ShouldRunNow(ctx)
	assert.True(t, run)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	run, _ = s.ShouldRunNow(ctx)
	assert.False(t, run, "already written")
}

func TestParseCutoff(t *testing.T) {
	_, err := NewSummarizer("25:99")
	assert.Error(t, err)

	h, m, err := parseCutoff("")
	require.NoError(t, err)
	assert.Equal(t, 21, h)
	assert.Equal(t, 5, m)
}
