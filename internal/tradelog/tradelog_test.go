package tradelog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mt5-llm-trader/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, at time.Time) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)
	prev := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = prev })
	return dir
}

func TestAppendWritesUTCDailyFiles(t *testing.T) {
	// 23:30 in New York is already the next UTC day.
	ny := time.FixedZone("EDT", -4*3600)
	at := time.Date(2025, 6, 3, 23, 30, 0, 0, ny)
	dir := setup(t, at)

	require.NoError(t, Append(Entry{Symbol: "EURUSD", Side: "BUY", Volume: 0.02, Price: 1.085, Ticket: 9}))
	require.NoError(t, AppendDecision(DecisionEntry{Symbol: "EURUSD", Action: "HOLD", Reason: "flat", Rejected: true, Raw: "??"}))
	require.NoError(t, AppendIndicators(IndicatorEntry{Symbol: "EURUSD", Timeframe: "M5", Indicators: map[string]float64{"RSI": 51}}))
	require.NoError(t, AppendManage(ManageEntry{Symbol: "EURUSD", Ticket: 9, Action: "TRAIL", SL: 1.084}))

	for _, p := range []string{
		filepath.Join(dir, "2025-06-04.txt"),
		filepath.Join(dir, "decisions", "2025-06-04.txt"),
		filepath.Join(dir, "indicators", "2025-06-04.txt"),
		filepath.Join(dir, "manage", "2025-06-04.txt"),
	} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}

	trades, err := ReadTrades(at)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, EventOpen, trades[0].Event)
	assert.Equal(t, "2025-06-04 03:30:00", trades[0].Time)
}

func TestRecentAcrossDaysAndGzip(t *testing.T) {
	day1 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	dir := setup(t, day1)
	for i := 0; i < 3; i++ {
		require.NoError(t, AppendDecision(DecisionEntry{Symbol: "EURUSD", Action: "HOLD"}))
	}
	require.NoError(t, os.Chtimes(filepath.Join(dir, "decisions", "2025-06-01.txt"), day1, day1))

	day3 := day1.AddDate(0, 0, 2)
	now = func() time.Time { return day3 }
	require.NoError(t, AppendDecision(DecisionEntry{Symbol: "GBPUSD", Action: "BUY"}))

	require.NoError(t, CompressOlder(1))
	_, err := os.Stat(filepath.Join(dir, "decisions", "2025-06-01.txt.gz"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "decisions", "2025-06-01.txt"))
	assert.True(t, os.IsNotExist(err))

	recs, err := Recent(KindDecisions, 3, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 4)

	recs, err = Recent(KindDecisions, 3, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	var last DecisionEntry
	require.NoError(t, json.Unmarshal(recs[1], &last))
	assert.Equal(t, "GBPUSD", last.Symbol)
}

func TestMarketDataAndStorageStats(t *testing.T) {
	at := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	dir := setup(t, at)

	candles := []types.Candle{
		{Ts: at.Add(-5 * time.Minute).Unix(), Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15},
		{Ts: at.Unix(), Open: 1.15, High: 1.16, Low: 1.14, Close: 1.155},
	}
	require.NoError(t, SaveMarketData("EURUSD", types.M5, candles))
	b, err := os.ReadFile(filepath.Join(dir, "market", "EURUSD_2025-06-03.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "time,timeframe,open,high,low,close,volume")
	assert.Contains(t, string(b), "2025-06-03T12:00:00Z,M5,1.15,1.16,1.14,1.155,0")

	require.NoError(t, Append(Entry{Symbol: "EURUSD"}))
	stats, err := StorageStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats["market"].Files)
	assert.Equal(t, 1, stats["."].Files)
	assert.Equal(t, []string{".", "market"}, SortedKeys(stats))
}

func TestStorageStatsMissingDir(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", filepath.Join(t.TempDir(), "absent"))
	stats, err := StorageStats()
	require.NoError(t, err)
	assert.Empty(t, stats)
}
