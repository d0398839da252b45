package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mt5-llm-trader/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eurusd = types.SymbolInfo{Symbol: "EURUSD", Digits: 5, Point: 0.00001}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTelemetry(t *testing.T, c *clock) (*Telemetry, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewJSONLStore(filepath.Join(dir, "trades", "trade_metrics.jsonl"))
	require.NoError(t, err)
	tel, err := New(store, filepath.Join(dir, "reports"), WithClock(c.now))
	require.NoError(t, err)
	return tel, dir
}

func entry(action string, ticket uint64) Entry {
	return Entry{
		Symbol: "EURUSD", Action: action, Volume: 0.05, Price: 1.0850,
		SL: 1.0830, TP: 1.0890, Ticket: ticket, Magic: 123457, Info: eurusd,
		Tick: types.Tick{Bid: 1.0850, Ask: 1.08506},
		Indicators: types.Indicators{
			EMAFast: 1.0852, EMASlow: 1.0848, RSI: 55,
			BBUpper: 1.0870, BBMiddle: 1.0850, BBLower: 1.0830, ATR: 0.0006,
		},
		RiskAmount: 10, RiskPct: 0.1,
	}
}

func TestSession(t *testing.T) {
	t.Parallel()
	cases := map[int]string{0: "asian", 5: "asian", 6: "london_pre", 10: "london_ny_overlap", 16: "london_ny_overlap", 17: "ny_close", 21: "ny_close", 22: "off_hours", 23: "off_hours"}
	for h, want := range cases {
		assert.Equal(t, want, Session(h), "hour %d", h)
	}
}

func TestEntryExcursionAndExit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 6, 3, 11, 0, 0, 0, time.UTC)}
	tel, _ := newTelemetry(t, c)

	id, err := tel.LogEntry(ctx, entry(types.ActionBuy, 42))
	require.NoError(t, err)
	require.Len(t, id, 26)

	m, err := tel.OpenByTicket(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "london_ny_overlap", m.Session)
	assert.InDelta(t, 0.6, m.SpreadPips, 1e-9)
	assert.InDelta(t, 50.0, m.BBPositionPct, 1e-9)
	assert.InDelta(t, 0.0004, m.EMASeparation, 1e-9)
	assert.False(t, m.Closed())

	require.NoError(t, tel.TrackExcursion(ctx, 42, 1.0862))
	require.NoError(t, tel.TrackExcursion(ctx, 42, 1.0841))
	require.NoError(t, tel.TrackExcursion(ctx, 42, 1.0855))

	c.t = c.t.Add(40 * time.Minute)
	closed, err := tel.LogExit(ctx, id, 1.0870, 10, "tp", 8)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, closed.ProfitPips, 1e-9)
	assert.InDelta(t, 1.0, closed.ResultR, 1e-9)
	assert.InDelta(t, 12.0, closed.MFEPips, 1e-9)
	assert.InDelta(t, 9.0, closed.MAEPips, 1e-9)
	assert.True(t, closed.Closed())

	_, err = tel.OpenByTicket(ctx, 42)
	assert.ErrorIs(t, err, ErrTradeNotFound)
}

func TestSellExitSignsPipsAndR(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 6, 3, 18, 0, 0, 0, time.UTC)}
	tel, _ := newTelemetry(t, c)

	id, err := tel.LogEntry(ctx, entry(types.ActionSell, 7))
	require.NoError(t, err)
	m, err := tel.LogExit(ctx, id, 1.0865, -7.5, "sl", 3)
	require.NoError(t, err)
	assert.InDelta(t, -15.0, m.ProfitPips, 1e-9)
	assert.InDelta(t, -0.75, m.ResultR, 1e-9)
	assert.Equal(t, "ny_close", m.Session)

	_, err = tel.LogExit(ctx, "missing", 1, 1, "tp", 0)
	assert.ErrorIs(t, err, ErrTradeNotFound)
}

func TestLoadTradesOnlyCompletedAndRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)}
	tel, _ := newTelemetry(t, c)

	old, err := tel.LogEntry(ctx, entry(types.ActionBuy, 1))
	require.NoError(t, err)
	_, err = tel.LogExit(ctx, old, 1.0860, 5, "tp", 2)
	require.NoError(t, err)

	c.t = time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	recent, err := tel.LogEntry(ctx, entry(types.ActionBuy, 2))
	require.NoError(t, err)
	_, err = tel.LogExit(ctx, recent, 1.0860, 5, "tp", 2)
	require.NoError(t, err)
	_, err = tel.LogEntry(ctx, entry(types.ActionBuy, 3))
	require.NoError(t, err)

	trades, err := tel.LoadTrades(ctx, 7, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, recent, trades[0].ID)

	trades, err = tel.LoadTrades(ctx, 30, 999)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestComputeStats(t *testing.T) {
	t.Parallel()
	trades := []TradeMetrics{
		{ProfitLoss: 20, ProfitPips: 20, ResultR: 2},
		{ProfitLoss: 10, ProfitPips: 10, ResultR: 1},
		{ProfitLoss: -10, ProfitPips: -10, ResultR: -1},
		{ProfitLoss: -10, ProfitPips: -10, ResultR: -1},
		{ProfitLoss: 0, ProfitPips: 0, ResultR: 0},
		{ProfitLoss: 15, ProfitPips: 15, ResultR: 1.5},
	}
	s := ComputeStats(trades)
	assert.Equal(t, 6, s.TotalTrades)
	assert.Equal(t, 3, s.WinningTrades)
	assert.Equal(t, 3, s.LosingTrades)
	assert.InDelta(t, 50.0, s.WinRate, 1e-9)
	assert.InDelta(t, 15.0, s.AvgWinPips, 1e-9)
	assert.InDelta(t, 2.5/6, s.ExpectancyR, 1e-9)
	assert.InDelta(t, 2.25, s.ProfitFactor, 1e-9)
	assert.Equal(t, 2, s.MaxConsecutiveWins)
	assert.Equal(t, 3, s.MaxConsecutiveLosses)
	assert.Equal(t, 2.0, s.BestTradeR)
	assert.Equal(t, -1.0, s.WorstTradeR)

	noLoss := ComputeStats([]TradeMetrics{{ProfitLoss: 12, ResultR: 1}})
	assert.InDelta(t, 12.0, noLoss.ProfitFactor, 1e-9)

	assert.Equal(t, Stats{}, ComputeStats(nil))
}

func TestWeeklyReportWritten(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 6, 3, 17, 0, 0, 0, time.UTC)}
	tel, dir := newTelemetry(t, c)

	id, err := tel.LogEntry(ctx, entry(types.ActionBuy, 5))
	require.NoError(t, err)
	_, err = tel.LogExit(ctx, id, 1.0870, 10, "tp", 4)
	require.NoError(t, err)

	report, err := tel.WeeklyReport(ctx, 123457)
	require.NoError(t, err)
	assert.Contains(t, report, "Total Trades: 1")
	assert.Contains(t, report, "Magic Number: 123457")
	assert.Contains(t, report, "RECENT TRADES")

	b, err := os.ReadFile(filepath.Join(dir, "reports", "weekly_report_20250603.txt"))
	require.NoError(t, err)
	assert.Equal(t, report, string(b))
}

func TestPartialExitUsesAverageFill(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)}
	tel, _ := newTelemetry(t, c)

	id, err := tel.LogEntry(ctx, entry(types.ActionBuy, 9))
	require.NoError(t, err)

	// half at +10 pips, half at +30 pips
	avg := AverageFill([]Fill{{Price: 1.0860, Volume: 0.02}, {Price: 1.0880, Volume: 0.02}})
	assert.InDelta(t, 1.0870, avg, 1e-9)

	m, err := tel.LogExit(ctx, id, avg, 8, "take_profit", 6)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, m.ProfitPips, 1e-9)
	assert.InDelta(t, 1.0870, *m.ExitPrice, 1e-9)
}

func TestAverageFillWeightsByVolume(t *testing.T) {
	assert.InDelta(t, 1.0865, AverageFill([]Fill{{Price: 1.0860, Volume: 0.03}, {Price: 1.0880, Volume: 0.01}}), 1e-9)
	assert.InDelta(t, 1.2, AverageFill([]Fill{{Price: 1.1}, {Price: 1.2}}), 1e-9)
	assert.Zero(t, AverageFill(nil))
}
