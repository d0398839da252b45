package guardrails

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time           { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newGuardrails(t *testing.T, c *clock) (*Guardrails, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "daily_guardrails.json")
	cfg := DefaultConfig()
	cfg.StatePath = path
	g, err := New(context.Background(), cfg, WithClock(c.now))
	require.NoError(t, err)
	return g, path
}

func TestDrawdownStopsTheDay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)}
	g, path := newGuardrails(t, c)

	ok, _ := g.CanTrade(ctx, 10000)
	require.True(t, ok)
	assert.Equal(t, 10000.0, g.StartingEquity())

	ok, reason := g.CanTrade(ctx, 9850)
	assert.False(t, ok)
	assert.Contains(t, reason, "drawdown")

	ok, reason = g.CanTrade(ctx, 10100)
	assert.False(t, ok, "a stopped day stays stopped")
	assert.Contains(t, reason, "stopped for day")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var st State
	require.NoError(t, json.Unmarshal(b, &st))
	assert.True(t, st.DailyStopped)
	assert.Equal(t, "2025-06-03", st.Date)
}

func TestTradeLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)}
	g, _ := newGuardrails(t, c)

	for i := 0; i < 6; i++ {
		ok, _ := g.CanTrade(ctx, 10000)
		require.True(t, ok, "trade %d", i)
		g.RecordEntry(ctx, "EURUSD", "BUY", 0.01, 1.08)
		g.RecordResult(ctx, "EURUSD", 5)
	}
	ok, reason := g.CanTrade(ctx, 10000)
	assert.False(t, ok)
	assert.Contains(t, reason, "trade limit")

	s := g.Stats(10030)
	assert.Equal(t, 6, s.Wins)
	assert.Equal(t, 0, s.Remaining)
	assert.True(t, s.DailyStopped)
}

func TestCooldownAndConsecutiveLosses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)}
	g, _ := newGuardrails(t, c)

	g.RecordEntry(ctx, "EURUSD", "BUY", 0.01, 1.08)
	g.RecordResult(ctx, "EURUSD", -2)
	ok, _ := g.CanTrade(ctx, 10000)
	assert.True(t, ok, "one loss has no cooldown")

	g.RecordEntry(ctx, "EURUSD", "SELL", 0.01, 1.08)
	g.RecordResult(ctx, "EURUSD", -2)
	ok, reason := g.CanTrade(ctx, 10000)
	assert.False(t, ok)
	assert.Contains(t, reason, "cooldown")

	c.advance(61 * time.Minute)
	ok, _ = g.CanTrade(ctx, 10000)
	assert.True(t, ok, "cooldown does not stop the day")

	g.RecordEntry(ctx, "EURUSD", "SELL", 0.01, 1.08)
	g.RecordResult(ctx, "EURUSD", -2)
	ok, reason = g.CanTrade(ctx, 10000)
	assert.False(t, ok)
	assert.Contains(t, reason, "consecutive losses")

	s := g.Stats(9994)
	assert.Equal(t, 3, s.Losses)
	assert.InDelta(t, 0.06, s.DrawdownPct, 1e-9)
}

func TestStatePersistsAndRollsOver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 6, 3, 23, 0, 0, 0, time.UTC)}
	g, path := newGuardrails(t, c)

	g.RecordEntry(ctx, "GBPUSD", "BUY", 0.02, 1.27)

	cfg := DefaultConfig()
	cfg.StatePath = path
	reloaded, err := New(ctx, cfg, WithClock(c.now))
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Stats(0).TradesToday)

	c.advance(2 * time.Hour)
	ok, _ := reloaded.CanTrade(ctx, 10000)
	assert.True(t, ok)
	s := reloaded.Stats(10000)
	assert.Equal(t, "2025-06-04", s.Date)
	assert.Equal(t, 0, s.TradesToday)
}

func TestForceReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := &clock{t: time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)}
	g, _ := newGuardrails(t, c)

	g.CanTrade(ctx, 10000)
	g.CanTrade(ctx, 9000)
	g.ForceReset(ctx, 9000)

	ok, _ := g.CanTrade(ctx, 9000)
	assert.True(t, ok)
	assert.Equal(t, 9000.0, g.StartingEquity())
}

func TestCorruptStateStartsFresh(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "g.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	cfg := DefaultConfig()
	cfg.StatePath = path
	g, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, g.Stats(0).TradesToday)
}
