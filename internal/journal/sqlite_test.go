package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"mt5-llm-trader/internal/telemetry"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telemetry", "trades.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()
	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var name string
	require.NoError(t, db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='trades'`).Scan(&name))
	assert.Equal(t, "trades", name)
}

func TestSQLiteUpsertAndList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j, _ := newTestSQLite(t)

	first := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	a := telemetry.TradeMetrics{ID: "A", EntryTime: first, Symbol: "EURUSD", Action: "BUY", Ticket: 11, Magic: 5, ExitReason: telemetry.ExitOpen}
	b := telemetry.TradeMetrics{ID: "B", EntryTime: first.Add(time.Hour), Symbol: "GBPUSD", Action: "SELL", Ticket: 12, Magic: 5, ExitReason: telemetry.ExitOpen}
	require.NoError(t, j.Append(ctx, b))
	require.NoError(t, j.Append(ctx, a))

	exit := 1.0875
	a.ExitPrice = &exit
	a.ProfitLoss = 12.5
	a.ExitReason = "tp"
	require.NoError(t, j.Update(ctx, a))

	got, err := j.Get(ctx, "A")
	require.NoError(t, err)
	assert.True(t, got.Closed())
	assert.Equal(t, "tp", got.ExitReason)
	assert.True(t, got.EntryTime.Equal(first))

	all, err := j.List(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "A", all[0].ID)
	assert.Equal(t, "B", all[1].ID)

	recent, err := j.List(ctx, first.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "B", recent[0].ID)
}

func TestSQLiteNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j, _ := newTestSQLite(t)

	_, err := j.Get(ctx, "nope")
	assert.ErrorIs(t, err, telemetry.ErrTradeNotFound)
	assert.ErrorIs(t, j.Update(ctx, telemetry.TradeMetrics{ID: "nope"}), telemetry.ErrTradeNotFound)
}

func TestSQLiteBacksTelemetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	j, _ := newTestSQLite(t)
	now := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	tel, err := telemetry.New(j, filepath.Join(t.TempDir(), "reports"), telemetry.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	id, err := tel.LogEntry(ctx, telemetry.Entry{Symbol: "EURUSD", Action: "BUY", Price: 1.085, Ticket: 77, RiskAmount: 5})
	require.NoError(t, err)
	m, err := tel.OpenByTicket(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, id, m.ID)

	_, err = tel.LogExit(ctx, id, 1.086, 5, "tp", 3)
	require.NoError(t, err)
	trades, err := tel.LoadTrades(ctx, 7, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.InDelta(t, 1.0, trades[0].ResultR, 1e-9)
}
