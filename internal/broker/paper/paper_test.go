package paper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mt5-llm-trader/internal/broker/mt5"
	"mt5-llm-trader/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuotes struct {
	mu   sync.Mutex
	bid  float64
	info types.SymbolInfo
}

func (f *fakeQuotes) set(bid float64) {
	f.mu.Lock()
	f.bid = bid
	f.mu.Unlock()
}

func (f *fakeQuotes) SymbolInfo(context.Context, string) (types.SymbolInfo, error) {
	return f.info, nil
}

func (f *fakeQuotes) Tick(_ context.Context, symbol string) (types.Tick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return types.Tick{Symbol: symbol, Bid: f.bid, Ask: f.bid + 0.0001}, nil
}

func (f *fakeQuotes) Rates(context.Context, string, types.Timeframe, int) ([]types.Candle, error) {
	return nil, nil
}

func newPaper(t *testing.T) (*Broker, *fakeQuotes) {
	t.Helper()
	q := &fakeQuotes{bid: 1.1000, info: types.SymbolInfo{
		Symbol: "EURUSD", Digits: 5, Point: 0.00001, ContractSize: 100000,
		TickValue: 1, TickSize: 0.00001, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01,
	}}
	clock := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	return New(q, 10000, "USD", WithClock(func() time.Time { return clock })), q
}

func TestPlaceOrderFillsAtAskAndTakesProfit(t *testing.T) {
	ctx := context.Background()
	b, q := newPaper(t)

	resp, err := b.PlaceOrder(ctx, types.OrderReq{
		Symbol: "EURUSD", Side: types.SideBuy, Volume: 0.10, SL: 1.0950, TP: 1.1050, Magic: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, "FILLED", resp.Status)
	assert.Equal(t, mt5.RetcodeDone, resp.Retcode)
	assert.InDelta(t, 1.1001, resp.Price, 1e-9)
	assert.Len(t, resp.OrderID, 26)

	q.set(1.1030)
	positions, err := b.Positions(ctx, "EURUSD", 7)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 29.0, positions[0].Profit, 0.01)

	acct, err := b.Account(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10029.0, acct.Equity, 0.01)
	assert.InDelta(t, 10000.0, acct.Balance, 0.01)

	q.set(1.1055)
	positions, err = b.Positions(ctx, "EURUSD", 7)
	require.NoError(t, err)
	assert.Empty(t, positions)

	deals, err := b.Deals(ctx, time.Time{}, time.Now().Add(time.Hour*24*365*10), 7)
	require.NoError(t, err)
	require.Len(t, deals, 2)
	out := deals[1]
	assert.Equal(t, types.DealOut, out.Entry)
	assert.Equal(t, resp.Ticket, out.PositionTicket)
	assert.InDelta(t, 1.1050, out.Price, 1e-9)
	assert.InDelta(t, 49.0, out.Profit, 0.01)

	acct, err = b.Account(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10049.0, acct.Balance, 0.01)
}

func TestSellStopLossHit(t *testing.T) {
	ctx := context.Background()
	b, q := newPaper(t)

	resp, err := b.PlaceOrder(ctx, types.OrderReq{Symbol: "EURUSD", Side: types.SideSell, Volume: 1, SL: 1.1020, TP: 1.0900})
	require.NoError(t, err)
	assert.InDelta(t, 1.1000, resp.Price, 1e-9)

	q.set(1.1025)
	_, err = b.Tick(ctx, "EURUSD")
	require.NoError(t, err)

	positions, err := b.Positions(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, positions)

	acct, err := b.Account(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 9800.0, acct.Balance, 0.01)
}

func TestInvalidStopsRejected(t *testing.T) {
	ctx := context.Background()
	b, _ := newPaper(t)

	resp, err := b.PlaceOrder(ctx, types.OrderReq{Symbol: "EURUSD", Side: types.SideBuy, Volume: 0.1, SL: 1.1010, TP: 1.1050})
	require.Error(t, err)
	assert.Equal(t, "REJECTED", resp.Status)
	var te *mt5.TradeError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, retcodeInvalidStops, te.Retcode)

	_, err = b.PlaceOrder(ctx, types.OrderReq{Symbol: "EURUSD", Side: types.SideBuy, Volume: 0.001})
	require.Error(t, err)
}

func TestModifyAndPartialClose(t *testing.T) {
	ctx := context.Background()
	b, q := newPaper(t)

	resp, err := b.PlaceOrder(ctx, types.OrderReq{Symbol: "EURUSD", Side: types.SideBuy, Volume: 0.2, SL: 1.0950, TP: 1.1100})
	require.NoError(t, err)

	q.set(1.1040)
	require.NoError(t, b.ModifyPosition(ctx, resp.Ticket, 1.1001, 1.1100))
	require.Error(t, b.ModifyPosition(ctx, resp.Ticket, 1.1045, 1.1100))
	require.Error(t, b.ModifyPosition(ctx, 1, 1.0, 1.2))

	closed, err := b.ClosePosition(ctx, resp.Ticket, 0.1, "partial")
	require.NoError(t, err)
	assert.InDelta(t, 0.1, closed.Volume, 1e-9)

	positions, err := b.Positions(ctx, "EURUSD", 0)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 0.1, positions[0].Volume, 1e-9)
	assert.InDelta(t, 1.1001, positions[0].SL, 1e-9)

	_, err = b.ClosePosition(ctx, resp.Ticket, 0, "close")
	require.NoError(t, err)
	positions, err = b.Positions(ctx, "EURUSD", 0)
	require.NoError(t, err)
	assert.Empty(t, positions)

	acct, err := b.Account(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10000+39*0.2*10, acct.Balance, 0.01)
}
