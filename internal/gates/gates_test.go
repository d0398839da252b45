package gates

import (
	"context"
	"testing"
	"time"

	"mt5-llm-trader/internal/types"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2025, 6, 3, 12, 7, 0, 0, time.UTC)

func goodSnapshot() types.MarketSnapshot {
	return types.MarketSnapshot{
		Symbol:    "EURUSD",
		Timeframe: types.M5,
		Price:     1.0850,
		Latest:    types.Candle{Ts: now.Add(-2 * time.Minute).Unix()},
		Tick:      types.Tick{Bid: 1.0850, Ask: 1.08505},
		Info:      types.SymbolInfo{Digits: 5, Point: 0.00001},
		Indicators: types.Indicators{
			ATR: 0.0010, EMAFast: 1.0852, EMASlow: 1.0848,
			BBUpper: 1.0870, BBMiddle: 1.0850, BBLower: 1.0830,
		},
		Confirm: &types.TrendConfirmation{Timeframe: types.M15, Trend: "bullish"},
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		action  string
		mutate  func(*types.MarketSnapshot)
		at      time.Time
		allowed bool
		failed  int
	}{
		{name: "all pass", action: types.ActionBuy, allowed: true},
		{name: "hold skips checks", action: types.ActionHold, at: now.Add(10 * time.Hour), allowed: true},
		{name: "stale bar", action: types.ActionBuy, mutate: func(s *types.MarketSnapshot) {
			s.Latest.Ts = now.Add(-10 * time.Minute).Unix()
		}, failed: 1},
		{name: "flat emas", action: types.ActionBuy, mutate: func(s *types.MarketSnapshot) {
			s.Indicators.EMASlow = 1.08515
		}, failed: 1},
		{name: "missing confirmation", action: types.ActionBuy, mutate: func(s *types.MarketSnapshot) {
			s.Confirm = nil
		}, failed: 1},
		{name: "timeframe conflict", action: types.ActionBuy, mutate: func(s *types.MarketSnapshot) {
			s.Confirm.Trend = "bearish"
		}, failed: 1},
		{name: "buy near upper band", action: types.ActionBuy, mutate: func(s *types.MarketSnapshot) {
			s.Price = 1.0866
		}, failed: 1},
		{name: "sell near lower band", action: types.ActionSell, mutate: func(s *types.MarketSnapshot) {
			s.Price = 1.0833
			s.Indicators.EMAFast, s.Indicators.EMASlow = 1.0846, 1.0850
			s.Confirm.Trend = "bearish"
		}, failed: 1},
		{name: "outside session", action: types.ActionBuy, at: time.Date(2025, 6, 3, 18, 0, 0, 0, time.UTC), mutate: func(s *types.MarketSnapshot) {
			s.Latest.Ts = time.Date(2025, 6, 3, 17, 58, 0, 0, time.UTC).Unix()
		}, failed: 1},
		{name: "wide spread", action: types.ActionBuy, mutate: func(s *types.MarketSnapshot) {
			s.Tick.Ask = 1.0852
		}, failed: 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			snap := goodSnapshot()
			if tt.mutate != nil {
				tt.mutate(&snap)
			}
			at := now
			if !tt.at.IsZero() {
				at = tt.at
			}
			r := New(DefaultConfig()).Evaluate(context.Background(), tt.action, snap, at)
			assert.Equal(t, tt.allowed, r.Allowed, "failed: %v", r.Failed)
			assert.Len(t, r.Failed, tt.failed)
		})
	}
}

func TestHighImpactNewsGate(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.BlockHighImpactNews = true
	snap := goodSnapshot()
	snap.News = &types.NewsContext{HighImpact: true, Headlines: []string{"FOMC rate decision"}}

	r := New(cfg).Evaluate(context.Background(), types.ActionBuy, snap, now)
	assert.False(t, r.Allowed)
	assert.Equal(t, []string{"high impact news pending"}, r.Failed)

	r = New(DefaultConfig()).Evaluate(context.Background(), types.ActionBuy, snap, now)
	assert.True(t, r.Allowed)
}
