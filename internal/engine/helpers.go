package engine

import (
	"context"
	"fmt"
	"math"

	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/ta"
	"mt5-llm-trader/internal/types"
)

// snapshot gathers bars, the confirmation trend, the tick, symbol info,
// indicators and news for one decision.
func (e *Engine) snapshot(ctx context.Context, symbol string) (types.MarketSnapshot, []types.Candle, error) {
	candles, err := e.brk.Rates(ctx, symbol, e.tf, e.cfg.Bars)
	if err != nil {
		return types.MarketSnapshot{}, nil, fmt.Errorf("rates: %w", err)
	}
	logger.Debug(ctx, "Candles fetched successfully", "symbol", symbol, "count", len(candles))

	ind, err := ta.Compute(candles, e.params)
	if err != nil {
		logger.Error(ctx, "Insufficient candle data", "symbol", symbol, "received", len(candles), "required", ta.RequiredBars(e.params))
		return types.MarketSnapshot{}, nil, err
	}

	tick, err := e.brk.Tick(ctx, symbol)
	if err != nil {
		return types.MarketSnapshot{}, nil, fmt.Errorf("tick: %w", err)
	}
	info, err := e.brk.SymbolInfo(ctx, symbol)
	if err != nil {
		return types.MarketSnapshot{}, nil, fmt.Errorf("symbol info: %w", err)
	}

	latest := candles[len(candles)-1]
	snap := types.MarketSnapshot{
		Symbol:     symbol,
		Timeframe:  e.tf,
		Price:      latest.Close,
		Latest:     latest,
		Tick:       tick,
		Info:       info,
		Indicators: ind,
		Confirm:    e.confirmation(ctx, symbol),
	}
	if e.news != nil {
		snap.News = e.news.Context(ctx, symbol)
	}

	logger.Debug(ctx, "Indicators calculated",
		"symbol", symbol,
		"rsi", ind.RSI,
		"macd_hist", ind.MACDHist,
		"ema_fast", ind.EMAFast,
		"ema_slow", ind.EMASlow,
		"bb_upper", ind.BBUpper,
		"bb_lower", ind.BBLower,
		"atr", ind.ATR,
		"spread_pips", spreadPips(tick, info),
	)
	return snap, candles, nil
}

// confirmation is nil when the higher timeframe is unavailable; the alignment gate then fails.
func (e *Engine) confirmation(ctx context.Context, symbol string) *types.TrendConfirmation {
	if e.confirm == "" || e.confirm.Duration() == 0 {
		return nil
	}
	candles, err := e.brk.Rates(ctx, symbol, e.confirm, e.cfg.ConfirmBars)
	if err != nil {
		logger.Warn(ctx, "Confirmation timeframe unavailable", "symbol", symbol, "timeframe", e.confirm, "error", err)
		return nil
	}
	tc, err := ta.TrendConfirmation(candles, e.params.EMAFast, e.params.EMASlow, e.confirm)
	if err != nil {
		logger.Warn(ctx, "Confirmation trend failed", "symbol", symbol, "timeframe", e.confirm, "error", err)
		return nil
	}
	return &tc
}

func spreadPips(t types.Tick, info types.SymbolInfo) float64 {
	pip := info.PipSize()
	if pip <= 0 {
		return 0
	}
	return math.Round(t.Spread()/pip*100) / 100
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string) error { return nil }
