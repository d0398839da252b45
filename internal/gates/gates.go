// Package gates filters model entries that fight the chart: stale bars, flat
// EMAs, timeframe conflicts, band extremes, off-session hours and wide spreads.
package gates

import (
	"context"
	"fmt"
	"time"

	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/types"
)

type Config struct {
	EMASeparationFactor float64
	BBConflictThreshold float64
	MaxSpreadPips       float64
	SessionStartHour    int
	SessionEndHour      int
	MaxBarAge           time.Duration
	BlockHighImpactNews bool
}

func DefaultConfig() Config {
	return Config{
		EMASeparationFactor: 0.15,
		BBConflictThreshold: 0.25,
		MaxSpreadPips:       0.8,
		SessionStartHour:    10,
		SessionEndHour:      17,
		MaxBarAge:           6 * time.Minute,
	}
}

type Result struct {
	Allowed bool     `json:"allowed"`
	Passed  []string `json:"passed"`
	Failed  []string `json:"failed"`
}

type check func(action string, snap types.MarketSnapshot, now time.Time) (bool, string)

type Gates struct {
	cfg    Config
	checks []check
}

func New(cfg Config) *Gates {
	g := &Gates{cfg: cfg}
	g.checks = []check{
		g.freshBar,
		g.emaSeparation,
		g.timeframeAlignment,
		g.bandConflict,
		g.session,
		g.spread,
	}
	if cfg.BlockHighImpactNews {
		g.checks = append(g.checks, g.news)
	}
	return g
}

// Evaluate runs every check for a BUY or SELL; HOLD passes untouched.
func (g *Gates) Evaluate(ctx context.Context, action string, snap types.MarketSnapshot, now time.Time) Result {
	if action != types.ActionBuy && action != types.ActionSell {
		return Result{Allowed: true, Passed: []string{"HOLD needs no entry check"}}
	}

	var r Result
	for _, c := range g.checks {
		ok, reason := c(action, snap, now.UTC())
		if ok {
			r.Passed = append(r.Passed, reason)
		} else {
			r.Failed = append(r.Failed, reason)
		}
	}
	r.Allowed = len(r.Failed) == 0

	if r.Allowed {
		logger.Info(ctx, "Entry quality approved", "symbol", snap.Symbol, "action", action, "passed", r.Passed)
	} else {
		logger.Risk(ctx, snap.Symbol, "ENTRY_GATES_REJECTED", "action", action, "failed", r.Failed)
	}
	return r
}

func (g *Gates) freshBar(_ string, snap types.MarketSnapshot, now time.Time) (bool, string) {
	if snap.Latest.Ts == 0 {
		return false, "no recent bar"
	}
	age := now.Sub(time.Unix(snap.Latest.Ts, 0))
	if g.cfg.MaxBarAge > 0 && age > g.cfg.MaxBarAge {
		return false, fmt.Sprintf("latest bar too old: %.1f min ago", age.Minutes())
	}
	return true, fmt.Sprintf("bar fresh: %.1f min ago", age.Minutes())
}

func (g *Gates) emaSeparation(_ string, snap types.MarketSnapshot, _ time.Time) (bool, string) {
	ind := snap.Indicators
	sep := ind.EMASeparation()
	need := g.cfg.EMASeparationFactor * ind.ATR
	if sep < need {
		return false, fmt.Sprintf("EMA separation too small: %.5f < %.5f (%.2fx ATR)", sep, need, g.cfg.EMASeparationFactor)
	}
	return true, fmt.Sprintf("EMA separation ok: %.5f >= %.5f (%s)", sep, need, ind.EMATrend())
}

func (g *Gates) timeframeAlignment(_ string, snap types.MarketSnapshot, _ time.Time) (bool, string) {
	if snap.Confirm == nil {
		return false, "no confirmation timeframe data"
	}
	base := snap.Indicators.EMATrend()
	if snap.Confirm.Trend != base {
		return false, fmt.Sprintf("timeframe conflict: %s %s vs %s %s", snap.Timeframe, base, snap.Confirm.Timeframe, snap.Confirm.Trend)
	}
	return true, fmt.Sprintf("timeframes aligned: %s and %s both %s", snap.Timeframe, snap.Confirm.Timeframe, base)
}

func (g *Gates) bandConflict(action string, snap types.MarketSnapshot, _ time.Time) (bool, string) {
	pos := snap.Indicators.BBPosition(snap.Price)
	th := g.cfg.BBConflictThreshold
	switch {
	case action == types.ActionBuy && pos >= 1-th:
		return false, fmt.Sprintf("BUY at upper %.1f%% of bands, expect rejection", pos*100)
	case action == types.ActionSell && pos <= th:
		return false, fmt.Sprintf("SELL at lower %.1f%% of bands, expect bounce", pos*100)
	}
	return true, fmt.Sprintf("band position ok: %s at %.1f%%", action, pos*100)
}

func (g *Gates) session(_ string, _ types.MarketSnapshot, now time.Time) (bool, string) {
	h := now.Hour()
	if h >= g.cfg.SessionStartHour && h < g.cfg.SessionEndHour {
		return true, fmt.Sprintf("in session: %02d:xx UTC", h)
	}
	return false, fmt.Sprintf("outside trading hours: %02d:xx UTC (trade %02d-%02d UTC)", h, g.cfg.SessionStartHour, g.cfg.SessionEndHour)
}

func (g *Gates) spread(_ string, snap types.MarketSnapshot, _ time.Time) (bool, string) {
	pip := snap.Info.PipSize()
	if pip <= 0 {
		return false, "unknown pip size"
	}
	pips := snap.Tick.Spread() / pip
	if pips > g.cfg.MaxSpreadPips+1e-9 {
		return false, fmt.Sprintf("spread too wide: %.1f pips > %.1f", pips, g.cfg.MaxSpreadPips)
	}
	return true, fmt.Sprintf("spread ok: %.1f pips", pips)
}

func (g *Gates) news(_ string, snap types.MarketSnapshot, _ time.Time) (bool, string) {
	if snap.News != nil && snap.News.HighImpact {
		return false, "high impact news pending"
	}
	return true, "no high impact news"
}
