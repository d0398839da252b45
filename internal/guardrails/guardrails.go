// Package guardrails keeps the per-day trading counters and decides whether
// new entries are allowed. State lives in one JSON file and resets on a new UTC date.
package guardrails

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mt5-llm-trader/internal/logger"
)

type Config struct {
	MaxDailyDrawdownPct  float64
	MaxConsecutiveLosses int
	MaxTradesPerDay      int
	CooldownMinutes      int
	StatePath            string
}

func DefaultConfig() Config {
	return Config{
		MaxDailyDrawdownPct:  1.5,
		MaxConsecutiveLosses: 3,
		MaxTradesPerDay:      6,
		CooldownMinutes:      60,
		StatePath:            filepath.Join("data", "daily_guardrails.json"),
	}
}

type TradeRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"`
	Volume     float64   `json:"volume"`
	EntryPrice float64   `json:"entry_price"`
	Result     string    `json:"result"`
	PnL        float64   `json:"pnl,omitempty"`
}

type State struct {
	Date              string        `json:"date"`
	TradesToday       int           `json:"trades_today"`
	ConsecutiveLosses int           `json:"consecutive_losses"`
	LastLossTime      *time.Time    `json:"last_loss_time"`
	DailyTrades       []TradeRecord `json:"daily_trades"`
	StartingEquity    *float64      `json:"starting_equity"`
	DailyStopped      bool          `json:"daily_stopped"`
	StopReason        string        `json:"stop_reason,omitempty"`
}

type Stats struct {
	Date              string  `json:"date"`
	TradesToday       int     `json:"trades_today"`
	MaxTrades         int     `json:"max_trades"`
	Remaining         int     `json:"remaining"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	MaxConsecutive    int     `json:"max_consecutive"`
	StartingEquity    float64 `json:"starting_equity"`
	CurrentEquity     float64 `json:"current_equity"`
	DrawdownPct       float64 `json:"daily_drawdown_pct"`
	MaxDrawdownPct    float64 `json:"max_drawdown_pct"`
	Wins              int     `json:"wins"`
	Losses            int     `json:"losses"`
	DailyStopped      bool    `json:"daily_stopped"`
	StopReason        string  `json:"stop_reason,omitempty"`
}

type Guardrails struct {
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	state State
}

type Option func(*Guardrails)

func WithClock(now func() time.Time) Option {
	return func(g *Guardrails) { g.now = now }
}

// New loads the state file, starting a fresh day when it is missing, unreadable or stale.
func New(ctx context.Context, cfg Config, opts ...Option) (*Guardrails, error) {
	d := DefaultConfig()
	if cfg.MaxDailyDrawdownPct <= 0 {
		cfg.MaxDailyDrawdownPct = d.MaxDailyDrawdownPct
	}
	if cfg.MaxConsecutiveLosses <= 0 {
		cfg.MaxConsecutiveLosses = d.MaxConsecutiveLosses
	}
	if cfg.MaxTradesPerDay <= 0 {
		cfg.MaxTradesPerDay = d.MaxTradesPerDay
	}
	if cfg.CooldownMinutes < 0 {
		cfg.CooldownMinutes = d.CooldownMinutes
	}
	if cfg.StatePath == "" {
		cfg.StatePath = d.StatePath
	}

	g := &Guardrails{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0o755); err != nil {
		return nil, fmt.Errorf("create guardrails dir: %w", err)
	}

	g.state = g.load(ctx)
	logger.Info(ctx, "Daily guardrails initialized",
		"max_drawdown_pct", cfg.MaxDailyDrawdownPct,
		"max_consecutive_losses", cfg.MaxConsecutiveLosses,
		"max_trades", cfg.MaxTradesPerDay,
		"date", g.state.Date,
	)
	return g, nil
}

func (g *Guardrails) today() string {
	return g.now().UTC().Format("2006-01-02")
}

func (g *Guardrails) newDay() State {
	return State{Date: g.today(), DailyTrades: []TradeRecord{}}
}

func (g *Guardrails) load(ctx context.Context) State {
	b, err := os.ReadFile(g.cfg.StatePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.ErrorWithErr(ctx, "Failed to read guardrails state, starting fresh", err)
		}
		return g.newDay()
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		logger.ErrorWithErr(ctx, "Corrupt guardrails state, starting fresh", err, "path", g.cfg.StatePath)
		return g.newDay()
	}
	if st.Date != g.today() {
		logger.Info(ctx, "New trading day, resetting daily state", "date", g.today())
		return g.newDay()
	}
	if st.DailyTrades == nil {
		st.DailyTrades = []TradeRecord{}
	}
	return st
}

// saveLocked writes the state through a temp file and rename; g.mu must be held.
func (g *Guardrails) saveLocked(ctx context.Context) {
	b, err := json.MarshalIndent(g.state, "", "  ")
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to encode guardrails state", err)
		return
	}
	tmp := g.cfg.StatePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		logger.ErrorWithErr(ctx, "Failed to write guardrails state", err)
		return
	}
	if err := os.Rename(tmp, g.cfg.StatePath); err != nil {
		logger.ErrorWithErr(ctx, "Failed to replace guardrails state", err)
	}
}

// rolloverLocked starts a new day when the UTC date has changed.
func (g *Guardrails) rolloverLocked(ctx context.Context) {
	if g.state.Date == g.today() {
		return
	}
	logger.Info(ctx, "New trading day, resetting daily state", "previous", g.state.Date, "date", g.today())
	g.state = g.newDay()
	g.saveLocked(ctx)
}

func (g *Guardrails) stopLocked(ctx context.Context, reason string) {
	g.state.DailyStopped = true
	g.state.StopReason = reason
	g.saveLocked(ctx)
	logger.Risk(ctx, "", "DAILY_STOP", "reason", reason)
}

// CanTrade reports whether a new entry is allowed at currentEquity, and why not.
func (g *Guardrails) CanTrade(ctx context.Context, currentEquity float64) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked(ctx)

	if g.state.DailyStopped {
		return false, "trading stopped for day: " + g.state.StopReason
	}

	if g.state.StartingEquity == nil {
		eq := currentEquity
		g.state.StartingEquity = &eq
		g.saveLocked(ctx)
		logger.Info(ctx, "Set starting equity for today", "equity", eq)
	}

	start := *g.state.StartingEquity
	if start > 0 {
		dd := (start - currentEquity) / start * 100
		if dd >= g.cfg.MaxDailyDrawdownPct {
			reason := fmt.Sprintf("daily drawdown limit exceeded: %.2f%% >= %.1f%%", dd, g.cfg.MaxDailyDrawdownPct)
			g.stopLocked(ctx, reason)
			return false, reason
		}
	}

	if n := g.state.ConsecutiveLosses; n >= g.cfg.MaxConsecutiveLosses {
		reason := fmt.Sprintf("consecutive losses limit reached: %d >= %d", n, g.cfg.MaxConsecutiveLosses)
		g.stopLocked(ctx, reason)
		return false, reason
	}

	if n := g.state.TradesToday; n >= g.cfg.MaxTradesPerDay {
		reason := fmt.Sprintf("daily trade limit reached: %d >= %d", n, g.cfg.MaxTradesPerDay)
		g.stopLocked(ctx, reason)
		return false, reason
	}

	if g.state.ConsecutiveLosses >= 2 && g.state.LastLossTime != nil {
		cooldown := time.Duration(g.cfg.CooldownMinutes) * time.Minute
		if since := g.now().Sub(*g.state.LastLossTime); since < cooldown {
			return false, fmt.Sprintf("in cooldown: %.1f min remaining after %d losses",
				(cooldown - since).Minutes(), g.state.ConsecutiveLosses)
		}
	}

	return true, "all guardrails passed"
}

// StartingEquity is the equity captured on the first check of the day, zero before it.
func (g *Guardrails) StartingEquity() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.StartingEquity == nil {
		return 0
	}
	return *g.state.StartingEquity
}

func (g *Guardrails) RecordEntry(ctx context.Context, symbol, action string, volume, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked(ctx)

	g.state.TradesToday++
	g.state.DailyTrades = append(g.state.DailyTrades, TradeRecord{
		Timestamp:  g.now().UTC(),
		Symbol:     symbol,
		Action:     action,
		Volume:     volume,
		EntryPrice: price,
		Result:     "open",
	})
	g.saveLocked(ctx)
	logger.Info(ctx, "Recorded trade entry",
		"symbol", symbol, "action", action, "volume", volume, "price", price,
		"trades_today", g.state.TradesToday, "max_trades", g.cfg.MaxTradesPerDay)
}

// RecordResult books a closed trade. A win resets the loss streak.
func (g *Guardrails) RecordResult(ctx context.Context, symbol string, pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked(ctx)

	win := pnl > 0
	if win {
		g.state.ConsecutiveLosses = 0
		logger.Info(ctx, "Trade won, consecutive losses reset", "symbol", symbol, "pnl", pnl)
	} else {
		g.state.ConsecutiveLosses++
		now := g.now().UTC()
		g.state.LastLossTime = &now
		logger.Warn(ctx, "Trade lost", "symbol", symbol, "pnl", pnl, "consecutive_losses", g.state.ConsecutiveLosses)
	}

	result := "loss"
	if win {
		result = "win"
	}
	for i := len(g.state.DailyTrades) - 1; i >= 0; i-- {
		tr := &g.state.DailyTrades[i]
		if tr.Result == "open" && (symbol == "" || tr.Symbol == symbol) {
			tr.Result = result
			tr.PnL = pnl
			break
		}
	}
	g.saveLocked(ctx)
}

func (g *Guardrails) Stats(currentEquity float64) Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Stats{
		Date:              g.state.Date,
		TradesToday:       g.state.TradesToday,
		MaxTrades:         g.cfg.MaxTradesPerDay,
		Remaining:         max(0, g.cfg.MaxTradesPerDay-g.state.TradesToday),
		ConsecutiveLosses: g.state.ConsecutiveLosses,
		MaxConsecutive:    g.cfg.MaxConsecutiveLosses,
		CurrentEquity:     currentEquity,
		MaxDrawdownPct:    g.cfg.MaxDailyDrawdownPct,
		DailyStopped:      g.state.DailyStopped,
		StopReason:        g.state.StopReason,
	}
	if g.state.StartingEquity != nil {
		s.StartingEquity = *g.state.StartingEquity
		if s.StartingEquity > 0 && currentEquity > 0 {
			s.DrawdownPct = (s.StartingEquity - currentEquity) / s.StartingEquity * 100
		}
	}
	for _, tr := range g.state.DailyTrades {
		switch tr.Result {
		case "win":
			s.Wins++
		case "loss":
			s.Losses++
		}
	}
	return s
}

// ForceReset starts a new day now; a positive equity becomes the starting equity.
func (g *Guardrails) ForceReset(ctx context.Context, equity float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	logger.Warn(ctx, "Forcing daily state reset")
	g.state = g.newDay()
	if equity > 0 {
		g.state.StartingEquity = &equity
	}
	g.saveLocked(ctx)
}
