// Package trademgr sets entry levels and applies the mechanical exit rules to
// open positions: time exit, partial take profit, breakeven and ATR trailing.
package trademgr

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"mt5-llm-trader/internal/interfaces"
	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/types"

	"github.com/shopspring/decimal"
)

const (
	ActionTimeExit  = "TIME_EXIT"
	ActionPartialTP = "PARTIAL_TP"
	ActionBreakeven = "BREAKEVEN"
	ActionTrail     = "TRAIL"

	// fallbackRDistance stands in for 1R when a position has no stop.
	fallbackRDistance = 0.002
)

type Config struct {
	SLATRMult        float64
	TPRatio          float64
	ExtremeSLATRMult float64
	ExtremeTPRatio   float64
	TrailATRMult     float64
	TimeExitBars     int
	PartialPct       float64
	BarDuration      time.Duration
}

func DefaultConfig() Config {
	return Config{
		SLATRMult:        3.5,
		TPRatio:          2,
		ExtremeSLATRMult: 4.5,
		ExtremeTPRatio:   1.5,
		TrailATRMult:     2,
		TimeExitBars:     15,
		PartialPct:       50,
		BarDuration:      5 * time.Minute,
	}
}

// Action is one change made to a position.
type Action struct {
	Ticket  uint64    `json:"ticket"`
	Symbol  string    `json:"symbol"`
	Kind    string    `json:"action"`
	Price   float64   `json:"price"`
	SL      float64   `json:"sl,omitempty"`
	Volume  float64   `json:"volume,omitempty"`
	R       float64   `json:"r_multiple"`
	Bars    float64   `json:"bars"`
	Comment string    `json:"comment,omitempty"`
	Time    time.Time `json:"time"`
}

type Manager struct {
	cfg Config
	now func() time.Time

	mu          sync.Mutex
	partialDone map[uint64]string
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func New(cfg Config, opts ...Option) *Manager {
	if cfg.BarDuration <= 0 {
		cfg.BarDuration = 5 * time.Minute
	}
	m := &Manager{cfg: cfg, now: time.Now, partialDone: make(map[uint64]string)}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RMultiple is the favourable move in units of the initial stop distance.
func RMultiple(p types.Position, price float64) float64 {
	dist := fallbackRDistance
	if p.SL > 0 {
		dist = math.Abs(p.SL - p.OpenPrice)
	}
	if dist == 0 {
		return 0
	}
	return (price - p.OpenPrice) * p.Side.Sign() / dist
}

// Manage applies the exit rules to every position of symbol opened with magic.
// Broker rejections are logged and the remaining rules still run.
func (m *Manager) Manage(ctx context.Context, broker interfaces.Broker, symbol string, magic int64, atr float64) (types.ManageStats, []Action, error) {
	var stats types.ManageStats

	positions, err := broker.Positions(ctx, symbol, magic)
	if err != nil {
		return stats, nil, fmt.Errorf("positions: %w", err)
	}
	m.forget(symbol, positions)
	if len(positions) == 0 {
		return stats, nil, nil
	}

	tick, err := broker.Tick(ctx, symbol)
	if err != nil {
		return stats, nil, fmt.Errorf("tick: %w", err)
	}
	info, err := broker.SymbolInfo(ctx, symbol)
	if err != nil {
		return stats, nil, fmt.Errorf("symbol info: %w", err)
	}

	var actions []Action
	for _, p := range positions {
		stats.PositionsManaged++
		price := tick.Bid
		if p.Side == types.SideSell {
			price = tick.Ask
		}
		r := RMultiple(p, price)
		bars := m.now().Sub(p.OpenTime).Seconds() / m.cfg.BarDuration.Seconds()
		act := func(kind string) Action {
			return Action{Ticket: p.Ticket, Symbol: p.Symbol, Kind: kind, Price: price, R: round2(r), Bars: round2(bars), Time: m.now().UTC()}
		}

		if m.cfg.TimeExitBars > 0 && bars >= float64(m.cfg.TimeExitBars) {
			comment := fmt.Sprintf("time_exit_%dbars", m.cfg.TimeExitBars)
			if _, err := broker.ClosePosition(ctx, p.Ticket, 0, comment); err != nil {
				logger.ErrorWithErr(ctx, "Time exit failed", err, "ticket", p.Ticket, "symbol", symbol)
			} else {
				stats.TimeExits++
				a := act(ActionTimeExit)
				a.Volume, a.Comment = p.Volume, comment
				actions = append(actions, a)
				logger.Management(ctx, symbol, ActionTimeExit, p.Ticket, "bars", a.Bars, "r_multiple", a.R)
				m.clearPartial(p.Ticket)
			}
			continue
		}

		if r >= 1 && !m.partialTaken(p.Ticket) {
			if vol := m.partialVolume(p.Volume, info); vol > 0 {
				comment := fmt.Sprintf("partial_tp_%.0f%%", m.cfg.PartialPct)
				if _, err := broker.ClosePosition(ctx, p.Ticket, vol, comment); err != nil {
					logger.ErrorWithErr(ctx, "Partial take profit failed", err, "ticket", p.Ticket, "symbol", symbol)
				} else {
					m.markPartial(p.Ticket, p.Symbol)
					stats.PartialTPs++
					p.Volume -= vol
					a := act(ActionPartialTP)
					a.Volume, a.Comment = vol, comment
					actions = append(actions, a)
					logger.Management(ctx, symbol, ActionPartialTP, p.Ticket, "volume", vol, "r_multiple", a.R)
				}
			}
		}

		if r >= 1 && stopOnLosingSide(p) {
			sl := info.RoundPrice(p.OpenPrice)
			if err := broker.ModifyPosition(ctx, p.Ticket, sl, p.TP); err != nil {
				logger.ErrorWithErr(ctx, "Breakeven move failed", err, "ticket", p.Ticket, "symbol", symbol)
			} else {
				stats.BreakevenMoves++
				p.SL = sl
				a := act(ActionBreakeven)
				a.SL = sl
				actions = append(actions, a)
				logger.Management(ctx, symbol, ActionBreakeven, p.Ticket, "sl", sl, "r_multiple", a.R)
			}
		}

		if sl, ok := m.trailStop(p, price, atr, info); ok {
			if err := broker.ModifyPosition(ctx, p.Ticket, sl, p.TP); err != nil {
				logger.ErrorWithErr(ctx, "Trailing stop failed", err, "ticket", p.Ticket, "symbol", symbol)
			} else {
				stats.TrailingStops++
				p.SL = sl
				a := act(ActionTrail)
				a.SL = sl
				actions = append(actions, a)
				logger.Management(ctx, symbol, ActionTrail, p.Ticket, "sl", sl, "atr_mult", m.cfg.TrailATRMult)
			}
		}
	}

	if stats.PositionsManaged > 0 {
		logger.Info(ctx, "Position management complete", "symbol", symbol,
			"managed", stats.PositionsManaged, "breakeven", stats.BreakevenMoves,
			"partials", stats.PartialTPs, "trailing", stats.TrailingStops, "time_exits", stats.TimeExits)
	}
	return stats, actions, nil
}

// stopOnLosingSide is true while the stop is missing or still below entry for a buy (above for a sell).
func stopOnLosingSide(p types.Position) bool {
	if p.SL == 0 {
		return true
	}
	if p.Side == types.SideBuy {
		return p.SL < p.OpenPrice
	}
	return p.SL > p.OpenPrice
}

// trailStop returns a stop trailing price by TrailATRMult × ATR when it improves the current one.
func (m *Manager) trailStop(p types.Position, price, atr float64, info types.SymbolInfo) (float64, bool) {
	if atr <= 0 || m.cfg.TrailATRMult <= 0 {
		return 0, false
	}
	dist := decimal.NewFromFloat(atr).Mul(decimal.NewFromFloat(m.cfg.TrailATRMult))
	px := decimal.NewFromFloat(price)
	if p.Side == types.SideBuy {
		sl := px.Sub(dist).Round(int32(info.Digits)).InexactFloat64()
		return sl, sl > p.SL
	}
	sl := px.Add(dist).Round(int32(info.Digits)).InexactFloat64()
	return sl, p.SL == 0 || sl < p.SL
}

// partialVolume floors PartialPct of volume to the lot step; zero when either
// leg would fall under the minimum lot.
func (m *Manager) partialVolume(volume float64, info types.SymbolInfo) float64 {
	if m.cfg.PartialPct <= 0 {
		return 0
	}
	step := decimal.NewFromFloat(info.VolumeStep)
	if !step.IsPositive() {
		step = decimal.NewFromFloat(0.01)
	}
	minLot := info.VolumeMin
	if minLot <= 0 {
		minLot = 0.01
	}
	total := decimal.NewFromFloat(volume)
	part := total.Mul(decimal.NewFromFloat(m.cfg.PartialPct)).Div(decimal.NewFromInt(100)).Div(step).Floor().Mul(step)
	rest := total.Sub(part)
	if part.LessThan(decimal.NewFromFloat(minLot)) || rest.LessThan(decimal.NewFromFloat(minLot)) {
		return 0
	}
	return part.InexactFloat64()
}

func (m *Manager) partialTaken(ticket uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.partialDone[ticket]
	return ok
}

func (m *Manager) markPartial(ticket uint64, symbol string) {
	m.mu.Lock()
	m.partialDone[ticket] = symbol
	m.mu.Unlock()
}

func (m *Manager) clearPartial(ticket uint64) {
	m.mu.Lock()
	delete(m.partialDone, ticket)
	m.mu.Unlock()
}

// forget drops partial markers of symbol whose tickets are no longer open.
func (m *Manager) forget(symbol string, open []types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := make(map[uint64]bool, len(open))
	for _, p := range open {
		live[p.Ticket] = true
	}
	for t, s := range m.partialDone {
		if s == symbol && !live[t] {
			delete(m.partialDone, t)
		}
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
