package telemetry

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"mt5-llm-trader/internal/id"
	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/types"
)

// Entry is what the engine knows when an order fills.
type Entry struct {
	Symbol     string
	Action     string
	Volume     float64
	Price      float64
	SL         float64
	TP         float64
	Ticket     uint64
	Magic      int64
	Info       types.SymbolInfo
	Tick       types.Tick
	Indicators types.Indicators
	RiskAmount float64
	RiskPct    float64
}

type Telemetry struct {
	store      Store
	reportsDir string
	now        func() time.Time
}

type Option func(*Telemetry)

func WithClock(now func() time.Time) Option {
	return func(t *Telemetry) { t.now = now }
}

// New wraps store; weekly reports are written under reportsDir.
func New(store Store, reportsDir string, opts ...Option) (*Telemetry, error) {
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create reports dir: %w", err)
	}
	t := &Telemetry{store: store, reportsDir: reportsDir, now: time.Now}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

func (t *Telemetry) Store() Store { return t.store }

func (t *Telemetry) Close() error { return t.store.Close() }

// LogEntry records a new trade with its market features and returns its ID.
func (t *Telemetry) LogEntry(ctx context.Context, e Entry) (string, error) {
	now := t.now().UTC()
	ind := e.Indicators
	pip := e.Info.PipSize()

	spread := 0.0
	if pip > 0 {
		spread = round(e.Tick.Spread()/pip, 2)
	}

	m := TradeMetrics{
		ID:            id.At(now),
		EntryTime:     now,
		Symbol:        e.Symbol,
		Action:        e.Action,
		Volume:        e.Volume,
		EntryPrice:    e.Price,
		SLPrice:       e.SL,
		TPPrice:       e.TP,
		PipSize:       pip,
		Ticket:        e.Ticket,
		Magic:         e.Magic,
		EMAFast:       ind.EMAFast,
		EMASlow:       ind.EMASlow,
		EMASeparation: ind.EMASeparation(),
		MACD:          ind.MACD,
		MACDSignal:    ind.MACDSignal,
		RSI:           ind.RSI,
		BBUpper:       ind.BBUpper,
		BBMiddle:      ind.BBMiddle,
		BBLower:       ind.BBLower,
		BBPositionPct: round(ind.BBPosition(e.Price)*100, 1),
		ATR:           ind.ATR,
		SpreadPips:    spread,
		Session:       Session(now.Hour()),
		HourUTC:       now.Hour(),
		RiskAmount:    e.RiskAmount,
		RiskPct:       e.RiskPct,
		ExitReason:    ExitOpen,
	}
	if err := t.store.Append(ctx, m); err != nil {
		return "", fmt.Errorf("append trade: %w", err)
	}
	logger.Info(ctx, "Trade entry logged", "trade_id", m.ID, "symbol", m.Symbol, "action", m.Action,
		"volume", m.Volume, "price", m.EntryPrice, "session", m.Session)
	return m.ID, nil
}

// Fill is one closing deal of a position.
type Fill struct {
	Price  float64
	Volume float64
}

// AverageFill is the volume-weighted exit price of fills. Zero volumes fall
// back to the last price.
func AverageFill(fills []Fill) float64 {
	var px, vol float64
	for _, f := range fills {
		px += f.Price * f.Volume
		vol += f.Volume
	}
	if vol <= 0 {
		if len(fills) == 0 {
			return 0
		}
		return fills[len(fills)-1].Price
	}
	return px / vol
}

// LogExit closes trade id at exitPrice, the average fill when the position was
// closed in parts. Pips follow the side; R is |pnl| / risk amount signed by pnl.
func (t *Telemetry) LogExit(ctx context.Context, tradeID string, exitPrice, pnl float64, reason string, bars int) (TradeMetrics, error) {
	m, err := t.store.Get(ctx, tradeID)
	if err != nil {
		return m, err
	}

	pip := m.PipSize
	if pip <= 0 {
		pip = 0.0001
	}
	pips := (exitPrice - m.EntryPrice) / pip
	if m.Action == types.ActionSell {
		pips = -pips
	}
	r := 0.0
	if m.RiskAmount > 0 {
		r = math.Abs(pnl) / m.RiskAmount
		if pnl < 0 {
			r = -r
		}
	}

	now := t.now().UTC()
	m.ExitPrice = &exitPrice
	m.ExitTime = &now
	m.ProfitLoss = pnl
	m.ProfitPips = round(pips, 1)
	m.ResultR = round(r, 3)
	m.BarsInTrade = bars
	m.ExitReason = reason

	if err := t.store.Update(ctx, m); err != nil {
		return m, fmt.Errorf("update trade: %w", err)
	}
	logger.Info(ctx, "Trade exit logged", "trade_id", m.ID, "symbol", m.Symbol, "reason", reason,
		"pips", m.ProfitPips, "r", m.ResultR, "pnl", pnl)
	return m, nil
}

// OpenTrades returns trades with no exit yet, oldest first.
func (t *Telemetry) OpenTrades(ctx context.Context, since time.Time) ([]TradeMetrics, error) {
	all, err := t.store.List(ctx, since)
	if err != nil {
		return nil, err
	}
	var open []TradeMetrics
	for _, m := range all {
		if !m.Closed() {
			open = append(open, m)
		}
	}
	return open, nil
}

// OpenByTicket finds the open trade for a terminal position ticket.
func (t *Telemetry) OpenByTicket(ctx context.Context, ticket uint64) (TradeMetrics, error) {
	open, err := t.OpenTrades(ctx, time.Time{})
	if err != nil {
		return TradeMetrics{}, err
	}
	for i := len(open) - 1; i >= 0; i-- {
		if open[i].Ticket == ticket {
			return open[i], nil
		}
	}
	return TradeMetrics{}, fmt.Errorf("%w: ticket %d", ErrTradeNotFound, ticket)
}

// TrackExcursion widens the MFE/MAE of the open trade on ticket with price.
// The store is only written when either excursion grows.
func (t *Telemetry) TrackExcursion(ctx context.Context, ticket uint64, price float64) error {
	m, err := t.OpenByTicket(ctx, ticket)
	if err != nil {
		return err
	}
	pip := m.PipSize
	if pip <= 0 {
		pip = 0.0001
	}
	move := (price - m.EntryPrice) / pip
	if m.Action == types.ActionSell {
		move = -move
	}
	move = round(move, 1)

	changed := false
	if move > m.MFEPips {
		m.MFEPips = move
		changed = true
	}
	if -move > m.MAEPips {
		m.MAEPips = -move
		changed = true
	}
	if !changed {
		return nil
	}
	return t.store.Update(ctx, m)
}

// LoadTrades returns completed trades entered in the last days; magic 0 means all.
func (t *Telemetry) LoadTrades(ctx context.Context, days int, magic int64) ([]TradeMetrics, error) {
	since := t.now().UTC().AddDate(0, 0, -days)
	all, err := t.store.List(ctx, since)
	if err != nil {
		return nil, err
	}
	var out []TradeMetrics
	for _, m := range all {
		if !m.Closed() || (magic != 0 && m.Magic != magic) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// WeeklyReport renders the last seven days and saves it as weekly_report_YYYYMMDD.txt.
func (t *Telemetry) WeeklyReport(ctx context.Context, magic int64) (string, error) {
	trades, err := t.LoadTrades(ctx, 7, magic)
	if err != nil {
		return "", err
	}
	now := t.now().UTC()
	report := RenderReport(now, magic, trades, ComputeStats(trades))

	path := filepath.Join(t.reportsDir, "weekly_report_"+now.Format("20060102")+".txt")
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return report, fmt.Errorf("write report: %w", err)
	}
	logger.Info(ctx, "Weekly report generated", "path", path, "trades", len(trades))
	return report, nil
}

func round(v float64, places int) float64 {
	f := math.Pow10(places)
	return math.Round(v*f) / f
}
