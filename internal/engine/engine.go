// Package engine runs one trading cycle per symbol: market snapshot, model
// decision, entry filters and sizing, order placement, then position management.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mt5-llm-trader/internal/gates"
	"mt5-llm-trader/internal/guardrails"
	"mt5-llm-trader/internal/interfaces"
	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/risk"
	"mt5-llm-trader/internal/store"
	"mt5-llm-trader/internal/ta"
	"mt5-llm-trader/internal/telemetry"
	"mt5-llm-trader/internal/tradelog"
	"mt5-llm-trader/internal/trademgr"
	"mt5-llm-trader/internal/types"
)

// NewsSource supplies headline context for a symbol; nil means no news.
type NewsSource interface {
	Context(ctx context.Context, symbol string) *types.NewsContext
}

// Deps are the collaborators an engine is built from. Guardrails and News may be nil.
type Deps struct {
	Broker     interfaces.Broker
	Decider    interfaces.Decider
	Notifier   interfaces.Notifier
	News       NewsSource
	Telemetry  *telemetry.Telemetry
	Guardrails *guardrails.Guardrails
}

type Engine struct {
	cfg     *store.Config
	brk     interfaces.Broker
	llm     interfaces.Decider
	news    NewsSource
	params  ta.Params
	tf      types.Timeframe
	confirm types.Timeframe
	now     func() time.Time

	gates     *gates.Gates
	risk      *riskManager
	stops     *stopManager
	orders    *orderExecutor
	positions *positionManager

	mu sync.Mutex
}

var _ interfaces.Engine = (*Engine)(nil)

func newEngine(cfg *store.Config, d Deps, now func() time.Time) (*Engine, error) {
	if d.Broker == nil || d.Decider == nil || d.Telemetry == nil {
		return nil, errors.New("engine: broker, decider and telemetry are required")
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	tf := types.Timeframe(cfg.Timeframe)
	mgr := trademgr.New(TradeConfig(cfg), trademgr.WithClock(now))

	e := &Engine{
		cfg:     cfg,
		brk:     d.Broker,
		llm:     d.Decider,
		news:    d.News,
		params:  IndicatorParams(cfg),
		tf:      tf,
		confirm: types.Timeframe(cfg.ConfirmTimeframe),
		now:     now,
		risk:    newRiskManager(d.Broker, risk.New(RiskConfig(cfg)), d.Guardrails, notifier, cfg.Magic, cfg.MaxOpenPositions),
		stops:   newStopManager(mgr, cfg.Trade.Levels),
		orders:  newOrderExecutor(d.Broker, d.Telemetry, d.Guardrails, notifier, cfg.Magic, cfg.Deviation),
		positions: newPositionManager(d.Broker, mgr, d.Telemetry, d.Guardrails, notifier,
			cfg.Magic, tf.Duration(), now),
	}
	if cfg.Gates.Enabled {
		e.gates = gates.New(GatesConfig(cfg))
	}
	return e, nil
}

// Step runs one full cycle for symbol.
func (e *Engine) Step(ctx context.Context, symbol string) (*types.StepResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	logger.Debug(ctx, "Starting trading step", "symbol", symbol)

	if err := e.positions.reconcile(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Reconcile failed", err, "symbol", symbol)
	}

	acct, err := e.brk.Account(ctx)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	allowed, guardReason := e.risk.canTrade(ctx, acct.Equity)

	snap, candles, err := e.snapshot(ctx, symbol)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to build market snapshot", err, "symbol", symbol)
		return nil, err
	}
	if e.cfg.SaveMarketData {
		if err := tradelog.SaveMarketData(symbol, e.tf, candles); err != nil {
			logger.Warn(ctx, "Failed to save market data", "symbol", symbol, "error", err)
		}
	}

	res := &types.StepResult{Symbol: symbol, Price: snap.Price, Time: snap.Latest.Ts}

	if !allowed {
		logger.Risk(ctx, symbol, "GUARDRAILS_BLOCKED", "reason", guardReason)
		res.Decision = types.Decision{Action: types.ActionHold, Reason: guardReason}
		res.Blocked = guardReason
		res.Reason = "guardrails: " + guardReason
		res.Managed = e.manage(ctx, symbol, snap.Indicators.ATR)
		return res, nil
	}

	decision, err := e.llm.Decide(ctx, snap)
	if err != nil {
		logger.ErrorWithErr(ctx, "LLM decision failed", err, "symbol", symbol)
		e.manage(ctx, symbol, snap.Indicators.ATR)
		return nil, err
	}
	res.Decision = decision
	res.Reason = decision.Reason
	e.orders.logDecision(ctx, snap, decision)

	if decision.IsTrade() && !decision.Rejected {
		e.enter(ctx, snap, decision, acct, res)
	} else {
		logger.Debug(ctx, "HOLD decision - no action taken", "symbol", symbol, "reason", decision.Reason)
	}

	res.Managed = e.manage(ctx, symbol, snap.Indicators.ATR)

	logger.Debug(ctx, "Trading step completed", "symbol", symbol, "action", decision.Action, "orders", len(res.Orders))
	return res, nil
}

// enter runs the entry filters for a BUY or SELL and places the order when all pass.
func (e *Engine) enter(ctx context.Context, snap types.MarketSnapshot, d types.Decision, acct types.Account, res *types.StepResult) {
	symbol := snap.Symbol
	block := func(reason string) {
		res.Blocked = reason
		res.Reason += " | blocked: " + reason
		logger.Risk(ctx, symbol, "ENTRY_BLOCKED", "action", d.Action, "reason", reason)
	}

	if e.gates != nil {
		g := e.gates.Evaluate(ctx, d.Action, snap, e.now())
		res.GatesPassed, res.GatesFailed = g.Passed, g.Failed
		if !g.Allowed {
			block("entry gates")
			return
		}
	}

	if reason, err := e.risk.checkCapacity(ctx, symbol); err != nil {
		logger.ErrorWithErr(ctx, "Failed to read open positions", err, "symbol", symbol)
		block("positions unavailable")
		return
	} else if reason != "" {
		block(reason)
		return
	}

	side := types.Side(d.Action)
	entry := snap.Tick.Ask
	if side == types.SideSell {
		entry = snap.Tick.Bid
	}

	lv := e.stops.levels(side, entry, snap, d)
	sz, reason := e.risk.size(ctx, acct, snap.Info, lv.SLPips, e.cfg.LLM.PromptStyle == "full", d.Volume)
	if reason != "" {
		block(reason)
		return
	}
	if err := e.stops.validate(side, entry, lv); err != nil {
		block(err.Error())
		return
	}

	resp, err := e.orders.placeEntry(ctx, entryOrder{
		snap:   snap,
		side:   side,
		price:  entry,
		levels: lv,
		sizing: sz,
		reason: d.Reason,
		conf:   d.Confidence,
	})
	if err != nil {
		res.Reason += " | order_err:" + err.Error()
		return
	}
	res.Orders = append(res.Orders, resp)
}

// Manage applies the exit rules to the open positions of symbol.
func (e *Engine) Manage(ctx context.Context, symbol string) (types.ManageStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	candles, err := e.brk.Rates(ctx, symbol, e.tf, e.cfg.Bars)
	if err != nil {
		return types.ManageStats{}, fmt.Errorf("rates: %w", err)
	}
	ind, err := ta.Compute(candles, e.params)
	if err != nil {
		return types.ManageStats{}, err
	}
	return e.manage(ctx, symbol, ind.ATR), nil
}

func (e *Engine) manage(ctx context.Context, symbol string, atr float64) types.ManageStats {
	if !e.cfg.Trade.ManagementEnabled {
		return types.ManageStats{}
	}
	return e.positions.manage(ctx, symbol, atr)
}

// Reconcile books positions closed at the broker since the previous call.
func (e *Engine) Reconcile(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions.reconcile(ctx)
}
