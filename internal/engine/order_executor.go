package engine

import (
	"context"
	"fmt"
	"strings"

	"mt5-llm-trader/internal/guardrails"
	"mt5-llm-trader/internal/interfaces"
	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/risk"
	"mt5-llm-trader/internal/telemetry"
	"mt5-llm-trader/internal/tradelog"
	"mt5-llm-trader/internal/trademgr"
	"mt5-llm-trader/internal/types"
)

// orderExecutor places entries and records them everywhere a fill is tracked.
type orderExecutor struct {
	broker    interfaces.Broker
	tel       *telemetry.Telemetry
	guards    *guardrails.Guardrails
	notifier  interfaces.Notifier
	magic     int64
	deviation int
}

func newOrderExecutor(broker interfaces.Broker, tel *telemetry.Telemetry, guards *guardrails.Guardrails, notifier interfaces.Notifier, magic int64, deviation int) *orderExecutor {
	return &orderExecutor{
		broker:    broker,
		tel:       tel,
		guards:    guards,
		notifier:  notifier,
		magic:     magic,
		deviation: deviation,
	}
}

type entryOrder struct {
	snap   types.MarketSnapshot
	side   types.Side
	price  float64
	levels trademgr.Levels
	sizing risk.Sizing
	reason string
	conf   float64
}

func (oe *orderExecutor) placeEntry(ctx context.Context, o entryOrder) (types.OrderResp, error) {
	symbol := o.snap.Symbol
	req := types.OrderReq{
		Symbol:    symbol,
		Side:      o.side,
		Volume:    o.sizing.Volume,
		Price:     o.price,
		SL:        o.levels.SL,
		TP:        o.levels.TP,
		Deviation: oe.deviation,
		Magic:     oe.magic,
		Comment:   "llm_" + strings.ToLower(string(o.side)),
	}

	resp, err := oe.broker.PlaceOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to place "+string(o.side)+" order", err,
			"symbol", symbol,
			"volume", req.Volume,
			"price", req.Price,
			"sl", req.SL,
			"tp", req.TP,
		)
		return types.OrderResp{}, err
	}

	fill := resp.Price
	if fill <= 0 {
		fill = o.price
	}
	volume := resp.Volume
	if volume <= 0 {
		volume = req.Volume
	}

	logger.Trade(ctx, symbol, string(o.side), volume, fill, resp.OrderID,
		"ticket", resp.Ticket,
		"sl", req.SL,
		"tp", req.TP,
		"risk_amount", o.sizing.RiskAmount,
		"risk_pct", o.sizing.RiskPct,
		"tp_ratio", o.levels.TPRatio,
		"levels", o.levels.Note,
	)

	if _, err := oe.tel.LogEntry(ctx, telemetry.Entry{
		Symbol:     symbol,
		Action:     string(o.side),
		Volume:     volume,
		Price:      fill,
		SL:         req.SL,
		TP:         req.TP,
		Ticket:     resp.Ticket,
		Magic:      oe.magic,
		Info:       o.snap.Info,
		Tick:       o.snap.Tick,
		Indicators: o.snap.Indicators,
		RiskAmount: o.sizing.RiskAmount,
		RiskPct:    o.sizing.RiskPct,
	}); err != nil {
		logger.ErrorWithErr(ctx, "Failed to record trade telemetry", err, "symbol", symbol, "ticket", resp.Ticket)
	}

	if oe.guards != nil {
		oe.guards.RecordEntry(ctx, symbol, string(o.side), volume, fill)
	}

	if err := tradelog.Append(tradelog.Entry{
		Event:   tradelog.EventOpen,
		Symbol:  symbol,
		Side:    string(o.side),
		OrderID: resp.OrderID,
		Ticket:  resp.Ticket,
		Volume:  volume,
		Price:   fill,
		SL:      req.SL,
		TP:      req.TP,
		Reason:  o.reason,
		Extra: map[string]any{
			"confidence":  o.conf,
			"risk_amount": o.sizing.RiskAmount,
			"risk_pct":    o.sizing.RiskPct,
			"sl_pips":     o.levels.SLPips,
			"tp_pips":     o.levels.TPPips,
		},
	}); err != nil {
		logger.Warn(ctx, "Failed to append trade log", "symbol", symbol, "error", err)
	}

	msg := fmt.Sprintf("%s %s %.2f @ %.*f SL %.*f TP %.*f (risk %.2f, %.3f%%)",
		o.side, symbol, volume,
		o.snap.Info.Digits, fill, o.snap.Info.Digits, req.SL, o.snap.Info.Digits, req.TP,
		o.sizing.RiskAmount, o.sizing.RiskPct)
	_ = oe.notifier.Notify(ctx, msg)

	return resp, nil
}

// logDecision writes the decision and the indicator snapshot to the daily logs.
func (oe *orderExecutor) logDecision(ctx context.Context, snap types.MarketSnapshot, d types.Decision) {
	logger.Decision(ctx, snap.Symbol, d.Action, d.Confidence, d.Reason,
		"price", snap.Price,
		"rejected", d.Rejected,
		"sl_pips", d.StopLossPips,
		"tp_pips", d.TakeProfitPips,
	)

	ind := snap.Indicators.Map()
	if err := tradelog.AppendDecision(tradelog.DecisionEntry{
		Symbol:     snap.Symbol,
		Action:     d.Action,
		Reason:     d.Reason,
		Confidence: d.Confidence,
		Price:      snap.Price,
		Rejected:   d.Rejected,
		Prompt:     d.Prompt,
		Raw:        d.Raw,
		Decision:   d,
		Indicators: ind,
	}); err != nil {
		logger.Warn(ctx, "Failed to append decision log", "symbol", snap.Symbol, "error", err)
	}
	if err := tradelog.AppendIndicators(tradelog.IndicatorEntry{
		Symbol:     snap.Symbol,
		Timeframe:  string(snap.Timeframe),
		Price:      snap.Price,
		Indicators: ind,
	}); err != nil {
		logger.Warn(ctx, "Failed to append indicator log", "symbol", snap.Symbol, "error", err)
	}
}
