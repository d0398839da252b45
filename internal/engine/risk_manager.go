package engine

import (
	"context"
	"fmt"

	"mt5-llm-trader/internal/guardrails"
	"mt5-llm-trader/internal/interfaces"
	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/risk"
	"mt5-llm-trader/internal/types"
)

// riskManager answers whether a new entry may be opened and how large it is.
type riskManager struct {
	broker    interfaces.Broker
	sizer     *risk.Sizer
	guards    *guardrails.Guardrails
	notifier  interfaces.Notifier
	magic     int64
	maxOpen   int
	lastStart float64
	lastBlock string
}

func newRiskManager(broker interfaces.Broker, sizer *risk.Sizer, guards *guardrails.Guardrails, notifier interfaces.Notifier, magic int64, maxOpen int) *riskManager {
	return &riskManager{broker: broker, sizer: sizer, guards: guards, notifier: notifier, magic: magic, maxOpen: maxOpen}
}

// canTrade consults the daily guardrails. Without guardrails every entry is allowed
// and the first equity seen anchors the daily risk check.
func (rm *riskManager) canTrade(ctx context.Context, equity float64) (bool, string) {
	if rm.guards == nil {
		if rm.lastStart == 0 {
			rm.lastStart = equity
		}
		return true, "guardrails disabled"
	}
	ok, reason := rm.guards.CanTrade(ctx, equity)
	if ok {
		logger.Debug(ctx, "Guardrails passed", "reason", reason)
		rm.lastBlock = ""
		return true, reason
	}
	// one alert per distinct block
	if reason != rm.lastBlock {
		rm.lastBlock = reason
		_ = rm.notifier.Notify(ctx, "TRADING PAUSED: "+reason)
	}
	return false, reason
}

func (rm *riskManager) startingEquity() float64 {
	if rm.guards != nil {
		return rm.guards.StartingEquity()
	}
	return rm.lastStart
}

// checkCapacity returns a block reason when the position cap is reached or
// symbol already has a position under our magic number.
func (rm *riskManager) checkCapacity(ctx context.Context, symbol string) (string, error) {
	open, err := rm.broker.Positions(ctx, "", rm.magic)
	if err != nil {
		return "", err
	}
	if rm.maxOpen > 0 && len(open) >= rm.maxOpen {
		return fmt.Sprintf("max open positions reached: %d >= %d", len(open), rm.maxOpen), nil
	}
	for _, p := range open {
		if p.Symbol == symbol {
			return fmt.Sprintf("position already open on %s (ticket %d)", symbol, p.Ticket), nil
		}
	}
	return "", nil
}

// size computes the entry volume and validates it against the daily risk budget.
// When the model proposes a volume it can only shrink the computed size.
func (rm *riskManager) size(ctx context.Context, acct types.Account, info types.SymbolInfo, slPips float64, modelSized bool, modelVolume float64) (risk.Sizing, string) {
	sz := rm.sizer.Size(ctx, acct, info, slPips, 0)
	if !sz.Valid {
		logger.Error(ctx, "Invalid position sizing", "symbol", info.Symbol, "reasoning", sz.Reasoning)
		return sz, "invalid sizing: " + sz.Reasoning
	}
	if modelSized && modelVolume > 0 && modelVolume < sz.Volume {
		if floor := rm.sizer.Config().MinVolume; modelVolume < floor {
			modelVolume = floor
		}
		scale := modelVolume / sz.Volume
		sz.Volume = modelVolume
		sz.RiskAmount *= scale
		sz.RiskPct *= scale
	}

	ok, reason := rm.sizer.ValidateDailyRisk(rm.startingEquity(), acct.Equity, sz.RiskAmount)
	if !ok {
		logger.Risk(ctx, info.Symbol, "DAILY_RISK_REJECTED", "reason", reason, "risk_amount", sz.RiskAmount)
		return sz, reason
	}
	logger.Debug(ctx, "Position sizing determined", "symbol", info.Symbol, "volume", sz.Volume, "reasoning", sz.Reasoning)
	return sz, ""
}
