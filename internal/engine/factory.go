package engine

import (
	"time"

	"mt5-llm-trader/internal/gates"
	"mt5-llm-trader/internal/guardrails"
	"mt5-llm-trader/internal/interfaces"
	"mt5-llm-trader/internal/llm"
	"mt5-llm-trader/internal/risk"
	"mt5-llm-trader/internal/store"
	"mt5-llm-trader/internal/ta"
	"mt5-llm-trader/internal/trademgr"
	"mt5-llm-trader/internal/types"
)

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now for gates, management and reconciliation.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New(cfg *store.Config, deps Deps, opts ...Option) (interfaces.Engine, error) {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return newEngine(cfg, deps, o.now)
}

func IndicatorParams(cfg *store.Config) ta.Params { return llm.IndicatorParams(cfg) }

func RiskConfig(cfg *store.Config) risk.Config {
	return risk.Config{
		PerTradeRiskPct: cfg.Risk.PerTradeRiskPct,
		MinVolume:       cfg.Risk.MinVolume,
		MaxVolume:       cfg.Risk.MaxVolume,
		MaxDailyRiskPct: cfg.Risk.MaxDailyRiskPct,
	}
}

func GuardrailsConfig(cfg *store.Config) guardrails.Config {
	return guardrails.Config{
		MaxDailyDrawdownPct:  cfg.Guardrails.MaxDailyDrawdownPct,
		MaxConsecutiveLosses: cfg.Guardrails.MaxConsecutiveLosses,
		MaxTradesPerDay:      cfg.Guardrails.MaxTradesPerDay,
		CooldownMinutes:      cfg.Guardrails.CooldownMinutes,
		StatePath:            cfg.Guardrails.StatePath,
	}
}

func GatesConfig(cfg *store.Config) gates.Config {
	return gates.Config{
		EMASeparationFactor: cfg.Gates.EMASeparationFactor,
		BBConflictThreshold: cfg.Gates.BBConflictThreshold,
		MaxSpreadPips:       cfg.Gates.MaxSpreadPips,
		SessionStartHour:    cfg.Gates.SessionStartHour,
		SessionEndHour:      cfg.Gates.SessionEndHour,
		MaxBarAge:           time.Duration(cfg.Gates.MaxBarAgeMinutes) * time.Minute,
		BlockHighImpactNews: cfg.Gates.BlockHighImpactNews,
	}
}

func TradeConfig(cfg *store.Config) trademgr.Config {
	return trademgr.Config{
		SLATRMult:        cfg.Trade.SLATRMult,
		TPRatio:          cfg.Trade.TPRatio,
		ExtremeSLATRMult: cfg.Trade.ExtremeSLATRMult,
		ExtremeTPRatio:   cfg.Trade.ExtremeTPRatio,
		TrailATRMult:     cfg.Trade.TrailATRMult,
		TimeExitBars:     cfg.Trade.TimeExitBars,
		PartialPct:       cfg.Trade.PartialPct,
		BarDuration:      types.Timeframe(cfg.Timeframe).Duration(),
	}
}
