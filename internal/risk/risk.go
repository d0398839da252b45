// Package risk sizes positions from a fixed fraction of the account balance.
package risk

import (
	"context"
	"fmt"
	"math"

	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/types"

	"github.com/shopspring/decimal"
)

type Config struct {
	PerTradeRiskPct float64
	MinVolume       float64
	MaxVolume       float64
	MaxDailyRiskPct float64
}

func DefaultConfig() Config {
	return Config{PerTradeRiskPct: 0.15, MinVolume: 0.01, MaxVolume: 0.05, MaxDailyRiskPct: 1.5}
}

// Sizing is the outcome of one sizing calculation.
type Sizing struct {
	Volume     float64 `json:"volume"`
	RiskAmount float64 `json:"risk_amount"`
	RiskPct    float64 `json:"risk_pct"`
	PipValue   float64 `json:"pip_value"`
	RawVolume  float64 `json:"raw_volume"`
	Clamped    bool    `json:"clamped"`
	Reasoning  string  `json:"reasoning"`
	Valid      bool    `json:"valid"`
}

type Sizer struct {
	cfg Config
}

func New(cfg Config) *Sizer {
	d := DefaultConfig()
	if cfg.PerTradeRiskPct <= 0 {
		cfg.PerTradeRiskPct = d.PerTradeRiskPct
	}
	if cfg.MinVolume <= 0 {
		cfg.MinVolume = d.MinVolume
	}
	if cfg.MaxVolume <= 0 {
		cfg.MaxVolume = d.MaxVolume
	}
	if cfg.MaxDailyRiskPct <= 0 {
		cfg.MaxDailyRiskPct = d.MaxDailyRiskPct
	}
	return &Sizer{cfg: cfg}
}

func (s *Sizer) Config() Config { return s.cfg }

// Size computes the volume that loses riskPct of the balance when slPips is hit.
// A zero riskPct uses the configured per-trade risk.
func (s *Sizer) Size(ctx context.Context, acct types.Account, info types.SymbolInfo, slPips, riskPct float64) Sizing {
	if riskPct <= 0 {
		riskPct = s.cfg.PerTradeRiskPct
	}
	balance := acct.Balance
	pipValue := info.PipValuePerLot()

	switch {
	case slPips <= 0:
		return s.fallback(ctx, info.Symbol, "invalid stop loss pips")
	case balance <= 0:
		return s.fallback(ctx, info.Symbol, "invalid account balance")
	case pipValue <= 0:
		return s.fallback(ctx, info.Symbol, "invalid pip value")
	}

	riskAmount := decimal.NewFromFloat(balance).Mul(decimal.NewFromFloat(riskPct)).Div(decimal.NewFromInt(100))
	raw := riskAmount.Div(decimal.NewFromFloat(slPips).Mul(decimal.NewFromFloat(pipValue)))

	step := decimal.NewFromFloat(info.VolumeStep)
	if info.VolumeStep <= 0 {
		step = decimal.NewFromFloat(0.01)
	}
	volume := raw.Div(step).Floor().Mul(step)

	lo := math.Max(s.cfg.MinVolume, info.VolumeMin)
	hi := s.cfg.MaxVolume
	if info.VolumeMax > 0 {
		hi = math.Min(hi, info.VolumeMax)
	}
	if volume.LessThan(decimal.NewFromFloat(lo)) {
		volume = decimal.NewFromFloat(lo)
	}
	if volume.GreaterThan(decimal.NewFromFloat(hi)) {
		volume = decimal.NewFromFloat(hi)
	}

	vol := volume.Round(2).InexactFloat64()
	rawF := raw.InexactFloat64()
	actualRisk := volume.Mul(decimal.NewFromFloat(slPips)).Mul(decimal.NewFromFloat(pipValue)).Round(2).InexactFloat64()
	actualPct := math.Round(actualRisk/balance*100*1000) / 1000

	reasoning := fmt.Sprintf("Risk calc: %.3f%% of %.2f = %.2f, SL %.1f pips * pip value %.4f = raw volume %.4f, sized %.2f (actual risk %.2f = %.3f%%)",
		riskPct, balance, riskAmount.InexactFloat64(), slPips, pipValue, rawF, vol, actualRisk, actualPct)

	return Sizing{
		Volume:     vol,
		RiskAmount: actualRisk,
		RiskPct:    actualPct,
		PipValue:   pipValue,
		RawVolume:  rawF,
		Clamped:    !volume.Equal(raw),
		Reasoning:  reasoning,
		Valid:      true,
	}
}

func (s *Sizer) fallback(ctx context.Context, symbol, reason string) Sizing {
	logger.Warn(ctx, "Using fallback sizing", "symbol", symbol, "reason", reason)
	return Sizing{
		Volume:    s.cfg.MinVolume,
		RawVolume: s.cfg.MinVolume,
		Clamped:   true,
		Reasoning: fmt.Sprintf("FALLBACK: %s, using minimum volume %.2f", reason, s.cfg.MinVolume),
		Valid:     false,
	}
}

// ValidateDailyRisk rejects a trade when the day is already at the drawdown limit
// or when losing additionalRisk would take it there.
func (s *Sizer) ValidateDailyRisk(startEquity, currentEquity, additionalRisk float64) (bool, string) {
	if startEquity <= 0 {
		return false, "cannot validate daily risk: starting equity unknown"
	}
	maxPct := s.cfg.MaxDailyRiskPct
	current := (startEquity - currentEquity) / startEquity * 100
	potential := (startEquity - (currentEquity - additionalRisk)) / startEquity * 100

	if current >= maxPct {
		return false, fmt.Sprintf("daily drawdown limit reached: %.2f%% >= %.1f%%", current, maxPct)
	}
	if potential > maxPct {
		return false, fmt.Sprintf("new trade would exceed daily limit: %.2f%% > %.1f%%", potential, maxPct)
	}
	return true, fmt.Sprintf("daily risk ok: current %.2f%%, potential %.2f%%", current, potential)
}
