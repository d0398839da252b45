package trademgr

import (
	"errors"
	"fmt"

	"mt5-llm-trader/internal/types"

	"github.com/shopspring/decimal"
)

var ErrInvalidLevels = errors.New("invalid stop loss / take profit levels")

// Levels are the protective prices for a new entry.
type Levels struct {
	SL        float64 `json:"sl"`
	TP        float64 `json:"tp"`
	SLPips    float64 `json:"sl_pips"`
	TPPips    float64 `json:"tp_pips"`
	ATRMult   float64 `json:"atr_multiplier,omitempty"`
	TPRatio   float64 `json:"tp_ratio"`
	Note      string  `json:"note"`
	RDistance float64 `json:"r_distance"`
}

// Levels derives SL and TP from ATR. Entries into an RSI extreme get a wider
// stop and a closer target.
func (m *Manager) Levels(side types.Side, entry, atr, rsi float64, info types.SymbolInfo) Levels {
	mult, ratio := m.cfg.SLATRMult, m.cfg.TPRatio
	note := fmt.Sprintf("normal RSI (%.1f), standard SL/TP", rsi)
	if (side == types.SideBuy && rsi > 70) || (side == types.SideSell && rsi < 30) {
		mult, ratio = m.cfg.ExtremeSLATRMult, m.cfg.ExtremeTPRatio
		note = fmt.Sprintf("RSI extreme (%.1f), wider SL and tighter TP", rsi)
	}

	slDist := decimal.NewFromFloat(atr).Mul(decimal.NewFromFloat(mult))
	tpDist := slDist.Mul(decimal.NewFromFloat(ratio))
	l := levelsFrom(side, entry, slDist, tpDist, info)
	l.ATRMult = mult
	l.TPRatio = ratio
	l.Note = note
	return l
}

// PipsLevels places SL and TP at fixed pip distances, used when the model sizes the trade.
func (m *Manager) PipsLevels(side types.Side, entry, slPips, tpPips float64, info types.SymbolInfo) Levels {
	pip := decimal.NewFromFloat(info.PipSize())
	slDist := decimal.NewFromFloat(slPips).Mul(pip)
	tpDist := decimal.NewFromFloat(tpPips).Mul(pip)
	l := levelsFrom(side, entry, slDist, tpDist, info)
	if slPips > 0 {
		l.TPRatio = tpPips / slPips
	}
	l.Note = fmt.Sprintf("model levels: SL %.1f pips, TP %.1f pips", slPips, tpPips)
	return l
}

func levelsFrom(side types.Side, entry float64, slDist, tpDist decimal.Decimal, info types.SymbolInfo) Levels {
	e := decimal.NewFromFloat(entry)
	var sl, tp decimal.Decimal
	if side == types.SideBuy {
		sl, tp = e.Sub(slDist), e.Add(tpDist)
	} else {
		sl, tp = e.Add(slDist), e.Sub(tpDist)
	}
	digits := int32(info.Digits)
	pip := decimal.NewFromFloat(info.PipSize())

	l := Levels{
		SL:        sl.Round(digits).InexactFloat64(),
		TP:        tp.Round(digits).InexactFloat64(),
		RDistance: slDist.InexactFloat64(),
	}
	if pip.IsPositive() {
		l.SLPips = slDist.Div(pip).Round(1).InexactFloat64()
		l.TPPips = tpDist.Div(pip).Round(1).InexactFloat64()
	}
	return l
}

// ValidateLevels checks that the stop sits on the losing side and the target on
// the winning side of entry.
func ValidateLevels(side types.Side, entry, sl, tp float64) error {
	switch side {
	case types.SideBuy:
		if sl >= entry || tp <= entry {
			return fmt.Errorf("%w: BUY needs sl < %.5f < tp, got sl=%.5f tp=%.5f", ErrInvalidLevels, entry, sl, tp)
		}
	case types.SideSell:
		if sl <= entry || tp >= entry {
			return fmt.Errorf("%w: SELL needs tp < %.5f < sl, got sl=%.5f tp=%.5f", ErrInvalidLevels, entry, sl, tp)
		}
	default:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidLevels, side)
	}
	return nil
}
