package parser

import (
	"fmt"
	"strings"

	"mt5-llm-trader/internal/types"
)

const defaultReasoning = "No reasoning provided"

// Limits bound model-supplied sizing. Defaults fill missing or non-positive values.
type Limits struct {
	MaxVolume         float64
	MaxStopLossPips   float64
	MaxTakeProfitPips float64

	DefaultVolume         float64
	DefaultStopLossPips   float64
	DefaultTakeProfitPips float64
}

func DefaultLimits() Limits {
	return Limits{
		MaxVolume:             0.5,
		MaxStopLossPips:       100,
		MaxTakeProfitPips:     200,
		DefaultVolume:         0.01,
		DefaultStopLossPips:   20,
		DefaultTakeProfitPips: 50,
	}
}

// Validate fills defaults and, for BUY/SELL, checks volume, stop and target are in range.
func Validate(d types.Decision, l Limits) (types.Decision, error) {
	def := DefaultLimits()
	if l.MaxVolume <= 0 {
		l.MaxVolume = def.MaxVolume
	}
	if l.MaxStopLossPips <= 0 {
		l.MaxStopLossPips = def.MaxStopLossPips
	}
	if l.MaxTakeProfitPips <= 0 {
		l.MaxTakeProfitPips = def.MaxTakeProfitPips
	}
	if l.DefaultVolume <= 0 {
		l.DefaultVolume = def.DefaultVolume
	}
	if l.DefaultStopLossPips <= 0 {
		l.DefaultStopLossPips = def.DefaultStopLossPips
	}
	if l.DefaultTakeProfitPips <= 0 {
		l.DefaultTakeProfitPips = def.DefaultTakeProfitPips
	}

	if d.Volume <= 0 {
		d.Volume = l.DefaultVolume
	}
	if d.StopLossPips <= 0 {
		d.StopLossPips = l.DefaultStopLossPips
	}
	if d.TakeProfitPips <= 0 {
		d.TakeProfitPips = l.DefaultTakeProfitPips
	}
	if strings.TrimSpace(d.Reason) == "" {
		d.Reason = defaultReasoning
	}

	if !d.IsTrade() {
		return d, nil
	}
	if d.Volume > l.MaxVolume {
		return d, fmt.Errorf("%w: volume %.2f exceeds %.2f", ErrOutOfRange, d.Volume, l.MaxVolume)
	}
	if d.StopLossPips > l.MaxStopLossPips {
		return d, fmt.Errorf("%w: stop loss %.1f pips exceeds %.0f", ErrOutOfRange, d.StopLossPips, l.MaxStopLossPips)
	}
	if d.TakeProfitPips > l.MaxTakeProfitPips {
		return d, fmt.Errorf("%w: take profit %.1f pips exceeds %.0f", ErrOutOfRange, d.TakeProfitPips, l.MaxTakeProfitPips)
	}
	return d, nil
}

var reasoningTerms = []struct {
	name  string
	terms []string
}{
	{"EMA", []string{"ema", "moving average", "crossover"}},
	{"Bollinger", []string{"bb", "bollinger", "band", "upper", "lower", "middle"}},
	{"RSI", []string{"rsi", "overbought", "oversold", "momentum"}},
}

// CheckReasoning requires the reasoning to mention the EMA trend, the Bollinger zone and RSI.
func CheckReasoning(reason string) error {
	r := strings.ToLower(reason)
	var missing []string
	for _, group := range reasoningTerms {
		found := false
		for _, term := range group.terms {
			if strings.Contains(r, term) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, group.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingReasoning, strings.Join(missing, ", "))
	}
	return nil
}
