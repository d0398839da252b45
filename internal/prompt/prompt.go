// Package prompt renders the chat messages sent to the model for one symbol.
package prompt

import (
	"fmt"
	"strings"

	"mt5-llm-trader/internal/ta"
	"mt5-llm-trader/internal/types"
)

type Style string

const (
	// StyleDirection asks only for action and reasoning; sizing and exits are automatic.
	StyleDirection Style = "direction"
	// StyleFull also asks for volume and stop/target distances in pips.
	StyleFull Style = "full"
)

// Limits bound the sizing fields the model may return in StyleFull.
type Limits struct {
	MaxVolume         float64
	MaxStopLossPips   float64
	MaxTakeProfitPips float64
	MaxOpenPositions  int
	MaxTradesPerDay   int
}

type Builder struct {
	Style  Style
	Params ta.Params
	Limits Limits
}

func New(style Style, params ta.Params, limits Limits) *Builder {
	if style != StyleFull {
		style = StyleDirection
	}
	return &Builder{Style: style, Params: withDefaults(params), Limits: limits}
}

func withDefaults(p ta.Params) ta.Params {
	d := ta.DefaultParams()
	if p.RSIPeriod == 0 {
		return d
	}
	return p
}

// System returns the system message. custom replaces the built-in analyst brief when set.
func (b *Builder) System(symbols []string, custom string) string {
	if strings.TrimSpace(custom) != "" {
		return custom
	}
	p := b.Params
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a professional forex analyst advising on %s on the M5 chart.\n\n", strings.Join(symbols, ", "))
	sb.WriteString("ANALYSIS FRAMEWORK:\n")
	fmt.Fprintf(&sb, "- EMA(%d,%d) crossover identifies the primary trend\n", p.EMAFast, p.EMASlow)
	sb.WriteString("- M5 and M15 trends must agree for a high-probability trade\n")
	fmt.Fprintf(&sb, "- Bollinger Bands(%d,%g) measure stretch from the mean\n", p.BBWindow, p.BBStdDev)
	fmt.Fprintf(&sb, "- RSI(%d) and Stochastic(%d,%d) confirm momentum and flag extremes\n\n", p.RSIPeriod, p.StochK, p.StochD)

	sb.WriteString("DECISION RULES:\n")
	fmt.Fprintf(&sb, "- BUY: EMA(%d) above EMA(%d) on both M5 and M15, price not at the upper band, RSI below 70\n", p.EMAFast, p.EMASlow)
	fmt.Fprintf(&sb, "- SELL: EMA(%d) below EMA(%d) on both M5 and M15, price not at the lower band, RSI above 30\n", p.EMAFast, p.EMASlow)
	sb.WriteString("- HOLD: conflicting signals, extreme readings or weak confluence\n\n")

	sb.WriteString("MEAN REVERSION PROTECTION:\n")
	sb.WriteString("- Never buy above the upper Bollinger Band\n")
	sb.WriteString("- Never sell below the lower Bollinger Band\n")
	sb.WriteString("- At band extremes wait for price to return toward the middle band\n\n")

	sb.WriteString("OUTPUT:\n")
	sb.WriteString("- action: \"buy\", \"sell\" or \"hold\" only\n")
	sb.WriteString("- reasoning: must cover EMA alignment, Bollinger Band position and RSI state\n")
	if b.Style == StyleFull {
		fmt.Fprintf(&sb, "- volume: lots, at most %.2f\n", b.Limits.MaxVolume)
		fmt.Fprintf(&sb, "- stop_loss_pips: at most %.0f; take_profit_pips: at most %.0f\n", b.Limits.MaxStopLossPips, b.Limits.MaxTakeProfitPips)
		sb.WriteString("- size stops from ATR: 1.5 to 2 x ATR in normal volatility\n")
	} else {
		sb.WriteString("\nDecide direction only. Position size, stops and exits are set by the risk engine.")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// User renders the market snapshot as the analysis request.
func (b *Builder) User(snap types.MarketSnapshot) string {
	p := b.Params
	ind := snap.Indicators
	labels := ta.Interpret(ind, snap.Price)

	pip := snap.Info.PipSize()
	atrPips := 0.0
	if pip > 0 {
		atrPips = ind.ATR / pip
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Trading analysis: %s (%s)\n\n", snap.Symbol, snap.Timeframe)
	sb.WriteString("MARKET DATA:\n")
	fmt.Fprintf(&sb, "Current price: %.5f\n", snap.Price)
	if snap.Tick.Ask > 0 && pip > 0 {
		fmt.Fprintf(&sb, "Spread: %.1f pips\n", snap.Tick.Spread()/pip)
	}

	sb.WriteString("\nTECHNICAL INDICATORS:\n")
	fmt.Fprintf(&sb, "- RSI(%d): %.1f (%s)\n", p.RSIPeriod, ind.RSI, labels.RSI)
	fmt.Fprintf(&sb, "- MACD(%d,%d,%d): line=%.6f signal=%.6f hist=%.6f -> %s\n",
		p.MACDFast, p.MACDSlow, p.MACDSignal, ind.MACD, ind.MACDSignal, ind.MACDHist, labels.MACD)
	fmt.Fprintf(&sb, "- Bollinger Bands(%d,%g): %s (position %.0f%%)\n", p.BBWindow, p.BBStdDev, labels.BB, ind.BBPosition(snap.Price)*100)
	fmt.Fprintf(&sb, "  upper %.5f, middle %.5f, lower %.5f\n", ind.BBUpper, ind.BBMiddle, ind.BBLower)
	fmt.Fprintf(&sb, "- EMA crossover(%d,%d): fast=%.5f slow=%.5f -> %s, separation %.5f\n",
		p.EMAFast, p.EMASlow, ind.EMAFast, ind.EMASlow, titled(ind.EMATrend()), ind.EMASeparation())
	fmt.Fprintf(&sb, "- SMA(%d): %.5f, SMA(%d): %.5f -> %s\n", p.SMAFast, ind.SMAFast, p.SMASlow, ind.SMASlow, labels.Trend)
	fmt.Fprintf(&sb, "- Stochastic(%d,%d): %%K=%.1f %%D=%.1f (%s)\n", p.StochK, p.StochD, ind.StochK, ind.StochD, labels.Stoch)
	fmt.Fprintf(&sb, "- ATR(%d): %.5f (%.1f pips)\n", p.ATRPeriod, ind.ATR, atrPips)

	sb.WriteString("\nMULTI-TIMEFRAME:\n")
	fmt.Fprintf(&sb, "- %s EMA trend: %s\n", snap.Timeframe, titled(ind.EMATrend()))
	if c := snap.Confirm; c != nil {
		align := "Conflicted"
		if c.Trend == ind.EMATrend() {
			align = "Aligned"
		}
		fmt.Fprintf(&sb, "- %s EMA(%d)=%.5f EMA(%d)=%.5f -> %s\n", c.Timeframe, p.EMAFast, c.EMAFast, p.EMASlow, c.EMASlow, titled(c.Trend))
		fmt.Fprintf(&sb, "- Alignment: %s\n", align)
	} else {
		sb.WriteString("- Higher timeframe: N/A\n- Alignment: Unknown\n")
	}

	if n := snap.News; n != nil && len(n.Headlines) > 0 {
		sb.WriteString("\nRECENT HEADLINES:\n")
		for _, h := range n.Headlines {
			fmt.Fprintf(&sb, "- %s\n", h)
		}
		if n.HighImpact {
			sb.WriteString("WARNING: high-impact event in the news flow, expect volatility.\n")
		}
	}

	sb.WriteString("\nIn your reasoning state the M5 and M15 EMA trend, the exact Bollinger Band zone, and whether RSI is beyond 70 or 30.\n\n")
	sb.WriteString("Respond ONLY with JSON:\n")
	if b.Style == StyleFull {
		fmt.Fprintf(&sb, `{"action": "buy/sell/hold", "volume": 0.01, "stop_loss_pips": 20, "take_profit_pips": 50, "reasoning": "EMA alignment, BB zone and RSI state"}`+"\n")
		fmt.Fprintf(&sb, "Limits: volume <= %.2f lots, stop_loss_pips <= %.0f, take_profit_pips <= %.0f.",
			b.Limits.MaxVolume, b.Limits.MaxStopLossPips, b.Limits.MaxTakeProfitPips)
		if b.Limits.MaxOpenPositions > 0 {
			fmt.Fprintf(&sb, " Portfolio caps: %d open positions, %d trades per day.", b.Limits.MaxOpenPositions, b.Limits.MaxTradesPerDay)
		}
	} else {
		sb.WriteString(`{"action": "buy/sell/hold", "reasoning": "EMA alignment, BB zone and RSI state"}` + "\n")
		sb.WriteString("Do not include volume, stop_loss_pips or take_profit_pips.")
	}
	return sb.String()
}

func titled(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
