// Package llm holds what every model-backed decider shares: the prompt builder,
// reply parsing options and call pacing, all derived from config.
package llm

import (
	"time"

	"mt5-llm-trader/internal/api"
	"mt5-llm-trader/internal/llm/parser"
	"mt5-llm-trader/internal/prompt"
	"mt5-llm-trader/internal/store"
	"mt5-llm-trader/internal/ta"
	"mt5-llm-trader/internal/types"
)

type Settings struct {
	Model       string
	MaxTokens   int
	Temperature float32
	System      string
	Symbols     []string
	Timeout     time.Duration

	Prompt  *prompt.Builder
	Parse   parser.Options
	Limiter *api.RateLimiter
}

// IndicatorParams maps the indicator section of the config.
func IndicatorParams(cfg *store.Config) ta.Params {
	i := cfg.Indicators
	return ta.Params{
		RSIPeriod: i.RSIPeriod, MACDFast: i.MACDFast, MACDSlow: i.MACDSlow, MACDSignal: i.MACDSignal,
		BBWindow: i.BBWindow, BBStdDev: i.BBStdDev, SMAFast: i.SMAFast, SMASlow: i.SMASlow,
		StochK: i.StochK, StochD: i.StochD, ATRPeriod: i.ATRPeriod, EMAFast: i.EMAFast, EMASlow: i.EMASlow,
	}
}

func FromConfig(cfg *store.Config) Settings {
	style := prompt.Style(cfg.LLM.PromptStyle)
	limits := parser.Limits{
		MaxVolume:             cfg.Risk.MaxVolume,
		MaxStopLossPips:       cfg.Trade.MaxStopLossPips,
		MaxTakeProfitPips:     cfg.Trade.MaxTakeProfitPips,
		DefaultVolume:         cfg.Risk.MinVolume,
		DefaultStopLossPips:   cfg.Trade.DefaultStopLossPips,
		DefaultTakeProfitPips: cfg.Trade.DefaultTakeProfitPip,
	}
	return Settings{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		System:      cfg.LLM.System,
		Symbols:     cfg.Universe,
		Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		Prompt: prompt.New(style, IndicatorParams(cfg), prompt.Limits{
			MaxVolume:         limits.MaxVolume,
			MaxStopLossPips:   limits.MaxStopLossPips,
			MaxTakeProfitPips: limits.MaxTakeProfitPips,
			MaxOpenPositions:  cfg.MaxOpenPositions,
			MaxTradesPerDay:   cfg.Guardrails.MaxTradesPerDay,
		}),
		Parse: parser.Options{
			AllowText:        cfg.LLM.AllowTextFallback,
			RequireReasoning: cfg.LLM.RequireReasoning,
			Sizing:           style == prompt.StyleFull,
			Limits:           limits,
		},
		Limiter: api.MinInterval(time.Duration(cfg.LLM.MinIntervalSeconds) * time.Second),
	}
}

// Messages renders the system and user messages for snap.
func (s Settings) Messages(snap types.MarketSnapshot) (system, user string) {
	return s.Prompt.System(s.Symbols, s.System), s.Prompt.User(snap)
}

// Resolve turns a reply to snap into a decision and attaches the prompt that produced it.
func (s Settings) Resolve(reply, user string, snap types.MarketSnapshot) types.Decision {
	opts := s.Parse
	if snap.Info.Point > 0 || snap.Info.Digits > 0 {
		opts.Quote = parser.Quote{Price: snap.Price, PipSize: snap.Info.PipSize()}
	}
	d := parser.Resolve(reply, opts)
	d.Prompt = user
	return d
}
