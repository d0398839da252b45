package llmobs

import (
	"context"
	"time"

	"mt5-llm-trader/internal/interfaces"
	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/trace"
	"mt5-llm-trader/internal/types"

	"go.opentelemetry.io/otel/attribute"
)

type observableDecider struct {
	decider interfaces.Decider
}

var _ interfaces.Decider = (*observableDecider)(nil)

// Wrap wraps a decider with logging and tracing.
func Wrap(decider interfaces.Decider) interfaces.Decider {
	return &observableDecider{decider: decider}
}

func (od *observableDecider) Decide(ctx context.Context, snap types.MarketSnapshot) (types.Decision, error) {
	ctx, span := trace.StartSpan(ctx, "llm.Decide")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", snap.Symbol), attribute.Float64("price", snap.Price))

	logger.DebugSkip(ctx, 1, "Requesting trading decision",
		"symbol", snap.Symbol,
		"price", snap.Price,
		"rsi", snap.Indicators.RSI,
		"atr", snap.Indicators.ATR,
		"news", snap.News != nil && len(snap.News.Headlines) > 0,
	)

	start := time.Now()
	decision, err := od.decider.Decide(ctx, snap)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to get trading decision", err,
			"symbol", snap.Symbol,
			"latency_ms", latency,
		)
		return types.Decision{}, err
	}
	span.SetAttributes(
		attribute.String("decision.action", decision.Action),
		attribute.Bool("decision.rejected", decision.Rejected),
	)

	if decision.Rejected {
		logger.WarnSkip(ctx, 1, "Model reply rejected",
			"symbol", snap.Symbol,
			"reason", decision.Reason,
			"raw", decision.Raw,
			"latency_ms", latency,
		)
		return decision, nil
	}

	logger.InfoSkip(ctx, 1, "Trading decision received",
		"symbol", snap.Symbol,
		"action", decision.Action,
		"confidence", decision.Confidence,
		"sl_pips", decision.StopLossPips,
		"tp_pips", decision.TakeProfitPips,
		"latency_ms", latency,
	)
	return decision, nil
}
