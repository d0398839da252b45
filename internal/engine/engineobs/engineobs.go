package engineobs

import (
	"context"
	"time"

	"mt5-llm-trader/internal/interfaces"
	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/trace"
	"mt5-llm-trader/internal/types"

	"go.opentelemetry.io/otel/attribute"
)

type observableEngine struct {
	engine interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

// Wrap adds a span and one summary record per cycle.
func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{engine: eng}
}

func (oe *observableEngine) Step(ctx context.Context, symbol string) (*types.StepResult, error) {
	ctx, span := trace.StartSpan(ctx, "engine.Step")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))
	start := time.Now()

	result, err := oe.engine.Step(ctx, symbol)
	ms := time.Since(start).Milliseconds()
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Trading cycle failed", err, "symbol", symbol, "duration_ms", ms)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("decision.action", result.Decision.Action),
		attribute.Int("orders", len(result.Orders)),
	)
	args := []any{
		"symbol", symbol,
		"action", result.Decision.Action,
		"confidence", result.Decision.Confidence,
		"orders", len(result.Orders),
		"managed", result.Managed.PositionsManaged,
		"duration_ms", ms,
	}
	switch {
	case result.Blocked != "":
		logger.InfoSkip(ctx, 1, "Trading cycle completed without entry", append(args, "blocked", result.Blocked, "gates_failed", result.GatesFailed)...)
	case len(result.Orders) > 0:
		logger.InfoSkip(ctx, 1, "Trading cycle placed order", append(args, "gates_passed", result.GatesPassed)...)
	default:
		logger.DebugSkip(ctx, 1, "Trading cycle completed", append(args, "reason", result.Decision.Reason)...)
	}
	return result, nil
}

func (oe *observableEngine) Manage(ctx context.Context, symbol string) (types.ManageStats, error) {
	ctx, span := trace.StartSpan(ctx, "engine.Manage")
	defer span.End()

	stats, err := oe.engine.Manage(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Position management failed", err, "symbol", symbol)
		return stats, err
	}
	logger.DebugSkip(ctx, 1, "Position management completed",
		"symbol", symbol,
		"managed", stats.PositionsManaged,
		"breakeven", stats.BreakevenMoves,
		"partials", stats.PartialTPs,
		"trailing", stats.TrailingStops,
		"time_exits", stats.TimeExits,
	)
	return stats, nil
}

func (oe *observableEngine) Reconcile(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "engine.Reconcile")
	defer span.End()

	if err := oe.engine.Reconcile(ctx); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Reconcile failed", err)
		return err
	}
	return nil
}
