// Package noop holds every symbol; it stands in when no model provider is configured.
package noop

import (
	"context"

	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/types"
)

type NoopDecider struct{}

func NewNoopDecider() *NoopDecider { return &NoopDecider{} }

func (d *NoopDecider) Decide(ctx context.Context, snap types.MarketSnapshot) (types.Decision, error) {
	logger.Debug(ctx, "No model provider, holding", "symbol", snap.Symbol, "price", snap.Price)
	return types.Decision{Action: types.ActionHold, Reason: "noop_decider_fallback"}, nil
}
