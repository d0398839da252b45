package interfaces

import (
	"context"

	"mt5-llm-trader/internal/types"
)

type Decider interface {
	Decide(ctx context.Context, snap types.MarketSnapshot) (types.Decision, error)
}
