package interfaces

import (
	"context"

	"mt5-llm-trader/internal/types"
)

type Engine interface {
	Step(ctx context.Context, symbol string) (*types.StepResult, error)
	Manage(ctx context.Context, symbol string) (types.ManageStats, error)
	Reconcile(ctx context.Context) error
}
