package interfaces

import (
	"context"
	"time"

	"mt5-llm-trader/internal/types"
)

// MarketData is the read side of a terminal connection.
type MarketData interface {
	SymbolInfo(ctx context.Context, symbol string) (types.SymbolInfo, error)
	Tick(ctx context.Context, symbol string) (types.Tick, error)
	Rates(ctx context.Context, symbol string, tf types.Timeframe, n int) ([]types.Candle, error)
}

type Broker interface {
	MarketData
	Account(ctx context.Context) (types.Account, error)
	Positions(ctx context.Context, symbol string, magic int64) ([]types.Position, error)
	PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error)
	ModifyPosition(ctx context.Context, ticket uint64, sl, tp float64) error
	ClosePosition(ctx context.Context, ticket uint64, volume float64, comment string) (types.OrderResp, error)
	Deals(ctx context.Context, from, to time.Time, magic int64) ([]types.Deal, error)
	Start(ctx context.Context, symbols []string) error
	Stop(ctx context.Context)
}
