package brokerobs

import (
	"context"
	"fmt"
	"time"

	"mt5-llm-trader/internal/interfaces"
	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/trace"
	"mt5-llm-trader/internal/types"
)

// observableBroker wraps a Broker with observability (logging & tracing)
type observableBroker struct {
	broker interfaces.Broker
}

// Compile-time interface check
var _ interfaces.Broker = (*observableBroker)(nil)

// Wrap wraps a broker with observability middleware
func Wrap(broker interfaces.Broker) interfaces.Broker {
	return &observableBroker{
		broker: broker,
	}
}

func (ob *observableBroker) Account(ctx context.Context) (types.Account, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Account")
	defer span.End()

	acct, err := ob.broker.Account(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch account", err)
		return acct, err
	}

	logger.DebugSkip(ctx, 1, "Account fetched", "balance", acct.Balance, "equity", acct.Equity)
	return acct, nil
}

func (ob *observableBroker) SymbolInfo(ctx context.Context, symbol string) (types.SymbolInfo, error) {
	ctx, span := trace.StartSpan(ctx, "broker.SymbolInfo")
	defer span.End()

	info, err := ob.broker.SymbolInfo(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch symbol info", err, "symbol", symbol)
		return info, err
	}
	return info, nil
}

// Tick returns the latest quote with observability
func (ob *observableBroker) Tick(ctx context.Context, symbol string) (types.Tick, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Tick")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching tick", "symbol", symbol)

	tick, err := ob.broker.Tick(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch tick", err, "symbol", symbol)
		return tick, err
	}

	logger.DebugSkip(ctx, 1, "Tick fetched successfully", "symbol", symbol, "bid", tick.Bid, "ask", tick.Ask)
	return tick, nil
}

// Rates fetches candles with observability
func (ob *observableBroker) Rates(ctx context.Context, symbol string, tf types.Timeframe, n int) ([]types.Candle, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Rates")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching rates", "symbol", symbol, "timeframe", tf, "count", n)

	candles, err := ob.broker.Rates(ctx, symbol, tf, n)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch rates", err, "symbol", symbol, "timeframe", tf, "count", n)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Rates fetched successfully", "symbol", symbol, "timeframe", tf, "count", len(candles))
	return candles, nil
}

func (ob *observableBroker) Positions(ctx context.Context, symbol string, magic int64) ([]types.Position, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Positions")
	defer span.End()

	positions, err := ob.broker.Positions(ctx, symbol, magic)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch positions", err, "symbol", symbol, "magic", magic)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Positions fetched", "symbol", symbol, "magic", magic, "count", len(positions))
	return positions, nil
}

// PlaceOrder places an order with observability
func (ob *observableBroker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	ctx, span := trace.StartSpan(ctx, "broker.PlaceOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Placing order",
		"symbol", req.Symbol,
		"side", req.Side,
		"volume", req.Volume,
		"sl", req.SL,
		"tp", req.TP,
		"comment", req.Comment,
	)

	resp, err := ob.broker.PlaceOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place order", err,
			"symbol", req.Symbol,
			"side", req.Side,
			"volume", req.Volume,
			"retcode", resp.Retcode,
		)
		return resp, err
	}

	logger.InfoSkip(ctx, 1, "Order placed successfully",
		"symbol", req.Symbol,
		"order_id", resp.OrderID,
		"ticket", resp.Ticket,
		"price", resp.Price,
		"status", resp.Status,
	)
	return resp, nil
}

func (ob *observableBroker) ModifyPosition(ctx context.Context, ticket uint64, sl, tp float64) error {
	ctx, span := trace.StartSpan(ctx, "broker.ModifyPosition")
	defer span.End()

	if err := ob.broker.ModifyPosition(ctx, ticket, sl, tp); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to modify position", err, "ticket", ticket, "sl", sl, "tp", tp)
		return err
	}

	logger.InfoSkip(ctx, 1, "Position modified", "ticket", ticket, "sl", sl, "tp", tp)
	return nil
}

func (ob *observableBroker) ClosePosition(ctx context.Context, ticket uint64, volume float64, comment string) (types.OrderResp, error) {
	ctx, span := trace.StartSpan(ctx, "broker.ClosePosition")
	defer span.End()

	resp, err := ob.broker.ClosePosition(ctx, ticket, volume, comment)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to close position", err, "ticket", ticket, "volume", volume)
		return resp, err
	}

	logger.InfoSkip(ctx, 1, "Position closed", "ticket", ticket, "volume", resp.Volume, "price", resp.Price, "comment", comment)
	return resp, nil
}

func (ob *observableBroker) Deals(ctx context.Context, from, to time.Time, magic int64) ([]types.Deal, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Deals")
	defer span.End()

	deals, err := ob.broker.Deals(ctx, from, to, magic)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch deals", err, "from", from, "to", to)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Deals fetched", "count", len(deals), "magic", magic)
	return deals, nil
}

// Start initializes the broker with observability
func (ob *observableBroker) Start(ctx context.Context, symbols []string) error {
	ctx, span := trace.StartSpan(ctx, "broker.Start")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Starting broker", "symbols", symbols, "count", len(symbols))

	err := ob.broker.Start(ctx, symbols)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to start broker", err, "symbols", symbols)
		return fmt.Errorf("broker start failed: %w", err)
	}

	logger.InfoSkip(ctx, 1, "Broker started successfully", "symbols", symbols)
	return nil
}

// Stop shuts down the broker with observability
func (ob *observableBroker) Stop(ctx context.Context) {
	ctx, span := trace.StartSpan(ctx, "broker.Stop")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Stopping broker")
	ob.broker.Stop(ctx)
	logger.InfoSkip(ctx, 1, "Broker stopped successfully")
}
