// Package paper is the DRY_RUN account: real or synthetic quotes, simulated fills.
//
// Market orders fill at the current ask (buy) or bid (sell). Stops and targets
// are checked against the latest quote each time the engine reads a tick or
// the position list, and a hit closes the position at the level.
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mt5-llm-trader/internal/broker/mt5"
	"mt5-llm-trader/internal/id"
	"mt5-llm-trader/internal/interfaces"
	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/types"
)

const retcodeInvalidStops = 10016

type Broker struct {
	md       interfaces.MarketData
	currency string
	now      func() time.Time

	mu         sync.Mutex
	balance    float64
	positions  map[uint64]*types.Position
	deals      []types.Deal
	nextTicket uint64
}

var _ interfaces.Broker = (*Broker)(nil)

type Option func(*Broker)

func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

func New(md interfaces.MarketData, balance float64, currency string, opts ...Option) *Broker {
	b := &Broker{
		md:         md,
		currency:   currency,
		now:        time.Now,
		balance:    balance,
		positions:  make(map[uint64]*types.Position),
		nextTicket: 1000,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Broker) SymbolInfo(ctx context.Context, symbol string) (types.SymbolInfo, error) {
	return b.md.SymbolInfo(ctx, symbol)
}

// Tick returns the current quote and settles any stop or target it crosses.
func (b *Broker) Tick(ctx context.Context, symbol string) (types.Tick, error) {
	t, err := b.md.Tick(ctx, symbol)
	if err != nil {
		return t, err
	}
	info, err := b.md.SymbolInfo(ctx, symbol)
	if err != nil {
		return t, err
	}
	b.settle(ctx, info, t)
	return t, nil
}

func (b *Broker) Rates(ctx context.Context, symbol string, tf types.Timeframe, n int) ([]types.Candle, error) {
	return b.md.Rates(ctx, symbol, tf, n)
}

func (b *Broker) Account(ctx context.Context) (types.Account, error) {
	b.mu.Lock()
	open := make([]types.Position, 0, len(b.positions))
	for _, p := range b.positions {
		open = append(open, *p)
	}
	balance := b.balance
	b.mu.Unlock()

	floating := 0.0
	for _, p := range open {
		pl, err := b.floating(ctx, p)
		if err != nil {
			return types.Account{}, err
		}
		floating += pl
	}
	return types.Account{
		Login:      0,
		Currency:   b.currency,
		Balance:    round2(balance),
		Equity:     round2(balance + floating),
		FreeMargin: round2(balance + floating),
	}, nil
}

func (b *Broker) floating(ctx context.Context, p types.Position) (float64, error) {
	t, err := b.md.Tick(ctx, p.Symbol)
	if err != nil {
		return 0, err
	}
	info, err := b.md.SymbolInfo(ctx, p.Symbol)
	if err != nil {
		return 0, err
	}
	return profit(info, p.Side, p.OpenPrice, closePrice(p.Side, t), p.Volume), nil
}

func (b *Broker) Positions(ctx context.Context, symbol string, magic int64) ([]types.Position, error) {
	symbols := map[string]bool{}
	b.mu.Lock()
	for _, p := range b.positions {
		if symbol == "" || p.Symbol == symbol {
			symbols[p.Symbol] = true
		}
	}
	b.mu.Unlock()

	for s := range symbols {
		if _, err := b.Tick(ctx, s); err != nil {
			return nil, err
		}
	}

	var out []types.Position
	for s := range symbols {
		t, err := b.md.Tick(ctx, s)
		if err != nil {
			return nil, err
		}
		info, err := b.md.SymbolInfo(ctx, s)
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		for _, p := range b.positions {
			if p.Symbol != s || (magic != 0 && p.Magic != magic) {
				continue
			}
			cp := *p
			cp.Profit = round2(profit(info, p.Side, p.OpenPrice, closePrice(p.Side, t), p.Volume))
			out = append(out, cp)
		}
		b.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

func (b *Broker) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	info, err := b.md.SymbolInfo(ctx, req.Symbol)
	if err != nil {
		return types.OrderResp{Status: "REJECTED"}, err
	}
	t, err := b.md.Tick(ctx, req.Symbol)
	if err != nil {
		return types.OrderResp{Status: "REJECTED"}, err
	}
	if req.Volume <= 0 || (info.VolumeMin > 0 && req.Volume < info.VolumeMin) || (info.VolumeMax > 0 && req.Volume > info.VolumeMax) {
		return reject(10014, fmt.Sprintf("invalid volume %.2f", req.Volume))
	}

	price := t.Ask
	if req.Side == types.SideSell {
		price = t.Bid
	}
	if !stopsValid(req.Side, price, req.SL, req.TP) {
		return reject(retcodeInvalidStops, fmt.Sprintf("invalid stops sl=%.5f tp=%.5f at %.5f", req.SL, req.TP, price))
	}

	now := b.now().UTC()
	b.mu.Lock()
	b.nextTicket++
	ticket := b.nextTicket
	b.positions[ticket] = &types.Position{
		Ticket:    ticket,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Volume:    req.Volume,
		OpenPrice: price,
		SL:        req.SL,
		TP:        req.TP,
		OpenTime:  now,
		Magic:     req.Magic,
		Comment:   req.Comment,
	}
	b.deals = append(b.deals, types.Deal{
		Ticket: ticket, PositionTicket: ticket, Symbol: req.Symbol, Side: req.Side,
		Entry: types.DealIn, Volume: req.Volume, Price: price, Time: now, Magic: req.Magic, Comment: req.Comment,
	})
	b.mu.Unlock()

	return types.OrderResp{
		OrderID: id.At(now),
		Ticket:  ticket,
		Retcode: mt5.RetcodeDone,
		Status:  "FILLED",
		Message: "paper fill",
		Price:   price,
		Volume:  req.Volume,
	}, nil
}

func (b *Broker) ModifyPosition(ctx context.Context, ticket uint64, sl, tp float64) error {
	b.mu.Lock()
	p, ok := b.positions[ticket]
	var pos types.Position
	if ok {
		pos = *p
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("position %d not found", ticket)
	}

	t, err := b.md.Tick(ctx, pos.Symbol)
	if err != nil {
		return err
	}
	if !stopsValid(pos.Side, closePrice(pos.Side, t), sl, tp) {
		return &mt5.TradeError{Retcode: retcodeInvalidStops, Comment: "Invalid stops"}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.positions[ticket]; ok {
		p.SL, p.TP = sl, tp
	}
	return nil
}

// ClosePosition closes volume lots of ticket at the current quote; zero or the full size closes it.
func (b *Broker) ClosePosition(ctx context.Context, ticket uint64, volume float64, comment string) (types.OrderResp, error) {
	b.mu.Lock()
	p, ok := b.positions[ticket]
	var symbol string
	if ok {
		symbol = p.Symbol
	}
	b.mu.Unlock()
	if !ok {
		return types.OrderResp{Status: "REJECTED"}, fmt.Errorf("position %d not found", ticket)
	}

	t, err := b.md.Tick(ctx, symbol)
	if err != nil {
		return types.OrderResp{Status: "REJECTED"}, err
	}
	info, err := b.md.SymbolInfo(ctx, symbol)
	if err != nil {
		return types.OrderResp{Status: "REJECTED"}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok = b.positions[ticket]
	if !ok {
		return types.OrderResp{Status: "REJECTED"}, fmt.Errorf("position %d not found", ticket)
	}
	price := closePrice(p.Side, t)
	d := b.closeLocked(info, p, volume, price, comment)
	return types.OrderResp{
		OrderID: id.At(d.Time),
		Ticket:  ticket,
		Retcode: mt5.RetcodeDone,
		Status:  "CLOSED",
		Price:   price,
		Volume:  d.Volume,
	}, nil
}

func (b *Broker) Deals(_ context.Context, from, to time.Time, magic int64) ([]types.Deal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.Deal
	for _, d := range b.deals {
		if d.Time.Before(from) || d.Time.After(to) || (magic != 0 && d.Magic != magic) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

type lifecycle interface {
	Start(ctx context.Context, symbols []string) error
	Stop(ctx context.Context)
}

// Start starts the wrapped source when it has a lifecycle (the bridge tick stream).
func (b *Broker) Start(ctx context.Context, symbols []string) error {
	if lc, ok := b.md.(lifecycle); ok {
		return lc.Start(ctx, symbols)
	}
	return nil
}

func (b *Broker) Stop(ctx context.Context) {
	if lc, ok := b.md.(lifecycle); ok {
		lc.Stop(ctx)
	}
	b.mu.Lock()
	n := len(b.positions)
	bal := b.balance
	b.mu.Unlock()
	logger.Info(ctx, "Paper account stopped", "open_positions", n, "balance", round2(bal))
}

func (b *Broker) settle(ctx context.Context, info types.SymbolInfo, t types.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range b.positions {
		if p.Symbol != t.Symbol && t.Symbol != "" {
			continue
		}
		px := closePrice(p.Side, t)
		var level float64
		var reason string
		switch p.Side {
		case types.SideBuy:
			if p.SL > 0 && px <= p.SL {
				level, reason = p.SL, "sl"
			} else if p.TP > 0 && px >= p.TP {
				level, reason = p.TP, "tp"
			}
		case types.SideSell:
			if p.SL > 0 && px >= p.SL {
				level, reason = p.SL, "sl"
			} else if p.TP > 0 && px <= p.TP {
				level, reason = p.TP, "tp"
			}
		}
		if reason == "" {
			continue
		}
		d := b.closeLocked(info, p, 0, level, "["+reason+" "+fmt.Sprintf("%.*f", info.Digits, level)+"]")
		logger.Info(ctx, "Paper position closed by "+reason, "ticket", p.Ticket, "symbol", p.Symbol, "price", level, "profit", d.Profit)
	}
}

// closeLocked books an OUT deal; b.mu must be held.
func (b *Broker) closeLocked(info types.SymbolInfo, p *types.Position, volume, price float64, comment string) types.Deal {
	if volume <= 0 || volume >= p.Volume-1e-9 {
		volume = p.Volume
	}
	pl := round2(profit(info, p.Side, p.OpenPrice, price, volume))
	b.nextTicket++
	d := types.Deal{
		Ticket:         b.nextTicket,
		PositionTicket: p.Ticket,
		Symbol:         p.Symbol,
		Side:           p.Side.Opposite(),
		Entry:          types.DealOut,
		Volume:         volume,
		Price:          price,
		Profit:         pl,
		Time:           b.now().UTC(),
		Magic:          p.Magic,
		Comment:        comment,
	}
	b.deals = append(b.deals, d)
	b.balance += pl

	p.Volume = round2(p.Volume - volume)
	if p.Volume <= 0 {
		delete(b.positions, p.Ticket)
	}
	return d
}

// profit converts a price move into account currency through the symbol's tick value.
func profit(info types.SymbolInfo, side types.Side, open, close, volume float64) float64 {
	move := (close - open) * side.Sign()
	if info.TickValue > 0 && info.TickSize > 0 {
		return move / info.TickSize * info.TickValue * volume
	}
	return move * info.ContractSize * volume
}

// closePrice is the side of the book a position exits on.
func closePrice(side types.Side, t types.Tick) float64 {
	if side == types.SideBuy {
		return t.Bid
	}
	return t.Ask
}

func stopsValid(side types.Side, price, sl, tp float64) bool {
	if side == types.SideBuy {
		return (sl == 0 || sl < price) && (tp == 0 || tp > price)
	}
	return (sl == 0 || sl > price) && (tp == 0 || tp < price)
}

func reject(code int, msg string) (types.OrderResp, error) {
	return types.OrderResp{Retcode: code, Status: "REJECTED", Message: msg}, &mt5.TradeError{Retcode: code, Comment: msg}
}

func round2(v float64) float64 {
	if v < 0 {
		return -float64(int64(-v*100+0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}
