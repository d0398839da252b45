package mt5

import (
	"time"

	"mt5-llm-trader/internal/types"
)

// Bridge payloads mirror the MetaTrader5 structures: position and deal
// types are 0 for buy and 1 for sell, deal entry is 0 for in and 1 for out,
// times are unix seconds.

type rate struct {
	Time       int64   `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	TickVolume float64 `json:"tick_volume"`
}

func (r rate) candle() types.Candle {
	return types.Candle{Ts: r.Time, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Vol: r.TickVolume}
}

type tick struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Time   int64   `json:"time"`
}

func (t tick) toTick(symbol string) types.Tick {
	if t.Symbol != "" {
		symbol = t.Symbol
	}
	return types.Tick{Symbol: symbol, Bid: t.Bid, Ask: t.Ask, Ts: t.Time}
}

type position struct {
	Ticket    uint64  `json:"ticket"`
	Symbol    string  `json:"symbol"`
	Type      int     `json:"type"`
	Volume    float64 `json:"volume"`
	PriceOpen float64 `json:"price_open"`
	SL        float64 `json:"sl"`
	TP        float64 `json:"tp"`
	Profit    float64 `json:"profit"`
	Time      int64   `json:"time"`
	Magic     int64   `json:"magic"`
	Comment   string  `json:"comment"`
}

func (p position) toPosition() types.Position {
	return types.Position{
		Ticket:    p.Ticket,
		Symbol:    p.Symbol,
		Side:      sideOf(p.Type),
		Volume:    p.Volume,
		OpenPrice: p.PriceOpen,
		SL:        p.SL,
		TP:        p.TP,
		Profit:    p.Profit,
		OpenTime:  time.Unix(p.Time, 0).UTC(),
		Magic:     p.Magic,
		Comment:   p.Comment,
	}
}

type deal struct {
	Ticket     uint64  `json:"ticket"`
	PositionID uint64  `json:"position_id"`
	Symbol     string  `json:"symbol"`
	Type       int     `json:"type"`
	Entry      int     `json:"entry"`
	Volume     float64 `json:"volume"`
	Price      float64 `json:"price"`
	Profit     float64 `json:"profit"`
	Commission float64 `json:"commission"`
	Swap       float64 `json:"swap"`
	Time       int64   `json:"time"`
	Magic      int64   `json:"magic"`
	Comment    string  `json:"comment"`
}

func (d deal) toDeal() types.Deal {
	entry := types.DealIn
	if d.Entry != 0 {
		entry = types.DealOut
	}
	return types.Deal{
		Ticket:         d.Ticket,
		PositionTicket: d.PositionID,
		Symbol:         d.Symbol,
		Side:           sideOf(d.Type),
		Entry:          entry,
		Volume:         d.Volume,
		Price:          d.Price,
		Profit:         d.Profit + d.Commission + d.Swap,
		Time:           time.Unix(d.Time, 0).UTC(),
		Magic:          d.Magic,
		Comment:        d.Comment,
	}
}

type orderRequest struct {
	Symbol    string  `json:"symbol"`
	Type      int     `json:"type"`
	Volume    float64 `json:"volume"`
	Price     float64 `json:"price"`
	SL        float64 `json:"sl"`
	TP        float64 `json:"tp"`
	Deviation int     `json:"deviation"`
	Magic     int64   `json:"magic"`
	Comment   string  `json:"comment"`
}

type tradeResult struct {
	Retcode int     `json:"retcode"`
	Deal    uint64  `json:"deal"`
	Order   uint64  `json:"order"`
	Volume  float64 `json:"volume"`
	Price   float64 `json:"price"`
	Comment string  `json:"comment"`
}

func sideOf(t int) types.Side {
	if t == 1 {
		return types.SideSell
	}
	return types.SideBuy
}

func typeOf(s types.Side) int {
	if s == types.SideSell {
		return 1
	}
	return 0
}
