package types

import (
	"math"
	"time"
)

const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that closes a position of this side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
)

// Duration is the length of one bar; zero for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case M1:
		return time.Minute
	case M5:
		return 5 * time.Minute
	case M15:
		return 15 * time.Minute
	case M30:
		return 30 * time.Minute
	case H1:
		return time.Hour
	case H4:
		return 4 * time.Hour
	case D1:
		return 24 * time.Hour
	}
	return 0
}

type Candle struct {
	Ts                          int64
	Open, High, Low, Close, Vol float64
}

type Tick struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Ts     int64   `json:"time"`
}

// Spread in price units.
func (t Tick) Spread() float64 { return t.Ask - t.Bid }

type SymbolInfo struct {
	Symbol       string  `json:"symbol"`
	Digits       int     `json:"digits"`
	Point        float64 `json:"point"`
	ContractSize float64 `json:"contract_size"`
	TickValue    float64 `json:"tick_value"`
	TickSize     float64 `json:"tick_size"`
	VolumeMin    float64 `json:"volume_min"`
	VolumeMax    float64 `json:"volume_max"`
	VolumeStep   float64 `json:"volume_step"`
}

// PipSize is 10 points on fractional-pip quotes (5 or 3 digits), one point otherwise.
func (s SymbolInfo) PipSize() float64 {
	point := s.Point
	if point <= 0 {
		point = math.Pow10(-s.Digits)
	}
	if s.Digits == 5 || s.Digits == 3 {
		return point * 10
	}
	return point
}

// PipValuePerLot is the account-currency value of a one pip move on one lot.
func (s SymbolInfo) PipValuePerLot() float64 {
	if s.TickValue > 0 && s.TickSize > 0 {
		return s.TickValue * s.PipSize() / s.TickSize
	}
	return s.ContractSize * s.PipSize()
}

// RoundPrice rounds to the symbol's quote precision.
func (s SymbolInfo) RoundPrice(p float64) float64 {
	f := math.Pow10(s.Digits)
	return math.Round(p*f) / f
}

type Account struct {
	Login      int64   `json:"login"`
	Currency   string  `json:"currency"`
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Margin     float64 `json:"margin"`
	FreeMargin float64 `json:"free_margin"`
}

type Position struct {
	Ticket    uint64    `json:"ticket"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Volume    float64   `json:"volume"`
	OpenPrice float64   `json:"price_open"`
	SL        float64   `json:"sl"`
	TP        float64   `json:"tp"`
	Profit    float64   `json:"profit"`
	OpenTime  time.Time `json:"time"`
	Magic     int64     `json:"magic"`
	Comment   string    `json:"comment"`
}

type DealEntry string

const (
	DealIn  DealEntry = "IN"
	DealOut DealEntry = "OUT"
)

type Deal struct {
	Ticket         uint64    `json:"ticket"`
	PositionTicket uint64    `json:"position_id"`
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	Entry          DealEntry `json:"entry"`
	Volume         float64   `json:"volume"`
	Price          float64   `json:"price"`
	Profit         float64   `json:"profit"`
	Time           time.Time `json:"time"`
	Magic          int64     `json:"magic"`
	Comment        string    `json:"comment"`
}

type OrderReq struct {
	Symbol    string  `json:"symbol"`
	Side      Side    `json:"side"`
	Volume    float64 `json:"volume"`
	Price     float64 `json:"price"`
	SL        float64 `json:"sl"`
	TP        float64 `json:"tp"`
	Deviation int     `json:"deviation"`
	Magic     int64   `json:"magic"`
	Comment   string  `json:"comment"`
}

type OrderResp struct {
	OrderID string  `json:"order_id"`
	Ticket  uint64  `json:"ticket"`
	Retcode int     `json:"retcode"`
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Price   float64 `json:"price"`
	Volume  float64 `json:"volume"`
}

type Indicators struct {
	RSI        float64 `json:"rsi"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_histogram"`
	BBUpper    float64 `json:"bb_upper"`
	BBMiddle   float64 `json:"bb_middle"`
	BBLower    float64 `json:"bb_lower"`
	SMAFast    float64 `json:"sma_fast"`
	SMASlow    float64 `json:"sma_slow"`
	StochK     float64 `json:"stoch_k"`
	StochD     float64 `json:"stoch_d"`
	ATR        float64 `json:"atr"`
	EMAFast    float64 `json:"ema_fast"`
	EMASlow    float64 `json:"ema_slow"`
}

// BBPosition is where price sits inside the bands: 0 at the lower band, 1 at the upper.
// A collapsed channel reports the middle.
func (i Indicators) BBPosition(price float64) float64 {
	rng := i.BBUpper - i.BBLower
	if rng <= 0 {
		return 0.5
	}
	return (price - i.BBLower) / rng
}

func (i Indicators) EMATrend() string {
	if i.EMAFast > i.EMASlow {
		return "bullish"
	}
	return "bearish"
}

func (i Indicators) EMASeparation() float64 { return math.Abs(i.EMAFast - i.EMASlow) }

// Map flattens the snapshot for log records.
func (i Indicators) Map() map[string]float64 {
	return map[string]float64{
		"RSI": i.RSI, "MACD": i.MACD, "MACD_SIGNAL": i.MACDSignal, "MACD_HIST": i.MACDHist,
		"BB_UP": i.BBUpper, "BB_MID": i.BBMiddle, "BB_LOW": i.BBLower,
		"SMA_FAST": i.SMAFast, "SMA_SLOW": i.SMASlow, "STOCH_K": i.StochK, "STOCH_D": i.StochD,
		"ATR": i.ATR, "EMA_FAST": i.EMAFast, "EMA_SLOW": i.EMASlow,
	}
}

type TrendConfirmation struct {
	Timeframe Timeframe `json:"timeframe"`
	EMAFast   float64   `json:"ema_fast"`
	EMASlow   float64   `json:"ema_slow"`
	Trend     string    `json:"trend"`
}

type NewsContext struct {
	Headlines  []string `json:"headlines"`
	HighImpact bool     `json:"high_impact"`
	Matched    []string `json:"matched,omitempty"`
}

type MarketSnapshot struct {
	Symbol     string             `json:"symbol"`
	Timeframe  Timeframe          `json:"timeframe"`
	Price      float64            `json:"price"`
	Latest     Candle             `json:"latest"`
	Tick       Tick               `json:"tick"`
	Info       SymbolInfo         `json:"symbol_info"`
	Indicators Indicators         `json:"indicators"`
	Confirm    *TrendConfirmation `json:"confirm,omitempty"`
	News       *NewsContext       `json:"news,omitempty"`
}

type Decision struct {
	Action         string  `json:"action"`
	Reason         string  `json:"reasoning"`
	Confidence     float64 `json:"confidence,omitempty"`
	Volume         float64 `json:"volume,omitempty"`
	StopLossPips   float64 `json:"stop_loss_pips,omitempty"`
	TakeProfitPips float64 `json:"take_profit_pips,omitempty"`

	// Rejected marks a reply that could not be trusted; Action is HOLD then.
	Rejected bool   `json:"rejected,omitempty"`
	Prompt   string `json:"-"`
	Raw      string `json:"-"`
}

// IsTrade reports whether the decision asks for a market entry.
func (d Decision) IsTrade() bool {
	return d.Action == ActionBuy || d.Action == ActionSell
}

type ManageStats struct {
	BreakevenMoves   int `json:"breakeven_moves"`
	PartialTPs       int `json:"partial_tps"`
	TrailingStops    int `json:"trailing_stops"`
	TimeExits        int `json:"time_exits"`
	PositionsManaged int `json:"positions_managed"`
}

func (m *ManageStats) Add(o ManageStats) {
	m.BreakevenMoves += o.BreakevenMoves
	m.PartialTPs += o.PartialTPs
	m.TrailingStops += o.TrailingStops
	m.TimeExits += o.TimeExits
	m.PositionsManaged += o.PositionsManaged
}

type StepResult struct {
	Symbol      string      `json:"symbol"`
	Decision    Decision    `json:"decision"`
	Price       float64     `json:"price"`
	Time        int64       `json:"time"`
	Orders      []OrderResp `json:"orders"`
	Reason      string      `json:"reason"`
	Blocked     string      `json:"blocked,omitempty"`
	GatesPassed []string    `json:"gates_passed,omitempty"`
	GatesFailed []string    `json:"gates_failed,omitempty"`
	Managed     ManageStats `json:"managed"`
}
