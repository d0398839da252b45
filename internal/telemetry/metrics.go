// Package telemetry records per-trade metrics (entry features, excursions,
// outcome) and turns them into performance statistics and weekly reports.
package telemetry

import (
	"context"
	"errors"
	"time"
)

var ErrTradeNotFound = errors.New("trade not found")

const ExitOpen = "open"

// TradeMetrics is one trade from entry to exit.
type TradeMetrics struct {
	ID         string    `json:"trade_id"`
	EntryTime  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"`
	Volume     float64   `json:"volume"`
	EntryPrice float64   `json:"entry_price"`
	SLPrice    float64   `json:"sl_price"`
	TPPrice    float64   `json:"tp_price"`
	PipSize    float64   `json:"pip_size"`
	Ticket     uint64    `json:"ticket"`
	Magic      int64     `json:"magic_number"`

	EMAFast       float64 `json:"ema_fast"`
	EMASlow       float64 `json:"ema_slow"`
	EMASeparation float64 `json:"ema_separation"`
	MACD          float64 `json:"macd_line"`
	MACDSignal    float64 `json:"macd_signal"`
	RSI           float64 `json:"rsi"`
	BBUpper       float64 `json:"bb_upper"`
	BBMiddle      float64 `json:"bb_middle"`
	BBLower       float64 `json:"bb_lower"`
	BBPositionPct float64 `json:"bb_position_pct"`
	ATR           float64 `json:"atr"`
	SpreadPips    float64 `json:"spread_pips"`
	Session       string  `json:"session"`
	HourUTC       int     `json:"hour_utc"`

	RiskAmount float64 `json:"risk_amount"`
	RiskPct    float64 `json:"risk_pct"`

	MFEPips float64 `json:"mfe_pips"`
	MAEPips float64 `json:"mae_pips"`

	ExitPrice   *float64   `json:"exit_price"`
	ExitTime    *time.Time `json:"exit_time,omitempty"`
	ProfitLoss  float64    `json:"profit_loss"`
	ProfitPips  float64    `json:"profit_pips"`
	ResultR     float64    `json:"result_r"`
	BarsInTrade int        `json:"bars_in_trade"`
	ExitReason  string     `json:"exit_reason"`
}

// Closed reports whether an exit has been logged.
func (t TradeMetrics) Closed() bool { return t.ExitPrice != nil }

// Store persists trade metrics. Update replaces the record with the same ID.
type Store interface {
	Append(ctx context.Context, t TradeMetrics) error
	Update(ctx context.Context, t TradeMetrics) error
	Get(ctx context.Context, id string) (TradeMetrics, error)
	List(ctx context.Context, since time.Time) ([]TradeMetrics, error)
	Close() error
}

// Session names the FX session an hour (UTC) falls in.
func Session(hourUTC int) string {
	switch {
	case hourUTC >= 0 && hourUTC < 6:
		return "asian"
	case hourUTC < 10:
		return "london_pre"
	case hourUTC < 17:
		return "london_ny_overlap"
	case hourUTC < 22:
		return "ny_close"
	default:
		return "off_hours"
	}
}
