package ta

import (
	"errors"
	"fmt"
	"math"

	"mt5-llm-trader/internal/types"

	"github.com/markcheno/go-talib"
)

var ErrInsufficientBars = errors.New("insufficient bars")

// Params are indicator periods. Zero values take the defaults.
type Params struct {
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	BBWindow   int
	BBStdDev   float64
	SMAFast    int
	SMASlow    int
	StochK     int
	StochD     int
	ATRPeriod  int
	EMAFast    int
	EMASlow    int
}

func DefaultParams() Params {
	return Params{
		RSIPeriod:  14,
		MACDFast:   6,
		MACDSlow:   13,
		MACDSignal: 5,
		BBWindow:   20,
		BBStdDev:   2,
		SMAFast:    20,
		SMASlow:    200,
		StochK:     14,
		StochD:     3,
		ATRPeriod:  14,
		EMAFast:    9,
		EMASlow:    21,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	pick := func(v, def int) int {
		if v <= 0 {
			return def
		}
		return v
	}
	p.RSIPeriod = pick(p.RSIPeriod, d.RSIPeriod)
	p.MACDFast = pick(p.MACDFast, d.MACDFast)
	p.MACDSlow = pick(p.MACDSlow, d.MACDSlow)
	p.MACDSignal = pick(p.MACDSignal, d.MACDSignal)
	p.BBWindow = pick(p.BBWindow, d.BBWindow)
	p.SMAFast = pick(p.SMAFast, d.SMAFast)
	p.SMASlow = pick(p.SMASlow, d.SMASlow)
	p.StochK = pick(p.StochK, d.StochK)
	p.StochD = pick(p.StochD, d.StochD)
	p.ATRPeriod = pick(p.ATRPeriod, d.ATRPeriod)
	p.EMAFast = pick(p.EMAFast, d.EMAFast)
	p.EMASlow = pick(p.EMASlow, d.EMASlow)
	if p.BBStdDev <= 0 {
		p.BBStdDev = d.BBStdDev
	}
	return p
}

// RequiredBars is the shortest history for which every indicator has a value.
func RequiredBars(p Params) int {
	p = p.withDefaults()
	return maxInt(
		p.SMASlow,
		p.SMAFast,
		p.BBWindow,
		p.MACDSlow+p.MACDSignal,
		p.RSIPeriod+1,
		p.ATRPeriod+1,
		p.StochK+p.StochD,
		p.EMASlow,
	)
}

// Compute returns the latest value of every indicator over candles (oldest first).
func Compute(candles []types.Candle, p Params) (types.Indicators, error) {
	p = p.withDefaults()
	if need := RequiredBars(p); len(candles) < need {
		return types.Indicators{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBars, len(candles), need)
	}

	highs, lows, closes := split(candles)

	macd, signal, hist := talib.Macd(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	dev := p.BBStdDev * sampleScale(p.BBWindow)
	upper, middle, lower := talib.BBands(closes, p.BBWindow, dev, dev, talib.SMA)
	k, d := talib.StochF(highs, lows, closes, p.StochK, p.StochD, talib.SMA)

	ind := types.Indicators{
		RSI:        round(rsi(closes, p.RSIPeriod), 2),
		MACD:       round(last(macd), 6),
		MACDSignal: round(last(signal), 6),
		MACDHist:   round(last(hist), 6),
		BBUpper:    round(last(upper), 5),
		BBMiddle:   round(last(middle), 5),
		BBLower:    round(last(lower), 5),
		SMAFast:    round(last(talib.Sma(closes, p.SMAFast)), 5),
		SMASlow:    round(last(talib.Sma(closes, p.SMASlow)), 5),
		StochK:     round(last(k), 2),
		StochD:     round(last(d), 2),
		ATR:        round(last(talib.Sma(talib.TRange(highs, lows, closes), p.ATRPeriod)), 5),
		EMAFast:    round(last(talib.Ema(closes, p.EMAFast)), 5),
		EMASlow:    round(last(talib.Ema(closes, p.EMASlow)), 5),
	}
	return ind, nil
}

// rsi averages gains and losses with an EMA of span period rather than
// Wilder's smoothing.
func rsi(closes []float64, period int) float64 {
	up := make([]float64, len(closes)-1)
	down := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if d := closes[i] - closes[i-1]; d > 0 {
			up[i-1] = d
		} else {
			down[i-1] = -d
		}
	}
	gain := last(talib.Ema(up, period))
	loss := last(talib.Ema(down, period))
	if loss == 0 {
		loss = 1e-10
	}
	return 100 - 100/(1+gain/loss)
}

// sampleScale turns talib's population deviation into the sample (n-1) one.
func sampleScale(n int) float64 {
	if n < 2 {
		return 1
	}
	return math.Sqrt(float64(n) / float64(n-1))
}

// EMA is the last exponential moving average value of closes.
func EMA(closes []float64, period int) (float64, error) {
	if period <= 0 || len(closes) < period {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBars, len(closes), period)
	}
	return last(talib.Ema(closes, period)), nil
}

// TrendConfirmation reads the EMA trend on a higher timeframe.
func TrendConfirmation(candles []types.Candle, fast, slow int, tf types.Timeframe) (types.TrendConfirmation, error) {
	_, _, closes := split(candles)
	ef, err := EMA(closes, fast)
	if err != nil {
		return types.TrendConfirmation{}, err
	}
	es, err := EMA(closes, slow)
	if err != nil {
		return types.TrendConfirmation{}, err
	}
	tc := types.TrendConfirmation{
		Timeframe: tf,
		EMAFast:   round(ef, 5),
		EMASlow:   round(es, 5),
		Trend:     "bearish",
	}
	if ef > es {
		tc.Trend = "bullish"
	}
	return tc, nil
}

// Labels is the human-readable state of a snapshot.
type Labels struct {
	RSI   string
	MACD  string
	Trend string
	Stoch string
	BB    string
}

func Interpret(ind types.Indicators, price float64) Labels {
	l := Labels{
		RSI:   "Neutral",
		MACD:  "Bearish",
		Trend: "Downtrend",
		Stoch: "Neutral",
		BB:    BBZone(ind.BBPosition(price)),
	}
	switch {
	case ind.RSI > 70:
		l.RSI = "Overbought"
	case ind.RSI < 30:
		l.RSI = "Oversold"
	}
	if ind.MACD > ind.MACDSignal {
		l.MACD = "Bullish"
	}
	if ind.SMAFast > ind.SMASlow {
		l.Trend = "Uptrend"
	}
	switch {
	case ind.StochK > 80:
		l.Stoch = "Overbought"
	case ind.StochK < 20:
		l.Stoch = "Oversold"
	}
	return l
}

// BBZone names where a band position (0 lower, 1 upper) falls.
func BBZone(pos float64) string {
	switch {
	case pos > 1:
		return "ABOVE UPPER BAND"
	case pos < 0:
		return "BELOW LOWER BAND"
	case pos < 0.25:
		return "LOWER QUARTER"
	case pos < 0.4:
		return "LOWER THIRD"
	case pos < 0.6:
		return "MIDDLE"
	case pos < 0.75:
		return "UPPER THIRD"
	default:
		return "UPPER QUARTER"
	}
}

func split(candles []types.Candle) (highs, lows, closes []float64) {
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	closes = make([]float64, len(candles))
	for i, c := range candles {
		highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
	}
	return
}

func last(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	x := v[len(v)-1]
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

func round(v float64, places int) float64 {
	f := math.Pow10(places)
	return math.Round(v*f) / f
}

func maxInt(v ...int) int {
	m := v[0]
	for _, x := range v[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
