package ta

import (
	"math"
	"testing"

	"mt5-llm-trader/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(n int, start, step float64) []types.Candle {
	out := make([]types.Candle, n)
	p := start
	for i := range out {
		// a small zig-zag keeps both gains and losses in the series
		wiggle := 0.0002
		if i%2 == 0 {
			wiggle = -0.0002
		}
		p += step
		c := p + wiggle
		out[i] = types.Candle{
			Ts:    int64(i) * 300,
			Open:  p,
			High:  math.Max(p, c) + 0.0003,
			Low:   math.Min(p, c) - 0.0003,
			Close: c,
		}
	}
	return out
}

func TestRequiredBarsDefaults(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 200, RequiredBars(DefaultParams()))

	short := Params{SMASlow: 10, SMAFast: 5, BBWindow: 5, RSIPeriod: 5, ATRPeriod: 5, StochK: 5, StochD: 3, EMAFast: 3, EMASlow: 8, MACDFast: 3, MACDSlow: 6, MACDSignal: 3}
	assert.Equal(t, 10, RequiredBars(short))
}

func TestComputeInsufficientBars(t *testing.T) {
	t.Parallel()
	_, err := Compute(series(50, 1.08, 0.0001), DefaultParams())
	require.ErrorIs(t, err, ErrInsufficientBars)
	assert.Contains(t, err.Error(), "need 200")
}

func TestComputeUptrend(t *testing.T) {
	t.Parallel()
	ind, err := Compute(series(300, 1.0800, 0.0001), DefaultParams())
	require.NoError(t, err)

	assert.Greater(t, ind.RSI, 50.0)
	assert.LessOrEqual(t, ind.RSI, 100.0)
	assert.Greater(t, ind.EMAFast, ind.EMASlow)
	assert.Greater(t, ind.SMAFast, ind.SMASlow)
	assert.Greater(t, ind.BBUpper, ind.BBMiddle)
	assert.Greater(t, ind.BBMiddle, ind.BBLower)
	assert.Greater(t, ind.ATR, 0.0)
	assert.Greater(t, ind.MACD, 0.0)
	assert.Equal(t, "bullish", ind.EMATrend())

	labels := Interpret(ind, ind.BBMiddle)
	assert.Equal(t, "Uptrend", labels.Trend)
	assert.Equal(t, "MIDDLE", labels.BB)
}

func TestComputeDowntrend(t *testing.T) {
	t.Parallel()
	ind, err := Compute(series(300, 1.2000, -0.0001), DefaultParams())
	require.NoError(t, err)

	assert.Less(t, ind.RSI, 50.0)
	assert.Less(t, ind.EMAFast, ind.EMASlow)
	assert.Equal(t, "Downtrend", Interpret(ind, ind.BBLower).Trend)
}

func TestATRIsSimpleMeanOfTrueRange(t *testing.T) {
	t.Parallel()
	candles := make([]types.Candle, 300)
	for i := range candles {
		half := 0.001
		if i >= len(candles)-14 {
			half = 0.002
		}
		candles[i] = types.Candle{Ts: int64(i) * 300, Open: 1.08, High: 1.08 + half, Low: 1.08 - half, Close: 1.08}
	}
	ind, err := Compute(candles, DefaultParams())
	require.NoError(t, err)
	assert.InDelta(t, 0.004, ind.ATR, 1e-9, "only the last 14 true ranges count")
}

func TestBollingerUsesSampleDeviation(t *testing.T) {
	t.Parallel()
	candles := series(300, 1.0800, 0.0001)
	ind, err := Compute(candles, DefaultParams())
	require.NoError(t, err)

	_, _, closes := split(candles)
	window := closes[len(closes)-20:]
	mean := 0.0
	for _, c := range window {
		mean += c
	}
	mean /= 20
	ss := 0.0
	for _, c := range window {
		ss += (c - mean) * (c - mean)
	}
	sd := math.Sqrt(ss / 19)
	assert.InDelta(t, mean+2*sd, ind.BBUpper, 1e-5)
	assert.InDelta(t, mean-2*sd, ind.BBLower, 1e-5)
}

func TestRSIMatchesSpanEMA(t *testing.T) {
	t.Parallel()
	candles := series(300, 1.0800, 0.0001)
	ind, err := Compute(candles, DefaultParams())
	require.NoError(t, err)

	_, _, closes := split(candles)
	alpha := 2.0 / 15
	var gain, loss float64
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		up, down := math.Max(d, 0), math.Max(-d, 0)
		if i == 1 {
			gain, loss = up, down
			continue
		}
		gain = alpha*up + (1-alpha)*gain
		loss = alpha*down + (1-alpha)*loss
	}
	assert.InDelta(t, 100-100/(1+gain/loss), ind.RSI, 0.01)
}

func TestComputeRounding(t *testing.T) {
	t.Parallel()
	ind, err := Compute(series(300, 1.0800, 0.0001), DefaultParams())
	require.NoError(t, err)

	assert.InDelta(t, ind.RSI, math.Round(ind.RSI*100)/100, 1e-9)
	assert.InDelta(t, ind.EMAFast, math.Round(ind.EMAFast*1e5)/1e5, 1e-12)
}

func TestEMAConstantSeries(t *testing.T) {
	t.Parallel()
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 150.25
	}
	v, err := EMA(closes, 9)
	require.NoError(t, err)
	assert.InDelta(t, 150.25, v, 1e-9)

	_, err = EMA(closes[:5], 9)
	assert.ErrorIs(t, err, ErrInsufficientBars)
}

func TestTrendConfirmation(t *testing.T) {
	t.Parallel()
	tc, err := TrendConfirmation(series(60, 1.08, -0.0002), 9, 21, types.M15)
	require.NoError(t, err)
	assert.Equal(t, "bearish", tc.Trend)
	assert.Equal(t, types.M15, tc.Timeframe)

	_, err = TrendConfirmation(series(10, 1.08, 0.0001), 9, 21, types.M15)
	assert.ErrorIs(t, err, ErrInsufficientBars)
}

func TestInterpretThresholds(t *testing.T) {
	t.Parallel()
	l := Interpret(types.Indicators{RSI: 75, StochK: 15, MACD: 0.1, MACDSignal: 0.05, BBUpper: 1.1, BBLower: 1.0}, 1.2)
	assert.Equal(t, "Overbought", l.RSI)
	assert.Equal(t, "Oversold", l.Stoch)
	assert.Equal(t, "Bullish", l.MACD)
	assert.Equal(t, "ABOVE UPPER BAND", l.BB)
}

func TestBBZone(t *testing.T) {
	t.Parallel()
	cases := map[float64]string{
		-0.1: "BELOW LOWER BAND",
		0.1:  "LOWER QUARTER",
		0.3:  "LOWER THIRD",
		0.5:  "MIDDLE",
		0.7:  "UPPER THIRD",
		0.9:  "UPPER QUARTER",
		1.2:  "ABOVE UPPER BAND",
	}
	for pos, want := range cases {
		assert.Equal(t, want, BBZone(pos), "pos %.2f", pos)
	}
}
