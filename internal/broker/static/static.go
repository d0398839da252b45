// Package static generates deterministic forex market data for offline runs.
//
// Prices are a function of symbol, seed and bar index, so repeated calls for
// the same bars agree and new bars appear as the clock advances.
package static

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"mt5-llm-trader/internal/interfaces"
	"mt5-llm-trader/internal/types"
)

var basePrices = map[string]float64{
	"EURUSD": 1.0850,
	"GBPUSD": 1.2700,
	"AUDUSD": 0.6550,
	"NZDUSD": 0.6050,
	"USDJPY": 150.00,
	"USDCHF": 0.8850,
	"USDCAD": 1.3550,
	"EURJPY": 162.50,
	"GBPJPY": 190.50,
	"EURGBP": 0.8550,
	"XAUUSD": 2350.0,
}

type Source struct {
	seed       int64
	spreadPips float64
	now        func() time.Time
}

var _ interfaces.MarketData = (*Source)(nil)

type Option func(*Source)

// WithClock fixes the time used to place the latest bar.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

func New(seed int64, spreadPips float64, opts ...Option) *Source {
	s := &Source{seed: seed, spreadPips: spreadPips, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Source) SymbolInfo(_ context.Context, symbol string) (types.SymbolInfo, error) {
	base, ok := basePrices[symbol]
	if !ok {
		return types.SymbolInfo{}, fmt.Errorf("unknown symbol %s", symbol)
	}
	digits := 5
	contract := 100000.0
	switch {
	case symbol == "XAUUSD":
		digits, contract = 2, 100
	case strings.HasSuffix(symbol, "JPY"):
		digits = 3
	}
	point := math.Pow10(-digits)

	tickValue := contract * point
	if strings.HasPrefix(symbol, "USD") {
		tickValue /= base
	}
	return types.SymbolInfo{
		Symbol:       symbol,
		Digits:       digits,
		Point:        point,
		ContractSize: contract,
		TickValue:    tickValue,
		TickSize:     point,
		VolumeMin:    0.01,
		VolumeMax:    100,
		VolumeStep:   0.01,
	}, nil
}

func (s *Source) Tick(ctx context.Context, symbol string) (types.Tick, error) {
	info, err := s.SymbolInfo(ctx, symbol)
	if err != nil {
		return types.Tick{}, err
	}
	now := s.now()
	// intrabar drift on a one second grid
	bid := info.RoundPrice(s.price(symbol, now.Unix()))
	ask := info.RoundPrice(bid + s.spreadPips*info.PipSize())
	return types.Tick{Symbol: symbol, Bid: bid, Ask: ask, Ts: now.Unix()}, nil
}

// Rates returns n closed-and-forming bars, oldest first, the last one containing now.
func (s *Source) Rates(ctx context.Context, symbol string, tf types.Timeframe, n int) ([]types.Candle, error) {
	info, err := s.SymbolInfo(ctx, symbol)
	if err != nil {
		return nil, err
	}
	step := int64(tf.Duration() / time.Second)
	if step == 0 {
		return nil, fmt.Errorf("unsupported timeframe %s", tf)
	}

	lastOpen := s.now().Unix() / step * step
	out := make([]types.Candle, n)
	for i := 0; i < n; i++ {
		open := lastOpen - int64(n-1-i)*step
		o := s.price(symbol, open)
		c := s.price(symbol, open+step)
		hi, lo := math.Max(o, c), math.Min(o, c)
		// wicks from the path inside the bar
		for k := int64(1); k < 4; k++ {
			p := s.price(symbol, open+step*k/4)
			hi, lo = math.Max(hi, p), math.Min(lo, p)
		}
		out[i] = types.Candle{
			Ts:    open,
			Open:  info.RoundPrice(o),
			High:  info.RoundPrice(hi),
			Low:   info.RoundPrice(lo),
			Close: info.RoundPrice(c),
			Vol:   float64(50 + s.hash(symbol, open)%200),
		}
	}
	return out, nil
}

// price is the synthetic mid at unix second ts: slow and fast cycles plus
// per-minute noise around the base price.
func (s *Source) price(symbol string, ts int64) float64 {
	base := basePrices[symbol]
	phase := float64(s.hash(symbol, 0)%1000) / 1000 * 2 * math.Pi
	t := float64(ts)

	slow := 0.004 * math.Sin(t/(6*3600)+phase)
	mid := 0.0015 * math.Sin(t/(5400)+phase*1.7)
	fast := 0.0004 * math.Sin(t/(600)+phase*2.3)

	minute := ts / 60
	n1 := float64(s.hash(symbol, minute)%2001)/1000 - 1
	n2 := float64(s.hash(symbol, minute+1)%2001)/1000 - 1
	frac := float64(ts%60) / 60
	noise := 0.0002 * (n1*(1-frac) + n2*frac)

	return base * (1 + slow + mid + fast + noise)
}

func (s *Source) hash(symbol string, k int64) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%s:%d", s.seed, symbol, k)
	return h.Sum64()
}
