package risk

import (
	"context"
	"testing"

	"mt5-llm-trader/internal/types"

	"github.com/stretchr/testify/assert"
)

var eurusd = types.SymbolInfo{
	Symbol: "EURUSD", Digits: 5, Point: 0.00001, ContractSize: 100000,
	TickValue: 1, TickSize: 0.00001, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01,
}

func TestSize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name      string
		cfg       Config
		balance   float64
		slPips    float64
		riskPct   float64
		wantVol   float64
		wantClamp bool
		wantValid bool
	}{
		{name: "floored to step", cfg: Config{MaxVolume: 1}, balance: 10000, slPips: 20, riskPct: 0.5, wantVol: 0.25, wantValid: true},
		{name: "floor not round", cfg: Config{MaxVolume: 1}, balance: 10000, slPips: 30, riskPct: 0.5, wantVol: 0.16, wantClamp: true, wantValid: true},
		{name: "clamped to max", balance: 100000, slPips: 10, riskPct: 1, wantVol: 0.05, wantClamp: true, wantValid: true},
		{name: "clamped to min", balance: 1000, slPips: 50, wantVol: 0.01, wantClamp: true, wantValid: true},
		{name: "zero stop", balance: 10000, slPips: 0, wantVol: 0.01, wantClamp: true},
		{name: "zero balance", balance: 0, slPips: 20, wantVol: 0.01, wantClamp: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := New(tt.cfg)
			got := s.Size(ctx, types.Account{Balance: tt.balance}, eurusd, tt.slPips, tt.riskPct)
			assert.InDelta(t, tt.wantVol, got.Volume, 1e-9)
			assert.Equal(t, tt.wantClamp, got.Clamped)
			assert.Equal(t, tt.wantValid, got.Valid)
			if got.Valid {
				assert.InDelta(t, 10.0, got.PipValue, 1e-9)
				assert.InDelta(t, got.Volume*tt.slPips*10, got.RiskAmount, 0.01)
				assert.NotEmpty(t, got.Reasoning)
			}
		})
	}
}

func TestSizeRespectsSymbolLimits(t *testing.T) {
	t.Parallel()
	info := eurusd
	info.VolumeMin = 0.1
	s := New(Config{MinVolume: 0.01, MaxVolume: 1})
	got := s.Size(context.Background(), types.Account{Balance: 1000}, info, 50, 0.15)
	assert.InDelta(t, 0.1, got.Volume, 1e-9)
}

func TestValidateDailyRisk(t *testing.T) {
	t.Parallel()
	s := New(DefaultConfig())

	ok, _ := s.ValidateDailyRisk(10000, 9950, 30)
	assert.True(t, ok)

	ok, reason := s.ValidateDailyRisk(10000, 9850, 10)
	assert.False(t, ok)
	assert.Contains(t, reason, "limit reached")

	ok, reason = s.ValidateDailyRisk(10000, 9900, 60)
	assert.False(t, ok)
	assert.Contains(t, reason, "would exceed")

	ok, _ = s.ValidateDailyRisk(0, 0, 10)
	assert.False(t, ok)
}
