package noop

import (
	"context"
	"testing"

	"mt5-llm-trader/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopAlwaysHolds(t *testing.T) {
	d, err := NewNoopDecider().Decide(context.Background(), types.MarketSnapshot{Symbol: "EURUSD"})
	require.NoError(t, err)
	assert.Equal(t, types.ActionHold, d.Action)
	assert.Equal(t, "noop_decider_fallback", d.Reason)
	assert.False(t, d.IsTrade())
}
