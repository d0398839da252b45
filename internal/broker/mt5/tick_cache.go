package mt5

import (
	"sync"
	"time"

	"mt5-llm-trader/internal/types"
)

// tickCache keeps the latest streamed tick per symbol with its arrival time.
type tickCache struct {
	ticks map[string]cachedTick
	mu    sync.RWMutex
	now   func() time.Time
}

type cachedTick struct {
	tick     types.Tick
	received time.Time
}

func newTickCache() *tickCache {
	return &tickCache{
		ticks: make(map[string]cachedTick),
		now:   time.Now,
	}
}

func (tc *tickCache) put(t types.Tick) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.ticks[t.Symbol] = cachedTick{tick: t, received: tc.now()}
}

// get returns the tick for symbol if it arrived within maxAge.
func (tc *tickCache) get(symbol string, maxAge time.Duration) (types.Tick, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	c, ok := tc.ticks[symbol]
	if !ok || tc.now().Sub(c.received) > maxAge {
		return types.Tick{}, false
	}
	return c.tick, true
}

func (tc *tickCache) clear() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.ticks = make(map[string]cachedTick)
}
