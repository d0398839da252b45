package api

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket. One token is added every refillRate up to maxTokens.
type RateLimiter struct {
	tokens         int
	maxTokens      int
	refillRate     time.Duration
	lastRefillTime time.Time
	mu             sync.Mutex
}

func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	if maxTokens < 1 {
		maxTokens = 1
	}
	return &RateLimiter{
		tokens:         maxTokens,
		maxTokens:      maxTokens,
		refillRate:     refillRate,
		lastRefillTime: time.Now(),
	}
}

// MinInterval returns a limiter allowing one call per interval, or nil when interval is zero.
func MinInterval(interval time.Duration) *RateLimiter {
	if interval <= 0 {
		return nil
	}
	return NewRateLimiter(1, interval)
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	for {
		if rl.tryAcquire() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (rl *RateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if rl.refillRate > 0 {
		tokensToAdd := int(now.Sub(rl.lastRefillTime) / rl.refillRate)
		if tokensToAdd > 0 {
			rl.tokens += tokensToAdd
			if rl.tokens > rl.maxTokens {
				rl.tokens = rl.maxTokens
			}
			rl.lastRefillTime = rl.lastRefillTime.Add(time.Duration(tokensToAdd) * rl.refillRate)
		}
	}

	if rl.tokens > 0 {
		if rl.tokens == rl.maxTokens {
			rl.lastRefillTime = now
		}
		rl.tokens--
		return true
	}
	return false
}
