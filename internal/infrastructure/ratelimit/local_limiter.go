package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/turtacn/qrgate/internal/config"
)

// LocalLimiterPool keeps one in-process token bucket per key. It backs the
// Redis limiter while Redis is unreachable; limits are then per instance.
type LocalLimiterPool struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	now     func() time.Time
}

type localEntry struct {
	limiter  *rate.Limiter
	policy   config.RateLimitPolicy
	lastUsed time.Time
}

// NewLocalLimiterPool creates an empty pool.
func NewLocalLimiterPool() *LocalLimiterPool {
	return &LocalLimiterPool{entries: make(map[string]*localEntry), now: time.Now}
}

// Allow takes one token from the bucket for key. The bucket refills at
// limit/window and holds limit*burstFactor tokens. A changed policy resets the bucket.
func (p *LocalLimiterPool) Allow(key string, policy config.RateLimitPolicy, burstFactor int) (bool, time.Duration) {
	if burstFactor < 1 {
		burstFactor = 1
	}
	now := p.now()

	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok || e.policy != policy {
		every := rate.Every(policy.Window / time.Duration(policy.Limit))
		e = &localEntry{limiter: rate.NewLimiter(every, policy.Limit*burstFactor), policy: policy}
		p.entries[key] = e
	}
	e.lastUsed = now
	p.mu.Unlock()

	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, policy.Window
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Cleanup removes buckets idle for longer than maxIdle and returns how many were removed.
func (p *LocalLimiterPool) Cleanup(maxIdle time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	removed := 0
	for key, e := range p.entries {
		if now.Sub(e.lastUsed) > maxIdle {
			delete(p.entries, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked keys.
func (p *LocalLimiterPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
