package flow

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterSweepEvery is how often idle limiters are dropped from the pool.
const limiterSweepEvery = time.Minute

// limiterPool hands out one token bucket per sender.
// A bucket that has refilled completely carries no state and is dropped on the next sweep.
type limiterPool struct {
	mu        sync.Mutex
	m         map[string]*rate.Limiter
	limit     rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

func newLimiterPool(perMinute, burst int) *limiterPool {
	if perMinute <= 0 {
		perMinute = 20
	}
	if burst <= 0 {
		burst = 5
	}
	return &limiterPool{
		m:     make(map[string]*rate.Limiter),
		limit: rate.Limit(float64(perMinute) / 60.0),
		burst: burst,
		now:   time.Now,
	}
}

// Allow takes one token from key's bucket.
func (p *limiterPool) Allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.lastSweep) >= limiterSweepEvery {
		p.sweepLocked(now)
	}
	l, ok := p.m[key]
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.m[key] = l
	}
	return l.AllowN(now, 1)
}

// sweepLocked removes full buckets. Callers hold p.mu.
func (p *limiterPool) sweepLocked(now time.Time) {
	for key, l := range p.m {
		if l.TokensAt(now) >= float64(p.burst) {
			delete(p.m, key)
		}
	}
	p.lastSweep = now
}

func (p *limiterPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
