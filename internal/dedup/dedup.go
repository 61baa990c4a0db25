// Package dedup suppresses repeated delivery of the same inbound event.
package dedup

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// DefaultWindow is how long a key is remembered after first sight.
const DefaultWindow = 5 * time.Second

// Cache remembers keys for a fixed window. It is safe for concurrent use.
type Cache struct {
	mu     sync.Mutex
	seen   map[string]time.Time // key -> expiry
	window time.Duration
	now    func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithWindow overrides the retention window.
func WithWindow(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithClock sets the clock used to compute expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache creates an empty Cache.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		seen:   make(map[string]time.Time),
		window: DefaultWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds the dedup key for a sender and arrival time.
func Key(sender string, at time.Time) string {
	return sender + "-" + strconv.FormatInt(at.UnixMilli(), 10)
}

// EventKey builds the dedup key for an inbound event. A provider message id identifies a
// redelivery exactly, so it is preferred; without one the key falls back to Key with the
// arrival time. Provider timestamps are not used because they only carry whole seconds.
func EventKey(sender, id string, arrival time.Time) string {
	if id != "" {
		return sender + "-id-" + id
	}
	return Key(sender, arrival)
}

// Now returns the cache clock's current time.
func (c *Cache) Now() time.Time {
	return c.now()
}

// ShouldProcess records key and returns true on first sight.
// It returns false while an earlier sighting is still inside the window.
func (c *Cache) ShouldProcess(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if exp, ok := c.seen[key]; ok && now.Before(exp) {
		return false
	}
	c.seen[key] = now.Add(c.window)
	return true
}

// Len returns the number of remembered keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Sweep drops expired keys and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, exp := range c.seen {
		if !now.Before(exp) {
			delete(c.seen, k)
			removed++
		}
	}
	return removed
}

// Run sweeps expired keys every window until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				slog.Debug("Cache.Run: swept expired dedup keys", "removed", n)
			}
		}
	}
}
