// Package throttle limits one-time messages, such as welcome greetings, to one send
// per recipient within a time window.
package throttle

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is the welcome throttle window used when none is configured.
const DefaultWindow = 24 * time.Hour

// Tracker claims the right to send a message to a recipient.
//
// TryClaim purges expired entries, then returns true and records a new entry only if no
// unexpired entry exists for (messageID, recipient). The check and insert are atomic.
type Tracker interface {
	TryClaim(ctx context.Context, messageID, recipient string, window time.Duration) (bool, error)
}

// Purger is implemented by trackers that can drop expired entries on demand.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

type entryKey struct {
	messageID string
	recipient string
}

// MemoryTracker is an in-process Tracker.
type MemoryTracker struct {
	mu      sync.Mutex
	entries map[entryKey]time.Time // -> expiry
	now     func() time.Time
}

// NewMemoryTracker creates an empty tracker. A nil clock uses time.Now.
func NewMemoryTracker(now func() time.Time) *MemoryTracker {
	if now == nil {
		now = time.Now
	}
	return &MemoryTracker{entries: make(map[entryKey]time.Time), now: now}
}

// TryClaim implements Tracker.
func (t *MemoryTracker) TryClaim(_ context.Context, messageID, recipient string, window time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.purgeLocked(now)

	k := entryKey{messageID: messageID, recipient: recipient}
	if _, ok := t.entries[k]; ok {
		return false, nil
	}
	t.entries[k] = now.Add(window)
	return true, nil
}

// PurgeExpired implements Purger.
func (t *MemoryTracker) PurgeExpired(_ context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.purgeLocked(t.now()), nil
}

func (t *MemoryTracker) purgeLocked(now time.Time) int {
	n := 0
	for k, exp := range t.entries {
		if !now.Before(exp) {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

var (
	_ Tracker = (*MemoryTracker)(nil)
	_ Purger  = (*MemoryTracker)(nil)
)
