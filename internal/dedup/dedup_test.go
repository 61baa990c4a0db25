package dedup

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestShouldProcessWithinWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	c := NewCache(WithClock(clock.Now))

	key := Key("5215550001", clock.Now())
	if !c.ShouldProcess(key) {
		t.Fatal("first sighting should be processed")
	}
	clock.Advance(4 * time.Second)
	if c.ShouldProcess(key) {
		t.Fatal("repeat within window should be dropped")
	}
	clock.Advance(2 * time.Second)
	if !c.ShouldProcess(key) {
		t.Fatal("key should be accepted again after the window")
	}
}

func TestDistinctKeys(t *testing.T) {
	c := NewCache()
	now := time.Now()
	if !c.ShouldProcess(Key("a", now)) || !c.ShouldProcess(Key("b", now)) {
		t.Fatal("different senders must not collide")
	}
	if !c.ShouldProcess(Key("a", now.Add(time.Millisecond))) {
		t.Fatal("different timestamps must not collide")
	}
}

func TestEventKey(t *testing.T) {
	at := time.Unix(1700000000, 0)
	if EventKey("a", "3EB0AAA", at) == EventKey("a", "3EB0BBB", at) {
		t.Error("distinct ids at the same time must not collide")
	}
	if EventKey("a", "3EB0AAA", at) != EventKey("a", "3EB0AAA", at.Add(time.Second)) {
		t.Error("the same id must produce the same key regardless of arrival")
	}
	if EventKey("a", "3EB0AAA", at) == EventKey("b", "3EB0AAA", at) {
		t.Error("different senders must not collide")
	}
	if got, want := EventKey("a", "", at), Key("a", at); got != want {
		t.Errorf("EventKey without id = %q, want %q", got, want)
	}
}

func TestSweep(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := NewCache(WithClock(clock.Now), WithWindow(time.Second))
	c.ShouldProcess("x")
	c.ShouldProcess("y")
	clock.Advance(500 * time.Millisecond)
	c.ShouldProcess("z")

	clock.Advance(600 * time.Millisecond)
	if n := c.Sweep(); n != 2 {
		t.Fatalf("expected 2 keys swept, got %d", n)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 key left, got %d", c.Len())
	}
}

func TestConcurrentFirstSighting(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.ShouldProcess("same") {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if accepted != 1 {
		t.Fatalf("expected exactly one acceptance, got %d", accepted)
	}
}
