package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordingWait(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	var waits []time.Duration
	p := Policy{Attempts: 3, Delay: time.Second}.WithWait(recordingWait(&waits))

	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(waits) != 2 || waits[0] != time.Second {
		t.Errorf("expected two 1s waits, got %v", waits)
	}
}

func TestDoReturnsLastError(t *testing.T) {
	var waits []time.Duration
	p := Policy{Attempts: 3, Delay: 10 * time.Millisecond}.WithWait(recordingWait(&waits))

	errs := []error{errors.New("first"), errors.New("second"), errors.New("third")}
	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		e := errs[calls]
		calls++
		return e
	})
	if !errors.Is(err, errs[2]) {
		t.Fatalf("expected last error, got %v", err)
	}
	if errors.Is(err, errs[0]) {
		t.Error("earlier errors should not be reported")
	}
	if len(waits) != 2 {
		t.Errorf("no wait expected after the final attempt, got %d waits", len(waits))
	}
}

func TestDoPermanentStopsEarly(t *testing.T) {
	sentinel := errors.New("not found")
	calls := 0
	err := Do(context.Background(), DefaultPolicy().WithWait(func(context.Context, time.Duration) error { return nil }), func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
}

func TestDoValueContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	failure := errors.New("backend down")
	_, err := DoValue(ctx, Policy{Attempts: 5, Delay: time.Hour}, func(context.Context) (int, error) {
		return 0, failure
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !errors.Is(err, failure) {
		t.Errorf("expected last failure to be preserved, got %v", err)
	}
}

func TestDoValueReturnsValue(t *testing.T) {
	v, err := DoValue(context.Background(), Policy{Attempts: 1}, func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("got (%q, %v)", v, err)
	}
}
