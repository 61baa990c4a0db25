package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/ChatDesk/internal/throttle"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestObserveDispatch(t *testing.T) {
	m := New()
	m.ObserveInbound()
	m.ObserveInbound()
	m.ObserveDuplicate()
	m.ObserveDispatch("registration", 0.02, nil)
	m.ObserveDispatch("ai_chat", 0.5, errors.New("boom"))
	m.ObserveDispatch("", 0.001, nil)

	out := scrape(t, m)
	for _, want := range []string{
		"chatdesk_inbound_events_total 2",
		"chatdesk_duplicate_events_total 1",
		`chatdesk_dispatch_total{handler="registration"} 1`,
		`chatdesk_dispatch_total{handler="none"} 1`,
		`chatdesk_dispatch_failures_total{handler="ai_chat"} 1`,
		"chatdesk_dispatch_seconds_count 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestInstrumentTracker(t *testing.T) {
	m := New()
	tracker := m.InstrumentTracker(throttle.NewMemoryTracker(nil))
	ctx := context.Background()
	tracker.TryClaim(ctx, "w1", "5215550001", time.Hour)
	tracker.TryClaim(ctx, "w1", "5215550001", time.Hour)

	out := scrape(t, m)
	if !strings.Contains(out, `chatdesk_welcome_claims_total{result="claimed"} 1`) ||
		!strings.Contains(out, `chatdesk_welcome_claims_total{result="throttled"} 1`) {
		t.Errorf("unexpected claim metrics:\n%s", out)
	}
}
