package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/ChatDesk/internal/dedup"
	"github.com/BTreeMap/ChatDesk/internal/models"
	"github.com/BTreeMap/ChatDesk/internal/store"
	"github.com/BTreeMap/ChatDesk/internal/twiliowhatsapp"
	"github.com/BTreeMap/ChatDesk/internal/whatsapp"
)

type recordingRouter struct {
	mu     sync.Mutex
	events []models.InboundEvent
	err    error
}

func (r *recordingRouter) Dispatch(_ context.Context, ev models.InboundEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingRouter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type countingObserver struct {
	mu                          sync.Mutex
	inbound, duplicate, blocked int
}

func (o *countingObserver) ObserveInbound()   { o.mu.Lock(); o.inbound++; o.mu.Unlock() }
func (o *countingObserver) ObserveDuplicate() { o.mu.Lock(); o.duplicate++; o.mu.Unlock() }
func (o *countingObserver) ObserveBlocked()   { o.mu.Lock(); o.blocked++; o.mu.Unlock() }

func TestDispatcher_ProcessDeduplicates(t *testing.T) {
	router := &recordingRouter{}
	obs := &countingObserver{}
	d := NewDispatcher(NewWhatsAppService(whatsapp.NewMockClient()), router, WithEventObserver(obs))

	at := time.Unix(1700000000, 0)
	ev := models.InboundEvent{ID: "3EB0AAA", From: "+52 1 555 0001", Body: "hola", Time: at}
	if !d.Process(context.Background(), ev) {
		t.Fatal("first event must be dispatched")
	}
	if d.Process(context.Background(), ev) {
		t.Fatal("repeat within the window must be dropped")
	}
	if router.count() != 1 || router.events[0].From != "5215550001" {
		t.Errorf("unexpected dispatched events: %+v", router.events)
	}
	if obs.inbound != 2 || obs.duplicate != 1 {
		t.Errorf("unexpected counters: %+v", obs)
	}
}

func TestDispatcher_DedupWindowExpires(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cache := dedup.NewCache(dedup.WithClock(func() time.Time { return now }))
	router := &recordingRouter{}
	d := NewDispatcher(NewWhatsAppService(whatsapp.NewMockClient()), router, WithDedupCache(cache))

	ev := models.InboundEvent{ID: "3EB0AAA", From: "5215550001", Body: "hola", Time: now}
	d.Process(context.Background(), ev)
	now = now.Add(dedup.DefaultWindow)
	if !d.Process(context.Background(), ev) {
		t.Error("event must be processed again after the window")
	}
}

func TestDispatcher_DistinctIDsSameSecond(t *testing.T) {
	router := &recordingRouter{}
	d := NewDispatcher(NewWhatsAppService(whatsapp.NewMockClient()), router)

	at := time.Unix(1700000000, 0)
	first := models.InboundEvent{ID: "3EB0AAA", From: "5215550001", Body: "12345", Time: at}
	second := models.InboundEvent{ID: "3EB0BBB", From: "5215550001", Body: "Juan Perez", Time: at}
	if !d.Process(context.Background(), first) {
		t.Fatal("first message must be dispatched")
	}
	if !d.Process(context.Background(), second) {
		t.Fatal("second message with its own id must be dispatched")
	}
	if router.count() != 2 || router.events[1].Body != "Juan Perez" {
		t.Errorf("unexpected dispatched events: %+v", router.events)
	}
	if d.Process(context.Background(), second) {
		t.Error("redelivery of the same id must be dropped")
	}
}

func TestDispatcher_NoIDKeysOnArrivalTime(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cache := dedup.NewCache(dedup.WithClock(func() time.Time { return now }))
	router := &recordingRouter{}
	d := NewDispatcher(NewWhatsAppService(whatsapp.NewMockClient()), router, WithDedupCache(cache))

	// Provider time is identical for all three; only arrival time differs.
	ev := models.InboundEvent{From: "5215550001", Body: "hola", Time: now}
	if !d.Process(context.Background(), ev) {
		t.Fatal("first event must be dispatched")
	}
	if d.Process(context.Background(), ev) {
		t.Fatal("event arriving in the same millisecond must be dropped")
	}
	now = now.Add(time.Millisecond)
	if !d.Process(context.Background(), ev) {
		t.Error("event arriving a millisecond later must be dispatched")
	}
	if router.count() != 2 {
		t.Errorf("dispatched = %d, want 2", router.count())
	}
}

func TestDispatcher_Blacklist(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	st.AddToBlacklist(ctx, "5215550001")
	router := &recordingRouter{}
	obs := &countingObserver{}
	d := NewDispatcher(NewWhatsAppService(whatsapp.NewMockClient()), router, WithBlacklist(st), WithEventObserver(obs))

	if d.Process(ctx, models.InboundEvent{From: "5215550001", Body: "hola", Time: time.Now()}) {
		t.Fatal("blacklisted sender must be dropped")
	}
	if !d.Process(ctx, models.InboundEvent{From: "5215550002", Body: "hola", Time: time.Now()}) {
		t.Fatal("other senders must be dispatched")
	}
	if obs.blocked != 1 {
		t.Errorf("expected 1 blocked event, got %d", obs.blocked)
	}
}

func TestDispatcher_RouterErrorIsContained(t *testing.T) {
	router := &recordingRouter{err: errors.New("boom")}
	d := NewDispatcher(NewWhatsAppService(whatsapp.NewMockClient()), router)
	if !d.Process(context.Background(), models.InboundEvent{From: "5215550001", Body: "hola", Time: time.Now()}) {
		t.Error("a failing router still counts as dispatched")
	}
}

func TestDispatcher_StartConsumesChannels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	st := store.NewInMemoryStore()
	router := &recordingRouter{}
	d := NewDispatcher(svc, router, WithReceiptRecorder(st))
	d.Start(ctx)

	svc.emitEvent(models.InboundEvent{From: "5215550001", Body: "hola", Time: time.Now()})
	svc.emitReceipt(models.Receipt{To: "5215550001", Status: models.MessageStatusDelivered, Time: 1})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		receipts, _ := st.GetReceipts(ctx)
		if router.count() == 1 && len(receipts) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	d.Wait()
	if router.count() != 1 {
		t.Errorf("expected 1 dispatched event, got %d", router.count())
	}
	if receipts, _ := st.GetReceipts(ctx); len(receipts) != 1 {
		t.Errorf("expected 1 stored receipt, got %d", len(receipts))
	}
}
