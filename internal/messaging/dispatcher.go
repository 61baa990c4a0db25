package messaging

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/BTreeMap/ChatDesk/internal/dedup"
	"github.com/BTreeMap/ChatDesk/internal/models"
)

// DefaultEventTimeout bounds the processing of a single inbound event.
const DefaultEventTimeout = 2 * time.Minute

// EventRouter handles one deduplicated event. *flow.Router implements it.
type EventRouter interface {
	Dispatch(ctx context.Context, ev models.InboundEvent) error
}

// Blacklist reports senders whose messages are ignored.
type Blacklist interface {
	IsBlacklisted(ctx context.Context, phone string) (bool, error)
}

// ReceiptRecorder stores delivery receipts.
type ReceiptRecorder interface {
	AddReceipt(ctx context.Context, r models.Receipt) error
}

// EventObserver counts inbound traffic.
type EventObserver interface {
	ObserveInbound()
	ObserveDuplicate()
	ObserveBlocked()
}

// Dispatcher reads a Service's channels. Each inbound event is deduplicated, checked
// against the blacklist and dispatched on its own goroutine.
type Dispatcher struct {
	svc       Service
	router    EventRouter
	dedup     *dedup.Cache
	blacklist Blacklist
	receipts  ReceiptRecorder
	observer  EventObserver
	timeout   time.Duration
	wg        sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDedupCache replaces the default dedup cache.
func WithDedupCache(c *dedup.Cache) DispatcherOption {
	return func(d *Dispatcher) {
		if c != nil {
			d.dedup = c
		}
	}
}

// WithBlacklist drops events from blacklisted senders.
func WithBlacklist(b Blacklist) DispatcherOption {
	return func(d *Dispatcher) { d.blacklist = b }
}

// WithReceiptRecorder stores receipts read from the service.
func WithReceiptRecorder(r ReceiptRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.receipts = r }
}

// WithEventObserver reports inbound, duplicate and blocked events.
func WithEventObserver(o EventObserver) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// WithEventTimeout bounds the processing of each event.
func WithEventTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(svc Service, router EventRouter, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		svc:     svc,
		router:  router,
		dedup:   dedup.NewCache(),
		timeout: DefaultEventTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start begins consuming events and receipts until ctx is cancelled or the service's
// channels close.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("Dispatcher starting event processing")
	go d.dedup.Run(ctx)

	go func() {
		defer slog.Info("Dispatcher stopped event processing")
		for {
			select {
			case ev, ok := <-d.svc.Events():
				if !ok {
					slog.Debug("Dispatcher events channel closed")
					return
				}
				d.wg.Add(1)
				go func() {
					defer d.wg.Done()
					d.Process(ctx, ev)
				}()
			case <-ctx.Done():
				slog.Debug("Dispatcher stopping due to context cancellation")
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case r, ok := <-d.svc.Receipts():
				if !ok {
					return
				}
				d.recordReceipt(ctx, r)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until in-flight events finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Process handles one event synchronously. It reports whether the event reached the router.
func (d *Dispatcher) Process(ctx context.Context, ev models.InboundEvent) bool {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Dispatcher.Process: panic", "panic", rec, "from", ev.From, "stack", string(debug.Stack()))
		}
	}()

	if d.observer != nil {
		d.observer.ObserveInbound()
	}

	from, err := d.svc.ValidateAndCanonicalizeRecipient(ev.From)
	if err != nil {
		slog.Warn("Dispatcher.Process: invalid sender", "error", err, "from", ev.From)
		return false
	}
	ev.From = from

	if !d.dedup.ShouldProcess(dedup.EventKey(ev.From, ev.ID, d.dedup.Now())) {
		slog.Debug("Dispatcher.Process: duplicate event dropped", "from", ev.From, "id", ev.ID)
		if d.observer != nil {
			d.observer.ObserveDuplicate()
		}
		return false
	}

	if d.blacklist != nil {
		blocked, err := d.blacklist.IsBlacklisted(ctx, ev.From)
		if err != nil {
			slog.Error("Dispatcher.Process: blacklist lookup failed", "error", err, "from", ev.From)
		} else if blocked {
			slog.Info("Dispatcher.Process: sender is blacklisted", "from", ev.From)
			if d.observer != nil {
				d.observer.ObserveBlocked()
			}
			return false
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.router.Dispatch(ctx, ev); err != nil {
		slog.Error("Dispatcher.Process: dispatch failed", "error", err, "from", ev.From)
	}
	return true
}

func (d *Dispatcher) recordReceipt(ctx context.Context, r models.Receipt) {
	if d.receipts == nil {
		return
	}
	if err := d.receipts.AddReceipt(ctx, r); err != nil {
		slog.Error("Dispatcher failed to store receipt", "error", err, "to", r.To, "status", r.Status)
	}
}
