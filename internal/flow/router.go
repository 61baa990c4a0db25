package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/BTreeMap/ChatDesk/internal/models"
)

// ErrUnknownOwner is returned when a conversation is saved for a handler the router
// does not know as stateful.
var ErrUnknownOwner = errors.New("conversation owner is not a registered stateful handler")

// Handler is a conversation handler. Handle reports whether it engaged with the turn;
// an engaged handler ends the search.
type Handler interface {
	Name() string
	Priority() int
	Handle(ctx context.Context, turn *Turn) (bool, error)
}

// StatefulHandler owns multi-turn conversations. While a sender has a Conversation owned by
// the handler, Continue receives every message from that sender.
type StatefulHandler interface {
	Handler
	Continue(ctx context.Context, turn *Turn, conv Conversation) error
}

// Starter is implemented by stateful handlers that can open a conversation without a
// trigger message, for example from the HTTP API.
type Starter interface {
	Begin(ctx context.Context, turn *Turn) error
}

// Turn is one inbound message being handled.
type Turn struct {
	Event  models.InboundEvent
	Sender string
	// Text is the trimmed message body, or the transcription of a voice note.
	Text string
	// Voice is true when Text came from a transcription.
	Voice bool

	router *Router
	// handler is the handler currently running, for attributing panics.
	handler string
}

// Reply sends text messages to the sender in order.
func (t *Turn) Reply(ctx context.Context, texts ...string) error {
	for _, txt := range texts {
		if strings.TrimSpace(txt) == "" {
			continue
		}
		if err := t.router.sender.SendMessage(ctx, t.Sender, txt); err != nil {
			return fmt.Errorf("failed to send reply: %w", err)
		}
	}
	return nil
}

// ReplyMedia sends a media message to the sender.
func (t *Turn) ReplyMedia(ctx context.Context, media models.OutboundMedia) error {
	if err := t.router.sender.SendMedia(ctx, t.Sender, media); err != nil {
		return fmt.Errorf("failed to send media reply: %w", err)
	}
	return nil
}

// ReplyWithMedia sends text with an image attachment and falls back to text only when the
// media send fails.
func (t *Turn) ReplyWithMedia(ctx context.Context, text, mediaURL string) error {
	if mediaURL == "" {
		return t.Reply(ctx, text)
	}
	err := t.ReplyMedia(ctx, models.OutboundMedia{Kind: models.MediaImage, URL: mediaURL, Caption: text})
	if err == nil {
		return nil
	}
	slog.Warn("Turn.ReplyWithMedia: media send failed, falling back to text", "error", err, "to", t.Sender, "media_url", mediaURL)
	return t.Reply(ctx, text)
}

// Save stores conv as the sender's active conversation.
func (t *Turn) Save(ctx context.Context, conv Conversation) error {
	if _, ok := t.router.stateful[conv.Owner]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOwner, conv.Owner)
	}
	conv.UpdatedAt = time.Now()
	return t.router.states.Put(ctx, t.Sender, conv)
}

// Clear removes the sender's active conversation.
func (t *Turn) Clear(ctx context.Context) error {
	return t.router.states.Delete(ctx, t.Sender)
}

// Router dispatches inbound events to handlers.
type Router struct {
	handlers    []Handler
	fallback    Handler
	stateful    map[string]StatefulHandler
	states      StateStore
	locks       *SenderLocks
	sender      Sender
	transcriber Transcriber
	observer    Observer
	apology     string
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithHandler registers a handler. Handlers are tried in ascending priority; handlers with
// equal priority keep registration order.
func WithHandler(h Handler) RouterOption {
	return func(r *Router) {
		r.handlers = append(r.handlers, h)
	}
}

// WithFallback sets the handler tried after every other handler declined.
func WithFallback(h Handler) RouterOption {
	return func(r *Router) {
		r.fallback = h
	}
}

// WithStateStore replaces the in-memory conversation store.
func WithStateStore(s StateStore) RouterOption {
	return func(r *Router) {
		if s != nil {
			r.states = s
		}
	}
}

// WithTranscriber enables voice notes: audio events are transcribed before routing.
func WithTranscriber(t Transcriber) RouterOption {
	return func(r *Router) {
		r.transcriber = t
	}
}

// WithObserver reports dispatch outcomes, typically to metrics.
func WithObserver(o Observer) RouterOption {
	return func(r *Router) {
		r.observer = o
	}
}

// WithApology replaces the reply sent when a handler fails.
func WithApology(msg string) RouterOption {
	return func(r *Router) {
		if msg != "" {
			r.apology = msg
		}
	}
}

// NewRouter creates a Router that replies through sender.
func NewRouter(sender Sender, opts ...RouterOption) *Router {
	r := &Router{
		stateful: make(map[string]StatefulHandler),
		states:   NewMemoryStateStore(),
		locks:    NewSenderLocks(),
		sender:   sender,
		apology:  MsgApology,
	}
	for _, opt := range opts {
		opt(r)
	}
	sort.SliceStable(r.handlers, func(i, j int) bool {
		return r.handlers[i].Priority() < r.handlers[j].Priority()
	})
	for _, h := range append(append([]Handler{}, r.handlers...), r.fallback) {
		if sh, ok := h.(StatefulHandler); ok {
			r.stateful[sh.Name()] = sh
		}
	}
	return r
}

// Handlers returns the handler names in evaluation order, fallback last.
func (r *Router) Handlers() []string {
	names := make([]string, 0, len(r.handlers)+1)
	for _, h := range r.handlers {
		names = append(names, h.Name())
	}
	if r.fallback != nil {
		names = append(names, r.fallback.Name())
	}
	return names
}

// States returns the conversation store.
func (r *Router) States() StateStore { return r.states }

// Dispatch routes one deduplicated event. Events of the same sender are processed one at a
// time. When a handler fails the sender gets a single apology, their conversation is
// cleared and the failure is returned for logging.
func (r *Router) Dispatch(ctx context.Context, ev models.InboundEvent) error {
	unlock := r.locks.Lock(ev.From)
	defer unlock()

	start := time.Now()
	turn := &Turn{Event: ev, Sender: ev.From, Text: strings.TrimSpace(ev.Body), router: r}
	name, err := r.safely(ctx, turn, r.route)
	r.finish(ctx, turn, name, start, err)
	return err
}

// Start opens a conversation with the named stateful handler for sender, as if the sender
// had typed the trigger. An active conversation is replaced.
func (r *Router) Start(ctx context.Context, sender, handler string) error {
	sh, ok := r.stateful[handler]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOwner, handler)
	}
	starter, ok := sh.(Starter)
	if !ok {
		return fmt.Errorf("handler %q cannot start conversations", handler)
	}

	unlock := r.locks.Lock(sender)
	defer unlock()

	start := time.Now()
	turn := &Turn{Event: models.InboundEvent{From: sender, Time: start}, Sender: sender, router: r}
	name, err := r.safely(ctx, turn, func(ctx context.Context, turn *Turn) (string, error) {
		turn.handler = handler
		if err := r.states.Delete(ctx, sender); err != nil {
			return handler, err
		}
		return handler, starter.Begin(ctx, turn)
	})
	r.finish(ctx, turn, name, start, err)
	return err
}

func (r *Router) safely(ctx context.Context, turn *Turn, fn func(context.Context, *Turn) (string, error)) (name string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			name = turn.handler
			slog.Error("Router: handler panic", "panic", rec, "from", turn.Sender, "handler", name, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return fn(ctx, turn)
}

func (r *Router) finish(ctx context.Context, turn *Turn, name string, start time.Time, err error) {
	if r.observer != nil {
		r.observer.ObserveDispatch(name, time.Since(start).Seconds(), err)
	}
	if err == nil {
		return
	}

	slog.Error("Router.Dispatch: handler failed", "error", err, "from", turn.Sender, "handler", name)
	if derr := r.states.Delete(ctx, turn.Sender); derr != nil {
		slog.Error("Router.Dispatch: failed to clear conversation", "error", derr, "from", turn.Sender)
	}
	if serr := r.sender.SendMessage(ctx, turn.Sender, r.apology); serr != nil {
		slog.Error("Router.Dispatch: failed to send apology", "error", serr, "from", turn.Sender)
	}
}

func (r *Router) route(ctx context.Context, turn *Turn) (string, error) {
	if turn.Text == "" && turn.Event.HasAudio() && r.transcriber != nil {
		if err := r.transcribe(ctx, turn); err != nil {
			slog.Warn("Router: transcription failed", "error", err, "from", turn.Sender)
			return "", turn.Reply(ctx, MsgTranscriptionFailed)
		}
	}

	conv, err := r.states.Get(ctx, turn.Sender)
	if err != nil {
		return "", fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv != nil {
		if h, ok := r.stateful[conv.Owner]; ok {
			slog.Debug("Router: continuing conversation", "from", turn.Sender, "handler", conv.Owner)
			turn.handler = h.Name()
			return h.Name(), h.Continue(ctx, turn, *conv)
		}
		slog.Warn("Router: dropping conversation with unknown owner", "from", turn.Sender, "owner", conv.Owner)
		if err := r.states.Delete(ctx, turn.Sender); err != nil {
			return "", fmt.Errorf("failed to clear orphaned conversation: %w", err)
		}
	}

	for _, h := range r.handlers {
		turn.handler = h.Name()
		handled, err := h.Handle(ctx, turn)
		if err != nil {
			return h.Name(), err
		}
		if handled {
			slog.Debug("Router: handled", "from", turn.Sender, "handler", h.Name())
			return h.Name(), nil
		}
	}

	if r.fallback != nil {
		turn.handler = r.fallback.Name()
		handled, err := r.fallback.Handle(ctx, turn)
		if err != nil || handled {
			return r.fallback.Name(), err
		}
	}

	slog.Debug("Router: no handler engaged, dropping event", "from", turn.Sender)
	return "", nil
}

func (r *Router) transcribe(ctx context.Context, turn *Turn) error {
	media := turn.Event.Media
	if len(media.Data) == 0 {
		return errors.New("audio payload was not downloaded")
	}
	name := media.Filename
	if name == "" {
		name = "voice.ogg"
	}
	text, err := r.transcriber.Transcribe(ctx, media.Data, name)
	if err != nil {
		return err
	}
	turn.Text = strings.TrimSpace(text)
	turn.Voice = true
	slog.Debug("Router: voice note transcribed", "from", turn.Sender, "chars", len(turn.Text))
	return nil
}
