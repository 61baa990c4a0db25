// Package messaging connects chat transports to the flow router.
//
// A Service adapts one transport (whatsmeow or Twilio) to a common shape: outbound text and
// media, and channels of inbound events and delivery receipts. A Dispatcher consumes those
// channels.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/BTreeMap/ChatDesk/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for receipt and event channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// MinPhoneDigits is the shortest accepted recipient
	MinPhoneDigits = 6
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient returns the digits-only form of a recipient.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendMedia sends an image, voice note, video or document.
	SendMedia(ctx context.Context, to string, media models.OutboundMedia) error

	// Start begins any background processing (e.g., event handling).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the channels.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Events returns a channel of inbound user messages.
	Events() <-chan models.InboundEvent
}

// canonicalizeRecipient strips transport prefixes and every non-digit character.
func canonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(models.CanonicalSender(recipient), "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}
	return canonical, nil
}

// emit sends v on ch unless done is closed or the channel stays full for DefaultChannelTimeout.
func emit[T any](ch chan<- T, done <-chan struct{}, v T) bool {
	select {
	case <-done:
		return false
	default:
	}
	select {
	case ch <- v:
		return true
	case <-done:
		return false
	case <-time.After(DefaultChannelTimeout):
		return false
	}
}

// channels holds the event and receipt channels of a Service and closes them safely.
type channels struct {
	mu       sync.RWMutex
	once     sync.Once
	stopped  bool
	done     chan struct{}
	receipts chan models.Receipt
	events   chan models.InboundEvent
}

func newChannels() *channels {
	return &channels{
		done:     make(chan struct{}),
		receipts: make(chan models.Receipt, DefaultChannelBufferSize),
		events:   make(chan models.InboundEvent, DefaultChannelBufferSize),
	}
}

func (c *channels) isStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped
}

func (c *channels) emitEvent(ev models.InboundEvent) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return false
	}
	return emit(c.events, c.done, ev)
}

func (c *channels) emitReceipt(r models.Receipt) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return false
	}
	return emit(c.receipts, c.done, r)
}

// stop wakes blocked emitters, then closes both channels. It is idempotent.
func (c *channels) stop() {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		defer c.mu.Unlock()
		c.stopped = true
		close(c.receipts)
		close(c.events)
	})
}

func sentReceipt(to string) models.Receipt {
	return models.Receipt{To: to, Status: models.MessageStatusSent, Time: time.Now().Unix()}
}
