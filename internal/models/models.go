// Package models defines the core data structures for ChatDesk.
//
// It includes inbound events, outbound media, bot configuration records and API payloads,
// which are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Validation constants for input validation
const (
	// MaxMessageBodyLength defines the maximum allowed length for an outbound message body
	MaxMessageBodyLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message or media is required")
	ErrBodyTooLong    = errors.New("message body exceeds maximum length")
	ErrInvalidIntent  = errors.New("intent must be add or remove")

	// ErrDuplicateEntry is returned by client stores when the record already exists.
	ErrDuplicateEntry = errors.New("duplicate entry")
	// ErrNotFound is returned when a configuration record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks a collaborator that returned nothing usable, such as an
	// inactive chatbot or an empty form.
	ErrUnavailable = errors.New("collaborator unavailable")
)

// MediaKind identifies the type of a media attachment.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaAudio    MediaKind = "audio"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// Media is an attachment on an inbound event. Data is filled when the transport
// downloaded the payload, URL when the provider hosts it.
type Media struct {
	Kind     MediaKind `json:"kind"`
	URL      string    `json:"url,omitempty"`
	MIMEType string    `json:"mime_type,omitempty"`
	Filename string    `json:"filename,omitempty"`
	Data     []byte    `json:"-"`
}

// InboundEvent is one user message received from a transport. Treat it as immutable.
type InboundEvent struct {
	ID    string    `json:"id,omitempty"` // provider message id, may be empty
	From  string    `json:"from"`         // canonical sender, digits only
	Body  string    `json:"body"`
	Media *Media    `json:"media,omitempty"`
	Time  time.Time `json:"time"`
}

// HasAudio reports whether the event carries a voice note or audio file.
func (e InboundEvent) HasAudio() bool {
	return e.Media != nil && e.Media.Kind == MediaAudio
}

// OutboundMedia describes a media reply. Either URL or Data must be set.
type OutboundMedia struct {
	Kind     MediaKind `json:"kind"`
	URL      string    `json:"url,omitempty"`
	Data     []byte    `json:"-"`
	MIMEType string    `json:"mime_type,omitempty"`
	Caption  string    `json:"caption,omitempty"`
}

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt is a delivery or read receipt reported by a transport.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// CanonicalSender strips transport decorations from a sender address:
// the WhatsApp JID server and device suffix, the Twilio "whatsapp:" prefix and a leading "+".
func CanonicalSender(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "whatsapp:")
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimPrefix(s, "+")
}
