// Package flow routes inbound chat events to conversation handlers.
//
// A Router holds handlers ordered by priority, a fallback handler and a per-sender
// conversation store. While a sender has an active conversation, only the handler that
// owns it sees their messages.
package flow

import (
	"context"

	"github.com/BTreeMap/ChatDesk/internal/models"
)

// ConfigSource supplies chatbot configuration. Lookups that find nothing return a nil
// pointer or an empty value with a nil error.
type ConfigSource interface {
	ActiveChatbot(ctx context.Context, sender string) (*models.Chatbot, error)
	FormFields(ctx context.Context, chatbotID string) (models.FormDefinition, error)
	FormMessages(ctx context.Context, chatbotID string) (*models.FormMessages, error)
	ActiveFlows(ctx context.Context, chatbotID string) ([]models.FlowCandidate, error)
	ActiveWelcome(ctx context.Context, chatbotID string) (*models.Welcome, error)
	BehaviorPrompt(ctx context.Context, chatbotID string) (string, error)
	KnowledgePrompts(ctx context.Context, chatbotID string) ([]string, error)
}

// ClientStore persists completed registrations. SaveClient returns models.ErrDuplicateEntry
// when the chatbot already has a client with the same identification number.
type ClientStore interface {
	SaveClient(ctx context.Context, rec models.ClientRecord) (models.ClientRecord, error)
}

// HistoryStore keeps AI conversation history.
type HistoryStore interface {
	AddChatEntry(ctx context.Context, entry models.ChatHistoryEntry) error
	// RecentHistory returns at most limit entries in chronological order.
	RecentHistory(ctx context.Context, chatbotID, phone string, limit int) ([]models.ChatHistoryEntry, error)
}

// ReplyGenerator produces AI replies and embeddings.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, systemPrompts []string, history []models.ChatTurn) (string, error)
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Synthesizer converts text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Sender delivers replies. Failures are returned to the caller, never retried here.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) error
	SendMedia(ctx context.Context, to string, media models.OutboundMedia) error
}

// Observer receives dispatch outcomes. handler is empty when the event was dropped.
type Observer interface {
	ObserveDispatch(handler string, seconds float64, err error)
}
