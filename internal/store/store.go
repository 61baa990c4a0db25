// Package store provides storage backends for ChatDesk.
//
// Chatbot configuration, client records, chat history, conversation state, the blacklist
// and welcome tracking live behind one Store interface with in-memory, SQLite and
// PostgreSQL implementations.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ChatDesk/internal/models"
)

// Opts holds store configuration.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns the database/sql driver name for dsn: "postgres" for
// PostgreSQL URLs and key=value connection strings, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") || strings.Contains(d, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// ConfigRepo reads chatbot configuration.
type ConfigRepo interface {
	ActiveChatbot(ctx context.Context, sender string) (*models.Chatbot, error)
	FormFields(ctx context.Context, chatbotID string) (models.FormDefinition, error)
	FormMessages(ctx context.Context, chatbotID string) (*models.FormMessages, error)
	ActiveFlows(ctx context.Context, chatbotID string) ([]models.FlowCandidate, error)
	ActiveWelcome(ctx context.Context, chatbotID string) (*models.Welcome, error)
	BehaviorPrompt(ctx context.Context, chatbotID string) (string, error)
	KnowledgePrompts(ctx context.Context, chatbotID string) ([]string, error)
}

// ConfigWriter stores chatbot configuration.
type ConfigWriter interface {
	SaveChatbot(ctx context.Context, bot models.Chatbot) error
	// SaveFormFields replaces the chatbot's form.
	SaveFormFields(ctx context.Context, chatbotID string, fields models.FormDefinition) error
	SaveFormMessages(ctx context.Context, chatbotID string, msgs models.FormMessages) error
	SaveFlow(ctx context.Context, flow models.FlowCandidate) error
	SaveWelcome(ctx context.Context, w models.Welcome) error
	SavePrompt(ctx context.Context, p models.Prompt) error
}

// ClientRepo stores completed registrations.
type ClientRepo interface {
	// SaveClient assigns an ID and creation time. It returns models.ErrDuplicateEntry when
	// the chatbot already has a client with the same identification number.
	SaveClient(ctx context.Context, rec models.ClientRecord) (models.ClientRecord, error)
	ListClients(ctx context.Context, chatbotID string) ([]models.ClientRecord, error)
}

// HistoryRepo stores AI chat history.
type HistoryRepo interface {
	AddChatEntry(ctx context.Context, entry models.ChatHistoryEntry) error
	RecentHistory(ctx context.Context, chatbotID, phone string, limit int) ([]models.ChatHistoryEntry, error)
	DeleteChatHistoryBefore(ctx context.Context, before time.Time) (int64, error)
}

// FlowStateRepo stores the active conversation of each sender.
type FlowStateRepo interface {
	GetFlowState(ctx context.Context, sender string) (*models.FlowState, error)
	SaveFlowState(ctx context.Context, state models.FlowState) error
	DeleteFlowState(ctx context.Context, sender string) error
}

// BlacklistRepo stores senders the assistant ignores.
type BlacklistRepo interface {
	AddToBlacklist(ctx context.Context, phone string) error
	RemoveFromBlacklist(ctx context.Context, phone string) error
	IsBlacklisted(ctx context.Context, phone string) (bool, error)
	ListBlacklist(ctx context.Context) ([]string, error)
}

// ReceiptRepo stores delivery receipts.
type ReceiptRepo interface {
	AddReceipt(ctx context.Context, r models.Receipt) error
	GetReceipts(ctx context.Context) ([]models.Receipt, error)
}

// WelcomeTracker is a durable throttle for welcome messages. See throttle.Tracker.
type WelcomeTracker interface {
	TryClaim(ctx context.Context, messageID, recipient string, window time.Duration) (bool, error)
	PurgeExpired(ctx context.Context) (int, error)
}

// Store is implemented by every backend.
type Store interface {
	ConfigRepo
	ConfigWriter
	ClientRepo
	HistoryRepo
	FlowStateRepo
	BlacklistRepo
	ReceiptRepo
	WelcomeTracker
	Close() error
}

// Open returns a SQLite or PostgreSQL store depending on the DSN, or an in-memory store
// when the DSN is empty.
func Open(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		slog.Info("store.Open: no database configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(dsn) {
	case "postgres":
		s, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, nil
	default:
		s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	}
}
