package flow

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/ChatDesk/internal/form"
)

// Conversation is the active stateful exchange of one sender. Owner names the handler
// that continues it.
type Conversation struct {
	Owner     string        `json:"owner"`
	ChatbotID string        `json:"chatbot_id"`
	Form      form.Progress `json:"form"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StateStore keeps at most one Conversation per sender. Get returns nil when none is active.
type StateStore interface {
	Get(ctx context.Context, sender string) (*Conversation, error)
	Put(ctx context.Context, sender string, conv Conversation) error
	Delete(ctx context.Context, sender string) error
}

// MemoryStateStore is a process-local StateStore.
type MemoryStateStore struct {
	mu    sync.RWMutex
	convs map[string]Conversation
}

// NewMemoryStateStore creates an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{convs: make(map[string]Conversation)}
}

// Get implements StateStore.
func (s *MemoryStateStore) Get(_ context.Context, sender string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[sender]
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

// Put implements StateStore.
func (s *MemoryStateStore) Put(_ context.Context, sender string, conv Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[sender] = conv
	return nil
}

// Delete implements StateStore.
func (s *MemoryStateStore) Delete(_ context.Context, sender string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, sender)
	return nil
}

var _ StateStore = (*MemoryStateStore)(nil)
