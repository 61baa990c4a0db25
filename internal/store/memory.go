package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/ChatDesk/internal/models"
	"github.com/BTreeMap/ChatDesk/internal/throttle"
)

// InMemoryStore is a Store kept in process memory. Everything is lost on exit.
type InMemoryStore struct {
	mu         sync.RWMutex
	chatbots   map[string]models.Chatbot
	fields     map[string]models.FormDefinition
	messages   map[string]models.FormMessages
	flows      map[string]models.FlowCandidate
	welcomes   map[string]models.Welcome
	prompts    map[string]models.Prompt
	order      map[string]int // insertion sequence for stable "latest" lookups
	seq        int
	clients    []models.ClientRecord
	history    []models.ChatHistoryEntry
	flowStates map[string]models.FlowState
	blacklist  map[string]time.Time
	receipts   []models.Receipt
	welcome    *throttle.MemoryTracker
	now        func() time.Time
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{
		chatbots:   make(map[string]models.Chatbot),
		fields:     make(map[string]models.FormDefinition),
		messages:   make(map[string]models.FormMessages),
		flows:      make(map[string]models.FlowCandidate),
		welcomes:   make(map[string]models.Welcome),
		prompts:    make(map[string]models.Prompt),
		order:      make(map[string]int),
		flowStates: make(map[string]models.FlowState),
		blacklist:  make(map[string]time.Time),
		now:        time.Now,
	}
	s.welcome = throttle.NewMemoryTracker(func() time.Time { return s.now() })
	return s
}

func (s *InMemoryStore) touch(key string) {
	if _, ok := s.order[key]; !ok {
		s.seq++
		s.order[key] = s.seq
	}
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

// ActiveChatbot implements ConfigRepo.
func (s *InMemoryStore) ActiveChatbot(_ context.Context, sender string) (*models.Chatbot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Phone != sender {
			continue
		}
		if bot, ok := s.chatbots[s.history[i].ChatbotID]; ok && bot.Active {
			return &bot, nil
		}
		break
	}

	var best *models.Chatbot
	bestSeq := -1
	for _, bot := range s.chatbots {
		if !bot.Active {
			continue
		}
		seq := s.order["bot:"+bot.ID]
		if best == nil || bot.CreatedAt.After(best.CreatedAt) || (bot.CreatedAt.Equal(best.CreatedAt) && seq > bestSeq) {
			b := bot
			best, bestSeq = &b, seq
		}
	}
	return best, nil
}

// FormFields implements ConfigRepo.
func (s *InMemoryStore) FormFields(_ context.Context, chatbotID string) (models.FormDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def := s.fields[chatbotID]
	out := make(models.FormDefinition, len(def))
	copy(out, def)
	return out, nil
}

// FormMessages implements ConfigRepo.
func (s *InMemoryStore) FormMessages(_ context.Context, chatbotID string) (*models.FormMessages, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[chatbotID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// ActiveFlows implements ConfigRepo.
func (s *InMemoryStore) ActiveFlows(_ context.Context, chatbotID string) ([]models.FlowCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.FlowCandidate
	for _, f := range s.flows {
		if f.ChatbotID == chatbotID {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return s.order["flow:"+out[i].ID] < s.order["flow:"+out[j].ID]
	})
	return out, nil
}

// ActiveWelcome implements ConfigRepo.
func (s *InMemoryStore) ActiveWelcome(_ context.Context, chatbotID string) (*models.Welcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.Welcome
	for _, w := range s.welcomes {
		if w.ChatbotID != chatbotID {
			continue
		}
		if best == nil || s.order["welcome:"+w.ID] > s.order["welcome:"+best.ID] {
			c := w
			best = &c
		}
	}
	return best, nil
}

func (s *InMemoryStore) promptsOf(chatbotID string, kind models.PromptKind) []models.Prompt {
	var out []models.Prompt
	for _, p := range s.prompts {
		if p.ChatbotID == chatbotID && p.Kind == kind {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.order["prompt:"+out[i].ID] < s.order["prompt:"+out[j].ID] })
	return out
}

// BehaviorPrompt implements ConfigRepo.
func (s *InMemoryStore) BehaviorPrompt(_ context.Context, chatbotID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps := s.promptsOf(chatbotID, models.PromptBehavior)
	if len(ps) == 0 {
		return "", nil
	}
	return ps[len(ps)-1].Text, nil
}

// KnowledgePrompts implements ConfigRepo.
func (s *InMemoryStore) KnowledgePrompts(_ context.Context, chatbotID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, p := range s.promptsOf(chatbotID, models.PromptKnowledge) {
		out = append(out, p.Text)
	}
	return out, nil
}

// SaveChatbot implements ConfigWriter.
func (s *InMemoryStore) SaveChatbot(_ context.Context, bot models.Chatbot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bot.CreatedAt.IsZero() {
		if old, ok := s.chatbots[bot.ID]; ok {
			bot.CreatedAt = old.CreatedAt
		} else {
			bot.CreatedAt = s.now()
		}
	}
	s.chatbots[bot.ID] = bot
	s.touch("bot:" + bot.ID)
	return nil
}

// SaveFormFields implements ConfigWriter.
func (s *InMemoryStore) SaveFormFields(_ context.Context, chatbotID string, fields models.FormDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def := make(models.FormDefinition, len(fields))
	copy(def, fields)
	s.fields[chatbotID] = def
	return nil
}

// SaveFormMessages implements ConfigWriter.
func (s *InMemoryStore) SaveFormMessages(_ context.Context, chatbotID string, m models.FormMessages) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[chatbotID] = m
	return nil
}

// SaveFlow implements ConfigWriter.
func (s *InMemoryStore) SaveFlow(_ context.Context, f models.FlowCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	s.flows[f.ID] = f
	s.touch("flow:" + f.ID)
	return nil
}

// SaveWelcome implements ConfigWriter.
func (s *InMemoryStore) SaveWelcome(_ context.Context, w models.Welcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	s.welcomes[w.ID] = w
	s.touch("welcome:" + w.ID)
	return nil
}

// SavePrompt implements ConfigWriter.
func (s *InMemoryStore) SavePrompt(_ context.Context, p models.Prompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.prompts[p.ID] = p
	s.touch("prompt:" + p.ID)
	return nil
}

// SaveClient implements ClientRepo.
func (s *InMemoryStore) SaveClient(_ context.Context, rec models.ClientRecord) (models.ClientRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.IdentificationNumber != "" {
		for _, c := range s.clients {
			if c.ChatbotID == rec.ChatbotID && c.IdentificationNumber == rec.IdentificationNumber {
				return models.ClientRecord{}, models.ErrDuplicateEntry
			}
		}
	}
	rec.ID = uuid.NewString()
	rec.CreatedAt = s.now()
	s.clients = append(s.clients, rec)
	return rec, nil
}

// ListClients implements ClientRepo.
func (s *InMemoryStore) ListClients(_ context.Context, chatbotID string) ([]models.ClientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ClientRecord
	for _, c := range s.clients {
		if c.ChatbotID == chatbotID {
			out = append(out, c)
		}
	}
	return out, nil
}

// AddChatEntry implements HistoryRepo.
func (s *InMemoryStore) AddChatEntry(_ context.Context, e models.ChatHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	s.history = append(s.history, e)
	return nil
}

// RecentHistory implements HistoryRepo.
func (s *InMemoryStore) RecentHistory(_ context.Context, chatbotID, phone string, limit int) ([]models.ChatHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		return nil, nil
	}
	var out []models.ChatHistoryEntry
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.history[i]
		if e.ChatbotID == chatbotID && e.Phone == phone {
			out = append(out, e)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// DeleteChatHistoryBefore implements HistoryRepo.
func (s *InMemoryStore) DeleteChatHistoryBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.history[:0]
	var n int64
	for _, e := range s.history {
		if e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.history = kept
	return n, nil
}

// GetFlowState implements FlowStateRepo.
func (s *InMemoryStore) GetFlowState(_ context.Context, sender string) (*models.FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fs, ok := s.flowStates[sender]
	if !ok {
		return nil, nil
	}
	return &fs, nil
}

// SaveFlowState implements FlowStateRepo.
func (s *InMemoryStore) SaveFlowState(_ context.Context, fs models.FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.flowStates[fs.Sender]; ok {
		fs.CreatedAt = old.CreatedAt
	}
	s.flowStates[fs.Sender] = fs
	return nil
}

// DeleteFlowState implements FlowStateRepo.
func (s *InMemoryStore) DeleteFlowState(_ context.Context, sender string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flowStates, sender)
	return nil
}

// AddToBlacklist implements BlacklistRepo.
func (s *InMemoryStore) AddToBlacklist(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blacklist[phone]; !ok {
		s.blacklist[phone] = s.now()
	}
	return nil
}

// RemoveFromBlacklist implements BlacklistRepo.
func (s *InMemoryStore) RemoveFromBlacklist(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blacklist, phone)
	return nil
}

// IsBlacklisted implements BlacklistRepo.
func (s *InMemoryStore) IsBlacklisted(_ context.Context, phone string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blacklist[phone]
	return ok, nil
}

// ListBlacklist implements BlacklistRepo.
func (s *InMemoryStore) ListBlacklist(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.blacklist))
	for p := range s.blacklist {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// AddReceipt implements ReceiptRepo.
func (s *InMemoryStore) AddReceipt(_ context.Context, r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

// GetReceipts implements ReceiptRepo.
func (s *InMemoryStore) GetReceipts(_ context.Context) ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

// TryClaim implements WelcomeTracker.
func (s *InMemoryStore) TryClaim(ctx context.Context, messageID, recipient string, window time.Duration) (bool, error) {
	return s.welcome.TryClaim(ctx, messageID, recipient, window)
}

// PurgeExpired implements WelcomeTracker.
func (s *InMemoryStore) PurgeExpired(ctx context.Context) (int, error) {
	return s.welcome.PurgeExpired(ctx)
}

var _ Store = (*InMemoryStore)(nil)
