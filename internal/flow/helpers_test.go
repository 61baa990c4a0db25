package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BTreeMap/ChatDesk/internal/models"
	"github.com/BTreeMap/ChatDesk/internal/retry"
)

// recordingSender captures replies.
type recordingSender struct {
	mu        sync.Mutex
	messages  []sentMessage
	failText  error
	failMedia error
}

type sentMessage struct {
	To    string
	Body  string
	Media *models.OutboundMedia
}

func (s *recordingSender) SendMessage(_ context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failText != nil {
		return s.failText
	}
	s.messages = append(s.messages, sentMessage{To: to, Body: body})
	return nil
}

func (s *recordingSender) SendMedia(_ context.Context, to string, media models.OutboundMedia) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMedia != nil {
		return s.failMedia
	}
	m := media
	s.messages = append(s.messages, sentMessage{To: to, Body: media.Caption, Media: &m})
	return nil
}

func (s *recordingSender) bodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Body
	}
	return out
}

func (s *recordingSender) reset() {
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
}

// fakeConfig is an in-memory ConfigSource.
type fakeConfig struct {
	mu        sync.Mutex
	bot       *models.Chatbot
	fields    models.FormDefinition
	messages  *models.FormMessages
	flows     []models.FlowCandidate
	welcome   *models.Welcome
	behavior  string
	knowledge []string
	botErr    error
	botCalls  int
}

func newFakeConfig() *fakeConfig {
	return &fakeConfig{
		bot: &models.Chatbot{ID: "bot-1", UserID: "owner-1", Name: "Demo", Active: true},
		fields: models.FormDefinition{
			{Name: "identification_number", Label: "Número de identificación:", Validation: "identification"},
			{Name: "nombres", Label: "Nombre completo:", Validation: "full_name"},
		},
		behavior: "Eres un asistente amable.",
	}
}

func (c *fakeConfig) ActiveChatbot(context.Context, string) (*models.Chatbot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.botCalls++
	if c.botErr != nil {
		return nil, c.botErr
	}
	return c.bot, nil
}

func (c *fakeConfig) FormFields(context.Context, string) (models.FormDefinition, error) {
	return c.fields, nil
}

func (c *fakeConfig) FormMessages(context.Context, string) (*models.FormMessages, error) {
	return c.messages, nil
}

func (c *fakeConfig) ActiveFlows(context.Context, string) ([]models.FlowCandidate, error) {
	return c.flows, nil
}

func (c *fakeConfig) ActiveWelcome(context.Context, string) (*models.Welcome, error) {
	return c.welcome, nil
}

func (c *fakeConfig) BehaviorPrompt(context.Context, string) (string, error) {
	return c.behavior, nil
}

func (c *fakeConfig) KnowledgePrompts(context.Context, string) ([]string, error) {
	return c.knowledge, nil
}

// fakeClients records saved clients and rejects duplicate identification numbers.
type fakeClients struct {
	mu    sync.Mutex
	saved []models.ClientRecord
	err   error
}

func (f *fakeClients) SaveClient(_ context.Context, rec models.ClientRecord) (models.ClientRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.ClientRecord{}, f.err
	}
	for _, s := range f.saved {
		if s.ChatbotID == rec.ChatbotID && s.IdentificationNumber == rec.IdentificationNumber {
			return models.ClientRecord{}, models.ErrDuplicateEntry
		}
	}
	rec.ID = "client-1"
	f.saved = append(f.saved, rec)
	return rec, nil
}

// fakeHistory is an in-memory HistoryStore.
type fakeHistory struct {
	mu      sync.Mutex
	entries []models.ChatHistoryEntry
}

func (f *fakeHistory) AddChatEntry(_ context.Context, e models.ChatHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeHistory) RecentHistory(_ context.Context, _, phone string, limit int) ([]models.ChatHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChatHistoryEntry
	for _, e := range f.entries {
		if e.Phone == phone {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// fakeGenerator returns a fixed reply and records its inputs.
type fakeGenerator struct {
	mu       sync.Mutex
	reply    string
	err      error
	embedErr error
	system   []string
	history  []models.ChatTurn
	calls    int
}

func (g *fakeGenerator) GenerateReply(_ context.Context, system []string, history []models.ChatTurn) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.system = system
	g.history = history
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *fakeGenerator) Embed(context.Context, string) ([]float64, error) {
	if g.embedErr != nil {
		return nil, g.embedErr
	}
	return []float64{0.1, 0.2}, nil
}

type fakeSpeech struct {
	text  string
	audio []byte
	err   error
}

func (f *fakeSpeech) Transcribe(context.Context, []byte, string) (string, error) {
	return f.text, f.err
}

func (f *fakeSpeech) Synthesize(context.Context, string) ([]byte, error) {
	return f.audio, f.err
}

var errBoom = errors.New("boom")

// noWait is a retry policy that never sleeps.
func noWait() retry.Policy {
	return retry.DefaultPolicy().WithWait(func(context.Context, time.Duration) error { return nil })
}

func event(from, body string) models.InboundEvent {
	return models.InboundEvent{From: from, Body: body, Time: time.Now()}
}
