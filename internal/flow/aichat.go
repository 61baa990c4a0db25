package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/ChatDesk/internal/keyword"
	"github.com/BTreeMap/ChatDesk/internal/models"
	"github.com/BTreeMap/ChatDesk/internal/retry"
	"github.com/BTreeMap/ChatDesk/internal/throttle"
)

// AIChatHandlerName identifies the AI chat handler.
const AIChatHandlerName = "ai_chat"

// DefaultHistoryLimit is how many past exchanges are sent with each AI request.
const DefaultHistoryLimit = 10

// AIChatHandler answers free-form messages with the reply generator. It is meant to be the
// router's fallback.
type AIChatHandler struct {
	config        ConfigSource
	history       HistoryStore
	generator     ReplyGenerator
	welcomes      throttle.Tracker
	synthesizer   Synthesizer
	limiter       *limiterPool
	policy        retry.Policy
	welcomeWindow time.Duration
	historyLimit  int
	voiceReplies  bool
}

// AIChatOption configures an AIChatHandler.
type AIChatOption func(*AIChatHandler)

// WithWelcomeWindow sets how long a welcome is suppressed after it was sent to a sender.
func WithWelcomeWindow(d time.Duration) AIChatOption {
	return func(h *AIChatHandler) {
		if d > 0 {
			h.welcomeWindow = d
		}
	}
}

// WithHistoryLimit sets how many past exchanges are sent to the generator.
func WithHistoryLimit(n int) AIChatOption {
	return func(h *AIChatHandler) {
		if n > 0 {
			h.historyLimit = n
		}
	}
}

// WithVoiceReplies answers voice notes with synthesized audio.
func WithVoiceReplies(s Synthesizer) AIChatOption {
	return func(h *AIChatHandler) {
		h.synthesizer = s
		h.voiceReplies = s != nil
	}
}

// WithRateLimit limits AI replies per sender to perMinute with the given burst.
func WithRateLimit(perMinute, burst int) AIChatOption {
	return func(h *AIChatHandler) {
		h.limiter = newLimiterPool(perMinute, burst)
	}
}

// WithAIRetry sets the retry policy for configuration lookups and the welcome send.
func WithAIRetry(p retry.Policy) AIChatOption {
	return func(h *AIChatHandler) { h.policy = p }
}

// NewAIChatHandler creates an AIChatHandler. A nil welcome tracker uses an in-memory one.
func NewAIChatHandler(config ConfigSource, history HistoryStore, generator ReplyGenerator, welcomes throttle.Tracker, opts ...AIChatOption) *AIChatHandler {
	if welcomes == nil {
		welcomes = throttle.NewMemoryTracker(nil)
	}
	h := &AIChatHandler{
		config:        config,
		history:       history,
		generator:     generator,
		welcomes:      welcomes,
		policy:        retry.DefaultPolicy(),
		welcomeWindow: throttle.DefaultWindow,
		historyLimit:  DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements Handler.
func (h *AIChatHandler) Name() string { return AIChatHandlerName }

// Priority implements Handler. The AI handler runs after every keyword handler.
func (h *AIChatHandler) Priority() int { return 1 << 30 }

// Handle implements Handler. Failures after the chatbot is resolved are answered with an
// error message here rather than returned to the router.
func (h *AIChatHandler) Handle(ctx context.Context, turn *Turn) (bool, error) {
	bot, err := retry.DoValue(ctx, h.policy, func(ctx context.Context) (*models.Chatbot, error) {
		return h.config.ActiveChatbot(ctx, turn.Sender)
	})
	if err != nil {
		return true, fmt.Errorf("failed to resolve chatbot: %w", err)
	}
	if bot == nil {
		slog.Debug("AIChatHandler.Handle: no active chatbot", "from", turn.Sender)
		return false, nil
	}

	h.sendWelcome(ctx, turn, bot)

	if keyword.Normalize(turn.Text) == "" {
		return true, nil
	}

	flows, err := h.config.ActiveFlows(ctx, bot.ID)
	if err != nil {
		slog.Warn("AIChatHandler.Handle: flows lookup failed", "error", err, "chatbot_id", bot.ID)
	}
	// Canned replies run first and already answer every message that contains a keyword, so
	// this only fires when that handler failed its own flow lookup and declined.
	for _, f := range flows {
		if keyword.ContainsAny(turn.Text, f.Keywords) {
			slog.Debug("AIChatHandler.Handle: predefined flow covers message", "from", turn.Sender, "flow_id", f.ID)
			return true, nil
		}
	}

	if h.limiter != nil && !h.limiter.Allow(turn.Sender) {
		slog.Warn("AIChatHandler.Handle: rate limited", "from", turn.Sender)
		return true, turn.Reply(ctx, MsgRateLimited)
	}

	if err := h.answer(ctx, turn, bot); err != nil {
		slog.Error("AIChatHandler.Handle: reply failed", "error", err, "from", turn.Sender, "chatbot_id", bot.ID)
		return true, turn.Reply(ctx, MsgAIError)
	}
	return true, nil
}

func (h *AIChatHandler) sendWelcome(ctx context.Context, turn *Turn, bot *models.Chatbot) {
	welcome, err := retry.DoValue(ctx, h.policy, func(ctx context.Context) (*models.Welcome, error) {
		return h.config.ActiveWelcome(ctx, bot.ID)
	})
	if err != nil {
		slog.Warn("AIChatHandler: welcome lookup failed", "error", err, "chatbot_id", bot.ID)
		return
	}
	if welcome == nil || strings.TrimSpace(welcome.Message) == "" {
		return
	}

	claimed, err := h.welcomes.TryClaim(ctx, welcome.ID, turn.Sender, h.welcomeWindow)
	if err != nil {
		slog.Warn("AIChatHandler: welcome claim failed", "error", err, "welcome_id", welcome.ID, "from", turn.Sender)
		return
	}
	if !claimed {
		return
	}
	err = retry.Do(ctx, h.policy, func(ctx context.Context) error {
		return turn.ReplyWithMedia(ctx, welcome.Message, welcome.MediaURL)
	})
	if err != nil {
		slog.Error("AIChatHandler: welcome send failed", "error", err, "welcome_id", welcome.ID, "from", turn.Sender)
		return
	}
	slog.Info("Welcome sent", "welcome_id", welcome.ID, "to", turn.Sender)
}

func (h *AIChatHandler) answer(ctx context.Context, turn *Turn, bot *models.Chatbot) error {
	var behavior string
	var knowledge []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		behavior, err = h.config.BehaviorPrompt(gctx, bot.ID)
		return err
	})
	g.Go(func() error {
		var err error
		knowledge, err = h.config.KnowledgePrompts(gctx, bot.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}
	if strings.TrimSpace(behavior) == "" {
		slog.Warn("AIChatHandler: no behavior prompt", "chatbot_id", bot.ID)
		return turn.Reply(ctx, MsgAINotConfigured)
	}

	past, err := h.history.RecentHistory(ctx, bot.ID, turn.Sender, h.historyLimit)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	turns := FormatHistory(past)
	turns = append(turns, models.ChatTurn{Role: models.RoleUser, Content: turn.Text})

	system := []string{behavior}
	if len(knowledge) > 0 {
		system = append(system, strings.Join(knowledge, "\n\n"))
	}
	reply, err := h.generator.GenerateReply(ctx, system, turns)
	if err != nil {
		return fmt.Errorf("failed to generate reply: %w", err)
	}

	h.record(ctx, bot, turn, reply)

	if turn.Voice && h.voiceReplies {
		audio, err := h.synthesizer.Synthesize(ctx, reply)
		if err == nil {
			if err = turn.ReplyMedia(ctx, models.OutboundMedia{Kind: models.MediaAudio, Data: audio, MIMEType: "audio/mpeg"}); err == nil {
				return nil
			}
		}
		slog.Warn("AIChatHandler: voice reply failed, sending text", "error", err, "to", turn.Sender)
	}
	return turn.Reply(ctx, reply)
}

// record stores the exchange. Failures only lose history, so they are logged.
func (h *AIChatHandler) record(ctx context.Context, bot *models.Chatbot, turn *Turn, reply string) {
	embedding, err := h.generator.Embed(ctx, turn.Text)
	if err != nil {
		slog.Warn("AIChatHandler: embedding failed, storing without it", "error", err, "from", turn.Sender)
		embedding = nil
	}
	entry := models.ChatHistoryEntry{
		UserID:    bot.UserID,
		ChatbotID: bot.ID,
		Phone:     turn.Sender,
		Message:   turn.Text,
		Response:  reply,
		Embedding: embedding,
	}
	if err := h.history.AddChatEntry(ctx, entry); err != nil {
		slog.Error("AIChatHandler: failed to store history", "error", err, "from", turn.Sender)
	}
}

// FormatHistory turns past exchanges into alternating user and assistant turns.
func FormatHistory(entries []models.ChatHistoryEntry) []models.ChatTurn {
	turns := make([]models.ChatTurn, 0, len(entries)*2+1)
	for _, e := range entries {
		turns = append(turns,
			models.ChatTurn{Role: models.RoleUser, Content: e.Message},
			models.ChatTurn{Role: models.RoleAssistant, Content: e.Response},
		)
	}
	return turns
}

var _ Handler = (*AIChatHandler)(nil)
