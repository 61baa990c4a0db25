package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/ChatDesk/internal/form"
	"github.com/BTreeMap/ChatDesk/internal/keyword"
	"github.com/BTreeMap/ChatDesk/internal/models"
	"github.com/BTreeMap/ChatDesk/internal/retry"
)

// RegistrationHandlerName identifies the registration handler as conversation owner.
const RegistrationHandlerName = "registration"

// DefaultRegistrationTriggers start a registration.
var DefaultRegistrationTriggers = []string{"registro", "registrar", "registrarme"}

// RegistrationHandler collects a chatbot's form from the sender and saves it as a client.
type RegistrationHandler struct {
	config   ConfigSource
	clients  ClientStore
	machine  *form.Machine
	triggers []string
	priority int
	policy   retry.Policy
}

// RegistrationOption configures a RegistrationHandler.
type RegistrationOption func(*RegistrationHandler)

// WithRegistrationTriggers replaces the trigger words.
func WithRegistrationTriggers(words ...string) RegistrationOption {
	return func(h *RegistrationHandler) {
		if len(words) > 0 {
			h.triggers = words
		}
	}
}

// WithRegistrationPriority sets the router priority. The default is 1.
func WithRegistrationPriority(p int) RegistrationOption {
	return func(h *RegistrationHandler) { h.priority = p }
}

// WithMachine replaces the form state machine.
func WithMachine(m *form.Machine) RegistrationOption {
	return func(h *RegistrationHandler) {
		if m != nil {
			h.machine = m
		}
	}
}

// WithRegistrationRetry sets the retry policy for configuration lookups.
func WithRegistrationRetry(p retry.Policy) RegistrationOption {
	return func(h *RegistrationHandler) { h.policy = p }
}

// NewRegistrationHandler creates a RegistrationHandler.
func NewRegistrationHandler(config ConfigSource, clients ClientStore, opts ...RegistrationOption) *RegistrationHandler {
	h := &RegistrationHandler{
		config:   config,
		clients:  clients,
		machine:  form.NewMachine(),
		triggers: DefaultRegistrationTriggers,
		priority: 1,
		policy:   retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements Handler.
func (h *RegistrationHandler) Name() string { return RegistrationHandlerName }

// Priority implements Handler.
func (h *RegistrationHandler) Priority() int { return h.priority }

// Handle starts a registration when the message is exactly one of the trigger words.
func (h *RegistrationHandler) Handle(ctx context.Context, turn *Turn) (bool, error) {
	if kind, _ := keyword.Match(turn.Text, h.triggers); kind != keyword.MatchExact {
		return false, nil
	}
	return true, h.Begin(ctx, turn)
}

// Begin implements Starter.
func (h *RegistrationHandler) Begin(ctx context.Context, turn *Turn) error {
	bot, err := retry.DoValue(ctx, h.policy, func(ctx context.Context) (*models.Chatbot, error) {
		return h.config.ActiveChatbot(ctx, turn.Sender)
	})
	if err != nil {
		return fmt.Errorf("failed to resolve chatbot: %w", err)
	}
	if bot == nil {
		slog.Info("RegistrationHandler.Begin: no active chatbot", "from", turn.Sender)
		return turn.Reply(ctx, models.DefaultFormMessages().Unavailable)
	}

	fields, err := retry.DoValue(ctx, h.policy, func(ctx context.Context) (models.FormDefinition, error) {
		return h.config.FormFields(ctx, bot.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to load form fields: %w", err)
	}
	bundle, err := h.config.FormMessages(ctx, bot.ID)
	if err != nil {
		slog.Warn("RegistrationHandler.Begin: form messages unavailable, using defaults", "error", err, "chatbot_id", bot.ID)
	}
	var messages models.FormMessages
	if bundle != nil {
		messages = *bundle
	}

	step, err := h.machine.Start(fields, messages)
	if errors.Is(err, form.ErrEmptyForm) {
		slog.Info("RegistrationHandler.Begin: form not configured", "chatbot_id", bot.ID, "from", turn.Sender)
		return turn.Reply(ctx, messages.WithDefaults().NotConfigured)
	}
	if err != nil {
		return err
	}

	aw := step.Next.(form.AwaitingField)
	if err := turn.Save(ctx, Conversation{Owner: h.Name(), ChatbotID: bot.ID, Form: aw.Progress}); err != nil {
		return fmt.Errorf("failed to save registration state: %w", err)
	}
	slog.Info("Registration started", "from", turn.Sender, "chatbot_id", bot.ID, "fields", len(fields))
	return turn.Reply(ctx, step.Replies...)
}

// Continue implements StatefulHandler.
func (h *RegistrationHandler) Continue(ctx context.Context, turn *Turn, conv Conversation) error {
	step := h.machine.Advance(conv.Form, turn.Text)
	messages := conv.Form.Messages()
	slog.Debug("RegistrationHandler.Continue", "from", turn.Sender, "field", conv.Form.Field().Name, "outcome", step.Outcome)

	switch next := step.Next.(type) {
	case form.AwaitingField:
		conv.Form = next.Progress
		if err := turn.Save(ctx, conv); err != nil {
			return fmt.Errorf("failed to save registration state: %w", err)
		}
		return turn.Reply(ctx, step.Replies...)

	case form.Cancelled:
		if err := turn.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear registration state: %w", err)
		}
		slog.Info("Registration cancelled", "from", turn.Sender, "chatbot_id", conv.ChatbotID)
		return turn.Reply(ctx, step.Replies...)

	case form.Completed:
		if err := turn.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear registration state: %w", err)
		}
		rec := models.NewClientRecord(conv.ChatbotID, turn.Sender, next.Answers)
		saved, err := h.clients.SaveClient(ctx, rec)
		switch {
		case errors.Is(err, models.ErrDuplicateEntry):
			slog.Info("Registration duplicate", "from", turn.Sender, "chatbot_id", conv.ChatbotID)
			return turn.Reply(ctx, messages.AlreadyRegistered)
		case err != nil:
			slog.Error("RegistrationHandler.Continue: save client failed", "error", err, "from", turn.Sender, "chatbot_id", conv.ChatbotID)
			return turn.Reply(ctx, messages.SaveFailed)
		}
		slog.Info("Registration completed", "from", turn.Sender, "chatbot_id", conv.ChatbotID, "client_id", saved.ID)
		return turn.Reply(ctx, messages.Success...)

	default:
		return fmt.Errorf("unexpected form state %s", form.StateName(step.Next))
	}
}

var (
	_ StatefulHandler = (*RegistrationHandler)(nil)
	_ Starter         = (*RegistrationHandler)(nil)
)
