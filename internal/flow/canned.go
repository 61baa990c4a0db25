package flow

import (
	"context"
	"log/slog"
	"sort"

	"github.com/BTreeMap/ChatDesk/internal/keyword"
	"github.com/BTreeMap/ChatDesk/internal/models"
)

// CannedReplyHandlerName identifies the keyword reply handler.
const CannedReplyHandlerName = "canned_reply"

// CannedReplyHandler answers with the first configured flow whose keywords match the message.
type CannedReplyHandler struct {
	config   ConfigSource
	priority int
}

// NewCannedReplyHandler creates a CannedReplyHandler with the given router priority.
func NewCannedReplyHandler(config ConfigSource, priority int) *CannedReplyHandler {
	return &CannedReplyHandler{config: config, priority: priority}
}

// Name implements Handler.
func (h *CannedReplyHandler) Name() string { return CannedReplyHandlerName }

// Priority implements Handler.
func (h *CannedReplyHandler) Priority() int { return h.priority }

// Handle implements Handler. Configuration failures are logged and the turn is declined
// so the fallback can still answer.
func (h *CannedReplyHandler) Handle(ctx context.Context, turn *Turn) (bool, error) {
	if keyword.Normalize(turn.Text) == "" {
		return false, nil
	}
	bot, err := h.config.ActiveChatbot(ctx, turn.Sender)
	if err != nil {
		slog.Warn("CannedReplyHandler.Handle: chatbot lookup failed", "error", err, "from", turn.Sender)
		return false, nil
	}
	if bot == nil {
		return false, nil
	}
	flows, err := h.config.ActiveFlows(ctx, bot.ID)
	if err != nil {
		slog.Warn("CannedReplyHandler.Handle: flows lookup failed", "error", err, "chatbot_id", bot.ID)
		return false, nil
	}

	match, ok := SelectFlow(turn.Text, flows)
	if !ok {
		return false, nil
	}
	slog.Info("Canned reply matched", "from", turn.Sender, "flow_id", match.ID, "priority", match.Priority)
	return true, turn.ReplyWithMedia(ctx, match.Response, match.MediaURL)
}

// SelectFlow returns the first flow, in ascending priority, whose keywords match message.
// Flows with equal priority keep their input order.
func SelectFlow(message string, flows []models.FlowCandidate) (models.FlowCandidate, bool) {
	ordered := make([]models.FlowCandidate, len(flows))
	copy(ordered, flows)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })
	for _, f := range ordered {
		if keyword.Matches(message, f.Keywords) {
			return f, true
		}
	}
	return models.FlowCandidate{}, false
}

var _ Handler = (*CannedReplyHandler)(nil)
