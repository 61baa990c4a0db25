package messaging

import (
	"context"
	"log/slog"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/ChatDesk/internal/models"
	"github.com/BTreeMap/ChatDesk/internal/whatsapp"
)

// mediaDownloader fetches inbound WhatsApp media. *whatsapp.Client implements it.
type mediaDownloader interface {
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
}

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	*channels
	client   whatsapp.Sender
	waClient *whatsapp.Client // Access to underlying client for event handling
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given sender. Inbound
// events are only produced when the sender is a full *whatsapp.Client.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		channels: newChannels(),
		client:   client,
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient implements Service.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient(recipient)
}

// Start registers the whatsmeow event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(ctx, v)
		case *events.Receipt:
			s.handleMessageReceipt(v)
		case *events.Connected:
			slog.Info("WhatsAppService connected")
		case *events.Disconnected:
			slog.Warn("WhatsAppService disconnected")
		}
	})
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop closes the channels and disconnects the client.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	s.stop()
	if s.waClient != nil && s.waClient.GetClient() != nil {
		s.waClient.GetClient().Disconnect()
	}
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := canonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonicalTo)
		return err
	}
	s.emitReceipt(sentReceipt(canonicalTo))
	slog.Debug("WhatsAppService message sent and receipt emitted", "to", canonicalTo)
	return nil
}

// SendMedia sends media and emits a sent receipt.
func (s *WhatsAppService) SendMedia(ctx context.Context, to string, media models.OutboundMedia) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := canonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMedia(ctx, canonicalTo, media); err != nil {
		slog.Error("WhatsAppService SendMedia error", "error", err, "to", canonicalTo, "kind", media.Kind)
		return err
	}
	s.emitReceipt(sentReceipt(canonicalTo))
	return nil
}

// Receipts returns a channel of receipt events.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Events returns a channel of inbound messages.
func (s *WhatsAppService) Events() <-chan models.InboundEvent {
	return s.events
}

func (s *WhatsAppService) handleIncomingMessage(ctx context.Context, evt *events.Message) {
	var dl mediaDownloader
	if s.waClient != nil {
		dl = s.waClient
	}
	ev, ok := inboundFromMessage(ctx, evt, dl)
	if !ok {
		return
	}
	if s.emitEvent(ev) {
		slog.Debug("WhatsAppService incoming message forwarded", "from", ev.From, "id", ev.ID)
	} else {
		slog.Warn("WhatsAppService events channel blocked or closed, dropping message", "from", ev.From)
	}
}

// inboundFromMessage converts a whatsmeow message. Own messages, group chats and
// unsupported types are skipped. Voice notes are downloaded when dl is set.
func inboundFromMessage(ctx context.Context, evt *events.Message, dl mediaDownloader) (models.InboundEvent, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return models.InboundEvent{}, false
	}

	ev := models.InboundEvent{
		ID:   evt.Info.ID,
		From: models.CanonicalSender(evt.Info.Sender.User),
		Time: evt.Info.Timestamp,
	}
	msg := evt.Message
	switch {
	case msg.GetConversation() != "":
		ev.Body = msg.GetConversation()
	case msg.GetExtendedTextMessage().GetText() != "":
		ev.Body = msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		ev.Body = msg.GetImageMessage().GetCaption()
		ev.Media = &models.Media{Kind: models.MediaImage, MIMEType: msg.GetImageMessage().GetMimetype()}
	case msg.GetAudioMessage() != nil:
		audio := msg.GetAudioMessage()
		ev.Media = &models.Media{Kind: models.MediaAudio, MIMEType: audio.GetMimetype(), Filename: "voice.ogg"}
		if dl != nil {
			data, err := dl.Download(ctx, audio)
			if err != nil {
				slog.Warn("WhatsAppService failed to download voice note", "error", err, "from", ev.From)
			} else {
				ev.Media.Data = data
			}
		}
	default:
		slog.Debug("WhatsAppService ignoring unsupported message", "from", ev.From)
		return models.InboundEvent{}, false
	}
	return ev, true
}

// handleMessageReceipt processes delivery and read receipts
func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case types.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}

	receipt := models.Receipt{
		To:     models.CanonicalSender(evt.MessageSource.Chat.User),
		Status: status,
		Time:   evt.Timestamp.Unix(),
	}
	if !s.emitReceipt(receipt) {
		slog.Warn("WhatsAppService receipts channel blocked or closed, dropping receipt", "to", receipt.To)
	}
}
