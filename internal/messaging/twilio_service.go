package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/BTreeMap/ChatDesk/internal/models"
	"github.com/BTreeMap/ChatDesk/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using Twilio API. Inbound messages arrive
// through TwilioWebhookHandler.
type TwilioService struct {
	*channels
	client    twiliowhatsapp.Sender // Could be real Twilio client or MockClient
	validator *twilioclient.RequestValidator
	publicURL string
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhook requests whose X-Twilio-Signature does not match.
// publicURL is the webhook URL as configured in the Twilio console.
func WithSignatureValidation(authToken, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		v := twilioclient.NewRequestValidator(authToken)
		s.validator = &v
		s.publicURL = publicURL
	}
}

// NewTwilioService creates a new TwilioService
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		channels: newChannels(),
		client:   client,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAndCanonicalizeRecipient implements Service.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient(recipient)
}

// Start is a no-op for Twilio; events come from the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.stop()
	return nil
}

// SendMessage sends a message via Twilio and emits a receipt
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := canonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return err
	}
	s.emitReceipt(sentReceipt(canonicalTo))
	return nil
}

// SendMedia sends media via Twilio and emits a receipt
func (s *TwilioService) SendMedia(ctx context.Context, to string, media models.OutboundMedia) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := canonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMedia(ctx, canonicalTo, media); err != nil {
		return err
	}
	s.emitReceipt(sentReceipt(canonicalTo))
	return nil
}

// Receipts returns the channel for message receipts
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Events returns the channel for inbound messages
func (s *TwilioService) Events() <-chan models.InboundEvent {
	return s.events
}

// TwilioWebhookHandler handles inbound Twilio webhook requests: user messages become
// events and status callbacks become receipts.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if s.validator != nil && !s.validSignature(r) {
		slog.Warn("Twilio webhook signature mismatch", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if status := r.PostFormValue("MessageStatus"); status != "" && r.PostFormValue("Body") == "" && r.PostFormValue("NumMedia") == "" {
		s.handleStatusCallback(r.PostFormValue("To"), status)
		w.WriteHeader(http.StatusOK)
		return
	}

	ev, err := s.inboundFromForm(r.Context(), r)
	if err != nil {
		slog.Warn("Twilio webhook rejected", "error", err)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	slog.Info("Inbound WhatsApp message from Twilio", "from", ev.From, "id", ev.ID, "body_length", len(ev.Body))
	if !s.emitEvent(ev) {
		slog.Warn("TwilioService events channel blocked or closed, dropping message", "from", ev.From)
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *TwilioService) validSignature(r *http.Request) bool {
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return s.validator.Validate(s.publicURL, params, r.Header.Get("X-Twilio-Signature"))
}

func (s *TwilioService) inboundFromForm(ctx context.Context, r *http.Request) (models.InboundEvent, error) {
	from := models.CanonicalSender(r.PostFormValue("From"))
	body := strings.TrimSpace(r.PostFormValue("Body"))
	numMedia, _ := strconv.Atoi(r.PostFormValue("NumMedia"))
	if from == "" || (body == "" && numMedia == 0) {
		return models.InboundEvent{}, fmt.Errorf("missing From or Body")
	}

	ev := models.InboundEvent{
		ID:   r.PostFormValue("MessageSid"),
		From: from,
		Body: body,
		Time: time.Now(),
	}
	if numMedia > 0 {
		url := r.PostFormValue("MediaUrl0")
		mime := r.PostFormValue("MediaContentType0")
		ev.Media = &models.Media{Kind: MediaKindOf(mime), URL: url, MIMEType: mime}
		if ev.Media.Kind == models.MediaAudio {
			ev.Media.Filename = "voice.ogg"
			data, err := s.client.FetchMedia(ctx, url)
			if err != nil {
				slog.Warn("TwilioService failed to download voice note", "error", err, "from", from)
			} else {
				ev.Media.Data = data
			}
		}
	}
	return ev, nil
}

func (s *TwilioService) handleStatusCallback(to, status string) {
	var st models.MessageStatus
	switch status {
	case "delivered":
		st = models.MessageStatusDelivered
	case "read":
		st = models.MessageStatusRead
	case "failed", "undelivered":
		st = models.MessageStatusFailed
	default:
		return
	}
	s.emitReceipt(models.Receipt{To: models.CanonicalSender(to), Status: st, Time: time.Now().Unix()})
}

// MediaKindOf maps a MIME type onto a media kind. Unknown types are sent as documents.
func MediaKindOf(mime string) models.MediaKind {
	switch {
	case strings.HasPrefix(mime, "audio/"):
		return models.MediaAudio
	case strings.HasPrefix(mime, "image/"):
		return models.MediaImage
	case strings.HasPrefix(mime, "video/"):
		return models.MediaVideo
	}
	return models.MediaDocument
}
