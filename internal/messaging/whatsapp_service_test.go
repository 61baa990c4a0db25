package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/BTreeMap/ChatDesk/internal/models"
	"github.com/BTreeMap/ChatDesk/internal/whatsapp"
)

// Ensure WhatsAppService implements Service interface
func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
}

// Test SendMessage emits a sent receipt
func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	ctx := context.Background()
	if err := svc.SendMessage(ctx, "+5215550001", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if len(mockClient.Texts) != 1 || mockClient.Texts[0].To != "5215550001" {
		t.Fatalf("expected canonical recipient, got %+v", mockClient.Texts)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "5215550001" {
			t.Errorf("expected receipt.To %s, got %s", "5215550001", receipt.To)
		}
		if receipt.Status != models.MessageStatusSent {
			t.Errorf("expected receipt.Status %s, got %s", models.MessageStatusSent, receipt.Status)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}

func TestWhatsAppService_SendMedia(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	media := models.OutboundMedia{Kind: models.MediaImage, URL: "https://example.com/menu.png", Caption: "Menú"}
	if err := svc.SendMedia(context.Background(), "5215550001", media); err != nil {
		t.Fatalf("SendMedia returned error: %v", err)
	}
	if len(mockClient.Medias) != 1 || mockClient.Medias[0].Media.Caption != "Menú" {
		t.Errorf("unexpected media: %+v", mockClient.Medias)
	}
}

func TestWhatsAppService_InvalidRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.SendMessage(context.Background(), "12", "hola"); err == nil {
		t.Error("expected error for short recipient")
	}
}

// Test Start and Stop do not error and close channels
func TestWhatsAppService_StartStop(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	receipt, ok := <-svc.Receipts()
	if ok {
		t.Errorf("expected receipts channel closed, got value %v", receipt)
	}
	ev, ok := <-svc.Events()
	if ok {
		t.Errorf("expected events channel closed, got value %v", ev)
	}
	if err := svc.SendMessage(context.Background(), "5215550001", "hola"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

type fakeDownloader struct {
	data []byte
	err  error
}

func (f fakeDownloader) Download(context.Context, whatsmeow.DownloadableMessage) ([]byte, error) {
	return f.data, f.err
}

func waMessage(msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:   types.NewJID("5215550001", types.DefaultUserServer),
				Sender: types.NewJID("5215550001", types.DefaultUserServer),
			},
			ID:        "3EB0ABC",
			Timestamp: time.Unix(1700000000, 0),
		},
		Message: msg,
	}
}

func TestInboundFromMessage(t *testing.T) {
	ctx := context.Background()

	ev, ok := inboundFromMessage(ctx, waMessage(&waE2E.Message{Conversation: proto.String("hola")}), nil)
	if !ok || ev.Body != "hola" || ev.From != "5215550001" || ev.ID != "3EB0ABC" {
		t.Errorf("unexpected text event: %+v, %v", ev, ok)
	}

	ext := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("precios")}}
	if ev, ok := inboundFromMessage(ctx, waMessage(ext), nil); !ok || ev.Body != "precios" {
		t.Errorf("unexpected extended text event: %+v, %v", ev, ok)
	}

	voice := &waE2E.Message{AudioMessage: &waE2E.AudioMessage{Mimetype: proto.String("audio/ogg; codecs=opus"), PTT: proto.Bool(true)}}
	ev, ok = inboundFromMessage(ctx, waMessage(voice), fakeDownloader{data: []byte("OggS")})
	if !ok || !ev.HasAudio() || string(ev.Media.Data) != "OggS" {
		t.Errorf("unexpected voice event: %+v, %v", ev, ok)
	}

	// a failed download still yields the event so the user gets a reply
	ev, ok = inboundFromMessage(ctx, waMessage(voice), fakeDownloader{err: errors.New("expired")})
	if !ok || !ev.HasAudio() || ev.Media.Data != nil {
		t.Errorf("unexpected voice event after failed download: %+v, %v", ev, ok)
	}

	own := waMessage(&waE2E.Message{Conversation: proto.String("hola")})
	own.Info.IsFromMe = true
	if _, ok := inboundFromMessage(ctx, own, nil); ok {
		t.Error("own messages must be skipped")
	}

	group := waMessage(&waE2E.Message{Conversation: proto.String("hola")})
	group.Info.IsGroup = true
	if _, ok := inboundFromMessage(ctx, group, nil); ok {
		t.Error("group messages must be skipped")
	}

	sticker := waMessage(&waE2E.Message{StickerMessage: &waE2E.StickerMessage{}})
	if _, ok := inboundFromMessage(ctx, sticker, nil); ok {
		t.Error("unsupported messages must be skipped")
	}
}
