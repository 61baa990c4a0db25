package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/BTreeMap/ChatDesk/internal/models"
)

// ErrUnsupportedMedia is returned for media kinds WhatsApp cannot carry.
var ErrUnsupportedMedia = errors.New("unsupported media kind")

// SendMedia uploads media and sends it. Media referenced by URL is fetched first.
// Audio is sent as a voice note.
func (c *Client) SendMedia(ctx context.Context, to string, media models.OutboundMedia) error {
	if err := c.ready(); err != nil {
		return err
	}
	jid, err := recipientJID(to)
	if err != nil {
		return err
	}
	mediaType, err := uploadType(media.Kind)
	if err != nil {
		return err
	}

	data := media.Data
	if len(data) == 0 {
		if media.URL == "" {
			return models.ErrEmptyBody
		}
		data, err = c.fetch(ctx, media.URL)
		if err != nil {
			return err
		}
	}
	if media.MIMEType == "" {
		media.MIMEType = http.DetectContentType(data)
	}

	up, err := c.waClient.Upload(ctx, data, mediaType)
	if err != nil {
		slog.Error("WhatsApp media upload failed", "error", err, "to", jid.User, "kind", media.Kind)
		return fmt.Errorf("failed to upload %s: %w", media.Kind, err)
	}
	msg, err := buildMediaMessage(media, up)
	if err != nil {
		return err
	}
	if _, err := c.waClient.SendMessage(ctx, jid, msg); err != nil {
		slog.Error("Failed to send WhatsApp media", "error", err, "to", jid.User, "kind", media.Kind)
		return fmt.Errorf("failed to send %s to %s: %w", media.Kind, jid.User, err)
	}
	slog.Debug("WhatsApp media sent successfully", "to", jid.User, "kind", media.Kind, "bytes", len(data))
	return nil
}

// Download fetches and decrypts the media of an inbound message.
func (c *Client) Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	data, err := c.waClient.Download(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	return data, nil
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid media url: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch media: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read media: %w", err)
	}
	if len(data) > MaxMediaBytes {
		return nil, fmt.Errorf("media exceeds %d bytes", MaxMediaBytes)
	}
	return data, nil
}

func uploadType(kind models.MediaKind) (whatsmeow.MediaType, error) {
	switch kind {
	case models.MediaImage:
		return whatsmeow.MediaImage, nil
	case models.MediaAudio:
		return whatsmeow.MediaAudio, nil
	case models.MediaVideo:
		return whatsmeow.MediaVideo, nil
	case models.MediaDocument:
		return whatsmeow.MediaDocument, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMedia, kind)
}

func buildMediaMessage(media models.OutboundMedia, up whatsmeow.UploadResponse) (*waE2E.Message, error) {
	var caption *string
	if media.Caption != "" {
		caption = proto.String(media.Caption)
	}
	switch media.Kind {
	case models.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       caption,
			Mimetype:      proto.String(media.MIMEType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil
	case models.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			PTT:           proto.Bool(true),
			Mimetype:      proto.String(media.MIMEType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil
	case models.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       caption,
			Mimetype:      proto.String(media.MIMEType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil
	case models.MediaDocument:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       caption,
			Mimetype:      proto.String(media.MIMEType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedMedia, media.Kind)
}
