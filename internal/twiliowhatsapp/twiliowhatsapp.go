// Package twiliowhatsapp wraps the Twilio API for WhatsApp integration in ChatDesk.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/ChatDesk/internal/models"
)

// Constants for media handling
const (
	// DefaultMediaTimeout bounds downloads of inbound media
	DefaultMediaTimeout = 30 * time.Second
	// MaxMediaBytes caps inbound media downloads
	MaxMediaBytes = 16 << 20
)

// ErrMediaURLRequired is returned when media without a public URL is sent; Twilio only
// sends media it can fetch itself.
var ErrMediaURLRequired = errors.New("twilio media requires a public URL")

// Sender is implemented by Client and MockClient.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendMedia(ctx context.Context, to string, media models.OutboundMedia) error
	// FetchMedia downloads inbound media hosted by Twilio.
	FetchMedia(ctx context.Context, url string) ([]byte, error)
}

// Opts holds configuration options for the Twilio WhatsApp client.
// This focuses solely on Twilio API requirements
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number, with or without the "whatsapp:" prefix.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	client     *twilio.RestClient
	fromWhats  string // WhatsApp number in "whatsapp:+1234567890" format
	accountSID string
	authToken  string
	http       *http.Client
}

// NewClient creates a client. Missing options fall back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{
		client:     client,
		fromWhats:  WhatsAppAddress(cfg.FromWhats),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		http:       &http.Client{Timeout: DefaultMediaTimeout},
	}, nil
}

// WhatsAppAddress formats a phone number as a Twilio WhatsApp address.
func WhatsAppAddress(number string) string {
	n := strings.TrimPrefix(strings.TrimSpace(number), "whatsapp:")
	if !strings.HasPrefix(n, "+") {
		n = "+" + n
	}
	return "whatsapp:" + n
}

func (c *Client) newParams(to string) *twilioApi.CreateMessageParams {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(WhatsAppAddress(to))
	params.SetFrom(c.fromWhats)
	return params
}

// SendMessage sends a WhatsApp message using Twilio API
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := c.newParams(to)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	if resp != nil && resp.Sid != nil {
		slog.Debug("Twilio message sent", "to", to, "sid", *resp.Sid)
	}
	return nil
}

// SendMedia sends media by URL with the caption as body.
func (c *Client) SendMedia(ctx context.Context, to string, media models.OutboundMedia) error {
	if media.URL == "" {
		return ErrMediaURLRequired
	}
	params := c.newParams(to)
	params.SetMediaUrl([]string{media.URL})
	if media.Caption != "" {
		params.SetBody(media.Caption)
	}

	if _, err := c.client.Api.CreateMessage(params); err != nil {
		slog.Error("Twilio SendMedia failed", "to", to, "kind", media.Kind, "error", err)
		return fmt.Errorf("failed to send %s to %s: %w", media.Kind, to, err)
	}
	slog.Debug("Twilio media sent", "to", to, "kind", media.Kind)
	return nil
}

// FetchMedia downloads media referenced by an inbound webhook, authenticating with the
// account credentials.
func (c *Client) FetchMedia(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid media url: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
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

// MockClient records what would have been sent.
type MockClient struct {
	SentMessages []SentMessage
	SentMedia    []SentMedia
	Media        map[string][]byte // url -> payload returned by FetchMedia
	Err          error
}

type SentMessage struct {
	To   string
	Body string
}

type SentMedia struct {
	To    string
	Media models.OutboundMedia
}

func NewMockClient() *MockClient {
	return &MockClient{
		SentMessages: []SentMessage{},
		Media:        map[string][]byte{},
	}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) SendMedia(ctx context.Context, to string, media models.OutboundMedia) error {
	if m.Err != nil {
		return m.Err
	}
	if media.URL == "" {
		return ErrMediaURLRequired
	}
	m.SentMedia = append(m.SentMedia, SentMedia{To: to, Media: media})
	return nil
}

func (m *MockClient) FetchMedia(ctx context.Context, url string) ([]byte, error) {
	data, ok := m.Media[url]
	if !ok {
		return nil, fmt.Errorf("failed to fetch media: status %d", http.StatusNotFound)
	}
	return data, nil
}

var (
	_ Sender = (*Client)(nil)
	_ Sender = (*MockClient)(nil)
)
