// Package genai provides the OpenAI-backed operations of the assistant: chat replies,
// embeddings, voice-note transcription and speech synthesis.
package genai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/ChatDesk/internal/models"
)

// Default model settings.
const (
	DefaultModel          = string(openai.ChatModelGPT4oMini)
	DefaultEmbeddingModel = string(openai.EmbeddingModelTextEmbedding3Small)
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 500
	// DefaultLanguage is the ISO-639-1 hint passed to transcription.
	DefaultLanguage = "es"
)

var (
	// ErrNoChoicesReturned is returned when a completion has no choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrNoEmbedding is returned when an embedding response is empty.
	ErrNoEmbedding = errors.New("no embedding returned")
	// ErrEmptyAudio is returned when there is nothing to transcribe.
	ErrEmptyAudio = errors.New("empty audio")
)

// The services below match the openai-go methods the client uses, so tests can replace them.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

type embeddingService interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

type transcriptionService interface {
	New(ctx context.Context, body openai.AudioTranscriptionNewParams, opts ...option.RequestOption) (*openai.Transcription, error)
}

type speechService interface {
	New(ctx context.Context, body openai.AudioSpeechNewParams, opts ...option.RequestOption) (*http.Response, error)
}

// Client wraps the OpenAI services.
type Client struct {
	chat        chatService
	embeddings  embeddingService
	transcripts transcriptionService
	speech      speechService

	model          string
	embeddingModel string
	temperature    float64
	maxTokens      int
	language       string
	voice          openai.AudioSpeechNewParamsVoice
}

// Opts holds configuration for the client.
type Opts struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float64
	MaxTokens      int
	Language       string
	Voice          string
}

// Option configures the client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key. Without it OPENAI_API_KEY is used.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model string) Option {
	return func(o *Opts) { o.EmbeddingModel = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the length of generated replies.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithLanguage sets the transcription language hint.
func WithLanguage(lang string) Option {
	return func(o *Opts) { o.Language = lang }
}

// WithVoice sets the speech synthesis voice, e.g. "alloy" or "nova".
func WithVoice(voice string) Option {
	return func(o *Opts) { o.Voice = voice }
}

// NewClient creates a client. It fails when no API key is configured.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:          DefaultModel,
		EmbeddingModel: DefaultEmbeddingModel,
		Temperature:    DefaultTemperature,
		MaxTokens:      DefaultMaxTokens,
		Language:       DefaultLanguage,
		Voice:          string(openai.AudioSpeechNewParamsVoiceAlloy),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("GenAI client created", "model", cfg.Model, "embedding_model", cfg.EmbeddingModel, "max_tokens", cfg.MaxTokens)
	return &Client{
		chat:           &cli.Chat.Completions,
		embeddings:     &cli.Embeddings,
		transcripts:    &cli.Audio.Transcriptions,
		speech:         &cli.Audio.Speech,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		language:       cfg.Language,
		voice:          openai.AudioSpeechNewParamsVoice(cfg.Voice),
	}, nil
}

// GenerateReply asks the chat model for the next assistant turn. systemPrompts are sent
// first as system messages; empty ones are skipped.
func (c *Client) GenerateReply(ctx context.Context, systemPrompts []string, history []models.ChatTurn) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(systemPrompts)+len(history))
	for _, p := range systemPrompts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		messages = append(messages, openai.SystemMessage(p))
	}
	for _, turn := range history {
		switch turn.Role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	return c.complete(ctx, messages)
}

// GeneratePrompt generates a response to a single user prompt.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.complete(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	})
}

func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	slog.Debug("GenAI.complete: sending request", "model", c.model, "messages", len(messages))
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		slog.Error("GenAI.complete: request failed", "error", err, "model", c.model)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content
	slog.Debug("GenAI.complete: received reply", "length", len(content))
	return content, nil
}

// Embed returns the embedding vector of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		slog.Error("GenAI.Embed: request failed", "error", err, "model", c.embeddingModel)
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrNoEmbedding
	}
	return resp.Data[0].Embedding, nil
}

// Transcribe converts a voice note to text with Whisper.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	if filename == "" {
		filename = "voice.ogg"
	}
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), filename, "application/octet-stream"),
		Model: openai.AudioModelWhisper1,
	}
	if c.language != "" {
		params.Language = openai.String(c.language)
	}
	resp, err := c.transcripts.New(ctx, params)
	if err != nil {
		slog.Error("GenAI.Transcribe: request failed", "error", err, "bytes", len(audio))
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	slog.Debug("GenAI.Transcribe: transcribed voice note", "bytes", len(audio), "length", len(text))
	return text, nil
}

// Synthesize converts text to MP3 speech.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModelTTS1,
		Input:          text,
		Voice:          c.voice,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		slog.Error("GenAI.Synthesize: request failed", "error", err)
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}
	return audio, nil
}
