// Package transcribe turns uploaded audio into text for the control loop.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// ErrNoSpeech is returned when transcription produced no text.
var ErrNoSpeech = errors.New("no speech recognized")

// Audio is one uploaded recording.
type Audio struct {
	Filename    string
	ContentType string
	Data        io.Reader
}

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio) (string, error)
}

// Func adapts a function to Transcriber.
type Func func(ctx context.Context, audio Audio) (string, error)

func (f Func) Transcribe(ctx context.Context, audio Audio) (string, error) {
	return f(ctx, audio)
}

// OpenAI transcribes through the OpenAI audio transcription endpoint.
type OpenAI struct {
	client openai.Client
	model  string
	logger *zap.Logger
}

// OpenAIOption configures an OpenAI transcriber.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	model   string
	baseURL string
	logger  *zap.Logger
}

// WithModel overrides the transcription model (default whisper-1).
func WithModel(model string) OpenAIOption {
	return func(c *openAIConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) {
		c.baseURL = url
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) OpenAIOption {
	return func(c *openAIConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewOpenAI creates a transcriber using apiKey.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAI {
	cfg := openAIConfig{model: string(openai.AudioModelWhisper1), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &OpenAI{
		client: openai.NewClient(reqOpts...),
		model:  cfg.model,
		logger: cfg.logger,
	}
}

// Transcribe uploads audio and returns the trimmed transcript.
func (t *OpenAI) Transcribe(ctx context.Context, audio Audio) (string, error) {
	name := audio.Filename
	if name == "" {
		name = "audio.webm"
	}
	ctype := audio.ContentType
	if ctype == "" {
		ctype = "application/octet-stream"
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(audio.Data, name, ctype),
		Model: openai.AudioModel(t.model),
	})
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", name, err)
	}

	text := strings.TrimSpace(resp.Text)
	t.logger.Debug("audio transcribed", zap.String("file", name), zap.Int("chars", len(text)))
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
