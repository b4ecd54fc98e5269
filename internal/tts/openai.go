package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/book-expert/bulletin-reader/internal/audio"
	"github.com/book-expert/bulletin-reader/internal/core"
)

const (
	normalSpeed = 1.0
	slowRate    = 0.75
)

// OpenAIOptions configures the OpenAI speech backend.
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	Timeout time.Duration
}

// OpenAIClient synthesizes speech with the OpenAI audio API.
type OpenAIClient struct {
	client *openai.Client
	model  openai.SpeechModel
	voice  openai.SpeechVoice
}

// NewOpenAIClient creates an OpenAI speech backend.
func NewOpenAIClient(opts OpenAIOptions) *OpenAIClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.SpeechModel(opts.Model),
		voice:  openai.SpeechVoice(opts.Voice),
	}
}

// Name implements core.Synthesizer.
func (c *OpenAIClient) Name() string { return "openai" }

// Synthesize implements core.Synthesizer. The locale is implied by the text.
func (c *OpenAIClient) Synthesize(ctx context.Context, req core.SpeechRequest) (*core.Speech, error) {
	if req.Text == "" {
		return nil, ErrTextEmpty
	}

	speed := normalSpeed
	if req.Slow {
		speed = slowRate
	}

	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          c.model,
		Input:          req.Text,
		Voice:          c.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          speed,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(data) == 0 {
		return nil, ErrReceivedEmpty
	}

	return &core.Speech{Audio: data, Format: audio.FormatMP3}, nil
}
