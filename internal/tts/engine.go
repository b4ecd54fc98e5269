package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"golang.org/x/text/language"

	"github.com/book-expert/bulletin-reader/internal/audio"
	"github.com/book-expert/bulletin-reader/internal/command"
	"github.com/book-expert/bulletin-reader/internal/config"
	"github.com/book-expert/bulletin-reader/internal/core"
	"github.com/book-expert/bulletin-reader/internal/workspace"
)

const filePermissions = 0o644

// Engine errors.
var (
	ErrOutputPathEmpty = errors.New("output path cannot be empty")
	ErrSynthesisFailed = errors.New("speech synthesis failed")
	ErrInvalidLocale   = errors.New("invalid locale")
	ErrUnknownBackend  = errors.New("unknown speech backend")
)

const (
	logFmtGeneratedAudio = "Generated speech: %s (%d bytes, %s via %s)"
	logFmtTranscoding    = "Transcoding %s speech to %s"
)

// Transcoder converts an audio file into the container implied by dest.
type Transcoder interface {
	Transcode(ctx context.Context, src, dest string) error
}

// Engine renders narration to an MP3 file through a synthesis backend.
type Engine struct {
	synth      core.Synthesizer
	transcoder Transcoder
	locale     string
	slow       bool
	timeout    time.Duration
	log        *logger.Logger
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Locale  string
	Slow    bool
	Timeout time.Duration
}

// NewEngine creates an Engine. The locale is canonicalised; an unparsable
// locale is rejected.
func NewEngine(
	synth core.Synthesizer,
	transcoder Transcoder,
	opts EngineOptions,
	log *logger.Logger,
) (*Engine, error) {
	locale, err := CanonicalLocale(opts.Locale)
	if err != nil {
		return nil, err
	}

	return &Engine{
		synth:      synth,
		transcoder: transcoder,
		locale:     locale,
		slow:       opts.Slow,
		timeout:    opts.Timeout,
		log:        log,
	}, nil
}

// New builds the Engine for the backend named in cfg.
func New(
	cfg config.SpeechConfig,
	transcoder Transcoder,
	runner command.Runner,
	log *logger.Logger,
) (*Engine, error) {
	synth, err := NewSynthesizer(cfg, runner, log)
	if err != nil {
		return nil, err
	}

	return NewEngine(synth, transcoder, EngineOptions{
		Locale:  cfg.Locale,
		Slow:    cfg.Slow,
		Timeout: cfg.Timeout.Duration,
	}, log)
}

// NewSynthesizer selects the synthesis backend named in cfg.
func NewSynthesizer(cfg config.SpeechConfig, runner command.Runner, log *logger.Logger) (core.Synthesizer, error) {
	switch cfg.Backend {
	case config.BackendGoogle:
		client, err := NewGoogleClient(cfg.GoogleBaseURL, cfg.Timeout.Duration)
		if err != nil {
			return nil, err
		}

		return client, nil
	case config.BackendOpenAI:
		return NewOpenAIClient(OpenAIOptions{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Voice:   cfg.OpenAIVoice,
			Timeout: cfg.Timeout.Duration,
		}), nil
	case config.BackendEspeak:
		processor, err := NewEspeakProcessor(cfg.EspeakBinary, runner, log)
		if err != nil {
			return nil, err
		}

		return processor, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// CanonicalLocale parses a BCP 47 tag and returns its canonical form.
func CanonicalLocale(locale string) (string, error) {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return "", fmt.Errorf("%w %q: %w", ErrInvalidLocale, locale, err)
	}

	return tag.String(), nil
}

// Backend returns the name of the synthesis backend.
func (e *Engine) Backend() string { return e.synth.Name() }

// Render synthesizes text and writes it to dest as MP3. Backends that return
// another format are transcoded. dest only appears once complete.
func (e *Engine) Render(ctx context.Context, text, dest string) error {
	if strings.TrimSpace(text) == "" {
		return ErrTextEmpty
	}

	if dest == "" {
		return ErrOutputPathEmpty
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	speech, err := e.synth.Synthesize(ctx, core.SpeechRequest{Text: text, Locale: e.locale, Slow: e.slow})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSynthesisFailed, e.synth.Name(), err)
	}

	if speech == nil || len(speech.Audio) == 0 {
		return fmt.Errorf("%w: %s: %w", ErrSynthesisFailed, e.synth.Name(), ErrReceivedEmpty)
	}

	writeErr := e.write(ctx, speech, dest)
	if writeErr != nil {
		return writeErr
	}

	e.log.Info(logFmtGeneratedAudio, dest, len(speech.Audio), speech.Format, e.synth.Name())

	return nil
}

func (e *Engine) write(ctx context.Context, speech *core.Speech, dest string) error {
	if speech.Format == audio.FormatMP3 {
		return workspace.WriteFile(dest, speech.Audio)
	}

	if e.transcoder == nil {
		return fmt.Errorf("%w: %s returned %s and no transcoder is configured",
			ErrSynthesisFailed, e.synth.Name(), speech.Format)
	}

	partial := workspace.Partial(dest)
	raw := strings.TrimSuffix(partial, filepath.Ext(partial)) + ".raw." + string(speech.Format)

	err := os.WriteFile(raw, speech.Audio, filePermissions)
	if err != nil {
		_ = os.Remove(raw)

		return fmt.Errorf("failed to write audio file: %w", err)
	}

	defer func() { _ = os.Remove(raw) }()

	e.log.Info(logFmtTranscoding, speech.Format, dest)

	err = e.transcoder.Transcode(ctx, raw, partial)
	if err != nil {
		_ = os.Remove(partial)

		return fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}

	return workspace.Commit(partial, dest)
}
