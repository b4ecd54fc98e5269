package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/bulletin-reader/internal/audio"
	"github.com/book-expert/bulletin-reader/internal/command"
	"github.com/book-expert/bulletin-reader/internal/core"
)

const (
	slowWordsPerMinute = "120"
	logFmtEspeak       = "Synthesizing %d characters with %s (voice %s)"
)

// ErrNoEspeak is returned when neither espeak-ng nor espeak can be found.
var ErrNoEspeak = errors.New("speech not available: install espeak-ng or espeak")

// EspeakProcessor synthesizes speech offline with espeak-ng or espeak.
type EspeakProcessor struct {
	binary string
	runner command.Runner
	log    *logger.Logger
}

// NewEspeakProcessor creates an offline backend. An empty binary selects
// espeak-ng, falling back to espeak.
func NewEspeakProcessor(binary string, runner command.Runner, log *logger.Logger) (*EspeakProcessor, error) {
	if binary == "" {
		for _, candidate := range []string{"espeak-ng", "espeak"} {
			if command.Available(candidate) {
				binary = candidate

				break
			}
		}
	}

	if binary == "" {
		return nil, ErrNoEspeak
	}

	return &EspeakProcessor{binary: binary, runner: runner, log: log}, nil
}

// Name implements core.Synthesizer.
func (p *EspeakProcessor) Name() string { return "espeak" }

// Synthesize implements core.Synthesizer. The text is passed on stdin and the
// WAV stream is read from stdout.
func (p *EspeakProcessor) Synthesize(ctx context.Context, req core.SpeechRequest) (*core.Speech, error) {
	if req.Text == "" {
		return nil, ErrTextEmpty
	}

	voice := espeakVoice(req.Locale)
	args := []string{"-v", voice, "--stdout", "--stdin"}

	if req.Slow {
		args = append(args, "-s", slowWordsPerMinute)
	}

	p.log.Info(logFmtEspeak, len(req.Text), p.binary, voice)

	result, err := p.runner.Run(ctx, p.binary, args, strings.NewReader(req.Text))
	if err != nil {
		return nil, fmt.Errorf("%s execution failed: %w", p.binary, err)
	}

	if len(result.Stdout) == 0 {
		return nil, ErrReceivedEmpty
	}

	return &core.Speech{Audio: result.Stdout, Format: audio.FormatWAV}, nil
}

// espeakVoice maps a BCP 47 tag such as en-GB to an espeak voice name (en-gb).
func espeakVoice(locale string) string {
	if locale == "" {
		return "en"
	}

	return strings.ToLower(locale)
}
