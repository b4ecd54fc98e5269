// Package core defines the contracts between the show runner and the
// collaborators that do the heavy lifting.
package core

import (
	"context"
	"time"

	"github.com/book-expert/bulletin-reader/internal/audio"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// Fetcher retrieves a remote document and stores it verbatim at dest.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// Transformer applies a declarative transform definition to a document.
type Transformer interface {
	Transform(ctx context.Context, sourcePath, stylesheetPath string) ([]byte, error)
}

// ScriptExtractor turns the raw feed into a narration script written to dest.
type ScriptExtractor interface {
	Extract(ctx context.Context, sourcePath, stylesheetPath, dest string) (string, error)
}

// SpeechRequest holds the parameters of a single synthesis call.
type SpeechRequest struct {
	Text   string
	Locale string
	Slow   bool
}

// Speech is the audio returned by a synthesis backend.
type Speech struct {
	Audio  []byte
	Format audio.Format
}

// Synthesizer is a text-to-speech backend.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) (*Speech, error)
	Name() string
}

// SpeechRenderer writes synthesized narration to an MP3 file.
type SpeechRenderer interface {
	Render(ctx context.Context, text, dest string) error
}

// VoiceShaper writes a pitch-altered copy of src to dest.
type VoiceShaper interface {
	PitchShift(ctx context.Context, src, dest string) error
}

// ProgrammeAssembler mixes speech onto a theme recording.
type ProgrammeAssembler interface {
	Assemble(ctx context.Context, programme audio.Programme) (audio.Plan, error)
}

// AudioToolkit is the complete set of audio operations used by a run.
type AudioToolkit interface {
	VoiceShaper
	ProgrammeAssembler
	Transcode(ctx context.Context, src, dest string) error
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// Announcement describes a finished programme.
type Announcement struct {
	RunID    string        `json:"run_id"`
	Show     string        `json:"show"`
	Key      string        `json:"key"`
	Path     string        `json:"path"`
	Duration time.Duration `json:"duration"`
	Created  time.Time     `json:"created"`
}

// Publisher makes a finished programme available outside the working directory.
type Publisher interface {
	Publish(ctx context.Context, announcement Announcement, data []byte) (string, error)
}
