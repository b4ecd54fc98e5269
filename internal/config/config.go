// Package config provides the configuration structure for the bulletin-reader.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"
)

// Speech backends.
const (
	BackendGoogle = "google"
	BackendOpenAI = "openai"
	BackendEspeak = "espeak"
)

// Pitch shift methods.
const (
	PitchMethodResample   = "resample"
	PitchMethodRubberband = "rubberband"
)

const (
	minPitchSemitones = -12
	maxPitchSemitones = 12
)

// Validation errors.
var (
	ErrInvalid       = errors.New("invalid configuration")
	ErrNoShows       = errors.New("no shows configured")
	ErrDuplicateShow = errors.New("duplicate show name")
)

// Duration is a time.Duration decoded from strings such as "-6s" or "1m30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}

	d.Duration = parsed

	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Features holds the global pipeline switches.
type Features struct {
	IncludeTheme     bool `toml:"include_theme"`
	RemoveTempFiles  bool `toml:"remove_temp_files"`
	PitchShift       bool `toml:"pitch_shift"`
	CompressDynamics bool `toml:"compress_dynamics"`
}

// FetchConfig controls retrieval of the source feed.
type FetchConfig struct {
	Timeout    Duration `toml:"timeout"`
	Attempts   int      `toml:"attempts"`
	RetryDelay Duration `toml:"retry_delay"`
	UserAgent  string   `toml:"user_agent"`
}

// SpeechConfig selects and configures the text-to-speech backend.
type SpeechConfig struct {
	Backend       string   `toml:"backend"`
	Locale        string   `toml:"locale"`
	Slow          bool     `toml:"slow"`
	Timeout       Duration `toml:"timeout"`
	GoogleBaseURL string   `toml:"google_base_url"`
	OpenAIAPIKey  string   `toml:"openai_api_key"`
	OpenAIBaseURL string   `toml:"openai_base_url"`
	OpenAIModel   string   `toml:"openai_model"`
	OpenAIVoice   string   `toml:"openai_voice"`
	EspeakBinary  string   `toml:"espeak_binary"`
}

// AudioConfig holds the external tool locations and the audio settings.
type AudioConfig struct {
	FFmpeg         string   `toml:"ffmpeg"`
	FFprobe        string   `toml:"ffprobe"`
	XSLTProc       string   `toml:"xsltproc"`
	Timeout        Duration `toml:"timeout"`
	PitchSemitones int      `toml:"pitch_semitones"`
	PitchMethod    string   `toml:"pitch_method"`
	HeadroomDB     float64  `toml:"headroom_db"`
	Bitrate        string   `toml:"bitrate"`
	SampleRate     int      `toml:"sample_rate"`
	Channels       int      `toml:"channels"`
}

// PublishConfig controls optional publication of finished programmes.
type PublishConfig struct {
	NATSURL string `toml:"nats_url"`
	Bucket  string `toml:"bucket"`
	Subject string `toml:"subject"`
}

// Enabled reports whether a NATS server has been configured.
func (p PublishConfig) Enabled() bool {
	return strings.TrimSpace(p.NATSURL) != ""
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// ShowConfig is the on-disk form of a single show.
type ShowConfig struct {
	Name           string   `toml:"name"`
	Directory      string   `toml:"directory"`
	Theme          string   `toml:"theme"`
	ProgrammeStart Duration `toml:"programme_start"`
	SourceURL      string   `toml:"source_url"`
}

// Config is the root configuration structure.
type Config struct {
	ShowsDir        string        `toml:"shows_dir"`
	IsolateFailures bool          `toml:"isolate_failures"`
	Features        Features      `toml:"features"`
	Fetch           FetchConfig   `toml:"fetch"`
	Speech          SpeechConfig  `toml:"speech"`
	Audio           AudioConfig   `toml:"audio"`
	Publish         PublishConfig `toml:"publish"`
	Paths           PathsConfig   `toml:"paths"`
	Shows           []ShowConfig  `toml:"shows"`
}

// Default returns a configuration with every setting populated except shows.
func Default() Config {
	return Config{
		ShowsDir:        "./shows",
		IsolateFailures: true,
		Features: Features{
			IncludeTheme:     true,
			RemoveTempFiles:  true,
			PitchShift:       true,
			CompressDynamics: true,
		},
		Fetch: FetchConfig{
			Timeout:    Duration{30 * time.Second},
			Attempts:   1,
			RetryDelay: Duration{5 * time.Second},
			UserAgent:  "bulletin-reader/1.0",
		},
		Speech: SpeechConfig{
			Backend:       BackendGoogle,
			Locale:        "en-GB",
			Timeout:       Duration{60 * time.Second},
			GoogleBaseURL: "https://translate.google.com",
			OpenAIModel:   "tts-1",
			OpenAIVoice:   "onyx",
		},
		Audio: AudioConfig{
			FFmpeg:         "ffmpeg",
			FFprobe:        "ffprobe",
			XSLTProc:       "xsltproc",
			Timeout:        Duration{5 * time.Minute},
			PitchSemitones: -4,
			PitchMethod:    PitchMethodResample,
			HeadroomDB:     0.1,
			Bitrate:        "192k",
			SampleRate:     44100,
			Channels:       2,
		},
		Publish: PublishConfig{
			Bucket:  "PROGRAMMES",
			Subject: "programme.ready",
		},
		Paths: PathsConfig{
			BaseLogsDir: "./logs",
		},
	}
}

// Load loads the configuration through the central configurator, on top of
// the defaults.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

// LoadFile decodes the TOML file at path on top of the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML data on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

// Validate checks that the configuration is complete and internally consistent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ShowsDir) == "" {
		return fmt.Errorf("%w: shows_dir cannot be empty", ErrInvalid)
	}

	if c.Fetch.Timeout.Duration <= 0 || c.Speech.Timeout.Duration <= 0 || c.Audio.Timeout.Duration <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalid)
	}

	if c.Fetch.Attempts < 1 {
		return fmt.Errorf("%w: fetch.attempts must be at least 1", ErrInvalid)
	}

	speechErr := c.Speech.validate()
	if speechErr != nil {
		return speechErr
	}

	audioErr := c.Audio.validate()
	if audioErr != nil {
		return audioErr
	}

	return c.validateShows()
}

func (s *SpeechConfig) validate() error {
	switch s.Backend {
	case BackendGoogle, BackendOpenAI, BackendEspeak:
	default:
		return fmt.Errorf("%w: unknown speech backend %q", ErrInvalid, s.Backend)
	}

	_, err := language.Parse(s.Locale)
	if err != nil {
		return fmt.Errorf("%w: speech.locale %q: %w", ErrInvalid, s.Locale, err)
	}

	if s.Backend == BackendOpenAI && strings.TrimSpace(s.OpenAIAPIKey) == "" {
		return fmt.Errorf("%w: speech.openai_api_key is required for the openai backend", ErrInvalid)
	}

	return nil
}

func (a *AudioConfig) validate() error {
	if a.PitchSemitones < minPitchSemitones || a.PitchSemitones > maxPitchSemitones {
		return fmt.Errorf("%w: audio.pitch_semitones must be between %d and %d",
			ErrInvalid, minPitchSemitones, maxPitchSemitones)
	}

	switch a.PitchMethod {
	case PitchMethodResample, PitchMethodRubberband:
	default:
		return fmt.Errorf("%w: unknown pitch method %q", ErrInvalid, a.PitchMethod)
	}

	if a.HeadroomDB < 0 {
		return fmt.Errorf("%w: audio.headroom_db must be non-negative", ErrInvalid)
	}

	return nil
}

func (c *Config) validateShows() error {
	if len(c.Shows) == 0 {
		return ErrNoShows
	}

	seen := make(map[string]struct{}, len(c.Shows))

	for index, show := range c.Shows {
		if strings.TrimSpace(show.Name) == "" {
			return fmt.Errorf("%w: shows[%d].name cannot be empty", ErrInvalid, index)
		}

		if strings.TrimSpace(show.Directory) == "" {
			return fmt.Errorf("%w: show %q has no directory", ErrInvalid, show.Name)
		}

		if strings.TrimSpace(show.SourceURL) == "" {
			return fmt.Errorf("%w: show %q has no source_url", ErrInvalid, show.Name)
		}

		if c.Features.IncludeTheme && strings.TrimSpace(show.Theme) == "" {
			return fmt.Errorf("%w: show %q has no theme but features.include_theme is set", ErrInvalid, show.Name)
		}

		key := strings.ToLower(strings.TrimSpace(show.Name))
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateShow, show.Name)
		}

		seen[key] = struct{}{}
	}

	return nil
}
