// Package audio provides the audio operations of the pipeline: probing,
// pitch shifting, normalization, mixing, compression and export. The signal
// processing itself is delegated to ffmpeg.
package audio

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Default audio quality settings.
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 2
	DefaultBitrate    = "192k"
)

// Quality validation limits.
const (
	MaxSampleRate = 192000
	MaxChannels   = 2
)

const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d"
	errFmtBitrate         = "%w: bitrate %q must look like 128k or 192000"
)

// ErrInvalidQuality is returned by Quality.Validate.
var ErrInvalidQuality = errors.New("invalid quality settings")

var bitratePattern = regexp.MustCompile(`^\d+[kK]?$`)

// Format represents supported audio container formats.
type Format string

// Supported formats.
const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
)

// FormatFromPath infers the container format from the file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")

	switch Format(ext) {
	case FormatWAV, FormatMP3, FormatFLAC:
		return Format(ext), nil
	default:
		return "", fmt.Errorf("unsupported audio extension %q", filepath.Ext(path))
	}
}

// encoder returns the ffmpeg codec used to write the format.
func (f Format) encoder() string {
	switch f {
	case FormatMP3:
		return "libmp3lame"
	case FormatFLAC:
		return "flac"
	default:
		return "pcm_s16le"
	}
}

// Quality represents the export settings of produced audio.
type Quality struct {
	Bitrate    string
	SampleRate int
	Channels   int
}

// NewDefaultQuality provides sensible default export settings.
func NewDefaultQuality() Quality {
	return Quality{
		Bitrate:    DefaultBitrate,
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
	}
}

// Validate checks if quality settings are within reasonable bounds.
func (q Quality) Validate() error {
	if q.SampleRate <= 0 || q.SampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidQuality, MaxSampleRate)
	}

	if q.Channels <= 0 || q.Channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidQuality, MaxChannels)
	}

	if !bitratePattern.MatchString(q.Bitrate) {
		return fmt.Errorf(errFmtBitrate, ErrInvalidQuality, q.Bitrate)
	}

	return nil
}

// channelLayout names the ffmpeg channel layout for the configured channels.
func (q Quality) channelLayout() string {
	if q.Channels == 1 {
		return "mono"
	}

	return "stereo"
}

// exportArgs returns the ffmpeg output options for the given format.
func (q Quality) exportArgs(format Format) []string {
	args := []string{"-c:a", format.encoder(), "-ar", fmt.Sprint(q.SampleRate), "-ac", fmt.Sprint(q.Channels)}
	if format == FormatMP3 {
		args = append(args, "-b:a", q.Bitrate)
	}

	return append(args, "-f", string(format))
}
