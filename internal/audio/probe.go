package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrDecode is returned when a file cannot be read as audio.
var ErrDecode = errors.New("audio decode failed")

var maxVolumePattern = regexp.MustCompile(`max_volume:\s*(-?inf|-?[0-9.]+) dB`)

// Info describes the first audio stream of a file.
type Info struct {
	Duration   time.Duration
	SampleRate int
	Channels   int
	Codec      string
}

type probeResult struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Duration   string `json:"duration"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

// Probe runs ffprobe against path and returns its audio stream details.
func (t *Toolkit) Probe(ctx context.Context, path string) (Info, error) {
	args := []string{"-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path}

	result, err := t.run(ctx, t.ffprobe, args)
	if err != nil {
		return Info{}, fmt.Errorf("%w: probe %s: %w", ErrDecode, path, err)
	}

	return parseProbe(result.Stdout)
}

// Duration returns the playing time of the file at path.
func (t *Toolkit) Duration(ctx context.Context, path string) (time.Duration, error) {
	info, err := t.Probe(ctx, path)
	if err != nil {
		return 0, err
	}

	return info.Duration, nil
}

func parseProbe(output []byte) (Info, error) {
	var result probeResult

	err := json.Unmarshal(output, &result)
	if err != nil {
		return Info{}, fmt.Errorf("%w: parse ffprobe output: %w", ErrDecode, err)
	}

	for _, stream := range result.Streams {
		if stream.CodecType != "audio" {
			continue
		}

		sampleRate, _ := strconv.Atoi(strings.TrimSpace(stream.SampleRate))

		durationText := result.Format.Duration
		if durationText == "" || durationText == "N/A" {
			durationText = stream.Duration
		}

		duration, durErr := parseSeconds(durationText)
		if durErr != nil {
			return Info{}, fmt.Errorf("%w: %w", ErrDecode, durErr)
		}

		return Info{
			Duration:   duration,
			SampleRate: sampleRate,
			Channels:   stream.Channels,
			Codec:      stream.CodecName,
		}, nil
	}

	return Info{}, fmt.Errorf("%w: no audio stream found", ErrDecode)
}

func parseSeconds(text string) (time.Duration, error) {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(seconds) || seconds < 0 {
		return 0, fmt.Errorf("invalid duration %q", text)
	}

	return time.Duration(math.Round(seconds * float64(time.Second))), nil
}

// parseMaxVolume extracts the peak level reported by ffmpeg's volumedetect
// filter. Digital silence is reported as -inf and returned as ok=false.
func parseMaxVolume(stderr []byte) (peakDB float64, ok bool, err error) {
	match := maxVolumePattern.FindSubmatch(stderr)
	if match == nil {
		return 0, false, fmt.Errorf("%w: volumedetect reported no max_volume", ErrDecode)
	}

	if strings.HasSuffix(string(match[1]), "inf") {
		return 0, false, nil
	}

	peakDB, err = strconv.ParseFloat(string(match[1]), 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: max_volume %q: %w", ErrDecode, match[1], err)
	}

	return peakDB, true, nil
}
