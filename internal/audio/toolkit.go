package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/bulletin-reader/internal/command"
)

// Pitch shift methods understood by the toolkit.
const (
	PitchResample   = "resample"
	PitchRubberband = "rubberband"
)

const semitonesPerOctave = 12.0

// Toolkit errors.
var (
	ErrMissingAsset  = errors.New("audio asset not found")
	ErrProcessing    = errors.New("audio processing failed")
	ErrUnknownMethod = errors.New("unknown pitch method")
)

const (
	logFmtPitchShift = "Pitch shifting %s by %d semitones (%s) to %s"
	logFmtPeak       = "Peak level of %s is %.2f dB, applying %.2f dB gain"
	logFmtSilent     = "%s is silent, leaving level unchanged"
	logFmtAssemble   = "Assembling %s: theme %s, speech %s, start %s, total %s"
)

// Compressor mirrors the parameters of a classic feed-forward compressor.
type Compressor struct {
	ThresholdDB float64
	Ratio       float64
	Attack      time.Duration
	Release     time.Duration
}

// DefaultCompressor returns -20 dBFS threshold, 4:1 ratio, 5 ms attack and
// 50 ms release.
func DefaultCompressor() Compressor {
	return Compressor{
		ThresholdDB: -20,
		Ratio:       4,
		Attack:      5 * time.Millisecond,
		Release:     50 * time.Millisecond,
	}
}

func (c Compressor) filter() string {
	threshold := math.Pow(10, c.ThresholdDB/20)

	return fmt.Sprintf("acompressor=threshold=%.6f:ratio=%g:attack=%g:release=%g",
		threshold, c.Ratio,
		float64(c.Attack)/float64(time.Millisecond),
		float64(c.Release)/float64(time.Millisecond))
}

// Options configures a Toolkit.
type Options struct {
	FFmpeg         string
	FFprobe        string
	Timeout        time.Duration
	PitchSemitones int
	PitchMethod    string
	HeadroomDB     float64
	Quality        Quality
	Compressor     Compressor
}

// Programme describes a mix of speech over a theme recording.
type Programme struct {
	ThemePath  string
	SpeechPath string
	Offset     time.Duration
	Compress   bool
	Dest       string
}

// Toolkit performs audio operations by invoking ffmpeg and ffprobe.
type Toolkit struct {
	ffmpeg     string
	ffprobe    string
	timeout    time.Duration
	semitones  int
	method     string
	headroomDB float64
	quality    Quality
	compressor Compressor
	runner     command.Runner
	log        *logger.Logger
}

// NewToolkit validates opts and creates a Toolkit.
func NewToolkit(opts Options, runner command.Runner, log *logger.Logger) (*Toolkit, error) {
	qualityErr := opts.Quality.Validate()
	if qualityErr != nil {
		return nil, qualityErr
	}

	switch opts.PitchMethod {
	case PitchResample, PitchRubberband:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, opts.PitchMethod)
	}

	if opts.FFmpeg == "" {
		opts.FFmpeg = "ffmpeg"
	}

	if opts.FFprobe == "" {
		opts.FFprobe = "ffprobe"
	}

	if opts.Compressor == (Compressor{}) {
		opts.Compressor = DefaultCompressor()
	}

	return &Toolkit{
		ffmpeg:     opts.FFmpeg,
		ffprobe:    opts.FFprobe,
		timeout:    opts.Timeout,
		semitones:  opts.PitchSemitones,
		method:     opts.PitchMethod,
		headroomDB: opts.HeadroomDB,
		quality:    opts.Quality,
		compressor: opts.Compressor,
		runner:     runner,
		log:        log,
	}, nil
}

// PitchShift writes a copy of src shifted by the configured number of
// semitones to dest, keeping the sample rate of src.
func (t *Toolkit) PitchShift(ctx context.Context, src, dest string) error {
	format, err := FormatFromPath(dest)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProcessing, err)
	}

	info, err := t.Probe(ctx, src)
	if err != nil {
		return err
	}

	if info.SampleRate <= 0 {
		return fmt.Errorf("%w: %s reports no sample rate", ErrDecode, src)
	}

	filter, err := pitchFilter(t.method, info.SampleRate, t.semitones)
	if err != nil {
		return err
	}

	t.log.Info(logFmtPitchShift, src, t.semitones, t.method, dest)

	args := []string{"-hide_banner", "-nostats", "-y", "-i", src, "-af", filter,
		"-c:a", format.encoder(), "-ar", fmt.Sprint(info.SampleRate), "-f", string(format), dest}

	_, runErr := t.run(ctx, t.ffmpeg, args)
	if runErr != nil {
		return fmt.Errorf("%w: pitch shift %s: %w", ErrProcessing, src, runErr)
	}

	return nil
}

// Transcode re-encodes src into the container implied by the extension of dest.
func (t *Toolkit) Transcode(ctx context.Context, src, dest string) error {
	format, err := FormatFromPath(dest)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProcessing, err)
	}

	args := append([]string{"-hide_banner", "-nostats", "-y", "-i", src}, t.quality.exportArgs(format)...)
	args = append(args, dest)

	_, runErr := t.run(ctx, t.ffmpeg, args)
	if runErr != nil {
		return fmt.Errorf("%w: transcode %s: %w", ErrProcessing, src, runErr)
	}

	return nil
}

// Assemble normalizes the theme and the speech, lays the speech over the
// theme at the planned start, optionally compresses the result and exports
// it to programme.Dest. The plan is validated before any audio is rendered.
func (t *Toolkit) Assemble(ctx context.Context, programme Programme) (Plan, error) {
	for _, path := range []string{programme.ThemePath, programme.SpeechPath} {
		info, statErr := os.Stat(path)
		if statErr != nil {
			return Plan{}, fmt.Errorf("%w: %s: %w", ErrMissingAsset, path, statErr)
		}

		if info.IsDir() {
			return Plan{}, fmt.Errorf("%w: %s is a directory", ErrMissingAsset, path)
		}
	}

	format, err := FormatFromPath(programme.Dest)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrProcessing, err)
	}

	themeDuration, err := t.Duration(ctx, programme.ThemePath)
	if err != nil {
		return Plan{}, err
	}

	speechDuration, err := t.Duration(ctx, programme.SpeechPath)
	if err != nil {
		return Plan{}, err
	}

	plan, err := PlanProgramme(themeDuration, programme.Offset, speechDuration)
	if err != nil {
		return Plan{}, err
	}

	themeGain, err := t.normalizeGain(ctx, programme.ThemePath)
	if err != nil {
		return Plan{}, err
	}

	speechGain, err := t.normalizeGain(ctx, programme.SpeechPath)
	if err != nil {
		return Plan{}, err
	}

	t.log.Info(logFmtAssemble, programme.Dest, plan.ThemeDuration, plan.SpeechDuration, plan.Start, plan.Total)

	filter := mixFilter(themeGain, speechGain, plan, t.quality, t.compressorFor(programme.Compress))

	args := []string{"-hide_banner", "-nostats", "-y",
		"-i", programme.ThemePath, "-i", programme.SpeechPath,
		"-filter_complex", filter, "-map", "[programme]"}
	args = append(args, t.quality.exportArgs(format)...)
	args = append(args, programme.Dest)

	_, runErr := t.run(ctx, t.ffmpeg, args)
	if runErr != nil {
		return Plan{}, fmt.Errorf("%w: mix %s: %w", ErrProcessing, programme.Dest, runErr)
	}

	return plan, nil
}

func (t *Toolkit) compressorFor(enabled bool) *Compressor {
	if !enabled {
		return nil
	}

	c := t.compressor

	return &c
}

// normalizeGain measures the peak level of path and returns the gain that
// brings it to -headroom dBFS.
func (t *Toolkit) normalizeGain(ctx context.Context, path string) (float64, error) {
	args := []string{"-hide_banner", "-nostats", "-i", path, "-af", "volumedetect", "-f", "null", "-"}

	result, err := t.run(ctx, t.ffmpeg, args)
	if err != nil {
		return 0, fmt.Errorf("%w: measure %s: %w", ErrDecode, path, err)
	}

	peak, ok, err := parseMaxVolume(result.Stderr)
	if err != nil {
		return 0, err
	}

	if !ok {
		t.log.Info(logFmtSilent, path)

		return 0, nil
	}

	gain := -t.headroomDB - peak
	t.log.Info(logFmtPeak, path, peak, gain)

	return gain, nil
}

func (t *Toolkit) run(ctx context.Context, binary string, args []string) (command.Result, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	return t.runner.Run(ctx, binary, args, nil)
}

// pitchFilter builds the ffmpeg filter that shifts pitch by semitones while
// keeping duration and sample rate.
func pitchFilter(method string, sampleRate, semitones int) (string, error) {
	ratio := math.Pow(2, float64(semitones)/semitonesPerOctave)

	switch method {
	case PitchRubberband:
		return fmt.Sprintf("rubberband=pitch=%.6f", ratio), nil
	case PitchResample:
		shiftedRate := int(math.Round(float64(sampleRate) * ratio))

		return fmt.Sprintf("asetrate=%d,aresample=%d,atempo=%.6f", shiftedRate, sampleRate, 1/ratio), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// mixFilter builds the filter graph for a programme. Input 0 is the theme and
// input 1 the speech; the output pad is labelled [programme].
func mixFilter(themeGain, speechGain float64, plan Plan, quality Quality, compressor *Compressor) string {
	format := fmt.Sprintf("aresample=%d,aformat=sample_fmts=fltp:channel_layouts=%s",
		quality.SampleRate, quality.channelLayout())
	total := plan.Total.Seconds()

	var graph strings.Builder

	fmt.Fprintf(&graph, "[0:a]volume=%.3fdB,%s[theme];", themeGain, format)
	fmt.Fprintf(&graph, "[1:a]volume=%.3fdB,%s,adelay=delays=%d:all=1[speech];",
		speechGain, format, plan.Start.Milliseconds())
	fmt.Fprintf(&graph, "[theme][speech]amix=inputs=2:duration=longest:dropout_transition=0:normalize=0,"+
		"apad=whole_dur=%.3f,atrim=duration=%.3f", total, total)

	if compressor != nil {
		graph.WriteString("," + compressor.filter())
	}

	graph.WriteString("[programme]")

	return graph.String()
}
