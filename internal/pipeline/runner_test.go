package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/bulletin-reader/internal/audio"
	"github.com/book-expert/bulletin-reader/internal/config"
	"github.com/book-expert/bulletin-reader/internal/core"
	"github.com/book-expert/bulletin-reader/internal/pipeline"
	"github.com/book-expert/bulletin-reader/internal/show"
	"github.com/book-expert/bulletin-reader/internal/workspace"
)

const (
	testFeed       = `<rss><channel><item><description>Viking: Southwest 4</description></item></channel></rss>`
	testNarration  = "Viking: Southwest 4"
	testSpeech     = "ID3 speech audio"
	testThemeBytes = "ID3 theme audio"
	themeName      = "sailingby.mp3"
	themeLength    = 10 * time.Second
	speechLength   = 20 * time.Second
)

var (
	errMockFetch   = errors.New("mock fetch failure")
	errMockPublish = errors.New("mock publish failure")
)

type fakeFetcher struct {
	failURL string
}

func (f *fakeFetcher) Fetch(_ context.Context, url, dest string) error {
	if url == f.failURL {
		return errMockFetch
	}

	return os.WriteFile(dest, []byte(testFeed), 0o600)
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, sourcePath, _, dest string) (string, error) {
	_, err := os.Stat(sourcePath)
	if err != nil {
		return "", err
	}

	return testNarration, os.WriteFile(dest, []byte(testNarration), 0o600)
}

type fakeSpeech struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSpeech) Render(_ context.Context, text, dest string) error {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()

	return os.WriteFile(dest, []byte(testSpeech), 0o600)
}

type fakeAudio struct {
	mu           sync.Mutex
	pitchCalls   int
	assembled    []audio.Programme
	durationPath string
}

func (f *fakeAudio) PitchShift(_ context.Context, src, dest string) error {
	f.mu.Lock()
	f.pitchCalls++
	f.mu.Unlock()

	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	return os.WriteFile(dest, append([]byte("pitched:"), data...), 0o600)
}

func (f *fakeAudio) Assemble(_ context.Context, programme audio.Programme) (audio.Plan, error) {
	f.mu.Lock()
	f.assembled = append(f.assembled, programme)
	f.mu.Unlock()

	for _, path := range []string{programme.ThemePath, programme.SpeechPath} {
		_, err := os.Stat(path)
		if err != nil {
			return audio.Plan{}, fmt.Errorf("%w: %w", audio.ErrMissingAsset, err)
		}
	}

	plan, err := audio.PlanProgramme(themeLength, programme.Offset, speechLength)
	if err != nil {
		return audio.Plan{}, err
	}

	return plan, os.WriteFile(programme.Dest, []byte("mixed programme"), 0o600)
}

func (f *fakeAudio) Transcode(_ context.Context, _, _ string) error { return nil }

func (f *fakeAudio) Duration(_ context.Context, path string) (time.Duration, error) {
	f.mu.Lock()
	f.durationPath = path
	f.mu.Unlock()

	return speechLength, nil
}

type fakePublisher struct {
	err           error
	announcements []core.Announcement
	data          [][]byte
}

func (f *fakePublisher) Publish(_ context.Context, announcement core.Announcement, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}

	f.announcements = append(f.announcements, announcement)
	f.data = append(f.data, data)

	return "key/" + announcement.RunID, nil
}

type harness struct {
	fetcher   *fakeFetcher
	speech    *fakeSpeech
	audio     *fakeAudio
	publisher *fakePublisher
	log       *logger.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	lg, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lg.Close() })

	return &harness{
		fetcher: &fakeFetcher{},
		speech:  &fakeSpeech{},
		audio:   &fakeAudio{},
		log:     lg,
	}
}

func (h *harness) runner(t *testing.T, features config.Features, isolate bool) *pipeline.Runner {
	t.Helper()

	deps := pipeline.Dependencies{
		Fetcher:   h.fetcher,
		Extractor: fakeExtractor{},
		Speech:    h.speech,
		Audio:     h.audio,
	}

	if h.publisher != nil {
		deps.Publisher = h.publisher
	}

	runner, err := pipeline.New(deps, features, pipeline.Options{IsolateFailures: isolate}, h.log)
	require.NoError(t, err)

	return runner
}

func allFeatures() config.Features {
	return config.Features{IncludeTheme: true, RemoveTempFiles: true, PitchShift: true, CompressDynamics: true}
}

// newShow prepares a working directory with a stylesheet and theme asset.
func newShow(t *testing.T, name string, offset time.Duration) show.Show {
	t.Helper()

	root := t.TempDir()
	dir := filepath.Join(root, "01_"+name)
	require.NoError(t, workspace.NewLayout(dir, themeName).MkdirAll())
	require.NoError(t, os.WriteFile(filepath.Join(dir, workspace.StylesheetFile), []byte("<xsl/>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, workspace.MediaDir, themeName), []byte(testThemeBytes), 0o600))

	return show.New(root, config.ShowConfig{
		Name:           name,
		Directory:      "01_" + name,
		Theme:          themeName,
		ProgrammeStart: config.Duration{Duration: offset},
		SourceURL:      "https://example.test/" + name,
	})
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	sort.Strings(names)

	return names
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}

func TestRunner_RunShow_FullPipeline(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := newShow(t, "shipping", -6*time.Second)

	result := h.runner(t, allFeatures(), true).RunShow(context.Background(), s)
	require.NoError(t, result.Err)
	require.True(t, result.OK())

	layout := workspace.NewLayout(s.Directory(), s.Theme())
	assert.Equal(t, layout.Output(), result.Output)
	assert.Equal(t, "mixed programme", readFile(t, layout.Output()))
	assert.Equal(t, 24*time.Second, result.Duration)
	require.NotNil(t, result.Plan)
	assert.Equal(t, 4*time.Second, result.Plan.Start)
	assert.NotEmpty(t, result.RunID)

	assert.Equal(t, []string{workspace.LockFile, workspace.MediaDir, workspace.OutputFile, workspace.StylesheetFile}, listDir(t, s.Directory()),
		"cleanup leaves only the final output and the supplied inputs")

	require.Len(t, h.audio.assembled, 1)
	programme := h.audio.assembled[0]
	assert.Equal(t, layout.Pitch(), programme.SpeechPath, "the shaped speech is mixed")
	assert.Equal(t, layout.Theme(), programme.ThemePath)
	assert.Equal(t, -6*time.Second, programme.Offset)
	assert.True(t, programme.Compress)
	assert.Equal(t, workspace.Partial(layout.Combined()), programme.Dest)

	stages := make([]pipeline.Stage, 0, len(result.Stages))
	for _, timing := range result.Stages {
		stages = append(stages, timing.Stage)
	}

	assert.Equal(t, []pipeline.Stage{
		pipeline.StageFetch, pipeline.StageExtract, pipeline.StageSynthesize,
		pipeline.StageShape, pipeline.StageAssemble, pipeline.StagePromote, pipeline.StageCleanup,
	}, stages)
	assert.Equal(t, []string{testNarration}, h.speech.texts)
}

func TestRunner_RunShow_ThemeOffCopiesSpeechByteForByte(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := newShow(t, "inshore", -6*time.Second)
	features := config.Features{}

	result := h.runner(t, features, true).RunShow(context.Background(), s)
	require.NoError(t, result.Err)

	layout := workspace.NewLayout(s.Directory(), s.Theme())
	assert.Equal(t, readFile(t, layout.Speech()), readFile(t, layout.Output()))
	assert.Equal(t, testSpeech, readFile(t, layout.Output()))
	assert.Empty(t, h.audio.assembled, "the theme is never involved")
	assert.Nil(t, result.Plan)
	assert.Equal(t, speechLength, result.Duration)
	assert.Equal(t, layout.Output(), h.audio.durationPath)
}

func TestRunner_RunShow_ThemeOffMovesShapedSpeech(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := newShow(t, "inshore", 0)
	features := config.Features{PitchShift: true, RemoveTempFiles: true}

	result := h.runner(t, features, true).RunShow(context.Background(), s)
	require.NoError(t, result.Err)

	layout := workspace.NewLayout(s.Directory(), s.Theme())
	assert.Equal(t, "pitched:"+testSpeech, readFile(t, layout.Output()))
	assert.NoFileExists(t, layout.Speech())
	assert.NoFileExists(t, layout.Pitch())
}

func TestRunner_RunShow_PitchOffNeverShapes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := newShow(t, "shipping", -6*time.Second)
	features := config.Features{IncludeTheme: true}

	result := h.runner(t, features, true).RunShow(context.Background(), s)
	require.NoError(t, result.Err)

	layout := workspace.NewLayout(s.Directory(), s.Theme())
	assert.Zero(t, h.audio.pitchCalls)
	assert.NoFileExists(t, layout.Pitch())
	require.Len(t, h.audio.assembled, 1)
	assert.Equal(t, layout.Speech(), h.audio.assembled[0].SpeechPath)
	assert.False(t, h.audio.assembled[0].Compress)

	assert.FileExists(t, layout.Combined(), "combined programme is copied when temporary files are kept")
	assert.FileExists(t, layout.Script())
	assert.FileExists(t, layout.Source())
}

func TestRunner_RunShow_NegativeStartIsConfigurationError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := newShow(t, "shipping", -30*time.Second)
	layout := workspace.NewLayout(s.Directory(), s.Theme())
	require.NoError(t, os.WriteFile(layout.Output(), []byte("previous programme"), 0o600))

	result := h.runner(t, allFeatures(), true).RunShow(context.Background(), s)
	require.Error(t, result.Err)
	require.ErrorIs(t, result.Err, pipeline.ErrConfiguration)
	require.ErrorIs(t, result.Err, audio.ErrNegativeStart)

	var stageErr *pipeline.StageError
	require.ErrorAs(t, result.Err, &stageErr)
	assert.Equal(t, pipeline.StageAssemble, stageErr.Stage)
	assert.Equal(t, "shipping", stageErr.Show)

	assert.Equal(t, "previous programme", readFile(t, layout.Output()), "a failing run leaves the previous output")
	assert.NoFileExists(t, workspace.Partial(layout.Combined()))
	assert.NoFileExists(t, layout.Lock())
}

func TestRunner_RunShow_MissingThemeIsConfigurationError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := newShow(t, "shipping", -6*time.Second)
	require.NoError(t, os.Remove(workspace.NewLayout(s.Directory(), s.Theme()).Theme()))

	result := h.runner(t, allFeatures(), true).RunShow(context.Background(), s)
	require.ErrorIs(t, result.Err, pipeline.ErrConfiguration)
	require.ErrorIs(t, result.Err, audio.ErrMissingAsset)
}

func TestRunner_RunShow_EmptyThemeIsConfigurationError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	named := newShow(t, "shipping", -6*time.Second)
	s := show.New(filepath.Dir(named.Directory()), config.ShowConfig{
		Name:      named.Name(),
		Directory: filepath.Base(named.Directory()),
		SourceURL: named.SourceURL(),
	})

	result := h.runner(t, allFeatures(), true).RunShow(context.Background(), s)
	require.ErrorIs(t, result.Err, pipeline.ErrConfiguration)
	require.ErrorIs(t, result.Err, audio.ErrMissingAsset)
	assert.NotErrorIs(t, result.Err, pipeline.ErrAudioProcessing)
	assert.Empty(t, h.audio.assembled, "nothing is mixed without a theme asset")
}

func TestRunner_RunShow_FetchFailureNamesShowAndStage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := newShow(t, "shipping", -6*time.Second)
	h.fetcher.failURL = s.SourceURL()

	result := h.runner(t, allFeatures(), true).RunShow(context.Background(), s)
	require.ErrorIs(t, result.Err, pipeline.ErrFetch)
	require.ErrorIs(t, result.Err, errMockFetch)
	assert.NotErrorIs(t, result.Err, pipeline.ErrConfiguration)
	assert.Contains(t, result.Err.Error(), `"shipping"`)
	assert.Contains(t, result.Err.Error(), "fetch")
	assert.Empty(t, h.speech.texts)
}

func TestRunner_RunShow_MissingDirectory(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := show.New(t.TempDir(), config.ShowConfig{Name: "ghost", Directory: "missing", Theme: themeName, SourceURL: "x"})

	result := h.runner(t, allFeatures(), true).RunShow(context.Background(), s)
	require.ErrorIs(t, result.Err, pipeline.ErrConfiguration)
}

func TestRunner_RunShow_LockedDirectory(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := newShow(t, "shipping", -6*time.Second)

	lock, err := workspace.Acquire(workspace.NewLayout(s.Directory(), s.Theme()))
	require.NoError(t, err)

	defer func() { _ = lock.Release() }()

	result := h.runner(t, allFeatures(), true).RunShow(context.Background(), s)
	require.ErrorIs(t, result.Err, pipeline.ErrConfiguration)
	require.ErrorIs(t, result.Err, workspace.ErrLocked)
}

func TestRunner_RunShow_SameDurationTwice(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s := newShow(t, "shipping", -6*time.Second)
	runner := h.runner(t, allFeatures(), true)

	first := runner.RunShow(context.Background(), s)
	require.NoError(t, first.Err)

	second := runner.RunShow(context.Background(), s)
	require.NoError(t, second.Err)

	assert.Equal(t, first.Duration, second.Duration)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, []string{workspace.LockFile, workspace.MediaDir, workspace.OutputFile, workspace.StylesheetFile}, listDir(t, s.Directory()))
}

func TestRunner_RunShow_Publishes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.publisher = &fakePublisher{}
	s := newShow(t, "shipping", -6*time.Second)

	result := h.runner(t, allFeatures(), true).RunShow(context.Background(), s)
	require.NoError(t, result.Err)

	require.Len(t, h.publisher.announcements, 1)
	announcement := h.publisher.announcements[0]
	assert.Equal(t, "shipping", announcement.Show)
	assert.Equal(t, result.RunID, announcement.RunID)
	assert.Equal(t, 24*time.Second, announcement.Duration)
	assert.Equal(t, result.Output, announcement.Path)
	assert.Equal(t, "mixed programme", string(h.publisher.data[0]))
	assert.Equal(t, "key/"+result.RunID, result.Key)
}

func TestRunner_RunShow_PublishFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.publisher = &fakePublisher{err: errMockPublish}
	s := newShow(t, "shipping", -6*time.Second)

	result := h.runner(t, allFeatures(), true).RunShow(context.Background(), s)
	require.ErrorIs(t, result.Err, pipeline.ErrPublish)
	assert.FileExists(t, workspace.NewLayout(s.Directory(), s.Theme()).Output(), "the local output is kept")
}

func TestRunner_Run_IsolatesFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	failing := newShow(t, "failing", -6*time.Second)
	healthy := newShow(t, "healthy", -6*time.Second)
	h.fetcher.failURL = failing.SourceURL()

	results, err := h.runner(t, allFeatures(), true).Run(context.Background(), []show.Show{failing, healthy})
	require.ErrorIs(t, err, pipeline.ErrFetch)
	require.Len(t, results, 2)
	assert.False(t, results[0].OK())
	assert.True(t, results[1].OK())
	assert.FileExists(t, results[1].Output)
}

func TestRunner_Run_StopsAtFirstFailureWithoutIsolation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	failing := newShow(t, "failing", -6*time.Second)
	healthy := newShow(t, "healthy", -6*time.Second)
	h.fetcher.failURL = failing.SourceURL()

	results, err := h.runner(t, allFeatures(), false).Run(context.Background(), []show.Show{failing, healthy})
	require.ErrorIs(t, err, pipeline.ErrFetch)
	require.Len(t, results, 1)
	assert.NoFileExists(t, workspace.NewLayout(healthy.Directory(), healthy.Theme()).Output())
}

func TestRunner_Run_Cancelled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := h.runner(t, allFeatures(), true).Run(ctx, []show.Show{newShow(t, "shipping", 0)})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestNew_MissingDependency(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := pipeline.New(pipeline.Dependencies{Fetcher: h.fetcher}, allFeatures(), pipeline.Options{}, h.log)
	require.ErrorIs(t, err, pipeline.ErrMissingDependency)
}
