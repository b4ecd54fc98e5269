package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/bulletin-reader/internal/config"
	"github.com/book-expert/bulletin-reader/internal/pipeline"
	"github.com/book-expert/bulletin-reader/internal/show"
	"github.com/book-expert/bulletin-reader/internal/tts"
)

const testConfigTemplate = `
shows_dir = %q

[features]
include_theme = true

[paths]
base_logs_dir = %q

[[shows]]
name = "The Shipping Forecast"
directory = "shipping"
theme = "sailingby.mp3"
programme_start = "-6s"
source_url = %q
`

// writeConfig writes a one-show configuration into a fresh directory and
// returns the config path and the shows directory.
func writeConfig(t *testing.T, sourceURL string) (string, string) {
	t.Helper()

	root := t.TempDir()
	showsDir := filepath.Join(root, "shows")
	path := filepath.Join(root, "bulletin-reader.toml")

	data := fmt.Sprintf(testConfigTemplate, showsDir, filepath.Join(root, "logs"), sourceURL)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	return path, showsDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	root := newRootCommand(&stdout, &stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())

	return stdout.String(), err
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: exitOK},
		{name: "configuration", err: fmt.Errorf("%w: bad", errConfiguration), want: exitConfiguration},
		{name: "invalid config", err: config.ErrInvalid, want: exitConfiguration},
		{name: "no shows", err: config.ErrNoShows, want: exitConfiguration},
		{name: "unknown show", err: show.ErrUnknownShow, want: exitConfiguration},
		{
			name: "show failure",
			err:  &pipeline.StageError{Show: "x", Stage: pipeline.StageFetch, Kind: pipeline.ErrFetch, Err: errors.New("503")},
			want: exitShowsFailed,
		},
		{name: "other", err: errors.New("boom"), want: exitShowsFailed},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.want, exitCode(testCase.err))
		})
	}
}

func TestShowsCommand(t *testing.T) {
	t.Parallel()

	path, showsDir := writeConfig(t, "https://example.org/shipping.xml")

	out, err := execute(t, "shows", "--config", path)
	require.NoError(t, err)

	assert.Contains(t, out, "The Shipping Forecast")
	assert.Contains(t, out, filepath.Join(showsDir, "shipping"))
	assert.Contains(t, out, "-6s")
}

func TestShowsCommand_MissingConfigFile(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "shows", "-c", filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.Equal(t, exitConfiguration, exitCode(err))
}

func TestCheckCommand_Init(t *testing.T) {
	t.Parallel()

	path, showsDir := writeConfig(t, "https://example.org/shipping.xml")

	out, err := execute(t, "check", "-c", path, "--init")
	require.Error(t, err, "stylesheet and theme are still missing")
	require.ErrorIs(t, err, errChecksFailed)
	assert.Equal(t, exitConfiguration, exitCode(err))

	assert.DirExists(t, filepath.Join(showsDir, "shipping", "media"))
	assert.Contains(t, out, "The Shipping Forecast: stylesheet")
	assert.Contains(t, out, "FAILED")
}

func TestCheckCommand_MissingDirectoryWithoutInit(t *testing.T) {
	t.Parallel()

	path, showsDir := writeConfig(t, "https://example.org/shipping.xml")

	out, err := execute(t, "check", "-c", path)
	require.ErrorIs(t, err, errChecksFailed)

	assert.NoDirExists(t, filepath.Join(showsDir, "shipping"))
	assert.Contains(t, out, "The Shipping Forecast: directory")
}

func TestRunCommand_UnknownShow(t *testing.T) {
	t.Parallel()

	path, _ := writeConfig(t, "https://example.org/shipping.xml")

	_, err := execute(t, "run", "-c", path, "--show", "Inshore Waters")
	require.ErrorIs(t, err, show.ErrUnknownShow)
	assert.Equal(t, exitConfiguration, exitCode(err))
}

func TestRunCommand_ShowFailureIsReported(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	path, showsDir := writeConfig(t, server.URL+"/shipping.xml")

	dir := filepath.Join(showsDir, "shipping")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "media"), 0o750))

	previous := []byte("yesterday's programme")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "output.mp3"), previous, 0o600))

	out, err := execute(t, "run", "-c", path, "-s", "the shipping forecast")
	require.ErrorIs(t, err, pipeline.ErrFetch)
	assert.Equal(t, exitShowsFailed, exitCode(err))

	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "0/1 ok")

	kept, readErr := os.ReadFile(filepath.Join(dir, "output.mp3"))
	require.NoError(t, readErr)
	assert.Equal(t, previous, kept)
}

func TestShowsCommand_ThemeRequiredWhenMixing(t *testing.T) {
	t.Parallel()

	path, _ := writeConfig(t, "https://example.org/shipping.xml")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, bytes.Replace(data, []byte(`theme = "sailingby.mp3"`), nil, 1), 0o600))

	_, err = execute(t, "shows", "-c", path)
	require.ErrorIs(t, err, config.ErrInvalid)
	assert.Equal(t, exitConfiguration, exitCode(err))
}

func TestBuildDependencies(t *testing.T) {
	t.Parallel()

	lg, err := setupLogger(t.TempDir(), logFileName)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lg.Close() })

	cfg := config.Default()
	cfg.Speech.Backend = config.BackendEspeak
	cfg.Speech.EspeakBinary = "espeak-ng"

	deps, closeDeps, err := buildDependencies(&cfg, lg)
	require.NoError(t, err)
	t.Cleanup(closeDeps)

	engine, ok := deps.Speech.(*tts.Engine)
	require.True(t, ok)
	assert.Equal(t, config.BackendEspeak, engine.Backend())
	assert.Nil(t, deps.Publisher, "publishing is off without a NATS URL")
	assert.NotNil(t, deps.Fetcher)
	assert.NotNil(t, deps.Extractor)
	assert.NotNil(t, deps.Audio)
}
