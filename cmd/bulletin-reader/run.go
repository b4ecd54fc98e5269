package main

import (
	"context"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/spf13/cobra"

	"github.com/book-expert/bulletin-reader/internal/audio"
	"github.com/book-expert/bulletin-reader/internal/command"
	"github.com/book-expert/bulletin-reader/internal/config"
	"github.com/book-expert/bulletin-reader/internal/feed"
	"github.com/book-expert/bulletin-reader/internal/pipeline"
	"github.com/book-expert/bulletin-reader/internal/publish"
	"github.com/book-expert/bulletin-reader/internal/report"
	"github.com/book-expert/bulletin-reader/internal/script"
	"github.com/book-expert/bulletin-reader/internal/show"
	"github.com/book-expert/bulletin-reader/internal/tts"
)

const (
	logFmtStarting  = "Bulletin reader starting: %d of %d show(s)"
	logFmtBackend   = "Speech backend: %s"
	logFmtFinished  = "Bulletin reader finished: %d of %d show(s) produced"
	logFmtReportErr = "Failed to write run summary: %v"
	logFmtCloseErr  = "Failed to close publisher: %v"
)

func newRunCommand(a *app) *cobra.Command {
	var names []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Produce programmes for the configured shows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runShows(cmd.Context(), names)
		},
	}

	cmd.Flags().StringSliceVarP(&names, "show", "s", nil,
		"Only run the named shows (repeatable; default all)")

	return cmd
}

func (a *app) runShows(ctx context.Context, names []string) error {
	cfg, log, err := a.setup()
	if err != nil {
		return err
	}

	defer a.closeLogger(log)

	registry := show.NewRegistry(cfg)

	shows, err := registry.Select(names)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfiguration, err)
	}

	deps, closeDeps, err := buildDependencies(cfg, log)
	if err != nil {
		log.Error("Failed to initialise pipeline: %v", err)

		return fmt.Errorf("%w: %w", errConfiguration, err)
	}

	defer closeDeps()

	runner, err := pipeline.New(deps, cfg.Features, pipeline.Options{IsolateFailures: cfg.IsolateFailures}, log)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfiguration, err)
	}

	log.System(logFmtStarting, len(shows), registry.Len())

	results, runErr := runner.Run(ctx, shows)

	produced := 0

	for _, result := range results {
		if result.OK() {
			produced++
		}
	}

	log.System(logFmtFinished, produced, len(shows))

	reportErr := report.Write(a.stdout, results)
	if reportErr != nil {
		log.Warn(logFmtReportErr, reportErr)
	}

	return runErr
}

// buildDependencies wires the production collaborators from cfg. The returned
// func releases the publisher connection, if any.
func buildDependencies(cfg *config.Config, log *logger.Logger) (pipeline.Dependencies, func(), error) {
	noop := func() {}
	runner := command.Exec{}

	toolkit, err := audio.NewToolkit(audio.Options{
		FFmpeg:         cfg.Audio.FFmpeg,
		FFprobe:        cfg.Audio.FFprobe,
		Timeout:        cfg.Audio.Timeout.Duration,
		PitchSemitones: cfg.Audio.PitchSemitones,
		PitchMethod:    cfg.Audio.PitchMethod,
		HeadroomDB:     cfg.Audio.HeadroomDB,
		Quality: audio.Quality{
			Bitrate:    cfg.Audio.Bitrate,
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
		},
	}, runner, log)
	if err != nil {
		return pipeline.Dependencies{}, noop, err
	}

	fetcher, err := feed.NewFetcher(feed.Options{
		Timeout:    cfg.Fetch.Timeout.Duration,
		Attempts:   cfg.Fetch.Attempts,
		RetryDelay: cfg.Fetch.RetryDelay.Duration,
		UserAgent:  cfg.Fetch.UserAgent,
	}, log)
	if err != nil {
		return pipeline.Dependencies{}, noop, err
	}

	speech, err := tts.New(cfg.Speech, toolkit, runner, log)
	if err != nil {
		return pipeline.Dependencies{}, noop, err
	}

	log.Info(logFmtBackend, speech.Backend())

	deps := pipeline.Dependencies{
		Fetcher:   fetcher,
		Extractor: script.NewExtractor(script.NewXSLTProc(cfg.Audio.XSLTProc, runner), log),
		Speech:    speech,
		Audio:     toolkit,
	}

	if !cfg.Publish.Enabled() {
		return deps, noop, nil
	}

	publisher, err := publish.Connect(cfg.Publish.NATSURL, cfg.Publish.Bucket, cfg.Publish.Subject, log)
	if err != nil {
		return pipeline.Dependencies{}, noop, err
	}

	deps.Publisher = publisher

	return deps, func() {
		closeErr := publisher.Close()
		if closeErr != nil {
			log.Warn(logFmtCloseErr, closeErr)
		}
	}, nil
}
