package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/book-expert/bulletin-reader/internal/command"
	"github.com/book-expert/bulletin-reader/internal/config"
	"github.com/book-expert/bulletin-reader/internal/report"
	"github.com/book-expert/bulletin-reader/internal/show"
	"github.com/book-expert/bulletin-reader/internal/workspace"
)

var errChecksFailed = errors.New("environment checks failed")

func newShowsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shows",
		Short: "List the configured shows",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, log, err := a.setup()
			if err != nil {
				return err
			}

			defer a.closeLogger(log)

			return report.WriteShows(a.stdout, show.NewRegistry(cfg).All())
		},
	}
}

func newCheckCommand(a *app) *cobra.Command {
	var initDirs bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify external tools and show working directories",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, log, err := a.setup()
			if err != nil {
				return err
			}

			defer a.closeLogger(log)

			checks := environmentChecks(cfg, initDirs)

			failed := report.WriteChecks(a.stdout, checks)
			if failed > 0 {
				log.Warn("%d of %d checks failed", failed, len(checks))

				return fmt.Errorf("%w: %w: %d of %d", errConfiguration, errChecksFailed, failed, len(checks))
			}

			log.Info("All %d checks passed", len(checks))

			return nil
		},
	}

	cmd.Flags().BoolVar(&initDirs, "init", false,
		"Create missing working and media directories")

	return cmd
}

// environmentChecks inspects the tools a run needs and the state of every
// show's working directory. With initDirs, missing directories are created.
func environmentChecks(cfg *config.Config, initDirs bool) []report.Check {
	binaries := []string{cfg.Audio.FFmpeg, cfg.Audio.FFprobe, cfg.Audio.XSLTProc}

	if cfg.Speech.Backend == config.BackendEspeak && cfg.Speech.EspeakBinary != "" {
		binaries = append(binaries, cfg.Speech.EspeakBinary)
	}

	checks := make([]report.Check, 0, len(binaries)+len(cfg.Shows)*3)

	for _, binary := range binaries {
		checks = append(checks, toolCheck(binary))
	}

	if cfg.Speech.Backend == config.BackendEspeak && cfg.Speech.EspeakBinary == "" {
		found := command.Available("espeak-ng") || command.Available("espeak")
		checks = append(checks, report.Check{Subject: "espeak-ng or espeak", Passed: found, Detail: onPath(found)})
	}

	for _, s := range show.NewRegistry(cfg).All() {
		checks = append(checks, showChecks(s, cfg.Features.IncludeTheme, initDirs)...)
	}

	return checks
}

func toolCheck(binary string) report.Check {
	found := command.Available(binary)

	return report.Check{Subject: binary, Passed: found, Detail: onPath(found)}
}

func onPath(found bool) string {
	if found {
		return "found"
	}

	return "not found on PATH"
}

func showChecks(s show.Show, includeTheme, initDirs bool) []report.Check {
	layout := workspace.NewLayout(s.Directory(), s.Theme())
	prefix := s.Name() + ": "

	if initDirs {
		mkdirErr := layout.MkdirAll()
		if mkdirErr != nil {
			return []report.Check{{Subject: prefix + "directory", Detail: mkdirErr.Error()}}
		}
	}

	ensureErr := layout.Ensure()
	if ensureErr != nil {
		return []report.Check{{Subject: prefix + "directory", Detail: ensureErr.Error()}}
	}

	checks := []report.Check{
		{Subject: prefix + "directory", Passed: true, Detail: layout.Dir()},
		fileCheck(prefix+"stylesheet", layout.Stylesheet()),
	}

	if includeTheme {
		checks = append(checks, fileCheck(prefix+"theme", layout.Theme()))
	}

	return checks
}

func fileCheck(subject, path string) report.Check {
	info, err := os.Stat(path)

	switch {
	case err != nil:
		return report.Check{Subject: subject, Detail: err.Error()}
	case info.IsDir():
		return report.Check{Subject: subject, Detail: path + " is a directory"}
	default:
		return report.Check{Subject: subject, Passed: true, Detail: path}
	}
}
