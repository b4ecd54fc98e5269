package main

import (
	"fmt"
	"io"
	"os"

	"github.com/book-expert/logger"
	"github.com/spf13/cobra"

	"github.com/book-expert/bulletin-reader/internal/config"
)

// app holds the state shared by every subcommand.
type app struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "bulletin-reader",
		Short:         "Turn published bulletins into spoken radio programmes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "",
		"Configuration file path (defaults to the central configurator)")

	root.AddCommand(
		newRunCommand(a),
		newShowsCommand(a),
		newCheckCommand(a),
	)

	return root
}

// setup loads the configuration under a bootstrap logger, then opens the
// final logger in the configured logs directory.
func (a *app) setup() (*config.Config, *logger.Logger, error) {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFileName)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errConfiguration, err)
	}

	defer a.closeLogger(bootstrapLog)

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := a.loadConfig(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return nil, nil, fmt.Errorf("%w: %w", errConfiguration, err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	mkdirErr := os.MkdirAll(cfg.Paths.BaseLogsDir, logsDirPermissions)
	if mkdirErr != nil {
		bootstrapLog.Error("Failed to create logs directory: %v", mkdirErr)

		return nil, nil, fmt.Errorf("%w: failed to create logs directory: %w", errConfiguration, mkdirErr)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return nil, nil, fmt.Errorf("%w: %w", errConfiguration, err)
	}

	return cfg, finalLog, nil
}

func (a *app) loadConfig(log *logger.Logger) (*config.Config, error) {
	if a.configPath != "" {
		log.Info("Loading configuration from %s", a.configPath)

		return config.LoadFile(a.configPath)
	}

	return config.Load(log)
}

func (a *app) closeLogger(log *logger.Logger) {
	closeErr := log.Close()
	if closeErr != nil {
		fmt.Fprintf(a.stderr, "error closing logger: %v\n", closeErr)
	}
}
