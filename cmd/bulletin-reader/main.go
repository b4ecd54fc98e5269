// main package for the bulletin-reader
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"

	"github.com/book-expert/bulletin-reader/internal/config"
	"github.com/book-expert/bulletin-reader/internal/show"
)

// Process exit codes.
const (
	exitOK            = 0
	exitShowsFailed   = 1
	exitConfiguration = 2
)

const (
	logFileName          = "bulletin-reader.log"
	bootstrapLogFileName = "bulletin-reader-bootstrap.log"
	logsDirPermissions   = 0o750
)

// errConfiguration marks failures that happen before any show runs.
var errConfiguration = errors.New("configuration error")

func setupLogger(dir, file string) (*logger.Logger, error) {
	log, err := logger.New(dir, file)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", dir, err)
	}

	return log, nil
}

// exitCode maps the error returned by a command to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errConfiguration),
		errors.Is(err, config.ErrInvalid),
		errors.Is(err, config.ErrNoShows),
		errors.Is(err, config.ErrDuplicateShow),
		errors.Is(err, show.ErrUnknownShow):
		return exitConfiguration
	default:
		return exitShowsFailed
	}
}

func run(ctx context.Context, args []string) int {
	root := newRootCommand(os.Stdout, os.Stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "bulletin-reader: %v\n", err)
	}

	return exitCode(err)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := run(ctx, os.Args[1:])

	stop()
	os.Exit(code)
}
