// Package command runs the external tools the pipeline delegates to
// (ffmpeg, ffprobe, xsltproc, espeak).
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

const maxStderrInError = 2048

// ErrToolFailed is returned when an external tool exits unsuccessfully.
var ErrToolFailed = errors.New("external tool failed")

// Result holds the captured output of a finished command.
type Result struct {
	Stdout []byte
	Stderr []byte
}

// Runner executes an external command.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader) (Result, error)
}

// Exec runs commands with os/exec.
type Exec struct{}

// Run executes name with args, feeding stdin when it is non-nil.
func (Exec) Run(ctx context.Context, name string, args []string, stdin io.Reader) (Result, error) {
	var stdout, stderr bytes.Buffer

	// #nosec G204 -- binaries and arguments come from validated configuration
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if stdin != nil {
		cmd.Stdin = stdin
	}

	err := cmd.Run()

	result := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		return result, fmt.Errorf("%w: %s: %w: %s", ErrToolFailed, name, err, tail(stderr.String()))
	}

	return result, nil
}

// Available reports whether binary resolves on PATH or as a path.
func Available(binary string) bool {
	_, err := exec.LookPath(strings.TrimSpace(binary))

	return err == nil
}

func tail(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > maxStderrInError {
		return "..." + text[len(text)-maxStderrInError:]
	}

	return text
}
