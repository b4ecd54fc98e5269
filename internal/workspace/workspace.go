// Package workspace owns the per-show working directory: the fixed artifact
// names, atomic commits of stage outputs, and removal of stale or
// intermediate files.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
)

// Artifact names inside a working directory.
const (
	SourceFile       = "source.xml"
	StylesheetFile   = "translate.xsl"
	ScriptFile       = "script.txt"
	SpeechFile       = "speech.mp3"
	PitchFile        = "output_pitch.flac"
	MediaDir         = "media"
	CombinedFile     = "output_combined.mp3"
	OutputFile       = "output.mp3"
	LockFile         = ".lock"
	partialInfix     = ".partial"
	filePermissions  = 0o644
	dirPermissions   = 0o750
	logFmtRemoved    = "Removed %s"
	logFmtRemoveFail = "Failed to remove %s: %v"
)

// ErrNotDirectory is returned when the working directory path is not a directory.
var ErrNotDirectory = errors.New("working directory is not a directory")

// Layout resolves artifact paths for one show.
type Layout struct {
	dir   string
	theme string
}

// NewLayout creates a Layout for dir using theme as the media asset name.
func NewLayout(dir, theme string) Layout {
	return Layout{dir: dir, theme: theme}
}

// Dir returns the working directory.
func (l Layout) Dir() string { return l.dir }

// Source returns the path of the raw feed document.
func (l Layout) Source() string { return filepath.Join(l.dir, SourceFile) }

// Stylesheet returns the path of the pre-supplied transform definition.
func (l Layout) Stylesheet() string { return filepath.Join(l.dir, StylesheetFile) }

// Script returns the path of the narration script.
func (l Layout) Script() string { return filepath.Join(l.dir, ScriptFile) }

// Speech returns the path of the synthesized speech.
func (l Layout) Speech() string { return filepath.Join(l.dir, SpeechFile) }

// Pitch returns the path of the pitch-shifted speech.
func (l Layout) Pitch() string { return filepath.Join(l.dir, PitchFile) }

// Theme returns the path of the theme asset.
func (l Layout) Theme() string { return filepath.Join(l.dir, MediaDir, l.theme) }

// Combined returns the path of the intermediate mix.
func (l Layout) Combined() string { return filepath.Join(l.dir, CombinedFile) }

// Output returns the path of the final programme.
func (l Layout) Output() string { return filepath.Join(l.dir, OutputFile) }

// Lock returns the path of the run lock file. The file is kept between runs.
func (l Layout) Lock() string { return filepath.Join(l.dir, LockFile) }

// Partial returns the in-progress name for path, keeping its extension so
// encoders can still infer the container: speech.mp3 -> speech.partial.mp3.
func Partial(path string) string {
	ext := filepath.Ext(path)

	return strings.TrimSuffix(path, ext) + partialInfix + ext
}

// Ensure checks that the working directory exists and is a directory.
func (l Layout) Ensure() error {
	info, err := os.Stat(l.dir)
	if err != nil {
		return fmt.Errorf("working directory %s: %w", l.dir, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, l.dir)
	}

	return nil
}

// WriteFile writes data to the partial name of dest and commits it, so dest
// only ever holds a complete artifact.
func WriteFile(dest string, data []byte) error {
	partial := Partial(dest)

	err := os.WriteFile(partial, data, filePermissions)
	if err != nil {
		_ = os.Remove(partial)

		return fmt.Errorf("failed to write %s: %w", partial, err)
	}

	return Commit(partial, dest)
}

// Commit atomically renames a finished partial artifact to its final name.
func Commit(partial, final string) error {
	err := os.Rename(partial, final)
	if err != nil {
		return fmt.Errorf("failed to commit %s: %w", final, err)
	}

	return nil
}

// Janitor removes stale and intermediate artifacts and commits stage outputs.
type Janitor struct {
	layout Layout
	log    *logger.Logger
}

// NewJanitor creates a Janitor for layout.
func NewJanitor(layout Layout, log *logger.Logger) *Janitor {
	return &Janitor{layout: layout, log: log}
}

// Commit atomically renames a finished partial artifact to its final name.
func (j *Janitor) Commit(partial, final string) error {
	return Commit(partial, final)
}

// Discard removes a partial artifact left by a failed stage.
func (j *Janitor) Discard(partial string) {
	err := os.Remove(partial)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		j.log.Warn(logFmtRemoveFail, partial, err)
	}
}

// ClearOutput removes a previous final output, if any.
func (j *Janitor) ClearOutput() error {
	err := os.Remove(j.layout.Output())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove previous output: %w", err)
	}

	if err == nil {
		j.log.Info(logFmtRemoved, j.layout.Output())
	}

	return nil
}

// Promote makes src the final output. With move set src is renamed, otherwise
// it is copied and left in place. The output appears only once complete.
func (j *Janitor) Promote(src, final string, move bool) error {
	if move {
		return j.Commit(src, final)
	}

	partial := Partial(final)

	err := copyFile(src, partial)
	if err != nil {
		_ = os.Remove(partial)

		return fmt.Errorf("failed to copy %s: %w", src, err)
	}

	return j.Commit(partial, final)
}

// Sweep removes the given artifacts. Missing files are ignored; other failures
// are logged and returned together.
func (j *Janitor) Sweep(paths ...string) error {
	var errs []error

	for _, path := range paths {
		err := os.Remove(path)

		switch {
		case err == nil:
			j.log.Info(logFmtRemoved, path)
		case errors.Is(err, fs.ErrNotExist):
		default:
			j.log.Warn(logFmtRemoveFail, path, err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// MkdirAll creates the working directory, used by the check command.
func (l Layout) MkdirAll() error {
	err := os.MkdirAll(filepath.Join(l.dir, MediaDir), dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", l.dir, err)
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermissions)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	if err != nil {
		return err
	}

	return out.Close()
}
