// Package show holds the immutable show records processed by a run.
package show

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/bulletin-reader/internal/config"
)

// ErrUnknownShow is returned when a requested show is not registered.
var ErrUnknownShow = errors.New("unknown show")

// Show is one configured end-to-end job: one source feed, one theme, one output.
type Show struct {
	name           string
	directory      string
	sourceURL      string
	theme          string
	programmeStart time.Duration
}

// New creates a Show. The directory is resolved against root unless it is
// already absolute.
func New(root string, cfg config.ShowConfig) Show {
	directory := cfg.Directory
	if !filepath.IsAbs(directory) {
		directory = filepath.Join(root, directory)
	}

	return Show{
		name:           cfg.Name,
		directory:      filepath.Clean(directory),
		sourceURL:      cfg.SourceURL,
		theme:          cfg.Theme,
		programmeStart: cfg.ProgrammeStart.Duration,
	}
}

// Name returns the display name of the show.
func (s Show) Name() string { return s.name }

// Directory returns the absolute or root-relative working directory.
func (s Show) Directory() string { return s.directory }

// SourceURL returns the feed location.
func (s Show) SourceURL() string { return s.sourceURL }

// Theme returns the theme asset filename, relative to the media directory.
func (s Show) Theme() string { return s.theme }

// ProgrammeStart returns the signed offset of the speech relative to the end
// of the theme. Negative values start the speech before the theme finishes.
func (s Show) ProgrammeStart() time.Duration { return s.programmeStart }

// String implements fmt.Stringer.
func (s Show) String() string { return s.name }

// Registry is the ordered, read-only list of shows for a run.
type Registry struct {
	shows []Show
}

// NewRegistry builds a registry from the configuration, preserving order.
func NewRegistry(cfg *config.Config) *Registry {
	shows := make([]Show, 0, len(cfg.Shows))
	for _, showCfg := range cfg.Shows {
		shows = append(shows, New(cfg.ShowsDir, showCfg))
	}

	return &Registry{shows: shows}
}

// All returns a copy of every registered show.
func (r *Registry) All() []Show {
	out := make([]Show, len(r.shows))
	copy(out, r.shows)

	return out
}

// Len returns the number of registered shows.
func (r *Registry) Len() int { return len(r.shows) }

// Lookup finds a show by name, case-insensitively.
func (r *Registry) Lookup(name string) (Show, error) {
	for _, s := range r.shows {
		if strings.EqualFold(s.name, strings.TrimSpace(name)) {
			return s, nil
		}
	}

	return Show{}, fmt.Errorf("%w: %q", ErrUnknownShow, name)
}

// Select returns the named shows in registry order. An empty selection
// returns every show.
func (r *Registry) Select(names []string) ([]Show, error) {
	if len(names) == 0 {
		return r.All(), nil
	}

	wanted := make(map[string]struct{}, len(names))

	for _, name := range names {
		found, err := r.Lookup(name)
		if err != nil {
			return nil, err
		}

		wanted[found.name] = struct{}{}
	}

	selected := make([]Show, 0, len(wanted))

	for _, s := range r.shows {
		if _, ok := wanted[s.name]; ok {
			selected = append(selected, s)
		}
	}

	return selected, nil
}
