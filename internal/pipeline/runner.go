// Package pipeline runs the stages that turn a show's source feed into its
// finished programme.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/bulletin-reader/internal/audio"
	"github.com/book-expert/bulletin-reader/internal/config"
	"github.com/book-expert/bulletin-reader/internal/core"
	"github.com/book-expert/bulletin-reader/internal/show"
	"github.com/book-expert/bulletin-reader/internal/workspace"
)

// ErrMissingDependency is returned by New when a required collaborator is nil.
var ErrMissingDependency = errors.New("missing pipeline dependency")

const (
	logFmtShowStart   = "Show %q: starting run %s in %s"
	logFmtShowDone    = "Show %q: finished in %s, output %s (%s)"
	logFmtShowFailed  = "Show %q: failed after %s: %v"
	logFmtStageStart  = "Show %q: stage %s started"
	logFmtStageDone   = "Show %q: stage %s finished in %s"
	logFmtStageFailed = "Show %q: stage %s failed: %v"
	logFmtWarning     = "Show %q: %s"
	logFmtBatchStop   = "Stopping batch after failure of %q"
	logFmtUnlockFail  = "failed to release lock: %v"
)

// Dependencies are the collaborators a Runner drives. Publisher is optional.
type Dependencies struct {
	Fetcher   core.Fetcher
	Extractor core.ScriptExtractor
	Speech    core.SpeechRenderer
	Audio     core.AudioToolkit
	Publisher core.Publisher
}

// Options controls batch behaviour.
type Options struct {
	// IsolateFailures lets the remaining shows run after one fails.
	IsolateFailures bool
}

// StageTiming records how long a stage took.
type StageTiming struct {
	Stage   Stage
	Elapsed time.Duration
}

// Result is the outcome of one show run.
type Result struct {
	RunID     string
	Show      string
	Directory string
	Output    string
	Duration  time.Duration
	Plan      *audio.Plan
	Key       string
	Stages    []StageTiming
	Warnings  []string
	Elapsed   time.Duration
	Err       error
}

// OK reports whether the run produced its output.
func (r Result) OK() bool { return r.Err == nil }

// Runner executes the stage pipeline for each show.
type Runner struct {
	deps     Dependencies
	features config.Features
	opts     Options
	log      *logger.Logger
}

// New creates a Runner. features is copied; the runner never mutates it.
func New(deps Dependencies, features config.Features, opts Options, log *logger.Logger) (*Runner, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("%w: fetcher", ErrMissingDependency)
	case deps.Extractor == nil:
		return nil, fmt.Errorf("%w: extractor", ErrMissingDependency)
	case deps.Speech == nil:
		return nil, fmt.Errorf("%w: speech renderer", ErrMissingDependency)
	case deps.Audio == nil:
		return nil, fmt.Errorf("%w: audio toolkit", ErrMissingDependency)
	}

	return &Runner{deps: deps, features: features, opts: opts, log: log}, nil
}

// Run processes shows in order. With failure isolation every show is
// attempted; otherwise the batch stops at the first failure. The returned
// error joins every show failure.
func (r *Runner) Run(ctx context.Context, shows []show.Show) ([]Result, error) {
	results := make([]Result, 0, len(shows))

	var errs []error

	for _, s := range shows {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			errs = append(errs, fmt.Errorf("batch cancelled before %q: %w", s.Name(), ctxErr))

			break
		}

		result := r.RunShow(ctx, s)
		results = append(results, result)

		if result.Err == nil {
			continue
		}

		errs = append(errs, result.Err)

		if !r.opts.IsolateFailures {
			r.log.Warn(logFmtBatchStop, s.Name())

			break
		}
	}

	return results, errors.Join(errs...)
}

// RunShow runs every stage for one show. Failures are returned in
// Result.Err as a *StageError.
func (r *Runner) RunShow(ctx context.Context, s show.Show) Result {
	started := time.Now()
	layout := workspace.NewLayout(s.Directory(), s.Theme())

	run := &showRun{
		show:    s,
		layout:  layout,
		janitor: workspace.NewJanitor(layout, r.log),
		result: Result{
			RunID:     uuid.NewString(),
			Show:      s.Name(),
			Directory: s.Directory(),
		},
	}

	r.log.Info(logFmtShowStart, s.Name(), run.result.RunID, s.Directory())

	err := r.execute(ctx, run)

	run.result.Elapsed = time.Since(started)
	run.result.Err = err

	if err != nil {
		r.log.Error(logFmtShowFailed, s.Name(), run.result.Elapsed, err)
	} else {
		r.log.Info(logFmtShowDone, s.Name(), run.result.Elapsed, run.result.Output, run.result.Duration)
	}

	return run.result
}

// showRun carries the artifacts of one show between stages.
type showRun struct {
	show      show.Show
	layout    workspace.Layout
	janitor   *workspace.Janitor
	narration string
	speech    string
	final     string
	result    Result
}

func (run *showRun) warn(r *Runner, format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	run.result.Warnings = append(run.result.Warnings, message)
	r.log.Warn(logFmtWarning, run.show.Name(), message)
}

type stage struct {
	name Stage
	run  func(ctx context.Context, run *showRun) error
}

// stages builds the stage list for the configured features.
func (r *Runner) stages() []stage {
	list := []stage{
		{StageFetch, r.fetch},
		{StageExtract, r.extract},
		{StageSynthesize, r.synthesize},
	}

	if r.features.PitchShift {
		list = append(list, stage{StageShape, r.shape})
	}

	if r.features.IncludeTheme {
		list = append(list, stage{StageAssemble, r.assemble})
	}

	list = append(list, stage{StagePromote, r.promote})

	if r.features.RemoveTempFiles {
		list = append(list, stage{StageCleanup, r.cleanup})
	}

	if r.deps.Publisher != nil {
		list = append(list, stage{StagePublish, r.publish})
	}

	return list
}

func (r *Runner) execute(ctx context.Context, run *showRun) error {
	ensureErr := run.layout.Ensure()
	if ensureErr != nil {
		return newStageError(run.show.Name(), StageLock, ensureErr)
	}

	lock, lockErr := workspace.Acquire(run.layout)
	if lockErr != nil {
		return newStageError(run.show.Name(), StageLock, lockErr)
	}

	defer func() {
		releaseErr := lock.Release()
		if releaseErr != nil {
			run.warn(r, logFmtUnlockFail, releaseErr)
		}
	}()

	for _, st := range r.stages() {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return newStageError(run.show.Name(), st.name, ctxErr)
		}

		r.log.Info(logFmtStageStart, run.show.Name(), st.name)
		stageStarted := time.Now()

		err := st.run(ctx, run)
		if err != nil {
			r.log.Error(logFmtStageFailed, run.show.Name(), st.name, err)

			return newStageError(run.show.Name(), st.name, err)
		}

		elapsed := time.Since(stageStarted)
		run.result.Stages = append(run.result.Stages, StageTiming{Stage: st.name, Elapsed: elapsed})
		r.log.Info(logFmtStageDone, run.show.Name(), st.name, elapsed)
	}

	return nil
}

func (r *Runner) fetch(ctx context.Context, run *showRun) error {
	return r.deps.Fetcher.Fetch(ctx, run.show.SourceURL(), run.layout.Source())
}

func (r *Runner) extract(ctx context.Context, run *showRun) error {
	narration, err := r.deps.Extractor.Extract(ctx, run.layout.Source(), run.layout.Stylesheet(), run.layout.Script())
	if err != nil {
		return err
	}

	run.narration = narration

	return nil
}

func (r *Runner) synthesize(ctx context.Context, run *showRun) error {
	err := r.deps.Speech.Render(ctx, run.narration, run.layout.Speech())
	if err != nil {
		return err
	}

	run.speech = run.layout.Speech()

	return nil
}

// shape writes the pitch-shifted speech and makes it the chosen speech
// artifact. The unshaped speech is removed when temporary files are not kept.
func (r *Runner) shape(ctx context.Context, run *showRun) error {
	partial := workspace.Partial(run.layout.Pitch())

	err := r.deps.Audio.PitchShift(ctx, run.speech, partial)
	if err != nil {
		run.janitor.Discard(partial)

		return err
	}

	commitErr := run.janitor.Commit(partial, run.layout.Pitch())
	if commitErr != nil {
		return commitErr
	}

	if r.features.RemoveTempFiles {
		sweepErr := run.janitor.Sweep(run.speech)
		if sweepErr != nil {
			run.warn(r, "cleanup: %v", sweepErr)
		}
	}

	run.speech = run.layout.Pitch()

	return nil
}

// assemble mixes the chosen speech onto the theme as the combined artifact.
func (r *Runner) assemble(ctx context.Context, run *showRun) error {
	if run.show.Theme() == "" {
		return fmt.Errorf("%w: no theme configured for %q", audio.ErrMissingAsset, run.show.Name())
	}

	partial := workspace.Partial(run.layout.Combined())

	plan, err := r.deps.Audio.Assemble(ctx, audio.Programme{
		ThemePath:  run.layout.Theme(),
		SpeechPath: run.speech,
		Offset:     run.show.ProgrammeStart(),
		Compress:   r.features.CompressDynamics,
		Dest:       partial,
	})
	if err != nil {
		run.janitor.Discard(partial)

		return err
	}

	commitErr := run.janitor.Commit(partial, run.layout.Combined())
	if commitErr != nil {
		return commitErr
	}

	run.result.Plan = &plan
	run.final = run.layout.Combined()

	return nil
}

// promote replaces any previous output with the final artifact: the combined
// programme, or the chosen speech when no theme is mixed in. The previous
// output is removed here, after assembly rather than before it, so a show
// that fails in an earlier stage leaves yesterday's programme in place.
func (r *Runner) promote(ctx context.Context, run *showRun) error {
	if run.final == "" {
		run.final = run.speech
	}

	clearErr := run.janitor.ClearOutput()
	if clearErr != nil {
		return clearErr
	}

	promoteErr := run.janitor.Promote(run.final, run.layout.Output(), r.features.RemoveTempFiles)
	if promoteErr != nil {
		return promoteErr
	}

	run.result.Output = run.layout.Output()

	if run.result.Plan != nil {
		run.result.Duration = run.result.Plan.Total

		return nil
	}

	duration, err := r.deps.Audio.Duration(ctx, run.result.Output)
	if err != nil {
		run.warn(r, "could not measure %s: %v", run.result.Output, err)

		return nil
	}

	run.result.Duration = duration

	return nil
}

// cleanup removes every intermediate artifact. Failures are warnings.
func (r *Runner) cleanup(_ context.Context, run *showRun) error {
	err := run.janitor.Sweep(
		run.layout.Source(),
		run.layout.Script(),
		run.layout.Speech(),
		run.layout.Pitch(),
		run.layout.Combined(),
	)
	if err != nil {
		run.warn(r, "cleanup: %v", err)
	}

	return nil
}

func (r *Runner) publish(ctx context.Context, run *showRun) error {
	data, err := os.ReadFile(run.result.Output)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", run.result.Output, err)
	}

	key, err := r.deps.Publisher.Publish(ctx, core.Announcement{
		RunID:    run.result.RunID,
		Show:     run.show.Name(),
		Path:     run.result.Output,
		Duration: run.result.Duration,
		Created:  time.Now().UTC(),
	}, data)
	if err != nil {
		return err
	}

	run.result.Key = key

	return nil
}
