package pipeline

import (
	"errors"
	"fmt"

	"github.com/book-expert/bulletin-reader/internal/audio"
	"github.com/book-expert/bulletin-reader/internal/script"
	"github.com/book-expert/bulletin-reader/internal/workspace"
)

// Failure kinds. Every StageError matches exactly one of them with errors.Is.
var (
	ErrFetch           = errors.New("fetch error")
	ErrTransform       = errors.New("transform error")
	ErrSynthesis       = errors.New("synthesis error")
	ErrAudioProcessing = errors.New("audio processing error")
	ErrConfiguration   = errors.New("configuration error")
	ErrPublish         = errors.New("publish error")
)

// Stage names a step of a show run.
type Stage string

// Stages in execution order.
const (
	StageLock       Stage = "lock"
	StageFetch      Stage = "fetch"
	StageExtract    Stage = "extract"
	StageSynthesize Stage = "synthesize"
	StageShape      Stage = "shape"
	StageAssemble   Stage = "assemble"
	StagePromote    Stage = "promote"
	StageCleanup    Stage = "cleanup"
	StagePublish    Stage = "publish"
)

// configurationErrors are lower-level failures caused by the show setup
// rather than by the stage itself.
var configurationErrors = []error{
	workspace.ErrLocked,
	workspace.ErrNotDirectory,
	script.ErrMissingStylesheet,
	audio.ErrMissingAsset,
	audio.ErrNegativeStart,
	audio.ErrEmptyProgramme,
}

// StageError reports the show and stage a failure happened in.
type StageError struct {
	Show  string
	Stage Stage
	Kind  error
	Err   error
}

// Error implements error.
func (e *StageError) Error() string {
	return fmt.Sprintf("show %q: %s stage: %v: %v", e.Show, e.Stage, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func newStageError(show string, stage Stage, err error) *StageError {
	return &StageError{Show: show, Stage: stage, Kind: classify(stage, err), Err: err}
}

// classify maps a stage failure to its kind.
func classify(stage Stage, err error) error {
	for _, target := range configurationErrors {
		if errors.Is(err, target) {
			return ErrConfiguration
		}
	}

	switch stage {
	case StageLock:
		return ErrConfiguration
	case StageFetch:
		return ErrFetch
	case StageExtract:
		return ErrTransform
	case StageSynthesize:
		return ErrSynthesis
	case StagePublish:
		return ErrPublish
	case StageShape, StageAssemble, StagePromote, StageCleanup:
		return ErrAudioProcessing
	default:
		return ErrAudioProcessing
	}
}
