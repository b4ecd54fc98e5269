package audio

import (
	"errors"
	"fmt"
	"time"
)

// Planning errors. Both indicate a configuration problem rather than a
// decoding failure.
var (
	ErrNegativeStart  = errors.New("programme start is before the beginning of the theme")
	ErrEmptyProgramme = errors.New("programme has no duration")
)

// Plan is the timeline of a mixed programme.
type Plan struct {
	ThemeDuration  time.Duration
	SpeechDuration time.Duration
	Offset         time.Duration
	Start          time.Duration
	Total          time.Duration
}

// PlanProgramme computes where the speech begins and how long the programme
// runs. The offset is relative to the end of the theme, so a negative offset
// starts the speech while the theme is still playing.
func PlanProgramme(theme, offset, speech time.Duration) (Plan, error) {
	start := theme + offset
	if start < 0 {
		return Plan{}, fmt.Errorf("%w: theme %s with offset %s gives %s",
			ErrNegativeStart, theme, offset, start)
	}

	total := start + speech
	if total <= 0 {
		return Plan{}, fmt.Errorf("%w: start %s, speech %s", ErrEmptyProgramme, start, speech)
	}

	return Plan{
		ThemeDuration:  theme,
		SpeechDuration: speech,
		Offset:         offset,
		Start:          start,
		Total:          total,
	}, nil
}
