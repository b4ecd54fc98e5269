package workspace

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another run holds the working directory.
var ErrLocked = errors.New("working directory is in use by another run")

// Lock is an advisory lock held on a working directory for one run.
type Lock struct {
	lock *flock.Flock
}

// Acquire takes the lock for layout without blocking.
func Acquire(layout Layout) (*Lock, error) {
	lock := flock.New(layout.Lock())

	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", layout.Dir(), err)
	}

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, layout.Dir())
	}

	return &Lock{lock: lock}, nil
}

// Release unlocks the working directory. The lock file stays on disk so every
// run contends on the same inode.
func (l *Lock) Release() error {
	err := l.lock.Unlock()
	if err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.lock.Path(), err)
	}

	return nil
}
