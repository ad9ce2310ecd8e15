// Package locker serializes mutating operations across processes with
// per-operation lock files. Read-only commands never take a lock.
package locker

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrBusy is returned when another process already holds the lock for the
// same operation.
type ErrBusy struct {
	Operation string
}

func (e *ErrBusy) Error() string {
	return fmt.Sprintf("operation %s is already running", e.Operation)
}

type Locker struct {
	dir string
}

func New(dir string) *Locker {
	return &Locker{dir: dir}
}

// Acquire takes the lock for the named operation without blocking. The
// caller must invoke the returned release function when done. A held lock
// yields ErrBusy, not a wait.
func (l *Locker) Acquire(operation string) (release func(), err error) {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	fl := flock.New(filepath.Join(l.dir, operation+".lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", operation, err)
	}
	if !locked {
		return nil, &ErrBusy{Operation: operation}
	}
	return func() { fl.Unlock() }, nil
}
