// Package lease implements the write-lease that guards a partition's
// staging directory against concurrent writers (§4.5): a lease is
// acquired by creating the directory if absent and taking an advisory
// flock on a lock file inside it; the owning run_id is kept in memory
// only. A lease on a directory older than staleAfter may be taken over
// by a later run.
package lease

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrHeld is returned when the staging directory is already locked by
// a live holder.
type ErrHeld struct {
	Path    string
	RunID   string
}

func (e *ErrHeld) Error() string {
	return fmt.Sprintf("lease: %s is held by another run (requested by run %s)", e.Path, e.RunID)
}

// Lease represents ownership of one staging directory's write lock,
// backed by an advisory gofrs/flock file so same-host concurrent
// processes (not just goroutines) are excluded.
type Lease struct {
	path    string
	runID   string
	flock   *flock.Flock
	acquired time.Time
}

// lockFileName is the advisory lock file inside the staging directory.
const lockFileName = ".lease.lock"

// Acquire creates stagingDir (if absent) and takes the advisory lock
// inside it for runID. A free lock is taken whatever the directory's
// age. If the lock is held and the directory is new or younger than
// staleAfter, Acquire returns *ErrHeld. If the lock is held and the
// directory is older than staleAfter, Acquire removes the lock file and
// tries once more, returning *ErrHeld if that attempt also fails.
func Acquire(ctx context.Context, stagingDir, runID string, staleAfter time.Duration) (*Lease, error) {
	info, statErr := os.Stat(stagingDir)
	existed := statErr == nil

	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("lease: create staging dir: %w", err)
	}

	lockPath := filepath.Join(stagingDir, lockFileName)
	fl := flock.New(lockPath)

	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lease: lock attempt: %w", err)
	}
	if !locked {
		if !existed || time.Since(info.ModTime()) < staleAfter {
			return nil, &ErrHeld{Path: stagingDir, RunID: runID}
		}
		// The lock is held but the directory predates staleAfter: treat
		// the lease as abandoned, remove the lock file and retry once.
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("lease: reclaim stale lock: %w", err)
		}
		locked, err = fl.TryLockContext(ctx, 50*time.Millisecond)
		if err != nil {
			return nil, fmt.Errorf("lease: lock attempt after reclaim: %w", err)
		}
		if !locked {
			return nil, &ErrHeld{Path: stagingDir, RunID: runID}
		}
	}

	return &Lease{path: stagingDir, runID: runID, flock: fl, acquired: time.Now().UTC()}, nil
}

// Release unlocks and removes the lease's lock file, leaving the
// staging directory itself (and any chunks written into it) intact for
// the caller's commit step to consume.
func (l *Lease) Release() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("lease: unlock: %w", err)
	}
	return os.Remove(filepath.Join(l.path, lockFileName))
}

// Path returns the staging directory this lease guards.
func (l *Lease) Path() string { return l.path }

// RunID returns the owning run's identifier.
func (l *Lease) RunID() string { return l.runID }
