package store

import (
	"fmt"
	"math/rand"
	"os"
	"syscall"
	"time"
)

// StaleLockThreshold is the age at which an unreleased lock file is
// considered abandoned and eligible for reclamation by the orphan cleaner
// (spec §5).
const StaleLockThreshold = 2 * time.Minute

// FileLock is a cross-process advisory write lock backed by flock(2) on a
// dedicated file under the hive directory. Readers never take it; every
// write path acquires it for the shortest span possible (spec §5's
// acquire -> read -> release -> I/O -> reacquire -> write discipline).
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock returns a lock bound to path. The file is created if absent.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock blocks (with jittered retry) until the advisory lock is acquired or
// maxWait elapses.
func (l *FileLock) Lock(maxWait time.Duration) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	deadline := time.Now().Add(maxWait)
	backoff := 10 * time.Millisecond
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			l.file = f
			return nil
		}
		if time.Now().After(deadline) {
			f.Close()
			return newErr(KindTimeout, "FileLock.Lock", fmt.Errorf("timed out waiting for lock %s", l.path))
		}
		jitter := time.Duration(rand.Int63n(int64(backoff)))
		time.Sleep(backoff + jitter)
		if backoff < 500*time.Millisecond {
			backoff *= 2
		}
	}
}

// Unlock releases the advisory lock.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	cerr := l.file.Close()
	l.file = nil
	if err != nil {
		return err
	}
	return cerr
}

// IsStale reports whether the lock file's modification time is older than
// StaleLockThreshold, meaning it was likely left behind by a killed process
// (spec §5: "a hard kill at worst leaves an orphan lock file").
func (l *FileLock) IsStale() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > StaleLockThreshold
}

// Reclaim removes a stale lock file outright. Callers must have already
// confirmed IsStale(); this does not itself re-check staleness to avoid a
// second stat-vs-remove race window.
func (l *FileLock) Reclaim() error {
	return os.Remove(l.path)
}

// WithLock runs fn while holding the exclusive lock, always releasing it
// afterward regardless of fn's outcome. This is the short critical-section
// wrapper every write path should use.
func WithLock(l *FileLock, maxWait time.Duration, fn func() error) error {
	if err := l.Lock(maxWait); err != nil {
		return err
	}
	defer l.Unlock()
	return fn()
}
