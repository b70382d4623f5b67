package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DocLock provides cross-process advisory locking for one document, using
// gofrs/flock. Concurrent syncs of different documents proceed freely;
// concurrent syncs of the same document serialize on its lock, because the
// previous-sequence read and new-sequence write must be consistent.
// Works on all platforms (Unix, Linux, macOS, Windows).
type DocLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDocLock creates a lock for the given document path. Lock files live
// under <dataDir>/locks, named by a hash of the document path.
func NewDocLock(dataDir, docPath string) *DocLock {
	sum := sha256.Sum256([]byte(docPath))
	lockPath := filepath.Join(dataDir, "locks", hex.EncodeToString(sum[:8])+".lock")
	return &DocLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Lock acquires an exclusive lock, blocking until it is available.
func (l *DocLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking. Returns true if
// acquired, false if another process holds it.
func (l *DocLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Safe to call multiple times.
func (l *DocLock) Unlock() error {
	if !l.locked {
		return nil
	}

	if err := l.flock.Unlock(); err != nil {
		l.locked = false
		return fmt.Errorf("failed to release lock: %w", err)
	}

	l.locked = false
	return nil
}

// Path returns the lock file path.
func (l *DocLock) Path() string {
	return l.path
}
