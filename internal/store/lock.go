package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// WithInvocationLock runs fn while holding an exclusive lock on the data
// root. An overly eager external trigger can start a second invocation before
// the first finishes; the lock serializes them so no two passes touch the
// same handle concurrently.
func WithInvocationLock(paths Paths, fn func() error) error {
	if fn == nil {
		return fmt.Errorf("store: lock fn is nil")
	}
	lockPath := paths.LockFile()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("store: create lock dir: %w", err)
	}

	lock := flock.New(lockPath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("store: lock %s: %w", lockPath, err)
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}
