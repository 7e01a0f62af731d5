package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned by AcquireLock when another process holds
// the lock file.
var ErrAlreadyRunning = errors.New("another plevy instance is already running")

// InstanceLock is an exclusive advisory lock held for the lifetime of a
// server process.
type InstanceLock struct {
	fl *flock.Flock
}

// AcquireLock takes the lock file at path without blocking. The parent
// directory is created when missing.
func AcquireLock(path string) (*InstanceLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, path)
	}
	return &InstanceLock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *InstanceLock) Path() string {
	return l.fl.Path()
}

// Release drops the lock. The lock file is left in place.
func (l *InstanceLock) Release() error {
	return l.fl.Unlock()
}
