//go:build !windows

package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// FileLock guards the ledger against two concurrent transfer runs.
type FileLock struct {
	lockFile *os.File
	path     string
}

// AcquireLock acquires an exclusive lock on a lock file.
// Returns a FileLock that must be released with Release().
// Retries for up to maxRetries times with 100ms delay between attempts.
func AcquireLock(lockPath string, maxRetries int) (*FileLock, error) {
	lockDir := filepath.Dir(lockPath)
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open lock file: %w", err)
		}

		if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err == nil {
			return &FileLock{lockFile: lockFile, path: lockPath}, nil
		} else {
			lastErr = err
		}
		lockFile.Close()

		if i < maxRetries {
			time.Sleep(100 * time.Millisecond)
		}
	}

	return nil, fmt.Errorf("another transfer run appears to be active (lock held after %d retries): %w", maxRetries, lastErr)
}

// Release releases the file lock.
func (fl *FileLock) Release() error {
	if fl.lockFile == nil {
		return nil
	}

	if err := syscall.Flock(int(fl.lockFile.Fd()), syscall.LOCK_UN); err != nil {
		fl.lockFile.Close()
		return fmt.Errorf("failed to release lock: %w", err)
	}

	if err := fl.lockFile.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}

	fl.lockFile = nil
	return nil
}
