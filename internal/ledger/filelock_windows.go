//go:build windows

package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileLock guards the ledger against two concurrent transfer runs
// (Windows stub: best-effort exclusive-create lock).
type FileLock struct {
	lockFile *os.File
	path     string
}

// AcquireLock acquires an exclusive lock on a lock file.
// Retries for up to maxRetries times with 100ms delay between attempts.
func AcquireLock(lockPath string, maxRetries int) (*FileLock, error) {
	lockDir := filepath.Dir(lockPath)
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
		if err == nil {
			return &FileLock{lockFile: f, path: lockPath}, nil
		}
		lastErr = err
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
	fl.lockFile.Close()
	fl.lockFile = nil
	_ = os.Remove(fl.path)
	return nil
}
