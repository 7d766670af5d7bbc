// Package lockfile provides an exclusive per-database lock so only one
// dispatcher runs against a given store at a time.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrLocked is returned when another process already holds the lock.
var ErrLocked = errors.New("dispatcher lock already held by another process")

// Lock is a held exclusive lock backed by a file.
type Lock struct {
	path string
	f    *os.File
}

// Acquire takes an exclusive non-blocking lock on path, writing the current
// PID into the file for diagnostics. Returns ErrLocked if another live
// process holds it.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := flockExclusive(f); err != nil {
		// Stale lock detection: if the recorded PID is gone the flock
		// should not have failed, so report whatever we know.
		if errors.Is(err, errProcessLocked) {
			if pid, ok := readPID(f); ok && !isProcessRunning(pid) {
				_ = f.Close()
				return nil, fmt.Errorf("%w (stale pid %d)", ErrLocked, pid)
			}
			_ = f.Close()
			return nil, ErrLocked
		}
		_ = f.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write pid: %w", err)
	}

	return &Lock{path: path, f: f}, nil
}

// Release drops the lock and removes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	if err := l.f.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	l.f = nil
	_ = os.Remove(l.path)
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

func readPID(f *os.File) (int, bool) {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0, false
	}
	return pid, true
}
