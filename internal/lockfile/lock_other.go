//go:build !unix

package lockfile

import (
	"errors"
	"os"
)

var errProcessLocked = errors.New("lock held")

// flockExclusive is a no-op on platforms without flock. The PID check in
// Acquire still catches the common double-start case.
func flockExclusive(f *os.File) error {
	if pid, ok := readPID(f); ok && isProcessRunning(pid) {
		return errProcessLocked
	}
	return nil
}
