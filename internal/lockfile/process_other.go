//go:build !unix

package lockfile

import (
	"os"
)

// isProcessRunning checks if a process with the given PID is running
func isProcessRunning(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On non-unix platforms FindProcess errors for dead PIDs.
	return p != nil
}
