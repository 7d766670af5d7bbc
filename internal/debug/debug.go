// Package debug prints internal diagnostics when DEPOT_DEBUG is set. Output
// goes to stderr so it stays out of command output that callers pipe or parse.
package debug

import (
	"fmt"
	"os"
)

var enabled = os.Getenv("DEPOT_DEBUG") != ""

// Enabled reports whether diagnostic output is on for this process.
func Enabled() bool {
	return enabled
}

// Logf writes a diagnostic line to stderr when DEPOT_DEBUG is set.
func Logf(format string, args ...interface{}) {
	if enabled {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Printf writes to stdout when DEPOT_DEBUG is set. Prefer Logf; stdout is
// reserved for command output.
func Printf(format string, args ...interface{}) {
	if enabled {
		fmt.Printf(format, args...)
	}
}
