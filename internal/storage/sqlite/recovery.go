package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haulhq/depot/internal/debug"
	"github.com/haulhq/depot/internal/observe"
	"github.com/haulhq/depot/internal/storage"
)

// Open opens the store at path, falling through the corruption-recovery
// ladder on failure:
//
//  1. primary open with durability pragmas
//  2. quarantine a corrupt file (plus -wal/-shm sidecars) and retry
//  3. simplified open without pragmas
//  4. transient in-memory store
//
// The ladder is one-way: once a tier is reached the store stays there for the
// process lifetime. The reached tier is recorded on the store so callers can
// surface it. Corruption never blocks usability; only an unopenable in-memory
// database returns an error.
func Open(path string, opts storage.Options) (*SQLiteStore, error) {
	busy := opts.BusyTimeout
	if busy == 0 {
		busy = defaultBusyTimeout
	}

	if path == ":memory:" {
		return openMemory(busy)
	}

	// Ensure the parent directory exists before the first attempt.
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Tier 1: primary open.
	write, read, err := openPools(connString(path, true, busy))
	if err == nil {
		return newStore(write, read, path, storage.TierPrimary), nil
	}
	if opts.DisableRecovery {
		return nil, err
	}
	debug.Logf("sqlite: primary open of %s failed: %v\n", path, err)

	// Tier 2: quarantine and retry against a fresh file. Only taken when the
	// failure looks like corruption and there is a file to move aside.
	if looksCorrupt(path, err) && fileExists(path) {
		if qerr := quarantine(path); qerr != nil {
			debug.Logf("sqlite: quarantine of %s failed: %v\n", path, qerr)
		} else {
			write, read, err = openPools(connString(path, true, busy))
			if err == nil {
				return newStore(write, read, path, storage.TierRecovered), nil
			}
			debug.Logf("sqlite: open after quarantine failed: %v\n", err)
		}
	}

	// Tier 3: simplified open, no pragmas.
	write, read, err = openPools(connString(path, false, busy))
	if err == nil {
		return newStore(write, read, path, storage.TierSimplified), nil
	}
	debug.Logf("sqlite: simplified open of %s failed: %v\n", path, err)

	// Tier 4: transient in-memory store so the application stays responsive.
	// Data written here is lost on restart.
	return openMemory(busy)
}

func openMemory(busy time.Duration) (*SQLiteStore, error) {
	write, read, err := openPools(connString(":memory:", true, busy))
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory store: %w", err)
	}
	return newStore(write, read, "", storage.TierMemory), nil
}

func newStore(write, read *sql.DB, path string, tier storage.Tier) *SQLiteStore {
	return &SQLiteStore{
		write: write,
		read:  read,
		path:  path,
		tier:  tier,
		reg:   observe.NewRegistry(),
	}
}

// corruptionSignatures are substrings of SQLite errors that indicate the file
// itself is damaged rather than the statement being wrong.
var corruptionSignatures = []string{
	"database disk image is malformed",
	"file is not a database",
	"not a database",
	"disk I/O error",
	"unable to open database file",
	"database or disk is full",
}

// looksCorrupt reports whether an open failure matches the corruption
// heuristic: a known error signature, or an existing zero-size file that
// still failed the open probe.
func looksCorrupt(path string, err error) bool {
	if err != nil {
		msg := err.Error()
		for _, sig := range corruptionSignatures {
			if strings.Contains(msg, sig) {
				return true
			}
		}
	}
	if info, serr := os.Stat(path); serr == nil && info.Size() == 0 {
		return true
	}
	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// quarantine renames the database file and its WAL/SHM sidecars with a
// timestamp suffix so a fresh file can take their place. The damaged files
// are kept for manual inspection, never deleted.
func quarantine(path string) error {
	suffix := ".corrupt-" + time.Now().Format("20060102T150405")

	if err := os.Rename(path, path+suffix); err != nil {
		return fmt.Errorf("failed to quarantine %s: %w", path, err)
	}
	for _, sidecar := range []string{path + "-wal", path + "-shm"} {
		if fileExists(sidecar) {
			if err := os.Rename(sidecar, sidecar+suffix); err != nil {
				return fmt.Errorf("failed to quarantine %s: %w", sidecar, err)
			}
		}
	}
	debug.Logf("sqlite: quarantined %s with suffix %s\n", path, suffix)
	return nil
}
