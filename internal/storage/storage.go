// Package storage defines the interface the rest of depot uses to reach the
// durable store. Domain services depend on this interface, never on the
// SQLite implementation directly.
package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/haulhq/depot/internal/observe"
)

// Tier identifies how far down the corruption-recovery ladder the open went.
type Tier int

const (
	// TierPrimary is a normal open with full durability pragmas.
	TierPrimary Tier = iota
	// TierRecovered means a corrupt file was quarantined and a fresh file opened.
	TierRecovered
	// TierSimplified is a disk open without durability pragmas.
	TierSimplified
	// TierMemory is the transient in-memory fallback; data is lost on restart.
	TierMemory
)

func (t Tier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierRecovered:
		return "recovered"
	case TierSimplified:
		return "simplified"
	case TierMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// Store is the single durable connection handle for the process. One writer
// path, many concurrent readers; mutations are write-ahead durable. Statement
// errors propagate to the caller untouched.
type Store interface {
	// Query runs a read against the last committed snapshot. It may run
	// concurrently with the in-flight writer. The caller owns the rows.
	Query(ctx context.Context, stmt string, args ...interface{}) (*sql.Rows, error)

	// QueryRow runs a single-row read against the last committed snapshot.
	QueryRow(ctx context.Context, stmt string, args ...interface{}) *sql.Row

	// Execute runs a durable mutation through the single write path.
	Execute(ctx context.Context, stmt string, args ...interface{}) error

	// InsertReturningID runs an insert and returns the generated rowid.
	InsertReturningID(ctx context.Context, stmt string, args ...interface{}) (int64, error)

	// Transaction runs work atomically through the single write path.
	// touched names the tables the work mutates; observers of those tables
	// are notified after commit.
	Transaction(ctx context.Context, work func(tx *sql.Tx) error, touched ...string) error

	// EnsureSchema creates missing tables and applies additive migrations.
	// Idempotent; safe to call repeatedly and from multiple callers.
	EnsureSchema(ctx context.Context) error

	// Registry exposes the commit-notification registry for live queries.
	Registry() *observe.Registry

	// Tier reports which recovery tier this store opened at.
	Tier() Tier

	// Path returns the backing file path ("" for the in-memory tier).
	Path() string

	// Close tears down both connection pools. The handle is not reusable.
	Close() error
}

// Options configures opening a store.
type Options struct {
	// BusyTimeout is how long a writer waits on a locked database before
	// failing. Zero means the default of 30s.
	BusyTimeout time.Duration

	// DisableRecovery turns the corruption-recovery ladder off so open
	// failures surface directly (used by doctor and tests).
	DisableRecovery bool
}
