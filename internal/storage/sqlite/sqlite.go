// Package sqlite implements the storage interface using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/haulhq/depot/internal/observe"
	"github.com/haulhq/depot/internal/storage"

	// Import SQLite driver
	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 30 * time.Second

// SQLiteStore implements the storage.Store interface using SQLite.
//
// Two pools share one database file: all mutations serialize through the
// write pool (capped at a single connection) while reads run concurrently on
// the read pool against the last committed snapshot (WAL).
type SQLiteStore struct {
	write  *sql.DB
	read   *sql.DB
	path   string
	tier   storage.Tier
	reg    *observe.Registry
	closed atomic.Bool
}

// connString builds a modernc.org/sqlite connection string.
// _pragma=journal_mode(WAL) enables write-ahead logging for durability and
// concurrent readers, _pragma=foreign_keys(ON) enforces referential integrity,
// _pragma=busy_timeout(...) makes writers wait on locks instead of failing,
// and _time_format=sqlite parses DATETIME columns to time.Time.
func connString(path string, durable bool, busy time.Duration) string {
	// SQLite creates a separate in-memory database per connection for
	// ":memory:", but a shared-cache URL gives both pools the same one.
	if path == ":memory:" {
		path = "file::memory:?cache=shared"
	}

	params := []string{"_time_format=sqlite"}
	if durable {
		params = append(params,
			"_pragma=journal_mode(WAL)",
			"_pragma=foreign_keys(ON)",
			fmt.Sprintf("_pragma=busy_timeout(%d)", busy.Milliseconds()),
		)
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

// openPools opens the write and read pools over one connection string and
// verifies the database answers a trivial query. The probe catches corrupt
// files that open lazily but fail on first use.
func openPools(connStr string) (write, read *sql.DB, err error) {
	write, err = sql.Open("sqlite", connStr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err = sql.Open("sqlite", connStr)
	if err != nil {
		_ = write.Close()
		return nil, nil, fmt.Errorf("failed to open read pool: %w", err)
	}

	if err := write.Ping(); err != nil {
		_ = write.Close()
		_ = read.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	var n int
	if err := write.QueryRow(`SELECT count(*) FROM sqlite_master`).Scan(&n); err != nil {
		_ = write.Close()
		_ = read.Close()
		return nil, nil, fmt.Errorf("failed to probe database: %w", err)
	}

	return write, read, nil
}

// Query runs a read on the read pool, concurrent with the in-flight writer.
func (s *SQLiteStore) Query(ctx context.Context, stmt string, args ...interface{}) (*sql.Rows, error) {
	return s.read.QueryContext(ctx, stmt, args...)
}

// QueryRow runs a single-row read on the read pool.
func (s *SQLiteStore) QueryRow(ctx context.Context, stmt string, args ...interface{}) *sql.Row {
	return s.read.QueryRowContext(ctx, stmt, args...)
}

// Execute runs a mutation through the single-connection write pool and
// notifies observers of the written table on success. Statement errors
// propagate untouched.
func (s *SQLiteStore) Execute(ctx context.Context, stmt string, args ...interface{}) error {
	if _, err := s.write.ExecContext(ctx, stmt, args...); err != nil {
		return err
	}
	if table := writeTarget(stmt); table != "" {
		s.reg.Notify(table)
	}
	return nil
}

// InsertReturningID runs an insert through the write pool and returns the
// generated rowid.
func (s *SQLiteStore) InsertReturningID(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	res, err := s.write.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get insert id: %w", err)
	}
	if table := writeTarget(stmt); table != "" {
		s.reg.Notify(table)
	}
	return id, nil
}

// Transaction runs work atomically through the write pool. touched names the
// tables the work mutates; their observers are notified after commit.
func (s *SQLiteStore) Transaction(ctx context.Context, work func(tx *sql.Tx) error, touched ...string) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := work(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if len(touched) > 0 {
		s.reg.Notify(touched...)
	}
	return nil
}

// Registry exposes the commit-notification registry for live queries.
func (s *SQLiteStore) Registry() *observe.Registry {
	return s.reg
}

// Tier reports which recovery tier this store opened at.
func (s *SQLiteStore) Tier() storage.Tier {
	return s.tier
}

// Path returns the backing file path ("" for the in-memory tier).
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close tears down both connection pools. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	rerr := s.read.Close()
	werr := s.write.Close()
	if werr != nil {
		return fmt.Errorf("failed to close write pool: %w", werr)
	}
	if rerr != nil {
		return fmt.Errorf("failed to close read pool: %w", rerr)
	}
	return nil
}

// writeTarget extracts the table a mutation statement writes to, for commit
// notification. Returns "" for statements it does not recognize.
func writeTarget(stmt string) string {
	fields := strings.Fields(stmt)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tokens = append(tokens, strings.ToLower(f))
	}

	next := func(i int) string {
		if i >= len(fields) {
			return ""
		}
		name := strings.TrimLeft(fields[i], "\"'`[")
		if cut := strings.IndexAny(name, "(;\"'`]"); cut >= 0 {
			name = name[:cut]
		}
		return name
	}

	for i, tok := range tokens {
		switch tok {
		case "insert", "replace":
			// INSERT [OR ...] INTO table
			for j := i + 1; j < len(tokens) && j < i+4; j++ {
				if tokens[j] == "into" {
					return next(j + 1)
				}
			}
		case "update":
			// UPDATE [OR ...] table
			j := i + 1
			if j+1 < len(tokens) && tokens[j] == "or" {
				j += 2
			}
			return next(j)
		case "delete":
			// DELETE FROM table
			if i+1 < len(tokens) && tokens[i+1] == "from" {
				return next(i + 2)
			}
		}
	}
	return ""
}
