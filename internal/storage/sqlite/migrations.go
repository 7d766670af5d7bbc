package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates missing tables, then applies additive migrations for
// databases created by older releases. Every step checks existence
// immediately before changing anything, so it is safe to call repeatedly and
// from multiple callers. Migrations never drop or rename columns.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.write.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := migrateEncodingColumn(ctx, s.write); err != nil {
		return fmt.Errorf("failed to migrate encoding column: %w", err)
	}
	if err := migrateBuildingTimezoneColumn(ctx, s.write); err != nil {
		return fmt.Errorf("failed to migrate building timezone column: %w", err)
	}
	if err := migrateRetryIndex(ctx, s.write); err != nil {
		return fmt.Errorf("failed to migrate retry index: %w", err)
	}
	if err := migrateWorkOrderUpdatedAtColumn(ctx, s.write); err != nil {
		return fmt.Errorf("failed to migrate work order updated_at column: %w", err)
	}

	return nil
}

// columnExists reports whether a column exists on a table.
func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) > 0
		FROM pragma_table_info(?)
		WHERE name = ?
	`, table, column).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check column %s.%s: %w", table, column, err)
	}
	return exists, nil
}

// indexExists reports whether an index exists.
func indexExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type = 'index' AND name = ?
	`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check index %s: %w", name, err)
	}
	return exists, nil
}

// migrateEncodingColumn adds the payload encoding column to sync_queue for
// databases created before payload compression. This migration is idempotent
// and safe to run multiple times.
func migrateEncodingColumn(ctx context.Context, db *sql.DB) error {
	exists, err := columnExists(ctx, db, "sync_queue", "encoding")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = db.ExecContext(ctx, `ALTER TABLE sync_queue ADD COLUMN encoding TEXT NOT NULL DEFAULT 'identity'`)
	if err != nil {
		return fmt.Errorf("failed to add encoding column: %w", err)
	}
	return nil
}

// migrateBuildingTimezoneColumn adds the timezone column to buildings.
// This migration is idempotent and safe to run multiple times.
func migrateBuildingTimezoneColumn(ctx context.Context, db *sql.DB) error {
	exists, err := columnExists(ctx, db, "buildings", "timezone")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = db.ExecContext(ctx, `ALTER TABLE buildings ADD COLUMN timezone TEXT NOT NULL DEFAULT ''`)
	if err != nil {
		return fmt.Errorf("failed to add timezone column: %w", err)
	}
	return nil
}

// migrateRetryIndex creates the next_retry_at index used by dequeue.
// Databases created before retry scheduling moved into indexed queries get it
// added here.
func migrateRetryIndex(ctx context.Context, db *sql.DB) error {
	exists, err := indexExists(ctx, db, "idx_sync_queue_retry")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_sync_queue_retry ON sync_queue(next_retry_at)`)
	if err != nil {
		return fmt.Errorf("failed to create retry index: %w", err)
	}
	return nil
}

// migrateWorkOrderUpdatedAtColumn adds updated_at to work_orders so local
// edits carry a modification timestamp. This migration is idempotent and safe
// to run multiple times.
func migrateWorkOrderUpdatedAtColumn(ctx context.Context, db *sql.DB) error {
	exists, err := columnExists(ctx, db, "work_orders", "updated_at")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = db.ExecContext(ctx, `ALTER TABLE work_orders ADD COLUMN updated_at DATETIME`)
	if err != nil {
		return fmt.Errorf("failed to add updated_at column: %w", err)
	}
	return nil
}
