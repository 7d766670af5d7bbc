package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/haulhq/depot/internal/storage"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(dbPath, storage.Options{})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	return store
}

func TestOpenPrimaryTier(t *testing.T) {
	store := setupTestStore(t)

	if store.Tier() != storage.TierPrimary {
		t.Errorf("Tier() = %v, want primary", store.Tier())
	}
	if store.Path() == "" {
		t.Error("Path() should be set for a disk-backed store")
	}
}

func TestExecuteAndQuery(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.Execute(ctx, `INSERT INTO buildings (id, name, address) VALUES (?, ?, ?)`,
		"bld-1", "North Depot", "1 Yard Road")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	var name string
	err = store.QueryRow(ctx, `SELECT name FROM buildings WHERE id = ?`, "bld-1").Scan(&name)
	if err != nil {
		t.Fatalf("QueryRow failed: %v", err)
	}
	if name != "North Depot" {
		t.Errorf("name = %q, want %q", name, "North Depot")
	}
}

func TestExecuteStatementErrorPropagates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.Execute(ctx, `INSERT INTO no_such_table (id) VALUES (1)`)
	if err == nil {
		t.Fatal("expected error for missing table")
	}
}

func TestInsertReturningID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id, err := store.InsertReturningID(ctx, `INSERT INTO task_categories (name) VALUES (?)`, "inspection")
	if err != nil {
		t.Fatalf("InsertReturningID failed: %v", err)
	}
	if id <= 0 {
		t.Errorf("id = %d, want > 0", id)
	}

	id2, err := store.InsertReturningID(ctx, `INSERT INTO task_categories (name) VALUES (?)`, "repair")
	if err != nil {
		t.Fatalf("InsertReturningID failed: %v", err)
	}
	if id2 <= id {
		t.Errorf("second id = %d, want > %d", id2, id)
	}
}

func TestTransactionAtomicity(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// A failing transaction leaves no partial state behind.
	err := store.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO buildings (id, name) VALUES ('bld-2', 'South Depot')`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO no_such_table (id) VALUES (1)`)
		return err
	}, "buildings")
	if err == nil {
		t.Fatal("expected transaction to fail")
	}

	var count int
	if err := store.QueryRow(ctx, `SELECT COUNT(*) FROM buildings`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("buildings count after rollback = %d, want 0", count)
	}
}

func TestTransactionNotifiesObservers(t *testing.T) {
	store := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := store.Registry().Watch(ctx, "buildings")
	<-ticks // initial tick

	err := store.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO buildings (id, name) VALUES ('bld-3', 'East Depot')`)
		return err
	}, "buildings")
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	select {
	case <-ticks:
	default:
		t.Error("expected commit notification for buildings")
	}
}

func TestExecuteNotifiesWriteTarget(t *testing.T) {
	store := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := store.Registry().Watch(ctx, "task_categories")
	<-ticks // initial tick

	if err := store.Execute(ctx, `INSERT INTO task_categories (name) VALUES ('safety')`); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	select {
	case <-ticks:
	default:
		t.Error("expected commit notification for task_categories")
	}
}

func TestConcurrentReadsDuringWrite(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if err := store.Execute(ctx, `INSERT INTO task_categories (name) VALUES (?)`,
			"cat-"+string(rune('a'+i))); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
	}

	done := make(chan error, 2)
	go func() {
		for i := 0; i < 50; i++ {
			var count int
			if err := store.QueryRow(ctx, `SELECT COUNT(*) FROM task_categories`).Scan(&count); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	go func() {
		for i := 0; i < 50; i++ {
			if err := store.Execute(ctx, `UPDATE task_categories SET name = name WHERE id = 1`); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent access failed: %v", err)
		}
	}
}

func TestCloseIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(dbPath, storage.Options{})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestWriteTarget(t *testing.T) {
	tests := []struct {
		stmt string
		want string
	}{
		{`INSERT INTO buildings (id) VALUES (?)`, "buildings"},
		{`insert into sync_queue(id) values(?)`, "sync_queue"},
		{`INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)`, "metadata"},
		{`UPDATE work_orders SET status = ? WHERE id = ?`, "work_orders"},
		{`DELETE FROM sync_queue WHERE id = ?`, "sync_queue"},
		{`REPLACE INTO metadata (key, value) VALUES (?, ?)`, "metadata"},
		{`SELECT * FROM buildings`, ""},
		{`PRAGMA foreign_key_check`, ""},
	}

	for _, tt := range tests {
		if got := writeTarget(tt.stmt); got != tt.want {
			t.Errorf("writeTarget(%q) = %q, want %q", tt.stmt, got, tt.want)
		}
	}
}
