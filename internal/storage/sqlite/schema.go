package sqlite

const schema = `
-- Task categories (baseline reference data)
CREATE TABLE IF NOT EXISTS task_categories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE CHECK(length(name) <= 100),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Buildings (baseline reference data)
CREATE TABLE IF NOT EXISTS buildings (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    address TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Work orders (operational records, imported or created locally)
CREATE TABLE IF NOT EXISTS work_orders (
    id TEXT PRIMARY KEY,
    building_id TEXT NOT NULL,
    category TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'open',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_work_orders_building ON work_orders(building_id);
CREATE INDEX IF NOT EXISTS idx_work_orders_status ON work_orders(status);

-- Sync queue (durable outbox)
-- At most one active entry per (entity_type, entity_id, action); enqueue
-- upserts against the UNIQUE constraint.
CREATE TABLE IF NOT EXISTS sync_queue (
    id TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    action TEXT NOT NULL,
    payload BLOB NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    retry_count INTEGER NOT NULL DEFAULT 0,
    retry_delay_ms INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_retry_at DATETIME,
    next_retry_at DATETIME,
    expires_at DATETIME,
    UNIQUE (entity_type, entity_id, action)
);

CREATE INDEX IF NOT EXISTS idx_sync_queue_dispatch ON sync_queue(priority, created_at);

-- Sync archive (append-only record of terminal outcomes)
CREATE TABLE IF NOT EXISTS sync_archive (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entry_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    action TEXT NOT NULL,
    payload BLOB NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    retry_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    archived_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    reason TEXT NOT NULL CHECK(reason IN ('success', 'expired')),
    success INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sync_archive_entry ON sync_archive(entry_id);
CREATE INDEX IF NOT EXISTS idx_sync_archive_archived_at ON sync_archive(archived_at);

-- Metadata (internal bookkeeping like import fingerprints)
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
