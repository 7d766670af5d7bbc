// Package syncqueue implements the durable outbound sync queue: a
// priority-ordered outbox with exponential retry backoff and append-only
// archival, built on the storage engine so it survives process restarts.
package syncqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haulhq/depot/internal/storage"
	"github.com/haulhq/depot/internal/types"
)

const (
	// DefaultInitialDelay is the retry delay assigned at enqueue time.
	DefaultInitialDelay = 5 * time.Second
	// DefaultMaxDelay is the backoff ceiling; doubling stops here.
	DefaultMaxDelay = 10 * time.Minute
)

// ErrEntryNotFound is returned when an outcome is reported for an entry that
// is no longer active (already archived or replaced).
var ErrEntryNotFound = errors.New("sync queue entry not found")

// Config tunes a Queue. Zero values fall back to defaults.
type Config struct {
	Clock        Clock
	Codec        Codec
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Queue is the durable outbox. All methods are safe for concurrent use; each
// terminal transition (archive or retry bump) is one atomic transaction, so a
// dispatcher interrupted mid-batch leaves no half-moved entries.
type Queue struct {
	store        storage.Store
	clock        Clock
	codec        Codec
	initialDelay time.Duration
	maxDelay     time.Duration
}

// New creates a queue over the given store.
func New(store storage.Store, cfg Config) *Queue {
	q := &Queue{
		store:        store,
		clock:        cfg.Clock,
		codec:        cfg.Codec,
		initialDelay: cfg.InitialDelay,
		maxDelay:     cfg.MaxDelay,
	}
	if q.clock == nil {
		q.clock = SystemClock()
	}
	if q.codec == nil {
		q.codec = Identity()
	}
	if q.initialDelay <= 0 {
		q.initialDelay = DefaultInitialDelay
	}
	if q.maxDelay <= 0 {
		q.maxDelay = DefaultMaxDelay
	}
	return q
}

// Enqueue buffers an outbound change. At most one active entry exists per
// (entityType, entityID, action): a later call for the same key replaces the
// pending payload, priority and expiry and clears retry state, keeping the
// original created_at so the entry does not lose its FIFO position. ttl of
// zero means the entry never expires. Returns the ID of the active entry.
func (q *Queue) Enqueue(ctx context.Context, entityType, entityID, action string, payload []byte, priority int, ttl time.Duration) (string, error) {
	if entityType == "" || entityID == "" || action == "" {
		return "", fmt.Errorf("entity type, entity id and action are required")
	}

	encoded, err := q.codec.Encode(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	if encoded == nil {
		// A nil slice binds as SQL NULL and payload is NOT NULL; payload-less
		// actions like deletes store an empty blob instead.
		encoded = []byte{}
	}

	now := q.clock.Now().UTC()
	var expiresAt interface{}
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	id := uuid.NewString()
	err = q.store.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sync_queue (id, entity_type, entity_id, action, payload, encoding, priority, retry_count, retry_delay_ms, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
			ON CONFLICT (entity_type, entity_id, action) DO UPDATE SET
				payload = excluded.payload,
				encoding = excluded.encoding,
				priority = excluded.priority,
				retry_count = 0,
				retry_delay_ms = excluded.retry_delay_ms,
				last_retry_at = NULL,
				next_retry_at = NULL,
				expires_at = excluded.expires_at
		`, id, entityType, entityID, action, encoded, q.codec.Name(), priority, q.initialDelay.Milliseconds(), now, expiresAt)
		if err != nil {
			return fmt.Errorf("failed to enqueue: %w", err)
		}

		// On conflict the existing row keeps its ID; report the one that won.
		return tx.QueryRowContext(ctx, `
			SELECT id FROM sync_queue WHERE entity_type = ? AND entity_id = ? AND action = ?
		`, entityType, entityID, action).Scan(&id)
	}, "sync_queue")
	if err != nil {
		return "", err
	}
	return id, nil
}

// DequeueBatch returns up to limit deliverable entries: active, due (no
// next_retry_at or one in the past) and not expired. Order is priority
// descending then created_at ascending, so FIFO within a priority tier keeps
// low-priority entries starvation-free as higher tiers drain. Payloads are
// decoded before return.
func (q *Queue) DequeueBatch(ctx context.Context, limit int) ([]*types.SyncEntry, error) {
	now := q.clock.Now().UTC()
	rows, err := q.store.Query(ctx, `
		SELECT id, entity_type, entity_id, action, payload, encoding, priority, retry_count, retry_delay_ms, created_at, last_retry_at, next_retry_at, expires_at
		FROM sync_queue
		WHERE (next_retry_at IS NULL OR next_retry_at <= ?)
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT ?
	`, now, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue batch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.SyncEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		codec, err := codecFor(entry.Encoding)
		if err != nil {
			return nil, err
		}
		if entry.Payload, err = codec.Decode(entry.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload for %s: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ReportOutcome records a delivery attempt. Success atomically archives the
// entry with reason "success" and removes it from the active set. Failure
// bumps the retry state: retry_count increments, retry_delay doubles up to
// the ceiling, and next_retry_at moves to now plus the new delay.
func (q *Queue) ReportOutcome(ctx context.Context, id string, success bool) error {
	now := q.clock.Now().UTC()
	return q.store.Transaction(ctx, func(tx *sql.Tx) error {
		var retryCount int
		var retryDelayMs int64
		err := tx.QueryRowContext(ctx, `
			SELECT retry_count, retry_delay_ms FROM sync_queue WHERE id = ?
		`, id).Scan(&retryCount, &retryDelayMs)
		if err == sql.ErrNoRows {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load entry %s: %w", id, err)
		}

		if success {
			return archiveTx(ctx, tx, id, now, types.ArchiveReasonSuccess, true)
		}

		delay := time.Duration(retryDelayMs) * time.Millisecond * 2
		if delay > q.maxDelay {
			delay = q.maxDelay
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sync_queue
			SET retry_count = ?, retry_delay_ms = ?, last_retry_at = ?, next_retry_at = ?
			WHERE id = ?
		`, retryCount+1, delay.Milliseconds(), now, now.Add(delay), id)
		if err != nil {
			return fmt.Errorf("failed to bump retry state for %s: %w", id, err)
		}
		return nil
	}, "sync_queue", "sync_archive")
}

// SweepExpired archives (reason "expired", success false) and removes every
// entry whose expires_at has passed, whether or not it was ever attempted.
// Returns the number of entries swept.
func (q *Queue) SweepExpired(ctx context.Context) (int, error) {
	now := q.clock.Now().UTC()
	var swept int64
	err := q.store.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sync_archive (entry_id, entity_type, entity_id, action, payload, priority, retry_count, created_at, archived_at, reason, success)
			SELECT id, entity_type, entity_id, action, payload, priority, retry_count, created_at, ?, ?, 0
			FROM sync_queue
			WHERE expires_at IS NOT NULL AND expires_at <= ?
		`, now, types.ArchiveReasonExpired, now)
		if err != nil {
			return fmt.Errorf("failed to archive expired entries: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			DELETE FROM sync_queue WHERE expires_at IS NOT NULL AND expires_at <= ?
		`, now)
		if err != nil {
			return fmt.Errorf("failed to remove expired entries: %w", err)
		}
		swept, err = res.RowsAffected()
		return err
	}, "sync_queue", "sync_archive")
	if err != nil {
		return 0, err
	}
	return int(swept), nil
}

// archiveTx moves one active entry to the archive inside an open transaction.
// The archive insert and the queue delete commit together or not at all.
func archiveTx(ctx context.Context, tx *sql.Tx, id string, now time.Time, reason string, success bool) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO sync_archive (entry_id, entity_type, entity_id, action, payload, priority, retry_count, created_at, archived_at, reason, success)
		SELECT id, entity_type, entity_id, action, payload, priority, retry_count, created_at, ?, ?, ?
		FROM sync_queue
		WHERE id = ?
	`, now, reason, success, id)
	if err != nil {
		return fmt.Errorf("failed to archive entry %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrEntryNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove archived entry %s: %w", id, err)
	}
	return nil
}

// Stats summarizes active and archived entries for status reporting.
func (q *Queue) Stats(ctx context.Context) (*types.QueueStats, error) {
	now := q.clock.Now().UTC()
	stats := &types.QueueStats{}

	err := q.store.QueryRow(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&stats.Active)
	if err != nil {
		return nil, fmt.Errorf("failed to count active entries: %w", err)
	}

	err = q.store.QueryRow(ctx, `
		SELECT COUNT(*) FROM sync_queue
		WHERE (next_retry_at IS NULL OR next_retry_at <= ?)
		  AND (expires_at IS NULL OR expires_at > ?)
	`, now, now).Scan(&stats.Due)
	if err != nil {
		return nil, fmt.Errorf("failed to count due entries: %w", err)
	}

	err = q.store.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN reason = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN reason = 'expired' THEN 1 ELSE 0 END), 0)
		FROM sync_archive
	`).Scan(&stats.ArchivedSuccess, &stats.ArchivedExpired)
	if err != nil {
		return nil, fmt.Errorf("failed to count archived entries: %w", err)
	}

	return stats, nil
}

// List returns active entries in dispatch order without decoding payloads,
// for inspection.
func (q *Queue) List(ctx context.Context, limit int) ([]*types.SyncEntry, error) {
	rows, err := q.store.Query(ctx, `
		SELECT id, entity_type, entity_id, action, payload, encoding, priority, retry_count, retry_delay_ms, created_at, last_retry_at, next_retry_at, expires_at
		FROM sync_queue
		ORDER BY priority DESC, created_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.SyncEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Archived returns archive rows, most recent first, for inspection.
func (q *Queue) Archived(ctx context.Context, limit int) ([]*types.ArchiveEntry, error) {
	rows, err := q.store.Query(ctx, `
		SELECT id, entry_id, entity_type, entity_id, action, payload, priority, retry_count, created_at, archived_at, reason, success
		FROM sync_archive
		ORDER BY archived_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.ArchiveEntry
	for rows.Next() {
		a := &types.ArchiveEntry{}
		err := rows.Scan(&a.ID, &a.EntryID, &a.EntityType, &a.EntityID, &a.Action, &a.Payload,
			&a.Priority, &a.RetryCount, &a.CreatedAt, &a.ArchivedAt, &a.Reason, &a.Success)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archive entry: %w", err)
		}
		entries = append(entries, a)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (*types.SyncEntry, error) {
	e := &types.SyncEntry{}
	var retryDelayMs int64
	var lastRetry, nextRetry, expires sql.NullTime
	err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.Payload, &e.Encoding,
		&e.Priority, &e.RetryCount, &retryDelayMs, &e.CreatedAt, &lastRetry, &nextRetry, &expires)
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue entry: %w", err)
	}
	e.RetryDelay = time.Duration(retryDelayMs) * time.Millisecond
	if lastRetry.Valid {
		t := lastRetry.Time
		e.LastRetryAt = &t
	}
	if nextRetry.Valid {
		t := nextRetry.Time
		e.NextRetryAt = &t
	}
	if expires.Valid {
		t := expires.Time
		e.ExpiresAt = &t
	}
	return e, nil
}
