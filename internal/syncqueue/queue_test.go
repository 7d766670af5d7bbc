package syncqueue

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/haulhq/depot/internal/storage"
	"github.com/haulhq/depot/internal/storage/sqlite"
)

// fakeClock is a manually advanced clock for retry scheduling tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "queue.db")
	store, err := sqlite.Open(dbPath, storage.Options{})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	return New(store, cfg)
}

func TestEnqueueDedupByKey(t *testing.T) {
	clock := newFakeClock()
	q := setupTestQueue(t, Config{Clock: clock})
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, "work_order", "wo-1", "update", []byte("v1"), 1, 0)
	if err != nil {
		t.Fatalf("first Enqueue failed: %v", err)
	}

	clock.Advance(time.Minute)
	id2, err := q.Enqueue(ctx, "work_order", "wo-1", "update", []byte("v2"), 3, 0)
	if err != nil {
		t.Fatalf("second Enqueue failed: %v", err)
	}

	if id1 != id2 {
		t.Errorf("replacement got new id %s, want original %s", id2, id1)
	}

	entries, err := q.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("active entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if !bytes.Equal(e.Payload, []byte("v2")) {
		t.Errorf("payload = %q, want latest %q", e.Payload, "v2")
	}
	if e.Priority != 3 {
		t.Errorf("priority = %d, want replaced value 3", e.Priority)
	}
	// The replacement keeps the original FIFO position.
	if !e.CreatedAt.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("created_at = %v, want original enqueue time", e.CreatedAt)
	}
}

func TestEnqueueReplacementClearsRetryState(t *testing.T) {
	clock := newFakeClock()
	q := setupTestQueue(t, Config{Clock: clock})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "work_order", "wo-1", "update", []byte("v1"), 0, 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.ReportOutcome(ctx, id, false); err != nil {
		t.Fatalf("ReportOutcome failed: %v", err)
	}

	// Failed entry is backed off and not due.
	if batch, _ := q.DequeueBatch(ctx, 10); len(batch) != 0 {
		t.Fatalf("backed-off entry should not be due, got %d", len(batch))
	}

	// Re-enqueueing the key makes it immediately deliverable again.
	if _, err := q.Enqueue(ctx, "work_order", "wo-1", "update", []byte("v2"), 0, 0); err != nil {
		t.Fatalf("replacement Enqueue failed: %v", err)
	}
	batch, err := q.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("due entries after replacement = %d, want 1", len(batch))
	}
	if batch[0].RetryCount != 0 {
		t.Errorf("retry_count after replacement = %d, want 0", batch[0].RetryCount)
	}
}

func TestDequeueBatchOrdering(t *testing.T) {
	clock := newFakeClock()
	q := setupTestQueue(t, Config{Clock: clock})
	ctx := context.Background()

	// Priorities [1, 1, 5] at times t1 < t2 < t3.
	id1, err := q.Enqueue(ctx, "work_order", "wo-1", "update", []byte("a"), 1, 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	clock.Advance(time.Second)
	if _, err := q.Enqueue(ctx, "work_order", "wo-2", "update", []byte("b"), 1, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	clock.Advance(time.Second)
	id3, err := q.Enqueue(ctx, "work_order", "wo-3", "update", []byte("c"), 5, 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	batch, err := q.DequeueBatch(ctx, 2)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("batch size = %d, want 2", len(batch))
	}
	if batch[0].ID != id3 {
		t.Errorf("batch[0] = %s (priority %d), want the priority-5 entry", batch[0].ID, batch[0].Priority)
	}
	if batch[1].ID != id1 {
		t.Errorf("batch[1] = %s, want the earliest priority-1 entry", batch[1].ID)
	}
}

func TestDequeueBatchExcludesFutureRetry(t *testing.T) {
	clock := newFakeClock()
	q := setupTestQueue(t, Config{Clock: clock, InitialDelay: 10 * time.Second})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "work_order", "wo-1", "update", []byte("a"), 0, 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.ReportOutcome(ctx, id, false); err != nil {
		t.Fatalf("ReportOutcome failed: %v", err)
	}

	// next_retry_at = now + 20s (delay doubled from 10s); not due yet.
	if batch, _ := q.DequeueBatch(ctx, 10); len(batch) != 0 {
		t.Fatalf("entry with future next_retry_at should be excluded")
	}

	clock.Advance(21 * time.Second)
	batch, err := q.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("due entries after backoff elapsed = %d, want 1", len(batch))
	}
}

func TestDequeueBatchExcludesExpired(t *testing.T) {
	clock := newFakeClock()
	q := setupTestQueue(t, Config{Clock: clock})
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "work_order", "wo-1", "update", []byte("a"), 0, time.Minute); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	clock.Advance(2 * time.Minute)
	batch, err := q.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("expired entry should be excluded from dequeue, got %d", len(batch))
	}
}

func TestReportOutcomeBackoffDoublingCapped(t *testing.T) {
	clock := newFakeClock()
	initial := 5 * time.Second
	ceiling := 40 * time.Second
	q := setupTestQueue(t, Config{Clock: clock, InitialDelay: initial, MaxDelay: ceiling})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "work_order", "wo-1", "update", []byte("a"), 0, 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// After N failures retry_delay = min(initial * 2^N, ceiling).
	want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 40 * time.Second}
	for n, wantDelay := range want {
		if err := q.ReportOutcome(ctx, id, false); err != nil {
			t.Fatalf("ReportOutcome failure %d: %v", n+1, err)
		}
		// Make the entry due again to observe it.
		clock.Advance(ceiling + time.Second)

		batch, err := q.DequeueBatch(ctx, 1)
		if err != nil {
			t.Fatalf("DequeueBatch failed: %v", err)
		}
		if len(batch) != 1 {
			t.Fatalf("entry missing after failure %d", n+1)
		}
		e := batch[0]
		if e.RetryCount != n+1 {
			t.Errorf("after %d failures retry_count = %d", n+1, e.RetryCount)
		}
		if e.RetryDelay != wantDelay {
			t.Errorf("after %d failures retry_delay = %v, want %v", n+1, e.RetryDelay, wantDelay)
		}
		if e.NextRetryAt == nil || e.LastRetryAt == nil {
			t.Fatalf("retry timestamps not set after failure %d", n+1)
		}
	}
}

func TestReportOutcomeSuccessArchives(t *testing.T) {
	clock := newFakeClock()
	q := setupTestQueue(t, Config{Clock: clock})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "work_order", "wo-1", "create", []byte("a"), 2, 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := q.ReportOutcome(ctx, id, true); err != nil {
		t.Fatalf("ReportOutcome failed: %v", err)
	}

	// Absent from the active set.
	entries, err := q.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("active entries after success = %d, want 0", len(entries))
	}

	// Present exactly once in the archive with reason success.
	archived, err := q.Archived(ctx, 10)
	if err != nil {
		t.Fatalf("Archived failed: %v", err)
	}
	if len(archived) != 1 {
		t.Fatalf("archive entries = %d, want 1", len(archived))
	}
	a := archived[0]
	if a.EntryID != id {
		t.Errorf("archive entry_id = %s, want %s", a.EntryID, id)
	}
	if a.Reason != "success" || !a.Success {
		t.Errorf("archive reason = %q success = %v, want success/true", a.Reason, a.Success)
	}

	// A second report for the archived entry is ErrEntryNotFound.
	if err := q.ReportOutcome(ctx, id, true); err != ErrEntryNotFound {
		t.Errorf("duplicate ReportOutcome = %v, want ErrEntryNotFound", err)
	}
}

func TestSweepExpiredWithoutAttempts(t *testing.T) {
	clock := newFakeClock()
	q := setupTestQueue(t, Config{Clock: clock})
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "work_order", "wo-1", "update", []byte("a"), 0, time.Minute); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(ctx, "work_order", "wo-2", "update", []byte("b"), 0, time.Hour); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	clock.Advance(10 * time.Minute)
	swept, err := q.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}

	// The expired entry is archived failed/expired despite zero attempts.
	archived, err := q.Archived(ctx, 10)
	if err != nil {
		t.Fatalf("Archived failed: %v", err)
	}
	if len(archived) != 1 {
		t.Fatalf("archive entries = %d, want 1", len(archived))
	}
	a := archived[0]
	if a.EntityID != "wo-1" || a.Reason != "expired" || a.Success {
		t.Errorf("archived = %s/%s/%v, want wo-1/expired/false", a.EntityID, a.Reason, a.Success)
	}
	if a.RetryCount != 0 {
		t.Errorf("archived retry_count = %d, want 0 (never attempted)", a.RetryCount)
	}

	// The unexpired entry stays active.
	entries, err := q.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 || entries[0].EntityID != "wo-2" {
		t.Errorf("remaining active entries = %v, want just wo-2", entries)
	}
}

func TestGzipCodecRoundTrip(t *testing.T) {
	clock := newFakeClock()
	q := setupTestQueue(t, Config{Clock: clock, Codec: Gzip()})
	ctx := context.Background()

	payload := bytes.Repeat([]byte("inspection report line\n"), 100)
	if _, err := q.Enqueue(ctx, "report", "r-1", "upload", payload, 0, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Stored bytes are compressed.
	entries, err := q.List(ctx, 1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("active entries = %d, want 1", len(entries))
	}
	if entries[0].Encoding != "gzip" {
		t.Errorf("encoding = %q, want gzip", entries[0].Encoding)
	}
	if len(entries[0].Payload) >= len(payload) {
		t.Errorf("stored payload not compressed: %d >= %d", len(entries[0].Payload), len(payload))
	}

	// Dequeue hands back the original bytes.
	batch, err := q.DequeueBatch(ctx, 1)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if !bytes.Equal(batch[0].Payload, payload) {
		t.Error("dequeued payload does not round-trip")
	}
}

func TestDequeueDecodesMixedEncodings(t *testing.T) {
	clock := newFakeClock()
	store := setupTestQueue(t, Config{Clock: clock}).store

	plain := New(store, Config{Clock: clock})
	compressed := New(store, Config{Clock: clock, Codec: Gzip()})
	ctx := context.Background()

	if _, err := plain.Enqueue(ctx, "work_order", "wo-1", "update", []byte("plain"), 0, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := compressed.Enqueue(ctx, "work_order", "wo-2", "update", []byte("compressed"), 0, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Either queue decodes both entries by their stored encoding.
	batch, err := plain.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("batch size = %d, want 2", len(batch))
	}
	got := map[string]string{}
	for _, e := range batch {
		got[e.EntityID] = string(e.Payload)
	}
	if got["wo-1"] != "plain" || got["wo-2"] != "compressed" {
		t.Errorf("decoded payloads = %v", got)
	}
}

func TestEnqueueNilPayload(t *testing.T) {
	q := setupTestQueue(t, Config{})
	ctx := context.Background()

	// Payload-less actions like deletes carry no body.
	if _, err := q.Enqueue(ctx, "work_order", "wo-1", "delete", nil, 0, 0); err != nil {
		t.Fatalf("Enqueue with nil payload failed: %v", err)
	}

	batch, err := q.DequeueBatch(ctx, 1)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("batch size = %d, want 1", len(batch))
	}
	if len(batch[0].Payload) != 0 {
		t.Errorf("payload = %q, want empty", batch[0].Payload)
	}
}

func TestEnqueueValidation(t *testing.T) {
	q := setupTestQueue(t, Config{})
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "", "wo-1", "update", nil, 0, 0); err == nil {
		t.Error("expected error for empty entity type")
	}
	if _, err := q.Enqueue(ctx, "work_order", "", "update", nil, 0, 0); err == nil {
		t.Error("expected error for empty entity id")
	}
	if _, err := q.Enqueue(ctx, "work_order", "wo-1", "", nil, 0, 0); err == nil {
		t.Error("expected error for empty action")
	}
}

func TestStats(t *testing.T) {
	clock := newFakeClock()
	q := setupTestQueue(t, Config{Clock: clock})
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, "work_order", "wo-1", "update", []byte("a"), 0, 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(ctx, "work_order", "wo-2", "update", []byte("b"), 0, time.Minute); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := q.ReportOutcome(ctx, id1, true); err != nil {
		t.Fatalf("ReportOutcome failed: %v", err)
	}
	clock.Advance(5 * time.Minute)
	if _, err := q.SweepExpired(ctx); err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Active != 0 {
		t.Errorf("Active = %d, want 0", stats.Active)
	}
	if stats.ArchivedSuccess != 1 {
		t.Errorf("ArchivedSuccess = %d, want 1", stats.ArchivedSuccess)
	}
	if stats.ArchivedExpired != 1 {
		t.Errorf("ArchivedExpired = %d, want 1", stats.ArchivedExpired)
	}
}
