// Package types defines the core data types shared across depot packages.
package types

import (
	"time"
)

// SyncEntry is a pending outbound change in the sync queue.
// At most one active entry exists per (EntityType, EntityID, Action); a later
// enqueue for the same key replaces the pending payload instead of duplicating it.
type SyncEntry struct {
	ID          string        `json:"id"`
	EntityType  string        `json:"entity_type"`
	EntityID    string        `json:"entity_id"`
	Action      string        `json:"action"`
	Payload     []byte        `json:"payload"`
	Encoding    string        `json:"encoding"`
	Priority    int           `json:"priority"`
	RetryCount  int           `json:"retry_count"`
	RetryDelay  time.Duration `json:"retry_delay"`
	CreatedAt   time.Time     `json:"created_at"`
	LastRetryAt *time.Time    `json:"last_retry_at,omitempty"`
	NextRetryAt *time.Time    `json:"next_retry_at,omitempty"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
}

// Key returns the dedup key for the entry.
func (e *SyncEntry) Key() string {
	return e.EntityType + "/" + e.EntityID + "/" + e.Action
}

// Archive reasons for terminal sync entry transitions.
const (
	ArchiveReasonSuccess = "success"
	ArchiveReasonExpired = "expired"
)

// ArchiveEntry is an immutable record of a sync entry's terminal outcome.
// Archive rows are append-only; an entry is archived exactly once.
type ArchiveEntry struct {
	ID         int64     `json:"id"`
	EntryID    string    `json:"entry_id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	Payload    []byte    `json:"payload"`
	Priority   int       `json:"priority"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
	ArchivedAt time.Time `json:"archived_at"`
	Reason     string    `json:"reason"`
	Success    bool      `json:"success"`
}

// QueueStats summarizes the sync queue for status reporting.
type QueueStats struct {
	Active          int `json:"active"`
	Due             int `json:"due"`
	ArchivedSuccess int `json:"archived_success"`
	ArchivedExpired int `json:"archived_expired"`
}

// TaskCategory is a baseline reference row seeded during initialization.
type TaskCategory struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Building is a baseline reference row seeded during initialization.
type Building struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkOrder is an operational record imported from an external handoff file.
type WorkOrder struct {
	ID         string    `json:"id"`
	BuildingID string    `json:"building_id"`
	Category   string    `json:"category"`
	Summary    string    `json:"summary"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Work order statuses.
const (
	WorkOrderOpen       = "open"
	WorkOrderInProgress = "in_progress"
	WorkOrderDone       = "done"
)
