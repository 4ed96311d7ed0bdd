package model

import "time"

// SyncState is a stage of the per-entity sync state machine.
type SyncState string

const (
	StateIdle       SyncState = "idle"
	StateListing    SyncState = "listing"
	StateFetching   SyncState = "fetching"
	StateCommitting SyncState = "committing"
	StateCompleted  SyncState = "completed"
	StateFailed     SyncState = "failed"
)

// SyncStatus is the outcome recorded for a pass.
type SyncStatus string

const (
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
	SyncStatusCanceled  SyncStatus = "canceled"
)

// SyncMode distinguishes a full pass from a watermark-filtered one.
type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

// SyncWatermark is the boundary of the last fully committed pass for an entity
// type. It only moves forward.
type SyncWatermark struct {
	EntityType           EntityType `json:"entity_type"`
	LastSuccessfulSyncAt time.Time  `json:"last_successful_sync_at"`
	LastSyncStatus       SyncStatus `json:"last_sync_status"`
	RecordsSynced        int        `json:"records_synced"`
	IsFullSync           bool       `json:"is_full_sync"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// SyncRun is the history entry of one pass, successful or not.
type SyncRun struct {
	ID         string     `json:"id"`
	EntityType EntityType `json:"entity_type"`
	Mode       SyncMode   `json:"mode"`
	Status     SyncStatus `json:"status"`
	Processed  int        `json:"processed"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// SyncResult is what a pass reports back to its caller.
type SyncResult struct {
	RunID      string          `json:"run_id"`
	EntityType EntityType      `json:"entity_type"`
	Mode       SyncMode        `json:"mode"`
	Status     SyncStatus      `json:"status"`
	State      SyncState       `json:"state"`
	Processed  int             `json:"processed"`
	Batches    int             `json:"batches"`
	Skipped    int             `json:"skipped"`
	Deleted    int             `json:"deleted"`
	Failures   []RecordFailure `json:"failures"`
	Error      string          `json:"error,omitempty"`
	DryRun     bool            `json:"dry_run,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Duration returns how long the pass took.
func (r SyncResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// EntityStatus is the reported sync state of one entity type.
type EntityStatus struct {
	EntityType EntityType     `json:"entity_type"`
	State      SyncState      `json:"state"`
	Records    int            `json:"records"`
	Watermark  *SyncWatermark `json:"watermark,omitempty"`
}
