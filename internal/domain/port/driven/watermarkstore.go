package driven

import (
	"context"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
)

// WatermarkStore defines the driven port for per-entity sync watermarks.
type WatermarkStore interface {
	// Get returns the watermark for entity, or nil, nil if none was recorded.
	Get(ctx context.Context, entity model.EntityType) (*model.SyncWatermark, error)

	// Advance atomically replaces the watermark. A watermark older than the
	// stored one is ignored, so the boundary never moves backward.
	Advance(ctx context.Context, wm model.SyncWatermark) error

	List(ctx context.Context) ([]model.SyncWatermark, error)
}

// SyncRunStore defines the driven port for the sync run history.
type SyncRunStore interface {
	Start(ctx context.Context, run model.SyncRun) error
	Finish(ctx context.Context, run model.SyncRun) error
	// List returns the most recent runs first. An empty entity lists all types.
	List(ctx context.Context, entity model.EntityType, limit int) ([]model.SyncRun, error)
}
