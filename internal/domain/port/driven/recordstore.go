package driven

import (
	"context"
	"time"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
)

// RecordStore defines the driven port for schema-resilient record persistence.
type RecordStore interface {
	// MergeBatch splits each record into known and custom fields, merges the
	// custom fields with what is stored and persists the whole batch in one
	// transaction. Either every record commits or none does.
	MergeBatch(ctx context.Context, entity model.EntityType, records []model.RemoteRecord, syncedAt time.Time) error

	// Get returns the stored record, or nil, nil when it does not exist.
	Get(ctx context.Context, entity model.EntityType, id string) (*model.ResourceRecord, error)

	Count(ctx context.Context, entity model.EntityType) (int, error)

	// MarkDeletedExcept flags every stored record whose id is not in keep as
	// deleted remotely. Records are never physically removed.
	MarkDeletedExcept(ctx context.Context, entity model.EntityType, keep map[string]struct{}, at time.Time) (int, error)

	// PurgeDeprecated drops deprecated custom-field snapshots last seen before
	// cutoff. It is a maintenance operation and never runs as part of a sync.
	PurgeDeprecated(ctx context.Context, entity model.EntityType, cutoff time.Time) (int, error)
}
