package driven

import "github.com/PDI-Technologies/ns-sub003/internal/domain/model"

// RecordCache caches fetched payloads keyed by (entity type, id).
type RecordCache interface {
	Get(entity model.EntityType, id string) (*model.RemoteRecord, bool)
	Set(record model.RemoteRecord)
}
