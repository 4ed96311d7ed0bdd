package driven

import (
	"context"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
)

// RemoteAPI defines the driven port for the two-phase remote read contract.
// ListPage returns identifiers only; GetRecord returns the complete payload for
// one identifier. Implementations authenticate and rate-limit every call.
type RemoteAPI interface {
	ListPage(ctx context.Context, entity model.EntityType, page model.PageRequest) (*model.IDPage, error)
	GetRecord(ctx context.Context, entity model.EntityType, id string) (*model.RemoteRecord, error)
}
