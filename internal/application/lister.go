package application

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
	"github.com/PDI-Technologies/ns-sub003/internal/domain/port/driven"
)

// Lister enumerates the identifiers of an entity type page by page.
type Lister struct {
	api      driven.RemoteAPI
	pageSize int
}

// NewLister creates a Lister requesting pageSize identifiers per call.
func NewLister(api driven.RemoteAPI, pageSize int) *Lister {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Lister{api: api, pageSize: pageSize}
}

// ListIDs returns a lazy sequence of identifiers matching filter (all records
// when filter is empty). Pages are requested only as the sequence is consumed,
// and each range over the result starts again from offset zero. A listing
// error is yielded once and ends the sequence. Duplicate ids, which appear
// when records shift between pages, are yielded once.
func (l *Lister) ListIDs(ctx context.Context, entity model.EntityType, filter string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		seen := make(map[string]struct{})
		offset := 0

		for {
			page, err := l.api.ListPage(ctx, entity, model.PageRequest{
				Limit:  l.pageSize,
				Offset: offset,
				Filter: filter,
			})
			if err != nil {
				yield("", fmt.Errorf("list %s at offset %d: %w", entity, offset, err))
				return
			}

			for _, id := range page.IDs {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				if !yield(id, nil) {
					return
				}
			}

			if !page.HasMore || len(page.IDs) == 0 {
				return
			}
			offset += len(page.IDs)
		}
	}
}

// IncrementalFilter returns the list filter selecting records modified at or
// after t.
func IncrementalFilter(t time.Time) string {
	return fmt.Sprintf("lastModifiedDate >= '%s'", t.UTC().Format(time.RFC3339))
}

// limitIDs stops ids after n identifiers.
func limitIDs(ids iter.Seq2[string, error], n int) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if n <= 0 {
			return
		}
		count := 0
		for id, err := range ids {
			if !yield(id, err) || err != nil {
				return
			}
			count++
			if count >= n {
				return
			}
		}
	}
}
