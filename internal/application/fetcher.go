package application

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
	"github.com/PDI-Technologies/ns-sub003/internal/domain/port/driven"
	"github.com/PDI-Technologies/ns-sub003/internal/metrics"
)

// DefaultBatchSize is the number of identifiers fetched per committed batch.
const DefaultBatchSize = 100

// FetchStrategy selects how identifiers are fetched. Parallelism <= 1 fetches
// sequentially.
type FetchStrategy struct {
	Parallelism int
	UseCache    bool
	// Refresh skips cache reads but still stores what was fetched.
	Refresh     bool
	BatchSize   int
}

func (s FetchStrategy) batchSize() int {
	if s.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return s.BatchSize
}

// Fetcher retrieves complete records by identifier.
type Fetcher struct {
	api     driven.RemoteAPI
	cache   driven.RecordCache
	metrics *metrics.Metrics
}

// NewFetcher creates a Fetcher. cache may be nil, in which case UseCache is
// ignored.
func NewFetcher(api driven.RemoteAPI, cache driven.RecordCache, m *metrics.Metrics) *Fetcher {
	return &Fetcher{api: api, cache: cache, metrics: m}
}

// FetchFull fetches one record from the remote API, bypassing the cache.
func (f *Fetcher) FetchFull(ctx context.Context, entity model.EntityType, id string) (*model.RemoteRecord, error) {
	rec, err := f.api.GetRecord(ctx, entity, id)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", entity, id, err)
	}
	return rec, nil
}

// FetchMany fetches ids with the given strategy. Records are returned in the
// order of ids; each id that could not be fetched, including ids no longer
// present remotely, is reported as a failure. Per-record errors do not stop
// the others, but an auth or permission error stops every fetch not yet sent
// and those ids are reported as not attempted.
func (f *Fetcher) FetchMany(ctx context.Context, entity model.EntityType, ids []string, strategy FetchStrategy) ([]model.RemoteRecord, []model.RecordFailure) {
	res := f.fetchSet(ctx, entity, ids, strategy)
	for _, id := range res.skipped {
		res.failures = append(res.failures, model.NewRecordFailure(id, fmt.Errorf("fetch %s/%s: %w", entity, id, model.ErrNotFound)))
	}
	return res.records, res.failures
}

// Batches consumes ids and yields one FetchBatch per BatchSize identifiers.
// Listing and fetching interleave, so at most one batch is held in memory.
// A fetch that has started always completes; cancellation of ctx is reported
// as an error before the next batch begins.
func (f *Fetcher) Batches(ctx context.Context, entity model.EntityType, ids iter.Seq2[string, error], strategy FetchStrategy) iter.Seq2[model.FetchBatch, error] {
	return func(yield func(model.FetchBatch, error) bool) {
		size := strategy.batchSize()
		buf := make([]string, 0, size)
		index := 0

		flush := func() bool {
			if err := ctx.Err(); err != nil {
				yield(model.FetchBatch{}, err)
				return false
			}
			res := f.fetchSet(context.WithoutCancel(ctx), entity, buf, strategy)
			batch := model.FetchBatch{
				Index:    index,
				Records:  res.records,
				Failures: res.failures,
				Skipped:  res.skipped,
				Fatal:    res.fatal,
			}
			index++
			buf = make([]string, 0, size)
			return yield(batch, nil) && res.fatal == nil
		}

		for id, err := range ids {
			if err != nil {
				yield(model.FetchBatch{}, err)
				return
			}
			buf = append(buf, id)
			if len(buf) == size && !flush() {
				return
			}
		}
		if len(buf) > 0 {
			flush()
		}
	}
}

type fetchResult struct {
	records  []model.RemoteRecord
	failures []model.RecordFailure
	skipped  []string
	fatal    error
}

type fetchOutcome struct {
	rec       *model.RemoteRecord
	err       error
	attempted bool
}

func (f *Fetcher) fetchSet(ctx context.Context, entity model.EntityType, ids []string, strategy FetchStrategy) fetchResult {
	outcomes := make([]fetchOutcome, len(ids))
	var fatal error

	if strategy.Parallelism <= 1 {
		for i, id := range ids {
			rec, err := f.fetchOne(ctx, entity, id, strategy)
			outcomes[i] = fetchOutcome{rec: rec, err: err, attempted: true}
			if model.IsFatal(err) {
				fatal = err
				break
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(strategy.Parallelism)
		for i, id := range ids {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				rec, err := f.fetchOne(gctx, entity, id, strategy)
				outcomes[i] = fetchOutcome{rec: rec, err: err, attempted: true}
				if model.IsFatal(err) {
					return err
				}
				return nil
			})
		}
		fatal = g.Wait()
	}

	if fatal != nil {
		slog.Error("remote rejected credentials, stopping fetches", "entity", entity, "error", fatal)
	}

	var res fetchResult
	res.fatal = fatal
	for i, o := range outcomes {
		switch {
		case !o.attempted, fatal != nil && errors.Is(o.err, context.Canceled):
			cause := fatal
			if cause == nil {
				cause = ctx.Err()
			}
			if cause == nil {
				cause = context.Canceled
			}
			res.failures = append(res.failures, model.NewRecordFailure(ids[i],
				fmt.Errorf("fetch %s/%s: not attempted: %w", entity, ids[i], cause)))
		case o.err == nil:
			res.records = append(res.records, *o.rec)
		case errors.Is(o.err, model.ErrNotFound):
			slog.Info("record no longer exists remotely", "entity", entity, "id", ids[i])
			res.skipped = append(res.skipped, ids[i])
		default:
			if !model.IsFatal(o.err) {
				slog.Warn("record fetch failed", "entity", entity, "id", ids[i], "error", o.err)
			}
			res.failures = append(res.failures, model.NewRecordFailure(ids[i], o.err))
		}
	}
	f.metrics.RecordFetchFailures(string(entity), len(res.failures))
	return res
}

func (f *Fetcher) fetchOne(ctx context.Context, entity model.EntityType, id string, strategy FetchStrategy) (*model.RemoteRecord, error) {
	useCache := (strategy.UseCache || strategy.Refresh) && f.cache != nil
	if useCache && !strategy.Refresh {
		if rec, ok := f.cache.Get(entity, id); ok {
			return rec, nil
		}
	}

	rec, err := f.FetchFull(ctx, entity, id)
	if err != nil {
		return nil, err
	}
	if useCache {
		f.cache.Set(*rec)
	}
	return rec, nil
}
