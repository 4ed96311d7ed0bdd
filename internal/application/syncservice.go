// Package application contains the use-case services of the sync engine.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
	"github.com/PDI-Technologies/ns-sub003/internal/domain/port/driven"
	"github.com/PDI-Technologies/ns-sub003/internal/metrics"
)

// ErrSyncInProgress is returned when a pass for the same entity type is
// already running.
var ErrSyncInProgress = errors.New("sync already in progress")

// SyncRequest selects how one pass runs.
type SyncRequest struct {
	// Full ignores the watermark and lists every record.
	Full bool
	// DryRun lists and fetches but never writes records, runs or watermarks.
	DryRun bool
	// Limit stops after this many identifiers. A limited pass never advances
	// the watermark or flags deletions.
	Limit int
}

// triggerRequest represents a manual sync trigger.
type triggerRequest struct {
	entity model.EntityType
	full   bool
	done   chan triggerResult
}

type triggerResult struct {
	result *model.SyncResult
	err    error
}

// SyncService drives the per-entity sync state machine and schedules passes
// for every configured entity type.
type SyncService struct {
	lister     *Lister
	fetcher    *Fetcher
	records    driven.RecordStore
	watermarks driven.WatermarkStore
	runs       driven.SyncRunStore
	entities   []model.EntityType
	strategy   FetchStrategy
	interval   time.Duration
	now        func() time.Time
	metrics    *metrics.Metrics
	triggerCh  chan triggerRequest

	mu     sync.Mutex
	states map[model.EntityType]model.SyncState
	active map[model.EntityType]bool
}

// SyncOption configures a SyncService.
type SyncOption func(*SyncService)

// WithClock overrides the time source for sync-start timestamps.
func WithClock(now func() time.Time) SyncOption {
	return func(s *SyncService) { s.now = now }
}

// WithMetrics records pass outcomes on m.
func WithMetrics(m *metrics.Metrics) SyncOption {
	return func(s *SyncService) { s.metrics = m }
}

// NewSyncService creates a new SyncService with all required dependencies.
func NewSyncService(
	lister *Lister,
	fetcher *Fetcher,
	records driven.RecordStore,
	watermarks driven.WatermarkStore,
	runs driven.SyncRunStore,
	entities []model.EntityType,
	strategy FetchStrategy,
	interval time.Duration,
	opts ...SyncOption,
) *SyncService {
	s := &SyncService{
		lister:     lister,
		fetcher:    fetcher,
		records:    records,
		watermarks: watermarks,
		runs:       runs,
		entities:   entities,
		strategy:   strategy,
		interval:   interval,
		now:        time.Now,
		triggerCh:  make(chan triggerRequest),
		states:     make(map[model.EntityType]model.SyncState),
		active:     make(map[model.EntityType]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Entities returns the configured entity types.
func (s *SyncService) Entities() []model.EntityType {
	return append([]model.EntityType(nil), s.entities...)
}

// Start runs an immediate pass over every entity type, then repeats on the
// configured interval while serving manual triggers. It blocks until ctx is
// canceled.
func (s *SyncService) Start(ctx context.Context) {
	if _, err := s.SyncAll(ctx, false); err != nil {
		slog.Error("initial sync failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.SyncAll(ctx, false); err != nil {
				slog.Error("sync cycle failed", "error", err)
			}
		case req := <-s.triggerCh:
			res, err := s.Sync(ctx, req.entity, SyncRequest{Full: req.full})
			req.done <- triggerResult{result: res, err: err}
		}
	}
}

// Trigger asks the running scheduler to sync entity now, bypassing the
// interval. It blocks until the pass completes or ctx is canceled.
func (s *SyncService) Trigger(ctx context.Context, entity model.EntityType, full bool) (*model.SyncResult, error) {
	if _, err := model.LookupSchema(entity); err != nil {
		return nil, err
	}

	done := make(chan triggerResult, 1)
	req := triggerRequest{entity: entity, full: full, done: done}

	select {
	case s.triggerCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SyncAll runs one pass per configured entity type. A failing entity type does
// not stop the others; the errors are joined. Cancellation stops the loop.
func (s *SyncService) SyncAll(ctx context.Context, full bool) ([]*model.SyncResult, error) {
	start := time.Now()
	var results []*model.SyncResult
	var errs []error

	for _, entity := range s.entities {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		res, err := s.Sync(ctx, entity, SyncRequest{Full: full})
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			slog.Error("entity sync failed", "entity", entity, "error", err)
			errs = append(errs, fmt.Errorf("sync %s: %w", entity, err))
		}
	}

	slog.Info("sync cycle complete",
		"entities", len(s.entities),
		"errors", len(errs),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return results, errors.Join(errs...)
}

// Sync runs one pass for entity. On failure the returned result still carries
// the processed count and itemized failures alongside the error.
func (s *SyncService) Sync(ctx context.Context, entity model.EntityType, req SyncRequest) (*model.SyncResult, error) {
	if _, err := model.LookupSchema(entity); err != nil {
		return nil, err
	}
	if !s.acquire(entity) {
		return nil, fmt.Errorf("sync %s: %w", entity, ErrSyncInProgress)
	}
	defer s.release(entity)

	startedAt := s.now().UTC()
	res := &model.SyncResult{
		RunID:      uuid.NewString(),
		EntityType: entity,
		Mode:       model.SyncModeFull,
		Status:     model.SyncStatusRunning,
		State:      model.StateIdle,
		DryRun:     req.DryRun,
		StartedAt:  startedAt,
	}
	s.transition(res, model.StateIdle)

	wm, err := s.watermarks.Get(ctx, entity)
	if err != nil {
		return s.fail(ctx, res, fmt.Errorf("read watermark: %w", err))
	}

	filter := ""
	if !req.Full && wm != nil {
		res.Mode = model.SyncModeIncremental
		filter = IncrementalFilter(wm.LastSuccessfulSyncAt)
	}

	if !req.DryRun {
		if err := s.runs.Start(ctx, s.runRecord(res)); err != nil {
			return s.fail(ctx, res, err)
		}
	}

	slog.Info("sync started",
		"entity", entity,
		"run_id", res.RunID,
		"mode", res.Mode,
		"filter", filter,
		"dry_run", req.DryRun,
		"limit", req.Limit,
	)

	s.transition(res, model.StateListing)
	ids := s.lister.ListIDs(ctx, entity, filter)
	if req.Limit > 0 {
		ids = limitIDs(ids, req.Limit)
	}

	// Records listed by an incremental pass changed after the watermark, so a
	// cached copy is stale.
	strategy := s.strategy
	if res.Mode == model.SyncModeIncremental && strategy.UseCache {
		strategy.UseCache = false
		strategy.Refresh = true
	}

	seen := make(map[string]struct{})
	s.transition(res, model.StateFetching)

	for batch, err := range s.fetcher.Batches(ctx, entity, ids, strategy) {
		if err != nil {
			return s.fail(ctx, res, err)
		}

		res.Skipped += len(batch.Skipped)
		if batch.Fatal != nil {
			res.Failures = append(res.Failures, batch.Failures...)
			return s.fail(ctx, res, fmt.Errorf("batch %d: %w", batch.Index, batch.Fatal))
		}
		if len(batch.Failures) > 0 {
			res.Failures = append(res.Failures, batch.Failures...)
			return s.fail(ctx, res, fmt.Errorf("batch %d: %d of %d records failed to fetch: %w",
				batch.Index, len(batch.Failures), batch.Size(), batch.Failures[0].Err))
		}

		for _, rec := range batch.Records {
			seen[rec.ID] = struct{}{}
		}

		if !req.DryRun {
			s.transition(res, model.StateCommitting)
			if err := s.records.MergeBatch(context.WithoutCancel(ctx), entity, batch.Records, startedAt); err != nil {
				return s.fail(ctx, res, fmt.Errorf("commit batch %d: %w", batch.Index, err))
			}
			s.metrics.RecordMerged(string(entity), len(batch.Records))
			s.transition(res, model.StateFetching)
		}

		res.Processed += len(batch.Records)
		res.Batches++
		slog.Info("batch committed",
			"entity", entity,
			"batch", batch.Index,
			"records", len(batch.Records),
			"skipped", len(batch.Skipped),
			"processed", res.Processed,
		)
	}

	if !req.DryRun && req.Limit == 0 {
		if res.Mode == model.SyncModeFull {
			deleted, err := s.records.MarkDeletedExcept(context.WithoutCancel(ctx), entity, seen, startedAt)
			if err != nil {
				return s.fail(ctx, res, fmt.Errorf("flag deleted records: %w", err))
			}
			res.Deleted = deleted
		}

		err := s.watermarks.Advance(context.WithoutCancel(ctx), model.SyncWatermark{
			EntityType:           entity,
			LastSuccessfulSyncAt: startedAt,
			LastSyncStatus:       model.SyncStatusCompleted,
			RecordsSynced:        res.Processed,
			IsFullSync:           res.Mode == model.SyncModeFull,
			UpdatedAt:            s.now().UTC(),
		})
		if err != nil {
			return s.fail(ctx, res, fmt.Errorf("advance watermark: %w", err))
		}
	}

	res.Status = model.SyncStatusCompleted
	s.transition(res, model.StateCompleted)
	s.finish(ctx, res)

	slog.Info("sync completed",
		"entity", entity,
		"run_id", res.RunID,
		"mode", res.Mode,
		"processed", res.Processed,
		"batches", res.Batches,
		"skipped", res.Skipped,
		"deleted", res.Deleted,
		"duration", res.Duration().Round(time.Millisecond),
	)
	return res, nil
}

// Status reports the current state, stored record count and watermark of
// every configured entity type.
func (s *SyncService) Status(ctx context.Context) ([]model.EntityStatus, error) {
	statuses := make([]model.EntityStatus, 0, len(s.entities))
	for _, entity := range s.entities {
		wm, err := s.watermarks.Get(ctx, entity)
		if err != nil {
			return nil, fmt.Errorf("status %s: %w", entity, err)
		}
		n, err := s.records.Count(ctx, entity)
		if err != nil {
			return nil, fmt.Errorf("status %s: %w", entity, err)
		}
		statuses = append(statuses, model.EntityStatus{
			EntityType: entity,
			State:      s.state(entity),
			Records:    n,
			Watermark:  wm,
		})
	}
	return statuses, nil
}

func (s *SyncService) fail(ctx context.Context, res *model.SyncResult, err error) (*model.SyncResult, error) {
	res.Status = model.SyncStatusFailed
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		res.Status = model.SyncStatusCanceled
	}
	res.Error = err.Error()
	s.transition(res, model.StateFailed)
	s.finish(ctx, res)

	slog.Error("sync failed",
		"entity", res.EntityType,
		"run_id", res.RunID,
		"status", res.Status,
		"processed", res.Processed,
		"failures", len(res.Failures),
		"error", err,
	)
	return res, err
}

func (s *SyncService) finish(ctx context.Context, res *model.SyncResult) {
	res.FinishedAt = s.now().UTC()
	s.metrics.RecordSyncRun(string(res.EntityType), string(res.Mode), string(res.Status), res.Duration())

	if res.DryRun {
		return
	}
	if err := s.runs.Finish(context.WithoutCancel(ctx), s.runRecord(res)); err != nil {
		slog.Warn("record sync run failed", "run_id", res.RunID, "error", err)
	}
}

func (s *SyncService) runRecord(res *model.SyncResult) model.SyncRun {
	return model.SyncRun{
		ID:         res.RunID,
		EntityType: res.EntityType,
		Mode:       res.Mode,
		Status:     res.Status,
		Processed:  res.Processed,
		Failed:     len(res.Failures),
		Error:      res.Error,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
}

func (s *SyncService) transition(res *model.SyncResult, state model.SyncState) {
	res.State = state
	s.mu.Lock()
	s.states[res.EntityType] = state
	s.mu.Unlock()
	slog.Debug("sync state", "entity", res.EntityType, "state", state)
}

func (s *SyncService) state(entity model.EntityType) model.SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[entity]; ok {
		return st
	}
	return model.StateIdle
}

func (s *SyncService) acquire(entity model.EntityType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[entity] {
		return false
	}
	s.active[entity] = true
	return true
}

func (s *SyncService) release(entity model.EntityType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, entity)
}
