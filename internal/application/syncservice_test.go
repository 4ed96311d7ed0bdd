package application_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PDI-Technologies/ns-sub003/internal/application"
	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type syncFixture struct {
	remote     *fakeRemote
	records    *fakeRecordStore
	watermarks *fakeWatermarkStore
	runs       *fakeRunStore
	clock      *fakeClock
	svc        *application.SyncService
}

func newSyncFixture(t *testing.T, entities ...model.EntityType) *syncFixture {
	t.Helper()
	return newSyncFixtureWith(t, application.FetchStrategy{Parallelism: 4, BatchSize: 100}, nil, entities...)
}

func newSyncFixtureWith(t *testing.T, strategy application.FetchStrategy, cache *mapCache, entities ...model.EntityType) *syncFixture {
	t.Helper()
	if len(entities) == 0 {
		entities = []model.EntityType{model.EntityVendor}
	}

	f := &syncFixture{
		remote:     newFakeRemote(),
		records:    newFakeRecordStore(),
		watermarks: newFakeWatermarkStore(),
		runs:       newFakeRunStore(),
		clock:      &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.svc = application.NewSyncService(
		application.NewLister(f.remote, 100),
		newFixtureFetcher(f.remote, cache),
		f.records,
		f.watermarks,
		f.runs,
		entities,
		strategy,
		time.Hour,
		application.WithClock(f.clock.now),
	)
	return f
}

func newFixtureFetcher(remote *fakeRemote, cache *mapCache) *application.Fetcher {
	if cache == nil {
		return application.NewFetcher(remote, nil, nil)
	}
	return application.NewFetcher(remote, cache, nil)
}

func (f *syncFixture) run(t *testing.T, id string) model.SyncRun {
	t.Helper()
	f.runs.mu.Lock()
	defer f.runs.mu.Unlock()
	r, ok := f.runs.runs[id]
	require.True(t, ok, "run %s not recorded", id)
	return r
}

func TestSyncService_FirstPassIsFull(t *testing.T) {
	f := newSyncFixture(t)
	f.remote.addVendors(250, nil)
	startedAt := f.clock.now()

	res, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})
	require.NoError(t, err)

	assert.Equal(t, model.SyncModeFull, res.Mode)
	assert.Equal(t, model.SyncStatusCompleted, res.Status)
	assert.Equal(t, model.StateCompleted, res.State)
	assert.Equal(t, 250, res.Processed)
	assert.Equal(t, 3, res.Batches)
	assert.Empty(t, res.Failures)

	require.Len(t, f.remote.listCalls, 3)
	assert.Equal(t, 50, f.remote.listCalls[2].count)
	assert.Empty(t, f.remote.listCalls[0].filter)
	assert.Equal(t, int32(250), f.remote.gets.Load())
	assert.Equal(t, 3, f.records.merges)

	n, err := f.records.Count(context.Background(), model.EntityVendor)
	require.NoError(t, err)
	assert.Equal(t, 250, n)

	wm, err := f.watermarks.Get(context.Background(), model.EntityVendor)
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, startedAt, wm.LastSuccessfulSyncAt)
	assert.Equal(t, 250, wm.RecordsSynced)
	assert.True(t, wm.IsFullSync)
	assert.Equal(t, model.SyncStatusCompleted, wm.LastSyncStatus)

	run := f.run(t, res.RunID)
	assert.Equal(t, model.SyncStatusCompleted, run.Status)
	assert.Equal(t, 250, run.Processed)
}

func TestSyncService_SequentialFirstPass(t *testing.T) {
	f := newSyncFixtureWith(t, application.FetchStrategy{Parallelism: 1, BatchSize: 100}, nil)
	f.remote.addVendors(250, nil)

	res, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})
	require.NoError(t, err)

	assert.Equal(t, model.SyncModeFull, res.Mode)
	assert.Equal(t, 250, res.Processed)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, int32(250), f.remote.gets.Load())
	assert.Equal(t, int32(1), f.remote.peak.Load())
	assert.Equal(t, 3, f.records.merges)
}

func TestSyncService_IncrementalPassRefetchesCachedRecords(t *testing.T) {
	cache := newMapCache()
	f := newSyncFixtureWith(t, application.FetchStrategy{Parallelism: 1, BatchSize: 100, UseCache: true}, cache)
	f.remote.setPayloads(model.EntityVendor, []map[string]any{{"id": "1", "companyName": "Old"}})

	_, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})
	require.NoError(t, err)

	f.remote.setPayloads(model.EntityVendor, []map[string]any{{"id": "1", "companyName": "New"}})
	second := f.clock.now().Add(time.Hour)
	f.clock.set(second)

	res, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.SyncModeIncremental, res.Mode)
	assert.Equal(t, int32(2), f.remote.gets.Load())

	stored, err := f.records.Get(context.Background(), model.EntityVendor, "1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "New", stored.KnownFields["companyName"])

	cached, ok := cache.Get(model.EntityVendor, "1")
	require.True(t, ok)
	assert.Equal(t, "New", cached.Fields["companyName"])

	wm, err := f.watermarks.Get(context.Background(), model.EntityVendor)
	require.NoError(t, err)
	assert.Equal(t, second, wm.LastSuccessfulSyncAt)
}

func TestSyncService_AuthErrorStopsPass(t *testing.T) {
	f := newSyncFixtureWith(t, application.FetchStrategy{Parallelism: 1, BatchSize: 100}, nil)
	f.remote.addVendors(250, nil)
	for i := 1; i <= 250; i++ {
		f.remote.getErrs[strconv.Itoa(i)] = &model.RemoteError{Kind: model.ErrAuth, StatusCode: 401}
	}

	res, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrAuth)
	assert.Equal(t, int32(1), f.remote.gets.Load(), "no further GETs after the first 401")
	require.NotNil(t, res)
	assert.Equal(t, model.SyncStatusFailed, res.Status)
	assert.Equal(t, model.StateFailed, res.State)
	assert.Len(t, res.Failures, 100)
	assert.Zero(t, f.records.merges)

	wm, err := f.watermarks.Get(context.Background(), model.EntityVendor)
	require.NoError(t, err)
	assert.Nil(t, wm)
}

func TestSyncService_SecondPassIsIncremental(t *testing.T) {
	f := newSyncFixture(t)
	f.remote.addVendors(5, nil)
	first := f.clock.now()

	_, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})
	require.NoError(t, err)

	second := first.Add(time.Hour)
	f.clock.set(second)
	f.remote.listCalls = nil

	res, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})
	require.NoError(t, err)

	assert.Equal(t, model.SyncModeIncremental, res.Mode)
	require.NotEmpty(t, f.remote.listCalls)
	assert.Equal(t, application.IncrementalFilter(first), f.remote.listCalls[0].filter)

	wm, err := f.watermarks.Get(context.Background(), model.EntityVendor)
	require.NoError(t, err)
	assert.Equal(t, second, wm.LastSuccessfulSyncAt)
	assert.False(t, wm.IsFullSync)
}

func TestSyncService_FullRequestIgnoresWatermark(t *testing.T) {
	f := newSyncFixture(t)
	f.remote.addVendors(5, nil)

	_, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})
	require.NoError(t, err)
	f.remote.listCalls = nil

	res, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{Full: true})
	require.NoError(t, err)
	assert.Equal(t, model.SyncModeFull, res.Mode)
	assert.Empty(t, f.remote.listCalls[0].filter)
}

func TestSyncService_DroppedCustomFieldIsDeprecated(t *testing.T) {
	f := newSyncFixture(t)
	f.remote.setPayloads(model.EntityVendor, []map[string]any{
		{"id": "42", "companyName": "Acme", "custentity_region": "West", "custentity_tier": "gold"},
	})
	t1 := f.clock.now()

	_, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})
	require.NoError(t, err)

	t2 := t1.Add(24 * time.Hour)
	f.clock.set(t2)
	f.remote.setPayloads(model.EntityVendor, []map[string]any{
		{"id": "42", "companyName": "Acme Corp", "custentity_tier": "platinum"},
	})

	_, err = f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})
	require.NoError(t, err)

	rec, err := f.records.Get(context.Background(), model.EntityVendor, "42")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "Acme Corp", rec.KnownFields["companyName"])

	region := rec.CustomFields["custentity_region"]
	assert.True(t, region.Deprecated)
	assert.Equal(t, "West", region.Value)
	assert.Equal(t, t1, region.LastSeen)

	tier := rec.CustomFields["custentity_tier"]
	assert.False(t, tier.Deprecated)
	assert.Equal(t, "platinum", tier.Value)
	assert.Equal(t, t1, tier.FirstSeen)
	assert.Equal(t, t2, tier.LastSeen)
}

func TestSyncService_FailedFetchLeavesWatermarkUntouched(t *testing.T) {
	f := newSyncFixture(t)
	f.remote.addVendors(250, nil)
	f.remote.getErrs["150"] = &model.RemoteError{Kind: model.ErrTransient, StatusCode: 503}

	res, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTransient)

	require.NotNil(t, res)
	assert.Equal(t, model.SyncStatusFailed, res.Status)
	assert.Equal(t, model.StateFailed, res.State)
	assert.Equal(t, 100, res.Processed, "the first batch was committed before the failure")
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "150", res.Failures[0].ID)
	assert.Equal(t, 1, f.records.merges, "the failed batch is never committed")

	wm, err := f.watermarks.Get(context.Background(), model.EntityVendor)
	require.NoError(t, err)
	assert.Nil(t, wm)

	run := f.run(t, res.RunID)
	assert.Equal(t, model.SyncStatusFailed, run.Status)
	assert.Equal(t, 1, run.Failed)
	assert.NotEmpty(t, run.Error)
}

func TestSyncService_MissingRecordIsSkipped(t *testing.T) {
	f := newSyncFixture(t)
	f.remote.addVendors(3, nil)
	f.remote.getErrs["2"] = &model.RemoteError{Kind: model.ErrNotFound, StatusCode: 404}

	res, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Skipped)
}

func TestSyncService_CommitFailureFailsPass(t *testing.T) {
	f := newSyncFixture(t)
	f.remote.addVendors(3, nil)
	f.records.mergeErr = errors.New("disk full")

	res, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})
	require.Error(t, err)
	assert.Equal(t, model.SyncStatusFailed, res.Status)

	wm, _ := f.watermarks.Get(context.Background(), model.EntityVendor)
	assert.Nil(t, wm)
}

func TestSyncService_DryRunWritesNothing(t *testing.T) {
	f := newSyncFixture(t)
	f.remote.addVendors(120, nil)

	res, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{DryRun: true})
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Equal(t, 120, res.Processed)
	assert.Equal(t, int32(120), f.remote.gets.Load())
	assert.Zero(t, f.records.merges)
	assert.Empty(t, f.runs.runs)

	wm, _ := f.watermarks.Get(context.Background(), model.EntityVendor)
	assert.Nil(t, wm)
}

func TestSyncService_LimitedPassKeepsWatermark(t *testing.T) {
	f := newSyncFixture(t)
	f.remote.addVendors(250, nil)

	res, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{Limit: 30})
	require.NoError(t, err)

	assert.Equal(t, 30, res.Processed)
	assert.Equal(t, int32(30), f.remote.gets.Load())
	assert.Len(t, f.remote.listCalls, 1)

	wm, _ := f.watermarks.Get(context.Background(), model.EntityVendor)
	assert.Nil(t, wm, "a limited pass does not cover the whole listing")
}

func TestSyncService_FullPassFlagsRemovedRecords(t *testing.T) {
	f := newSyncFixture(t)
	f.remote.addVendors(5, nil)

	_, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})
	require.NoError(t, err)

	f.remote.setPayloads(model.EntityVendor, []map[string]any{
		{"id": "1"}, {"id": "2"}, {"id": "4"}, {"id": "5"},
	})
	f.clock.set(f.clock.now().Add(time.Hour))

	res, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{Full: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	rec, _ := f.records.Get(context.Background(), model.EntityVendor, "3")
	require.NotNil(t, rec)
	assert.True(t, rec.IsDeleted)
	assert.Equal(t, res.StartedAt, f.records.deletedAt["3"])

	kept, _ := f.records.Get(context.Background(), model.EntityVendor, "4")
	assert.False(t, kept.IsDeleted)
}

func TestSyncService_IncrementalPassNeverFlagsDeletions(t *testing.T) {
	f := newSyncFixture(t)
	f.remote.addVendors(5, nil)

	_, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})
	require.NoError(t, err)
	f.remote.setPayloads(model.EntityVendor, []map[string]any{{"id": "1"}})

	res, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.SyncModeIncremental, res.Mode)
	assert.Zero(t, res.Deleted)
	assert.Empty(t, f.records.deletedAt)
}

func TestSyncService_CancellationStopsBetweenBatches(t *testing.T) {
	f := newSyncFixture(t)
	f.remote.addVendors(250, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.records.onMerge = func(batch int) {
		if batch == 1 {
			cancel()
		}
	}

	res, err := f.svc.Sync(ctx, model.EntityVendor, application.SyncRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, model.SyncStatusCanceled, res.Status)
	assert.Equal(t, 100, res.Processed)
	assert.Equal(t, 1, f.records.merges)

	wm, _ := f.watermarks.Get(context.Background(), model.EntityVendor)
	assert.Nil(t, wm)
	assert.Equal(t, model.SyncStatusCanceled, f.run(t, res.RunID).Status)
}

func TestSyncService_RejectsConcurrentPassForSameEntity(t *testing.T) {
	f := newSyncFixture(t)
	f.remote.addVendors(3, nil)

	var nestedErr error
	f.records.onMerge = func(int) {
		_, nestedErr = f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})
	}

	_, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})
	require.NoError(t, err)
	assert.ErrorIs(t, nestedErr, application.ErrSyncInProgress)
}

func TestSyncService_UnknownEntity(t *testing.T) {
	f := newSyncFixture(t)

	_, err := f.svc.Sync(context.Background(), model.EntityType("invoice"), application.SyncRequest{})
	assert.ErrorIs(t, err, model.ErrUnknownEntity)
}

func TestSyncService_SyncAllContinuesPastFailingEntity(t *testing.T) {
	f := newSyncFixture(t, model.EntityVendor, model.EntityVendorBill)
	f.remote.listErr[model.EntityVendor] = &model.RemoteError{Kind: model.ErrPermission, StatusCode: 403}
	f.remote.setPayloads(model.EntityVendorBill, []map[string]any{
		{"id": "b1", "tranId": "BILL-1"},
		{"id": "b2", "tranId": "BILL-2"},
	})

	results, err := f.svc.SyncAll(context.Background(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrPermission)

	require.Len(t, results, 2)
	assert.Equal(t, model.SyncStatusFailed, results[0].Status)
	assert.Equal(t, model.SyncStatusCompleted, results[1].Status)
	assert.Equal(t, 2, results[1].Processed)

	wm, _ := f.watermarks.Get(context.Background(), model.EntityVendorBill)
	require.NotNil(t, wm)
	vendorWM, _ := f.watermarks.Get(context.Background(), model.EntityVendor)
	assert.Nil(t, vendorWM)
}

func TestSyncService_TriggerRunsThroughScheduler(t *testing.T) {
	f := newSyncFixture(t)
	f.remote.addVendors(3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		f.svc.Start(ctx)
	}()

	res, err := f.svc.Trigger(ctx, model.EntityVendor, true)
	require.NoError(t, err)
	assert.Equal(t, model.SyncModeFull, res.Mode)
	assert.Equal(t, 3, res.Processed)

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}

	_, err = f.svc.Trigger(ctx, model.EntityVendor, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyncService_TriggerRejectsUnknownEntity(t *testing.T) {
	f := newSyncFixture(t)

	_, err := f.svc.Trigger(context.Background(), model.EntityType("invoice"), false)
	assert.ErrorIs(t, err, model.ErrUnknownEntity)
}

func TestSyncService_Status(t *testing.T) {
	f := newSyncFixture(t, model.EntityVendor, model.EntityVendorBill)
	f.remote.addVendors(4, nil)

	_, err := f.svc.Sync(context.Background(), model.EntityVendor, application.SyncRequest{})
	require.NoError(t, err)

	statuses, err := f.svc.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	assert.Equal(t, model.EntityVendor, statuses[0].EntityType)
	assert.Equal(t, model.StateCompleted, statuses[0].State)
	assert.Equal(t, 4, statuses[0].Records)
	require.NotNil(t, statuses[0].Watermark)

	assert.Equal(t, model.StateIdle, statuses[1].State)
	assert.Nil(t, statuses[1].Watermark)
}
