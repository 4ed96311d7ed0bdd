package application_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
)

// --- Fake remote API ---

type listCall struct {
	limit  int
	offset int
	filter string
	count  int
}

type fakeRemote struct {
	mu        sync.Mutex
	payloads  map[model.EntityType][]map[string]any
	getErrs   map[string]error
	listErr   map[model.EntityType]error
	listCalls []listCall
	gets      atomic.Int32
	inFlight  atomic.Int32
	peak      atomic.Int32
	getDelay  time.Duration
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		payloads: make(map[model.EntityType][]map[string]any),
		getErrs:  make(map[string]error),
		listErr:  make(map[model.EntityType]error),
	}
}

// addVendors registers n vendors with ids "1".."n".
func (f *fakeRemote) addVendors(n int, extra map[string]any) {
	for i := 1; i <= n; i++ {
		p := map[string]any{
			"id":          strconv.Itoa(i),
			"companyName": fmt.Sprintf("Vendor %d", i),
			"links":       []any{},
		}
		for k, v := range extra {
			p[k] = v
		}
		f.payloads[model.EntityVendor] = append(f.payloads[model.EntityVendor], p)
	}
}

func (f *fakeRemote) ListPage(_ context.Context, entity model.EntityType, page model.PageRequest) (*model.IDPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.listErr[entity]; err != nil {
		return nil, err
	}

	all := f.payloads[entity]
	var ids []string
	for i := page.Offset; i < len(all) && i < page.Offset+page.Limit; i++ {
		ids = append(ids, all[i]["id"].(string))
	}
	f.listCalls = append(f.listCalls, listCall{limit: page.Limit, offset: page.Offset, filter: page.Filter, count: len(ids)})

	return &model.IDPage{
		IDs:          ids,
		HasMore:      page.Offset+page.Limit < len(all),
		Offset:       page.Offset,
		Count:        len(ids),
		TotalResults: len(all),
	}, nil
}

func (f *fakeRemote) GetRecord(_ context.Context, entity model.EntityType, id string) (*model.RemoteRecord, error) {
	f.gets.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.getDelay > 0 {
		time.Sleep(f.getDelay)
	}

	f.mu.Lock()
	err := f.getErrs[id]
	var payload map[string]any
	for _, p := range f.payloads[entity] {
		if p["id"] == id {
			payload = p
			break
		}
	}
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, &model.RemoteError{Kind: model.ErrNotFound, StatusCode: 404}
	}

	raw, _ := json.Marshal(payload)
	return model.DecodeRemoteRecord(entity, id, raw)
}

func (f *fakeRemote) setPayloads(entity model.EntityType, payloads []map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[entity] = payloads
}

// --- Fake stores ---

type fakeRecordStore struct {
	mu        sync.Mutex
	records   map[model.EntityType]map[string]*model.ResourceRecord
	mergeErr  error
	merges    int
	onMerge   func(batch int)
	deletedAt map[string]time.Time
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{
		records:   make(map[model.EntityType]map[string]*model.ResourceRecord),
		deletedAt: make(map[string]time.Time),
	}
}

func (s *fakeRecordStore) MergeBatch(_ context.Context, entity model.EntityType, records []model.RemoteRecord, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.merges++
	if s.onMerge != nil {
		s.onMerge(s.merges)
	}
	if s.mergeErr != nil {
		return s.mergeErr
	}

	schema, err := model.LookupSchema(entity)
	if err != nil {
		return err
	}
	if s.records[entity] == nil {
		s.records[entity] = make(map[string]*model.ResourceRecord)
	}
	for _, rec := range records {
		known, custom := schema.Split(rec.Fields)
		stored := s.records[entity][rec.ID]
		var existing map[string]model.FieldSnapshot
		first := syncedAt
		if stored != nil {
			existing = stored.CustomFields
			first = stored.FirstSyncedAt
		}
		s.records[entity][rec.ID] = &model.ResourceRecord{
			ID:            rec.ID,
			EntityType:    entity,
			KnownFields:   known,
			CustomFields:  model.MergeCustomFields(existing, custom, syncedAt),
			RawPayload:    rec.Raw,
			FirstSyncedAt: first,
			LastSyncedAt:  syncedAt,
		}
	}
	return nil
}

func (s *fakeRecordStore) Get(_ context.Context, entity model.EntityType, id string) (*model.ResourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[entity][id], nil
}

func (s *fakeRecordStore) Count(_ context.Context, entity model.EntityType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[entity]), nil
}

func (s *fakeRecordStore) MarkDeletedExcept(_ context.Context, entity model.EntityType, keep map[string]struct{}, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for id, rec := range s.records[entity] {
		if _, ok := keep[id]; ok || rec.IsDeleted {
			continue
		}
		rec.IsDeleted = true
		s.deletedAt[id] = at
		n++
	}
	return n, nil
}

func (s *fakeRecordStore) PurgeDeprecated(context.Context, model.EntityType, time.Time) (int, error) {
	return 0, nil
}

type fakeWatermarkStore struct {
	mu  sync.Mutex
	wms map[model.EntityType]model.SyncWatermark
}

func newFakeWatermarkStore() *fakeWatermarkStore {
	return &fakeWatermarkStore{wms: make(map[model.EntityType]model.SyncWatermark)}
}

func (s *fakeWatermarkStore) Get(_ context.Context, entity model.EntityType) (*model.SyncWatermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.wms[entity]
	if !ok {
		return nil, nil
	}
	return &wm, nil
}

func (s *fakeWatermarkStore) Advance(_ context.Context, wm model.SyncWatermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.wms[wm.EntityType]; ok && wm.LastSuccessfulSyncAt.Before(prev.LastSuccessfulSyncAt) {
		return nil
	}
	s.wms[wm.EntityType] = wm
	return nil
}

func (s *fakeWatermarkStore) List(context.Context) ([]model.SyncWatermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SyncWatermark
	for _, wm := range s.wms {
		out = append(out, wm)
	}
	return out, nil
}

type fakeRunStore struct {
	mu   sync.Mutex
	runs map[string]model.SyncRun
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[string]model.SyncRun)}
}

func (s *fakeRunStore) Start(_ context.Context, run model.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *fakeRunStore) Finish(_ context.Context, run model.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("run %s not started", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

func (s *fakeRunStore) List(_ context.Context, entity model.EntityType, _ int) ([]model.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SyncRun
	for _, r := range s.runs {
		if entity == "" || r.EntityType == entity {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- Fake cache ---

type mapCache struct {
	mu   sync.Mutex
	recs map[string]model.RemoteRecord
}

func newMapCache() *mapCache {
	return &mapCache{recs: make(map[string]model.RemoteRecord)}
}

func (c *mapCache) Get(entity model.EntityType, id string) (*model.RemoteRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.recs[string(entity)+"/"+id]
	if !ok {
		return nil, false
	}
	return &rec, true
}

func (c *mapCache) Set(rec model.RemoteRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs[string(rec.EntityType)+"/"+rec.ID] = rec
}
