// Package cache implements the RecordCache port on top of an httpcache.Cache
// byte store, adding per-entry expiry.
package cache

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
	"github.com/PDI-Technologies/ns-sub003/internal/domain/port/driven"
	"github.com/PDI-Technologies/ns-sub003/internal/metrics"
)

// Compile-time interface satisfaction check.
var _ driven.RecordCache = (*RecordCache)(nil)

// DefaultTTL is how long a fetched payload stays valid.
const DefaultTTL = 24 * time.Hour

type entry struct {
	StoredAt time.Time       `json:"stored_at"`
	Raw      json.RawMessage `json:"raw"`
}

// RecordCache keys payloads by (entity type, id). Expired entries are removed
// on read.
type RecordCache struct {
	store   httpcache.Cache
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
}

// Option configures a RecordCache.
type Option func(*RecordCache)

// WithStore replaces the in-memory backend.
func WithStore(store httpcache.Cache) Option {
	return func(c *RecordCache) { c.store = store }
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *RecordCache) { c.now = now }
}

// WithMetrics records hits and misses on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *RecordCache) { c.metrics = m }
}

// NewRecordCache creates a RecordCache. A non-positive ttl uses DefaultTTL.
func NewRecordCache(ttl time.Duration, opts ...Option) *RecordCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &RecordCache{
		store: httpcache.NewMemoryCache(),
		ttl:   ttl,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached record if present and not expired.
func (c *RecordCache) Get(entity model.EntityType, id string) (*model.RemoteRecord, bool) {
	key := cacheKey(entity, id)

	data, ok := c.store.Get(key)
	if !ok {
		c.metrics.RecordCacheLookup(false)
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		slog.Warn("dropping unreadable cache entry", "key", key, "error", err)
		c.store.Delete(key)
		c.metrics.RecordCacheLookup(false)
		return nil, false
	}
	if c.now().Sub(e.StoredAt) >= c.ttl {
		c.store.Delete(key)
		c.metrics.RecordCacheLookup(false)
		return nil, false
	}

	rec, err := model.DecodeRemoteRecord(entity, id, e.Raw)
	if err != nil {
		c.store.Delete(key)
		c.metrics.RecordCacheLookup(false)
		return nil, false
	}

	c.metrics.RecordCacheLookup(true)
	return rec, true
}

// Set stores the record's raw payload.
func (c *RecordCache) Set(record model.RemoteRecord) {
	data, err := json.Marshal(entry{StoredAt: c.now(), Raw: record.Raw})
	if err != nil {
		slog.Warn("skipping cache write", "entity", record.EntityType, "id", record.ID, "error", err)
		return
	}
	c.store.Set(cacheKey(record.EntityType, record.ID), data)
}

func cacheKey(entity model.EntityType, id string) string {
	return string(entity) + "/" + id
}
