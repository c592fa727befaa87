package history

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vjranagit/plotbuffer/pkg/types"
)

// RangeCache is an LRU cache of fetch results keyed by series and range.
type RangeCache struct {
	capacity int
	ttl      time.Duration
	mu       sync.Mutex
	cache    map[string]*cacheEntry
	lru      *list.List
}

type cacheEntry struct {
	key     string
	points  []*types.Point
	stored  time.Time
	element *list.Element
}

// NewRangeCache creates a cache holding up to capacity fetch results for ttl.
func NewRangeCache(capacity int, ttl time.Duration) *RangeCache {
	return &RangeCache{
		capacity: capacity,
		ttl:      ttl,
		cache:    make(map[string]*cacheEntry),
		lru:      list.New(),
	}
}

// Get returns the cached batch for opts, if present and fresh.
func (rc *RangeCache) Get(opts types.LoadOptions) ([]*types.Point, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	key := cacheKey(opts)
	entry, exists := rc.cache[key]
	if !exists {
		return nil, false
	}

	if time.Since(entry.stored) > rc.ttl {
		rc.removeLocked(key)
		return nil, false
	}

	rc.lru.MoveToFront(entry.element)
	return entry.points, true
}

// Put stores a fetch result, evicting the least recently used entry when full.
func (rc *RangeCache) Put(opts types.LoadOptions, points []*types.Point) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	key := cacheKey(opts)
	if entry, exists := rc.cache[key]; exists {
		entry.points = points
		entry.stored = time.Now()
		rc.lru.MoveToFront(entry.element)
		return
	}

	entry := &cacheEntry{key: key, points: points, stored: time.Now()}
	entry.element = rc.lru.PushFront(entry)
	rc.cache[key] = entry

	if rc.lru.Len() > rc.capacity {
		if oldest := rc.lru.Back(); oldest != nil {
			rc.removeLocked(oldest.Value.(*cacheEntry).key)
		}
	}
}

func (rc *RangeCache) removeLocked(key string) {
	if entry, exists := rc.cache[key]; exists {
		rc.lru.Remove(entry.element)
		delete(rc.cache, key)
	}
}

// Clear drops every entry.
func (rc *RangeCache) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.cache = make(map[string]*cacheEntry)
	rc.lru = list.New()
}

// Size returns the number of cached results.
func (rc *RangeCache) Size() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.cache)
}

func cacheKey(opts types.LoadOptions) string {
	return fmt.Sprintf("%s/%f/%f", opts.Series, opts.Range.Min, opts.Range.Max)
}

// CachedStore wraps a Store with a fetch cache. Appends invalidate the whole
// cache: a range result must never miss points that arrived after it was
// cached.
type CachedStore struct {
	store  *Store
	cache  *RangeCache
	mu     sync.Mutex
	hits   uint64
	misses uint64
}

// NewCachedStore wraps store with a range cache.
func NewCachedStore(store *Store, capacity int, ttl time.Duration) *CachedStore {
	return &CachedStore{
		store: store,
		cache: NewRangeCache(capacity, ttl),
	}
}

// Append invalidates the cache and passes through to the store.
func (cs *CachedStore) Append(ctx context.Context, series string, pts []*types.Point) error {
	cs.cache.Clear()
	return cs.store.Append(ctx, series, pts)
}

// Fetch implements series.Fetcher, consulting the cache first.
func (cs *CachedStore) Fetch(ctx context.Context, opts types.LoadOptions) ([]*types.Point, error) {
	if points, ok := cs.cache.Get(opts); ok {
		cs.mu.Lock()
		cs.hits++
		cs.mu.Unlock()
		return points, nil
	}

	cs.mu.Lock()
	cs.misses++
	cs.mu.Unlock()

	points, err := cs.store.Fetch(ctx, opts)
	if err != nil {
		return nil, err
	}

	cs.cache.Put(opts, points)
	return points, nil
}

// Bounds passes through to the store.
func (cs *CachedStore) Bounds(series string) (types.Range, bool) {
	return cs.store.Bounds(series)
}

// Close closes the underlying store.
func (cs *CachedStore) Close() error {
	return cs.store.Close()
}

// HitRate returns the cache hit rate as a percentage.
func (cs *CachedStore) HitRate() float64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	total := cs.hits + cs.misses
	if total == 0 {
		return 0.0
	}
	return float64(cs.hits) / float64(total) * 100.0
}
