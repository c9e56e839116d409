package noaa

import (
	"context"
	"fmt"
	"sync"

	"github.com/rivermark/streamflow-pull/internal/observability"
)

// CachedMapper wraps a StationMapper with an in-memory LRU cache. Mappings
// change only through operator bulk loads, so hits skip a database
// round-trip on every station of every run.
type CachedMapper struct {
	inner   StationMapper
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedMapper creates a cache decorator around a mapper.
func NewCachedMapper(inner StationMapper, maxEntries int, metrics *observability.Metrics) *CachedMapper {
	return &CachedMapper{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

// TranslateStation serves translations from the cache when possible. Only
// successful lookups are cached: a mapping loaded after an unmapped miss
// takes effect on the next run, without a restart.
func (c *CachedMapper) TranslateStation(ctx context.Context, sourceAgency, sourceID, targetAgency string) (string, error) {
	key := fmt.Sprintf("%s|%s|%s", sourceAgency, sourceID, targetAgency)
	if targetID, ok := c.cache.get(key); ok {
		c.metrics.MappingCache.WithLabelValues("hit").Inc()
		return targetID, nil
	}
	c.metrics.MappingCache.WithLabelValues("miss").Inc()

	targetID, err := c.inner.TranslateStation(ctx, sourceAgency, sourceID, targetAgency)
	if err != nil {
		return "", err
	}
	c.cache.put(key, targetID)
	return targetID, nil
}

// lruCache is a simple thread-safe LRU cache for identifier translations.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value string
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
