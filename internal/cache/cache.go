// Package cache implements LRU, a double-bounded content cache: eviction is
// triggered by either a count ceiling or a byte-budget ceiling, whichever is
// hit first. It is grounded on osakka-entitydb's BoundedEntityCache
// (container/list + sync.RWMutex + sync/atomic counters), adapted from
// caching whole entities to caching raw inflated file buffers, and adding
// the 10%-of-maxBytes single-entry admission ceiling from §4.6.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// entry is the value stored in the LRU's map, with the linked-list element
// backing its recency position.
type entry struct {
	key     string
	content []byte
	elem    *list.Element
}

// Cache is a key -> byte-buffer store bounded by both an entry count and a
// total byte size. It is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	order      *list.List // front = most recently used
	maxEntries int
	maxBytes   int64
	bytes      int64

	hits      int64
	misses    int64
	evictions int64
	rejected  int64 // oversize puts rejected outright (§4.6 "rejects buffers exceeding maxBytes/10")
}

// New returns an empty Cache bounded by maxEntries and maxBytes. Either
// bound may be zero to mean "unbounded on that axis", though in practice
// both are configured (cache.maxEntries, cache.maxMemoryMB).
func New(maxEntries int, maxBytes int64) *Cache {
	return &Cache{
		entries:    make(map[string]*entry),
		order:      list.New(),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
	}
}

// Get returns the cached content for key, moving it to the front of the
// recency list on a hit.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&c.hits, 1)
	c.order.MoveToFront(e.elem)
	return e.content, true
}

// Put admits content under key, evicting least-recently-used entries until
// both the count and byte bounds hold. A buffer whose size exceeds 10% of
// maxBytes is never admitted (§4.6, CacheEntry invariant); Put reports
// whether admission succeeded.
func (c *Cache) Put(key string, content []byte) bool {
	size := int64(len(content))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxBytes > 0 && size > c.maxBytes/10 {
		atomic.AddInt64(&c.rejected, 1)
		return false
	}

	if existing, ok := c.entries[key]; ok {
		c.order.Remove(existing.elem)
		delete(c.entries, key)
		c.bytes -= int64(len(existing.content))
	}

	c.evictUntilFits(size)

	elem := c.order.PushFront(key)
	c.entries[key] = &entry{key: key, content: content, elem: elem}
	c.bytes += size
	return true
}

// evictUntilFits removes least-recently-used entries until admitting an
// entry of incomingSize bytes would not violate either bound. Caller must
// hold c.mu.
func (c *Cache) evictUntilFits(incomingSize int64) {
	for c.order.Len() > 0 {
		overCount := c.maxEntries > 0 && c.order.Len()+1 > c.maxEntries
		overBytes := c.maxBytes > 0 && c.bytes+incomingSize > c.maxBytes
		if !overCount && !overBytes {
			return
		}
		back := c.order.Back()
		key := back.Value.(string)
		e := c.entries[key]
		c.order.Remove(back)
		delete(c.entries, key)
		c.bytes -= int64(len(e.content))
		atomic.AddInt64(&c.evictions, 1)
	}
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}

// Bytes returns the current total cached byte size.
func (c *Cache) Bytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bytes
}

// Stats is a snapshot of cache counters, for the /stats consumer contract.
type Stats struct {
	Entries   int
	Bytes     int64
	Hits      int64
	Misses    int64
	Evictions int64
	Rejected  int64
}

// GetStats returns a snapshot of the cache's counters.
func (c *Cache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Entries:   c.order.Len(),
		Bytes:     c.bytes,
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evictions),
		Rejected:  atomic.LoadInt64(&c.rejected),
	}
}
