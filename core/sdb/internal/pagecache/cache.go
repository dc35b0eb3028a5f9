// Package pagecache provides a capacity-bounded LRU cache over a page
// source, with an optional sequential-access detector that prefetches a
// bounded window of following pages.
package pagecache

import (
	"container/list"
	"sync"

	"github.com/FocuswithJustin/sharc/core/sdb/internal/pagesource"
)

// Config tunes the cache.
type Config struct {
	// Capacity is the maximum number of cached pages. Zero disables
	// caching entirely (the cache degenerates to a pass-through).
	Capacity int

	// SequentialThreshold is how many strictly consecutive page requests
	// arm the prefetcher. Zero disables prefetch.
	SequentialThreshold int

	// PrefetchDepth is how many following pages a triggered prefetch
	// loads. Zero disables prefetch.
	PrefetchDepth int
}

// DefaultConfig returns the standard cache configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:            64,
		SequentialThreshold: 3,
		PrefetchDepth:       8,
	}
}

// Stats counts cache activity.
type Stats struct {
	Hits       int64
	Misses     int64
	Evictions  int64
	Prefetches int64
}

type entry struct {
	pageNum uint32
	data    []byte
}

// Cache is an LRU page cache wrapping an inner source. Cached entries hold
// private copies of page bytes, so spans returned to callers stay valid
// across evictions.
type Cache struct {
	mu      sync.Mutex
	inner   pagesource.Source
	config  Config
	entries map[uint32]*list.Element
	lru     *list.List // front = most recently used
	recent  []uint32   // ring of recent page numbers for the detector
	stats   Stats
}

// New wraps inner with an LRU cache.
func New(inner pagesource.Source, config Config) *Cache {
	return &Cache{
		inner:   inner,
		config:  config,
		entries: make(map[uint32]*list.Element),
		lru:     list.New(),
	}
}

// PageSize returns the inner source's page size.
func (c *Cache) PageSize() int { return c.inner.PageSize() }

// PageCount returns the inner source's page count.
func (c *Cache) PageCount() uint32 { return c.inner.PageCount() }

// Page returns page n, from cache when possible. On a miss the page is
// fetched from the inner source and inserted at MRU, evicting the LRU
// entry when at capacity.
func (c *Cache) Page(n uint32) ([]byte, error) {
	if c.config.Capacity <= 0 {
		return c.inner.Page(n)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.noteAccess(n)

	if el, ok := c.entries[n]; ok {
		c.lru.MoveToFront(el)
		c.stats.Hits++
		c.maybePrefetch(n)
		return el.Value.(*entry).data, nil
	}

	c.stats.Misses++
	data, err := c.inner.Page(n)
	if err != nil {
		return nil, err
	}
	c.insert(n, data)
	c.maybePrefetch(n)
	return c.entries[n].Value.(*entry).data, nil
}

// Close closes the inner source.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.entries = make(map[uint32]*list.Element)
	c.lru.Init()
	c.mu.Unlock()
	return c.inner.Close()
}

// Invalidate drops any cached copy of page n. The write engine calls this
// after mutating a page.
func (c *Cache) Invalidate(n uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[n]; ok {
		c.lru.Remove(el)
		delete(c.entries, n)
	}
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint32]*list.Element)
	c.lru.Init()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Len returns the number of cached pages.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// insert stores a private copy of data at MRU, evicting as needed.
// Caller holds c.mu.
func (c *Cache) insert(n uint32, data []byte) {
	for c.lru.Len() >= c.config.Capacity {
		back := c.lru.Back()
		if back == nil {
			break
		}
		c.lru.Remove(back)
		delete(c.entries, back.Value.(*entry).pageNum)
		c.stats.Evictions++
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	c.entries[n] = c.lru.PushFront(&entry{pageNum: n, data: copied})
}

// noteAccess records n in the recent-access ring. Caller holds c.mu.
func (c *Cache) noteAccess(n uint32) {
	threshold := c.config.SequentialThreshold
	if threshold <= 0 || c.config.PrefetchDepth <= 0 {
		return
	}
	c.recent = append(c.recent, n)
	if len(c.recent) > threshold {
		c.recent = c.recent[len(c.recent)-threshold:]
	}
}

// maybePrefetch loads the window following n when the last accesses were
// strictly increasing by one. Prefetch is best-effort: fetch failures are
// ignored, and the page just served is never displaced because it sits at
// MRU. Caller holds c.mu.
func (c *Cache) maybePrefetch(n uint32) {
	threshold := c.config.SequentialThreshold
	if threshold <= 0 || c.config.PrefetchDepth <= 0 || len(c.recent) < threshold {
		return
	}
	for i := 1; i < len(c.recent); i++ {
		if c.recent[i] != c.recent[i-1]+1 {
			return
		}
	}

	// Cap the window so the page just served (at MRU) cannot drift to the
	// LRU end and be displaced by its own prefetch.
	depth := c.config.PrefetchDepth
	if depth > c.config.Capacity-1 {
		depth = c.config.Capacity - 1
	}

	count := c.inner.PageCount()
	for i := 1; i <= depth; i++ {
		next := n + uint32(i)
		if next > count {
			break
		}
		if _, ok := c.entries[next]; ok {
			continue
		}
		data, err := c.inner.Page(next)
		if err != nil {
			break
		}
		c.insert(next, data)
		c.stats.Prefetches++
	}
	// Restart the detector so one burst triggers one prefetch window.
	c.recent = c.recent[:0]
}
