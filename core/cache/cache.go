// Package cache provides a concurrent key/value cache with LRU eviction,
// size and count bounds, absolute and sliding TTLs, background sweeping,
// and optional per-scope envelope encryption derived from a master key.
package cache

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Cache errors.
var (
	// ErrEntryTooLarge is returned by Set when a value exceeds MaxBytes on
	// its own.
	ErrEntryTooLarge = errors.New("cache entry exceeds size limit")

	// ErrIntegrity is returned by Get when an encrypted entry fails
	// authentication.
	ErrIntegrity = errors.New("cache entry failed integrity check")

	// ErrScopeMissing is returned when entitlement is enabled but no scope
	// can be determined.
	ErrScopeMissing = errors.New("no entitlement scope available")

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("cache is closed")
)

// Config tunes a Cache. The zero value is an unbounded, unencrypted cache
// with manual sweeping.
type Config struct {
	// MaxEntries bounds the entry count; zero means unbounded.
	MaxEntries int

	// MaxBytes bounds the total stored value bytes; zero means unbounded.
	MaxBytes int64

	// SweepInterval is the cadence of the background expiry sweep. Zero
	// means sweeping happens only on access and via SweepExpired.
	SweepInterval time.Duration

	// DefaultAbsoluteTTL applies to entries set without an explicit
	// absolute expiration. Zero means no default.
	DefaultAbsoluteTTL time.Duration

	// DefaultSlidingTTL applies to entries set without an explicit sliding
	// window. Zero means no default.
	DefaultSlidingTTL time.Duration

	// EntitlementEnabled turns on per-scope envelope encryption. Requires
	// MasterKey and EntitlementProvider.
	EntitlementEnabled bool

	// MasterKey is the root key for scope key derivation.
	MasterKey []byte

	// EntitlementProvider returns the caller's current scope.
	EntitlementProvider func() string
}

// EntryOption customizes one Set call.
type EntryOption func(*entryOpts)

type entryOpts struct {
	absolute    time.Time
	absoluteTTL time.Duration
	sliding     time.Duration
	scope       string
	scopeSet    bool
}

// WithAbsoluteExpiration sets a wall-clock deadline.
func WithAbsoluteExpiration(t time.Time) EntryOption {
	return func(o *entryOpts) { o.absolute = t }
}

// WithTTL sets an absolute deadline relative to now.
func WithTTL(d time.Duration) EntryOption {
	return func(o *entryOpts) { o.absoluteTTL = d }
}

// WithSlidingExpiration sets a sliding window extended on each Get.
func WithSlidingExpiration(d time.Duration) EntryOption {
	return func(o *entryOpts) { o.sliding = d }
}

// WithScope overrides the entitlement provider's scope for this entry.
func WithScope(scope string) EntryOption {
	return func(o *entryOpts) { o.scope = scope; o.scopeSet = true }
}

// entry is one cached value. The cache owns value buffers; readers get
// defensive copies.
type entry struct {
	key           string
	value         []byte
	size          int64
	absDeadline   time.Time // zero = none
	slidingWindow time.Duration
	slideDeadline time.Time
	lastAccess    time.Time
	scope         string
	encrypted     bool
}

func (e *entry) expired(now time.Time) bool {
	if !e.absDeadline.IsZero() && now.After(e.absDeadline) {
		return true
	}
	if e.slidingWindow > 0 && now.After(e.slideDeadline) {
		return true
	}
	return false
}

// Cache is safe for concurrent use by multiple goroutines.
type Cache struct {
	mu        sync.Mutex
	cfg       Config
	entries   map[string]*list.Element
	lru       *list.List // front = most recently used
	sizeBytes int64
	scopeKeys map[string][]byte
	sweep     *time.Timer
	closed    bool
}

// New creates a cache from cfg.
func New(cfg Config) (*Cache, error) {
	if cfg.EntitlementEnabled && len(cfg.MasterKey) == 0 {
		return nil, errors.New("entitlement requires a master key")
	}
	c := &Cache{
		cfg:       cfg,
		entries:   make(map[string]*list.Element),
		lru:       list.New(),
		scopeKeys: make(map[string][]byte),
	}
	return c, nil
}

// Close stops the sweep timer. A sweep already running is drained before
// Close returns.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.sweep != nil {
		c.sweep.Stop()
		c.sweep = nil
	}
	return nil
}

// currentScope resolves the scope for an operation.
func (c *Cache) currentScope(o *entryOpts) (string, error) {
	if o != nil && o.scopeSet {
		return o.scope, nil
	}
	if c.cfg.EntitlementProvider != nil {
		return c.cfg.EntitlementProvider(), nil
	}
	if c.cfg.EntitlementEnabled {
		return "", ErrScopeMissing
	}
	return "", nil
}

// Set stores value under key. When entitlement is enabled the value is
// envelope-encrypted under the entry's scope key before it is stored.
func (c *Cache) Set(key string, value []byte, opts ...EntryOption) error {
	var o entryOpts
	for _, opt := range opts {
		opt(&o)
	}

	scope, err := c.currentScope(&o)
	if err != nil {
		return err
	}

	stored := append([]byte(nil), value...)
	encrypted := false
	if c.cfg.EntitlementEnabled {
		stored, err = c.seal(scope, stored)
		if err != nil {
			return err
		}
		encrypted = true
	}
	size := int64(len(stored))
	if c.cfg.MaxBytes > 0 && size > c.cfg.MaxBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrEntryTooLarge, size, c.cfg.MaxBytes)
	}

	now := time.Now()
	e := &entry{
		key:        key,
		value:      stored,
		size:       size,
		lastAccess: now,
		scope:      scope,
		encrypted:  encrypted,
	}
	switch {
	case !o.absolute.IsZero():
		e.absDeadline = o.absolute
	case o.absoluteTTL > 0:
		e.absDeadline = now.Add(o.absoluteTTL)
	case c.cfg.DefaultAbsoluteTTL > 0:
		e.absDeadline = now.Add(c.cfg.DefaultAbsoluteTTL)
	}
	window := o.sliding
	if window == 0 {
		window = c.cfg.DefaultSlidingTTL
	}
	if window > 0 {
		e.slidingWindow = window
		e.slideDeadline = now.Add(window)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	c.evictForLocked(size)
	el := c.lru.PushFront(e)
	c.entries[key] = el
	c.sizeBytes += size
	c.scheduleSweepLocked()
	return nil
}

// Get returns a copy of the value stored under key. Misses, expired
// entries, and wrong-scope reads all report absence; only integrity
// failures surface as errors.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	var scope string
	if c.cfg.EntitlementEnabled {
		var err error
		scope, err = c.currentScope(nil)
		if err != nil {
			return nil, false, err
		}
	}

	c.mu.Lock()
	el, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return nil, false, nil
	}
	e := el.Value.(*entry)
	now := time.Now()
	if e.expired(now) {
		c.removeLocked(el)
		c.mu.Unlock()
		return nil, false, nil
	}
	if c.cfg.EntitlementEnabled && e.scope != scope {
		// Wrong-scope reads are indistinguishable from absence.
		c.mu.Unlock()
		return nil, false, nil
	}

	c.lru.MoveToFront(el)
	e.lastAccess = now
	if e.slidingWindow > 0 {
		e.slideDeadline = now.Add(e.slidingWindow)
	}
	stored := e.value
	encrypted := e.encrypted
	c.mu.Unlock()

	if encrypted {
		plain, err := c.open(scope, stored)
		if err != nil {
			return nil, false, err
		}
		return plain, true, nil
	}
	return append([]byte(nil), stored...), true, nil
}

// Remove deletes key. Returns whether it was present.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

// SetMany stores several entries with shared options. Equivalent to a
// sequence of Set calls in map iteration order; not atomic across keys.
func (c *Cache) SetMany(entries map[string][]byte, opts ...EntryOption) error {
	for key, value := range entries {
		if err := c.Set(key, value, opts...); err != nil {
			return err
		}
	}
	return nil
}

// GetMany returns the present, unexpired, scope-visible subset of keys.
func (c *Cache) GetMany(keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, ok, err := c.Get(key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = value
		}
	}
	return out, nil
}

// RemoveMany deletes the given keys and returns how many were present.
func (c *Cache) RemoveMany(keys []string) int {
	count := 0
	for _, key := range keys {
		if c.Remove(key) {
			count++
		}
	}
	return count
}

// SweepExpired removes every expired entry and returns the count.
func (c *Cache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked()
}

func (c *Cache) sweepLocked() int {
	now := time.Now()
	removed := 0
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*entry).expired(now) {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.sizeBytes = 0
}

// SizeBytes returns the total stored bytes.
func (c *Cache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sizeBytes
}

// EntryCount returns the number of entries.
func (c *Cache) EntryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// removeLocked unlinks an entry. Caller holds c.mu.
func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.lru.Remove(el)
	delete(c.entries, e.key)
	c.sizeBytes -= e.size
}

// evictForLocked makes room for an incoming entry of the given size by
// evicting from the LRU end. Caller holds c.mu.
func (c *Cache) evictForLocked(incoming int64) {
	for {
		overCount := c.cfg.MaxEntries > 0 && c.lru.Len()+1 > c.cfg.MaxEntries
		overBytes := c.cfg.MaxBytes > 0 && c.sizeBytes+incoming > c.cfg.MaxBytes
		if !overCount && !overBytes {
			return
		}
		back := c.lru.Back()
		if back == nil {
			return
		}
		c.removeLocked(back)
	}
}

// scheduleSweepLocked arms the single-shot sweep timer; repeated Sets
// while one is pending coalesce into it. Caller holds c.mu.
func (c *Cache) scheduleSweepLocked() {
	if c.cfg.SweepInterval <= 0 || c.sweep != nil || c.closed {
		return
	}
	c.sweep = time.AfterFunc(c.cfg.SweepInterval, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.sweep = nil
		if c.closed {
			return
		}
		c.sweepLocked()
		if c.lru.Len() > 0 {
			c.scheduleSweepLocked()
		}
	})
}
