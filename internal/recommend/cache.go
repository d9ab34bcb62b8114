package recommend

import (
	"container/list"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/metrics"
)

// DefaultCacheTTL is how long a computed recommendation list stays fresh.
const DefaultCacheTTL = 24 * time.Hour

// Entry is one user's cached ranking.
type Entry struct {
	BookIDs  []string
	Source   string
	StoredAt time.Time
}

// CacheConfig configures Cache. A zero Capacity leaves the cache unbounded; a positive
// Capacity evicts the least recently used user once exceeded.
type CacheConfig struct {
	TTL      time.Duration
	Capacity int
	Clock    func() time.Time
}

type cacheItem struct {
	userID string
	entry  Entry
}

// Cache holds per-user rankings with a fixed time to live. Absent and expired entries
// are indistinguishable to callers.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	clock    func() time.Time
	items    map[string]*list.Element
	order    *list.List
	pending  map[string]uint64
	seq      uint64
}

// NewCache constructs an empty Cache.
func NewCache(cfg CacheConfig) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	capacity := cfg.Capacity
	if capacity < 0 {
		capacity = 0
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		ttl:      ttl,
		capacity: capacity,
		clock:    clock,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		pending:  make(map[string]uint64),
	}
}

// Get returns the fresh entry for userID, if any. Expired entries are dropped on read.
func (c *Cache) Get(userID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[userID]
	if !ok {
		metrics.RecommendationCacheLookups.WithLabelValues("miss").Inc()
		return Entry{}, false
	}
	item := element.Value.(*cacheItem)
	if !c.clock().Before(item.entry.StoredAt.Add(c.ttl)) {
		c.removeElement(element)
		metrics.RecommendationCacheLookups.WithLabelValues("expired").Inc()
		return Entry{}, false
	}
	c.order.MoveToFront(element)
	metrics.RecommendationCacheLookups.WithLabelValues("hit").Inc()
	return cloneEntry(item.entry), true
}

// Reserve marks the start of a computation for userID. A Clear or ClearAll issued before the
// matching Commit voids the reservation.
func (c *Cache) Reserve(userID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.pending[userID] = c.seq
	return c.seq
}

// Commit stores bookIDs if reservation is still current and reports whether it did. A voided
// reservation still returns the entry so the caller can serve it once.
func (c *Cache) Commit(userID string, reservation uint64, bookIDs []string, source string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.pending[userID]; !ok || current != reservation {
		return Entry{
			BookIDs:  append([]string(nil), bookIDs...),
			Source:   source,
			StoredAt: c.clock(),
		}, false
	}
	delete(c.pending, userID)
	return c.store(userID, bookIDs, source), true
}

// Release abandons reservation without storing anything.
func (c *Cache) Release(userID string, reservation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[userID] == reservation {
		delete(c.pending, userID)
	}
}

// store replaces the entry for userID, stamped with the current time. Callers hold mu.
func (c *Cache) store(userID string, bookIDs []string, source string) Entry {
	entry := Entry{
		BookIDs:  append([]string(nil), bookIDs...),
		Source:   source,
		StoredAt: c.clock(),
	}
	if element, ok := c.items[userID]; ok {
		element.Value.(*cacheItem).entry = entry
		c.order.MoveToFront(element)
		return cloneEntry(entry)
	}
	c.items[userID] = c.order.PushFront(&cacheItem{userID: userID, entry: entry})
	if c.capacity > 0 {
		for c.order.Len() > c.capacity {
			c.removeElement(c.order.Back())
			metrics.RecommendationCacheEvictions.Inc()
		}
	}
	return cloneEntry(entry)
}

// Clear drops the entry for userID and voids any reservation for it.
func (c *Cache) Clear(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, userID)
	if element, ok := c.items[userID]; ok {
		c.removeElement(element)
	}
}

// ClearAll drops every entry and voids every reservation.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.pending)
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Len reports the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) removeElement(element *list.Element) {
	item := element.Value.(*cacheItem)
	delete(c.items, item.userID)
	c.order.Remove(element)
}

func cloneEntry(entry Entry) Entry {
	entry.BookIDs = append([]string(nil), entry.BookIDs...)
	return entry
}
